package redemption

import (
	"github.com/smallbiznis/keygate/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("redemption.service",
	fx.Provide(
		func(l *ratelimit.Limiter) Limiter { return l },
		New,
	),
)
