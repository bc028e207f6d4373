package auth

import (
	"github.com/smallbiznis/keygate/internal/auth/repository"
	"github.com/smallbiznis/keygate/internal/auth/service"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(func(l *ratelimit.Limiter) service.Limiter { return l }),
	fx.Provide(service.New),
)
