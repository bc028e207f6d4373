package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/smallbiznis/keygate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		config.NewRateLimitPolicyHolder,
		NewStore,
		newLimiter,
		NewIngressLimiter,
		NewLocker,
	),
)

type storeParams struct {
	fx.In

	Client *redis.Client `optional:"true"`
	Clock  clock.Clock
	Log    *zap.Logger
}

// NewStore prefers Redis so entries survive restarts and are shared between instances.
func NewStore(p storeParams) Store {
	if p.Client != nil {
		return NewRedisStore(p.Client, p.Log)
	}
	p.Log.Warn("rate limit entries are kept in memory and will not survive restarts")
	return NewMemoryStore(p.Clock.Now, p.Log)
}

func newLimiter(store Store, clk clock.Clock, holder *config.RateLimitPolicyHolder, m *metrics.Metrics, log *zap.Logger) *Limiter {
	return NewLimiter(store, clk, holder, m, log)
}
