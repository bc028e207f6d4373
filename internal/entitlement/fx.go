package entitlement

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/redemption"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(
		newHub,
		newCache,
		newBroadcaster,
		func(p *redemption.Protocol) Redeemer { return p },
		NewState,
	),
	fx.Invoke(registerSessionListener),
)

func newHub(clk clock.Clock) *Hub {
	return NewHub(WithHubClock(clk.Now))
}

type backendParams struct {
	fx.In

	Lc     fx.Lifecycle
	Client *redis.Client `optional:"true"`
	Hub    *Hub
	Log    *zap.Logger
}

func newCache(p backendParams) Cache {
	if p.Client != nil {
		return NewRedisCache(p.Client, DefaultCacheTTL)
	}
	return NewMemoryCache(DefaultCacheTTL)
}

func newBroadcaster(p backendParams) Broadcaster {
	if p.Client == nil {
		return p.Hub
	}
	relay := NewRedisRelay(p.Client, p.Hub, p.Log)
	p.Lc.Append(fx.Hook{
		OnStart: relay.Start,
		OnStop:  relay.Stop,
	})
	return relay
}

func registerSessionListener(lc fx.Lifecycle, auth authdomain.Service, state *State) {
	var unsubscribe func()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			unsubscribe = auth.OnSessionChange(state.OnIdentityChange)
			return nil
		},
		OnStop: func(context.Context) error {
			if unsubscribe != nil {
				unsubscribe()
			}
			return nil
		},
	})
}
