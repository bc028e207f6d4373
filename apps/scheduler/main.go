package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keygate/internal/accesskey"
	"github.com/smallbiznis/keygate/internal/cache"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/smallbiznis/keygate/internal/observability"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	"github.com/smallbiznis/keygate/internal/scheduler"
	"github.com/smallbiznis/keygate/internal/subscription"
	"github.com/smallbiznis/keygate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		accesskey.Module,
		subscription.Module,

		// Redis-backed job locks
		cache.Module,
		ratelimit.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	// Offset the node so IDs never collide with the API process.
	return snowflake.NewNode((cfg.SnowflakeNode + 512) % 1024)
}
