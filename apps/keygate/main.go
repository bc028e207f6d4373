package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/smallbiznis/keygate/internal/migration"
	"github.com/smallbiznis/keygate/internal/observability"
	"github.com/smallbiznis/keygate/internal/scheduler"
	"github.com/smallbiznis/keygate/internal/server"
	"github.com/smallbiznis/keygate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface and every domain module it depends on
		server.Module,

		// Maintenance jobs, gated by SCHEDULER_ENABLED
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
