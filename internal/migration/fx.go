package migration

import (
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/smallbiznis/keygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log.Named("migrations").Info("applying schema", zap.String("dialect", cfg.DBType))
		return Apply(conn, cfg.DBType)
	}),
)

// Apply brings the schema up to date. Postgres runs the versioned SQL
// migrations; other dialects fall back to model auto-migration.
func Apply(conn *gorm.DB, dialect string) error {
	if dialect != db.DialectPostgres {
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
