package migration

import (
	"errors"

	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
	subscriptiondomain "github.com/smallbiznis/keygate/internal/subscription/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&authdomain.User{},
		&authdomain.Session{},
		&accesskeydomain.AccessKey{},
		&subscriptiondomain.Subscription{},
		&auditdomain.AuditLog{},
	}
}

// AutoMigrate creates or updates tables from the gorm models.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	return conn.AutoMigrate(Models()...)
}
