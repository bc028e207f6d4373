package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Upsert writes the row keyed by user_id, overwriting active_until.
	Upsert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)
	Delete(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	CountExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
