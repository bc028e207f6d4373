package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *AccessKey) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*AccessKey, error)
	FindByValue(ctx context.Context, db *gorm.DB, value string) (*AccessKey, error)
	// ClaimUnused marks the key used only while is_used is still false and
	// returns the number of affected rows.
	ClaimUnused(ctx context.Context, db *gorm.DB, id snowflake.ID, claim Claim) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AccessKey, error)
	DeleteUnused(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	DeleteCreatedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
	CountRedemptionsSince(ctx context.Context, db *gorm.DB, since time.Time, threshold int) ([]RedemptionCount, error)
}
