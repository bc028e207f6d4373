// Package domain contains the per-user subscription record.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Subscription holds a user's entitlement window. There is at most one row per user.
type Subscription struct {
	UserID      snowflake.ID  `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	ActiveUntil time.Time     `gorm:"column:active_until;not null;index" json:"active_until"`
	SourceKeyID *snowflake.ID `gorm:"column:source_key_id" json:"source_key_id,omitempty"`
	UpdatedBy   *snowflake.ID `gorm:"column:updated_by" json:"updated_by,omitempty"`
	CreatedAt   time.Time     `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// IsActiveAt reports whether the entitlement covers t. The bound is exclusive.
func (s *Subscription) IsActiveAt(t time.Time) bool {
	return s != nil && t.Before(s.ActiveUntil)
}
