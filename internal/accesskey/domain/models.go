// Package domain contains core types for single-use access keys.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AccessKey is a single-use code exchanged once for a subscription.
// IsUsed flips false -> true exactly once, through the conditional claim.
type AccessKey struct {
	ID            snowflake.ID  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Key           string        `gorm:"column:code;type:text;not null;uniqueIndex" json:"key"`
	DurationDays  int           `gorm:"column:duration_days;not null" json:"duration_days"`
	IsUsed        bool          `gorm:"column:is_used;not null;default:false" json:"is_used"`
	UsedBy        *snowflake.ID `gorm:"column:used_by;index:idx_access_keys_used_by_used_at" json:"used_by,omitempty"`
	UsedAt        *time.Time    `gorm:"column:used_at;index:idx_access_keys_used_by_used_at" json:"used_at,omitempty"`
	ExpiresAt     *time.Time    `gorm:"column:expires_at" json:"expires_at,omitempty"`
	AssignedEmail *string       `gorm:"column:assigned_email;type:text" json:"assigned_email,omitempty"`
	CreatedBy     *snowflake.ID `gorm:"column:created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time     `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (AccessKey) TableName() string { return "access_keys" }

// Claim is the patch applied when a key is consumed.
type Claim struct {
	UsedBy    snowflake.ID
	UsedAt    time.Time
	ExpiresAt time.Time
}

// RedemptionCount is the number of keys a user redeemed inside a window.
type RedemptionCount struct {
	UserID snowflake.ID `gorm:"column:used_by"`
	Total  int64        `gorm:"column:total"`
}

type ListFilter struct {
	Limit int
	Used  *bool
}
