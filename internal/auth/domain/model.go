// Package domain contains core types for the auth service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Role is stored in users.role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a system user account.
type User struct {
	ID                  snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Email               string            `gorm:"column:email;type:text;not null;uniqueIndex" json:"email"`
	DisplayName         string            `gorm:"column:display_name;type:text;not null" json:"display_name"`
	PasswordHash        *string           `gorm:"column:password_hash;type:text" json:"-"`
	Role                Role              `gorm:"column:role;type:text;not null" json:"role"`
	LastPasswordChanged *time.Time        `gorm:"column:last_password_changed" json:"last_password_changed,omitempty"`
	Metadata            datatypes.JSONMap `gorm:"column:metadata;not null" json:"metadata"`
	CreatedAt           time.Time         `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// IsAdmin reports whether u holds the admin role. A nil user is never admin.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Session represents a persisted login session.
type Session struct {
	ID               snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index"`
	SessionTokenHash string       `gorm:"column:session_token_hash;type:text;not null;uniqueIndex"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:text"`
	ExpiresAt        time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null"`
	LastSeenAt       time.Time    `gorm:"column:last_seen_at;not null"`

	User *User `gorm:"-"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }
