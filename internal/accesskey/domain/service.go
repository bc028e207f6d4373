package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	MaxGenerateCount = 100
	DefaultListLimit = 100
)

// AllowedDurations are the entitlement lengths an administrator may mint.
var AllowedDurations = []int{1, 3, 30}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) ([]Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	Revoke(ctx context.Context, id string) error
}

type GenerateRequest struct {
	Count         int          `json:"count"`
	DurationDays  int          `json:"duration_days"`
	AssignedEmail string       `json:"assigned_email"`
	CreatedBy     snowflake.ID `json:"-"`
}

type ListRequest struct {
	Limit int   `form:"limit"`
	Used  *bool `form:"used"`
}

type Response struct {
	ID            string     `json:"id"`
	Key           string     `json:"key"`
	DurationDays  int        `json:"duration_days"`
	IsUsed        bool       `json:"is_used"`
	UsedBy        *string    `json:"used_by"`
	UsedAt        *time.Time `json:"used_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	AssignedEmail *string    `json:"assigned_email"`
	CreatedBy     *string    `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

var (
	ErrInvalidCount    = errors.New("invalid_count")
	ErrInvalidDuration = errors.New("invalid_duration")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidID       = errors.New("invalid_id")
	ErrNotFound        = errors.New("not_found")
	ErrAlreadyUsed     = errors.New("already_used")
	ErrKeyCollision    = errors.New("key_collision")
)

func IsAllowedDuration(days int) bool {
	for _, d := range AllowedDurations {
		if d == days {
			return true
		}
	}
	return false
}
