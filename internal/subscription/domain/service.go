package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Service is the administrative surface over subscriptions.
// Redemption writes through the credential store instead.
type Service interface {
	Get(ctx context.Context, userID snowflake.ID) (*Response, error)
	Set(ctx context.Context, req SetRequest) (*Response, error)
	Remove(ctx context.Context, userID snowflake.ID) error
	CountExpired(ctx context.Context) (int64, error)
}

type SetRequest struct {
	UserID      snowflake.ID `json:"-"`
	ActiveUntil time.Time    `json:"active_until"`
	UpdatedBy   snowflake.ID `json:"-"`
}

type Response struct {
	UserID      string    `json:"user_id"`
	ActiveUntil time.Time `json:"active_until"`
	Active      bool      `json:"active"`
	SourceKeyID *string   `json:"source_key_id"`
	UpdatedBy   *string   `json:"updated_by"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidActiveUntil = errors.New("invalid_active_until")
	ErrNotFound           = errors.New("not_found")
)
