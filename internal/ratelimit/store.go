package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrStoreContention = errors.New("rate limit entry update contention")

// Store persists entries per logical key.
// Update applies fn atomically with respect to other updates of the same key;
// an entry left empty by fn is removed.
type Store interface {
	Load(ctx context.Context, key string) (Entry, error)
	Update(ctx context.Context, key string, ttl time.Duration, fn func(*Entry)) (Entry, error)
	Delete(ctx context.Context, key string) error
}
