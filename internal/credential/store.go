// Package credential defines the store contract used by key redemption.
package credential

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	subscriptiondomain "github.com/smallbiznis/keygate/internal/subscription/domain"
)

// ClaimPatch is applied by ConditionalClaimKey.
type ClaimPatch struct {
	UsedBy    snowflake.ID
	UsedAt    time.Time
	ExpiresAt time.Time
}

// ClaimResult reports whether the claim landed. Key is set only when AffectedRows is 1.
type ClaimResult struct {
	AffectedRows int64
	Key          *accesskeydomain.AccessKey
}

// Store holds access keys and subscriptions. ConditionalClaimKey is the only
// operation required to be linearizable and the only path that marks a key used.
type Store interface {
	// FindKeyByValue returns nil, nil when no key matches.
	FindKeyByValue(ctx context.Context, value string) (*accesskeydomain.AccessKey, error)
	ConditionalClaimKey(ctx context.Context, id snowflake.ID, patch ClaimPatch) (ClaimResult, error)
	UpsertSubscription(ctx context.Context, userID snowflake.ID, activeUntil time.Time, sourceKeyID snowflake.ID) error
	// GetSubscription returns nil, nil when the user has no row.
	GetSubscription(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error)
}
