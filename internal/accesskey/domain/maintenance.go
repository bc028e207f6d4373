package domain

import (
	"context"
	"time"
)

// Maintenance covers the retention and audit work run by the scheduler.
type Maintenance interface {
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	SuspiciousRedeemers(ctx context.Context, since time.Time, threshold int) ([]RedemptionCount, error)
}
