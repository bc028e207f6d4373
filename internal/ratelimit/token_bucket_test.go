package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.SetTime(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := bucket.Allow(ctx, "ingress:redeem:203.0.113.7", 0.01, 3)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i+1)
	}

	result, err := bucket.Allow(ctx, "ingress:redeem:203.0.113.7", 0.01, 3)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Positive(t, result.RetryAfter)

	other, err := bucket.Allow(ctx, "ingress:redeem:198.51.100.1", 0.01, 3)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestTokenBucketRejectsInvalidArguments(t *testing.T) {
	_, client := newTestRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 0, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 1, 0)
	assert.Error(t, err)
}
