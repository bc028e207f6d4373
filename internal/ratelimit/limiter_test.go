package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testPolicies() config.RateLimitPolicies {
	return config.RateLimitPolicies{
		Default: config.RateLimitPolicy{
			MaxAttempts:   5,
			Window:        15 * time.Minute,
			Block:         15 * time.Minute,
			MaxMultiplier: 3,
		},
		Sensitive: config.RateLimitPolicy{
			MaxAttempts:   3,
			Window:        10 * time.Minute,
			Block:         30 * time.Minute,
			MaxMultiplier: 4,
		},
	}
}

func newTestLimiter(t *testing.T) (*Limiter, *MemoryStore, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk.Now, zaptest.NewLogger(t))
	limiter := NewLimiter(store, clk, config.NewStaticRateLimitPolicyHolder(testPolicies()), nil, zaptest.NewLogger(t))
	return limiter, store, clk
}

func recordFailures(t *testing.T, l *Limiter, key string, n int, class Class) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, l.RecordAttempt(context.Background(), key, false, class))
	}
}

func TestBlocksAtThreshold(t *testing.T) {
	limiter, _, clk := newTestLimiter(t)
	ctx := context.Background()
	key := "key-activation:42"

	recordFailures(t, limiter, key, 4, ClassDefault)
	status, err := limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	recordFailures(t, limiter, key, 1, ClassDefault)
	status, err = limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.True(t, clk.Now().Add(15*time.Minute).Equal(status.Until))
}

func TestSuccessClearsBlock(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()
	key := "login:alice@example.com"

	recordFailures(t, limiter, key, 5, ClassDefault)
	status, err := limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	require.True(t, status.Blocked)

	require.NoError(t, limiter.RecordAttempt(ctx, key, true, ClassDefault))
	status, err = limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	// The attempt count restarts too.
	recordFailures(t, limiter, key, 4, ClassDefault)
	status, err = limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestBlockPersistsUntilExpiry(t *testing.T) {
	limiter, _, clk := newTestLimiter(t)
	ctx := context.Background()
	key := "signup:bob@example.com"

	recordFailures(t, limiter, key, 5, ClassDefault)

	clk.Advance(15*time.Minute - time.Millisecond)
	status, err := limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, status.Blocked)

	clk.Advance(time.Millisecond)
	status, err = limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestSlidingWindowDropsOldAttempts(t *testing.T) {
	limiter, _, clk := newTestLimiter(t)
	ctx := context.Background()
	key := "key-activation:7"

	recordFailures(t, limiter, key, 4, ClassDefault)
	clk.Advance(15*time.Minute + time.Second)
	recordFailures(t, limiter, key, 1, ClassDefault)

	status, err := limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestProgressiveBlockIsCapped(t *testing.T) {
	limiter, _, clk := newTestLimiter(t)
	ctx := context.Background()
	key := "key-activation:9"

	for strike, multiplier := range []time.Duration{1, 2, 3, 3} {
		recordFailures(t, limiter, key, 5, ClassDefault)
		status, err := limiter.IsBlocked(ctx, key)
		require.NoError(t, err)
		require.True(t, status.Blocked, "strike %d", strike+1)
		assert.True(t, clk.Now().Add(15*time.Minute*multiplier).Equal(status.Until), "strike %d", strike+1)

		clk.Advance(15*time.Minute*multiplier + time.Second)
	}
}

func TestSensitiveClassIsTighter(t *testing.T) {
	limiter, _, clk := newTestLimiter(t)
	ctx := context.Background()
	key := "password-change:1"

	recordFailures(t, limiter, key, 3, ClassSensitive)
	status, err := limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.True(t, clk.Now().Add(30*time.Minute).Equal(status.Until))
}

func TestKeysAreIndependent(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	recordFailures(t, limiter, "key-activation:1", 5, ClassDefault)

	status, err := limiter.IsBlocked(ctx, "key-activation:2")
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestCorruptEntryIsTreatedAsEmpty(t *testing.T) {
	limiter, store, _ := newTestLimiter(t)
	ctx := context.Background()
	key := "key-activation:13"

	store.PutRaw(storageKey(key), []byte(`{"attempts":"not-a-list","blocked_until":42}`))
	status, err := limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	require.NoError(t, limiter.RecordAttempt(ctx, key, false, ClassDefault))

	store.PutRaw(storageKey(key), []byte(`garbage`))
	require.NoError(t, limiter.RecordAttempt(ctx, key, false, ClassDefault))
}

func TestResetRemovesBlock(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()
	key := "admin:5"

	recordFailures(t, limiter, key, 3, ClassSensitive)
	require.NoError(t, limiter.Reset(ctx, key))

	status, err := limiter.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "signup:alice@example.com", SanitizeKey("  Signup:Alice@Example.com \n"))
	assert.Equal(t, "key-activation:1", SanitizeKey("key-activation:\t1"))
	assert.Len(t, SanitizeKey(string(make([]byte, 300))), 0)

	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	assert.Len(t, SanitizeKey(long), maxKeyLength)
}
