package redemption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/smallbiznis/keygate/internal/credential"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/keygate/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	mu    sync.Mutex
	keys  map[string]*accesskeydomain.AccessKey
	subs  map[snowflake.ID]*subscriptiondomain.Subscription
	calls int

	findErr   error
	claimErr  error
	upsertErr error
}

func newFakeStore(keys ...accesskeydomain.AccessKey) *fakeStore {
	s := &fakeStore{
		keys: map[string]*accesskeydomain.AccessKey{},
		subs: map[snowflake.ID]*subscriptiondomain.Subscription{},
	}
	for i := range keys {
		k := keys[i]
		s.keys[k.Key] = &k
	}
	return s
}

func (s *fakeStore) FindKeyByValue(_ context.Context, value string) (*accesskeydomain.AccessKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	k, ok := s.keys[value]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (s *fakeStore) ConditionalClaimKey(_ context.Context, id snowflake.ID, patch credential.ClaimPatch) (credential.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.claimErr != nil {
		return credential.ClaimResult{}, s.claimErr
	}
	for _, k := range s.keys {
		if k.ID != id || k.IsUsed {
			continue
		}
		k.IsUsed = true
		k.UsedBy = &patch.UsedBy
		k.UsedAt = &patch.UsedAt
		k.ExpiresAt = &patch.ExpiresAt
		cp := *k
		return credential.ClaimResult{AffectedRows: 1, Key: &cp}, nil
	}
	return credential.ClaimResult{}, nil
}

func (s *fakeStore) UpsertSubscription(_ context.Context, userID snowflake.ID, activeUntil time.Time, sourceKeyID snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.subs[userID] = &subscriptiondomain.Subscription{
		UserID:      userID,
		ActiveUntil: activeUntil,
		SourceKeyID: &sourceKeyID,
	}
	return nil
}

func (s *fakeStore) GetSubscription(_ context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.subs[userID], nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type failingLimiter struct{}

func (failingLimiter) IsBlocked(context.Context, string) (ratelimit.Status, error) {
	return ratelimit.Status{}, errors.New("redis down")
}

func (failingLimiter) RecordAttempt(context.Context, string, bool, ratelimit.Class) error {
	return errors.New("redis down")
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testKey(id int64, value string, days int) accesskeydomain.AccessKey {
	return accesskeydomain.AccessKey{
		ID:           snowflake.ID(id),
		Key:          value,
		DurationDays: days,
		CreatedAt:    testStart.Add(-time.Hour),
	}
}

type harness struct {
	protocol *Protocol
	store    *fakeStore
	limiter  *ratelimit.Limiter
	clock    *clock.FakeClock
}

func newHarness(t *testing.T, keys ...accesskeydomain.AccessKey) *harness {
	t.Helper()
	clk := clock.NewFakeClock(testStart)
	log := zaptest.NewLogger(t)
	limiter := ratelimit.NewLimiter(
		ratelimit.NewMemoryStore(clk.Now, log),
		clk,
		config.NewStaticRateLimitPolicyHolder(config.DefaultRateLimitPolicies()),
		nil,
		log,
	)
	store := newFakeStore(keys...)
	return &harness{
		protocol: New(Params{Store: store, Limiter: limiter, Clock: clk, Log: log}),
		store:    store,
		limiter:  limiter,
		clock:    clk,
	}
}

func requireKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var rerr *Error
	require.True(t, errors.As(err, &rerr), "expected *Error, got %T", err)
	require.Equal(t, want, rerr.Kind)
	return rerr
}

func TestRedeemSetsExpiryFromKeyDuration(t *testing.T) {
	h := newHarness(t, testKey(1, "ABCD-EFGH-JKMN-PQRS", 30))
	ctx := context.Background()

	res, err := h.protocol.Redeem(ctx, "  ABCD-EFGH-JKMN-PQRS ", 42)
	require.NoError(t, err)

	want := testStart.Add(30 * 24 * time.Hour)
	assert.True(t, res.ExpiresAt.Equal(want))
	assert.Equal(t, snowflake.ID(1), res.KeyID)
	assert.Equal(t, 30, res.DurationDays)

	sub, err := h.store.GetSubscription(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.True(t, sub.ActiveUntil.Equal(want))
	assert.True(t, sub.IsActiveAt(want.Add(-time.Millisecond)))
	assert.False(t, sub.IsActiveAt(want.Add(time.Millisecond)))

	key := h.store.keys["ABCD-EFGH-JKMN-PQRS"]
	assert.True(t, key.IsUsed)
	require.NotNil(t, key.UsedBy)
	assert.Equal(t, snowflake.ID(42), *key.UsedBy)
}

func TestRedeemNormalizesCase(t *testing.T) {
	h := newHarness(t, testKey(1, "ABCD-EFGH-JKMN-PQRS", 3))

	_, err := h.protocol.Redeem(context.Background(), "abcd-efgh-jkmn-pqrs", 42)
	require.NoError(t, err)
}

func TestRedeemInvalidFormatNeverTouchesStore(t *testing.T) {
	h := newHarness(t)

	for _, raw := range []string{"abc def!", "", "short", "ABCD-EFGH-JKMN-PQRS-TUVW", "ABCD_EFGH", "АБВГДЕЖЗИК"} {
		_, err := h.protocol.Redeem(context.Background(), raw, 42)
		requireKind(t, err, KindInvalidFormat)
	}
	assert.Equal(t, 0, h.store.callCount())
}

func TestRedeemRequiresUser(t *testing.T) {
	h := newHarness(t, testKey(1, "ABCD-EFGH-JKMN-PQRS", 30))

	_, err := h.protocol.Redeem(context.Background(), "ABCD-EFGH-JKMN-PQRS", 0)
	requireKind(t, err, KindNotAuthenticated)
	assert.Equal(t, 0, h.store.callCount())
}

func TestRedeemRejections(t *testing.T) {
	used := testKey(2, "USED-USED-USED-USED", 30)
	used.IsUsed = true

	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{name: "unknown key", raw: "NONE-NONE-NONE-NONE", want: KindKeyNotFound},
		{name: "used key", raw: "USED-USED-USED-USED", want: KindAlreadyUsed},
		{name: "zero duration", raw: "ZERO-ZERO-ZERO-ZERO", want: KindInvalidKeyConfiguration},
		{name: "negative duration", raw: "NEGA-NEGA-NEGA-NEGA", want: KindInvalidKeyConfiguration},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t,
				used,
				testKey(3, "ZERO-ZERO-ZERO-ZERO", 0),
				testKey(4, "NEGA-NEGA-NEGA-NEGA", -1),
			)
			_, err := h.protocol.Redeem(context.Background(), tc.raw, 42)
			requireKind(t, err, tc.want)

			sub, _ := h.store.GetSubscription(context.Background(), 42)
			assert.Nil(t, sub)
		})
	}
}

func TestRedeemInvalidDurationLeavesKeyUnclaimed(t *testing.T) {
	h := newHarness(t, testKey(3, "ZERO-ZERO-ZERO-ZERO", 0))

	_, err := h.protocol.Redeem(context.Background(), "ZERO-ZERO-ZERO-ZERO", 42)
	requireKind(t, err, KindInvalidKeyConfiguration)
	assert.False(t, h.store.keys["ZERO-ZERO-ZERO-ZERO"].IsUsed)
}

func TestRedeemBlocksAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t, testKey(1, "ABCD-EFGH-JKMN-PQRS", 30))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.protocol.Redeem(ctx, fmt.Sprintf("MISS-MISS-MISS-000%d", i), 42)
		requireKind(t, err, KindKeyNotFound)
	}

	before := h.store.callCount()
	_, err := h.protocol.Redeem(ctx, "ABCD-EFGH-JKMN-PQRS", 42)
	rerr := requireKind(t, err, KindRateLimited)
	assert.True(t, rerr.Until.Equal(testStart.Add(15*time.Minute)))
	assert.Equal(t, before, h.store.callCount(), "blocked attempt must not reach the store")

	// Other users are unaffected.
	_, err = h.protocol.Redeem(ctx, "ABCD-EFGH-JKMN-PQRS", 43)
	require.NoError(t, err)

	h.clock.Advance(15*time.Minute + time.Millisecond)
	_, err = h.protocol.Redeem(ctx, "MISS-MISS-MISS-0009", 42)
	requireKind(t, err, KindKeyNotFound)
}

func TestRedeemSuccessClearsFailures(t *testing.T) {
	h := newHarness(t, testKey(1, "ABCD-EFGH-JKMN-PQRS", 30))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := h.protocol.Redeem(ctx, "MISS-MISS-MISS-MISS", 42)
		requireKind(t, err, KindKeyNotFound)
	}
	_, err := h.protocol.Redeem(ctx, "ABCD-EFGH-JKMN-PQRS", 42)
	require.NoError(t, err)

	// A fresh window: four more failures stay under the threshold.
	for i := 0; i < 4; i++ {
		_, err := h.protocol.Redeem(ctx, "MISS-MISS-MISS-MISS", 42)
		requireKind(t, err, KindKeyNotFound)
	}
	status, err := h.limiter.IsBlocked(ctx, RateLimitKey(42))
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestRedeemConcurrentClaimsHaveOneWinner(t *testing.T) {
	h := newHarness(t, testKey(1, "ABCD-EFGH-JKMN-PQRS", 30))
	ctx := context.Background()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []snowflake.ID
		used      int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID snowflake.ID) {
			defer wg.Done()
			_, err := h.protocol.Redeem(ctx, "ABCD-EFGH-JKMN-PQRS", userID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes = append(successes, userID)
				return
			}
			if kind, _ := KindOf(err); kind == KindAlreadyUsed {
				used++
			}
		}(snowflake.ID(100 + i))
	}
	wg.Wait()

	require.Len(t, successes, 1)
	assert.Equal(t, workers-1, used)
	assert.Len(t, h.store.subs, 1)
	assert.Contains(t, h.store.subs, successes[0])
}

func TestRedeemRenewalOverwritesExpiry(t *testing.T) {
	h := newHarness(t,
		testKey(1, "LONG-LONG-LONG-LONG", 30),
		testKey(2, "SHRT-SHRT-SHRT-SHRT", 3),
	)
	ctx := context.Background()

	_, err := h.protocol.Redeem(ctx, "LONG-LONG-LONG-LONG", 42)
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	res, err := h.protocol.Redeem(ctx, "SHRT-SHRT-SHRT-SHRT", 42)
	require.NoError(t, err)

	want := testStart.Add(24 * time.Hour).Add(3 * 24 * time.Hour)
	assert.True(t, res.ExpiresAt.Equal(want))
	sub, _ := h.store.GetSubscription(ctx, 42)
	require.NotNil(t, sub)
	assert.True(t, sub.ActiveUntil.Equal(want))
}

func TestRedeemMapsStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	cases := []struct {
		name  string
		setup func(s *fakeStore)
		want  Kind
	}{
		{name: "lookup", setup: func(s *fakeStore) { s.findErr = boom }, want: KindKeyNotFound},
		{name: "claim", setup: func(s *fakeStore) { s.claimErr = boom }, want: KindAlreadyUsed},
		{name: "upsert", setup: func(s *fakeStore) { s.upsertErr = boom }, want: KindSubscriptionWriteFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testKey(1, "ABCD-EFGH-JKMN-PQRS", 30))
			tc.setup(h.store)

			_, err := h.protocol.Redeem(context.Background(), "ABCD-EFGH-JKMN-PQRS", 42)
			rerr := requireKind(t, err, tc.want)
			assert.ErrorIs(t, rerr, boom)
		})
	}
}

func TestRedeemClaimErrorIsLoggedForReconciliation(t *testing.T) {
	clk := clock.NewFakeClock(testStart)
	core, logs := observer.New(zapcore.InfoLevel)
	store := newFakeStore(testKey(9, "ABCD-EFGH-JKMN-PQRS", 3))
	store.claimErr = errors.New("connection reset")
	p := New(Params{Store: store, Limiter: failingLimiter{}, Clock: clk, Log: zap.New(core)})

	_, err := p.Redeem(context.Background(), "ABCD-EFGH-JKMN-PQRS", 42)
	requireKind(t, err, KindAlreadyUsed)

	entries := logs.FilterMessage("access key claim failed").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "42", fields["user_id"])
	assert.Equal(t, "9", fields["key_id"])
	expiresAt, ok := fields["expires_at"].(time.Time)
	require.True(t, ok)
	assert.True(t, testStart.Add(3*24*time.Hour).Equal(expiresAt))
}

func TestRedeemFailsOpenWhenLimiterUnavailable(t *testing.T) {
	clk := clock.NewFakeClock(testStart)
	store := newFakeStore(testKey(1, "ABCD-EFGH-JKMN-PQRS", 1))
	p := New(Params{Store: store, Limiter: failingLimiter{}, Clock: clk, Log: zaptest.NewLogger(t)})

	res, err := p.Redeem(context.Background(), "ABCD-EFGH-JKMN-PQRS", 42)
	require.NoError(t, err)
	assert.True(t, res.ExpiresAt.Equal(testStart.Add(24*time.Hour)))
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(KindAlreadyUsed, errors.New("x")))
	assert.ErrorIs(t, err, ErrAlreadyUsed)
	assert.NotErrorIs(t, err, ErrKeyNotFound)

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindAlreadyUsed, kind)
}
