package entitlement

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/credential"
	"github.com/smallbiznis/keygate/internal/observability/metrics"
	"github.com/smallbiznis/keygate/internal/redemption"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Redeemer exchanges a raw key for a subscription.
type Redeemer interface {
	Redeem(ctx context.Context, raw string, userID snowflake.ID) (redemption.Result, error)
}

// Snapshot is a user's entitlement as of At.
type Snapshot struct {
	UserID      snowflake.ID `json:"user_id"`
	Active      bool         `json:"active"`
	IsAdmin     bool         `json:"is_admin"`
	ActiveUntil *time.Time   `json:"active_until,omitempty"`
	At          time.Time    `json:"at"`
}

type Params struct {
	fx.In

	Store       credential.Store
	Redeemer    Redeemer
	Cache       Cache
	Broadcaster Broadcaster
	Clock       clock.Clock
	Log         *zap.Logger
	Metrics     *metrics.Metrics `optional:"true"`
}

// State keeps the cached expiry in step with the store and announces changes.
type State struct {
	store       credential.Store
	redeemer    Redeemer
	cache       Cache
	broadcaster Broadcaster
	clock       clock.Clock
	log         *zap.Logger
	metrics     *metrics.Metrics
}

func NewState(p Params) *State {
	return &State{
		store:       p.Store,
		redeemer:    p.Redeemer,
		cache:       p.Cache,
		broadcaster: p.Broadcaster,
		clock:       p.Clock,
		log:         p.Log.Named("entitlement.state"),
		metrics:     p.Metrics,
	}
}

// Active answers from the cache, loading it from the store once on a miss.
func (s *State) Active(ctx context.Context, user *authdomain.User) (bool, error) {
	snap, err := s.Snapshot(ctx, user)
	if err != nil {
		return false, err
	}
	return snap.Active, nil
}

// Snapshot is Active with the cached expiry attached.
func (s *State) Snapshot(ctx context.Context, user *authdomain.User) (Snapshot, error) {
	now := s.clock.Now()
	if user == nil {
		return Snapshot{At: now}, nil
	}
	snap := Snapshot{UserID: user.ID, IsAdmin: user.IsAdmin(), At: now}
	if snap.IsAdmin {
		snap.Active = true
		return snap, nil
	}

	expiry, err := s.cachedExpiry(ctx, user.ID)
	if err != nil {
		return Snapshot{}, err
	}
	snap.ActiveUntil = expiry
	snap.Active = IsActive(user, false, expiry, now)
	return snap, nil
}

// Verify reads the store directly. Use it before decisions that must not
// trust the cache. The cache is refreshed as a side effect.
func (s *State) Verify(ctx context.Context, user *authdomain.User) (Snapshot, error) {
	now := s.clock.Now()
	if user == nil {
		return Snapshot{At: now}, nil
	}
	expiry, err := s.Refresh(ctx, user.ID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		UserID:      user.ID,
		IsAdmin:     user.IsAdmin(),
		ActiveUntil: expiry,
		Active:      IsActive(user, user.IsAdmin(), expiry, now),
		At:          now,
	}, nil
}

// Refresh loads the authoritative expiry for userID and overwrites the cache.
// It returns nil when the user has no subscription.
func (s *State) Refresh(ctx context.Context, userID snowflake.ID) (*time.Time, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	var expiry *time.Time
	cached := time.Time{}
	if sub != nil {
		activeUntil := sub.ActiveUntil
		expiry = &activeUntil
		cached = activeUntil
	}
	if err := s.cache.Set(ctx, userID, cached); err != nil {
		s.log.Warn("failed to cache entitlement", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return expiry, nil
}

// OnIdentityChange resyncs the cache when the signed-in user changes. It has
// the shape of an auth session listener.
func (s *State) OnIdentityChange(ctx context.Context, change authdomain.SessionChange) {
	prev, next := change.Previous, change.Current
	if prev != nil && (next == nil || prev.ID != next.ID) {
		if err := s.cache.Delete(ctx, prev.ID); err != nil {
			s.log.Warn("failed to drop cached entitlement", zap.String("user_id", prev.ID.String()), zap.Error(err))
		}
		s.publish(ctx, Event{UserID: prev.ID, Type: EventCleared})
	}
	if next == nil {
		return
	}
	expiry, err := s.Refresh(ctx, next.ID)
	if err != nil {
		s.log.Warn("failed to refresh entitlement on sign-in", zap.String("user_id", next.ID.String()), zap.Error(err))
		return
	}
	s.publish(ctx, Event{UserID: next.ID, Type: EventRefreshed, ActiveUntil: expiry})
}

// ActivateWithKey redeems raw for user and announces the new expiry.
func (s *State) ActivateWithKey(ctx context.Context, user *authdomain.User, raw string) (redemption.Result, error) {
	var userID snowflake.ID
	if user != nil {
		userID = user.ID
	}
	res, err := s.redeemer.Redeem(ctx, raw, userID)
	if err != nil {
		return redemption.Result{}, err
	}

	if err := s.cache.Set(ctx, userID, res.ExpiresAt); err != nil {
		s.log.Warn("failed to cache entitlement", zap.String("user_id", userID.String()), zap.Error(err))
	}
	expiresAt := res.ExpiresAt
	s.publish(ctx, Event{UserID: userID, Type: EventActivated, ActiveUntil: &expiresAt})
	return res, nil
}

// Clear forgets the cached expiry for userID and announces it.
func (s *State) Clear(ctx context.Context, userID snowflake.ID) error {
	if err := s.cache.Delete(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, Event{UserID: userID, Type: EventCleared})
	return nil
}

// Invalidate reloads userID after an out-of-band write, such as an admin override.
func (s *State) Invalidate(ctx context.Context, userID snowflake.ID) error {
	expiry, err := s.Refresh(ctx, userID)
	if err != nil {
		return err
	}
	s.publish(ctx, Event{UserID: userID, Type: EventRefreshed, ActiveUntil: expiry})
	return nil
}

func (s *State) cachedExpiry(ctx context.Context, userID snowflake.ID) (*time.Time, error) {
	activeUntil, ok, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.log.Warn("entitlement cache read failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if err != nil || !ok {
		return s.Refresh(ctx, userID)
	}
	if activeUntil.IsZero() {
		return nil, nil
	}
	return &activeUntil, nil
}

func (s *State) publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}
	if event.ID == "" {
		event.ID = newEventID(event.OccurredAt)
	}
	if s.broadcaster != nil {
		s.broadcaster.Publish(ctx, event)
	}
	s.metrics.RecordEntitlementEvent(ctx, string(event.Type))
}

// newEventID returns an id that sorts by publish time.
func newEventID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}
