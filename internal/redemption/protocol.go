// Package redemption exchanges a single-use access key for a subscription.
package redemption

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/credential"
	"github.com/smallbiznis/keygate/internal/observability/metrics"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	rateLimitKeyPrefix = "key-activation:"

	resultSuccess = "success"
	day           = 24 * time.Hour
)

// Limiter is the failure throttle consulted before every store access.
type Limiter interface {
	IsBlocked(ctx context.Context, key string) (ratelimit.Status, error)
	RecordAttempt(ctx context.Context, key string, succeeded bool, class ratelimit.Class) error
}

// Result describes a successful redemption.
type Result struct {
	KeyID        snowflake.ID
	DurationDays int
	RedeemedAt   time.Time
	ExpiresAt    time.Time
}

type Params struct {
	fx.In

	Store   credential.Store
	Limiter Limiter
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Protocol struct {
	store   credential.Store
	limiter Limiter
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) *Protocol {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Protocol{
		store:   p.Store,
		limiter: p.Limiter,
		clock:   p.Clock,
		log:     log.Named("redemption.protocol"),
		metrics: p.Metrics,
	}
}

// RateLimitKey is the limiter key guarding redemptions for userID.
func RateLimitKey(userID snowflake.ID) string {
	return rateLimitKeyPrefix + strconv.FormatInt(userID.Int64(), 10)
}

// Redeem claims the key identified by raw for userID and sets the user's
// subscription to now + the key's duration, replacing any previous expiry.
// Every failure is returned as *Error.
func (p *Protocol) Redeem(ctx context.Context, raw string, userID snowflake.ID) (Result, error) {
	value, ok := Sanitize(raw)
	if !ok {
		return Result{}, p.reject(ctx, newError(KindInvalidFormat, nil))
	}
	if userID == 0 {
		return Result{}, p.reject(ctx, newError(KindNotAuthenticated, nil))
	}

	limitKey := RateLimitKey(userID)
	log := p.log.With(zap.String("user_id", userID.String()))

	status, err := p.limiter.IsBlocked(ctx, limitKey)
	if err != nil {
		log.Warn("rate limit lookup failed, continuing", zap.Error(err))
	} else if status.Blocked {
		return Result{}, p.reject(ctx, &Error{Kind: KindRateLimited, Until: status.Until})
	}

	key, err := p.store.FindKeyByValue(ctx, value)
	if err != nil {
		log.Warn("access key lookup failed", zap.Error(err))
		return Result{}, p.fail(ctx, limitKey, newError(KindKeyNotFound, err))
	}
	if key == nil {
		return Result{}, p.fail(ctx, limitKey, newError(KindKeyNotFound, nil))
	}
	log = log.With(zap.String("key_id", key.ID.String()))
	if key.IsUsed {
		return Result{}, p.fail(ctx, limitKey, newError(KindAlreadyUsed, nil))
	}
	if key.DurationDays <= 0 {
		log.Error("access key has no usable duration", zap.Int("duration_days", key.DurationDays))
		return Result{}, p.fail(ctx, limitKey, newError(KindInvalidKeyConfiguration, nil))
	}

	now := p.clock.Now()
	expiresAt := now.Add(time.Duration(key.DurationDays) * day)

	claim, err := p.store.ConditionalClaimKey(ctx, key.ID, credential.ClaimPatch{
		UsedBy:    userID,
		UsedAt:    now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		// The UPDATE may have committed before the error; operators reconcile from this line.
		log.Error("access key claim failed",
			zap.Time("expires_at", expiresAt),
			zap.Error(err),
		)
		return Result{}, p.fail(ctx, limitKey, newError(KindAlreadyUsed, err))
	}
	if claim.AffectedRows == 0 {
		return Result{}, p.fail(ctx, limitKey, newError(KindAlreadyUsed, nil))
	}

	if err := p.store.UpsertSubscription(ctx, userID, expiresAt, key.ID); err != nil {
		// The key is consumed but the user has no entitlement; operators reconcile from this line.
		log.Error("subscription write failed after key claim",
			zap.Time("expires_at", expiresAt),
			zap.Error(err),
		)
		return Result{}, p.fail(ctx, limitKey, newError(KindSubscriptionWriteFailed, err))
	}

	if err := p.limiter.RecordAttempt(ctx, limitKey, true, ratelimit.ClassDefault); err != nil {
		log.Warn("rate limit reset failed", zap.Error(err))
	}
	p.metrics.RecordRedemption(ctx, resultSuccess)
	log.Info("access key redeemed",
		zap.Int("duration_days", key.DurationDays),
		zap.Time("expires_at", expiresAt),
	)

	return Result{
		KeyID:        key.ID,
		DurationDays: key.DurationDays,
		RedeemedAt:   now,
		ExpiresAt:    expiresAt,
	}, nil
}

// fail records a failed attempt and returns rerr.
func (p *Protocol) fail(ctx context.Context, limitKey string, rerr *Error) *Error {
	if err := p.limiter.RecordAttempt(ctx, limitKey, false, ratelimit.ClassDefault); err != nil {
		p.log.Warn("rate limit record failed", zap.String("kind", string(rerr.Kind)), zap.Error(err))
	}
	return p.reject(ctx, rerr)
}

func (p *Protocol) reject(ctx context.Context, rerr *Error) *Error {
	p.metrics.RecordRedemption(ctx, string(rerr.Kind))
	return rerr
}
