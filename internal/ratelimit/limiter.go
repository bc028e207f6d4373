package ratelimit

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/smallbiznis/keygate/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	keyPrefix    = "rl:"
	maxKeyLength = 128
)

// Class selects the policy applied to an action. Callers choose it explicitly.
type Class int

const (
	ClassDefault Class = iota
	// ClassSensitive is for password changes and administrative operations.
	ClassSensitive
)

func (c Class) String() string {
	if c == ClassSensitive {
		return "sensitive"
	}
	return "default"
}

// Status is the result of IsBlocked.
type Status struct {
	Blocked bool
	Until   time.Time
}

// PolicySource returns the policies currently in force.
type PolicySource interface {
	Get() config.RateLimitPolicies
}

// Limiter is a per-key sliding-window failure throttle with progressive lockout.
type Limiter struct {
	store    Store
	clock    clock.Clock
	policies PolicySource
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewLimiter(store Store, clk clock.Clock, policies PolicySource, m *metrics.Metrics, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		store:    store,
		clock:    clk,
		policies: policies,
		metrics:  m,
		log:      log.Named("ratelimit.limiter"),
	}
}

// IsBlocked reports whether key has an active block. It never mutates state.
func (l *Limiter) IsBlocked(ctx context.Context, key string) (Status, error) {
	entry, err := l.store.Load(ctx, storageKey(key))
	if err != nil {
		return Status{}, err
	}
	now := l.clock.Now()
	if entry.blockedAt(now) {
		return Status{Blocked: true, Until: *entry.BlockedUntil}, nil
	}
	return Status{}, nil
}

// RecordAttempt records the outcome of an attempt. A success clears the entry;
// a failure that reaches the threshold sets a block of
// Block * min(strikes, MaxMultiplier) and restarts the attempt count.
func (l *Limiter) RecordAttempt(ctx context.Context, key string, succeeded bool, class Class) error {
	policy := l.policy(class)
	now := l.clock.Now()
	blocked := false

	entry, err := l.store.Update(ctx, storageKey(key), entryTTL(policy), func(e *Entry) {
		e.Attempts = pruneAttempts(e.Attempts, now, policy.Window)

		if succeeded {
			*e = Entry{}
			return
		}

		e.Attempts = append(e.Attempts, now)
		e.trim(min(policy.MaxAttempts, maxStoredAttempts))
		if len(e.Attempts) >= policy.MaxAttempts {
			e.Strikes++
			multiplier := min(e.Strikes, policy.MaxMultiplier)
			until := now.Add(policy.Block * time.Duration(multiplier))
			e.BlockedUntil = &until
			e.Attempts = nil
			blocked = true
		}
	})
	if err != nil {
		return err
	}

	if blocked {
		action := actionOf(key)
		l.log.Warn("rate limit block applied",
			zap.String("action", action),
			zap.String("class", class.String()),
			zap.Int("strikes", entry.Strikes),
			zap.Time("blocked_until", *entry.BlockedUntil),
		)
		l.metrics.RecordRateLimitBlocked(ctx, action, class.String())
	}
	return nil
}

// Reset removes all state for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, storageKey(key))
}

func (l *Limiter) policy(class Class) config.RateLimitPolicy {
	var policies config.RateLimitPolicies
	if l.policies != nil {
		policies = l.policies.Get()
	} else {
		policies = config.DefaultRateLimitPolicies()
	}
	if class == ClassSensitive {
		return policies.Sensitive
	}
	return policies.Default
}

// entryTTL keeps strikes around long enough to escalate the next block.
func entryTTL(policy config.RateLimitPolicy) time.Duration {
	return policy.Window + policy.Block*time.Duration(policy.MaxMultiplier)
}

func pruneAttempts(attempts []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := attempts[:0]
	for _, ts := range attempts {
		if now.Sub(ts) <= window {
			kept = append(kept, ts)
		}
	}
	return kept
}

func storageKey(key string) string {
	return keyPrefix + SanitizeKey(key)
}

// SanitizeKey normalises a logical action key for storage.
func SanitizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, key)
	if runes := []rune(key); len(runes) > maxKeyLength {
		key = string(runes[:maxKeyLength])
	}
	return key
}

func actionOf(key string) string {
	action, _, found := strings.Cut(SanitizeKey(key), ":")
	if !found || action == "" {
		return "unknown"
	}
	return action
}
