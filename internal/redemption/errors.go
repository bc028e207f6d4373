package redemption

import (
	"errors"
	"time"
)

// Kind is the closed set of redemption outcomes other than success.
// Callers branch on Kind, never on message text.
type Kind string

const (
	KindInvalidFormat           Kind = "invalid_format"
	KindNotAuthenticated        Kind = "not_authenticated"
	KindRateLimited             Kind = "rate_limited"
	KindKeyNotFound             Kind = "key_not_found"
	KindAlreadyUsed             Kind = "already_used"
	KindInvalidKeyConfiguration Kind = "invalid_key_configuration"
	KindSubscriptionWriteFailed Kind = "subscription_write_failed"
)

// Kinds lists every Kind in a stable order.
var Kinds = []Kind{
	KindInvalidFormat,
	KindNotAuthenticated,
	KindRateLimited,
	KindKeyNotFound,
	KindAlreadyUsed,
	KindInvalidKeyConfiguration,
	KindSubscriptionWriteFailed,
}

// Error is the only error type returned by Redeem.
type Error struct {
	Kind Kind
	// Until is set for KindRateLimited.
	Until time.Time
	// Err is the underlying cause, kept for logs. It is never shown to users.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind, so errors.Is(err, ErrAlreadyUsed) works.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Until.IsZero() && other.Err == nil
}

var (
	ErrInvalidFormat           = &Error{Kind: KindInvalidFormat}
	ErrNotAuthenticated        = &Error{Kind: KindNotAuthenticated}
	ErrRateLimited             = &Error{Kind: KindRateLimited}
	ErrKeyNotFound             = &Error{Kind: KindKeyNotFound}
	ErrAlreadyUsed             = &Error{Kind: KindAlreadyUsed}
	ErrInvalidKeyConfiguration = &Error{Kind: KindInvalidKeyConfiguration}
	ErrSubscriptionWriteFailed = &Error{Kind: KindSubscriptionWriteFailed}
)

// KindOf extracts the Kind of a redemption error.
func KindOf(err error) (Kind, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind, true
	}
	return "", false
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}
