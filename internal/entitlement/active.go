// Package entitlement tracks whether users hold an active subscription.
//
// The cached expiry only saves a store round-trip on reads. Writes and
// admin-equivalent decisions go through Verify, which reads the store.
package entitlement

import (
	"time"

	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
)

// IsActive decides entitlement from already-loaded inputs. Admins are always
// active; otherwise a signed-in user needs an expiry strictly after now.
func IsActive(user *authdomain.User, isAdmin bool, cachedExpiry *time.Time, now time.Time) bool {
	if isAdmin {
		return true
	}
	if user == nil || cachedExpiry == nil {
		return false
	}
	return cachedExpiry.After(now)
}
