package entitlement

import (
	"testing"
	"time"

	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
	"github.com/stretchr/testify/assert"
)

func TestIsActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	user := &authdomain.User{ID: 1, Role: authdomain.RoleUser}
	future := now.Add(time.Millisecond)
	past := now.Add(-time.Millisecond)

	cases := []struct {
		name    string
		user    *authdomain.User
		isAdmin bool
		expiry  *time.Time
		want    bool
	}{
		{name: "admin without expiry", user: user, isAdmin: true, want: true},
		{name: "admin without user", isAdmin: true, want: true},
		{name: "no user", expiry: &future, want: false},
		{name: "no expiry", user: user, want: false},
		{name: "expiry ahead", user: user, expiry: &future, want: true},
		{name: "expiry passed", user: user, expiry: &past, want: false},
		{name: "expiry equals now", user: user, expiry: &now, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsActive(tc.user, tc.isAdmin, tc.expiry, now))
		})
	}
}
