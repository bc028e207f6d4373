package accessgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	user := &UserRef{ID: 1}

	cases := []struct {
		name string
		in   Input
		want Decision
	}{
		{
			name: "anonymous on root",
			in:   Input{Route: "/"},
			want: Decision{Locked: true, Reason: ReasonUnauthenticated},
		},
		{
			name: "user without subscription",
			in:   Input{Route: "/", User: user},
			want: Decision{Locked: true, Reason: ReasonInactiveSubscription},
		},
		{
			name: "user with subscription",
			in:   Input{Route: "/", User: user, SubscriptionActive: true},
			want: Decision{Reason: ReasonNone},
		},
		{
			name: "admin without subscription",
			in:   Input{Route: "/", User: user, IsAdmin: true},
			want: Decision{Reason: ReasonNone},
		},
		{
			name: "anonymous on admin route",
			in:   Input{Route: "/admin/dashboard"},
			want: Decision{Reason: ReasonNone},
		},
		{
			name: "auth loading",
			in:   Input{Route: "/catalog", AuthLoading: true, User: user, SubscriptionActive: true},
			want: Decision{Locked: true, Reason: ReasonAuthLoading},
		},
		{
			name: "admin-like prefix is not an admin route",
			in:   Input{Route: "/administrator", User: user},
			want: Decision{Locked: true, Reason: ReasonInactiveSubscription},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.in))
		})
	}
}

func TestIsAdminRoute(t *testing.T) {
	cases := map[string]bool{
		"/admin":              true,
		"/admin/":             true,
		"/admin/access-keys":  true,
		"admin/subscriptions": true,
		"/admin/../catalog":   false,
		"/administrator":      false,
		"/catalog/admin":      false,
		"":                    false,
	}
	for route, want := range cases {
		assert.Equal(t, want, IsAdminRoute(route), route)
	}
}

func TestApplierFunc(t *testing.T) {
	var got Decision
	var applier Applier = ApplierFunc(func(d Decision) { got = d })
	applier.Apply(Decision{Locked: true, Reason: ReasonAuthLoading})
	assert.Equal(t, Decision{Locked: true, Reason: ReasonAuthLoading}, got)
}
