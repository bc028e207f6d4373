// Package accessgate decides whether a caller may use the application.
package accessgate

import (
	"path"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// AdminPrefix marks routes that stay reachable while the gate is locked.
const AdminPrefix = "/admin"

type Reason string

const (
	ReasonNone                 Reason = "none"
	ReasonAuthLoading          Reason = "auth_loading"
	ReasonUnauthenticated      Reason = "unauthenticated"
	ReasonInactiveSubscription Reason = "inactive_subscription"
)

type UserRef struct {
	ID snowflake.ID
}

type Input struct {
	Route              string
	AuthLoading        bool
	User               *UserRef
	IsAdmin            bool
	SubscriptionActive bool
}

type Decision struct {
	Locked bool   `json:"locked"`
	Reason Reason `json:"reason"`
}

// Applier performs the single side effect of a decision, e.g. refusing a request.
type Applier interface {
	Apply(Decision)
}

type ApplierFunc func(Decision)

func (f ApplierFunc) Apply(d Decision) { f(d) }

// Evaluate is locked when the route is not an admin route, the caller is not
// an admin, and auth is still loading, nobody is signed in, or the
// subscription is inactive.
func Evaluate(in Input) Decision {
	if IsAdminRoute(in.Route) || in.IsAdmin {
		return Decision{Reason: ReasonNone}
	}
	switch {
	case in.AuthLoading:
		return Decision{Locked: true, Reason: ReasonAuthLoading}
	case in.User == nil:
		return Decision{Locked: true, Reason: ReasonUnauthenticated}
	case !in.SubscriptionActive:
		return Decision{Locked: true, Reason: ReasonInactiveSubscription}
	}
	return Decision{Reason: ReasonNone}
}

// IsAdminRoute matches AdminPrefix on path segment boundaries, so
// "/admin/keys" matches and "/administrator" does not.
func IsAdminRoute(route string) bool {
	route = strings.TrimSpace(route)
	if route == "" {
		return false
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	cleaned := path.Clean(route)
	return cleaned == AdminPrefix || strings.HasPrefix(cleaned, AdminPrefix+"/")
}
