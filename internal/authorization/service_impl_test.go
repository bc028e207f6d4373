package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
	"github.com/smallbiznis/keygate/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) *ServiceImpl {
	t.Helper()
	m, err := NewModel()
	require.NoError(t, err)
	enforcer, err := casbin.NewSyncedEnforcer(m)
	require.NoError(t, err)
	require.NoError(t, seedPolicies(enforcer))
	return &ServiceImpl{log: zaptest.NewLogger(t), enforcer: enforcer}
}

func TestAuthorizeRoles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := &authdomain.User{ID: snowflake.ID(1), Role: authdomain.RoleUser}
	admin := &authdomain.User{ID: snowflake.ID(2), Role: authdomain.RoleAdmin}

	tests := []struct {
		name   string
		user   *authdomain.User
		object string
		action string
		want   error
	}{
		{"user redeems", user, ObjectAccessKey, ActionAccessKeyRedeem, nil},
		{"user views subscription", user, ObjectSubscription, ActionSubscriptionView, nil},
		{"user cannot generate", user, ObjectAccessKey, ActionAccessKeyGenerate, ErrForbidden},
		{"user cannot write subscription", user, ObjectSubscription, ActionSubscriptionWrite, ErrForbidden},
		{"user cannot reset limits", user, ObjectRateLimit, ActionRateLimitReset, ErrForbidden},
		{"admin generates", admin, ObjectAccessKey, ActionAccessKeyGenerate, nil},
		{"admin revokes", admin, ObjectAccessKey, ActionAccessKeyRevoke, nil},
		{"admin writes subscription", admin, ObjectSubscription, ActionSubscriptionWrite, nil},
		{"admin resets limits", admin, ObjectRateLimit, ActionRateLimitReset, nil},
		{"admin views audit log", admin, ObjectAuditLog, ActionAuditLogView, nil},
		{"user cannot view audit log", user, ObjectAuditLog, ActionAuditLogView, ErrForbidden},
		{"wildcard stays on its object", admin, ObjectSubscription, "access_key.generate", ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tt.user, tt.object, tt.action)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthorizeFollowsRoleChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := &authdomain.User{ID: snowflake.ID(7), Role: authdomain.RoleAdmin}

	require.NoError(t, svc.Authorize(ctx, user, ObjectAccessKey, ActionAccessKeyGenerate))

	user.Role = authdomain.RoleUser
	require.ErrorIs(t, svc.Authorize(ctx, user, ObjectAccessKey, ActionAccessKeyGenerate), ErrForbidden)

	roles, err := svc.enforcer.GetRolesForUser("user:7")
	require.NoError(t, err)
	require.Equal(t, []string{"role:user"}, roles)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := &authdomain.User{ID: snowflake.ID(1), Role: authdomain.RoleUser}

	require.ErrorIs(t, svc.Authorize(ctx, nil, ObjectAccessKey, ActionAccessKeyRedeem), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, &authdomain.User{Role: authdomain.RoleUser}, ObjectAccessKey, ActionAccessKeyRedeem), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, &authdomain.User{ID: 3, Role: "owner"}, ObjectAccessKey, ActionAccessKeyRedeem), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, user, " ", ActionAccessKeyRedeem), ErrInvalidObject)
	require.ErrorIs(t, svc.Authorize(ctx, user, ObjectAccessKey, ""), ErrInvalidAction)
}

func TestNewEnforcerPersistsPolicies(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)
	ok, err := enforcer.HasPolicy("role:admin", ObjectAccessKey, "access_key.*")
	require.NoError(t, err)
	require.True(t, ok)

	// Reopening over the same database must not duplicate seeded rows.
	again, err := NewEnforcer(conn)
	require.NoError(t, err)
	policies, err := again.GetPolicy()
	require.NoError(t, err)
	require.Len(t, policies, 8)
}
