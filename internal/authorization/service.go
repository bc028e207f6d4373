package authorization

import (
	"context"
	"errors"

	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

type Service interface {
	// Authorize returns nil when user's role may perform action on object.
	Authorize(ctx context.Context, user *authdomain.User, object string, action string) error
}
