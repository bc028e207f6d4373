package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	SignUp(ctx context.Context, req SignUpRequest) (*User, error)
	SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error)
	SignOut(ctx context.Context, rawToken string) error
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	CurrentUser(ctx context.Context, rawToken string) (*User, error)
	ChangePassword(ctx context.Context, req ChangePasswordRequest) error
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	SetRole(ctx context.Context, id snowflake.ID, role Role) (*User, error)
	// OnSessionChange registers listener and returns a function that removes it.
	OnSessionChange(listener SessionListener) (unsubscribe func())
}

type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

type SignInRequest struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
	// PreviousToken is the caller's current session, if any. It is revoked on
	// success so a browser holds one identity at a time.
	PreviousToken string
}

type SignInResult struct {
	User      *User
	RawToken  string
	ExpiresAt time.Time
	SessionID snowflake.ID
}

type ChangePasswordRequest struct {
	UserID          snowflake.ID
	CurrentPassword string
	NewPassword     string
	// KeepSessionID survives the change; every other session of the user is revoked.
	KeepSessionID snowflake.ID
}

type SessionChangeType string

const (
	SessionSignedIn  SessionChangeType = "signed_in"
	SessionSignedOut SessionChangeType = "signed_out"
)

// SessionChange describes an identity transition. Previous or Current is nil
// when no user was or is signed in.
type SessionChange struct {
	Type     SessionChangeType
	Previous *User
	Current  *User
}

type SessionListener func(ctx context.Context, change SessionChange)
