package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keygate/internal/auth/domain"
	"github.com/smallbiznis/keygate/internal/auth/password"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	sessionTokenBytes = 32
	defaultSessionTTL = 7 * 24 * time.Hour
)

// Limiter throttles repeated auth failures per action key.
type Limiter interface {
	IsBlocked(ctx context.Context, key string) (ratelimit.Status, error)
	RecordAttempt(ctx context.Context, key string, succeeded bool, class ratelimit.Class) error
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Repo        domain.Repository
	SessionRepo domain.SessionRepository
	GenID       *snowflake.Node
	Clock       clock.Clock
	Limiter     Limiter
}

type Service struct {
	log         *zap.Logger
	repo        domain.Repository
	sessionRepo domain.SessionRepository
	genID       *snowflake.Node
	clock       clock.Clock
	limiter     Limiter
	adminEmails []string
	sessionTTL  time.Duration

	mu        sync.RWMutex
	nextID    int
	listeners map[int]domain.SessionListener
}

func New(p Params) domain.Service {
	ttl := p.Config.Auth.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Service{
		log:         p.Log.Named("auth.service"),
		repo:        p.Repo,
		sessionRepo: p.SessionRepo,
		genID:       p.GenID,
		clock:       p.Clock,
		limiter:     p.Limiter,
		adminEmails: p.Config.Auth.AdminEmails,
		sessionTTL:  ttl,
		listeners:   map[int]domain.SessionListener{},
	}
}

func (s *Service) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}

	limitKey := "signup:" + email
	if err := s.checkBlocked(ctx, limitKey); err != nil {
		return nil, err
	}

	if err := password.CheckLength(req.Password); err != nil {
		s.recordAttempt(ctx, limitKey, false, ratelimit.ClassDefault)
		return nil, fmt.Errorf("%w: %w", domain.ErrWeakPassword, err)
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		s.recordAttempt(ctx, limitKey, false, ratelimit.ClassDefault)
		return nil, domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = defaultDisplayName(email)
	}
	role := domain.RoleUser
	if slices.Contains(s.adminEmails, email) {
		role = domain.RoleAdmin
	}
	user := &domain.User{
		ID:                  s.genID.Generate(),
		Email:               email,
		DisplayName:         displayName,
		PasswordHash:        &hashed,
		Role:                role,
		LastPasswordChanged: &now,
		Metadata:            datatypes.JSONMap{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	s.recordAttempt(ctx, limitKey, true, ratelimit.ClassDefault)

	s.log.Info("user signed up", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, req domain.SignInRequest) (*domain.SignInResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	limitKey := "login:" + email
	if err := s.checkBlocked(ctx, limitKey); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Password) == "" {
		s.recordAttempt(ctx, limitKey, false, ratelimit.ClassDefault)
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.recordAttempt(ctx, limitKey, false, ratelimit.ClassDefault)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == nil || !password.Verify(req.Password, *user.PasswordHash) {
		s.recordAttempt(ctx, limitKey, false, ratelimit.ClassDefault)
		return nil, domain.ErrInvalidCredentials
	}

	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		SessionTokenHash: hashToken(rawToken),
		UserAgent:        strings.TrimSpace(req.UserAgent),
		IPAddress:        strings.TrimSpace(req.IPAddress),
		ExpiresAt:        now.Add(s.sessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	s.recordAttempt(ctx, limitKey, true, ratelimit.ClassDefault)

	previous := s.revokePrevious(ctx, req.PreviousToken, session.ID)
	s.notify(ctx, domain.SessionChange{
		Type:     domain.SessionSignedIn,
		Previous: previous,
		Current:  user,
	})

	return &domain.SignInResult{
		User:      user,
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
		SessionID: session.ID,
	}, nil
}

// revokePrevious ends the session the caller held before signing in and returns its user.
func (s *Service) revokePrevious(ctx context.Context, rawToken string, current snowflake.ID) *domain.User {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil
	}
	prev, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil || prev.ID == current || prev.RevokedAt != nil {
		return nil
	}
	if err := s.sessionRepo.RevokeSession(ctx, prev.ID, s.clock.Now()); err != nil {
		s.log.Warn("failed to revoke previous session", zap.Error(err))
	}
	user, err := s.repo.FindByID(ctx, prev.UserID)
	if err != nil {
		return nil
	}
	return user
}

func (s *Service) SignOut(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}
	if session.RevokedAt != nil {
		return nil
	}

	if err := s.sessionRepo.RevokeSession(ctx, session.ID, s.clock.Now()); err != nil {
		return err
	}

	user, err := s.repo.FindByID(ctx, session.UserID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}
	s.notify(ctx, domain.SessionChange{
		Type:     domain.SessionSignedOut,
		Previous: user,
	})
	return nil
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if now.After(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	if err := s.sessionRepo.UpdateLastSeen(ctx, session.ID, now); err != nil {
		return nil, err
	}

	user, err := s.repo.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}
	session.User = user

	return session, nil
}

func (s *Service) CurrentUser(ctx context.Context, rawToken string) (*domain.User, error) {
	session, err := s.Authenticate(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	return session.User, nil
}

func (s *Service) ChangePassword(ctx context.Context, req domain.ChangePasswordRequest) error {
	if req.UserID == 0 {
		return domain.ErrUserNotFound
	}

	limitKey := "password-change:" + req.UserID.String()
	if err := s.checkBlocked(ctx, limitKey); err != nil {
		return err
	}

	user, err := s.repo.FindByID(ctx, req.UserID)
	if err != nil {
		return err
	}
	if user.PasswordHash == nil || !password.Verify(req.CurrentPassword, *user.PasswordHash) {
		s.recordAttempt(ctx, limitKey, false, ratelimit.ClassSensitive)
		return domain.ErrInvalidCredentials
	}
	if err := password.CheckStrength(req.NewPassword); err != nil {
		s.recordAttempt(ctx, limitKey, false, ratelimit.ClassSensitive)
		return fmt.Errorf("%w: %w", domain.ErrWeakPassword, err)
	}

	hashed, err := password.Hash(req.NewPassword)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	fields := map[string]any{
		"password_hash":         hashed,
		"last_password_changed": &now,
		"updated_at":            now,
	}
	if err := s.repo.UpdateFields(ctx, req.UserID, fields); err != nil {
		return err
	}
	s.recordAttempt(ctx, limitKey, true, ratelimit.ClassSensitive)

	revoked, err := s.sessionRepo.RevokeUserSessions(ctx, req.UserID, req.KeepSessionID, now)
	if err != nil {
		s.log.Warn("failed to revoke sessions after password change", zap.Error(err))
	} else if revoked > 0 {
		s.log.Info("sessions revoked after password change",
			zap.String("user_id", req.UserID.String()),
			zap.Int64("count", revoked),
		)
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) SetRole(ctx context.Context, id snowflake.ID, role domain.Role) (*domain.User, error) {
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	if err := s.repo.UpdateFields(ctx, id, map[string]any{
		"role":       string(role),
		"updated_at": s.clock.Now(),
	}); err != nil {
		return nil, err
	}
	s.log.Info("user role changed", zap.String("user_id", id.String()), zap.String("role", string(role)))
	return s.repo.FindByID(ctx, id)
}

func (s *Service) OnSessionChange(listener domain.SessionListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Service) notify(ctx context.Context, change domain.SessionChange) {
	s.mu.RLock()
	listeners := make([]domain.SessionListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, change)
	}
}

func (s *Service) checkBlocked(ctx context.Context, key string) error {
	if s.limiter == nil {
		return nil
	}
	status, err := s.limiter.IsBlocked(ctx, key)
	if err != nil {
		s.log.Warn("rate limit lookup failed, continuing", zap.Error(err))
		return nil
	}
	if status.Blocked {
		return &domain.RateLimitedError{Until: status.Until}
	}
	return nil
}

func (s *Service) recordAttempt(ctx context.Context, key string, succeeded bool, class ratelimit.Class) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.RecordAttempt(ctx, key, succeeded, class); err != nil {
		s.log.Warn("rate limit record failed", zap.Error(err))
	}
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func defaultDisplayName(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		return strings.TrimSpace(parts[0])
	}
	return email
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
