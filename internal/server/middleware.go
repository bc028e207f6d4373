package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/keygate/internal/accessgate"
	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
	obscontext "github.com/smallbiznis/keygate/internal/observability/context"
	"github.com/smallbiznis/keygate/internal/observability/logger"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	"github.com/smallbiznis/keygate/internal/redemption"
	"go.uber.org/zap"
)

const (
	contextSessionKey   = "auth_session"
	contextRateLimitKey = "rate_limit_scope"
)

// SessionRequired rejects requests without a valid session cookie.
func (s *Server) SessionRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		session, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		s.bindSession(c, session)
		c.Next()
	}
}

// OptionalSession resolves the session when one is present and otherwise
// continues as an anonymous request.
func (s *Server) OptionalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			c.Next()
			return
		}

		session, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("ignoring invalid session", zap.Error(err))
			c.Next()
			return
		}

		s.bindSession(c, session)
		c.Next()
	}
}

func (s *Server) bindSession(c *gin.Context, session *authdomain.Session) {
	c.Set(contextSessionKey, session)
	ctx := obscontext.WithUserActor(c.Request.Context(), int64(session.UserID))
	c.Request = c.Request.WithContext(ctx)
}

func sessionFromContext(c *gin.Context) (*authdomain.Session, bool) {
	value, ok := c.Get(contextSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*authdomain.Session)
	if !ok || session == nil || session.User == nil {
		return nil, false
	}
	return session, true
}

func userFromContext(c *gin.Context) (*authdomain.User, bool) {
	session, ok := sessionFromContext(c)
	if !ok {
		return nil, false
	}
	return session.User, true
}

// AccessGate evaluates the gate once per request and applies the decision once.
func (s *Server) AccessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		in, err := s.gateInput(c, c.Request.URL.Path)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		s.gateApplier(c).Apply(accessgate.Evaluate(in))
	}
}

func (s *Server) gateInput(c *gin.Context, route string) (accessgate.Input, error) {
	in := accessgate.Input{Route: route}
	user, ok := userFromContext(c)
	if !ok {
		return in, nil
	}

	in.User = &accessgate.UserRef{ID: user.ID}
	in.IsAdmin = user.IsAdmin()
	if in.IsAdmin {
		return in, nil
	}

	snapshot, err := s.entitlements.Snapshot(c.Request.Context(), user)
	if err != nil {
		return in, err
	}
	in.SubscriptionActive = snapshot.Active
	return in, nil
}

func (s *Server) gateApplier(c *gin.Context) accessgate.Applier {
	return accessgate.ApplierFunc(func(decision accessgate.Decision) {
		if !decision.Locked {
			c.Next()
			return
		}
		s.obsMetrics.RecordAccessGateLocked(c.Request.Context(), string(decision.Reason))
		tag := redemption.MatchLanguage(c.GetHeader("Accept-Language"))
		c.AbortWithStatusJSON(http.StatusLocked, errorResponse{Error: errorPayload{
			Type:    string(decision.Reason),
			Message: accessgate.Message(decision.Reason, tag),
		}})
	})
}

// RequireAdmin authorizes the session user for object and action. Denials
// count against the sensitive limiter so probing locks the account out.
func (s *Server) RequireAdmin(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := userFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		key := adminRateLimitKey(user)
		status, err := s.limiter.IsBlocked(ctx, key)
		if err != nil {
			logger.FromContext(ctx).Warn("admin rate limit lookup failed", zap.Error(err))
		} else if status.Blocked {
			c.Set(contextRateLimitKey, "admin")
			AbortWithError(c, &RateLimitedError{Until: status.Until})
			return
		}

		if err := s.authzSvc.Authorize(ctx, user, object, action); err != nil {
			if recordErr := s.limiter.RecordAttempt(ctx, key, false, ratelimit.ClassSensitive); recordErr != nil {
				logger.FromContext(ctx).Warn("admin rate limit record failed", zap.Error(recordErr))
			}
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func adminRateLimitKey(user *authdomain.User) string {
	return rateLimitScopeAdmin + ":" + user.ID.String()
}

// IngressRateLimit throttles request volume per client IP for scope.
func (s *Server) IngressRateLimit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingressLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.ingressLimiter.Allow(ctx, scope, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("ingress rate limit check failed", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			c.Set(contextRateLimitKey, scope)
			s.obsMetrics.RecordRateLimitDenied(ctx, c.FullPath(), "ingress")
			AbortWithError(c, &RateLimitedError{Until: s.clock.Now().Add(result.RetryAfter)})
			return
		}
		c.Next()
	}
}
