package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/observability/logger"
	"github.com/smallbiznis/keygate/internal/redemption"
	"go.uber.org/zap"
)

const (
	rateLimitScopeRedeem = "redeem"
	rateLimitScopeAdmin  = "admin"
)

type resetRateLimitRequest struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
}

// ResetRateLimit clears the failure history for a user's redeem or admin key.
func (s *Server) ResetRateLimit(c *gin.Context) {
	var req resetRateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseSnowflakeID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	var key string
	switch strings.ToLower(strings.TrimSpace(req.Scope)) {
	case "", rateLimitScopeRedeem:
		key = redemption.RateLimitKey(userID)
	case rateLimitScopeAdmin:
		key = rateLimitScopeAdmin + ":" + userID.String()
	default:
		AbortWithError(c, newValidationError("scope", "invalid_scope", "scope must be redeem or admin"))
		return
	}

	ctx := c.Request.Context()
	if err := s.limiter.Reset(ctx, key); err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(ctx).Info("rate limit reset", zap.String("key", key))
	s.recordAudit(c, auditdomain.ActionRateLimitReset, "user", userID.String(), map[string]any{
		"scope": req.Scope,
	})
	c.Status(http.StatusNoContent)
}
