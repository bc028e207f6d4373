package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/observability/logger"
	subscriptiondomain "github.com/smallbiznis/keygate/internal/subscription/domain"
	"go.uber.org/zap"
)

type setSubscriptionRequest struct {
	ActiveUntil time.Time `json:"active_until"`
}

func (s *Server) GetSubscription(c *gin.Context) {
	userID, err := parseSnowflakeID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// SetSubscription overwrites a user's entitlement window and drops the
// cached copy so the next read goes to the store.
func (s *Server) SetSubscription(c *gin.Context) {
	admin, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	userID, err := parseSnowflakeID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	var req setSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	sub, err := s.subscriptionSvc.Set(ctx, subscriptiondomain.SetRequest{
		UserID:      userID,
		ActiveUntil: req.ActiveUntil,
		UpdatedBy:   admin.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.entitlements.Invalidate(ctx, userID); err != nil {
		logger.FromContext(ctx).Warn("entitlement invalidate failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	s.recordAudit(c, auditdomain.ActionSubscriptionSet, "subscription", userID.String(), map[string]any{
		"active_until": req.ActiveUntil,
	})

	c.JSON(http.StatusOK, sub)
}

func (s *Server) RemoveSubscription(c *gin.Context) {
	userID, err := parseSnowflakeID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	ctx := c.Request.Context()
	if err := s.subscriptionSvc.Remove(ctx, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.entitlements.Invalidate(ctx, userID); err != nil {
		logger.FromContext(ctx).Warn("entitlement invalidate failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	s.recordAudit(c, auditdomain.ActionSubscriptionRemove, "subscription", userID.String(), nil)

	c.Status(http.StatusNoContent)
}
