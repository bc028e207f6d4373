package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/observability/logger"
	"go.uber.org/zap"
)

type generateAccessKeysRequest struct {
	Count         int    `json:"count"`
	DurationDays  int    `json:"duration_days"`
	AssignedEmail string `json:"assigned_email"`
}

func (s *Server) GenerateAccessKeys(c *gin.Context) {
	admin, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req generateAccessKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	keys, err := s.accessKeySvc.Generate(c.Request.Context(), accesskeydomain.GenerateRequest{
		Count:         req.Count,
		DurationDays:  req.DurationDays,
		AssignedEmail: req.AssignedEmail,
		CreatedBy:     admin.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("access keys generated",
		zap.Int("count", len(keys)),
		zap.Int("duration_days", req.DurationDays),
	)
	codes := make([]string, 0, len(keys))
	for _, key := range keys {
		codes = append(codes, key.Key)
	}
	s.recordAudit(c, auditdomain.ActionAccessKeyGenerated, "access_key", "", map[string]any{
		"keys":          codes,
		"duration_days": req.DurationDays,
		"has_assignee":  strings.TrimSpace(req.AssignedEmail) != "",
	})
	c.JSON(http.StatusCreated, gin.H{"data": keys})
}

func (s *Server) ListAccessKeys(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil || limit < 0 {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive number"))
		return
	}
	used, err := parseOptionalBool(c.Query("used"))
	if err != nil {
		AbortWithError(c, newValidationError("used", "invalid_used", "used must be true or false"))
		return
	}

	keys, err := s.accessKeySvc.List(c.Request.Context(), accesskeydomain.ListRequest{Limit: limit, Used: used})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (s *Server) GetAccessKey(c *gin.Context) {
	key, err := s.accessKeySvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

// RevokeAccessKey deletes an unused key. Used keys stay as redemption history.
func (s *Server) RevokeAccessKey(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := s.accessKeySvc.Revoke(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionAccessKeyRevoked, "access_key", id, nil)

	c.Status(http.StatusNoContent)
}
