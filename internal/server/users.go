package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
)

type setUserRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) SetUserRole(c *gin.Context) {
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

	var req setUserRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	role := authdomain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if userID == admin.ID && role != authdomain.RoleAdmin {
		AbortWithError(c, newValidationError("role", "self_demotion", "admins cannot demote themselves"))
		return
	}

	user, err := s.authsvc.SetRole(c.Request.Context(), userID, role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.ActionUserRoleChanged, "user", userID.String(), map[string]any{
		"role": string(role),
	})

	c.JSON(http.StatusOK, gin.H{"user": user})
}
