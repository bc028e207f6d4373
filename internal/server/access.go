package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/keygate/internal/accessgate"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/entitlement"
	"github.com/smallbiznis/keygate/internal/redemption"
)

const eventHeartbeatInterval = 15 * time.Second

type RedeemKeyRequest struct {
	Key string `json:"key"`
}

type redeemKeyResponse struct {
	Message      string       `json:"message"`
	KeyID        snowflake.ID `json:"key_id"`
	DurationDays int          `json:"duration_days"`
	RedeemedAt   time.Time    `json:"redeemed_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

func (s *Server) RedeemKey(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, redemption.ErrNotAuthenticated)
		return
	}

	var req RedeemKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, redemption.ErrInvalidFormat)
		return
	}

	result, err := s.entitlements.ActivateWithKey(c.Request.Context(), user, req.Key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.ActionAccessKeyRedeemed, "access_key", result.KeyID.String(), map[string]any{
		"key":           req.Key,
		"duration_days": result.DurationDays,
		"expires_at":    result.ExpiresAt,
	})

	tag := redemption.MatchLanguage(c.GetHeader("Accept-Language"))
	c.JSON(http.StatusOK, redeemKeyResponse{
		Message:      redemption.SuccessMessage(tag),
		KeyID:        result.KeyID,
		DurationDays: result.DurationDays,
		RedeemedAt:   result.RedeemedAt,
		ExpiresAt:    result.ExpiresAt,
	})
}

func (s *Server) AccessState(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		c.JSON(http.StatusOK, entitlement.Snapshot{At: s.clock.Now()})
		return
	}

	snapshot, err := s.entitlements.Snapshot(c.Request.Context(), user)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// AccessGateDecision reports what the gate would decide for ?route= without
// applying it.
func (s *Server) AccessGateDecision(c *gin.Context) {
	route := strings.TrimSpace(c.Query("route"))
	if route == "" {
		route = "/"
	}
	if !strings.HasPrefix(route, "/") {
		AbortWithError(c, newValidationError("route", "invalid_route", "route must start with /"))
		return
	}

	in, err := s.gateInput(c, route)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, accessgate.Evaluate(in))
}

func (s *Server) StreamEntitlementEvents(c *gin.Context) {
	if s.events == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	user, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subscription, last, err := s.events.Subscribe(user.ID)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	if last != nil {
		if err := writeEntitlementEvent(writer, *last); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(eventHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			if err := writeEntitlementEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEntitlementEvent(w io.Writer, event entitlement.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
