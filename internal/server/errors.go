package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
	"github.com/smallbiznis/keygate/internal/authorization"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/redemption"
	subscriptiondomain "github.com/smallbiznis/keygate/internal/subscription/domain"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	RetryAt *time.Time        `json:"retry_at,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrTooManyRequests    = errors.New("too_many_requests")
)

// RateLimitedError is returned by transport-level throttles.
type RateLimitedError struct {
	Until time.Time
}

func (e *RateLimitedError) Error() string { return "too many requests" }

func (e *RateLimitedError) Is(target error) bool { return target == ErrTooManyRequests }

// ErrorHandlingMiddleware renders the last handler error as {"error":{...}}.
func ErrorHandlingMiddleware(clk clock.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		tag := redemption.MatchLanguage(c.GetHeader("Accept-Language"))
		status, payload := mapError(lastErr.Err, tag)
		if payload.RetryAt != nil {
			c.Header("Retry-After", retryAfterSeconds(*payload.RetryAt, clk.Now()))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error, tag language.Tag) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if status, payload, ok := mapRedemptionError(err, tag); ok {
		return status, payload
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if until, ok := rateLimitedUntil(err); ok {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: redemption.Message(redemption.KindRateLimited, tag),
			RetryAt: &until,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, authdomain.ErrInvalidSession),
		errors.Is(err, authdomain.ErrSessionNotFound),
		errors.Is(err, authdomain.ErrSessionExpired),
		errors.Is(err, authdomain.ErrSessionRevoked):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, authdomain.ErrUserExists),
		errors.Is(err, accesskeydomain.ErrAlreadyUsed):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// mapRedemptionError translates redemption kinds. InvalidKeyConfiguration is
// reported as a generic internal error so key metadata is not exposed.
func mapRedemptionError(err error, tag language.Tag) (int, errorPayload, bool) {
	var rerr *redemption.Error
	if !errors.As(err, &rerr) {
		return 0, errorPayload{}, false
	}

	payload := errorPayload{
		Type:    string(rerr.Kind),
		Message: redemption.Message(rerr.Kind, tag),
	}
	switch rerr.Kind {
	case redemption.KindInvalidFormat:
		return http.StatusBadRequest, payload, true
	case redemption.KindNotAuthenticated:
		return http.StatusUnauthorized, payload, true
	case redemption.KindRateLimited:
		until := rerr.Until
		payload.RetryAt = &until
		return http.StatusTooManyRequests, payload, true
	case redemption.KindKeyNotFound:
		return http.StatusNotFound, payload, true
	case redemption.KindAlreadyUsed:
		return http.StatusConflict, payload, true
	case redemption.KindSubscriptionWriteFailed:
		return http.StatusInternalServerError, payload, true
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: redemption.Message(redemption.KindInvalidKeyConfiguration, tag),
		}, true
	}
}

func rateLimitedUntil(err error) (time.Time, bool) {
	var authErr *authdomain.RateLimitedError
	if errors.As(err, &authErr) {
		return authErr.Until, true
	}
	var limitErr *RateLimitedError
	if errors.As(err, &limitErr) {
		return limitErr.Until, true
	}
	return time.Time{}, false
}

func retryAfterSeconds(until, now time.Time) string {
	seconds := int64(math.Ceil(until.Sub(now).Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if kind, ok := redemption.KindOf(err); ok {
		return "redemption", string(kind)
	}
	_, payload := mapError(err, language.English)
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, authdomain.ErrInvalidEmail),
		errors.Is(err, authdomain.ErrWeakPassword),
		errors.Is(err, authdomain.ErrInvalidRole),
		errors.Is(err, accesskeydomain.ErrInvalidCount),
		errors.Is(err, accesskeydomain.ErrInvalidDuration),
		errors.Is(err, accesskeydomain.ErrInvalidEmail),
		errors.Is(err, accesskeydomain.ErrInvalidID),
		errors.Is(err, subscriptiondomain.ErrInvalidUser),
		errors.Is(err, subscriptiondomain.ErrInvalidActiveUntil),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, authdomain.ErrUserNotFound),
		errors.Is(err, accesskeydomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, authdomain.ErrInvalidEmail):
		return "invalid_email"
	case errors.Is(err, authdomain.ErrWeakPassword):
		return "invalid_password"
	case errors.Is(err, authdomain.ErrInvalidRole):
		return "invalid_role"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_password":
		return "password must be at least 8 characters"
	default:
		return "invalid value"
	}
}
