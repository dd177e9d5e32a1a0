package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	integrationdomain "github.com/kluisz-ai/kanvas/internal/integrationcfg/domain"
	"github.com/kluisz-ai/kanvas/internal/langfuse"
	ledgerdomain "github.com/kluisz-ai/kanvas/internal/ledger/domain"
	licensingdomain "github.com/kluisz-ai/kanvas/internal/licensing/domain"
	registrydomain "github.com/kluisz-ai/kanvas/internal/registry/domain"
	resolverdomain "github.com/kluisz-ai/kanvas/internal/resolver/domain"
	tenantdomain "github.com/kluisz-ai/kanvas/internal/tenant/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	usagedomain "github.com/kluisz-ai/kanvas/internal/usagestats/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TierID  string `json:"tier_id,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
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

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "forbidden"}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case errors.Is(err, licensingdomain.ErrPoolExhausted):
		payload := errorPayload{Type: "pool_exhausted", Message: "no available license slots"}
		var exhausted *licensingdomain.PoolExhaustedError
		if errors.As(err, &exhausted) {
			payload.TierID = exhausted.TierID
			payload.Message = "no available license slots for tier " + exhausted.TierID
		}
		return http.StatusConflict, payload
	case isInvalidOperationError(err):
		return http.StatusConflict, errorPayload{Type: "invalid_operation", Message: err.Error()}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case errors.Is(err, licensingdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{Type: "insufficient_credits", Message: "insufficient credits"}
	case errors.Is(err, langfuse.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "trace_source_unavailable", Message: "trace source unavailable"}
	case errors.Is(err, usagedomain.ErrSyncInProgress):
		return http.StatusConflict, errorPayload{Type: "sync_in_progress", Message: "a sync for this period is already running"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, registrydomain.ErrInvalidKey),
		errors.Is(err, registrydomain.ErrInvalidName),
		errors.Is(err, registrydomain.ErrInvalidCategory),
		errors.Is(err, registrydomain.ErrInvalidType),
		errors.Is(err, tierdomain.ErrInvalidName),
		errors.Is(err, tierdomain.ErrInvalidID),
		errors.Is(err, tierdomain.ErrInvalidMultiplier),
		errors.Is(err, tierdomain.ErrInvalidCredits),
		errors.Is(err, tierdomain.ErrUnknownFeature),
		errors.Is(err, tenantdomain.ErrInvalidName),
		errors.Is(err, tenantdomain.ErrInvalidUsername),
		errors.Is(err, tenantdomain.ErrInvalidID),
		errors.Is(err, licensingdomain.ErrInvalidID),
		errors.Is(err, licensingdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, resolverdomain.ErrInvalidUser),
		errors.Is(err, usagedomain.ErrInvalidPeriod),
		errors.Is(err, usagedomain.ErrInvalidID),
		errors.Is(err, integrationdomain.ErrInvalidID),
		errors.Is(err, integrationdomain.ErrInvalidKey),
		errors.Is(err, integrationdomain.ErrInvalidConfig):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, registrydomain.ErrNotFound),
		errors.Is(err, tierdomain.ErrNotFound),
		errors.Is(err, tenantdomain.ErrNotFound),
		errors.Is(err, licensingdomain.ErrNotFound),
		errors.Is(err, resolverdomain.ErrNotFound),
		errors.Is(err, usagedomain.ErrNotFound),
		errors.Is(err, integrationdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isInvalidOperationError(err error) bool {
	switch {
	case errors.Is(err, registrydomain.ErrInvalidOperation),
		errors.Is(err, tierdomain.ErrInvalidOperation),
		errors.Is(err, licensingdomain.ErrInvalidOperation):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, registrydomain.ErrDuplicateKey),
		errors.Is(err, tierdomain.ErrDuplicateName),
		errors.Is(err, tenantdomain.ErrDuplicateSlug),
		errors.Is(err, tenantdomain.ErrDuplicateUser),
		errors.Is(err, tenantdomain.ErrUserLimitReached),
		errors.Is(err, licensingdomain.ErrAlreadyLicensed),
		errors.Is(err, licensingdomain.ErrNotLicensed):
		return true
	default:
		return false
	}
}
