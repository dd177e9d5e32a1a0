package server

import (
	"net/http"
	"testing"

	licensingdomain "github.com/kluisz-ai/kanvas/internal/licensing/domain"
	registrydomain "github.com/kluisz-ai/kanvas/internal/registry/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorPoolExhaustedCarriesTier(t *testing.T) {
	status, payload := mapError(&licensingdomain.PoolExhaustedError{TierID: "42"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "pool_exhausted", payload.Type)
	assert.Equal(t, "42", payload.TierID)
	assert.Contains(t, payload.Message, "42")
}

func TestMapErrorPoolExhaustedSentinel(t *testing.T) {
	status, payload := mapError(licensingdomain.ErrPoolExhausted)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "pool_exhausted", payload.Type)
	assert.Empty(t, payload.TierID)
}

func TestMapErrorInvalidOperation(t *testing.T) {
	for _, err := range []error{
		licensingdomain.ErrInvalidOperation,
		tierdomain.ErrInvalidOperation,
		registrydomain.ErrInvalidOperation,
	} {
		status, payload := mapError(err)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "invalid_operation", payload.Type)
	}
}

func TestMapErrorInsufficientCredits(t *testing.T) {
	status, payload := mapError(licensingdomain.ErrInsufficientCredits)
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_credits", payload.Type)
}
