package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: event id is required", domain.ErrValidation), http.StatusBadRequest, "validation_error"},
		{"trace", domain.ErrTraceMismatch, http.StatusConflict, "trace_mismatch"},
		{"busy", domain.ErrSessionBusy, http.StatusConflict, "session_busy"},
		{"consumed", &domain.StepError{Err: domain.ErrSessionConsumed}, http.StatusConflict, "session_consumed"},
		{"not found", domain.ErrPoolNotFound, http.StatusNotFound, "not_found"},
		{"rejected", &domain.ProviderError{Kind: domain.ErrProviderRejected, Status: 422}, http.StatusUnprocessableEntity, "provider_rejected"},
		{"timeout", &domain.StepError{Err: &domain.ProviderError{Kind: domain.ErrProviderUnavailable}}, http.StatusGatewayTimeout, "provider_unavailable"},
		{"upstream 503", &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Status: 503}, http.StatusBadGateway, "provider_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusOf(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteError_HidesInternalMessage(t *testing.T) {
	c, w := newTestContext(http.MethodGet, "/", "")

	writeError(c, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Len(t, c.Errors, 1)
}
