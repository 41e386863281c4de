package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error   string           `json:"error"`
	Code    string           `json:"code"`
	TraceID string           `json:"traceId,omitempty"`
	Booking *bookingResponse `json:"booking,omitempty"`
}

// statusOf maps the error taxonomy onto HTTP statuses and stable codes.
func statusOf(err error) (int, string) {
	var providerErr *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrTraceMismatch):
		return http.StatusConflict, "trace_mismatch"
	case errors.Is(err, domain.ErrSessionBusy):
		return http.StatusConflict, "session_busy"
	case errors.Is(err, domain.ErrSessionConsumed):
		return http.StatusConflict, "session_consumed"
	case errors.Is(err, domain.ErrReconciliationConflict):
		return http.StatusConflict, "reconciliation_conflict"
	case errors.Is(err, domain.ErrSpendRequestResolved):
		return http.StatusConflict, "already_resolved"
	case errors.Is(err, domain.ErrInventoryExists):
		return http.StatusConflict, "already_registered"
	case errors.Is(err, domain.ErrNoInventory):
		return http.StatusNotFound, "no_inventory"
	case errors.Is(err, domain.ErrOfferNotFound),
		errors.Is(err, domain.ErrBookingNotFound),
		errors.Is(err, domain.ErrInventoryNotFound),
		errors.Is(err, domain.ErrPoolNotFound),
		errors.Is(err, domain.ErrSpendRequestNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrProviderRejected):
		return http.StatusUnprocessableEntity, "provider_rejected"
	case errors.Is(err, domain.ErrProviderUnavailable):
		// no HTTP status means the call never got an answer
		if errors.As(err, &providerErr) && providerErr.Status == 0 {
			return http.StatusGatewayTimeout, "provider_unavailable"
		}
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusOf(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	var stepErr *domain.StepError
	if errors.As(err, &stepErr) {
		resp.TraceID = stepErr.TraceID
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
		_ = c.Error(err)
	}
	c.JSON(status, resp)
}

// writePipelineError also returns the recorded booking so the caller can see
// its PENDING reference and trace id.
func writePipelineError(c *gin.Context, err error, booking *domain.CommittedBooking) {
	status, code := statusOf(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	var stepErr *domain.StepError
	if errors.As(err, &stepErr) {
		resp.TraceID = stepErr.TraceID
	}
	if booking != nil {
		b := toBookingResponse(booking)
		resp.Booking = &b
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_error"})
}
