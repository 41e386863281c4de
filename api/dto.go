package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/shopspring/decimal"
)

// date accepts "2006-01-02" as well as RFC 3339 timestamps.
type date struct {
	time.Time
}

func (d *date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q", s)
	}
	d.Time = t
	return nil
}

type commissionRequest struct {
	Type  domain.CommissionType `json:"type"`
	Value decimal.Decimal       `json:"value"`
}

func (r commissionRequest) rule() domain.CommissionRule {
	return domain.CommissionRule{Type: r.Type, Value: r.Value}
}

type priceResponse struct {
	SupplierBaseCost  domain.Money `json:"supplierBaseCost"`
	Commission        domain.Money `json:"commission"`
	ClientFacingPrice domain.Money `json:"clientFacingPrice"`
	Currency          string       `json:"currency,omitempty"`
}

type bookingResponse struct {
	ID                  string       `json:"id"`
	EventID             string       `json:"eventId"`
	ProductLine         string       `json:"productLine"`
	Status              string       `json:"status"`
	Reference           string       `json:"reference"`
	HoldReference       string       `json:"holdReference,omitempty"`
	TraceID             string       `json:"traceId"`
	OfferRef            string       `json:"offerRef,omitempty"`
	Settlement          string       `json:"settlement,omitempty"`
	SupplierBaseCost    domain.Money `json:"supplierBaseCost"`
	ClientFacingPrice   domain.Money `json:"clientFacingPrice"`
	Currency            string       `json:"currency,omitempty"`
	IsSyntheticFallback bool         `json:"isSyntheticFallback"`
	UnitsRequested      int          `json:"unitsRequested"`
	FailedState         string       `json:"failedState,omitempty"`
	FailureReason       string       `json:"failureReason,omitempty"`
	NeedsReconciliation bool         `json:"needsReconciliation,omitempty"`
	CreatedAt           string       `json:"createdAt,omitempty"`
}

func toBookingResponse(b *domain.CommittedBooking) bookingResponse {
	return bookingResponse{
		ID:                  b.ID,
		EventID:             b.EventID,
		ProductLine:         string(b.ProductLine),
		Status:              string(b.Status),
		Reference:           b.ExternalReference,
		HoldReference:       b.HoldReference,
		TraceID:             b.TraceID,
		OfferRef:            b.OfferRef,
		Settlement:          b.Settlement,
		SupplierBaseCost:    b.SupplierBaseCost,
		ClientFacingPrice:   b.ClientFacingPrice,
		Currency:            b.Currency,
		IsSyntheticFallback: b.SyntheticFallback,
		UnitsRequested:      b.UnitsRequested,
		FailedState:         string(b.FailedState),
		FailureReason:       b.FailureReason,
		NeedsReconciliation: b.NeedsReconciliation,
		CreatedAt:           formatTime(b.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
