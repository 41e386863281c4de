package kafka

import (
	"time"

	"github.com/Domenick1991/eventbooking/internal/domain"
)

const (
	EventBookingIssued    = "booking_issued"
	EventBookingCommitted = "booking_committed"
	EventBookingFailed    = "booking_failed"
	EventBookingCancelled = "booking_cancelled"
	EventInventoryAlert   = "inventory_alert"
	EventBudgetDecision   = "budget_decision"
)

type BookingEvent struct {
	Type                string             `json:"type"`
	BookingID           string             `json:"booking_id"`
	EventID             string             `json:"event_id"`
	ProductLine         domain.ProductLine `json:"product_line"`
	Status              string             `json:"status"`
	ExternalReference   string             `json:"external_reference"`
	TraceID             string             `json:"trace_id"`
	ClientFacingPrice   domain.Money       `json:"client_facing_price"`
	Currency            string             `json:"currency"`
	SyntheticFallback   bool               `json:"synthetic_fallback"`
	NeedsReconciliation bool               `json:"needs_reconciliation"`
	FailureReason       string             `json:"failure_reason,omitempty"`
	OccurredAt          time.Time          `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b *domain.CommittedBooking, at time.Time) BookingEvent {
	return BookingEvent{
		Type:                eventType,
		BookingID:           b.ID,
		EventID:             b.EventID,
		ProductLine:         b.ProductLine,
		Status:              string(b.Status),
		ExternalReference:   b.ExternalReference,
		TraceID:             b.TraceID,
		ClientFacingPrice:   b.ClientFacingPrice,
		Currency:            b.Currency,
		SyntheticFallback:   b.SyntheticFallback,
		NeedsReconciliation: b.NeedsReconciliation,
		FailureReason:       b.FailureReason,
		OccurredAt:          at,
	}
}

type InventoryAlertEvent struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id"`
	Alert      domain.AlertRow `json:"alert"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type BudgetDecisionEvent struct {
	Type              string             `json:"type"`
	RequestID         string             `json:"request_id"`
	TierID            string             `json:"tier_id"`
	GuestID           string             `json:"guest_id"`
	Amount            domain.Money       `json:"amount"`
	Status            domain.SpendStatus `json:"status"`
	ConsumedSoFar     domain.Money       `json:"consumed_so_far"`
	SyntheticFallback bool               `json:"synthetic_fallback"`
	OccurredAt        time.Time          `json:"occurred_at"`
}

// ConfirmationEvent is published by the provider integration when units of a
// block are finalised.
type ConfirmationEvent struct {
	// EventID identifies the confirmation; a redelivered id is applied once.
	EventID     string    `json:"event_id,omitempty"`
	BookingID   string    `json:"booking_id"`
	Delta       int       `json:"delta"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
