// Package provider talks to the external travel reservation system. It keeps
// no state and never retries; callers decide what is safe to repeat.
package provider

import (
	"context"

	"github.com/Domenick1991/eventbooking/internal/domain"
)

type HoldFlightRequest struct {
	TraceID        string             `json:"trace_id"`
	OfferRef       string             `json:"offer_ref"`
	FareKey        string             `json:"fare_key,omitempty"`
	Passengers     []domain.Passenger `json:"passengers"`
	IdempotencyKey string             `json:"-"`
}

// IssueRequest issues either from a quoted offer (direct issue) or from a hold.
type IssueRequest struct {
	TraceID        string             `json:"trace_id"`
	OfferRef       string             `json:"offer_ref,omitempty"`
	HoldRef        string             `json:"hold_ref,omitempty"`
	FareKey        string             `json:"fare_key,omitempty"`
	Passengers     []domain.Passenger `json:"passengers"`
	IdempotencyKey string             `json:"-"`
}

type FlightGateway interface {
	SearchFlights(ctx context.Context, criteria domain.FlightCriteria) ([]domain.FlightOffer, error)
	QuoteFare(ctx context.Context, traceID, offerRef string) (domain.PricedOffer, error)
	HoldFlight(ctx context.Context, req HoldFlightRequest) (domain.FlightHold, error)
	IssueTicket(ctx context.Context, req IssueRequest) (domain.FlightTicket, error)
	ReleaseHold(ctx context.Context, traceID, holdRef, idempotencyKey string) error
}

type CommitRequest struct {
	TraceID        string           `json:"trace_id"`
	LockedOfferRef string           `json:"locked_offer_ref"`
	Guest          domain.GuestInfo `json:"guest"`
	IdempotencyKey string           `json:"-"`
}

type HotelGateway interface {
	SearchHotels(ctx context.Context, criteria domain.HotelCriteria) ([]domain.RoomOffer, error)
	HoldRate(ctx context.Context, traceID, offerRef, idempotencyKey string) (domain.RateLock, error)
	CommitStay(ctx context.Context, req CommitRequest) (domain.HotelConfirmation, error)
	ReleaseRate(ctx context.Context, traceID, lockedOfferRef, idempotencyKey string) error
}
