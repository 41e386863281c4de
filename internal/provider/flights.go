package provider

import (
	"context"
	"time"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/sirupsen/logrus"
)

type FlightClient struct {
	*Client
}

func NewFlightClient(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger, opts ...ClientOption) *FlightClient {
	return &FlightClient{Client: newClient(domain.ProductFlight, baseURL, apiKey, timeout, logger, opts...)}
}

type flightSearchResponse struct {
	TraceID string               `json:"trace_id"`
	Offers  []domain.FlightOffer `json:"offers"`
}

func (c *FlightClient) SearchFlights(ctx context.Context, criteria domain.FlightCriteria) ([]domain.FlightOffer, error) {
	var resp flightSearchResponse
	if err := c.call(ctx, "search", "/search", "", "", criteria, &resp); err != nil {
		return nil, err
	}
	offers := make([]domain.FlightOffer, 0, len(resp.Offers))
	for _, o := range resp.Offers {
		if o.TraceID == "" {
			o.TraceID = resp.TraceID
		}
		offers = append(offers, o)
	}
	return offers, nil
}

type quoteRequest struct {
	TraceID  string `json:"trace_id"`
	OfferRef string `json:"offer_ref"`
}

func (c *FlightClient) QuoteFare(ctx context.Context, traceID, offerRef string) (domain.PricedOffer, error) {
	var priced domain.PricedOffer
	if err := c.call(ctx, "quote", "/quote", traceID, "", quoteRequest{TraceID: traceID, OfferRef: offerRef}, &priced); err != nil {
		return domain.PricedOffer{}, err
	}
	if priced.TraceID == "" {
		priced.TraceID = traceID
	}
	if priced.OfferRef == "" {
		priced.OfferRef = offerRef
	}
	return priced, nil
}

func (c *FlightClient) HoldFlight(ctx context.Context, req HoldFlightRequest) (domain.FlightHold, error) {
	var hold domain.FlightHold
	if err := c.call(ctx, "hold", "/hold", req.TraceID, req.IdempotencyKey, req, &hold); err != nil {
		return domain.FlightHold{}, err
	}
	return hold, nil
}

func (c *FlightClient) IssueTicket(ctx context.Context, req IssueRequest) (domain.FlightTicket, error) {
	var ticket domain.FlightTicket
	if err := c.call(ctx, "issue", "/issue", req.TraceID, req.IdempotencyKey, req, &ticket); err != nil {
		return domain.FlightTicket{}, err
	}
	return ticket, nil
}

type releaseHoldRequest struct {
	TraceID string `json:"trace_id"`
	HoldRef string `json:"hold_ref"`
}

func (c *FlightClient) ReleaseHold(ctx context.Context, traceID, holdRef, idempotencyKey string) error {
	return c.call(ctx, "release", "/release", traceID, idempotencyKey, releaseHoldRequest{TraceID: traceID, HoldRef: holdRef}, nil)
}

var _ FlightGateway = (*FlightClient)(nil)
