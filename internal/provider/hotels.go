package provider

import (
	"context"
	"time"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/sirupsen/logrus"
)

type HotelClient struct {
	*Client
}

func NewHotelClient(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger, opts ...ClientOption) *HotelClient {
	return &HotelClient{Client: newClient(domain.ProductHotel, baseURL, apiKey, timeout, logger, opts...)}
}

type hotelSearchResponse struct {
	TraceID string             `json:"trace_id"`
	Offers  []domain.RoomOffer `json:"offers"`
}

func (c *HotelClient) SearchHotels(ctx context.Context, criteria domain.HotelCriteria) ([]domain.RoomOffer, error) {
	var resp hotelSearchResponse
	if err := c.call(ctx, "search", "/search", "", "", criteria, &resp); err != nil {
		return nil, err
	}
	offers := make([]domain.RoomOffer, 0, len(resp.Offers))
	for _, o := range resp.Offers {
		if o.TraceID == "" {
			o.TraceID = resp.TraceID
		}
		offers = append(offers, o)
	}
	return offers, nil
}

type holdRateRequest struct {
	TraceID  string `json:"trace_id"`
	OfferRef string `json:"offer_ref"`
}

func (c *HotelClient) HoldRate(ctx context.Context, traceID, offerRef, idempotencyKey string) (domain.RateLock, error) {
	var lock domain.RateLock
	if err := c.call(ctx, "hold", "/hold", traceID, idempotencyKey, holdRateRequest{TraceID: traceID, OfferRef: offerRef}, &lock); err != nil {
		return domain.RateLock{}, err
	}
	return lock, nil
}

func (c *HotelClient) CommitStay(ctx context.Context, req CommitRequest) (domain.HotelConfirmation, error) {
	var conf domain.HotelConfirmation
	if err := c.call(ctx, "commit", "/commit", req.TraceID, req.IdempotencyKey, req, &conf); err != nil {
		return domain.HotelConfirmation{}, err
	}
	return conf, nil
}

type releaseRateRequest struct {
	TraceID        string `json:"trace_id"`
	LockedOfferRef string `json:"locked_offer_ref"`
}

func (c *HotelClient) ReleaseRate(ctx context.Context, traceID, lockedOfferRef, idempotencyKey string) error {
	return c.call(ctx, "release", "/release", traceID, idempotencyKey, releaseRateRequest{TraceID: traceID, LockedOfferRef: lockedOfferRef}, nil)
}

var _ HotelGateway = (*HotelClient)(nil)
