package flights

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	syntheticPrefix   = "SYN-"
	syntheticCarrier  = "ZZ"
	syntheticCurrency = "XXX"
)

// Search asks the provider for offers. An empty live result is replaced by
// synthetic placeholder offers and the session is marked as a fallback.
func (o *Orchestrator) Search(ctx context.Context, eventID string, criteria domain.FlightCriteria) (SearchResult, error) {
	if eventID == "" {
		return SearchResult{}, domain.Invalid("event id is required")
	}
	if err := validateCriteria(criteria); err != nil {
		return SearchResult{}, err
	}

	session := domain.BookingSession{
		EventID:     eventID,
		BookingID:   o.newID(),
		ProductLine: domain.ProductFlight,
		StartedAt:   o.clock.Now(),
	}

	var found []domain.FlightOffer
	err := o.retry.Do(ctx, domain.StateSearching, func(ctx context.Context) error {
		var err error
		found, err = o.gateway.SearchFlights(ctx, criteria)
		return err
	})
	if err != nil {
		return SearchResult{}, stepError(domain.StateSearching, "", err)
	}

	traceID, live := o.liveOffers(found)
	if len(live) == 0 {
		traceID = syntheticPrefix + o.newID()
		live = o.syntheticFlights(traceID, criteria)
		session.SyntheticFallback = true
		o.metrics.ObserveFallback(domain.ProductFlight)
		o.logger.WithFields(logrus.Fields{
			"event_id":    eventID,
			"trace_id":    traceID,
			"origin":      criteria.Origin,
			"destination": criteria.Destination,
			"offers":      len(live),
		}).Warn("No live flight offers, using synthetic inventory")
	}
	session.TraceID = traceID

	if o.sessions != nil {
		if err := o.sessions.SaveFlightOffers(ctx, traceID, live); err != nil {
			o.logger.WithField("trace_id", traceID).WithError(err).Warn("Failed to store flight offers")
		}
	}
	return SearchResult{Session: session, Offers: live}, nil
}

// ResumeSession rebuilds a session from offers stored by an earlier search.
func (o *Orchestrator) ResumeSession(ctx context.Context, eventID, traceID string) (SearchResult, error) {
	if o.sessions == nil {
		return SearchResult{}, fmt.Errorf("%w: no session store configured", domain.ErrOfferNotFound)
	}
	offers, err := o.sessions.FlightOffers(ctx, traceID)
	if err != nil {
		return SearchResult{}, fmt.Errorf("load flight offers: %w", err)
	}
	if len(offers) == 0 {
		return SearchResult{}, fmt.Errorf("%w: search %s expired or unknown", domain.ErrOfferNotFound, traceID)
	}

	session := domain.BookingSession{
		EventID:           eventID,
		BookingID:         o.newID(),
		ProductLine:       domain.ProductFlight,
		TraceID:           traceID,
		SyntheticFallback: offers[0].Synthetic,
		StartedAt:         o.clock.Now(),
	}
	return SearchResult{Session: session, Offers: offers}, nil
}

// liveOffers keeps the offers that belong to the trace of the first offer.
func (o *Orchestrator) liveOffers(found []domain.FlightOffer) (string, []domain.FlightOffer) {
	var traceID string
	live := make([]domain.FlightOffer, 0, len(found))
	for _, offer := range found {
		if offer.TraceID == "" || offer.OfferRef == "" {
			continue
		}
		if traceID == "" {
			traceID = offer.TraceID
		}
		if offer.TraceID != traceID {
			o.logger.WithFields(logrus.Fields{
				"trace_id":       traceID,
				"offer_trace_id": offer.TraceID,
				"offer_ref":      offer.OfferRef,
			}).Warn("Dropping offer from another trace")
			continue
		}
		offer.Synthetic = false
		live = append(live, offer)
	}
	return traceID, live
}

// syntheticFlights builds placeholder offers for the requested route. They
// carry no fare and are always mock-issued.
func (o *Orchestrator) syntheticFlights(traceID string, criteria domain.FlightCriteria) []domain.FlightOffer {
	day := criteria.DepartDate.Truncate(24 * time.Hour)
	offers := make([]domain.FlightOffer, 0, o.syntheticOffers)
	for i := 0; i < o.syntheticOffers; i++ {
		depart := day.Add(time.Duration(8+3*i) * time.Hour)
		offers = append(offers, domain.FlightOffer{
			TraceID:      traceID,
			OfferRef:     fmt.Sprintf("%s-%d", traceID, i+1),
			Carrier:      syntheticCarrier,
			FlightNumber: fmt.Sprintf("%s%03d", syntheticCarrier, i+1),
			DepartAt:     depart,
			ArriveAt:     depart.Add(2 * time.Hour),
			Currency:     syntheticCurrency,
			Synthetic:    true,
		})
	}
	return offers
}

func syntheticReference(id string) string {
	id = strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(id) > 10 {
		id = id[:10]
	}
	return syntheticPrefix + id
}

func blockLabel(label string, offer domain.FlightOffer) string {
	if label != "" {
		return label
	}
	return strings.TrimSpace(offer.Carrier + " " + offer.FlightNumber)
}

func validateCriteria(c domain.FlightCriteria) error {
	switch {
	case strings.TrimSpace(c.Origin) == "" || strings.TrimSpace(c.Destination) == "":
		return domain.Invalid("origin and destination are required")
	case strings.EqualFold(c.Origin, c.Destination):
		return domain.Invalid("origin and destination must differ")
	case c.DepartDate.IsZero():
		return domain.Invalid("depart date is required")
	case !c.ReturnDate.IsZero() && c.ReturnDate.Before(c.DepartDate):
		return domain.Invalid("return date is before depart date")
	case c.Adults < 1:
		return domain.Invalid("at least one adult is required")
	case c.Children < 0 || c.Infants < 0:
		return domain.Invalid("passenger counts must not be negative")
	case c.Infants > c.Adults:
		return domain.Invalid("each infant needs an adult")
	}
	return nil
}
