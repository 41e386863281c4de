package flights

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Domenick1991/eventbooking/internal/clock"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/metrics"
	"github.com/Domenick1991/eventbooking/internal/pricing"
	"github.com/Domenick1991/eventbooking/internal/provider"
	"github.com/Domenick1991/eventbooking/internal/service/pipeline"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type FlightUseCase interface {
	Search(ctx context.Context, eventID string, criteria domain.FlightCriteria) (SearchResult, error)
	Book(ctx context.Context, input BookInput) (*Result, error)
}

// SessionStore keeps search results by trace id so a later booking call can
// resolve an offer ref against the search that produced it. A consumed trace
// makes FlightOffers fail with ErrSessionConsumed.
type SessionStore interface {
	SaveFlightOffers(ctx context.Context, traceID string, offers []domain.FlightOffer) error
	FlightOffers(ctx context.Context, traceID string) ([]domain.FlightOffer, error)
	ConsumeFlightSession(ctx context.Context, traceID string) error
}

type SearchResult struct {
	Session domain.BookingSession
	Offers  []domain.FlightOffer
}

type BookInput struct {
	EventID  string                `json:"event_id"`
	Label    string                `json:"label,omitempty"`
	Criteria domain.FlightCriteria `json:"criteria"`
	// TraceID and OfferRef pick an offer from an earlier search. Without a
	// trace id the pipeline searches and takes the cheapest offer.
	TraceID    string                `json:"trace_id,omitempty"`
	OfferRef   string                `json:"offer_ref,omitempty"`
	Passengers []domain.Passenger    `json:"passengers"`
	Commission domain.CommissionRule `json:"commission"`
}

type Result struct {
	Booking *domain.CommittedBooking
	Session domain.BookingSession
	Price   pricing.Breakdown
}

type Orchestrator struct {
	gateway         provider.FlightGateway
	sessions        SessionStore
	gate            *pipeline.Gate
	recorder        *pipeline.Recorder
	retry           pipeline.RetryPolicy
	syntheticOffers int
	metrics         *metrics.Metrics
	clock           clock.Clock
	logger          *logrus.Logger
	newID           func() string
}

type Option func(*Orchestrator)

func WithSessions(store SessionStore) Option {
	return func(o *Orchestrator) {
		o.sessions = store
	}
}

func WithGate(gate *pipeline.Gate) Option {
	return func(o *Orchestrator) {
		if gate != nil {
			o.gate = gate
		}
	}
}

func WithRetry(policy pipeline.RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.retry = policy
	}
}

// WithSyntheticOffers sets how many placeholder offers an empty search yields.
func WithSyntheticOffers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.syntheticOffers = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

func NewOrchestrator(gateway provider.FlightGateway, recorder *pipeline.Recorder, logger *logrus.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	o := &Orchestrator{
		gateway:         gateway,
		recorder:        recorder,
		retry:           pipeline.RetryPolicy{Retries: 2, Backoff: 300 * time.Millisecond},
		syntheticOffers: 3,
		clock:           clock.NewSystem(),
		logger:          logger,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.gate == nil {
		o.gate = pipeline.NewGate(nil, 0, logger)
	}
	return o
}

// Book runs one complete flight pipeline. Every attempt that reaches the
// provider is recorded; on failure the recorded booking is returned together
// with the error.
func (o *Orchestrator) Book(ctx context.Context, input BookInput) (*Result, error) {
	if err := validateBooking(input); err != nil {
		return nil, err
	}

	var (
		session domain.BookingSession
		offers  []domain.FlightOffer
		release func()
	)
	if input.TraceID == "" {
		found, err := o.Search(ctx, input.EventID, input.Criteria)
		if err != nil {
			var stepErr *domain.StepError
			if !errors.As(err, &stepErr) {
				return nil, err
			}
			b := o.newBooking(domain.BookingSession{BookingID: o.newID(), EventID: input.EventID}, input)
			pipeline.Fail(b, domain.StateSearching, err)
			if recErr := o.recorder.Record(ctx, b, nil); recErr != nil {
				return nil, errors.Join(err, recErr)
			}
			return &Result{Booking: b}, err
		}
		session, offers = found.Session, found.Offers
		if release, err = o.gate.Enter(ctx, session.TraceID); err != nil {
			return nil, err
		}
	} else {
		// the stored offers are read under the gate so a second call on the
		// same trace sees the first one's tombstone
		var err error
		if release, err = o.gate.Enter(ctx, input.TraceID); err != nil {
			return nil, err
		}
		resumed, err := o.ResumeSession(ctx, input.EventID, input.TraceID)
		if err != nil {
			release()
			return nil, err
		}
		session, offers = resumed.Session, resumed.Offers
	}
	defer release()

	var err error
	var offer domain.FlightOffer
	if input.OfferRef == "" {
		session, offer, err = SelectCheapest(session, offers)
	} else {
		session, offer, err = SelectOffer(session, offers, input.TraceID, input.OfferRef)
	}
	if err != nil {
		return nil, err
	}

	b := o.newBooking(session, input)
	result := &Result{Booking: b, Session: session}
	entry := o.logger.WithFields(logrus.Fields{
		"booking_id": session.BookingID,
		"trace_id":   session.TraceID,
		"offer_ref":  offer.OfferRef,
		"settlement": domain.SettlementName(session.Settlement),
	})

	fail := func(step domain.PipelineState, err error) (*Result, error) {
		pipeline.Fail(b, step, err)
		recErr := o.recorder.Record(ctx, b, nil)
		o.consume(ctx, b)
		if recErr != nil {
			return result, errors.Join(err, recErr)
		}
		return result, err
	}

	priced, err := o.Quote(ctx, session, session.TraceID, offer)
	if err != nil {
		return fail(domain.StateQuoted, err)
	}
	result.Price = pricing.Quote(priced.BaseFare, input.Commission)
	b.SupplierBaseCost = result.Price.Base
	b.ClientFacingPrice = result.Price.Price
	b.Currency = priced.Currency
	entry.WithField("client_facing_price", b.ClientFacingPrice).Info("Fare confirmed")

	var hold *domain.FlightHold
	if _, ok := session.Settlement.(domain.HoldThenIssue); ok {
		h, err := o.Hold(ctx, session, priced, input.Passengers)
		if err != nil {
			return fail(domain.StateHolding, err)
		}
		hold = &h
		b.HoldReference = h.HoldRef
		entry.WithField("pnr", h.PNR).Info("Flight held")
	}

	ticket, err := o.Issue(ctx, session, priced, hold, input.Passengers)
	if err != nil {
		step := issueStep(session.Settlement)
		if hold != nil && shouldRelease(ctx, err) {
			o.Release(ctx, session, *hold)
		}
		return fail(step, err)
	}
	if strings.TrimSpace(ticket.Reference) == "" {
		err := &domain.StepError{
			ProductLine: domain.ProductFlight,
			Step:        issueStep(session.Settlement),
			TraceID:     session.TraceID,
			Err:         fmt.Errorf("%w: issue returned no ticket reference", domain.ErrProviderRejected),
		}
		b.NeedsReconciliation = true
		return fail(err.Step, err)
	}
	if !ticket.Issued() {
		err := &domain.StepError{
			ProductLine: domain.ProductFlight,
			Step:        issueStep(session.Settlement),
			TraceID:     session.TraceID,
			Err:         fmt.Errorf("%w: ticket %s came back with status %q", domain.ErrProviderRejected, ticket.Reference, ticket.Status),
		}
		// the provider holds a record under this reference
		b.NeedsReconciliation = true
		return fail(err.Step, err)
	}

	b.Status = domain.BookingStatusIssued
	b.ExternalReference = ticket.Reference
	block := &domain.InventoryBlock{
		BookingID: b.ID,
		EventID:   b.EventID,
		Label:     blockLabel(input.Label, offer),
		UnitType:  domain.UnitSeats,
		Units:     b.UnitsRequested,
		Synthetic: b.SyntheticFallback,
	}
	err = o.recorder.Record(ctx, b, block)
	o.consume(ctx, b)
	if err != nil {
		return result, err
	}
	return result, nil
}

// consume retires the session once the provider may hold a reservation for
// it. A later call with the same trace id is refused instead of issuing again
// under a fresh idempotency key.
func (o *Orchestrator) consume(ctx context.Context, b *domain.CommittedBooking) {
	if o.sessions == nil || b.TraceID == "" {
		return
	}
	if b.Failed() && !b.NeedsReconciliation {
		return
	}
	if err := o.sessions.ConsumeFlightSession(context.WithoutCancel(ctx), b.TraceID); err != nil {
		o.logger.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"trace_id":   b.TraceID,
		}).WithError(err).Warn("Failed to consume flight session")
	}
}

func (o *Orchestrator) newBooking(session domain.BookingSession, input BookInput) *domain.CommittedBooking {
	return &domain.CommittedBooking{
		ID:                session.BookingID,
		EventID:           input.EventID,
		ProductLine:       domain.ProductFlight,
		TraceID:           session.TraceID,
		OfferRef:          session.SelectedOfferRef,
		Settlement:        domain.SettlementName(session.Settlement),
		ExternalReference: domain.PendingReference,
		Commission:        input.Commission,
		SyntheticFallback: session.SyntheticFallback,
		UnitsRequested:    seatsRequested(input),
	}
}

// Quote re-confirms the fare with the provider. Synthetic offers are priced
// locally from the search result.
func (o *Orchestrator) Quote(ctx context.Context, session domain.BookingSession, traceID string, offer domain.FlightOffer) (domain.PricedOffer, error) {
	if err := session.CheckTrace(traceID); err != nil {
		return domain.PricedOffer{}, stepError(domain.StateQuoted, traceID, err)
	}
	if err := session.CheckTrace(offer.TraceID); err != nil {
		return domain.PricedOffer{}, stepError(domain.StateQuoted, session.TraceID, err)
	}
	if _, ok := session.Settlement.(domain.MockIssue); ok {
		return domain.PricedOffer{
			TraceID:  session.TraceID,
			OfferRef: offer.OfferRef,
			BaseFare: offer.BaseFare,
			Currency: offer.Currency,
		}, nil
	}

	var priced domain.PricedOffer
	err := o.retry.Do(ctx, domain.StateQuoted, func(ctx context.Context) error {
		var err error
		priced, err = o.gateway.QuoteFare(ctx, session.TraceID, offer.OfferRef)
		return err
	})
	if err != nil {
		return domain.PricedOffer{}, stepError(domain.StateQuoted, session.TraceID, err)
	}
	if priced.TraceID == "" {
		priced.TraceID = session.TraceID
	}
	if err := session.CheckTrace(priced.TraceID); err != nil {
		return domain.PricedOffer{}, stepError(domain.StateQuoted, session.TraceID, err)
	}
	if priced.OfferRef == "" {
		priced.OfferRef = offer.OfferRef
	}
	if priced.Currency == "" {
		priced.Currency = offer.Currency
	}
	return priced, nil
}

// Hold reserves the quoted fare. It is never retried.
func (o *Orchestrator) Hold(ctx context.Context, session domain.BookingSession, priced domain.PricedOffer, passengers []domain.Passenger) (domain.FlightHold, error) {
	if err := session.CheckTrace(priced.TraceID); err != nil {
		return domain.FlightHold{}, stepError(domain.StateHolding, session.TraceID, err)
	}
	if _, ok := session.Settlement.(domain.HoldThenIssue); !ok {
		return domain.FlightHold{}, stepError(domain.StateHolding, session.TraceID,
			domain.Invalid("settlement %q does not hold", domain.SettlementName(session.Settlement)))
	}
	hold, err := o.gateway.HoldFlight(ctx, provider.HoldFlightRequest{
		TraceID:        session.TraceID,
		OfferRef:       priced.OfferRef,
		FareKey:        priced.FareKey,
		Passengers:     passengers,
		IdempotencyKey: session.IdempotencyKey("hold"),
	})
	if err != nil {
		return domain.FlightHold{}, stepError(domain.StateHolding, session.TraceID, err)
	}
	if hold.HoldRef == "" {
		return domain.FlightHold{}, stepError(domain.StateHolding, session.TraceID,
			fmt.Errorf("%w: hold returned no hold reference", domain.ErrProviderRejected))
	}
	return hold, nil
}

// Issue finalises the ticket along the session's settlement model. It is never
// retried; a synthetic session gets a local reference without any provider call.
func (o *Orchestrator) Issue(ctx context.Context, session domain.BookingSession, priced domain.PricedOffer, hold *domain.FlightHold, passengers []domain.Passenger) (domain.FlightTicket, error) {
	step := issueStep(session.Settlement)
	if err := session.CheckTrace(priced.TraceID); err != nil {
		return domain.FlightTicket{}, stepError(step, session.TraceID, err)
	}

	req := provider.IssueRequest{
		TraceID:        session.TraceID,
		Passengers:     passengers,
		IdempotencyKey: session.IdempotencyKey("issue"),
	}
	switch session.Settlement.(type) {
	case domain.MockIssue:
		return domain.FlightTicket{Reference: syntheticReference(o.newID()), Status: "mock_issued"}, nil
	case domain.DirectIssue:
		req.OfferRef = priced.OfferRef
		req.FareKey = priced.FareKey
	case domain.HoldThenIssue:
		if hold == nil || hold.HoldRef == "" {
			return domain.FlightTicket{}, stepError(step, session.TraceID, domain.Invalid("hold-then-issue needs a hold reference"))
		}
		req.HoldRef = hold.HoldRef
	default:
		return domain.FlightTicket{}, stepError(step, session.TraceID, domain.Invalid("no settlement model selected"))
	}

	ticket, err := o.gateway.IssueTicket(ctx, req)
	if err != nil {
		return domain.FlightTicket{}, stepError(step, session.TraceID, err)
	}
	return ticket, nil
}

// Release gives a hold back to the provider. It runs detached from ctx so a
// cancelled caller still frees the reservation.
func (o *Orchestrator) Release(ctx context.Context, session domain.BookingSession, hold domain.FlightHold) {
	ctx = context.WithoutCancel(ctx)
	entry := o.logger.WithFields(logrus.Fields{
		"booking_id": session.BookingID,
		"trace_id":   session.TraceID,
		"hold_ref":   hold.HoldRef,
	})
	if err := o.gateway.ReleaseHold(ctx, session.TraceID, hold.HoldRef, session.IdempotencyKey("release")); err != nil {
		entry.WithError(err).Error("Failed to release flight hold")
		return
	}
	entry.Info("Flight hold released")
}

// shouldRelease reports whether a failed issue leaves a hold we own. A timed
// out issue may have ticketed server-side and is left for reconciliation.
func shouldRelease(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, domain.ErrProviderRejected) || errors.Is(err, domain.ErrValidation)
}

func issueStep(model domain.SettlementModel) domain.PipelineState {
	if _, ok := model.(domain.HoldThenIssue); ok {
		return domain.StateIssuing
	}
	return domain.StateDirectIssuing
}

func stepError(step domain.PipelineState, traceID string, err error) error {
	var existing *domain.StepError
	if errors.As(err, &existing) {
		return err
	}
	return &domain.StepError{ProductLine: domain.ProductFlight, Step: step, TraceID: traceID, Err: err}
}

func validateBooking(input BookInput) error {
	if input.EventID == "" {
		return domain.Invalid("event id is required")
	}
	if len(input.Passengers) == 0 {
		return domain.Invalid("at least one passenger is required")
	}
	if !input.Commission.Valid() {
		return domain.Invalid("unknown commission type %q", input.Commission.Type)
	}
	if input.OfferRef != "" && input.TraceID == "" {
		return domain.Invalid("offer ref needs the trace id of its search")
	}
	return nil
}

func seatsRequested(input BookInput) int {
	if n := input.Criteria.Seats(); n > 0 {
		return n
	}
	n := 0
	for _, p := range input.Passengers {
		if !strings.EqualFold(p.Type, "infant") {
			n++
		}
	}
	return n
}

// SelectCheapest picks the lowest fare, keeping search order on ties.
func SelectCheapest(session domain.BookingSession, offers []domain.FlightOffer) (domain.BookingSession, domain.FlightOffer, error) {
	if len(offers) == 0 {
		return session, domain.FlightOffer{}, domain.ErrOfferNotFound
	}
	sorted := make([]domain.FlightOffer, len(offers))
	copy(sorted, offers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BaseFare < sorted[j].BaseFare })
	return SelectOffer(session, offers, session.TraceID, sorted[0].OfferRef)
}

// SelectOffer binds offerRef to the session and resolves its settlement model.
func SelectOffer(session domain.BookingSession, offers []domain.FlightOffer, traceID, offerRef string) (domain.BookingSession, domain.FlightOffer, error) {
	if err := session.CheckTrace(traceID); err != nil {
		return session, domain.FlightOffer{}, err
	}
	for _, offer := range offers {
		if offer.OfferRef != offerRef {
			continue
		}
		if err := session.CheckTrace(offer.TraceID); err != nil {
			return session, domain.FlightOffer{}, err
		}
		return session.WithOffer(offer.OfferRef, settlementFor(offer)), offer, nil
	}
	return session, domain.FlightOffer{}, fmt.Errorf("%w: %s in trace %s", domain.ErrOfferNotFound, offerRef, session.TraceID)
}

func settlementFor(offer domain.FlightOffer) domain.SettlementModel {
	switch {
	case offer.Synthetic:
		return domain.MockIssue{}
	case offer.RequiresHold:
		return domain.HoldThenIssue{}
	default:
		return domain.DirectIssue{}
	}
}

var _ FlightUseCase = (*Orchestrator)(nil)
