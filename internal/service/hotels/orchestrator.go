// Package hotels drives the search, rate-hold and commit sequence for group
// room blocks.
package hotels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Domenick1991/eventbooking/internal/clock"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/pricing"
	"github.com/Domenick1991/eventbooking/internal/provider"
	"github.com/Domenick1991/eventbooking/internal/service/pipeline"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type HotelUseCase interface {
	Search(ctx context.Context, eventID string, criteria domain.HotelCriteria) (SearchResult, error)
	Book(ctx context.Context, input BookInput) (*Result, error)
}

type SessionStore interface {
	SaveRoomOffers(ctx context.Context, traceID string, offers []domain.RoomOffer) error
	RoomOffers(ctx context.Context, traceID string) ([]domain.RoomOffer, error)
	ConsumeRoomSession(ctx context.Context, traceID string) error
}

type SearchResult struct {
	Session domain.BookingSession
	Offers  []domain.RoomOffer
}

type BookInput struct {
	EventID    string                `json:"event_id"`
	Label      string                `json:"label,omitempty"`
	Criteria   domain.HotelCriteria  `json:"criteria"`
	TraceID    string                `json:"trace_id,omitempty"`
	OfferRef   string                `json:"offer_ref,omitempty"`
	Guest      domain.GuestInfo      `json:"guest"`
	Commission domain.CommissionRule `json:"commission"`
}

type Result struct {
	Booking *domain.CommittedBooking
	Session domain.BookingSession
	Price   pricing.Breakdown
}

type Orchestrator struct {
	gateway  provider.HotelGateway
	sessions SessionStore
	gate     *pipeline.Gate
	recorder *pipeline.Recorder
	retry    pipeline.RetryPolicy
	clock    clock.Clock
	logger   *logrus.Logger
	newID    func() string
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

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

func NewOrchestrator(gateway provider.HotelGateway, recorder *pipeline.Recorder, logger *logrus.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	o := &Orchestrator{
		gateway:  gateway,
		recorder: recorder,
		retry:    pipeline.RetryPolicy{Retries: 2, Backoff: 300 * time.Millisecond},
		clock:    clock.NewSystem(),
		logger:   logger,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.gate == nil {
		o.gate = pipeline.NewGate(nil, 0, logger)
	}
	return o
}

// Search returns priced room offers. Hotels have no synthetic fallback; an
// empty result is ErrNoInventory.
func (o *Orchestrator) Search(ctx context.Context, eventID string, criteria domain.HotelCriteria) (SearchResult, error) {
	if eventID == "" {
		return SearchResult{}, domain.Invalid("event id is required")
	}
	if err := validateCriteria(criteria); err != nil {
		return SearchResult{}, err
	}

	var found []domain.RoomOffer
	err := o.retry.Do(ctx, domain.StateSearching, func(ctx context.Context) error {
		var err error
		found, err = o.gateway.SearchHotels(ctx, criteria)
		return err
	})
	if err != nil {
		return SearchResult{}, stepError(domain.StateSearching, "", err)
	}

	var traceID string
	offers := make([]domain.RoomOffer, 0, len(found))
	for _, offer := range found {
		if offer.TraceID == "" || offer.OfferRef == "" {
			continue
		}
		if traceID == "" {
			traceID = offer.TraceID
		}
		if offer.TraceID == traceID {
			offers = append(offers, offer)
		}
	}
	if len(offers) == 0 {
		return SearchResult{}, fmt.Errorf("%w: property %s has no rooms for %s to %s", domain.ErrNoInventory,
			criteria.PropertyID, criteria.CheckIn.Format(time.DateOnly), criteria.CheckOut.Format(time.DateOnly))
	}

	if o.sessions != nil {
		if err := o.sessions.SaveRoomOffers(ctx, traceID, offers); err != nil {
			o.logger.WithField("trace_id", traceID).WithError(err).Warn("Failed to store room offers")
		}
	}
	return SearchResult{Session: o.newSession(eventID, traceID), Offers: offers}, nil
}

func (o *Orchestrator) ResumeSession(ctx context.Context, eventID, traceID string) (SearchResult, error) {
	if o.sessions == nil {
		return SearchResult{}, fmt.Errorf("%w: no session store configured", domain.ErrOfferNotFound)
	}
	offers, err := o.sessions.RoomOffers(ctx, traceID)
	if err != nil {
		return SearchResult{}, fmt.Errorf("load room offers: %w", err)
	}
	if len(offers) == 0 {
		return SearchResult{}, fmt.Errorf("%w: search %s expired or unknown", domain.ErrOfferNotFound, traceID)
	}
	return SearchResult{Session: o.newSession(eventID, traceID), Offers: offers}, nil
}

func (o *Orchestrator) newSession(eventID, traceID string) domain.BookingSession {
	return domain.BookingSession{
		EventID:     eventID,
		BookingID:   o.newID(),
		ProductLine: domain.ProductHotel,
		TraceID:     traceID,
		StartedAt:   o.clock.Now(),
	}
}

// Book runs search (or resumes one), hold and commit. Provider failures after
// an offer is chosen are recorded as failed bookings.
func (o *Orchestrator) Book(ctx context.Context, input BookInput) (*Result, error) {
	if err := validateBooking(input); err != nil {
		return nil, err
	}

	var (
		found   SearchResult
		release func()
		err     error
	)
	if input.TraceID == "" {
		found, err = o.Search(ctx, input.EventID, input.Criteria)
		var stepErr *domain.StepError
		if err != nil && errors.As(err, &stepErr) {
			b := o.newBooking(domain.BookingSession{BookingID: o.newID()}, input)
			pipeline.Fail(b, domain.StateSearching, err)
			if recErr := o.recorder.Record(ctx, b, nil); recErr != nil {
				return nil, errors.Join(err, recErr)
			}
			return &Result{Booking: b}, err
		}
		if err != nil {
			return nil, err
		}
		if release, err = o.gate.Enter(ctx, found.Session.TraceID); err != nil {
			return nil, err
		}
	} else {
		if release, err = o.gate.Enter(ctx, input.TraceID); err != nil {
			return nil, err
		}
		if found, err = o.ResumeSession(ctx, input.EventID, input.TraceID); err != nil {
			release()
			return nil, err
		}
	}
	defer release()
	session := found.Session

	offer, err := selectOffer(session, found.Offers, input)
	if err != nil {
		return nil, err
	}
	session = session.WithOffer(offer.OfferRef, nil)

	b := o.newBooking(session, input)
	result := &Result{Booking: b, Session: session, Price: pricing.Quote(offer.BaseTotal, input.Commission)}
	b.SupplierBaseCost = result.Price.Base
	b.ClientFacingPrice = result.Price.Price
	b.Currency = offer.Currency

	fail := func(step domain.PipelineState, err error) (*Result, error) {
		pipeline.Fail(b, step, err)
		recErr := o.recorder.Record(ctx, b, nil)
		o.consume(ctx, b)
		if recErr != nil {
			return result, errors.Join(err, recErr)
		}
		return result, err
	}

	lock, err := o.Hold(ctx, session, offer)
	if err != nil {
		return fail(domain.StateHolding, err)
	}
	b.HoldReference = lock.LockedOfferRef

	confirmation, err := o.Commit(ctx, session, lock, input.Guest)
	if err != nil {
		if shouldRelease(ctx, err) {
			o.Release(ctx, session, lock)
		}
		return fail(domain.StateCommitting, err)
	}

	b.Status = domain.BookingStatusCommitted
	b.ExternalReference = confirmation.ConfirmationRef
	label := input.Label
	if label == "" {
		label = strings.TrimSpace(input.Criteria.PropertyID + " " + offer.RoomType)
	}
	block := &domain.InventoryBlock{
		BookingID: b.ID,
		EventID:   b.EventID,
		Label:     label,
		UnitType:  domain.UnitRooms,
		Units:     input.Criteria.Rooms,
		Nights:    input.Criteria.Nights(),
	}
	err = o.recorder.Record(ctx, b, block)
	o.consume(ctx, b)
	if err != nil {
		return result, err
	}
	return result, nil
}

// consume retires a session the provider may have reserved against, so a
// resubmitted trace id is refused rather than committed twice.
func (o *Orchestrator) consume(ctx context.Context, b *domain.CommittedBooking) {
	if o.sessions == nil || b.TraceID == "" {
		return
	}
	if b.Failed() && !b.NeedsReconciliation {
		return
	}
	if err := o.sessions.ConsumeRoomSession(context.WithoutCancel(ctx), b.TraceID); err != nil {
		o.logger.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"trace_id":   b.TraceID,
		}).WithError(err).Warn("Failed to consume hotel session")
	}
}

// Hold locks the rate of offer for a bounded window. It is never retried.
func (o *Orchestrator) Hold(ctx context.Context, session domain.BookingSession, offer domain.RoomOffer) (domain.RateLock, error) {
	if err := session.CheckTrace(offer.TraceID); err != nil {
		return domain.RateLock{}, stepError(domain.StateHolding, session.TraceID, err)
	}
	lock, err := o.gateway.HoldRate(ctx, session.TraceID, offer.OfferRef, session.IdempotencyKey("hold"))
	if err != nil {
		return domain.RateLock{}, stepError(domain.StateHolding, session.TraceID, err)
	}
	if lock.LockedOfferRef == "" {
		return domain.RateLock{}, stepError(domain.StateHolding, session.TraceID,
			fmt.Errorf("%w: hold returned no locked offer", domain.ErrProviderRejected))
	}
	o.logger.WithFields(logrus.Fields{
		"booking_id": session.BookingID,
		"trace_id":   session.TraceID,
		"locked_ref": lock.LockedOfferRef,
		"expires_at": lock.ExpiresAt,
	}).Info("Rate locked")
	return lock, nil
}

// Commit finalises the stay. It is never retried. A lock that has already
// expired is not sent.
func (o *Orchestrator) Commit(ctx context.Context, session domain.BookingSession, lock domain.RateLock, guest domain.GuestInfo) (domain.HotelConfirmation, error) {
	if !lock.ExpiresAt.IsZero() && !o.clock.Now().Before(lock.ExpiresAt) {
		return domain.HotelConfirmation{}, stepError(domain.StateCommitting, session.TraceID,
			fmt.Errorf("%w: rate lock %s expired at %s", domain.ErrProviderRejected, lock.LockedOfferRef, lock.ExpiresAt.Format(time.RFC3339)))
	}
	confirmation, err := o.gateway.CommitStay(ctx, provider.CommitRequest{
		TraceID:        session.TraceID,
		LockedOfferRef: lock.LockedOfferRef,
		Guest:          guest,
		IdempotencyKey: session.IdempotencyKey("commit"),
	})
	if err != nil {
		return domain.HotelConfirmation{}, stepError(domain.StateCommitting, session.TraceID, err)
	}
	if confirmation.ConfirmationRef == "" {
		return domain.HotelConfirmation{}, stepError(domain.StateCommitting, session.TraceID,
			fmt.Errorf("%w: commit returned no confirmation", domain.ErrProviderUnavailable))
	}
	return confirmation, nil
}

func (o *Orchestrator) Release(ctx context.Context, session domain.BookingSession, lock domain.RateLock) {
	ctx = context.WithoutCancel(ctx)
	entry := o.logger.WithFields(logrus.Fields{
		"booking_id": session.BookingID,
		"trace_id":   session.TraceID,
		"locked_ref": lock.LockedOfferRef,
	})
	if err := o.gateway.ReleaseRate(ctx, session.TraceID, lock.LockedOfferRef, session.IdempotencyKey("release")); err != nil {
		entry.WithError(err).Error("Failed to release rate lock")
		return
	}
	entry.Info("Rate lock released")
}

func (o *Orchestrator) newBooking(session domain.BookingSession, input BookInput) *domain.CommittedBooking {
	return &domain.CommittedBooking{
		ID:                session.BookingID,
		EventID:           input.EventID,
		ProductLine:       domain.ProductHotel,
		TraceID:           session.TraceID,
		OfferRef:          session.SelectedOfferRef,
		ExternalReference: domain.PendingReference,
		Commission:        input.Commission,
		UnitsRequested:    input.Criteria.Rooms * input.Criteria.Nights(),
	}
}

func selectOffer(session domain.BookingSession, offers []domain.RoomOffer, input BookInput) (domain.RoomOffer, error) {
	if input.OfferRef == "" {
		if len(offers) == 0 {
			return domain.RoomOffer{}, domain.ErrOfferNotFound
		}
		sorted := make([]domain.RoomOffer, len(offers))
		copy(sorted, offers)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BaseTotal < sorted[j].BaseTotal })
		return sorted[0], nil
	}
	if err := session.CheckTrace(input.TraceID); err != nil {
		return domain.RoomOffer{}, err
	}
	for _, offer := range offers {
		if offer.OfferRef == input.OfferRef {
			if err := session.CheckTrace(offer.TraceID); err != nil {
				return domain.RoomOffer{}, err
			}
			return offer, nil
		}
	}
	return domain.RoomOffer{}, fmt.Errorf("%w: %s in trace %s", domain.ErrOfferNotFound, input.OfferRef, session.TraceID)
}

func shouldRelease(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, domain.ErrProviderRejected)
}

func stepError(step domain.PipelineState, traceID string, err error) error {
	var existing *domain.StepError
	if errors.As(err, &existing) {
		return err
	}
	return &domain.StepError{ProductLine: domain.ProductHotel, Step: step, TraceID: traceID, Err: err}
}

func validateBooking(input BookInput) error {
	if input.EventID == "" {
		return domain.Invalid("event id is required")
	}
	if strings.TrimSpace(input.Guest.LeadName) == "" {
		return domain.Invalid("lead guest name is required")
	}
	if !input.Commission.Valid() {
		return domain.Invalid("unknown commission type %q", input.Commission.Type)
	}
	if input.OfferRef != "" && input.TraceID == "" {
		return domain.Invalid("offer ref needs the trace id of its search")
	}
	return validateCriteria(input.Criteria)
}

func validateCriteria(c domain.HotelCriteria) error {
	switch {
	case strings.TrimSpace(c.PropertyID) == "":
		return domain.Invalid("property id is required")
	case c.CheckIn.IsZero() || c.CheckOut.IsZero():
		return domain.Invalid("check-in and check-out are required")
	case c.Nights() < 1:
		return domain.Invalid("stay must be at least one night")
	case c.Rooms < 1:
		return domain.Invalid("at least one room is required")
	case c.Adults < 1:
		return domain.Invalid("at least one adult is required")
	}
	return nil
}

var _ HotelUseCase = (*Orchestrator)(nil)
