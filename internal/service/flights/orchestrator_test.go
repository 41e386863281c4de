package flights

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Domenick1991/eventbooking/internal/clock"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/provider"
	"github.com/Domenick1991/eventbooking/internal/service/pipeline"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock структуры

type MockFlightGateway struct {
	mock.Mock
}

func (m *MockFlightGateway) SearchFlights(ctx context.Context, criteria domain.FlightCriteria) ([]domain.FlightOffer, error) {
	args := m.Called(ctx, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FlightOffer), args.Error(1)
}

func (m *MockFlightGateway) QuoteFare(ctx context.Context, traceID, offerRef string) (domain.PricedOffer, error) {
	args := m.Called(ctx, traceID, offerRef)
	return args.Get(0).(domain.PricedOffer), args.Error(1)
}

func (m *MockFlightGateway) HoldFlight(ctx context.Context, req provider.HoldFlightRequest) (domain.FlightHold, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.FlightHold), args.Error(1)
}

func (m *MockFlightGateway) IssueTicket(ctx context.Context, req provider.IssueRequest) (domain.FlightTicket, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.FlightTicket), args.Error(1)
}

func (m *MockFlightGateway) ReleaseHold(ctx context.Context, traceID, holdRef, idempotencyKey string) error {
	args := m.Called(ctx, traceID, holdRef, idempotencyKey)
	return args.Error(0)
}

type MockBookingStore struct {
	mock.Mock
}

func (m *MockBookingStore) Create(ctx context.Context, b *domain.CommittedBooking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) RegisterBlock(ctx context.Context, block domain.InventoryBlock) (domain.InventoryRecord, error) {
	args := m.Called(ctx, block)
	return args.Get(0).(domain.InventoryRecord), args.Error(1)
}

type memSessions struct {
	offers   map[string][]domain.FlightOffer
	consumed map[string]bool
}

func (s *memSessions) SaveFlightOffers(ctx context.Context, traceID string, offers []domain.FlightOffer) error {
	s.offers[traceID] = offers
	return nil
}

func (s *memSessions) FlightOffers(ctx context.Context, traceID string) ([]domain.FlightOffer, error) {
	if s.consumed[traceID] {
		return nil, domain.ErrSessionConsumed
	}
	return s.offers[traceID], nil
}

func (s *memSessions) ConsumeFlightSession(ctx context.Context, traceID string) error {
	delete(s.offers, traceID)
	s.consumed[traceID] = true
	return nil
}

type fixture struct {
	orch      *Orchestrator
	gateway   *MockFlightGateway
	store     *MockBookingStore
	registrar *MockRegistrar
	sessions  *memSessions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := &fixture{
		gateway:   &MockFlightGateway{},
		store:     &MockBookingStore{},
		registrar: &MockRegistrar{},
		sessions:  &memSessions{offers: map[string][]domain.FlightOffer{}, consumed: map[string]bool{}},
	}
	fixed := clock.NewFixed(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	recorder := pipeline.NewRecorder(f.store, f.registrar, logger, pipeline.WithClock(fixed))
	f.orch = NewOrchestrator(f.gateway, recorder, logger,
		WithSessions(f.sessions),
		WithRetry(pipeline.RetryPolicy{Retries: 2}),
		WithClock(fixed),
	)
	var seq int64
	f.orch.newID = func() string { return fmt.Sprintf("id-%d", atomic.AddInt64(&seq, 1)) }
	return f
}

func criteria() domain.FlightCriteria {
	return domain.FlightCriteria{
		Origin:      "LIS",
		Destination: "BCN",
		DepartDate:  time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		Adults:      2,
		Children:    1,
	}
}

func passengers() []domain.Passenger {
	return []domain.Passenger{
		{FirstName: "Ana", LastName: "Silva", Type: "adult"},
		{FirstName: "Rui", LastName: "Silva", Type: "adult"},
		{FirstName: "Ines", LastName: "Silva", Type: "child"},
	}
}

func percent(v int64) domain.CommissionRule {
	return domain.CommissionRule{Type: domain.CommissionPercent, Value: decimal.NewFromInt(v)}
}

func (f *fixture) expectRecord() *domain.CommittedBooking {
	var captured domain.CommittedBooking
	f.store.On("Create", mock.Anything, mock.AnythingOfType("*domain.CommittedBooking")).
		Run(func(args mock.Arguments) { captured = *args.Get(1).(*domain.CommittedBooking) }).
		Return(nil).Once()
	return &captured
}

// Тест 1: полный сценарий hold → issue
func TestOrchestrator_Book_HoldThenIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return([]domain.FlightOffer{
		{TraceID: "tr-1", OfferRef: "off-1", Carrier: "TP", FlightNumber: "TP1000", BaseFare: 20000, Currency: "EUR", RequiresHold: true},
	}, nil).Once()
	f.gateway.On("QuoteFare", mock.Anything, "tr-1", "off-1").
		Return(domain.PricedOffer{TraceID: "tr-1", OfferRef: "off-1", BaseFare: 21000, Currency: "EUR", FareKey: "fk-1"}, nil).Once()
	f.gateway.On("HoldFlight", mock.Anything, mock.MatchedBy(func(req provider.HoldFlightRequest) bool {
		return req.TraceID == "tr-1" && req.FareKey == "fk-1" && len(req.Passengers) == 3 && strings.HasSuffix(req.IdempotencyKey, ":hold")
	})).Return(domain.FlightHold{PNR: "ABC123", HoldRef: "hold-1"}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.MatchedBy(func(req provider.IssueRequest) bool {
		return req.TraceID == "tr-1" && req.HoldRef == "hold-1" && req.OfferRef == "" && strings.HasSuffix(req.IdempotencyKey, ":issue")
	})).Return(domain.FlightTicket{Reference: "TKT-9", Status: "issued"}, nil).Once()
	recorded := f.expectRecord()
	f.registrar.On("RegisterBlock", mock.Anything, mock.MatchedBy(func(b domain.InventoryBlock) bool {
		return b.Units == 3 && b.UnitType == domain.UnitSeats && b.EventID == "evt-1" && !b.Synthetic
	})).Return(domain.InventoryRecord{UnitsBlocked: 3}, nil).Once()

	res, err := f.orch.Book(ctx, BookInput{EventID: "evt-1", Criteria: criteria(), Passengers: passengers(), Commission: percent(10)})
	require.NoError(t, err)

	assert.Equal(t, domain.BookingStatusIssued, res.Booking.Status)
	assert.Equal(t, "TKT-9", res.Booking.ExternalReference)
	assert.NotEqual(t, domain.PendingReference, res.Booking.ExternalReference)
	assert.Equal(t, "hold-1", res.Booking.HoldReference)
	assert.Equal(t, "hold_then_issue", res.Booking.Settlement)
	assert.Equal(t, domain.Money(21000), res.Booking.SupplierBaseCost)
	assert.Equal(t, domain.Money(23100), res.Booking.ClientFacingPrice)
	assert.Equal(t, 3, res.Booking.UnitsRequested)
	assert.False(t, res.Booking.SyntheticFallback)
	assert.Equal(t, "tr-1", recorded.TraceID)

	f.gateway.AssertExpectations(t)
	f.store.AssertExpectations(t)
	f.registrar.AssertExpectations(t)
}

// Тест 2: прямой выпуск без hold
func TestOrchestrator_Book_DirectIssue(t *testing.T) {
	f := newFixture(t)

	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return([]domain.FlightOffer{
		{TraceID: "tr-2", OfferRef: "off-exp", BaseFare: 30000, Currency: "EUR"},
		{TraceID: "tr-2", OfferRef: "off-cheap", BaseFare: 10000, Currency: "EUR"},
	}, nil).Once()
	f.gateway.On("QuoteFare", mock.Anything, "tr-2", "off-cheap").
		Return(domain.PricedOffer{TraceID: "tr-2", OfferRef: "off-cheap", BaseFare: 10000, Currency: "EUR"}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.MatchedBy(func(req provider.IssueRequest) bool {
		return req.OfferRef == "off-cheap" && req.HoldRef == ""
	})).Return(domain.FlightTicket{Reference: "TKT-1"}, nil).Once()
	f.expectRecord()
	f.registrar.On("RegisterBlock", mock.Anything, mock.Anything).Return(domain.InventoryRecord{}, nil).Once()

	res, err := f.orch.Book(context.Background(), BookInput{
		EventID: "evt-1", Criteria: criteria(), Passengers: passengers(),
		Commission: domain.CommissionRule{Type: domain.CommissionAmount, Value: decimal.NewFromInt(500)},
	})
	require.NoError(t, err)
	assert.Equal(t, "direct_issue", res.Booking.Settlement)
	assert.Equal(t, domain.Money(10500), res.Booking.ClientFacingPrice)
	f.gateway.AssertNotCalled(t, "HoldFlight", mock.Anything, mock.Anything)
}

// Тест 3: пустой поиск - синтетические предложения без вызовов Hold/Issue
func TestOrchestrator_Book_SyntheticFallback(t *testing.T) {
	f := newFixture(t)

	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return([]domain.FlightOffer{}, nil).Once()
	recorded := f.expectRecord()
	f.registrar.On("RegisterBlock", mock.Anything, mock.MatchedBy(func(b domain.InventoryBlock) bool {
		return b.Synthetic && b.Units == 3
	})).Return(domain.InventoryRecord{}, nil).Once()

	res, err := f.orch.Book(context.Background(), BookInput{EventID: "evt-1", Criteria: criteria(), Passengers: passengers(), Commission: percent(10)})
	require.NoError(t, err)

	assert.True(t, res.Booking.SyntheticFallback)
	assert.True(t, recorded.SyntheticFallback)
	assert.True(t, strings.HasPrefix(res.Booking.ExternalReference, syntheticPrefix))
	assert.True(t, strings.HasPrefix(res.Booking.TraceID, syntheticPrefix))
	assert.Equal(t, "mock_issue", res.Booking.Settlement)
	assert.Equal(t, domain.BookingStatusIssued, res.Booking.Status)

	f.gateway.AssertNotCalled(t, "QuoteFare", mock.Anything, mock.Anything, mock.Anything)
	f.gateway.AssertNotCalled(t, "HoldFlight", mock.Anything, mock.Anything)
	f.gateway.AssertNotCalled(t, "IssueTicket", mock.Anything, mock.Anything)
	f.registrar.AssertExpectations(t)
}

func TestOrchestrator_Search_StoresOffersAndDropsForeignTrace(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return([]domain.FlightOffer{
		{TraceID: "tr-1", OfferRef: "a"},
		{TraceID: "tr-other", OfferRef: "b"},
		{TraceID: "tr-1", OfferRef: "c"},
	}, nil).Once()

	res, err := f.orch.Search(context.Background(), "evt-1", criteria())
	require.NoError(t, err)
	assert.Equal(t, "tr-1", res.Session.TraceID)
	require.Len(t, res.Offers, 2)
	assert.Equal(t, "c", res.Offers[1].OfferRef)
	assert.Len(t, f.sessions.offers["tr-1"], 2)
}

func TestOrchestrator_Search_RetriesUnavailable(t *testing.T) {
	f := newFixture(t)
	unavailable := &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Message: "503"}
	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return(nil, unavailable).Twice()
	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return([]domain.FlightOffer{{TraceID: "tr-1", OfferRef: "a"}}, nil).Once()

	res, err := f.orch.Search(context.Background(), "evt-1", criteria())
	require.NoError(t, err)
	assert.False(t, res.Session.SyntheticFallback)
	f.gateway.AssertNumberOfCalls(t, "SearchFlights", 3)
}

func TestOrchestrator_Search_Validation(t *testing.T) {
	f := newFixture(t)
	bad := criteria()
	bad.Adults = 0
	_, err := f.orch.Search(context.Background(), "evt-1", bad)
	assert.ErrorIs(t, err, domain.ErrValidation)

	same := criteria()
	same.Destination = "lis"
	_, err = f.orch.Search(context.Background(), "evt-1", same)
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.gateway.AssertNotCalled(t, "SearchFlights", mock.Anything, mock.Anything)
}

func TestOrchestrator_Book_SearchFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	unavailable := &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Message: "gateway timeout"}
	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return(nil, unavailable).Times(3)
	recorded := f.expectRecord()

	res, err := f.orch.Book(context.Background(), BookInput{EventID: "evt-1", Criteria: criteria(), Passengers: passengers(), Commission: percent(0)})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, domain.BookingStatusFailed, recorded.Status)
	assert.Equal(t, domain.PendingReference, recorded.ExternalReference)
	assert.Equal(t, domain.StateSearching, recorded.FailedState)
	assert.False(t, recorded.NeedsReconciliation)
	f.registrar.AssertNotCalled(t, "RegisterBlock", mock.Anything, mock.Anything)
}

func TestOrchestrator_Book_ValidationCreatesNoRow(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Book(context.Background(), BookInput{EventID: "evt-1", Criteria: criteria(), Commission: percent(10)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.orch.Book(context.Background(), BookInput{EventID: "evt-1", Criteria: criteria(), Passengers: passengers()})
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// Тест: после отказа на выпуске hold освобождается, бронь записана как failed
func TestOrchestrator_Book_IssueRejectedReleasesHold(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return([]domain.FlightOffer{
		{TraceID: "tr-1", OfferRef: "off-1", BaseFare: 100, RequiresHold: true},
	}, nil).Once()
	f.gateway.On("QuoteFare", mock.Anything, "tr-1", "off-1").Return(domain.PricedOffer{TraceID: "tr-1", OfferRef: "off-1", BaseFare: 100}, nil).Once()
	f.gateway.On("HoldFlight", mock.Anything, mock.Anything).Return(domain.FlightHold{PNR: "P1", HoldRef: "hold-1"}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.Anything).
		Return(domain.FlightTicket{}, &domain.ProviderError{Kind: domain.ErrProviderRejected, Code: "FARE_EXPIRED", Message: "fare expired"}).Once()
	f.gateway.On("ReleaseHold", mock.Anything, "tr-1", "hold-1", mock.MatchedBy(func(key string) bool {
		return strings.HasSuffix(key, ":release")
	})).Return(nil).Once()
	recorded := f.expectRecord()

	res, err := f.orch.Book(context.Background(), BookInput{EventID: "evt-1", Criteria: criteria(), Passengers: passengers(), Commission: percent(10)})
	require.ErrorIs(t, err, domain.ErrProviderRejected)

	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "tr-1", stepErr.TraceID)
	assert.Equal(t, domain.StateIssuing, stepErr.Step)

	assert.True(t, res.Booking.Failed())
	assert.Equal(t, domain.PendingReference, recorded.ExternalReference)
	assert.Equal(t, domain.StateIssuing, recorded.FailedState)
	assert.Contains(t, recorded.FailureReason, "fare expired")
	assert.False(t, recorded.NeedsReconciliation)
	f.gateway.AssertExpectations(t)
	f.registrar.AssertNotCalled(t, "RegisterBlock", mock.Anything, mock.Anything)
}

func TestOrchestrator_Book_IssueTimeoutNeedsReconciliation(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return([]domain.FlightOffer{
		{TraceID: "tr-1", OfferRef: "off-1", RequiresHold: true},
	}, nil).Once()
	f.gateway.On("QuoteFare", mock.Anything, "tr-1", "off-1").Return(domain.PricedOffer{TraceID: "tr-1", OfferRef: "off-1"}, nil).Once()
	f.gateway.On("HoldFlight", mock.Anything, mock.Anything).Return(domain.FlightHold{HoldRef: "hold-1"}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.Anything).
		Return(domain.FlightTicket{}, &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Message: "context deadline exceeded"}).Once()
	recorded := f.expectRecord()

	_, err := f.orch.Book(context.Background(), BookInput{EventID: "evt-1", Criteria: criteria(), Passengers: passengers(), Commission: percent(10)})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.True(t, recorded.NeedsReconciliation)
	assert.Equal(t, "tr-1", recorded.TraceID)
	f.gateway.AssertNumberOfCalls(t, "IssueTicket", 1)
	f.gateway.AssertNotCalled(t, "ReleaseHold", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_Book_CancelledAfterHoldReleases(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.On("SearchFlights", mock.Anything, criteria()).Return([]domain.FlightOffer{
		{TraceID: "tr-1", OfferRef: "off-1", RequiresHold: true},
	}, nil).Once()
	f.gateway.On("QuoteFare", mock.Anything, "tr-1", "off-1").Return(domain.PricedOffer{TraceID: "tr-1", OfferRef: "off-1"}, nil).Once()
	f.gateway.On("HoldFlight", mock.Anything, mock.Anything).Return(domain.FlightHold{HoldRef: "hold-1"}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).
		Return(domain.FlightTicket{}, &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Message: "context canceled"}).Once()
	f.gateway.On("ReleaseHold", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), "tr-1", "hold-1", mock.Anything).
		Return(nil).Once()
	f.expectRecord()

	_, err := f.orch.Book(ctx, BookInput{EventID: "evt-1", Criteria: criteria(), Passengers: passengers(), Commission: percent(10)})
	require.Error(t, err)
	f.gateway.AssertExpectations(t)
	f.store.AssertExpectations(t)
}

func TestOrchestrator_Book_ResumeStoredSearch(t *testing.T) {
	f := newFixture(t)
	f.sessions.offers["tr-7"] = []domain.FlightOffer{
		{TraceID: "tr-7", OfferRef: "a", BaseFare: 100},
		{TraceID: "tr-7", OfferRef: "b", BaseFare: 200},
	}
	f.gateway.On("QuoteFare", mock.Anything, "tr-7", "b").Return(domain.PricedOffer{TraceID: "tr-7", OfferRef: "b", BaseFare: 200}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.Anything).Return(domain.FlightTicket{Reference: "TKT-7"}, nil).Once()
	f.expectRecord()
	f.registrar.On("RegisterBlock", mock.Anything, mock.MatchedBy(func(b domain.InventoryBlock) bool {
		return b.Units == 3
	})).Return(domain.InventoryRecord{}, nil).Once()

	res, err := f.orch.Book(context.Background(), BookInput{
		EventID: "evt-1", TraceID: "tr-7", OfferRef: "b", Passengers: passengers(), Commission: percent(0),
	})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Booking.OfferRef)
	assert.Equal(t, "TKT-7", res.Booking.ExternalReference)
	f.gateway.AssertNotCalled(t, "SearchFlights", mock.Anything, mock.Anything)
}

// Повторная бронь того же trace id не выписывает второй билет
func TestOrchestrator_Book_SameTraceTwiceIssuesOnce(t *testing.T) {
	f := newFixture(t)
	f.sessions.offers["tr-1"] = []domain.FlightOffer{{TraceID: "tr-1", OfferRef: "o-1", BaseFare: 100}}
	f.gateway.On("QuoteFare", mock.Anything, "tr-1", "o-1").Return(domain.PricedOffer{TraceID: "tr-1", OfferRef: "o-1", BaseFare: 100}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.Anything).Return(domain.FlightTicket{Reference: "TKT-1", Status: "ticketed"}, nil).Once()
	f.expectRecord()
	f.registrar.On("RegisterBlock", mock.Anything, mock.Anything).Return(domain.InventoryRecord{}, nil).Once()

	input := BookInput{EventID: "evt-1", TraceID: "tr-1", OfferRef: "o-1", Passengers: passengers(), Commission: percent(0)}
	first, err := f.orch.Book(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "TKT-1", first.Booking.ExternalReference)
	assert.True(t, f.sessions.consumed["tr-1"])

	second, err := f.orch.Book(context.Background(), input)
	require.ErrorIs(t, err, domain.ErrSessionConsumed)
	assert.Nil(t, second)

	f.gateway.AssertNumberOfCalls(t, "IssueTicket", 1)
	f.store.AssertNumberOfCalls(t, "Create", 1)
}

func TestOrchestrator_Book_AmbiguousIssueConsumesSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.offers["tr-1"] = []domain.FlightOffer{{TraceID: "tr-1", OfferRef: "o-1"}}
	f.gateway.On("QuoteFare", mock.Anything, "tr-1", "o-1").Return(domain.PricedOffer{TraceID: "tr-1", OfferRef: "o-1"}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.Anything).
		Return(domain.FlightTicket{}, &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Message: "gateway timeout"}).Once()
	recorded := f.expectRecord()

	input := BookInput{EventID: "evt-1", TraceID: "tr-1", OfferRef: "o-1", Passengers: passengers(), Commission: percent(0)}
	_, err := f.orch.Book(context.Background(), input)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.True(t, recorded.NeedsReconciliation)

	_, err = f.orch.Book(context.Background(), input)
	require.ErrorIs(t, err, domain.ErrSessionConsumed)
	f.gateway.AssertNumberOfCalls(t, "IssueTicket", 1)
}

func TestOrchestrator_Book_RejectedIssueKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.offers["tr-1"] = []domain.FlightOffer{{TraceID: "tr-1", OfferRef: "o-1"}}
	f.gateway.On("QuoteFare", mock.Anything, "tr-1", "o-1").Return(domain.PricedOffer{TraceID: "tr-1", OfferRef: "o-1"}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.Anything).
		Return(domain.FlightTicket{}, &domain.ProviderError{Kind: domain.ErrProviderRejected, Code: "SOLD_OUT"}).Once()
	f.expectRecord()

	_, err := f.orch.Book(context.Background(), BookInput{EventID: "evt-1", TraceID: "tr-1", OfferRef: "o-1", Passengers: passengers(), Commission: percent(0)})
	require.ErrorIs(t, err, domain.ErrProviderRejected)
	assert.False(t, f.sessions.consumed["tr-1"])
}

// Тест: билет с reference, но не в статусе issued, бронь не подтверждает
func TestOrchestrator_Book_TicketStatusNotIssued(t *testing.T) {
	f := newFixture(t)
	f.sessions.offers["tr-1"] = []domain.FlightOffer{{TraceID: "tr-1", OfferRef: "o-1", BaseFare: 100}}
	f.gateway.On("QuoteFare", mock.Anything, "tr-1", "o-1").Return(domain.PricedOffer{TraceID: "tr-1", OfferRef: "o-1", BaseFare: 100}, nil).Once()
	f.gateway.On("IssueTicket", mock.Anything, mock.Anything).Return(domain.FlightTicket{Reference: "TKT-1", Status: "pending"}, nil).Once()
	recorded := f.expectRecord()

	res, err := f.orch.Book(context.Background(), BookInput{EventID: "evt-1", TraceID: "tr-1", OfferRef: "o-1", Passengers: passengers(), Commission: percent(0)})
	require.ErrorIs(t, err, domain.ErrProviderRejected)
	assert.True(t, res.Booking.Failed())
	assert.Equal(t, domain.PendingReference, recorded.ExternalReference)
	assert.Equal(t, domain.StateDirectIssuing, recorded.FailedState)
	assert.Contains(t, recorded.FailureReason, "TKT-1")
	assert.True(t, recorded.NeedsReconciliation)
	f.registrar.AssertNotCalled(t, "RegisterBlock", mock.Anything, mock.Anything)
}

func TestFlightTicket_Issued(t *testing.T) {
	for status, want := range map[string]bool{
		"": true, "issued": true, "Ticketed": true, "mock_issued": true,
		"pending": false, "error": false, "cancelled": false,
	} {
		assert.Equal(t, want, domain.FlightTicket{Reference: "T", Status: status}.Issued(), status)
	}
}

func TestOrchestrator_Book_UnknownTrace(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Book(context.Background(), BookInput{
		EventID: "evt-1", TraceID: "tr-missing", OfferRef: "a", Passengers: passengers(), Commission: percent(0),
	})
	assert.ErrorIs(t, err, domain.ErrOfferNotFound)
	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// Вызов шага с чужим trace id отклоняется
func TestTraceMismatchRejected(t *testing.T) {
	f := newFixture(t)
	session := domain.BookingSession{TraceID: "tr-1", BookingID: "bk-1"}
	offers := []domain.FlightOffer{{TraceID: "tr-1", OfferRef: "a"}}

	_, _, err := SelectOffer(session, offers, "tr-2", "a")
	assert.ErrorIs(t, err, domain.ErrTraceMismatch)

	selected, offer, err := SelectOffer(session, offers, "tr-1", "a")
	require.NoError(t, err)

	_, err = f.orch.Quote(context.Background(), selected, "tr-2", offer)
	assert.ErrorIs(t, err, domain.ErrTraceMismatch)

	f.gateway.On("QuoteFare", mock.Anything, "tr-1", "a").Return(domain.PricedOffer{TraceID: "tr-9", OfferRef: "a"}, nil).Once()
	_, err = f.orch.Quote(context.Background(), selected, "tr-1", offer)
	assert.ErrorIs(t, err, domain.ErrTraceMismatch)

	_, err = f.orch.Issue(context.Background(), selected, domain.PricedOffer{TraceID: "tr-2"}, nil, passengers())
	assert.ErrorIs(t, err, domain.ErrTraceMismatch)
	f.gateway.AssertNotCalled(t, "IssueTicket", mock.Anything, mock.Anything)
}

func TestSelectOffer_SettlementModel(t *testing.T) {
	session := domain.BookingSession{TraceID: "tr-1"}
	offers := []domain.FlightOffer{
		{TraceID: "tr-1", OfferRef: "direct"},
		{TraceID: "tr-1", OfferRef: "hold", RequiresHold: true},
		{TraceID: "tr-1", OfferRef: "syn", Synthetic: true, RequiresHold: true},
	}
	tests := map[string]domain.SettlementModel{
		"direct": domain.DirectIssue{},
		"hold":   domain.HoldThenIssue{},
		"syn":    domain.MockIssue{},
	}
	for ref, want := range tests {
		s, _, err := SelectOffer(session, offers, "tr-1", ref)
		require.NoError(t, err)
		assert.Equal(t, want, s.Settlement, ref)
		assert.Equal(t, ref, s.SelectedOfferRef)
	}

	_, _, err := SelectOffer(session, offers, "tr-1", "nope")
	assert.ErrorIs(t, err, domain.ErrOfferNotFound)
}

func TestSelectCheapest_KeepsOrderOnTies(t *testing.T) {
	session := domain.BookingSession{TraceID: "tr-1"}
	offers := []domain.FlightOffer{
		{TraceID: "tr-1", OfferRef: "a", BaseFare: 300},
		{TraceID: "tr-1", OfferRef: "b", BaseFare: 100},
		{TraceID: "tr-1", OfferRef: "c", BaseFare: 100},
	}
	s, offer, err := SelectCheapest(session, offers)
	require.NoError(t, err)
	assert.Equal(t, "b", offer.OfferRef)
	assert.Equal(t, "b", s.SelectedOfferRef)

	_, _, err = SelectCheapest(session, nil)
	assert.ErrorIs(t, err, domain.ErrOfferNotFound)
}

func TestSyntheticReference(t *testing.T) {
	ref := syntheticReference("3f2a9c1e-1111-2222-3333-444455556666")
	assert.Equal(t, "SYN-3F2A9C1E11", ref)
}
