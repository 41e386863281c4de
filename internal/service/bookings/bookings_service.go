package bookings

import (
	"context"
	"errors"

	"github.com/Domenick1991/eventbooking/internal/clock"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/kafka"
	"github.com/Domenick1991/eventbooking/internal/repository"
	"github.com/sirupsen/logrus"
)

type BookingUseCase interface {
	Get(ctx context.Context, id string) (*domain.CommittedBooking, error)
	ListByEvent(ctx context.Context, eventID string, product domain.ProductLine) ([]domain.CommittedBooking, error)
	Cancel(ctx context.Context, id string) (*domain.CommittedBooking, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// BlockReleaser takes a cancelled booking's units out of the inventory feed.
type BlockReleaser interface {
	ReleaseBlock(ctx context.Context, bookingID string) error
}

type BookingService struct {
	bookings  repository.BookingRepository
	inventory BlockReleaser
	producer  Producer
	topic     string
	clock     clock.Clock
	logger    *logrus.Logger
}

type BookingServiceOption func(*BookingService)

func WithEvents(producer Producer, topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.producer = producer
		s.topic = topic
	}
}

func WithInventory(releaser BlockReleaser) BookingServiceOption {
	return func(s *BookingService) {
		s.inventory = releaser
	}
}

func WithClock(c clock.Clock) BookingServiceOption {
	return func(s *BookingService) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewBookingService(bookings repository.BookingRepository, logger *logrus.Logger, opts ...BookingServiceOption) *BookingService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &BookingService{bookings: bookings, clock: clock.NewSystem(), logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BookingService) Get(ctx context.Context, id string) (*domain.CommittedBooking, error) {
	if id == "" {
		return nil, domain.Invalid("booking id is required")
	}
	return s.bookings.GetByID(ctx, id)
}

func (s *BookingService) ListByEvent(ctx context.Context, eventID string, product domain.ProductLine) ([]domain.CommittedBooking, error) {
	if eventID == "" {
		return nil, domain.Invalid("event id is required")
	}
	switch product {
	case "", domain.ProductFlight, domain.ProductHotel:
	default:
		return nil, domain.Invalid("unknown product line %q", product)
	}
	return s.bookings.ListByEvent(ctx, eventID, product)
}

// Cancel marks a booking cancelled. Cancelling twice returns the booking as
// is; failed attempts stay failed so reporting keeps them.
func (s *BookingService) Cancel(ctx context.Context, id string) (*domain.CommittedBooking, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case domain.BookingStatusCancelled:
		return current, nil
	case domain.BookingStatusFailed:
		return nil, domain.Invalid("booking %s failed and cannot be cancelled", id)
	}

	updated, err := s.bookings.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"booking_id":         updated.ID,
		"event_id":           updated.EventID,
		"external_reference": updated.ExternalReference,
	}).Info("Booking cancelled")

	if s.inventory != nil {
		// a block whose registration failed is not there to release
		if err := s.inventory.ReleaseBlock(ctx, updated.ID); err != nil && !errors.Is(err, domain.ErrInventoryNotFound) {
			s.logger.WithField("booking_id", updated.ID).WithError(err).Warn("Failed to release inventory block")
		}
	}

	if s.producer != nil && s.topic != "" {
		event := kafka.NewBookingEvent(kafka.EventBookingCancelled, updated, s.clock.Now())
		if err := s.producer.Publish(ctx, s.topic, updated.ID, event); err != nil {
			s.logger.WithField("booking_id", updated.ID).WithError(err).Warn("Failed to publish booking_cancelled event")
		}
	}
	return updated, nil
}

var _ BookingUseCase = (*BookingService)(nil)
