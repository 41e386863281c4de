package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/eventbooking/internal/clock"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/kafka"
	"github.com/Domenick1991/eventbooking/internal/metrics"
	"github.com/sirupsen/logrus"
)

type BookingStore interface {
	Create(ctx context.Context, b *domain.CommittedBooking) error
}

type InventoryRegistrar interface {
	RegisterBlock(ctx context.Context, block domain.InventoryBlock) (domain.InventoryRecord, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Recorder writes the outcome of every pipeline run. Successful runs also
// register their inventory block.
type Recorder struct {
	bookings  BookingStore
	inventory InventoryRegistrar
	producer  Producer
	topic     string
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *logrus.Logger
}

type RecorderOption func(*Recorder)

func WithEvents(producer Producer, topic string) RecorderOption {
	return func(r *Recorder) {
		r.producer = producer
		r.topic = topic
	}
}

func WithMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

func WithClock(c clock.Clock) RecorderOption {
	return func(r *Recorder) {
		if c != nil {
			r.clock = c
		}
	}
}

func NewRecorder(bookings BookingStore, inventory InventoryRegistrar, logger *logrus.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Recorder{
		bookings:  bookings,
		inventory: inventory,
		clock:     clock.NewSystem(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Now() time.Time {
	return r.clock.Now()
}

// Record persists b even when the caller's context is already cancelled, so
// an abandoned request still leaves its row behind.
func (r *Recorder) Record(ctx context.Context, b *domain.CommittedBooking, block *domain.InventoryBlock) error {
	ctx = context.WithoutCancel(ctx)
	now := r.clock.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	entry := r.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"event_id":   b.EventID,
		"product":    b.ProductLine,
		"trace_id":   b.TraceID,
		"status":     b.Status,
		"synthetic":  b.SyntheticFallback,
	})

	if err := r.bookings.Create(ctx, b); err != nil {
		entry.WithError(err).Error("Failed to record booking")
		return fmt.Errorf("record booking %s: %w", b.ID, err)
	}

	var regErr error
	if !b.Failed() && block != nil && r.inventory != nil {
		if _, err := r.inventory.RegisterBlock(ctx, *block); err != nil {
			entry.WithError(err).Error("Failed to register inventory block")
			regErr = fmt.Errorf("register inventory for booking %s: %w", b.ID, err)
		}
	}

	r.metrics.ObservePipeline(b.ProductLine, string(b.Status))
	if b.Failed() {
		entry.WithFields(logrus.Fields{
			"failed_state":         b.FailedState,
			"needs_reconciliation": b.NeedsReconciliation,
		}).Warn(b.FailureReason)
	} else {
		entry.WithField("external_reference", b.ExternalReference).Info("Booking recorded")
	}

	r.publish(ctx, b)
	return regErr
}

func (r *Recorder) publish(ctx context.Context, b *domain.CommittedBooking) {
	if r.producer == nil || r.topic == "" {
		return
	}
	eventType := kafka.EventBookingFailed
	switch b.Status {
	case domain.BookingStatusIssued:
		eventType = kafka.EventBookingIssued
	case domain.BookingStatusCommitted:
		eventType = kafka.EventBookingCommitted
	}
	if err := r.producer.Publish(ctx, r.topic, b.ID, kafka.NewBookingEvent(eventType, b, r.clock.Now())); err != nil {
		r.logger.WithField("booking_id", b.ID).WithError(err).Warn("Failed to publish booking event")
	}
}

// Fail marks b as a failed attempt of step. A provider timeout in a step that
// reserves something leaves the booking flagged for manual reconciliation.
func Fail(b *domain.CommittedBooking, step domain.PipelineState, err error) {
	b.Status = domain.BookingStatusFailed
	b.ExternalReference = domain.PendingReference
	b.FailedState = step
	b.FailureReason = err.Error()
	if errors.Is(err, domain.ErrProviderUnavailable) && reserves(step) {
		b.NeedsReconciliation = true
	}
}

func reserves(step domain.PipelineState) bool {
	switch step {
	case domain.StateHolding, domain.StateIssuing, domain.StateDirectIssuing, domain.StateCommitting:
		return true
	}
	return false
}
