// Package inventory keeps blocked versus confirmed units per booking and
// derives the early-warning feed from them.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/eventbooking/internal/clock"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/kafka"
	"github.com/Domenick1991/eventbooking/internal/keylock"
	"github.com/Domenick1991/eventbooking/internal/metrics"
	"github.com/Domenick1991/eventbooking/internal/repository"
	"github.com/sirupsen/logrus"
)

type LedgerUseCase interface {
	RegisterBlock(ctx context.Context, block domain.InventoryBlock) (domain.InventoryRecord, error)
	RecordConfirmation(ctx context.Context, bookingID string, delta int) (domain.InventoryRecord, error)
	Status(ctx context.Context, eventID string) ([]domain.AlertRow, error)
	Sweep(ctx context.Context) (int, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Thresholds are whole percentages; utilisation at or above a threshold
// lands in that tier.
type Thresholds struct {
	WarningPct  int
	CriticalPct int
}

var DefaultThresholds = Thresholds{WarningPct: 70, CriticalPct: 90}

// Classify compares in integers so 89.9% never rounds into critical.
func (t Thresholds) Classify(confirmed, blocked int) domain.Severity {
	if blocked <= 0 {
		return domain.SeverityOK
	}
	switch {
	case confirmed*100 >= t.CriticalPct*blocked:
		return domain.SeverityCritical
	case confirmed*100 >= t.WarningPct*blocked:
		return domain.SeverityWarning
	default:
		return domain.SeverityOK
	}
}

type Ledger struct {
	repo        repository.InventoryRepository
	locks       *keylock.Map
	thresholds  Thresholds
	clock       clock.Clock
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	producer    Producer
	alertsTopic string
}

type LedgerOption func(*Ledger)

func WithThresholds(t Thresholds) LedgerOption {
	return func(l *Ledger) {
		if t.WarningPct > 0 && t.CriticalPct > t.WarningPct {
			l.thresholds = t
		}
	}
}

func WithMetrics(m *metrics.Metrics) LedgerOption {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithAlerts makes Sweep publish every non-ok row to topic.
func WithAlerts(producer Producer, topic string) LedgerOption {
	return func(l *Ledger) {
		l.producer = producer
		l.alertsTopic = topic
	}
}

func WithClock(c clock.Clock) LedgerOption {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

func NewLedger(repo repository.InventoryRepository, logger *logrus.Logger, opts ...LedgerOption) *Ledger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &Ledger{
		repo:       repo,
		locks:      keylock.New(),
		thresholds: DefaultThresholds,
		clock:      clock.NewSystem(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterBlock records the units a booking reserved. It may be called once
// per booking; a second call returns ErrInventoryExists.
func (l *Ledger) RegisterBlock(ctx context.Context, block domain.InventoryBlock) (domain.InventoryRecord, error) {
	if block.BookingID == "" || block.EventID == "" {
		return domain.InventoryRecord{}, domain.Invalid("booking id and event id are required")
	}
	if block.Units <= 0 {
		return domain.InventoryRecord{}, domain.Invalid("units must be positive, got %d", block.Units)
	}
	switch block.UnitType {
	case domain.UnitSeats:
		if block.Nights != 0 {
			return domain.InventoryRecord{}, domain.Invalid("seat blocks carry no nights")
		}
	case domain.UnitRooms:
		if block.Nights <= 0 {
			return domain.InventoryRecord{}, domain.Invalid("room blocks need at least one night")
		}
	default:
		return domain.InventoryRecord{}, domain.Invalid("unknown unit type %q", block.UnitType)
	}

	unlock := l.locks.Lock(block.EventID)
	defer unlock()

	now := l.clock.Now()
	rec := domain.InventoryRecord{
		BookingID:    block.BookingID,
		EventID:      block.EventID,
		Label:        block.Label,
		UnitType:     block.UnitType,
		UnitsBlocked: block.Units,
		Nights:       block.Nights,
		Synthetic:    block.Synthetic,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.repo.Create(ctx, &rec); err != nil {
		return domain.InventoryRecord{}, err
	}

	l.logger.WithFields(logrus.Fields{
		"booking_id": rec.BookingID,
		"event_id":   rec.EventID,
		"unit_type":  rec.UnitType,
		"units":      rec.UnitsBlocked,
		"synthetic":  rec.Synthetic,
	}).Info("Inventory block registered")
	return rec, nil
}

// RecordConfirmation adds delta confirmed units. A delta that would confirm
// more than was blocked is rejected and leaves the record unchanged.
func (l *Ledger) RecordConfirmation(ctx context.Context, bookingID string, delta int) (domain.InventoryRecord, error) {
	return l.ApplyConfirmation(ctx, "", bookingID, delta)
}

// ApplyConfirmation is RecordConfirmation keyed by the id of the message that
// carried it. An id that was already applied leaves the record unchanged and
// returns it without error. An empty id is not deduplicated.
func (l *Ledger) ApplyConfirmation(ctx context.Context, confirmationID, bookingID string, delta int) (domain.InventoryRecord, error) {
	if delta <= 0 {
		return domain.InventoryRecord{}, domain.Invalid("confirmation delta must be positive, got %d", delta)
	}

	current, err := l.repo.Get(ctx, bookingID)
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	unlock := l.locks.Lock(current.EventID)
	defer unlock()

	var (
		result    domain.InventoryRecord
		duplicate bool
	)
	err = l.repo.WithTx(ctx, func(txCtx context.Context) error {
		rec, err := l.repo.GetForUpdate(txCtx, bookingID)
		if err != nil {
			return err
		}
		result = rec

		if confirmationID != "" {
			applied, err := l.repo.MarkConfirmationApplied(txCtx, confirmationID, bookingID, delta, l.clock.Now())
			if err != nil {
				return err
			}
			if !applied {
				duplicate = true
				return nil
			}
		}

		next := rec.UnitsConfirmed + delta
		if next > rec.UnitsBlocked {
			l.metrics.ObserveConflict("inventory")
			l.logger.WithFields(logrus.Fields{
				"booking_id":      bookingID,
				"event_id":        rec.EventID,
				"units_blocked":   rec.UnitsBlocked,
				"units_confirmed": rec.UnitsConfirmed,
				"delta":           delta,
			}).Warn("Over-confirmation rejected")
			return fmt.Errorf("%w: confirming %d more of booking %s would exceed %d blocked (%d confirmed)",
				domain.ErrReconciliationConflict, delta, bookingID, rec.UnitsBlocked, rec.UnitsConfirmed)
		}

		now := l.clock.Now()
		if err := l.repo.SetConfirmed(txCtx, bookingID, next, now); err != nil {
			return err
		}
		result.UnitsConfirmed = next
		result.UpdatedAt = now
		return nil
	})
	if err != nil {
		return result, err
	}
	if duplicate {
		l.logger.WithFields(logrus.Fields{
			"booking_id":      bookingID,
			"confirmation_id": confirmationID,
		}).Info("Confirmation already applied")
		return result, nil
	}

	l.logger.WithFields(logrus.Fields{
		"booking_id":      bookingID,
		"units_confirmed": result.UnitsConfirmed,
		"units_blocked":   result.UnitsBlocked,
	}).Info("Inventory confirmation recorded")
	return result, nil
}

// ReleaseBlock takes a cancelled booking's block out of the status feed. The
// confirmed counts stay as they were.
func (l *Ledger) ReleaseBlock(ctx context.Context, bookingID string) error {
	if bookingID == "" {
		return domain.Invalid("booking id is required")
	}
	if err := l.repo.Release(ctx, bookingID, l.clock.Now()); err != nil {
		return err
	}
	l.logger.WithField("booking_id", bookingID).Info("Inventory block released")
	return nil
}

// Status returns the non-ok rows of an event. Released blocks are left out.
// It reads without taking the event lock.
func (l *Ledger) Status(ctx context.Context, eventID string) ([]domain.AlertRow, error) {
	if eventID == "" {
		return nil, domain.Invalid("event id is required")
	}
	records, err := l.repo.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.AlertRow, 0)
	for _, rec := range records {
		if rec.Released {
			continue
		}
		sev := l.thresholds.Classify(rec.UnitsConfirmed, rec.UnitsBlocked)
		if sev == domain.SeverityOK {
			continue
		}
		alerts = append(alerts, domain.AlertRow{
			BookingID:      rec.BookingID,
			Label:          rec.Label,
			UnitType:       rec.UnitType,
			UnitsBlocked:   rec.UnitsBlocked,
			UnitsConfirmed: rec.UnitsConfirmed,
			UtilizationPct: rec.UtilizationPct(),
			Severity:       sev,
			Synthetic:      rec.Synthetic,
			Message:        alertMessage(rec, sev),
		})
	}
	l.metrics.SetAlerts(eventID, alerts)
	return alerts, nil
}

// Sweep recomputes status for every event and publishes each alert. It
// returns the number of alerts found.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	eventIDs, err := l.repo.ListEventIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, eventID := range eventIDs {
		alerts, err := l.Status(ctx, eventID)
		if err != nil {
			errs = append(errs, fmt.Errorf("status for event %s: %w", eventID, err))
			continue
		}
		total += len(alerts)
		if l.producer == nil || l.alertsTopic == "" {
			continue
		}
		for _, alert := range alerts {
			event := kafka.InventoryAlertEvent{
				Type:       kafka.EventInventoryAlert,
				EventID:    eventID,
				Alert:      alert,
				OccurredAt: l.clock.Now(),
			}
			if err := l.producer.Publish(ctx, l.alertsTopic, eventID, event); err != nil {
				l.logger.WithFields(logrus.Fields{"event_id": eventID, "booking_id": alert.BookingID}).
					WithError(err).Warn("Failed to publish inventory alert")
			}
		}
	}
	return total, errors.Join(errs...)
}

func alertMessage(rec domain.InventoryRecord, sev domain.Severity) string {
	label := rec.Label
	if label == "" {
		label = "Booking " + rec.BookingID
	}
	msg := fmt.Sprintf("%s: %d of %d %s confirmed, %d remaining", label, rec.UnitsConfirmed, rec.UnitsBlocked, rec.UnitType, rec.Remaining())
	if rec.UnitType == domain.UnitRooms && rec.Nights > 0 {
		msg += fmt.Sprintf(" (%d nights)", rec.Nights)
	}
	if sev == domain.SeverityCritical {
		if rec.Remaining() == 0 {
			msg += "; block fully consumed"
		} else {
			msg += "; block nearly exhausted"
		}
	}
	if rec.Synthetic {
		msg += " [synthetic placeholder]"
	}
	return msg
}

var _ LedgerUseCase = (*Ledger)(nil)
