package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.CommittedBooking) error
	GetByID(ctx context.Context, id string) (*domain.CommittedBooking, error)
	ListByEvent(ctx context.Context, eventID string, product domain.ProductLine) ([]domain.CommittedBooking, error)
	Cancel(ctx context.Context, id string) (*domain.CommittedBooking, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `id, event_id, product_line, status, trace_id, offer_ref, settlement, external_reference,
	hold_reference, supplier_base_cost, commission_type, commission_value, client_facing_price, currency,
	synthetic_fallback, units_requested, failed_state, failure_reason, needs_reconciliation, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.CommittedBooking, error) {
	var b domain.CommittedBooking
	err := row.Scan(&b.ID, &b.EventID, &b.ProductLine, &b.Status, &b.TraceID, &b.OfferRef, &b.Settlement,
		&b.ExternalReference, &b.HoldReference, &b.SupplierBaseCost, &b.Commission.Type, &b.Commission.Value,
		&b.ClientFacingPrice, &b.Currency, &b.SyntheticFallback, &b.UnitsRequested, &b.FailedState,
		&b.FailureReason, &b.NeedsReconciliation, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PGBookingRepository) Create(ctx context.Context, b *domain.CommittedBooking) error {
	if b.ExternalReference == "" {
		b.ExternalReference = domain.PendingReference
	}
	err := conn(ctx, r.db).QueryRow(ctx, `INSERT INTO bookings (id, event_id, product_line, status, trace_id, offer_ref,
		settlement, external_reference, hold_reference, supplier_base_cost, commission_type, commission_value,
		client_facing_price, currency, synthetic_fallback, units_requested, failed_state, failure_reason, needs_reconciliation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at`,
		b.ID, b.EventID, b.ProductLine, b.Status, b.TraceID, b.OfferRef, b.Settlement, b.ExternalReference,
		b.HoldReference, b.SupplierBaseCost, b.Commission.Type, b.Commission.Value, b.ClientFacingPrice, b.Currency,
		b.SyntheticFallback, b.UnitsRequested, b.FailedState, b.FailureReason, b.NeedsReconciliation).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.CommittedBooking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (r *PGBookingRepository) ListByEvent(ctx context.Context, eventID string, product domain.ProductLine) ([]domain.CommittedBooking, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE event_id = $1 AND ($2 = '' OR product_line = $2)
		ORDER BY created_at`, eventID, string(product))
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]domain.CommittedBooking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// Cancel is a status transition; booking rows are never deleted. Only issued
// or committed rows move, so a concurrent cancel or a failed attempt is
// resolved from the row as it stands.
func (r *PGBookingRepository) Cancel(ctx context.Context, id string) (*domain.CommittedBooking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx, `UPDATE bookings SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN ($3, $4) RETURNING `+bookingColumns,
		domain.BookingStatusCancelled, id, domain.BookingStatusIssued, domain.BookingStatusCommitted))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.BookingStatusCancelled {
		return current, nil
	}
	return nil, domain.Invalid("booking %s is %s and cannot be cancelled", id, current.Status)
}

var _ BookingRepository = (*PGBookingRepository)(nil)
