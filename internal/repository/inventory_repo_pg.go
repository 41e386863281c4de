package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type InventoryRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, rec *domain.InventoryRecord) error
	Get(ctx context.Context, bookingID string) (domain.InventoryRecord, error)
	GetForUpdate(ctx context.Context, bookingID string) (domain.InventoryRecord, error)
	SetConfirmed(ctx context.Context, bookingID string, confirmed int, at time.Time) error
	MarkConfirmationApplied(ctx context.Context, confirmationID, bookingID string, delta int, at time.Time) (bool, error)
	Release(ctx context.Context, bookingID string, at time.Time) error
	ListByEvent(ctx context.Context, eventID string) ([]domain.InventoryRecord, error)
	ListEventIDs(ctx context.Context) ([]string, error)
}

type PGInventoryRepository struct {
	db *pgxpool.Pool
}

func NewInventoryRepository(db *pgxpool.Pool) InventoryRepository {
	return &PGInventoryRepository{db: db}
}

const inventoryColumns = `booking_id, event_id, label, unit_type, units_blocked, units_confirmed, nights, synthetic, released, created_at, updated_at`

func scanInventory(row pgx.Row) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := row.Scan(&rec.BookingID, &rec.EventID, &rec.Label, &rec.UnitType, &rec.UnitsBlocked,
		&rec.UnitsConfirmed, &rec.Nights, &rec.Synthetic, &rec.Released, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func (r *PGInventoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db, fn)
}

func (r *PGInventoryRepository) Create(ctx context.Context, rec *domain.InventoryRecord) error {
	err := conn(ctx, r.db).QueryRow(ctx, `INSERT INTO inventory_records
		(booking_id, event_id, label, unit_type, units_blocked, units_confirmed, nights, synthetic)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		rec.BookingID, rec.EventID, rec.Label, rec.UnitType, rec.UnitsBlocked, rec.UnitsConfirmed, rec.Nights, rec.Synthetic).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrInventoryExists
		}
		return fmt.Errorf("insert inventory record: %w", err)
	}
	return nil
}

func (r *PGInventoryRepository) Get(ctx context.Context, bookingID string) (domain.InventoryRecord, error) {
	return r.get(ctx, `SELECT `+inventoryColumns+` FROM inventory_records WHERE booking_id = $1`, bookingID)
}

func (r *PGInventoryRepository) GetForUpdate(ctx context.Context, bookingID string) (domain.InventoryRecord, error) {
	return r.get(ctx, `SELECT `+inventoryColumns+` FROM inventory_records WHERE booking_id = $1 FOR UPDATE`, bookingID)
}

func (r *PGInventoryRepository) get(ctx context.Context, query, bookingID string) (domain.InventoryRecord, error) {
	rec, err := scanInventory(conn(ctx, r.db).QueryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrInventoryNotFound
		}
		return domain.InventoryRecord{}, fmt.Errorf("get inventory record: %w", err)
	}
	return rec, nil
}

func (r *PGInventoryRepository) SetConfirmed(ctx context.Context, bookingID string, confirmed int, at time.Time) error {
	cmd, err := conn(ctx, r.db).Exec(ctx, `UPDATE inventory_records SET units_confirmed = $1, updated_at = $2
		WHERE booking_id = $3 AND units_confirmed <= $1`, confirmed, at, bookingID)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrReconciliationConflict
		}
		return fmt.Errorf("update inventory record: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrReconciliationConflict
	}
	return nil
}

// MarkConfirmationApplied reports false when confirmationID was already
// applied.
func (r *PGInventoryRepository) MarkConfirmationApplied(ctx context.Context, confirmationID, bookingID string, delta int, at time.Time) (bool, error) {
	cmd, err := conn(ctx, r.db).Exec(ctx, `INSERT INTO inventory_confirmations (confirmation_id, booking_id, delta, applied_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (confirmation_id) DO NOTHING`, confirmationID, bookingID, delta, at)
	if err != nil {
		return false, fmt.Errorf("insert inventory confirmation: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PGInventoryRepository) Release(ctx context.Context, bookingID string, at time.Time) error {
	cmd, err := conn(ctx, r.db).Exec(ctx, `UPDATE inventory_records SET released = TRUE, updated_at = $1
		WHERE booking_id = $2`, at, bookingID)
	if err != nil {
		return fmt.Errorf("release inventory record: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInventoryNotFound
	}
	return nil
}

func (r *PGInventoryRepository) ListByEvent(ctx context.Context, eventID string) ([]domain.InventoryRecord, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT `+inventoryColumns+` FROM inventory_records
		WHERE event_id = $1 ORDER BY created_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list inventory records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0)
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PGInventoryRepository) ListEventIDs(ctx context.Context) ([]string, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT DISTINCT event_id FROM inventory_records ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("list inventory events: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ InventoryRepository = (*PGInventoryRepository)(nil)
