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

type BudgetRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetPool(ctx context.Context, tierID string) (domain.BudgetPool, error)
	GetPoolForUpdate(ctx context.Context, tierID string) (domain.BudgetPool, error)
	UpsertPool(ctx context.Context, pool domain.BudgetPool) (domain.BudgetPool, error)
	SetConsumption(ctx context.Context, tierID string, consumption domain.Money, at time.Time) error
	CreateRequest(ctx context.Context, req domain.SpendRequest) error
	GetRequest(ctx context.Context, id string) (domain.SpendRequest, error)
	GetRequestForUpdate(ctx context.Context, id string) (domain.SpendRequest, error)
	ResolveRequest(ctx context.Context, id string, status domain.SpendStatus, reviewer string, at time.Time) error
}

type PGBudgetRepository struct {
	db *pgxpool.Pool
}

func NewBudgetRepository(db *pgxpool.Pool) BudgetRepository {
	return &PGBudgetRepository{db: db}
}

const (
	poolColumns    = `tier_id, event_id, per_guest_allowance, guest_count, approved_consumption, updated_at`
	requestColumns = `id, tier_id, guest_id, amount, status, description, booking_id, synthetic_fallback, reviewed_by, created_at, resolved_at`
)

func scanPool(row pgx.Row) (domain.BudgetPool, error) {
	var p domain.BudgetPool
	err := row.Scan(&p.TierID, &p.EventID, &p.PerGuestAllowance, &p.GuestCount, &p.ApprovedConsumption, &p.UpdatedAt)
	return p, err
}

func scanRequest(row pgx.Row) (domain.SpendRequest, error) {
	var r domain.SpendRequest
	err := row.Scan(&r.ID, &r.TierID, &r.GuestID, &r.Amount, &r.Status, &r.Description, &r.BookingID,
		&r.SyntheticFallback, &r.ReviewedBy, &r.CreatedAt, &r.ResolvedAt)
	return r, err
}

func (r *PGBudgetRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db, fn)
}

func (r *PGBudgetRepository) GetPool(ctx context.Context, tierID string) (domain.BudgetPool, error) {
	return r.getPool(ctx, `SELECT `+poolColumns+` FROM budget_pools WHERE tier_id = $1`, tierID)
}

func (r *PGBudgetRepository) GetPoolForUpdate(ctx context.Context, tierID string) (domain.BudgetPool, error) {
	return r.getPool(ctx, `SELECT `+poolColumns+` FROM budget_pools WHERE tier_id = $1 FOR UPDATE`, tierID)
}

func (r *PGBudgetRepository) getPool(ctx context.Context, query, tierID string) (domain.BudgetPool, error) {
	p, err := scanPool(conn(ctx, r.db).QueryRow(ctx, query, tierID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BudgetPool{}, domain.ErrPoolNotFound
		}
		return domain.BudgetPool{}, fmt.Errorf("get budget pool: %w", err)
	}
	return p, nil
}

// UpsertPool sets the allowance and guest count. Approved consumption is never
// touched here.
func (r *PGBudgetRepository) UpsertPool(ctx context.Context, pool domain.BudgetPool) (domain.BudgetPool, error) {
	p, err := scanPool(conn(ctx, r.db).QueryRow(ctx, `INSERT INTO budget_pools (tier_id, event_id, per_guest_allowance, guest_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tier_id) DO UPDATE SET
			per_guest_allowance = EXCLUDED.per_guest_allowance,
			guest_count = EXCLUDED.guest_count,
			updated_at = now()
		RETURNING `+poolColumns, pool.TierID, pool.EventID, pool.PerGuestAllowance, pool.GuestCount))
	if err != nil {
		return domain.BudgetPool{}, fmt.Errorf("upsert budget pool: %w", err)
	}
	return p, nil
}

func (r *PGBudgetRepository) SetConsumption(ctx context.Context, tierID string, consumption domain.Money, at time.Time) error {
	cmd, err := conn(ctx, r.db).Exec(ctx, `UPDATE budget_pools SET approved_consumption = $1, updated_at = $2 WHERE tier_id = $3`,
		consumption, at, tierID)
	if err != nil {
		return fmt.Errorf("update consumption: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrPoolNotFound
	}
	return nil
}

func (r *PGBudgetRepository) CreateRequest(ctx context.Context, req domain.SpendRequest) error {
	_, err := conn(ctx, r.db).Exec(ctx, `INSERT INTO spend_requests
		(id, tier_id, guest_id, amount, status, description, booking_id, synthetic_fallback, reviewed_by, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.ID, req.TierID, req.GuestID, req.Amount, req.Status, req.Description, req.BookingID,
		req.SyntheticFallback, req.ReviewedBy, req.CreatedAt, req.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert spend request: %w", err)
	}
	return nil
}

func (r *PGBudgetRepository) GetRequest(ctx context.Context, id string) (domain.SpendRequest, error) {
	return r.getRequest(ctx, `SELECT `+requestColumns+` FROM spend_requests WHERE id = $1`, id)
}

func (r *PGBudgetRepository) GetRequestForUpdate(ctx context.Context, id string) (domain.SpendRequest, error) {
	return r.getRequest(ctx, `SELECT `+requestColumns+` FROM spend_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGBudgetRepository) getRequest(ctx context.Context, query, id string) (domain.SpendRequest, error) {
	req, err := scanRequest(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SpendRequest{}, domain.ErrSpendRequestNotFound
		}
		return domain.SpendRequest{}, fmt.Errorf("get spend request: %w", err)
	}
	return req, nil
}

// ResolveRequest moves a pending request to a terminal status exactly once.
func (r *PGBudgetRepository) ResolveRequest(ctx context.Context, id string, status domain.SpendStatus, reviewer string, at time.Time) error {
	cmd, err := conn(ctx, r.db).Exec(ctx, `UPDATE spend_requests SET status = $1, reviewed_by = $2, resolved_at = $3
		WHERE id = $4 AND status = $5`, status, reviewer, at, id, domain.SpendPending)
	if err != nil {
		return fmt.Errorf("resolve spend request: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrSpendRequestResolved
	}
	return nil
}

var _ BudgetRepository = (*PGBudgetRepository)(nil)
