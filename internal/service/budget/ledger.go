// Package budget decides chargeable add-on requests against a guest tier's
// discretionary pool.
package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/eventbooking/internal/clock"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/kafka"
	"github.com/Domenick1991/eventbooking/internal/keylock"
	"github.com/Domenick1991/eventbooking/internal/metrics"
	"github.com/Domenick1991/eventbooking/internal/pricing"
	"github.com/Domenick1991/eventbooking/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const autoReviewer = "auto"

type LedgerUseCase interface {
	Evaluate(ctx context.Context, input EvaluateInput) (domain.BudgetDecision, error)
	EvaluatePerk(ctx context.Context, input PerkInput) (PerkDecision, error)
	Resolve(ctx context.Context, requestID string, approve bool, reviewer string) (domain.SpendRequest, error)
	SetAllowance(ctx context.Context, input AllowanceInput) (domain.BudgetPool, error)
	Pool(ctx context.Context, tierID string) (domain.BudgetPool, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type EvaluateInput struct {
	GuestID     string       `json:"guest_id"`
	TierID      string       `json:"tier_id"`
	Amount      domain.Money `json:"amount"`
	Description string       `json:"description,omitempty"`
	BookingID   string       `json:"booking_id,omitempty"`
	Synthetic   bool         `json:"is_synthetic_fallback,omitempty"`
}

// PerkInput is an add-on priced from its supplier cost.
type PerkInput struct {
	GuestID     string                `json:"guest_id"`
	TierID      string                `json:"tier_id"`
	BaseCost    domain.Money          `json:"base_cost"`
	Commission  domain.CommissionRule `json:"commission"`
	Description string                `json:"description,omitempty"`
	BookingID   string                `json:"booking_id,omitempty"`
	Synthetic   bool                  `json:"is_synthetic_fallback,omitempty"`
}

type PerkDecision struct {
	domain.BudgetDecision
	Price pricing.Breakdown `json:"price"`
}

type AllowanceInput struct {
	TierID            string       `json:"tier_id"`
	EventID           string       `json:"event_id"`
	PerGuestAllowance domain.Money `json:"per_guest_allowance"`
	GuestCount        int          `json:"guest_count"`
}

type Ledger struct {
	repo     repository.BudgetRepository
	locks    *keylock.Map
	clock    clock.Clock
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	producer Producer
	topic    string
	newID    func() string
}

type LedgerOption func(*Ledger)

func WithMetrics(m *metrics.Metrics) LedgerOption {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithDecisions publishes every decision and resolution to topic.
func WithDecisions(producer Producer, topic string) LedgerOption {
	return func(l *Ledger) {
		l.producer = producer
		l.topic = topic
	}
}

func WithClock(c clock.Clock) LedgerOption {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

func NewLedger(repo repository.BudgetRepository, logger *logrus.Logger, opts ...LedgerOption) *Ledger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &Ledger{
		repo:   repo,
		locks:  keylock.New(),
		clock:  clock.NewSystem(),
		logger: logger,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Evaluate approves the request when it fits the remaining pool and records
// it as pending otherwise. The consumption update commits with the decision.
func (l *Ledger) Evaluate(ctx context.Context, input EvaluateInput) (domain.BudgetDecision, error) {
	if input.GuestID == "" || input.TierID == "" {
		return domain.BudgetDecision{}, domain.Invalid("guest id and tier id are required")
	}
	if input.Amount <= 0 {
		return domain.BudgetDecision{}, domain.Invalid("amount must be positive, got %d", input.Amount)
	}
	return l.evaluate(ctx, input)
}

// evaluate decides an amount that is already validated. A zero amount is
// approved without touching consumption, even on an overdrawn pool.
func (l *Ledger) evaluate(ctx context.Context, input EvaluateInput) (domain.BudgetDecision, error) {
	unlock := l.locks.Lock(input.TierID)
	defer unlock()

	now := l.clock.Now()
	req := domain.SpendRequest{
		ID:                l.newID(),
		TierID:            input.TierID,
		GuestID:           input.GuestID,
		Amount:            input.Amount,
		Description:       input.Description,
		BookingID:         input.BookingID,
		SyntheticFallback: input.Synthetic,
		CreatedAt:         now,
	}
	var decision domain.BudgetDecision

	err := l.repo.WithTx(ctx, func(txCtx context.Context) error {
		pool, err := l.repo.GetPoolForUpdate(txCtx, input.TierID)
		if err != nil {
			return err
		}

		consumed := pool.ApprovedConsumption
		switch {
		case input.Amount == 0:
			req.Status = domain.SpendApproved
			req.ReviewedBy = autoReviewer
			req.ResolvedAt = &now
		case input.Amount <= pool.Remaining():
			consumed += input.Amount
			if err := l.repo.SetConsumption(txCtx, pool.TierID, consumed, now); err != nil {
				return err
			}
			req.Status = domain.SpendApproved
			req.ReviewedBy = autoReviewer
			req.ResolvedAt = &now
		default:
			req.Status = domain.SpendPending
		}

		if err := l.repo.CreateRequest(txCtx, req); err != nil {
			return err
		}
		decision = domain.BudgetDecision{RequestID: req.ID, Status: req.Status, ConsumedSoFar: consumed}
		return nil
	})
	if err != nil {
		return domain.BudgetDecision{}, err
	}

	l.metrics.ObserveBudgetDecision(decision.Status)
	l.logger.WithFields(logrus.Fields{
		"tier_id":    req.TierID,
		"guest_id":   req.GuestID,
		"request_id": req.ID,
		"amount":     req.Amount,
		"status":     decision.Status,
		"consumed":   decision.ConsumedSoFar,
		"synthetic":  req.SyntheticFallback,
	}).Info("Budget request evaluated")
	l.publish(ctx, req, decision.ConsumedSoFar)
	return decision, nil
}

// EvaluatePerk prices the add-on with the shared commission transform and
// evaluates the client-facing price. A perk priced at zero, such as a
// synthetic placeholder, is approved and consumes nothing.
func (l *Ledger) EvaluatePerk(ctx context.Context, input PerkInput) (PerkDecision, error) {
	if input.GuestID == "" || input.TierID == "" {
		return PerkDecision{}, domain.Invalid("guest id and tier id are required")
	}
	if !input.Commission.Valid() {
		return PerkDecision{}, domain.Invalid("unknown commission type %q", input.Commission.Type)
	}
	if input.BaseCost < 0 {
		return PerkDecision{}, domain.Invalid("base cost must not be negative, got %d", input.BaseCost)
	}
	price := pricing.Quote(input.BaseCost, input.Commission)
	decision, err := l.evaluate(ctx, EvaluateInput{
		GuestID:     input.GuestID,
		TierID:      input.TierID,
		Amount:      price.Price,
		Description: input.Description,
		BookingID:   input.BookingID,
		Synthetic:   input.Synthetic,
	})
	if err != nil {
		return PerkDecision{}, err
	}
	return PerkDecision{BudgetDecision: decision, Price: price}, nil
}

// Resolve moves a pending request to approved or denied. Approval adds the
// amount to consumption exactly once; a request already resolved returns
// ErrSpendRequestResolved.
func (l *Ledger) Resolve(ctx context.Context, requestID string, approve bool, reviewer string) (domain.SpendRequest, error) {
	if reviewer == "" {
		return domain.SpendRequest{}, domain.Invalid("reviewer is required")
	}
	current, err := l.repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.SpendRequest{}, err
	}

	unlock := l.locks.Lock(current.TierID)
	defer unlock()

	status := domain.SpendDenied
	if approve {
		status = domain.SpendApproved
	}
	now := l.clock.Now()
	var (
		result   domain.SpendRequest
		consumed domain.Money
	)

	err = l.repo.WithTx(ctx, func(txCtx context.Context) error {
		pool, err := l.repo.GetPoolForUpdate(txCtx, current.TierID)
		if err != nil {
			return err
		}
		req, err := l.repo.GetRequestForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}
		if req.Status != domain.SpendPending {
			return fmt.Errorf("%w: request %s is %s", domain.ErrSpendRequestResolved, req.ID, req.Status)
		}

		consumed = pool.ApprovedConsumption
		if approve {
			consumed += req.Amount
			if err := l.repo.SetConsumption(txCtx, pool.TierID, consumed, now); err != nil {
				return err
			}
		}
		if err := l.repo.ResolveRequest(txCtx, req.ID, status, reviewer, now); err != nil {
			return err
		}

		req.Status = status
		req.ReviewedBy = reviewer
		req.ResolvedAt = &now
		result = req
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSpendRequestResolved) {
			l.metrics.ObserveConflict("budget")
			l.logger.WithFields(logrus.Fields{
				"tier_id":    current.TierID,
				"request_id": requestID,
				"reviewer":   reviewer,
			}).Warn("Spend request already resolved")
		}
		return domain.SpendRequest{}, err
	}

	l.metrics.ObserveBudgetDecision(status)
	l.logger.WithFields(logrus.Fields{
		"tier_id":    result.TierID,
		"request_id": result.ID,
		"status":     result.Status,
		"reviewer":   reviewer,
		"consumed":   consumed,
	}).Info("Spend request resolved")
	l.publish(ctx, result, consumed)
	return result, nil
}

// SetAllowance creates or edits a tier's pool. Consumption is left as is, so
// earlier approvals stand even when the new capacity is below it.
func (l *Ledger) SetAllowance(ctx context.Context, input AllowanceInput) (domain.BudgetPool, error) {
	if input.TierID == "" {
		return domain.BudgetPool{}, domain.Invalid("tier id is required")
	}
	if input.PerGuestAllowance < 0 || input.GuestCount < 0 {
		return domain.BudgetPool{}, domain.Invalid("allowance and guest count must not be negative")
	}

	unlock := l.locks.Lock(input.TierID)
	defer unlock()

	pool, err := l.repo.UpsertPool(ctx, domain.BudgetPool{
		TierID:            input.TierID,
		EventID:           input.EventID,
		PerGuestAllowance: input.PerGuestAllowance,
		GuestCount:        input.GuestCount,
		UpdatedAt:         l.clock.Now(),
	})
	if err != nil {
		return domain.BudgetPool{}, err
	}

	entry := l.logger.WithFields(logrus.Fields{
		"tier_id":  pool.TierID,
		"capacity": pool.Capacity(),
		"consumed": pool.ApprovedConsumption,
	})
	if pool.Remaining() < 0 {
		entry.Warn("Allowance lowered below approved consumption")
	} else {
		entry.Info("Allowance updated")
	}
	return pool, nil
}

func (l *Ledger) Pool(ctx context.Context, tierID string) (domain.BudgetPool, error) {
	if tierID == "" {
		return domain.BudgetPool{}, domain.Invalid("tier id is required")
	}
	return l.repo.GetPool(ctx, tierID)
}

func (l *Ledger) publish(ctx context.Context, req domain.SpendRequest, consumed domain.Money) {
	if l.producer == nil || l.topic == "" {
		return
	}
	event := kafka.BudgetDecisionEvent{
		Type:              kafka.EventBudgetDecision,
		RequestID:         req.ID,
		TierID:            req.TierID,
		GuestID:           req.GuestID,
		Amount:            req.Amount,
		Status:            req.Status,
		ConsumedSoFar:     consumed,
		SyntheticFallback: req.SyntheticFallback,
		OccurredAt:        l.clock.Now(),
	}
	if err := l.producer.Publish(ctx, l.topic, req.TierID, event); err != nil {
		l.logger.WithField("request_id", req.ID).WithError(err).Warn("Failed to publish budget decision")
	}
}

var _ LedgerUseCase = (*Ledger)(nil)
