package domain

import "time"

type SpendStatus string

const (
	SpendApproved SpendStatus = "approved"
	SpendPending  SpendStatus = "pending"
	SpendDenied   SpendStatus = "denied"
)

type BudgetPool struct {
	TierID              string
	EventID             string
	PerGuestAllowance   Money
	GuestCount          int
	ApprovedConsumption Money
	UpdatedAt           time.Time
}

// Capacity is the whole pool for the tier.
func (p BudgetPool) Capacity() Money {
	return p.PerGuestAllowance * Money(p.GuestCount)
}

func (p BudgetPool) Remaining() Money {
	return p.Capacity() - p.ApprovedConsumption
}

type SpendRequest struct {
	ID                string
	TierID            string
	GuestID           string
	Amount            Money
	Status            SpendStatus
	Description       string
	BookingID         string
	SyntheticFallback bool
	ReviewedBy        string
	CreatedAt         time.Time
	ResolvedAt        *time.Time
}

type BudgetDecision struct {
	RequestID     string      `json:"request_id"`
	Status        SpendStatus `json:"status"`
	ConsumedSoFar Money       `json:"consumed_so_far"`
}
