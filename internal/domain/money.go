package domain

import "github.com/shopspring/decimal"

// Money is an amount in minor currency units.
type Money int64

type CommissionType string

const (
	CommissionAmount  CommissionType = "amount"
	CommissionPercent CommissionType = "percent"
)

// CommissionRule is the agent-entered markup applied on top of a supplier cost.
// Value is minor units for amount rules and a percentage for percent rules.
type CommissionRule struct {
	Type  CommissionType  `json:"type"`
	Value decimal.Decimal `json:"value"`
}

func (r CommissionRule) Valid() bool {
	return r.Type == CommissionAmount || r.Type == CommissionPercent
}
