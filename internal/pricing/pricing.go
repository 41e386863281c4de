// Package pricing turns supplier costs into client-facing prices. Flights,
// hotels and perks all go through ClientFacingPrice.
package pricing

import (
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Commission returns the markup rule adds to base. Negative rule values count as zero.
func Commission(base domain.Money, rule domain.CommissionRule) domain.Money {
	if base <= 0 {
		return 0
	}
	value := rule.Value
	if value.IsNegative() {
		value = decimal.Zero
	}
	switch rule.Type {
	case domain.CommissionPercent:
		c := decimal.NewFromInt(int64(base)).Mul(value).Div(hundred).Round(0)
		return domain.Money(c.IntPart())
	case domain.CommissionAmount:
		return domain.Money(value.Round(0).IntPart())
	default:
		return 0
	}
}

// ClientFacingPrice never errors and never returns a negative price.
func ClientFacingPrice(base domain.Money, rule domain.CommissionRule) domain.Money {
	if base <= 0 {
		return 0
	}
	price := base + Commission(base, rule)
	if price < 0 {
		return 0
	}
	return price
}

type Breakdown struct {
	Base       domain.Money `json:"base"`
	Commission domain.Money `json:"commission"`
	Price      domain.Money `json:"price"`
}

func Quote(base domain.Money, rule domain.CommissionRule) Breakdown {
	price := ClientFacingPrice(base, rule)
	b := Breakdown{Price: price}
	if base > 0 {
		b.Base = base
		b.Commission = price - base
	}
	return b
}
