package pricing

import (
	"testing"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func percent(v float64) domain.CommissionRule {
	return domain.CommissionRule{Type: domain.CommissionPercent, Value: decimal.NewFromFloat(v)}
}

func amount(v int64) domain.CommissionRule {
	return domain.CommissionRule{Type: domain.CommissionAmount, Value: decimal.NewFromInt(v)}
}

func TestClientFacingPrice(t *testing.T) {
	testCases := []struct {
		name     string
		base     domain.Money
		rule     domain.CommissionRule
		expected domain.Money
	}{
		{name: "percent rule", base: 5000, rule: percent(10), expected: 5500},
		{name: "amount rule", base: 5000, rule: amount(500), expected: 5500},
		{name: "zero base", base: 0, rule: amount(500), expected: 0},
		{name: "negative base", base: -100, rule: percent(10), expected: 0},
		{name: "negative percent clamps to zero", base: 5000, rule: percent(-20), expected: 5000},
		{name: "negative amount clamps to zero", base: 5000, rule: amount(-700), expected: 5000},
		{name: "quarter rounds down", base: 1005, rule: percent(5), expected: 1055},
		{name: "half rounds away from zero", base: 1010, rule: percent(5), expected: 1061},
		{name: "fractional percent", base: 1001, rule: percent(12.5), expected: 1126},
		{name: "unknown rule type adds nothing", base: 5000, rule: domain.CommissionRule{Type: "bogus", Value: decimal.NewFromInt(9)}, expected: 5000},
		{name: "zero rule", base: 4200, rule: domain.CommissionRule{Type: domain.CommissionPercent}, expected: 4200},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ClientFacingPrice(tc.base, tc.rule))
		})
	}
}

func TestClientFacingPrice_Idempotent(t *testing.T) {
	rule := percent(7.5)
	first := ClientFacingPrice(12345, rule)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClientFacingPrice(12345, rule))
	}
}

func TestClientFacingPrice_EquivalentRules(t *testing.T) {
	for _, base := range []domain.Money{100, 2000, 5000, 999900} {
		// 10% of base expressed as a flat amount.
		flat := amount(int64(base) / 10)
		assert.Equal(t, ClientFacingPrice(base, percent(10)), ClientFacingPrice(base, flat), "base %d", base)
	}
}

func TestQuote(t *testing.T) {
	b := Quote(5000, percent(10))
	assert.Equal(t, Breakdown{Base: 5000, Commission: 500, Price: 5500}, b)

	assert.Equal(t, Breakdown{}, Quote(-1, amount(10)))
}
