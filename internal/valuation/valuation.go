// Package valuation converts per-unit discount results into
// position-level money. All arithmetic here uses shopspring/decimal —
// float64 stops at the model boundary, money is never floated.
package valuation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNonPositiveAmount is returned for zero or negative holdings.
	ErrNonPositiveAmount = errors.New("valuation: amount must be positive")

	// ErrInvalidPrice is returned when spot or fair value per unit is
	// not positive.
	ErrInvalidPrice = errors.New("valuation: prices must be positive")

	// MoneyScale is the number of decimal places for USD rounding.
	MoneyScale int32 = 2
)

// Position values a locked holding: what it would fetch unlocked today
// (market), what it is worth locked (fair), and the difference the
// lockup costs. LockupCostPct is the cost as a percentage of market
// value.
type Position struct {
	Token            string          `json:"token"`
	Amount           decimal.Decimal `json:"amount"`
	SpotPrice        decimal.Decimal `json:"spot_price"`
	MarketValue      decimal.Decimal `json:"market_value"`
	FairValuePerUnit decimal.Decimal `json:"fair_value_per_unit"`
	FairValue        decimal.Decimal `json:"fair_value"`
	LockupCost       decimal.Decimal `json:"lockup_cost"`
	LockupCostPct    decimal.Decimal `json:"lockup_cost_pct"`
}

// Value prices an amount of token against the spot price and the
// engine's fair value per unit. Money values are rounded to MoneyScale
// at the end, not between steps.
func Value(token string, amount decimal.Decimal, spotPrice, fairPerUnit float64) (Position, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Position{}, fmt.Errorf("%w: got %s", ErrNonPositiveAmount, amount)
	}
	if spotPrice <= 0 || fairPerUnit <= 0 {
		return Position{}, fmt.Errorf("%w: spot %g, fair %g", ErrInvalidPrice, spotPrice, fairPerUnit)
	}

	spot := decimal.NewFromFloat(spotPrice)
	fair := decimal.NewFromFloat(fairPerUnit)

	market := amount.Mul(spot)
	fairTotal := amount.Mul(fair)
	cost := market.Sub(fairTotal)
	costPct := cost.Div(market).Mul(decimal.NewFromInt(100))

	return Position{
		Token:            token,
		Amount:           amount,
		SpotPrice:        spot,
		MarketValue:      market.Round(MoneyScale),
		FairValuePerUnit: fair,
		FairValue:        fairTotal.Round(MoneyScale),
		LockupCost:       cost.Round(MoneyScale),
		LockupCostPct:    costPct.Round(2),
	}, nil
}
