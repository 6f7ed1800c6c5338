// Package model defines the core domain types shared across the lockup
// calculator. All types are plain value objects: the engine treats them
// as immutable snapshots and never mutates a value after construction.
//
// Market-data fields (prices, vols, tenors) use float64 — they feed
// transcendental math and are approximate by nature. Position-level
// money uses shopspring/decimal in the valuation package instead.
package model

import "time"

// Strategy selects how implied variance is projected to the target tenor.
// The value is set once by the expiry-pair selector and consumed by the
// variance extrapolator; no other component branches on it.
type Strategy string

const (
	// StrategyInterpolation: the target tenor falls between the two
	// anchor expiries.
	StrategyInterpolation Strategy = "INTERPOLATION"

	// StrategyExtrapolation: the target tenor lies beyond the last
	// listed expiry.
	StrategyExtrapolation Strategy = "EXTRAPOLATION"

	// StrategyBoundedExtrapolation: the target tenor precedes the first
	// listed expiry; the projection is damped for conservatism.
	StrategyBoundedExtrapolation Strategy = "BOUNDED_EXTRAPOLATION"
)

// OptionContract is one strike row of a listed option chain: the call
// and put legs quoted at the same strike and expiry, already converted
// to quote currency (USD). Implied vol is a percentage: 47.0 means 47%.
// Bid/ask fields are zero when the venue quotes no size on that side.
type OptionContract struct {
	Strike     float64   `json:"strike"`
	CallPrice  float64   `json:"call_price"`
	PutPrice   float64   `json:"put_price"`
	ImpliedVol float64   `json:"implied_vol"`
	Expiry     time.Time `json:"expiry"`
	CallBid    float64   `json:"call_bid,omitempty"`
	CallAsk    float64   `json:"call_ask,omitempty"`
	PutBid     float64   `json:"put_bid,omitempty"`
	PutAsk     float64   `json:"put_ask,omitempty"`
}

// ExpiryPair is the selector's choice of anchor expiries for a target
// date. Invariant: ShortExpiry precedes LongExpiry and both are drawn
// from the listed expiry set.
type ExpiryPair struct {
	ShortExpiry time.Time `json:"short_expiry"`
	LongExpiry  time.Time `json:"long_expiry"`
	Strategy    Strategy  `json:"strategy"`
}

// ExpiryLeg is one expiry's option-chain snapshot together with its
// tenor. AvgImpliedVol is the mean of the contracts' vols (percentage)
// and backfills contracts that carry no vol of their own.
type ExpiryLeg struct {
	Expiry            time.Time        `json:"expiry"`
	TimeToExpiryYears float64          `json:"time_to_expiry_years"`
	AvgImpliedVol     float64          `json:"avg_implied_vol"`
	Contracts         []OptionContract `json:"contracts"`
}

// DualExpiryData bundles the two chain snapshots the dual-expiry engine
// consumes. Invariant: ShortTerm.TimeToExpiryYears < LongTerm.TimeToExpiryYears.
type DualExpiryData struct {
	ShortTerm               ExpiryLeg `json:"short_term"`
	LongTerm                ExpiryLeg `json:"long_term"`
	Strategy                Strategy  `json:"strategy"`
	TargetTimeToExpiryYears float64   `json:"target_time_to_expiry_years"`
}

// ATMCalculation is the pricing result for a single matched strike.
// Derived and transient: recomputed on every request, never stored.
// Weight is the liquidity confidence in (0, 1]; ATMDistance is
// |strike − spot| in quote currency.
type ATMCalculation struct {
	Strike               float64  `json:"strike"`
	CallDiscountPct      float64  `json:"call_discount_pct"`
	PutDiscountPct       float64  `json:"put_discount_pct"`
	TheoreticalCallPrice float64  `json:"theoretical_call_price"`
	TheoreticalPutPrice  float64  `json:"theoretical_put_price"`
	ExtrapolatedVolPct   float64  `json:"extrapolated_vol_pct"`
	Weight               float64  `json:"weight"`
	ATMDistance          float64  `json:"atm_distance"`
	Expiry               string   `json:"expiry"`
	ShortTermIV          float64  `json:"short_term_iv,omitempty"`
	LongTermIV           float64  `json:"long_term_iv,omitempty"`
	Strategy             Strategy `json:"strategy,omitempty"`
}

// DiscountCalculation is the liquidity-weighted aggregate over all
// matched strikes. Discounts are percentages of spot; FairValue is the
// per-unit price a locked holding is worth today (spot minus the
// theoretical call premium). SingleExpiry marks results produced by the
// degraded single-chain path, which carries less term-structure
// information than the dual-expiry path.
type DiscountCalculation struct {
	CallDiscountPct      float64          `json:"call_discount_pct"`
	PutDiscountPct       float64          `json:"put_discount_pct"`
	AnnualizedRatePct    float64          `json:"annualized_rate_pct"`
	FairValue            float64          `json:"fair_value"`
	ExtrapolatedVolPct   float64          `json:"extrapolated_vol_pct"`
	TheoreticalCallPrice float64          `json:"theoretical_call_price"`
	TheoreticalPutPrice  float64          `json:"theoretical_put_price"`
	PerStrikeResults     []ATMCalculation `json:"per_strike_results"`
	TotalContractsUsed   int              `json:"total_contracts_used"`
	SingleExpiry         bool             `json:"single_expiry,omitempty"`
}
