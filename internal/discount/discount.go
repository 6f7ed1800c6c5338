// Package discount implements the dual-expiry variance-extrapolation
// engine that prices the cost of a token lockup as a synthetic European
// option position.
//
// The pipeline for one calculation:
//   - Select the pair of listed expiries that brackets the lockup tenor
//     (interpolation) or anchors it from one side (extrapolation).
//   - Match the strikes listed on both expiries, nearest-the-money first.
//   - Project implied variance (vol² × T) to the target tenor.
//   - Price a call and a put at each matched strike via Black-Scholes.
//   - Weight each strike by quoted liquidity and aggregate.
//
// All engine math uses float64 — market data is approximate by nature
// and the transcendental functions require it. Position-level money is
// handled with shopspring/decimal in the valuation package instead.
//
// The engine is a pure function of its inputs: no I/O, no clocks, no
// shared state. A single Engine is safe for concurrent use.
package discount

import (
	"errors"
	"fmt"
	"math"

	"github.com/zxc3309/lockup-calculator/internal/model"
)

var (
	// ErrInsufficientExpiries is returned when fewer than two listed
	// expiries are available for pair selection.
	ErrInsufficientExpiries = errors.New("discount: need at least two listed expiries")

	// ErrNoCommonStrikes is returned when the short- and long-term
	// chains share no strikes.
	ErrNoCommonStrikes = errors.New("discount: no common strikes between expiry legs")

	// ErrInvalidInput is returned for non-positive prices, tenors, or
	// volatilities, and for unknown extrapolation strategies.
	ErrInvalidInput = errors.New("discount: invalid input")

	// ErrEmptyWeightSet is returned when the per-strike weights sum to
	// zero, leaving nothing to aggregate.
	ErrEmptyWeightSet = errors.New("discount: per-strike weights sum to zero")
)

// DefaultStrikeCount is how many near-the-money strikes feed the
// aggregate when the caller does not ask for a specific count.
const DefaultStrikeCount = 5

// Synthetic anchor constants for the single-expiry fallback path, which
// fabricates a second variance anchor from the one chain available:
// the quoted vol at 3 months and the quoted vol grown 10% at one year.
const (
	SyntheticShortTenor = 0.25
	SyntheticLongTenor  = 1.0
	SyntheticVolGrowth  = 1.10
)

// DaysPerYear converts lockup days to year fractions (ACT/365).
const DaysPerYear = 365.0

// Engine prices lockup discounts from option-chain snapshots.
// It is stateless — snapshots are passed as arguments, not stored —
// so one Engine can serve concurrent requests.
type Engine struct {
	strikeCount int
}

// NewEngine creates an engine that aggregates over the given number of
// near-the-money strikes. Non-positive counts fall back to
// DefaultStrikeCount.
func NewEngine(strikeCount int) *Engine {
	if strikeCount <= 0 {
		strikeCount = DefaultStrikeCount
	}
	return &Engine{strikeCount: strikeCount}
}

// StrikeCount returns the per-expiry strike budget.
func (e *Engine) StrikeCount() int {
	return e.strikeCount
}

// ComputeDualExpiry prices the lockup discount from two option-chain
// snapshots whose expiries straddle (or anchor) the target tenor.
//
// Per matched strike: the two legs' implied vols anchor a variance
// projection to data.TargetTimeToExpiryYears, Black-Scholes prices a
// call and a put there, and the long leg's quoted spread sets the
// strike's weight. The weighted aggregate is returned.
//
// Implied vols cross the model boundary as percentages (47.0 == 47%);
// conversion to decimals happens here and nowhere else.
func (e *Engine) ComputeDualExpiry(data model.DualExpiryData, spotPrice float64, lockupDays int, riskFreeRate float64) (*model.DiscountCalculation, error) {
	if spotPrice <= 0 {
		return nil, fmt.Errorf("%w: spot price must be positive, got %g", ErrInvalidInput, spotPrice)
	}
	if lockupDays <= 0 {
		return nil, fmt.Errorf("%w: lockup days must be positive, got %d", ErrInvalidInput, lockupDays)
	}
	if data.TargetTimeToExpiryYears <= 0 {
		return nil, fmt.Errorf("%w: target tenor must be positive, got %g", ErrInvalidInput, data.TargetTimeToExpiryYears)
	}
	shortT := data.ShortTerm.TimeToExpiryYears
	longT := data.LongTerm.TimeToExpiryYears
	if shortT <= 0 || shortT >= longT {
		return nil, fmt.Errorf("%w: leg tenors must satisfy 0 < short (%g) < long (%g)",
			ErrInvalidInput, shortT, longT)
	}

	matches, err := MatchStrikes(data.ShortTerm.Contracts, data.LongTerm.Contracts, spotPrice, e.strikeCount)
	if err != nil {
		return nil, err
	}

	targetT := data.TargetTimeToExpiryYears
	results := make([]model.ATMCalculation, 0, len(matches))
	for _, m := range matches {
		// Per-strike vols, backfilled from the leg average when the
		// venue quotes no vol for one side.
		shortIV := m.Short.ImpliedVol
		if shortIV <= 0 {
			shortIV = data.ShortTerm.AvgImpliedVol
		}
		longIV := m.Long.ImpliedVol
		if longIV <= 0 {
			longIV = data.LongTerm.AvgImpliedVol
		}

		vol, err := ExtrapolateVol(shortIV/100, shortT, longIV/100, longT, targetT, data.Strategy)
		if err != nil {
			return nil, fmt.Errorf("strike %g: %w", m.Strike, err)
		}
		call, put, err := BlackScholes(spotPrice, m.Strike, targetT, riskFreeRate, vol)
		if err != nil {
			return nil, fmt.Errorf("strike %g: %w", m.Strike, err)
		}

		results = append(results, model.ATMCalculation{
			Strike:               m.Strike,
			CallDiscountPct:      call / spotPrice * 100,
			PutDiscountPct:       put / spotPrice * 100,
			TheoreticalCallPrice: call,
			TheoreticalPutPrice:  put,
			ExtrapolatedVolPct:   vol * 100,
			Weight:               Weight(m.Long),
			ATMDistance:          m.Distance,
			Expiry:               m.Long.Expiry.UTC().Format("2006-01-02"),
			ShortTermIV:          shortIV,
			LongTermIV:           longIV,
			Strategy:             data.Strategy,
		})
	}

	return aggregate(results, spotPrice, lockupDays, false)
}

// ComputeSingleExpiry is the degraded path used when only one usable
// chain exists. Each contract's own quoted vol seeds two synthetic
// anchors (vol at 3 months, vol × 1.10 at one year) and the projection
// proceeds as usual: interpolation inside the synthetic window,
// extrapolation beyond it. Results are marked SingleExpiry so callers
// can surface the lower confidence.
func (e *Engine) ComputeSingleExpiry(contracts []model.OptionContract, spotPrice float64, lockupDays int, riskFreeRate float64) (*model.DiscountCalculation, error) {
	if spotPrice <= 0 {
		return nil, fmt.Errorf("%w: spot price must be positive, got %g", ErrInvalidInput, spotPrice)
	}
	if lockupDays <= 0 {
		return nil, fmt.Errorf("%w: lockup days must be positive, got %d", ErrInvalidInput, lockupDays)
	}
	if len(contracts) == 0 {
		return nil, fmt.Errorf("%w: no contracts supplied", ErrInvalidInput)
	}

	ranked := RankByATM(contracts, spotPrice, e.strikeCount)
	targetT := float64(lockupDays) / DaysPerYear

	strategy := model.StrategyInterpolation
	if targetT > SyntheticLongTenor {
		strategy = model.StrategyExtrapolation
	}

	results := make([]model.ATMCalculation, 0, len(ranked))
	for _, c := range ranked {
		shortIV := c.ImpliedVol
		longIV := c.ImpliedVol * SyntheticVolGrowth

		vol, err := ExtrapolateVol(shortIV/100, SyntheticShortTenor, longIV/100, SyntheticLongTenor, targetT, strategy)
		if err != nil {
			return nil, fmt.Errorf("strike %g: %w", c.Strike, err)
		}
		call, put, err := BlackScholes(spotPrice, c.Strike, targetT, riskFreeRate, vol)
		if err != nil {
			return nil, fmt.Errorf("strike %g: %w", c.Strike, err)
		}

		results = append(results, model.ATMCalculation{
			Strike:               c.Strike,
			CallDiscountPct:      call / spotPrice * 100,
			PutDiscountPct:       put / spotPrice * 100,
			TheoreticalCallPrice: call,
			TheoreticalPutPrice:  put,
			ExtrapolatedVolPct:   vol * 100,
			Weight:               Weight(c),
			ATMDistance:          math.Abs(c.Strike - spotPrice),
			Expiry:               c.Expiry.UTC().Format("2006-01-02"),
			ShortTermIV:          shortIV,
			LongTermIV:           longIV,
			Strategy:             strategy,
		})
	}

	return aggregate(results, spotPrice, lockupDays, true)
}

// aggregate folds per-strike results into the final calculation using
// liquidity-weighted means:
//
//	metric = Σ(metric_i × w_i) / Σ w_i
//
// The annualized rate scales the call discount by 365/lockupDays, and
// fair value is spot minus the weighted theoretical call premium.
func aggregate(results []model.ATMCalculation, spotPrice float64, lockupDays int, singleExpiry bool) (*model.DiscountCalculation, error) {
	var weightSum float64
	var callDisc, putDisc, theoCall, theoPut, volPct float64
	for _, r := range results {
		weightSum += r.Weight
		callDisc += r.CallDiscountPct * r.Weight
		putDisc += r.PutDiscountPct * r.Weight
		theoCall += r.TheoreticalCallPrice * r.Weight
		theoPut += r.TheoreticalPutPrice * r.Weight
		volPct += r.ExtrapolatedVolPct * r.Weight
	}
	if weightSum <= 0 {
		return nil, fmt.Errorf("%w: %d strikes, none weighted", ErrEmptyWeightSet, len(results))
	}

	callDisc /= weightSum
	putDisc /= weightSum
	theoCall /= weightSum
	theoPut /= weightSum
	volPct /= weightSum

	return &model.DiscountCalculation{
		CallDiscountPct:      callDisc,
		PutDiscountPct:       putDisc,
		AnnualizedRatePct:    callDisc * DaysPerYear / float64(lockupDays),
		FairValue:            spotPrice - theoCall,
		ExtrapolatedVolPct:   volPct,
		TheoreticalCallPrice: theoCall,
		TheoreticalPutPrice:  theoPut,
		PerStrikeResults:     results,
		TotalContractsUsed:   len(results),
		SingleExpiry:         singleExpiry,
	}, nil
}
