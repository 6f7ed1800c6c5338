package discount

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/zxc3309/lockup-calculator/internal/model"
)

var (
	// MinAnnualVariance and MaxAnnualVariance bound projected variance
	// per year of tenor (≈10%–200% annualized vol) before the square
	// root. The floor also absorbs negative variance from downward
	// slopes.
	MinAnnualVariance = 0.01
	MaxAnnualVariance = 4.0

	// MinVol and MaxVol are the final backstop bounds on the projected
	// volatility (10%–300%).
	MinVol = 0.10
	MaxVol = 3.0

	// LongHorizonTenor is the target tenor (years) at which linear
	// variance extrapolation switches to the log-growth form below.
	LongHorizonTenor = 1.0

	// VolGrowthRate scales the logarithmic vol bump at long horizons.
	// Empirical knob, not derived from term-structure theory.
	VolGrowthRate = 0.05
)

// ExtrapolateVol projects implied variance from two anchor tenors to a
// target tenor and returns the implied volatility there. Vols are
// decimals (0.47 == 47%), tenors in years. Working in variance keeps
// the projection linear in time:
//
//	v(T) = vol² × T
//
// INTERPOLATION draws the line through both anchors and evaluates it at
// the target. EXTRAPOLATION extends the same line beyond the long
// anchor, except at tenors ≥ LongHorizonTenor where the long anchor's
// vol is grown by VolGrowthRate × ln(T) instead — a straight variance
// line understates uncertainty growth at multi-year horizons.
// BOUNDED_EXTRAPOLATION extends the line from the short anchor with the
// slope damped by min(1, 2/max(1, T−shortT)).
//
// Results are clamped to sane bounds rather than rejected; clamps are
// logged at debug level.
func ExtrapolateVol(shortVol, shortT, longVol, longT, targetT float64, strategy model.Strategy) (float64, error) {
	if shortVol <= 0 || longVol <= 0 {
		return 0, fmt.Errorf("%w: anchor vols must be positive (short=%g long=%g)", ErrInvalidInput, shortVol, longVol)
	}
	if shortT <= 0 || longT <= 0 || targetT <= 0 {
		return 0, fmt.Errorf("%w: tenors must be positive (short=%g long=%g target=%g)", ErrInvalidInput, shortT, longT, targetT)
	}
	if longT <= shortT {
		return 0, fmt.Errorf("%w: long tenor %g must exceed short tenor %g", ErrInvalidInput, longT, shortT)
	}

	shortVar := shortVol * shortVol * shortT
	longVar := longVol * longVol * longT
	slope := (longVar - shortVar) / (longT - shortT)

	var targetVar float64
	switch strategy {
	case model.StrategyInterpolation:
		targetVar = shortVar + slope*(targetT-shortT)

	case model.StrategyExtrapolation:
		targetVar = longVar + slope*(targetT-longT)
		if targetT >= LongHorizonTenor {
			baseVol := math.Sqrt(longVar / longT)
			enhanced := baseVol * (1 + VolGrowthRate*math.Log(targetT))
			targetVar = enhanced * enhanced * targetT
		}

	case model.StrategyBoundedExtrapolation:
		// Anchored at the short leg so the projection is exact there
		// regardless of damping.
		damp := math.Min(1, 2/math.Max(1, targetT-shortT))
		targetVar = shortVar + slope*(targetT-shortT)*damp

	default:
		return 0, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, strategy)
	}

	if floor := MinAnnualVariance * targetT; targetVar < floor {
		slog.Debug("projected variance clamped to floor",
			"strategy", strategy, "target_var", targetVar, "floor", floor)
		targetVar = floor
	}
	if ceil := MaxAnnualVariance * targetT; targetVar > ceil {
		slog.Debug("projected variance clamped to ceiling",
			"strategy", strategy, "target_var", targetVar, "ceiling", ceil)
		targetVar = ceil
	}

	vol := math.Sqrt(targetVar / targetT)
	if vol < MinVol {
		slog.Debug("projected vol clamped to floor", "strategy", strategy, "vol", vol, "floor", MinVol)
		vol = MinVol
	}
	if vol > MaxVol {
		slog.Debug("projected vol clamped to ceiling", "strategy", strategy, "vol", vol, "ceiling", MaxVol)
		vol = MaxVol
	}
	return vol, nil
}
