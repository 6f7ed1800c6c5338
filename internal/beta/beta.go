// Package beta derives a synthetic implied volatility for tokens with
// no listed option market by scaling a reference asset's implied vol
// (in practice BTC's) by the ratio of realized volatilities:
//
//	ratio = σ_token / σ_ref   (realized, from daily log returns)
//	IV    = refIV × clamp(ratio, MinVolRatio, MaxVolRatio)
//
// Both series use the same sampling frequency, so the annualization
// factor cancels out of the ratio. Beta and the Pearson correlation are
// computed alongside as evidence: a token whose returns barely track
// the reference cannot borrow its vol surface, so weak correlation is
// an error, not a warning.
package beta

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientHistory is returned when the aligned return series
	// are too short (or too degenerate) to estimate a vol ratio.
	ErrInsufficientHistory = errors.New("beta: insufficient price history")

	// ErrWeakCorrelation is returned when |corr| < MinCorrelation and
	// the reference vol surface cannot be borrowed.
	ErrWeakCorrelation = errors.New("beta: correlation with reference too weak")
)

const (
	// MinSamples is the minimum number of daily log returns required.
	MinSamples = 21

	// MinCorrelation is the absolute Pearson correlation below which
	// the derivation is refused.
	MinCorrelation = 0.25

	// MinVolRatio and MaxVolRatio clamp the realized vol ratio before
	// it scales the reference vol.
	MinVolRatio = 0.25
	MaxVolRatio = 4.0
)

// Derivation is the derived vol plus the evidence behind it, returned
// so callers can expose how the number was produced.
type Derivation struct {
	IVPct       float64 `json:"iv_pct"`
	Beta        float64 `json:"beta"`
	Correlation float64 `json:"correlation"`
	VolRatio    float64 `json:"vol_ratio"`
	Samples     int     `json:"samples"`
}

// DeriveImpliedVol scales refIVPct (a percentage, 47.0 == 47%) by the
// token/reference realized vol ratio. Price series are daily closes,
// oldest first; unequal lengths are aligned on the most recent overlap.
func DeriveImpliedVol(refIVPct float64, tokenPrices, refPrices []float64) (Derivation, error) {
	if refIVPct <= 0 {
		return Derivation{}, fmt.Errorf("beta: reference vol must be positive, got %g", refIVPct)
	}

	tokenPrices, refPrices = alignTail(tokenPrices, refPrices)

	tokenReturns, err := logReturns(tokenPrices)
	if err != nil {
		return Derivation{}, err
	}
	refReturns, err := logReturns(refPrices)
	if err != nil {
		return Derivation{}, err
	}
	if len(tokenReturns) < MinSamples {
		return Derivation{}, fmt.Errorf("%w: %d aligned returns, need %d",
			ErrInsufficientHistory, len(tokenReturns), MinSamples)
	}

	refVar := stat.Variance(refReturns, nil)
	tokenStd := stat.StdDev(tokenReturns, nil)
	if refVar == 0 || tokenStd == 0 {
		return Derivation{}, fmt.Errorf("%w: flat return series", ErrInsufficientHistory)
	}

	corr := stat.Correlation(tokenReturns, refReturns, nil)
	if math.Abs(corr) < MinCorrelation {
		return Derivation{}, fmt.Errorf("%w: |corr| = %.3f, need %.2f",
			ErrWeakCorrelation, math.Abs(corr), MinCorrelation)
	}

	ratio := tokenStd / math.Sqrt(refVar)
	if ratio < MinVolRatio {
		slog.Debug("vol ratio clamped to floor", "ratio", ratio, "floor", MinVolRatio)
		ratio = MinVolRatio
	}
	if ratio > MaxVolRatio {
		slog.Debug("vol ratio clamped to ceiling", "ratio", ratio, "ceiling", MaxVolRatio)
		ratio = MaxVolRatio
	}

	return Derivation{
		IVPct:       refIVPct * ratio,
		Beta:        stat.Covariance(tokenReturns, refReturns, nil) / refVar,
		Correlation: corr,
		VolRatio:    ratio,
		Samples:     len(tokenReturns),
	}, nil
}

// alignTail trims the longer series' head so both end on the same
// (most recent) observation with equal length.
func alignTail(a, b []float64) ([]float64, []float64) {
	if len(a) > len(b) {
		a = a[len(a)-len(b):]
	}
	if len(b) > len(a) {
		b = b[len(b)-len(a):]
	}
	return a, b
}

// logReturns converts a price series to daily log returns. Non-positive
// prices make a series unusable.
func logReturns(prices []float64) ([]float64, error) {
	if len(prices) < 2 {
		return nil, fmt.Errorf("%w: %d prices", ErrInsufficientHistory, len(prices))
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			return nil, fmt.Errorf("%w: non-positive price at index %d", ErrInsufficientHistory, i)
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	return returns, nil
}
