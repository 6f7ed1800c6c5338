package discount

import (
	"fmt"
	"math"
)

// Abramowitz & Stegun 7.1.26 rational approximation constants for erf.
// Maximum absolute error ≈ 1.5e-7, well below quoting precision.
const (
	asP  = 0.3275911
	asA1 = 0.254829592
	asA2 = -0.284496736
	asA3 = 1.421413741
	asA4 = -1.453152027
	asA5 = 1.061405429
)

// normCDF computes the standard normal CDF with the Abramowitz–Stegun
// polynomial:
//
//	t    = 1 / (1 + p·|x|/√2)
//	N(x) = ½·(1 + sign(x)·(1 − poly(t)·e^(−x²/2)))
//
// Kept hand-rolled rather than delegating to math.Erf so stored fixture
// values stay stable across Go releases and platforms.
func normCDF(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	z := math.Abs(x) / math.Sqrt2
	t := 1 / (1 + asP*z)
	poly := ((((asA5*t+asA4)*t+asA3)*t+asA2)*t + asA1) * t
	return 0.5 * (1 + sign*(1-poly*math.Exp(-z*z)))
}

// BlackScholes prices a European call and put on a non-dividend asset:
//
//	d1   = (ln(S/K) + (r + σ²/2)·T) / (σ·√T)
//	d2   = d1 − σ·√T
//	Call = S·N(d1) − K·e^(−rT)·N(d2)
//	Put  = K·e^(−rT)·N(−d2) − S·N(−d1)
//
// spot and strike are quote-currency prices, tenor is in years, rate
// and vol are decimals. Both legs are returned because every caller
// needs both. Non-positive spot, strike, tenor, or vol (a degenerate
// σ·√T) is ErrInvalidInput; the rate may be zero.
func BlackScholes(spot, strike, tenor, rate, vol float64) (call, put float64, err error) {
	if spot <= 0 || strike <= 0 {
		return 0, 0, fmt.Errorf("%w: spot (%g) and strike (%g) must be positive", ErrInvalidInput, spot, strike)
	}
	if tenor <= 0 || vol <= 0 {
		return 0, 0, fmt.Errorf("%w: tenor (%g) and vol (%g) must be positive", ErrInvalidInput, tenor, vol)
	}

	volSqrtT := vol * math.Sqrt(tenor)
	d1 := (math.Log(spot/strike) + (rate+vol*vol/2)*tenor) / volSqrtT
	d2 := d1 - volSqrtT
	discounted := strike * math.Exp(-rate*tenor)

	call = spot*normCDF(d1) - discounted*normCDF(d2)
	put = discounted*normCDF(-d2) - spot*normCDF(-d1)
	return call, put, nil
}
