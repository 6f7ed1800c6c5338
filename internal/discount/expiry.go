package discount

import (
	"fmt"
	"sort"
	"time"

	"github.com/zxc3309/lockup-calculator/internal/model"
)

// SelectExpiryPair picks the two listed expiries that anchor the
// variance projection for a target unlock date, and the strategy the
// extrapolator should use between them:
//
//   - target inside [e_i, e_i+1]  → that pair, INTERPOLATION
//   - target after the last expiry → last two, EXTRAPOLATION
//   - target before the first      → first two, BOUNDED_EXTRAPOLATION
//
// Window boundaries are inclusive: a target landing exactly on a listed
// expiry interpolates. The input slice is not mutated; duplicates are
// ignored. Fewer than two distinct expiries is ErrInsufficientExpiries.
func SelectExpiryPair(expiries []time.Time, target time.Time) (model.ExpiryPair, error) {
	sorted := make([]time.Time, len(expiries))
	copy(sorted, expiries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	// Drop duplicates so a pair never degenerates to a single date.
	distinct := make([]time.Time, 0, len(sorted))
	for _, e := range sorted {
		if n := len(distinct); n == 0 || !e.Equal(distinct[n-1]) {
			distinct = append(distinct, e)
		}
	}

	if len(distinct) < 2 {
		return model.ExpiryPair{}, fmt.Errorf("%w: got %d", ErrInsufficientExpiries, len(distinct))
	}

	for i := 0; i+1 < len(distinct); i++ {
		if !target.Before(distinct[i]) && !target.After(distinct[i+1]) {
			return model.ExpiryPair{
				ShortExpiry: distinct[i],
				LongExpiry:  distinct[i+1],
				Strategy:    model.StrategyInterpolation,
			}, nil
		}
	}

	last := len(distinct) - 1
	if target.After(distinct[last]) {
		return model.ExpiryPair{
			ShortExpiry: distinct[last-1],
			LongExpiry:  distinct[last],
			Strategy:    model.StrategyExtrapolation,
		}, nil
	}

	// Only remaining case: target precedes the first listed expiry.
	return model.ExpiryPair{
		ShortExpiry: distinct[0],
		LongExpiry:  distinct[1],
		Strategy:    model.StrategyBoundedExtrapolation,
	}, nil
}
