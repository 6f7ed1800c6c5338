package discount

import (
	"fmt"
	"math"
	"sort"

	"github.com/zxc3309/lockup-calculator/internal/model"
)

// StrikeMatch pairs the contracts listed at one strike on both expiry
// legs. Distance is |strike − spot|, the at-the-money ranking key.
type StrikeMatch struct {
	Strike   float64
	Short    model.OptionContract
	Long     model.OptionContract
	Distance float64
}

// MatchStrikes intersects the strikes quoted on both legs and returns
// the n nearest the spot price, closest first. Distance ties keep the
// long leg's original order. Neither input slice is mutated.
// An empty intersection is ErrNoCommonStrikes; n <= 0 falls back to
// DefaultStrikeCount.
func MatchStrikes(short, long []model.OptionContract, spotPrice float64, n int) ([]StrikeMatch, error) {
	if n <= 0 {
		n = DefaultStrikeCount
	}

	shortByStrike := make(map[float64]model.OptionContract, len(short))
	for _, c := range short {
		if _, ok := shortByStrike[c.Strike]; !ok {
			shortByStrike[c.Strike] = c
		}
	}

	matches := make([]StrikeMatch, 0, len(long))
	seen := make(map[float64]bool, len(long))
	for _, c := range long {
		sc, ok := shortByStrike[c.Strike]
		if !ok || seen[c.Strike] {
			continue
		}
		seen[c.Strike] = true
		matches = append(matches, StrikeMatch{
			Strike:   c.Strike,
			Short:    sc,
			Long:     c,
			Distance: math.Abs(c.Strike - spotPrice),
		})
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %d short-term vs %d long-term contracts",
			ErrNoCommonStrikes, len(short), len(long))
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// RankByATM orders contracts by distance from spot, nearest first, and
// truncates to n. Used by the single-expiry path, which has no second
// leg to intersect with. The input slice is not mutated; distance ties
// keep input order.
func RankByATM(contracts []model.OptionContract, spotPrice float64, n int) []model.OptionContract {
	if n <= 0 {
		n = DefaultStrikeCount
	}
	ranked := make([]model.OptionContract, len(contracts))
	copy(ranked, contracts)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Strike-spotPrice) < math.Abs(ranked[j].Strike-spotPrice)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
