package discount

import "github.com/zxc3309/lockup-calculator/internal/model"

// MinWeight is substituted when a contract quotes no usable prices
// (zero average premium), keeping it in the aggregate without dividing
// by zero.
var MinWeight = 0.01

// Weight converts a contract's quoted bid/ask spreads into a relative
// confidence weight in (0, 1]:
//
//	spread = (callAsk − callBid) + (putAsk − putBid)
//	weight = 1 / (1 + spread/avgPremium)
//
// Tight spreads weigh near 1, wide spreads are discounted. Contracts
// with no quotes on either side have zero spread and weigh exactly 1 —
// a known bias toward sparsely quoted books the aggregate accepts.
// Crossed quotes (bid above ask in a stale snapshot) count as zero
// spread rather than inflating the weight past 1.
func Weight(c model.OptionContract) float64 {
	avgPremium := (c.CallPrice + c.PutPrice) / 2
	if avgPremium <= 0 {
		return MinWeight
	}
	spread := (c.CallAsk - c.CallBid) + (c.PutAsk - c.PutBid)
	if spread < 0 {
		spread = 0
	}
	return 1 / (1 + spread/avgPremium)
}
