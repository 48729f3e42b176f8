package features

import "sublimine-ids/pkg/types"

// microprice returns the size-weighted cross of best bid/ask, falling back
// to the simple mid when both sizes are 0. Grounded on
// original_source's features/book_features.py _microprice.
func microprice(bid, ask types.BookLevel) float64 {
	denom := bid.Size + ask.Size
	if denom == 0 {
		return (bid.Price + ask.Price) / 2
	}
	return (bid.Price*ask.Size + ask.Price*bid.Size) / denom
}

// micropriceBias returns (microprice-mid)/spread, 0 when spread<=0.
func micropriceBias(mp, mid, spread float64) float64 {
	if spread <= 0 {
		return 0
	}
	return (mp - mid) / spread
}

// imbalance returns (bidDepth-askDepth)/(bidDepth+askDepth) over the given
// levels, 0 when both sides are empty. Supplemented from book_features.py.
func imbalance(bidLevels, askLevels []types.BookLevel) float64 {
	bidDepth := sumSize(bidLevels)
	askDepth := sumSize(askLevels)
	total := bidDepth + askDepth
	if total == 0 {
		return 0
	}
	return (bidDepth - askDepth) / total
}

// liquiditySlope fits a simple linear trend of cumulative size against
// level index on one side, averaged across both sides. Supplemented from
// book_features.py's _liquidity_slope.
func liquiditySlope(bidLevels, askLevels []types.BookLevel) float64 {
	return (sideSlope(bidLevels) + sideSlope(askLevels)) / 2
}

// liquidityConvexity fits a quadratic term of cumulative size against
// level index, averaged across both sides. Supplemented from
// book_features.py's _liquidity_convexity.
func liquidityConvexity(bidLevels, askLevels []types.BookLevel) float64 {
	return (sideConvexity(bidLevels) + sideConvexity(askLevels)) / 2
}

func sumSize(levels []types.BookLevel) float64 {
	var s float64
	for _, l := range levels {
		s += l.Size
	}
	return s
}

// sideSlope computes the average first difference of cumulative size
// across consecutive levels — a cheap linear-trend proxy.
func sideSlope(levels []types.BookLevel) float64 {
	if len(levels) < 2 {
		return 0
	}
	cum := make([]float64, len(levels))
	running := 0.0
	for i, l := range levels {
		running += l.Size
		cum[i] = running
	}
	var sum float64
	for i := 1; i < len(cum); i++ {
		sum += cum[i] - cum[i-1]
	}
	return sum / float64(len(cum)-1)
}

// sideConvexity computes the average second difference of cumulative
// size — a cheap curvature proxy.
func sideConvexity(levels []types.BookLevel) float64 {
	if len(levels) < 3 {
		return 0
	}
	cum := make([]float64, len(levels))
	running := 0.0
	for i, l := range levels {
		running += l.Size
		cum[i] = running
	}
	var sum float64
	count := 0
	for i := 2; i < len(cum); i++ {
		sum += cum[i] - 2*cum[i-1] + cum[i-2]
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
