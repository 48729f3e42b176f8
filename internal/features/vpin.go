package features

import "sublimine-ids/pkg/types"

// vpinTracker buckets signed trade flow into fixed-size buckets and
// scores each bucket's buy/sell imbalance, averaged over the last `window`
// buckets — a volume-synchronized order-flow toxicity estimate. Grounded
// on original_source's features/vpin.py.
type vpinTracker struct {
	bucketSize        float64
	window            int
	bucketBuy         float64
	bucketSell        float64
	buckets           []float64
}

func newVPINTracker(bucketSize float64, window int) *vpinTracker {
	if window < 1 {
		window = 1
	}
	return &vpinTracker{bucketSize: bucketSize, window: window}
}

// Update feeds one trade print, closing out as many full buckets as the
// trade's size fills, then returns the rolling mean imbalance.
func (t *vpinTracker) Update(trade types.TradePrint) float64 {
	switch trade.AggressorSide {
	case types.Buy:
		t.bucketBuy += trade.Size
	case types.Sell:
		t.bucketSell += trade.Size
	}

	total := t.bucketBuy + t.bucketSell
	for t.bucketSize > 0 && total >= t.bucketSize {
		buy := min(t.bucketBuy, t.bucketSize)
		sell := min(t.bucketSell, t.bucketSize-buy)
		imbalance := abs(buy-sell) / t.bucketSize
		t.push(imbalance)
		t.bucketBuy = max(0, t.bucketBuy-buy)
		t.bucketSell = max(0, t.bucketSell-sell)
		total = t.bucketBuy + t.bucketSell
	}
	return t.Value()
}

func (t *vpinTracker) push(v float64) {
	if len(t.buckets) >= t.window {
		copy(t.buckets, t.buckets[1:])
		t.buckets = t.buckets[:len(t.buckets)-1]
	}
	t.buckets = append(t.buckets, v)
}

// Value returns the rolling mean bucket imbalance, 0 if no bucket closed yet.
func (t *vpinTracker) Value() float64 {
	if len(t.buckets) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.buckets {
		sum += v
	}
	return sum / float64(len(t.buckets))
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func abs(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}
