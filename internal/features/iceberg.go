package features

import "sublimine-ids/pkg/types"

// icebergTracker scores same-price, bigger-size repaints at the best bid
// or ask — the classic iceberg-refill signature. Grounded on
// original_source's features/iceberg.py.
type icebergTracker struct {
	window  int
	scores  []float64
	lastBid *types.BookLevel
	lastAsk *types.BookLevel
}

func newIcebergTracker(window int) *icebergTracker {
	if window < 1 {
		window = 1
	}
	return &icebergTracker{window: window}
}

// Update scores the current best levels against the previous call's, then
// returns the rolling mean score.
func (t *icebergTracker) Update(bestBid, bestAsk *types.BookLevel) float64 {
	var score float64
	if t.lastBid != nil && bestBid != nil &&
		bestBid.Price == t.lastBid.Price && bestBid.Size > t.lastBid.Size {
		score += 1
	}
	if t.lastAsk != nil && bestAsk != nil &&
		bestAsk.Price == t.lastAsk.Price && bestAsk.Size > t.lastAsk.Size {
		score += 1
	}
	if bestBid != nil || bestAsk != nil {
		t.push(score)
	}
	t.lastBid, t.lastAsk = bestBid, bestAsk
	return t.Value()
}

func (t *icebergTracker) push(v float64) {
	if len(t.scores) >= t.window {
		copy(t.scores, t.scores[1:])
		t.scores = t.scores[:len(t.scores)-1]
	}
	t.scores = append(t.scores, v)
}

// Value returns the rolling mean score, 0 if no samples yet.
func (t *icebergTracker) Value() float64 {
	if len(t.scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.scores {
		sum += v
	}
	return sum / float64(len(t.scores))
}
