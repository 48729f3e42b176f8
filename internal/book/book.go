// Package book implements the per-symbol local order book: a depth-capped
// bid/ask ladder that applies snapshots and merges deltas by price key.
//
// Storage is backed by github.com/emirpasic/gods treemap.Map, one ordered
// map per side, so best-of-book and top-N reads are O(log n)/O(k) instead
// of a sort-on-read over a plain map.
package book

import (
	"github.com/emirpasic/gods/maps/treemap"

	"sublimine-ids/pkg/types"
)

func float64Comparator(a, b any) int {
	x, y := a.(float64), b.(float64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// OrderBook holds the bid/ask ladders for one symbol, trimmed to DepthK
// levels per side. Both sides are kept ascending by price: best bid is the
// map maximum, best ask the map minimum.
type OrderBook struct {
	Symbol string
	Venue  types.Venue
	DepthK int

	bids *treemap.Map
	asks *treemap.Map
}

// New creates an empty order book capped to depthK levels per side.
func New(symbol string, venue types.Venue, depthK int) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		Venue:  venue,
		DepthK: depthK,
		bids:   treemap.NewWith(float64Comparator),
		asks:   treemap.NewWith(float64Comparator),
	}
}

// ApplySnapshot replaces both sides wholesale, then trims to depth.
func (b *OrderBook) ApplySnapshot(s types.BookSnapshot) {
	b.bids.Clear()
	b.asks.Clear()
	applyLevels(b.bids, s.Bids)
	applyLevels(b.asks, s.Asks)
	b.trim()
}

// ApplyDelta merges each level by price key: size>0 inserts/updates,
// size==0 deletes. Trims to depth afterward.
func (b *OrderBook) ApplyDelta(d types.BookDelta) {
	applyLevels(b.bids, d.Bids)
	applyLevels(b.asks, d.Asks)
	b.trim()
}

func applyLevels(m *treemap.Map, levels []types.BookLevel) {
	for _, lvl := range levels {
		if lvl.Size == 0 {
			m.Remove(lvl.Price)
		} else {
			m.Put(lvl.Price, lvl.Size)
		}
	}
}

// trim keeps the top DepthK prices on each side: highest for bids, lowest
// for asks. A DepthK <= 0 disables trimming.
func (b *OrderBook) trim() {
	if b.DepthK <= 0 {
		return
	}
	trimSide(b.bids, b.DepthK, true)
	trimSide(b.asks, b.DepthK, false)
}

func trimSide(m *treemap.Map, depth int, keepHighest bool) {
	keys := m.Keys() // ascending
	if len(keys) <= depth {
		return
	}
	var drop []any
	if keepHighest {
		drop = keys[:len(keys)-depth]
	} else {
		drop = keys[depth:]
	}
	for _, k := range drop {
		m.Remove(k)
	}
}

// BestBid returns the highest bid level, if any.
func (b *OrderBook) BestBid() (types.BookLevel, bool) {
	if b.bids.Empty() {
		return types.BookLevel{}, false
	}
	k, v := b.bids.Max()
	return types.BookLevel{Price: k.(float64), Size: v.(float64)}, true
}

// BestAsk returns the lowest ask level, if any.
func (b *OrderBook) BestAsk() (types.BookLevel, bool) {
	if b.asks.Empty() {
		return types.BookLevel{}, false
	}
	k, v := b.asks.Min()
	return types.BookLevel{Price: k.(float64), Size: v.(float64)}, true
}

// TopN returns the top n levels of one side in canonical order: bids
// descending by price, asks ascending. n<=0 returns every level held.
func (b *OrderBook) TopN(isBid bool, n int) []types.BookLevel {
	m := b.asks
	if isBid {
		m = b.bids
	}
	keys := m.Keys() // ascending
	if isBid {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	out := make([]types.BookLevel, 0, len(keys))
	for _, k := range keys {
		v, _ := m.Get(k)
		out = append(out, types.BookLevel{Price: k.(float64), Size: v.(float64)})
	}
	return out
}

// Mid returns (bestBid+bestAsk)/2, or false if either side is empty.
func (b *OrderBook) Mid() (float64, bool) {
	bb, ok1 := b.BestBid()
	ba, ok2 := b.BestAsk()
	if !ok1 || !ok2 {
		return 0, false
	}
	return (bb.Price + ba.Price) / 2, true
}

// DepthNear sums the size of the top DepthK levels on both sides.
func (b *OrderBook) DepthNear() float64 {
	var sum float64
	for _, lvl := range b.TopN(true, b.DepthK) {
		sum += lvl.Size
	}
	for _, lvl := range b.TopN(false, b.DepthK) {
		sum += lvl.Size
	}
	return sum
}
