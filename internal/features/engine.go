// Package features implements the per-venue FeatureEngine: it owns one
// OrderBook plus the OFI/iceberg/spoof/VPIN/basis trackers, and emits one
// FeatureFrame per book update. Grounded on original_source's
// features/feature_engine.py for the event-processing order, and on
// ofi.py/iceberg.py/spoof.py/vpin.py/basis.py/book_features.py for the
// individual computations.
package features

import (
	"time"

	"sublimine-ids/internal/book"
	"sublimine-ids/internal/rolling"
	"sublimine-ids/pkg/types"
)

// Config parameterizes window sizes for the engine's trackers.
type Config struct {
	DepthK          int
	OFIWindow       int
	ReplenishWindow int
	IcebergWindow   int
	SpoofWindow     int
	VPINBucketSize  float64
	VPINWindow      int
	BasisWindow     int
}

// Engine is the per-venue, per-symbol feature pipeline.
type Engine struct {
	symbol string
	venue  types.Venue

	book *book.OrderBook

	ofi          *rolling.Stats
	replenish    *rolling.Stats
	iceberg      *icebergTracker
	spoof        *spoofTracker
	vpin         *vpinTracker
	basis        *basisTracker

	hasPrev  bool
	prevBid  types.BookLevel
	prevAsk  types.BookLevel
	lastMid  float64
	lastTs   time.Time
}

// New creates a FeatureEngine for one (symbol, venue) pair.
func New(symbol string, venue types.Venue, cfg Config) *Engine {
	return &Engine{
		symbol:    symbol,
		venue:     venue,
		book:      book.New(symbol, venue, cfg.DepthK),
		ofi:       rolling.NewStats(cfg.OFIWindow),
		replenish: rolling.NewStats(cfg.ReplenishWindow),
		iceberg:   newIcebergTracker(cfg.IcebergWindow),
		spoof:     newSpoofTracker(cfg.SpoofWindow),
		vpin:      newVPINTracker(cfg.VPINBucketSize, cfg.VPINWindow),
		basis:     newBasisTracker(cfg.BasisWindow),
	}
}

// OnSnapshot applies a full book replace and computes the resulting frame.
func (e *Engine) OnSnapshot(s types.BookSnapshot, followerMid *float64) types.FeatureFrame {
	e.book.ApplySnapshot(s)
	frame := e.computeFrame(s.Timestamp, followerMid)
	frame.DeltaSize = 0
	frame.SpoofScore = e.spoof.Value()
	return frame
}

// OnDelta merges an incremental update and computes the resulting frame.
// delta_size and the spoof tracker are evaluated against the delta's raw
// levels before the merge is applied, per spec.md §4.2.
func (e *Engine) OnDelta(d types.BookDelta, followerMid *float64) types.FeatureFrame {
	deltaSize := sumAbsSize(d.Bids) + sumAbsSize(d.Asks)
	spoofScore := e.spoof.Update(d)

	e.book.ApplyDelta(d)

	frame := e.computeFrame(d.Timestamp, followerMid)
	frame.DeltaSize = deltaSize
	frame.SpoofScore = spoofScore
	return frame
}

// OnTrade feeds the VPIN tracker. It emits no frame: VPIN's rolling value
// rides along on the next book-driven frame.
func (e *Engine) OnTrade(t types.TradePrint) {
	e.vpin.Update(t)
}

func sumAbsSize(levels []types.BookLevel) float64 {
	var s float64
	for _, l := range levels {
		v := l.Size
		if v < 0 {
			v = -v
		}
		s += v
	}
	return s
}

func (e *Engine) computeFrame(ts time.Time, followerMid *float64) types.FeatureFrame {
	currBid, _ := e.book.BestBid()
	currAsk, _ := e.book.BestAsk()
	mid, _ := e.book.Mid()
	spread := currAsk.Price - currBid.Price

	mp := microprice(currBid, currAsk)
	bias := micropriceBias(mp, mid, spread)

	var ofiRaw float64
	if e.hasPrev {
		ofiRaw = bidContribution(e.prevBid, currBid) - askContribution(e.prevAsk, currAsk)
	}
	e.ofi.Update(ofiRaw)
	ofiZ := e.ofi.ZScore(ofiRaw)

	var replenishScore float64
	if e.hasPrev {
		if currBid.Price == e.prevBid.Price && currBid.Size > e.prevBid.Size {
			replenishScore++
		}
		if currAsk.Price == e.prevAsk.Price && currAsk.Size > e.prevAsk.Size {
			replenishScore++
		}
	}
	e.replenish.Update(replenishScore)
	replenishMean := e.replenish.Mean()

	icebergScore := e.iceberg.Update(ptrLevel(currBid), ptrLevel(currAsk))

	var priceProgress, returnSpeed float64
	if e.hasPrev {
		priceProgress = absf(mid - e.lastMid)
		dt := ts.Sub(e.lastTs).Seconds()
		if dt > 0 {
			returnSpeed = priceProgress / dt
		}
	}
	sweepDistance := priceProgress
	postSweepAbsorption := 0.0
	if sweepDistance > 0 {
		postSweepAbsorption = replenishMean
	}

	basisZ, leadLag := e.basis.Update(mid, followerMid)

	bidLevels := e.book.TopN(true, 0)
	askLevels := e.book.TopN(false, 0)

	frame := types.FeatureFrame{
		Symbol:              e.symbol,
		Venue:                e.venue,
		Timestamp:            ts,
		Mid:                  mid,
		DepthNear:            e.book.DepthNear(),
		Microprice:           mp,
		MicropriceBias:       bias,
		OFIZ:                 ofiZ,
		PriceProgress:        priceProgress,
		Replenishment:        replenishMean,
		SweepDistance:        sweepDistance,
		ReturnSpeed:          returnSpeed,
		PostSweepAbsorption:  postSweepAbsorption,
		BasisZ:               basisZ,
		LeadLag:              leadLag,
		Imbalance:            imbalance(bidLevels, askLevels),
		Slope:                liquiditySlope(bidLevels, askLevels),
		Convexity:            liquidityConvexity(bidLevels, askLevels),
		IcebergScore:         icebergScore,
		VPINScore:            e.vpin.Value(),
	}

	e.prevBid, e.prevAsk = currBid, currAsk
	e.lastMid, e.lastTs = mid, ts
	e.hasPrev = true
	return frame
}

func ptrLevel(l types.BookLevel) *types.BookLevel {
	if l == (types.BookLevel{}) {
		return nil
	}
	return &l
}

func bidContribution(prev, curr types.BookLevel) float64 {
	switch {
	case curr.Price > prev.Price:
		return curr.Size
	case curr.Price == prev.Price:
		return curr.Size - prev.Size
	default:
		return -prev.Size
	}
}

func askContribution(prev, curr types.BookLevel) float64 {
	switch {
	case curr.Price < prev.Price:
		return curr.Size
	case curr.Price == prev.Price:
		return curr.Size - prev.Size
	default:
		return -prev.Size
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
