// Package bars implements the MicroBarBuilder: it aggregates FeatureFrames
// into fixed-interval OHLC+flow bars, emitting a bar exactly when a frame
// crosses the bucket boundary. Grounded on original_source's
// events/microbars.py.
package bars

import (
	"time"

	"sublimine-ids/pkg/types"
)

// Builder accumulates frames into MicroBars of IntervalMs width.
type Builder struct {
	symbol     string
	venue      types.Venue
	intervalMs int64

	hasActive bool
	bucket    int64
	barID     int64
	open, high, low, close float64
	n                      int
	sumOFI, sumOFIAbs, sumReplenish float64
	tsStart, tsEnd int64
}

// New creates a builder aggregating frames on intervalMs-wide buckets.
func New(symbol string, venue types.Venue, intervalMs int64) *Builder {
	return &Builder{symbol: symbol, venue: venue, intervalMs: intervalMs}
}

// Add feeds one FeatureFrame. It returns the just-completed bar and true
// when this frame opened a new bucket; otherwise (false, _).
//
// Critically, ofi_mean/ofi_abs_mean are accumulated from frame.OFIZ (the
// z-scored OFI), not the raw OFI — confirmed in microbars.py.
func (b *Builder) Add(frame types.FeatureFrame) (types.MicroBar, bool) {
	epochMs := frame.Timestamp.UnixMilli()
	bucket := epochMs / b.intervalMs

	if !b.hasActive {
		b.openBucket(bucket, frame)
		return types.MicroBar{}, false
	}

	if bucket == b.bucket {
		b.accumulate(frame)
		return types.MicroBar{}, false
	}

	finished := b.finalize()
	b.openBucket(bucket, frame)
	return finished, true
}

func (b *Builder) openBucket(bucket int64, frame types.FeatureFrame) {
	b.hasActive = true
	b.bucket = bucket
	b.barID++
	b.open, b.high, b.low, b.close = frame.Mid, frame.Mid, frame.Mid, frame.Mid
	b.n = 1
	b.sumOFI = frame.OFIZ
	b.sumOFIAbs = absf(frame.OFIZ)
	b.sumReplenish = frame.Replenishment
	b.tsStart = frame.Timestamp.UnixMilli()
	b.tsEnd = frame.Timestamp.UnixMilli()
}

func (b *Builder) accumulate(frame types.FeatureFrame) {
	if frame.Mid > b.high {
		b.high = frame.Mid
	}
	if frame.Mid < b.low {
		b.low = frame.Mid
	}
	b.close = frame.Mid
	b.n++
	b.sumOFI += frame.OFIZ
	b.sumOFIAbs += absf(frame.OFIZ)
	b.sumReplenish += frame.Replenishment
	b.tsEnd = frame.Timestamp.UnixMilli()
}

func (b *Builder) finalize() types.MicroBar {
	n := float64(b.n)
	return types.MicroBar{
		Symbol:            b.symbol,
		Venue:             b.venue,
		BarID:             b.barID,
		TsStart:           msToTime(b.tsStart),
		TsEnd:             msToTime(b.tsEnd),
		Open:              b.open,
		High:              b.high,
		Low:               b.low,
		Close:             b.close,
		N:                 b.n,
		OFIMean:           b.sumOFI / n,
		OFIAbsMean:        b.sumOFIAbs / n,
		ReplenishmentMean: b.sumReplenish / n,
	}
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
