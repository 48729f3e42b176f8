package features

import (
	"testing"
	"time"

	"sublimine-ids/pkg/types"
)

func cfg() Config {
	return Config{
		DepthK: 5, OFIWindow: 20, ReplenishWindow: 20,
		IcebergWindow: 20, SpoofWindow: 20, VPINBucketSize: 10, VPINWindow: 10,
		BasisWindow: 20,
	}
}

func TestOnSnapshotComputesMidAndMicroprice(t *testing.T) {
	t.Parallel()

	e := New("X", types.Binance, cfg())
	frame := e.OnSnapshot(types.BookSnapshot{
		Timestamp: time.Now(),
		Bids:      []types.BookLevel{{Price: 100, Size: 2}},
		Asks:      []types.BookLevel{{Price: 102, Size: 2}},
	}, nil)

	if frame.Mid != 101 {
		t.Errorf("Mid = %v, want 101", frame.Mid)
	}
	if frame.Microprice != 101 {
		t.Errorf("Microprice = %v, want 101 (equal sizes)", frame.Microprice)
	}
	if frame.BasisZ != 0 || frame.LeadLag != 0 {
		t.Errorf("expected basis/lead_lag forced to 0 absent follower, got %v/%v", frame.BasisZ, frame.LeadLag)
	}
}

func TestOnDeltaDeltaSizeBeforeApply(t *testing.T) {
	t.Parallel()

	e := New("X", types.Binance, cfg())
	e.OnSnapshot(types.BookSnapshot{
		Timestamp: time.Now(),
		Bids:      []types.BookLevel{{Price: 100, Size: 1}},
		Asks:      []types.BookLevel{{Price: 101, Size: 1}},
	}, nil)

	frame := e.OnDelta(types.BookDelta{
		Timestamp: time.Now(),
		Bids:      []types.BookLevel{{Price: 100, Size: 3}},
		Asks:      []types.BookLevel{{Price: 101, Size: 0}, {Price: 102, Size: 2}},
	}, nil)

	if frame.DeltaSize != 5 { // |3| + |0| + |2|
		t.Errorf("DeltaSize = %v, want 5", frame.DeltaSize)
	}
	if frame.Mid != (100+102)/2.0 {
		t.Errorf("Mid after delta = %v, want %v", frame.Mid, (100+102)/2.0)
	}
}

func TestLeadLagComputesRealRatioAcrossUpdatesWithFollower(t *testing.T) {
	t.Parallel()

	e := New("X", types.Binance, cfg())
	ts := time.Now()
	follower1 := 100.0
	frame := e.OnSnapshot(types.BookSnapshot{
		Timestamp: ts,
		Bids:      []types.BookLevel{{Price: 100, Size: 1}},
		Asks:      []types.BookLevel{{Price: 102, Size: 1}},
	}, &follower1)
	if frame.LeadLag != 0 {
		t.Errorf("LeadLag on first update = %v, want 0 (no previous mid yet)", frame.LeadLag)
	}

	// leader mid moves 101 -> 106 (Δ=5), follower moves 100 -> 102 (Δ=2).
	// want min(|5/2|, 3)/3 = min(2.5, 3)/3 = 2.5/3.
	follower2 := 102.0
	frame = e.OnSnapshot(types.BookSnapshot{
		Timestamp: ts.Add(time.Millisecond),
		Bids:      []types.BookLevel{{Price: 104, Size: 1}},
		Asks:      []types.BookLevel{{Price: 108, Size: 1}},
	}, &follower2)

	want := 2.5 / 3
	if diff := frame.LeadLag - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("LeadLag = %v, want %v", frame.LeadLag, want)
	}
}

func TestReplenishmentOnPriceUnchangedSizeIncrease(t *testing.T) {
	t.Parallel()

	e := New("X", types.Binance, cfg())
	ts := time.Now()
	e.OnSnapshot(types.BookSnapshot{
		Timestamp: ts,
		Bids:      []types.BookLevel{{Price: 100, Size: 1}},
		Asks:      []types.BookLevel{{Price: 101, Size: 1}},
	}, nil)

	frame := e.OnSnapshot(types.BookSnapshot{
		Timestamp: ts.Add(time.Millisecond),
		Bids:      []types.BookLevel{{Price: 100, Size: 5}}, // same price, bigger size
		Asks:      []types.BookLevel{{Price: 101, Size: 1}},
	}, nil)

	if frame.Replenishment <= 0 {
		t.Errorf("Replenishment = %v, want > 0", frame.Replenishment)
	}
}
