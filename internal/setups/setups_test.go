package setups

import (
	"testing"
	"time"

	"sublimine-ids/pkg/types"
)

func noopSAF() SAFConfig {
	return SAFConfig{LevelBars: 3, Epsilon: 1e9, MinOFIAbs: 1e9, MinReplenishment: 1e9, MaxReturnBps: 0, WindowMs: 60_000, MinAttacks: 1000, ReachWorsenBps: 1, OFIDecayRatio: 1, LevelToleranceBps: 1, TargetOFI: 1}
}

func noopAFS() AFSConfig {
	return AFSConfig{PreBars: 3, SweepBps: 1e9, HoldBarsMax: 1, ConsolRangeRatio: 1, FollowthroughMaxBps: 1}
}

func noopPER() PERConfig {
	return PERConfig{MinHoldBps: 1, MaxPullbackBps: 100_000, TTLBars: 100}
}

// bar builds a MicroBar with sequential TsEnd values so bars.Builder-style
// ordering is preserved.
func bar(i int, o, h, l, c float64) types.MicroBar {
	return types.MicroBar{
		Symbol: "X", Venue: types.Binance, BarID: int64(i),
		TsStart: time.UnixMilli(int64(i) * 500), TsEnd: time.UnixMilli(int64(i)*500 + 499),
		Open: o, High: h, Low: l, Close: c, N: 1,
	}
}

// TestS1DLVBreakout reproduces spec.md scenario S1.
func TestS1DLVBreakout(t *testing.T) {
	t.Parallel()

	e := New(Config{
		HistoryCap: 50,
		DLV: DLVConfig{
			PreBars: 3, RunBars: 2, RetestTolBps: 5,
			MaxOverlapRatio: 0.5, MaxCounterWickRatio: 0.3, MaxCloseOffRatio: 0.3,
			PauseBarsRequired: 2, PauseRangeRatio: 1.0,
		},
		SAF: noopSAF(), AFS: noopAFS(), PER: noopPER(),
	})

	var allSignals []types.SignalEvent
	feed := func(b types.MicroBar) {
		allSignals = append(allSignals, e.OnBar(b)...)
	}

	feed(bar(0, 100, 101, 99, 100))
	feed(bar(1, 100, 101, 99, 100))
	feed(bar(2, 100, 101, 99, 100))
	feed(bar(3, 102, 105, 101.5, 105))
	feed(bar(4, 105, 108, 104.5, 108))
	feed(bar(5, 108, 108.3, 107.8, 108))
	feed(bar(6, 108, 108.3, 107.8, 108))
	feed(bar(7, 108, 109.2, 107.9, 109))

	var dlvSignals []types.SignalEvent
	for _, s := range allSignals {
		if s.Meta["setup"] == "DLV" {
			dlvSignals = append(dlvSignals, s)
		}
	}
	if len(dlvSignals) != 1 {
		t.Fatalf("got %d DLV signals, want exactly 1 (all signals: %+v)", len(dlvSignals), allSignals)
	}

	sig := dlvSignals[0]
	if sig.Meta["direction"] != "BUY" {
		t.Errorf("direction = %v, want BUY", sig.Meta["direction"])
	}
	if sig.Meta["pre_range_high"] != 101.0 || sig.Meta["pre_range_low"] != 99.0 {
		t.Errorf("pre range = %v/%v, want 101/99", sig.Meta["pre_range_high"], sig.Meta["pre_range_low"])
	}
	if got := sig.Meta["pause_high"].(float64); got < 108.29 || got > 108.31 {
		t.Errorf("pause_high = %v, want ~108.3", got)
	}
	if got := sig.Meta["pause_low"].(float64); got < 107.79 || got > 107.81 {
		t.Errorf("pause_low = %v, want ~107.8", got)
	}
	if !sig.Actionable() {
		t.Error("DLV firing must be actionable")
	}
}

// TestDLVNoEmissionBeforePrecondition covers Testable Property #4.
func TestDLVNoEmissionBeforePrecondition(t *testing.T) {
	t.Parallel()

	e := New(Config{
		HistoryCap: 50,
		DLV: DLVConfig{
			PreBars: 3, RunBars: 2, RetestTolBps: 5,
			MaxOverlapRatio: 0.5, MaxCounterWickRatio: 0.3, MaxCloseOffRatio: 0.3,
			PauseBarsRequired: 2, PauseRangeRatio: 1.0,
		},
		SAF: noopSAF(), AFS: noopAFS(), PER: noopPER(),
	})

	// Only 2 pre bars and a single run bar: far short of the precondition.
	var all []types.SignalEvent
	all = append(all, e.OnBar(bar(0, 100, 101, 99, 100))...)
	all = append(all, e.OnBar(bar(1, 100, 101, 99, 100))...)
	all = append(all, e.OnBar(bar(2, 102, 105, 101.5, 105))...)

	for _, s := range all {
		if s.Meta["setup"] == "DLV" {
			t.Fatalf("unexpected DLV emission before precondition satisfied: %+v", s)
		}
	}
}
