package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sublimine-ids/internal/config"
	"sublimine-ids/internal/connectors"
	"sublimine-ids/internal/journal"
	"sublimine-ids/pkg/types"
)

const testYAML = `
symbols:
  leader: BTCUSDT
  exec: BTCUSDT

thresholds:
  window: 200
  depth_k: 10
  quantile_high: 0.95
  quantile_low: 0.05
  min_samples: 30
  signal_score_min: 0.5

risk_phases:
  F0:
    risk_frac: 0.0020
    max_daily_loss: 0.0100
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

// fakeFeed is a connectors.Feed a test can drive directly; Run blocks
// until ctx is cancelled, mirroring the real connectors' lifecycle.
type fakeFeed struct {
	deltas    chan types.BookDelta
	snapshots chan types.BookSnapshot
	trades    chan types.TradePrint
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		deltas:    make(chan types.BookDelta, 8),
		snapshots: make(chan types.BookSnapshot, 8),
		trades:    make(chan types.TradePrint, 8),
	}
}

func (f *fakeFeed) Deltas() <-chan types.BookDelta       { return f.deltas }
func (f *fakeFeed) Snapshots() <-chan types.BookSnapshot { return f.snapshots }
func (f *fakeFeed) Trades() <-chan types.TradePrint      { return f.trades }
func (f *fakeFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func newTestRunner(t *testing.T, feeds map[types.Venue]connectors.Feed) *Runner {
	t.Helper()
	cfg := testConfig(t)
	r, err := New(cfg, feeds, nil, discardLogger(), ExecShadow)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNewWiresOnePipelinePerFeed(t *testing.T) {
	feeds := map[types.Venue]connectors.Feed{
		types.Binance: newFakeFeed(),
		types.Bybit:   newFakeFeed(),
	}
	r := newTestRunner(t, feeds)

	if _, ok := r.pipelines[types.Binance]; !ok {
		t.Error("expected a pipeline for Binance")
	}
	if _, ok := r.pipelines[types.Bybit]; !ok {
		t.Error("expected a pipeline for Bybit")
	}
	if len(r.pipelines) != 2 {
		t.Errorf("len(pipelines) = %d, want 2", len(r.pipelines))
	}
}

func TestOtherVenueMapping(t *testing.T) {
	cases := []struct {
		in      types.Venue
		want    types.Venue
		wantOK  bool
	}{
		{types.Binance, types.Bybit, true},
		{types.Bybit, types.Binance, true},
		{types.MT5, "", false},
	}
	for _, c := range cases {
		got, ok := otherVenue(c.in)
		if ok != c.wantOK || got != c.want {
			t.Errorf("otherVenue(%v) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.wantOK)
		}
	}
}

func TestHandleTradeJournalsAndObservesHealth(t *testing.T) {
	feeds := map[types.Venue]connectors.Feed{types.Binance: newFakeFeed()}
	r := newTestRunner(t, feeds)

	jpath := filepath.Join(t.TempDir(), "journal.ndjson")
	jrnl, err := journal.Create(jpath)
	if err != nil {
		t.Fatalf("journal.Create: %v", err)
	}
	r.jrnl = jrnl
	defer jrnl.Close()

	ts := time.Now().UTC()
	r.handle(ingressEvent{
		venue: types.Binance,
		kind:  kindTrade,
		trade: types.TradePrint{Symbol: "BTCUSDT", Venue: types.Binance, Timestamp: ts, Price: 100, Size: 1, AggressorSide: types.Buy},
	})

	jrnl.Close()
	events, err := journal.Replay(jpath)
	if err != nil {
		t.Fatalf("journal.Replay: %v", err)
	}
	if len(events) != 1 || events[0].EventType != types.EventTrade {
		t.Fatalf("journal events = %+v, want exactly one TRADE", events)
	}

	assessment := r.health.Snapshot("BTCUSDT", ts, []types.Venue{types.Binance})
	if assessment.MissingFeed {
		t.Error("expected health to see a recent trade, not a missing feed")
	}
}

func TestHandleSnapshotDrivesFeatureAndHealth(t *testing.T) {
	feeds := map[types.Venue]connectors.Feed{types.Binance: newFakeFeed()}
	r := newTestRunner(t, feeds)

	ts := time.Now().UTC()
	var published []types.EventType
	r.bus.Subscribe(types.EventFeature, func(any) { published = append(published, types.EventFeature) })

	r.handle(ingressEvent{
		venue: types.Binance,
		kind:  kindSnapshot,
		snap: types.BookSnapshot{
			Symbol: "BTCUSDT", Venue: types.Binance, Timestamp: ts,
			Bids: []types.BookLevel{{Price: 99.9, Size: 10}},
			Asks: []types.BookLevel{{Price: 100.1, Size: 10}},
		},
	})

	if len(published) != 1 {
		t.Fatalf("FEATURE events published = %d, want 1", len(published))
	}

	r.midsMu.Lock()
	mid := r.mids[types.Binance]
	r.midsMu.Unlock()
	if mid <= 0 {
		t.Errorf("mid = %v, want a positive mid recorded from the snapshot", mid)
	}
}

func TestSetMidRecordsCrossVenueDiff(t *testing.T) {
	feeds := map[types.Venue]connectors.Feed{
		types.Binance: newFakeFeed(),
		types.Bybit:   newFakeFeed(),
	}
	r := newTestRunner(t, feeds)

	ts := time.Now().UTC()
	r.setMid(types.Binance, 100.0, ts)
	r.setMid(types.Bybit, 101.0, ts)

	assessment := r.health.Snapshot("BTCUSDT", ts, []types.Venue{types.Binance, types.Bybit})
	if assessment.Snap.MidDiffBps <= 0 {
		t.Errorf("MidDiffBps = %v, want > 0 after diverging mids", assessment.Snap.MidDiffBps)
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	feeds := map[types.Venue]connectors.Feed{types.Binance: newFakeFeed()}
	r := newTestRunner(t, feeds)

	for i := 0; i < ingressQueueDepth+10; i++ {
		r.enqueue(ingressEvent{venue: types.Binance, kind: kindTrade})
	}
	if len(r.queue) != ingressQueueDepth {
		t.Errorf("len(queue) = %d, want it capped at %d", len(r.queue), ingressQueueDepth)
	}
}

func TestOtherMidReturnsNilWithoutPeerData(t *testing.T) {
	feeds := map[types.Venue]connectors.Feed{
		types.Binance: newFakeFeed(),
		types.Bybit:   newFakeFeed(),
	}
	r := newTestRunner(t, feeds)

	if got := r.otherMid(types.Binance); got != nil {
		t.Errorf("otherMid before any Bybit mid recorded = %v, want nil", got)
	}
	r.setMid(types.Bybit, 100.0, time.Now().UTC())
	got := r.otherMid(types.Binance)
	if got == nil || *got != 100.0 {
		t.Errorf("otherMid(Binance) = %v, want 100.0", got)
	}
}

func TestExecModeSelectsRouterShadowFlag(t *testing.T) {
	cfg := testConfig(t)
	feeds := map[types.Venue]connectors.Feed{types.Binance: newFakeFeed()}

	for _, tc := range []struct {
		mode       ExecMode
		wantEvents int // ORDER_REQUEST only (shadow) vs full 4-event lifecycle (paper)
	}{
		{ExecOff, 1},
		{ExecShadow, 1},
		{ExecPaper, 4},
	} {
		r, err := New(cfg, feeds, nil, discardLogger(), tc.mode)
		if err != nil {
			t.Fatalf("New(%v): %v", tc.mode, err)
		}
		if r.execMode != tc.mode {
			t.Errorf("execMode = %v, want %v", r.execMode, tc.mode)
		}

		var n int
		for _, et := range []types.EventType{types.EventOrderRequest, types.EventOrderAck, types.EventOrderFill, types.EventPositionSnap} {
			r.bus.Subscribe(et, func(any) { n++ })
		}
		r.router.Submit(types.TradeIntent{
			Symbol: "BTCUSDT", Direction: types.Buy, Score: 0.8, RiskFrac: 0.002,
			EntryPlan: map[string]any{"price": 100.0}, StopPlan: map[string]any{"stop_price": 99.0},
			Timestamp: time.Now().UTC(),
		}, time.Now().UTC())
		if n != tc.wantEvents {
			t.Errorf("mode %v: router published %d events, want %d", tc.mode, n, tc.wantEvents)
		}
	}
}

func TestReplayReproducesFeatureFromJournaledBookEvents(t *testing.T) {
	cfg := testConfig(t)
	jpath := filepath.Join(t.TempDir(), "journal.ndjson")
	jrnl, err := journal.Create(jpath)
	if err != nil {
		t.Fatalf("journal.Create: %v", err)
	}
	ts := time.Now().UTC()
	if err := jrnl.Append(types.EventBookSnapshot, types.BookSnapshot{
		Symbol: "BTCUSDT", Venue: types.Binance, Timestamp: ts,
		Bids: []types.BookLevel{{Price: 99.9, Size: 10}},
		Asks: []types.BookLevel{{Price: 100.1, Size: 10}},
	}); err != nil {
		t.Fatalf("append snapshot: %v", err)
	}
	jrnl.Close()

	replayJournalPath := filepath.Join(t.TempDir(), "replay-out.ndjson")
	outJrnl, err := journal.Create(replayJournalPath)
	if err != nil {
		t.Fatalf("journal.Create: %v", err)
	}
	defer outJrnl.Close()

	r, err := NewReplay(cfg, outJrnl, discardLogger(), ExecOff)
	if err != nil {
		t.Fatalf("NewReplay: %v", err)
	}
	if err := r.Replay(jpath); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	r.midsMu.Lock()
	mid := r.mids[types.Binance]
	r.midsMu.Unlock()
	if mid <= 0 {
		t.Errorf("mid = %v after replay, want a positive mid recomputed from the journaled snapshot", mid)
	}

	if r.LatestHealth().Symbol != "BTCUSDT" {
		t.Errorf("LatestHealth().Symbol = %q, want BTCUSDT", r.LatestHealth().Symbol)
	}
}

func TestRunnerExposesProviderMethods(t *testing.T) {
	r := newTestRunner(t, map[types.Venue]connectors.Feed{types.Binance: newFakeFeed()})

	if got := r.EngineState(); got != types.StateRun {
		t.Errorf("EngineState() = %v, want StateRun before any health assessment", got)
	}
	if got := r.Positions(); len(got) != 0 {
		t.Errorf("Positions() = %v, want empty before any fill", got)
	}
	if got := r.LatestHealth(); !got.Timestamp.IsZero() {
		t.Errorf("LatestHealth().Timestamp = %v, want zero before any assessment", got.Timestamp)
	}
}
