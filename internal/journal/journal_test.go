package journal

import (
	"path/filepath"
	"testing"
	"time"

	"sublimine-ids/pkg/types"
)

func TestAppendAndReplayRoundTrips(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal.ndjson")

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	trade := types.TradePrint{Symbol: "BTCUSDT", Venue: types.Binance, Timestamp: time.Now().UTC(), Price: 100, Size: 1, AggressorSide: types.Buy}
	sig := types.SignalEvent{EventName: "E1", Symbol: "BTCUSDT", Venue: types.Binance, Score: 0.75, ReasonCodes: []string{"dlv_breakout"}, Meta: map[string]any{"actionable": true}}

	if err := w.Append(types.EventTrade, trade); err != nil {
		t.Fatalf("Append trade: %v", err)
	}
	if err := w.Append(types.EventSignal, sig); err != nil {
		t.Fatalf("Append signal: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	gotTrade, ok := events[0].Payload.(*types.TradePrint)
	if !ok {
		t.Fatalf("events[0].Payload type = %T, want *types.TradePrint", events[0].Payload)
	}
	if gotTrade.Symbol != "BTCUSDT" || gotTrade.Price != 100 {
		t.Errorf("decoded trade = %+v", gotTrade)
	}

	gotSig, ok := events[1].Payload.(*types.SignalEvent)
	if !ok {
		t.Fatalf("events[1].Payload type = %T, want *types.SignalEvent", events[1].Payload)
	}
	if gotSig.EventName != "E1" || !gotSig.Actionable() {
		t.Errorf("decoded signal = %+v", gotSig)
	}
}

func TestReplayPassesThroughUnknownEventType(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal.ndjson")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Append(types.EventType("CUSTOM_TAG"), map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w.Close()

	events, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	raw, ok := events[0].Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T, want map[string]any", events[0].Payload)
	}
	if raw["foo"] != "bar" {
		t.Errorf("raw = %v", raw)
	}
}
