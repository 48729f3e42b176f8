package audit

import (
	"path/filepath"
	"testing"
	"time"

	"sublimine-ids/internal/journal"
	"sublimine-ids/pkg/types"
)

func writeTestJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.ndjson")
	w, err := journal.Create(path)
	if err != nil {
		t.Fatalf("journal.Create: %v", err)
	}
	defer w.Close()

	now := time.Now().UTC()
	sig := types.SignalEvent{
		EventName: "DLV", Symbol: "BTCUSDT", Venue: types.Binance, Timestamp: now,
		Score: 0.9, ReasonCodes: []string{"depth_drop"}, Meta: map[string]any{"actionable": true},
	}
	intent := types.TradeIntent{
		ID: "intent-1", Symbol: "BTCUSDT", Direction: types.Buy, Score: 0.9,
		RiskFrac: 0.01, Timestamp: now, ReasonCodes: []string{"depth_drop"},
	}
	fill := types.OrderFill{OrderID: "paper_1", Symbol: "BTCUSDT", Side: types.Buy, Price: 30000, Size: 0.1, Ts: now}
	dq := types.DataQualitySnapshot{Symbol: "BTCUSDT", Timestamp: now, QueueDepth: 3, MidDiffBps: 1.5, Score: 0.8}
	state := types.EngineStateEvent{Timestamp: now, From: types.StateRun, To: types.StateDegraded, Reasons: []string{"stale_book"}}

	for _, rec := range []struct {
		t types.EventType
		p any
	}{
		{types.EventSignal, sig},
		{types.EventTradeIntent, intent},
		{types.EventOrderFill, fill},
		{types.EventDataQuality, dq},
		{types.EventEngineState, state},
	} {
		if err := w.Append(rec.t, rec.p); err != nil {
			t.Fatalf("Append %s: %v", rec.t, err)
		}
	}
	return path
}

func TestIngestPopulatesAllTables(t *testing.T) {
	path := writeTestJournal(t)

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	n, err := db.Ingest(path)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 5 {
		t.Fatalf("Ingest returned %d records, want 5", n)
	}

	for _, table := range []string{"signals", "trade_intents", "fills", "data_quality", "engine_state"} {
		var count int
		if err := db.Conn().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s has %d rows, want 1", table, count)
		}
	}
}

func TestIngestSkipsUntrackedEventTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ndjson")
	w, err := journal.Create(path)
	if err != nil {
		t.Fatalf("journal.Create: %v", err)
	}
	snap := types.BookSnapshot{Venue: types.Binance, Symbol: "BTCUSDT", Timestamp: time.Now().UTC()}
	if err := w.Append(types.EventBookSnapshot, snap); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w.Close()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	n, err := db.Ingest(path)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 0 {
		t.Errorf("Ingest returned %d, want 0 (raw book events are not tracked)", n)
	}
}
