package sync

import (
	"testing"
	"time"

	"sublimine-ids/pkg/types"
)

// TestS7SynchronizerReplay reproduces spec.md scenario S7.
func TestS7SynchronizerReplay(t *testing.T) {
	t.Parallel()
	s := New("BTCUSDT", types.Binance, 50)

	s.OnDelta(types.BookDelta{
		Symbol: "BTCUSDT", Venue: types.Binance, Timestamp: time.Now(),
		Bids: []types.BookLevel{{Price: 100, Size: 1}}, Asks: []types.BookLevel{{Price: 101, Size: 1}},
		FirstUpdateID: 95, FinalUpdateID: 105,
	})

	s.ApplySnapshot(types.BookSnapshot{
		Symbol: "BTCUSDT", Venue: types.Binance, Timestamp: time.Now(),
		Bids: []types.BookLevel{{Price: 99, Size: 1}}, Asks: []types.BookLevel{{Price: 102, Size: 1}},
		LastUpdateID: 100,
	})

	if s.Desynced() {
		t.Fatal("buffered diff spanning last_update_id=100 must apply cleanly")
	}
	if got := s.LastUpdateID(); got != 105 {
		t.Fatalf("last_update_id = %d, want 105", got)
	}

	s.OnDelta(types.BookDelta{
		Symbol: "BTCUSDT", Venue: types.Binance, Timestamp: time.Now(),
		FirstUpdateID: 200, FinalUpdateID: 205,
	})
	if !s.Desynced() {
		t.Fatal("a gapped diff [200,205] after last_update_id=105 must set desynced=true")
	}
}

func TestDiscardsStaleDiff(t *testing.T) {
	t.Parallel()
	s := New("BTCUSDT", types.Binance, 50)
	s.ApplySnapshot(types.BookSnapshot{
		Symbol: "BTCUSDT", Venue: types.Binance,
		Bids: []types.BookLevel{{Price: 99, Size: 1}}, Asks: []types.BookLevel{{Price: 102, Size: 1}},
		LastUpdateID: 100,
	})
	s.OnDelta(types.BookDelta{FirstUpdateID: 50, FinalUpdateID: 90})
	if s.Desynced() {
		t.Fatal("a diff entirely older than last_update_id must be discarded, not desync")
	}
	if got := s.LastUpdateID(); got != 100 {
		t.Fatalf("last_update_id = %d, want unchanged 100", got)
	}
}

func TestResyncResetsState(t *testing.T) {
	t.Parallel()
	s := New("BTCUSDT", types.Binance, 50)
	if !s.TryResync() {
		t.Fatal("first TryResync should win the race")
	}
	if s.TryResync() {
		t.Fatal("a second concurrent TryResync must lose while one is in flight")
	}
	s.ResyncDone()
	if !s.TryResync() {
		t.Fatal("TryResync should be available again after ResyncDone")
	}
}
