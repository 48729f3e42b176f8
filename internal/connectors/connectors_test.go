package connectors

import (
	"log/slog"
	"testing"

	"sublimine-ids/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestParseLevels(t *testing.T) {
	got := parseLevels([][]string{{"100.5", "2.3"}, {"bad", "1"}, {"101", "0"}})
	if len(got) != 2 {
		t.Fatalf("got %d levels, want 2 (malformed entry skipped)", len(got))
	}
	if got[0].Price != 100.5 || got[0].Size != 2.3 {
		t.Errorf("levels[0] = %+v", got[0])
	}
}

func TestLowerSymbol(t *testing.T) {
	if got := lowerSymbol("BTCUSDT"); got != "btcusdt" {
		t.Errorf("lowerSymbol = %q, want btcusdt", got)
	}
}

func TestBinanceDispatchDepthUpdate(t *testing.T) {
	f := NewBinanceFeed("wss://x", "https://x", "BTCUSDT", 50, discardLogger())
	f.dispatch([]byte(`{"e":"depthUpdate","E":1000,"s":"BTCUSDT","U":5,"u":10,"b":[["100","1"]],"a":[["101","2"]]}`))

	select {
	case d := <-f.deltaCh:
		if d.FirstUpdateID != 5 || d.FinalUpdateID != 10 {
			t.Errorf("delta = %+v", d)
		}
	default:
		t.Fatal("expected a delta on deltaCh")
	}
}

func TestBinanceDispatchTradeAggressorSide(t *testing.T) {
	f := NewBinanceFeed("wss://x", "https://x", "BTCUSDT", 50, discardLogger())
	f.dispatch([]byte(`{"e":"trade","s":"BTCUSDT","p":"100","q":"1","T":1000,"m":true}`))

	select {
	case tr := <-f.tradeCh:
		if tr.AggressorSide != types.Sell {
			t.Errorf("buyer-is-maker trade should have aggressor SELL, got %v", tr.AggressorSide)
		}
	default:
		t.Fatal("expected a trade on tradeCh")
	}
}

func TestBybitDispatchSnapshotThenDelta(t *testing.T) {
	f := NewBybitFeed("wss://x", "BTCUSDT", 50, discardLogger())
	f.dispatch([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1000,"data":{"s":"BTCUSDT","b":[["100","1"]],"a":[["101","1"]],"u":1,"depth":50}}`))
	select {
	case s := <-f.snapCh:
		if s.LastUpdateID != 1 {
			t.Errorf("snapshot = %+v", s)
		}
	default:
		t.Fatal("expected a snapshot on snapCh")
	}

	f.dispatch([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1001,"data":{"s":"BTCUSDT","b":[["100","2"]],"a":[],"u":2,"depth":50}}`))
	select {
	case d := <-f.deltaCh:
		if d.FirstUpdateID != 2 || d.FinalUpdateID != 2 {
			t.Errorf("delta = %+v", d)
		}
	default:
		t.Fatal("expected a delta on deltaCh")
	}
}

func TestBybitDispatchTrade(t *testing.T) {
	f := NewBybitFeed("wss://x", "BTCUSDT", 50, discardLogger())
	f.dispatch([]byte(`{"topic":"publicTrade.BTCUSDT","data":[{"s":"BTCUSDT","T":1000,"p":"100","v":"1","S":"Sell"}]}`))
	select {
	case tr := <-f.tradeCh:
		if tr.AggressorSide != types.Sell {
			t.Errorf("trade = %+v", tr)
		}
	default:
		t.Fatal("expected a trade on tradeCh")
	}
}
