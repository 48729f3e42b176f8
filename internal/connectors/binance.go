// Package connectors implements the venue WebSocket/REST feeds that turn
// exchange wire formats into typed pkg/types events. Connection
// lifecycle (dial, read-deadline, exponential-backoff reconnect,
// re-subscribe; no ping frames are sent) is grounded directly on the teacher's
// internal/exchange/ws.go WSFeed; the wire-format parsing is new, since
// the teacher spoke Polymarket's CLOB protocol and this engine speaks
// Binance/Bybit market-data protocols (spec.md §6).
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"sublimine-ids/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	maxReconnectWait = 30 * time.Second
	eventBufferSize  = 256
)

// Feed is the common surface every venue connector exposes: typed
// channels of book deltas, snapshots (emitted once at startup or on
// resync) and trades, plus a blocking Run that owns reconnects.
type Feed interface {
	Deltas() <-chan types.BookDelta
	Snapshots() <-chan types.BookSnapshot
	Trades() <-chan types.TradePrint
	Run(ctx context.Context) error
}

// binanceDepthUpdate is the diff-feed wire shape: {e,E,s,U,u,b,a}.
type binanceDepthUpdate struct {
	Event         string     `json:"e"`
	EventTimeMs   int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type binanceTrade struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeMs   int64  `json:"T"`
	BuyerMaker bool  `json:"m"`
}

type binanceDepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// BinanceFeed streams a single symbol's combined depth-diff and trade
// streams and fetches the REST snapshot used to seed a Synchronizer.
type BinanceFeed struct {
	wsURL      string
	restURL    string
	symbol     string
	depth      int
	restClient *resty.Client
	restLimit  *tokenBucket
	logger     *slog.Logger

	deltaCh chan types.BookDelta
	snapCh  chan types.BookSnapshot
	tradeCh chan types.TradePrint
}

// binanceSnapshotBurst/Rate bound the depth-snapshot REST endpoint: a
// resync storm fetches snapshots aggressively, so cap it well under
// Binance's per-IP weight limit rather than risk a 429 that stalls
// resync even longer.
const (
	binanceSnapshotBurst = 5
	binanceSnapshotRate  = 2
)

// NewBinanceFeed builds a feed for symbol against the given combined
// stream WS URL and REST base URL (cfg.Live.BinanceWS/BinanceREST).
func NewBinanceFeed(wsURL, restURL, symbol string, depth int, logger *slog.Logger) *BinanceFeed {
	return &BinanceFeed{
		wsURL:      fmt.Sprintf("%s/%s@depth@100ms", wsURL, lowerSymbol(symbol)),
		restURL:    restURL,
		symbol:     symbol,
		depth:      depth,
		restClient: resty.New().SetTimeout(5 * time.Second),
		restLimit:  newTokenBucket(binanceSnapshotBurst, binanceSnapshotRate),
		logger:     logger.With("component", "binance", "symbol", symbol),
		deltaCh:    make(chan types.BookDelta, eventBufferSize),
		snapCh:     make(chan types.BookSnapshot, eventBufferSize),
		tradeCh:    make(chan types.TradePrint, eventBufferSize),
	}
}

func (f *BinanceFeed) Deltas() <-chan types.BookDelta     { return f.deltaCh }
func (f *BinanceFeed) Snapshots() <-chan types.BookSnapshot { return f.snapCh }
func (f *BinanceFeed) Trades() <-chan types.TradePrint    { return f.tradeCh }

// FetchSnapshot performs the REST depth snapshot fetch a Synchronizer
// splices buffered diffs onto (spec.md §6's REST snapshot `{lastUpdateId, bids, asks}`).
func (f *BinanceFeed) FetchSnapshot(ctx context.Context) (types.BookSnapshot, error) {
	if err := f.restLimit.Wait(ctx); err != nil {
		return types.BookSnapshot{}, fmt.Errorf("rate limit wait: %w", err)
	}

	var raw binanceDepthSnapshot
	resp, err := f.restClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": f.symbol, "limit": strconv.Itoa(f.depth)}).
		SetResult(&raw).
		Get(f.restURL)
	if err != nil {
		return types.BookSnapshot{}, fmt.Errorf("fetch binance snapshot: %w", err)
	}
	if resp.IsError() {
		return types.BookSnapshot{}, fmt.Errorf("fetch binance snapshot: status %d", resp.StatusCode())
	}
	return types.BookSnapshot{
		Symbol:       f.symbol,
		Venue:        types.Binance,
		Timestamp:    time.Now().UTC(),
		Bids:         parseLevels(raw.Bids),
		Asks:         parseLevels(raw.Asks),
		LastUpdateID: raw.LastUpdateID,
	}, nil
}

// Run connects the combined diff-feed stream with auto-reconnect,
// following the teacher's WSFeed.Run backoff shape exactly (1s..30s,
// doubling, reset on clean connect).
func (f *BinanceFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx, func() { backoff = time.Second })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("binance feed disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *BinanceFeed) connectAndRead(ctx context.Context, onConnected func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := map[string]any{"method": "SUBSCRIBE", "params": []string{lowerSymbol(f.symbol) + "@trade"}, "id": 1}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	onConnected()

	f.logger.Info("binance feed connected")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *BinanceFeed) dispatch(data []byte) {
	var envelope struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json message", "err", err)
		return
	}
	switch envelope.Event {
	case "depthUpdate":
		var upd binanceDepthUpdate
		if err := json.Unmarshal(data, &upd); err != nil {
			f.logger.Error("unmarshal depthUpdate", "error", err)
			return
		}
		delta := types.BookDelta{
			Symbol:        upd.Symbol,
			Venue:         types.Binance,
			Timestamp:     time.UnixMilli(upd.EventTimeMs).UTC(),
			Bids:          parseLevels(upd.Bids),
			Asks:          parseLevels(upd.Asks),
			FirstUpdateID: upd.FirstUpdateID,
			FinalUpdateID: upd.FinalUpdateID,
		}
		select {
		case f.deltaCh <- delta:
		default:
			f.logger.Warn("delta channel full, dropping update")
		}
	case "trade":
		var tr binanceTrade
		if err := json.Unmarshal(data, &tr); err != nil {
			f.logger.Error("unmarshal trade", "error", err)
			return
		}
		price, _ := strconv.ParseFloat(tr.Price, 64)
		qty, _ := strconv.ParseFloat(tr.Qty, 64)
		aggressor := types.Buy
		if tr.BuyerMaker {
			aggressor = types.Sell
		}
		select {
		case f.tradeCh <- types.TradePrint{
			Symbol: tr.Symbol, Venue: types.Binance,
			Timestamp: time.UnixMilli(tr.TradeMs).UTC(),
			Price: price, Size: qty, AggressorSide: aggressor,
		}:
		default:
			f.logger.Warn("trade channel full, dropping trade")
		}
	default:
		f.logger.Debug("unknown binance event", "event", envelope.Event)
	}
}

func parseLevels(raw [][]string) []types.BookLevel {
	out := make([]types.BookLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(lvl[0], 64)
		size, err2 := strconv.ParseFloat(lvl[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, types.BookLevel{Price: price, Size: size})
	}
	return out
}

func lowerSymbol(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
