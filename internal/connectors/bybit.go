package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"sublimine-ids/pkg/types"
)

// bybitOrderbookMsg is the snapshot+delta wire shape: spec.md §6
// `{topic:"orderbook.<d>.<sym>", type, ts, data:{s,b,a,u,depth}}`.
type bybitOrderbookMsg struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	TsMs  int64  `json:"ts"`
	Data  struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
		Update int64      `json:"u"`
		Depth  int        `json:"depth"`
	} `json:"data"`
}

// bybitTradeMsg is `{topic:"publicTrade.<sym>", data:[{s,T,p,v,S}...]}`.
type bybitTradeMsg struct {
	Topic string `json:"topic"`
	Data  []struct {
		Symbol string `json:"s"`
		TsMs   int64  `json:"T"`
		Price  string `json:"p"`
		Size   string `json:"v"`
		Side   string `json:"S"`
	} `json:"data"`
}

// BybitFeed streams Bybit's orderbook + publicTrade topics for a single
// symbol. Unlike Binance, Bybit needs no separate REST snapshot: the
// first "snapshot"-typed message (or any delta with u==1) is itself a
// full replace, per spec.md §6.
type BybitFeed struct {
	wsURL  string
	symbol string
	depth  int
	logger *slog.Logger

	deltaCh chan types.BookDelta
	snapCh  chan types.BookSnapshot
	tradeCh chan types.TradePrint
}

func NewBybitFeed(wsURL, symbol string, depth int, logger *slog.Logger) *BybitFeed {
	return &BybitFeed{
		wsURL:   wsURL,
		symbol:  symbol,
		depth:   depth,
		logger:  logger.With("component", "bybit", "symbol", symbol),
		deltaCh: make(chan types.BookDelta, eventBufferSize),
		snapCh:  make(chan types.BookSnapshot, eventBufferSize),
		tradeCh: make(chan types.TradePrint, eventBufferSize),
	}
}

func (f *BybitFeed) Deltas() <-chan types.BookDelta       { return f.deltaCh }
func (f *BybitFeed) Snapshots() <-chan types.BookSnapshot { return f.snapCh }
func (f *BybitFeed) Trades() <-chan types.TradePrint      { return f.tradeCh }

func (f *BybitFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("bybit feed disconnected, reconnecting", "error", err, "backoff", backoff)
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

func (f *BybitFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	orderbookTopic := fmt.Sprintf("orderbook.%d.%s", f.depth, f.symbol)
	tradeTopic := fmt.Sprintf("publicTrade.%s", f.symbol)
	sub := map[string]any{"op": "subscribe", "args": []string{orderbookTopic, tradeTopic}}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("bybit feed connected")
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

func (f *BybitFeed) dispatch(data []byte) {
	var envelope struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json message", "err", err)
		return
	}
	switch {
	case hasPrefix(envelope.Topic, "orderbook."):
		var msg bybitOrderbookMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Error("unmarshal orderbook message", "error", err)
			return
		}
		ts := time.UnixMilli(msg.TsMs).UTC()
		isSnapshot := msg.Type == "snapshot" || msg.Data.Update == 1
		if isSnapshot {
			snap := types.BookSnapshot{
				Symbol: msg.Data.Symbol, Venue: types.Bybit, Timestamp: ts,
				Bids: parseLevels(msg.Data.Bids), Asks: parseLevels(msg.Data.Asks),
				LastUpdateID: msg.Data.Update,
			}
			select {
			case f.snapCh <- snap:
			default:
				f.logger.Warn("snapshot channel full, dropping snapshot")
			}
			return
		}
		// Bybit's delta stream carries a single monotonic "u", unlike
		// Binance's [U,u] range; feeding it as both ends of the range
		// lets Synchronizer's generic FirstUpdateID==lastUpdateID+1
		// contiguity check apply unchanged.
		delta := types.BookDelta{
			Symbol: msg.Data.Symbol, Venue: types.Bybit, Timestamp: ts,
			Bids: parseLevels(msg.Data.Bids), Asks: parseLevels(msg.Data.Asks),
			FirstUpdateID: msg.Data.Update, FinalUpdateID: msg.Data.Update,
		}
		select {
		case f.deltaCh <- delta:
		default:
			f.logger.Warn("delta channel full, dropping delta")
		}
	case hasPrefix(envelope.Topic, "publicTrade."):
		var msg bybitTradeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Error("unmarshal trade message", "error", err)
			return
		}
		for _, t := range msg.Data {
			price, _ := strconv.ParseFloat(t.Price, 64)
			size, _ := strconv.ParseFloat(t.Size, 64)
			side := types.Buy
			if t.Side == "Sell" {
				side = types.Sell
			}
			select {
			case f.tradeCh <- types.TradePrint{
				Symbol: t.Symbol, Venue: types.Bybit,
				Timestamp: time.UnixMilli(t.TsMs).UTC(),
				Price: price, Size: size, AggressorSide: side,
			}:
			default:
				f.logger.Warn("trade channel full, dropping trade")
			}
		}
	default:
		f.logger.Debug("unhandled bybit topic", "topic", envelope.Topic)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
