// Package journal implements newline-delimited JSON persistence and
// replay for every typed pipeline event, per spec.md §6. Grounded on
// original_source's core/journal.py (encode_record/decode_record,
// one-JSON-object-per-line) and the teacher's internal/store/store.go
// (mutex-serialized file writes, fmt.Errorf wrapping). Go's
// encoding/json already does the enum/timestamp/struct-field recursive
// encoding the original hand-rolled, so the encoder here is just
// json.Marshal; only decode needs a typed switch to reconstruct concrete
// payload structs from the generic data map.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"sublimine-ids/pkg/types"
)

// record is the on-disk envelope: {"event_type": "...", "data": {...}}.
type record struct {
	EventType types.EventType `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// Writer appends encoded records to a single journal file, flushing
// after every write so no in-flight operation has unflushed side
// effects (spec.md §5).
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// Create opens path for append, creating parent behavior is the
// caller's responsibility (cmd/sublimine creates the run directory).
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Writer{file: f}, nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Append encodes eventType/payload as one JSON line and flushes it to
// disk immediately.
func (w *Writer) Append(eventType types.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	line, err := json.Marshal(record{EventType: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal line: %w", err)
	}
	return w.file.Sync()
}

// Event is one decoded journal entry: Payload holds a concrete typed
// struct for known EventTypes, or a raw map[string]any otherwise.
type Event struct {
	EventType types.EventType
	Payload   any
}

// Replay reads every record in path in order, decoding typed events and
// passing unknown event types through as raw maps.
func Replay(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode journal record: %w", err)
		}
		payload, err := decode(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{EventType: rec.EventType, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return events, nil
}

func decode(rec record) (any, error) {
	var target any
	switch rec.EventType {
	case types.EventBookSnapshot:
		target = &types.BookSnapshot{}
	case types.EventBookDelta:
		target = &types.BookDelta{}
	case types.EventTrade:
		target = &types.TradePrint{}
	case types.EventQuote:
		target = &types.QuoteTick{}
	case types.EventFeature:
		target = &types.FeatureFrame{}
	case types.EventSignal:
		target = &types.SignalEvent{}
	case types.EventTradeIntent:
		target = &types.TradeIntent{}
	case types.EventOrderRequest:
		target = &types.OrderRequest{}
	case types.EventOrderAck:
		target = &types.OrderAck{}
	case types.EventOrderFill:
		target = &types.OrderFill{}
	case types.EventPositionSnap:
		target = &types.PositionSnapshot{}
	case types.EventDataQuality:
		target = &types.DataQualitySnapshot{}
	case types.EventEngineState:
		target = &types.EngineStateEvent{}
	default:
		var raw map[string]any
		if err := json.Unmarshal(rec.Data, &raw); err != nil {
			return nil, fmt.Errorf("decode unknown event payload: %w", err)
		}
		return raw, nil
	}

	if err := json.Unmarshal(rec.Data, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", rec.EventType, err)
	}
	return target, nil
}
