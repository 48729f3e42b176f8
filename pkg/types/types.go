// Package types defines the canonical data model shared across the
// pipeline: venues, event envelopes, order book levels, features, bars,
// signals, and intents. It has no dependencies on internal packages, so
// it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Venue identifies the origin exchange of an event.
type Venue string

const (
	Bybit   Venue = "BYBIT"
	Binance Venue = "BINANCE"
	MT5     Venue = "MT5"
	IBKR    Venue = "IBKR"
)

// Side is the aggressor or order side.
type Side string

const (
	Buy     Side = "BUY"
	Sell    Side = "SELL"
	Unknown Side = "UNKNOWN"
)

// EventType tags every journal record. Typed events decode to a concrete
// struct below; anything else passes through as a raw map.
type EventType string

const (
	EventBookSnapshot    EventType = "BOOK_SNAPSHOT"
	EventBookDelta       EventType = "BOOK_DELTA"
	EventTrade           EventType = "TRADE"
	EventQuote           EventType = "QUOTE"
	EventFeature         EventType = "FEATURE"
	EventSignal          EventType = "EVENT_SIGNAL"
	EventTradeIntent     EventType = "TRADE_INTENT"
	EventOrderRequest    EventType = "ORDER_REQUEST"
	EventOrderAck        EventType = "ORDER_ACK"
	EventOrderFill       EventType = "ORDER_FILL"
	EventPositionSnap    EventType = "POSITION_SNAPSHOT"
	EventDataQuality     EventType = "DATA_QUALITY"
	EventEngineState     EventType = "ENGINE_STATE"
)

// EngineState is the coarse health-gated state of the whole pipeline.
// KILL is latched: once entered, no transition out.
type EngineState string

const (
	StateRun      EngineState = "RUN"
	StateDegraded EngineState = "DEGRADED"
	StateFreeze   EngineState = "FREEZE"
	StateKill     EngineState = "KILL"
)

// ————————————————————————————————————————————————————————————————————————
// Order book wire model
// ————————————————————————————————————————————————————————————————————————

// BookLevel is one price/size pair. Size == 0 means "remove this level".
type BookLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is a full order book replace: bids descending, asks ascending.
type BookSnapshot struct {
	Symbol    string
	Venue     Venue
	Timestamp time.Time
	Bids      []BookLevel
	Asks      []BookLevel
	// LastUpdateID is the diff-feed's update id this snapshot aligns to
	// (Binance-style synchronizers only; zero otherwise).
	LastUpdateID int64
}

// BookDelta merges into existing book state by price key; a level with
// Size == 0 deletes that price. IsSnapshot marks a delta that must instead
// be treated as a full replace (Bybit's u==1 convention).
type BookDelta struct {
	Symbol       string
	Venue        Venue
	Timestamp    time.Time
	Bids         []BookLevel
	Asks         []BookLevel
	IsSnapshot   bool
	FirstUpdateID int64
	FinalUpdateID int64
}

// TradePrint is a single executed trade print from a venue.
type TradePrint struct {
	Symbol        string
	Venue         Venue
	Timestamp     time.Time
	Price         float64
	Size          float64
	AggressorSide Side
}

// QuoteTick is a lightweight top-of-book snapshot, journaled for replay
// convenience alongside full book events.
type QuoteTick struct {
	Symbol    string
	Venue     Venue
	Timestamp time.Time
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
}

// ————————————————————————————————————————————————————————————————————————
// Features and bars
// ————————————————————————————————————————————————————————————————————————

// FeatureFrame is computed once per book update and consumed once by the
// MicroBarBuilder and DetectorEngine. Immutable once constructed.
type FeatureFrame struct {
	Symbol    string
	Venue     Venue
	Timestamp time.Time

	Mid            float64
	DepthNear      float64
	Microprice     float64
	MicropriceBias float64

	OFIZ float64

	DeltaSize          float64
	PriceProgress      float64
	Replenishment      float64
	SweepDistance      float64
	ReturnSpeed        float64
	PostSweepAbsorption float64

	BasisZ  float64
	LeadLag float64

	// Supplemented book-shape features (not in the distilled spec, carried
	// from the original's BookFeatureSet).
	Imbalance  float64
	Slope      float64
	Convexity  float64

	// Supplemented microstructure trackers, auxiliary only: not consumed
	// by DetectorEngine/SetupEngine gates.
	IcebergScore float64
	SpoofScore   float64
	VPINScore    float64
}

// MicroBar is an OHLC+flow bar over a fixed wall-clock interval.
type MicroBar struct {
	Symbol  string
	Venue   Venue
	BarID   int64
	TsStart time.Time
	TsEnd   time.Time

	Open, High, Low, Close float64
	N                      int

	OFIMean           float64
	OFIAbsMean        float64
	ReplenishmentMean float64
}

// Direction returns the sign of Close-Open: +1, -1, or 0.
func (b MicroBar) Direction() int {
	switch {
	case b.Close > b.Open:
		return 1
	case b.Close < b.Open:
		return -1
	default:
		return 0
	}
}

// Range returns High-Low.
func (b MicroBar) Range() float64 { return b.High - b.Low }

// ————————————————————————————————————————————————————————————————————————
// Signals and intents
// ————————————————————————————————————————————————————————————————————————

// SignalEvent is emitted by the DetectorEngine (primitive, non-actionable)
// or the SetupEngine / ConsensusGate (actionable when meta["actionable"]
// is true).
type SignalEvent struct {
	EventName   string
	Symbol      string
	Venue       Venue
	Timestamp   time.Time
	Score       float64
	ReasonCodes []string
	Meta        map[string]any
}

// Actionable reports whether this signal carries meta.actionable == true.
func (s SignalEvent) Actionable() bool {
	v, ok := s.Meta["actionable"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// TradeIntent is the pipeline's terminal actionable output, handed to the
// execution boundary (OMS/Router).
type TradeIntent struct {
	ID          string
	Symbol      string
	Direction   Side
	Score       float64
	RiskFrac    float64
	EntryPlan   map[string]any
	StopPlan    map[string]any
	TakePlan    map[string]any
	Timestamp   time.Time
	ReasonCodes []string
	Meta        map[string]any
}

// ————————————————————————————————————————————————————————————————————————
// Execution boundary (modelled only, per the paper/mock adapter)
// ————————————————————————————————————————————————————————————————————————

type OrderRequest struct {
	// RequestID is a process-local, unique identity for this particular
	// order attempt (a retried intent produces a fresh RequestID sharing
	// the same IntentID). IntentID remains the content-hash dedup key.
	RequestID string
	IntentID  string
	Symbol    string
	Side      Side
	Size      float64
	Price     float64
	Ts        time.Time
}

type OrderAck struct {
	IntentID string
	OrderID  string
	Accepted bool
	Reason   string
	Ts       time.Time
}

type OrderFill struct {
	OrderID string
	Symbol  string
	Side    Side
	Price   float64
	Size    float64
	Ts      time.Time
}

type PositionSnapshot struct {
	Symbol        string
	NetSize       float64
	AvgPrice      float64
	RealizedPnL   float64
	UnrealizedPnL float64
	Ts            time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Health
// ————————————————————————————————————————————————————————————————————————

// VenueHealth is one venue's slice of a DataQualitySnapshot.
type VenueHealth struct {
	LastBookTs    time.Time
	LastTradeTs   time.Time
	LastFeatureTs time.Time
	StalenessMs   float64
	EPS           float64
	ResyncPerMin  float64
	DesyncPerMin  float64
	GapCount      int
}

// DataQualitySnapshot is the HealthMonitor's periodic composite assessment.
type DataQualitySnapshot struct {
	Timestamp   time.Time
	Symbol      string
	PerVenue    map[Venue]VenueHealth
	QueueDepth  int
	Mids        map[Venue]float64
	MidDiffBps  float64
	Score       float64
	ReasonCodes []string
}

// EngineStateEvent is emitted by EngineGuard only when the state changes.
type EngineStateEvent struct {
	Timestamp time.Time
	From      EngineState
	To        EngineState
	Reasons   []string
}
