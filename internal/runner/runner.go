// Package runner implements the LiveRunner: the process that owns one
// venue pipeline per connector, drains their output through a bounded
// MPSC queue into the EventBus, and ticks the HealthMonitor/EngineGuard
// on a fixed cadence. Orchestration shape (context.Context cancellation,
// Start/Stop lifecycle) is grounded on the teacher's
// internal/engine/engine.go, now superseded by this package; goroutine
// accounting uses golang.org/x/sync/errgroup instead of a bare
// sync.WaitGroup so Stop can surface the first feed failure. The
// per-venue pipeline itself composes this repo's
// book/sync/features/bars/setups/detect packages, the last two consuming
// the same FeatureFrame in parallel: detect's E1-E4 are non-actionable
// diagnostics, setups' DLV/SAF/AFS/PER are the actionable signals that
// reach ConsensusGate.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sublimine-ids/internal/bars"
	"sublimine-ids/internal/bus"
	"sublimine-ids/internal/config"
	"sublimine-ids/internal/connectors"
	"sublimine-ids/internal/consensus"
	"sublimine-ids/internal/detect"
	"sublimine-ids/internal/exec"
	"sublimine-ids/internal/features"
	"sublimine-ids/internal/health"
	"sublimine-ids/internal/journal"
	"sublimine-ids/internal/setups"
	"sublimine-ids/internal/sizing"
	booksync "sublimine-ids/internal/sync"
	"sublimine-ids/pkg/types"
)

const (
	ingressQueueDepth = 4096
	healthTickInterval = 1 * time.Second
)

// ExecMode selects how confirmed TradeIntents reach the execution
// boundary, per spec.md §6's --mode flag: "replay"/pure-monitoring modes
// never touch the Router, "shadow" modes log would-be orders only, and
// "paper-exec" actually runs them through PaperAdapter.
type ExecMode int

const (
	ExecOff ExecMode = iota
	ExecShadow
	ExecPaper
)

// ingressEvent is the single envelope every connector goroutine enqueues
// onto the bounded MPSC queue LiveRunner drains on its own goroutine,
// keeping the per-venue pipeline single-threaded past this point
// (spec.md §5).
type ingressEvent struct {
	venue   types.Venue
	kind    ingressKind
	snap    types.BookSnapshot
	delta   types.BookDelta
	trade   types.TradePrint
}

type ingressKind int

const (
	kindSnapshot ingressKind = iota
	kindDelta
	kindTrade
)

// venuePipeline is the per-venue chain a book update flows through:
// Synchronizer -> FeatureEngine -> MicroBarBuilder -> SetupEngine.
type venuePipeline struct {
	venue  types.Venue
	sync   *booksync.Synchronizer
	feats  *features.Engine
	bars   *bars.Builder
	setups *setups.Engine
	detect *detect.Engine
}

// Runner owns the ingress queue, per-venue pipelines, ConsensusGate,
// HealthMonitor/EngineGuard, EventBus, journal writer and execution
// boundary for one symbol.
type Runner struct {
	cfg    *config.Config
	bus    *bus.Bus
	jrnl   *journal.Writer
	health *health.Monitor
	guard  *health.Guard
	gate   *consensus.Gate
	router *exec.Router

	pipelines map[types.Venue]*venuePipeline
	mids      map[types.Venue]float64
	midsMu    sync.Mutex

	queue chan ingressEvent
	feeds map[types.Venue]connectors.Feed

	activePhase sizing.Phase
	execMode    ExecMode

	healthMu     sync.Mutex
	latestHealth types.DataQualitySnapshot

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New wires a full Runner: one pipeline per feed, a shared ConsensusGate
// and HealthMonitor/EngineGuard pair, and a Router publishing confirmed
// signals as sized TradeIntents per the given ExecMode.
func New(cfg *config.Config, feeds map[types.Venue]connectors.Feed, jrnl *journal.Writer, logger *slog.Logger, mode ExecMode) (*Runner, error) {
	phaseCfg, err := cfg.ActivePhase()
	if err != nil {
		return nil, fmt.Errorf("resolve active risk phase: %w", err)
	}

	b := bus.New()
	guard := health.NewGuard(cfg.Thresholds.HealthThresholds())
	gate := consensus.New(cfg.Thresholds.ConsensusConfig(), guard)
	oms := exec.NewOMS(types.Binance, 10000, sizing.Instrument{TickSize: 0.01, TickValuePerLot: 1, VolMin: 0.001, VolStep: 0.001})
	router := exec.NewRouter(oms, exec.PaperAdapter{}, b, mode != ExecPaper)

	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		cfg:    cfg,
		bus:    b,
		jrnl:   jrnl,
		health: health.New(cfg.Thresholds.HealthThresholds()),
		guard:  guard,
		gate:   gate,
		router: router,
		pipelines: make(map[types.Venue]*venuePipeline),
		mids:      make(map[types.Venue]float64),
		queue:     make(chan ingressEvent, ingressQueueDepth),
		feeds:     feeds,
		activePhase: sizing.Phase{Name: cfg.Risk.ActivePhase, RiskFrac: phaseCfg.RiskFrac, MaxDailyLoss: phaseCfg.MaxDailyLoss},
		execMode: mode,
		logger: logger.With("component", "runner"),
		ctx:    ctx,
		cancel: cancel,
	}

	for venue, feed := range feeds {
		_ = feed
		r.pipelines[venue] = &venuePipeline{
			venue:  venue,
			sync:   booksync.New(cfg.Symbols.Leader, venue, cfg.Thresholds.DepthK),
			feats:  features.New(cfg.Symbols.Leader, venue, features.Config{DepthK: cfg.Thresholds.DepthK, OFIWindow: cfg.Thresholds.Window, ReplenishWindow: cfg.Thresholds.Window, IcebergWindow: cfg.Thresholds.Window, SpoofWindow: cfg.Thresholds.Window, VPINBucketSize: 1.0, VPINWindow: cfg.Thresholds.Window, BasisWindow: cfg.Thresholds.Window}),
			bars:   bars.New(cfg.Symbols.Leader, venue, cfg.Thresholds.BarIntervalMs),
			setups: setups.New(setups.Config{HistoryCap: 256, DLV: cfg.Thresholds.DLVConfig(), SAF: cfg.Thresholds.SAFConfig(), AFS: cfg.Thresholds.AFSConfig(), PER: cfg.Thresholds.PERConfig()}),
			detect: detect.New(cfg.Thresholds.DetectConfig()),
		}
	}

	return r, nil
}

// NewReplay wires a Runner with pipelines for both supported venues but
// no live feeds, for deterministic offline replay via Replay. Callers
// must not call Start/Stop on the result.
func NewReplay(cfg *config.Config, jrnl *journal.Writer, logger *slog.Logger, mode ExecMode) (*Runner, error) {
	return New(cfg, map[types.Venue]connectors.Feed{types.Binance: nil, types.Bybit: nil}, jrnl, logger, mode)
}

// Replay deterministically re-drives a journal's raw ingress records
// (BOOK_SNAPSHOT, BOOK_DELTA, TRADE) through handle() in file order,
// reproducing the exact FEATURE/SIGNAL/TRADE_INTENT sequence the original
// live run produced. All other record types are recomputed, not replayed.
func (r *Runner) Replay(path string) error {
	events, err := journal.Replay(path)
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}

	for _, evt := range events {
		switch payload := evt.Payload.(type) {
		case *types.BookSnapshot:
			r.handle(ingressEvent{venue: payload.Venue, kind: kindSnapshot, snap: *payload})
		case *types.BookDelta:
			r.handle(ingressEvent{venue: payload.Venue, kind: kindDelta, delta: *payload})
		case *types.TradePrint:
			r.handle(ingressEvent{venue: payload.Venue, kind: kindTrade, trade: *payload})
		}
	}

	venues := make([]types.Venue, 0, len(r.pipelines))
	for v := range r.pipelines {
		venues = append(venues, v)
	}
	now := time.Now().UTC()
	assessment := r.health.Snapshot(r.cfg.Symbols.Leader, now, venues)
	r.setLatestHealth(assessment.Snap)
	r.journalAppend(types.EventDataQuality, assessment.Snap)
	r.bus.Publish(types.EventDataQuality, assessment.Snap)
	if _, evt := r.guard.Evaluate(assessment, now); evt != nil {
		r.journalAppend(types.EventEngineState, *evt)
		r.bus.Publish(types.EventEngineState, *evt)
	}
	return nil
}

// Bus exposes the EventBus for dashboard/API subscribers.
func (r *Runner) Bus() *bus.Bus { return r.bus }

func (r *Runner) setLatestHealth(snap types.DataQualitySnapshot) {
	r.healthMu.Lock()
	r.latestHealth = snap
	r.healthMu.Unlock()
}

// LatestHealth returns the most recent DataQualitySnapshot, for the
// dashboard API's Provider interface.
func (r *Runner) LatestHealth() types.DataQualitySnapshot {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	return r.latestHealth
}

// EngineState returns the EngineGuard's current state.
func (r *Runner) EngineState() types.EngineState { return r.guard.State() }

// Positions returns the Router's tracked position snapshots.
func (r *Runner) Positions() []types.PositionSnapshot { return r.router.Positions() }

// Start launches one goroutine per feed plus the ingress drain loop and
// the health ticker, grouped under an errgroup so Stop can report the
// first feed failure instead of only silently cancelling.
func (r *Runner) Start() {
	g := &errgroup.Group{}
	r.group = g

	for venue, feed := range r.feeds {
		venue, feed := venue, feed
		g.Go(func() error {
			if err := feed.Run(r.ctx); err != nil && r.ctx.Err() == nil {
				r.logger.Error("feed error", "venue", venue, "error", err)
				return fmt.Errorf("venue %s: %w", venue, err)
			}
			return nil
		})

		g.Go(func() error { r.forward(venue, feed); return nil })
	}

	g.Go(func() error { r.drainLoop(); return nil })
	g.Go(func() error { r.healthTicker(); return nil })
}

// Stop cancels every goroutine and waits for clean shutdown, logging the
// first non-nil error any feed goroutine returned.
func (r *Runner) Stop() {
	r.cancel()
	if r.group == nil {
		return
	}
	if err := r.group.Wait(); err != nil {
		r.logger.Warn("runner stopped with error", "error", err)
	}
}

// forward copies one feed's typed channels onto the shared bounded
// ingress queue, tagging each event with its venue.
func (r *Runner) forward(venue types.Venue, feed connectors.Feed) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case s := <-feed.Snapshots():
			r.enqueue(ingressEvent{venue: venue, kind: kindSnapshot, snap: s})
		case d := <-feed.Deltas():
			r.enqueue(ingressEvent{venue: venue, kind: kindDelta, delta: d})
		case t := <-feed.Trades():
			r.enqueue(ingressEvent{venue: venue, kind: kindTrade, trade: t})
		}
	}
}

func (r *Runner) enqueue(evt ingressEvent) {
	select {
	case r.queue <- evt:
	default:
		r.logger.Warn("ingress queue full, dropping event", "venue", evt.venue)
	}
}

// drainLoop is the single consumer of the ingress queue: everything past
// this point runs on one goroutine, per spec.md §5's single-threaded
// core pipeline.
func (r *Runner) drainLoop() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case evt := <-r.queue:
			r.handle(evt)
		}
	}
}

func (r *Runner) handle(evt ingressEvent) {
	pipe, ok := r.pipelines[evt.venue]
	if !ok {
		return
	}

	var frame types.FeatureFrame
	switch evt.kind {
	case kindSnapshot:
		pipe.sync.ApplySnapshot(evt.snap)
		r.journalAppend(types.EventBookSnapshot, evt.snap)
		r.health.ObserveBook(evt.venue, evt.snap.Timestamp)
		follower := r.otherMid(evt.venue)
		frame = pipe.feats.OnSnapshot(evt.snap, follower)
	case kindDelta:
		wasDesynced := pipe.sync.Desynced()
		pipe.sync.OnDelta(evt.delta)
		r.journalAppend(types.EventBookDelta, evt.delta)
		r.health.ObserveBook(evt.venue, evt.delta.Timestamp)
		if !wasDesynced && pipe.sync.Desynced() {
			r.health.ObserveGap(evt.venue, evt.delta.Timestamp)
		}
		follower := r.otherMid(evt.venue)
		frame = pipe.feats.OnDelta(evt.delta, follower)
	case kindTrade:
		pipe.feats.OnTrade(evt.trade)
		r.journalAppend(types.EventTrade, evt.trade)
		r.health.ObserveTrade(evt.venue, evt.trade.Timestamp)
		return
	}

	r.health.ObserveFeature(evt.venue, frame.Timestamp)
	r.setMid(evt.venue, frame.Mid, frame.Timestamp)
	r.journalAppend(types.EventFeature, frame)
	r.bus.Publish(types.EventFeature, frame)

	for _, sig := range pipe.detect.Update(frame) {
		sig.Venue = evt.venue
		r.journalAppend(types.EventSignal, sig)
		r.bus.Publish(types.EventSignal, sig)
	}

	bar, emitted := pipe.bars.Add(frame)
	if !emitted {
		return
	}

	for _, sig := range pipe.setups.OnBar(bar) {
		sig.Venue = evt.venue
		r.journalAppend(types.EventSignal, sig)
		r.bus.Publish(types.EventSignal, sig)

		if confirmed := r.gate.Submit(sig); confirmed != nil {
			r.journalAppend(types.EventSignal, *confirmed)
			r.bus.Publish(types.EventSignal, *confirmed)
			if confirmed.Actionable() {
				intent := sizing.BuildIntent(*confirmed, r.activePhase)
				intent.Symbol = r.cfg.Symbols.Exec
				r.journalAppend(types.EventTradeIntent, intent)
				r.bus.Publish(types.EventTradeIntent, intent)
				if r.execMode != ExecOff {
					r.router.Submit(intent, time.Now().UTC())
				}
			}
		}
	}
}

func (r *Runner) setMid(venue types.Venue, mid float64, ts time.Time) {
	r.midsMu.Lock()
	r.mids[venue] = mid
	other, hasOther := otherVenue(venue)
	otherMid, otherOK := r.mids[other]
	r.midsMu.Unlock()
	r.health.SetMid(venue, mid)

	if hasOther && otherOK && otherMid != 0 {
		bps := (mid - otherMid) / otherMid * 10000
		if bps < 0 {
			bps = -bps
		}
		r.gate.RecordMidDiff(ts, bps)
	}
}

func (r *Runner) otherMid(venue types.Venue) *float64 {
	other, ok := otherVenue(venue)
	if !ok {
		return nil
	}
	r.midsMu.Lock()
	defer r.midsMu.Unlock()
	mid, ok := r.mids[other]
	if !ok {
		return nil
	}
	return &mid
}

func otherVenue(v types.Venue) (types.Venue, bool) {
	switch v {
	case types.Binance:
		return types.Bybit, true
	case types.Bybit:
		return types.Binance, true
	default:
		return "", false
	}
}

// healthTicker periodically assesses data quality across venues, feeds
// it to EngineGuard, and publishes DATA_QUALITY/ENGINE_STATE events.
func (r *Runner) healthTicker() {
	ticker := time.NewTicker(healthTickInterval)
	defer ticker.Stop()

	venues := make([]types.Venue, 0, len(r.pipelines))
	for v := range r.pipelines {
		venues = append(venues, v)
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.health.SetQueueDepth(len(r.queue))
			assessment := r.health.Snapshot(r.cfg.Symbols.Leader, now, venues)
			r.setLatestHealth(assessment.Snap)
			r.journalAppend(types.EventDataQuality, assessment.Snap)
			r.bus.Publish(types.EventDataQuality, assessment.Snap)

			if _, evt := r.guard.Evaluate(assessment, now); evt != nil {
				r.journalAppend(types.EventEngineState, *evt)
				r.bus.Publish(types.EventEngineState, *evt)
			}
		}
	}
}

func (r *Runner) journalAppend(eventType types.EventType, payload any) {
	if r.jrnl == nil {
		return
	}
	if err := r.jrnl.Append(eventType, payload); err != nil {
		r.logger.Error("journal append failed", "event_type", eventType, "error", err)
	}
}
