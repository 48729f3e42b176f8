// Package consensus implements ConsensusGate: it caches each venue's
// latest actionable signal and confirms a cross-venue consensus when both
// agree on name, symbol, setup, and direction within a time window,
// gated by EngineGuard. Grounded on the teacher's internal/risk/manager.go
// aggregation style (mutex-protected latest-state cache keyed by market)
// generalized from a single venue to a two-venue agreement check per
// spec.md §4.7.
package consensus

import (
	"math"
	"sync"
	"time"

	"sublimine-ids/internal/health"
	"sublimine-ids/pkg/types"
)

// Config parameterizes ConsensusGate.
type Config struct {
	ConsensusWindowMs int64
	SignalScoreMin    float64
	RLBWindowMs       int64
	RLBSpikeBps       float64
	MaxMidDiffBps     float64
}

type midDiffSample struct {
	ts  time.Time
	bps float64
}

// Gate is the ConsensusGate. Safe for concurrent use, though the core
// pipeline drives it single-threaded per spec.md §5.
type Gate struct {
	cfg   Config
	guard *health.Guard

	mu             sync.Mutex
	latest         map[types.Venue]types.SignalEvent
	midDiffHistory []midDiffSample
}

// New creates a ConsensusGate wired to the shared EngineGuard.
func New(cfg Config, guard *health.Guard) *Gate {
	return &Gate{cfg: cfg, guard: guard, latest: make(map[types.Venue]types.SignalEvent)}
}

// RecordMidDiff feeds a mid-diff sample used by the RLB boost. Only the
// last RLBWindowMs is retained.
func (g *Gate) RecordMidDiff(ts time.Time, bps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.midDiffHistory = append(g.midDiffHistory, midDiffSample{ts, bps})
	cutoff := ts.Add(-time.Duration(g.cfg.RLBWindowMs) * time.Millisecond)
	i := 0
	for i < len(g.midDiffHistory) && g.midDiffHistory[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		g.midDiffHistory = g.midDiffHistory[i:]
	}
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

func metaMatch(a, b map[string]any, key string) bool {
	va, aok := a[key]
	vb, bok := b[key]
	if !aok && !bok {
		return true
	}
	if aok != bok {
		return false
	}
	return va == vb
}

// Submit processes an incoming actionable signal from one venue. It
// returns nil when the signal is rejected outright or no consensus
// candidate yet exists; otherwise it returns either an actionable
// consensus signal (reason consensus_confirmed) or a non-actionable
// blocked signal when EngineGuard is FREEZE/KILL.
func (g *Gate) Submit(sig types.SignalEvent) *types.SignalEvent {
	if !sig.Actionable() {
		return nil
	}
	if sig.Venue != types.Binance && sig.Venue != types.Bybit {
		return nil
	}

	g.mu.Lock()
	g.latest[sig.Venue] = sig
	other, ok := otherVenue(sig.Venue)
	if !ok {
		g.mu.Unlock()
		return nil
	}
	peer, havePeer := g.latest[other]
	history := append([]midDiffSample(nil), g.midDiffHistory...)
	g.mu.Unlock()

	if !havePeer || !peer.Actionable() {
		return nil
	}
	if peer.EventName != sig.EventName || peer.Symbol != sig.Symbol {
		return nil
	}
	if !metaMatch(sig.Meta, peer.Meta, "setup") || !metaMatch(sig.Meta, peer.Meta, "direction") {
		return nil
	}

	dt := sig.Timestamp.Sub(peer.Timestamp)
	if dt < 0 {
		dt = -dt
	}
	if dt > time.Duration(g.cfg.ConsensusWindowMs)*time.Millisecond {
		return nil
	}

	combined := math.Sqrt(clampNonNeg(sig.Score) * clampNonNeg(peer.Score))

	if setup, _ := sig.Meta["setup"].(string); setup == "SAF" || setup == "AFS" {
		if g.hasRecentSpike(sig.Timestamp, history) {
			combined = math.Min(combined*1.10, 1.0)
		}
	}

	if combined < g.cfg.SignalScoreMin {
		return nil
	}

	state := g.guard.State()
	if state == types.StateFreeze || state == types.StateKill {
		return &types.SignalEvent{
			EventName: sig.EventName, Symbol: sig.Symbol, Venue: sig.Venue,
			Timestamp:   sig.Timestamp,
			Score:       combined,
			ReasonCodes: []string{"blocked_engine_state"},
			Meta: map[string]any{
				"actionable":   false,
				"blocked":      true,
				"engine_state": string(state),
			},
		}
	}

	riskScale := g.guard.RiskScale()
	meta := map[string]any{"actionable": true, "risk_scale": riskScale}
	for k, v := range sig.Meta {
		if k == "actionable" {
			continue
		}
		meta[k] = v
	}

	return &types.SignalEvent{
		EventName:   sig.EventName,
		Symbol:      sig.Symbol,
		Venue:       sig.Venue,
		Timestamp:   sig.Timestamp,
		Score:       combined,
		ReasonCodes: []string{"consensus_confirmed"},
		Meta:        meta,
	}
}

func (g *Gate) hasRecentSpike(ref time.Time, history []midDiffSample) bool {
	cutoff := ref.Add(-time.Duration(g.cfg.RLBWindowMs) * time.Millisecond)
	var currentDiff float64
	hasSpike := false
	for _, s := range history {
		if s.bps >= g.cfg.RLBSpikeBps && !s.ts.Before(cutoff) {
			hasSpike = true
		}
		if !s.ts.After(ref) {
			currentDiff = s.bps
		}
	}
	return hasSpike && currentDiff <= g.cfg.MaxMidDiffBps
}

func clampNonNeg(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
