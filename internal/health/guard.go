package health

import (
	"sync"
	"time"

	"sublimine-ids/pkg/types"
)

// Guard is the EngineGuard state machine: it consumes HealthMonitor
// assessments and derives the coarse pipeline state, latching KILL
// permanently once entered (Testable Property #6).
type Guard struct {
	cfg Thresholds

	mu             sync.Mutex
	state          types.EngineState
	killLatched    bool
	lastTransition time.Time
}

// NewGuard creates an EngineGuard starting in RUN.
func NewGuard(cfg Thresholds) *Guard {
	return &Guard{cfg: cfg, state: types.StateRun}
}

// State returns the current engine state.
func (g *Guard) State() types.EngineState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Evaluate feeds one assessment and returns the resulting state plus,
// when the state changed, the transition event to publish.
func (g *Guard) Evaluate(a Assessment, now time.Time) (types.EngineState, *types.EngineStateEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.state
	snap := a.Snap

	var computed types.EngineState
	switch {
	case g.killLatched:
		computed = types.StateKill
	case snap.Score <= g.cfg.KillScore || a.MidDiffHigh || a.MissingFeed:
		computed = types.StateKill
	case snap.Score <= g.cfg.FreezeScore || a.QueueDepthHigh || a.AnyStale:
		computed = types.StateFreeze
	case snap.Score <= g.cfg.DegradedScore || a.AnySoft:
		computed = types.StateDegraded
	default:
		computed = types.StateRun
	}

	if computed == types.StateKill {
		g.killLatched = true
	}

	final := computed
	if prev == types.StateFreeze && computed == types.StateRun {
		recovered := snap.Score >= g.cfg.RecoverScore &&
			now.Sub(g.lastTransition) >= time.Duration(g.cfg.RecoverWindowMs)*time.Millisecond
		if !recovered {
			final = types.StateFreeze
		}
	}
	if prev == types.StateDegraded && computed == types.StateRun {
		if snap.Score < g.cfg.RecoverScore {
			final = types.StateDegraded
		}
	}

	g.state = final
	if final == prev {
		return final, nil
	}
	g.lastTransition = now
	return final, &types.EngineStateEvent{Timestamp: now, From: prev, To: final, Reasons: snap.ReasonCodes}
}

// RiskScale returns the risk-fraction multiplier ConsensusGate applies
// when the guard is DEGRADED, 1.0 otherwise.
func (g *Guard) RiskScale() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == types.StateDegraded {
		return g.cfg.RiskScaleDegraded
	}
	return 1.0
}
