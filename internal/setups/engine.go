package setups

import "sublimine-ids/pkg/types"

// Config bundles every sub-detector's parameters plus the bounded-history
// capacity the Engine keeps for them.
type Config struct {
	HistoryCap int
	DLV        DLVConfig
	SAF        SAFConfig
	AFS        AFSConfig
	PER        PERConfig
}

// Engine holds a bounded MicroBar history plus the four independent state
// machines sharing that stream. On each bar, state machines update in the
// order PER, DLV, SAF, AFS; when DLV fires it seeds PER.
type Engine struct {
	cap     int
	history []types.MicroBar

	per *PER
	dlv *DLV
	saf *SAF
	afs *AFS
}

// New creates a SetupEngine with fresh (idle) state machines.
func New(cfg Config) *Engine {
	return &Engine{
		cap:     cfg.HistoryCap,
		per:     NewPER(cfg.PER),
		dlv:     NewDLV(cfg.DLV),
		saf:     NewSAF(cfg.SAF),
		afs:     NewAFS(cfg.AFS),
	}
}

// OnBar feeds one MicroBar and returns every actionable signal it
// produced, in evaluation order (PER, DLV, SAF, AFS). Each returned
// signal's Symbol is stamped from the bar's Symbol; Venue comes from the
// bar as set by the state machine.
func (e *Engine) OnBar(bar types.MicroBar) []types.SignalEvent {
	e.history = append(e.history, bar)
	if e.cap > 0 && len(e.history) > e.cap {
		e.history = e.history[len(e.history)-e.cap:]
	}

	var out []types.SignalEvent

	if sig := e.per.Update(bar); sig != nil {
		sig.Symbol = bar.Symbol
		out = append(out, *sig)
	}

	if sig, seed := e.dlv.Update(e.history); sig != nil {
		sig.Symbol = bar.Symbol
		out = append(out, *sig)
		if seed != nil {
			e.per.Seed(*seed)
		}
	}

	if sig := e.saf.Update(e.history); sig != nil {
		sig.Symbol = bar.Symbol
		out = append(out, *sig)
	}

	if sig := e.afs.Update(e.history); sig != nil {
		sig.Symbol = bar.Symbol
		out = append(out, *sig)
	}

	return out
}
