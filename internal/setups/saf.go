package setups

import "sublimine-ids/pkg/types"

type safStage int

const (
	safIdle safStage = iota
	safCollecting
	safAwaitBreak
)

type safEntry struct {
	tsEndMs int64
	reachBps float64
	ofiAbs   float64
}

type safState struct {
	stage   safStage
	side    int // +1 up-attack, -1 down-attack
	level   float64
	entries []safEntry
}

// SAFConfig parameterizes the Sellers/Attacks Fatigue detector.
type SAFConfig struct {
	LevelBars         int
	Epsilon           float64
	MinOFIAbs         float64
	MinReplenishment  float64
	MaxReturnBps      float64
	WindowMs          int64
	MinAttacks        int
	ReachWorsenBps    float64
	OFIDecayRatio     float64
	LevelToleranceBps float64
	TargetOFI         float64
}

// SAF is the Attacks Fatigue state machine: idle -> collecting -> await_break.
type SAF struct {
	cfg   SAFConfig
	state safState
}

func NewSAF(cfg SAFConfig) *SAF { return &SAF{cfg: cfg} }

// Update evaluates SAF against the bounded history (oldest first, current
// bar last).
func (s *SAF) Update(history []types.MicroBar) *types.SignalEvent {
	if len(history) == 0 {
		return nil
	}
	bar := history[len(history)-1]

	if s.state.stage == safAwaitBreak && len(history) >= 2 {
		prev := history[len(history)-2]
		if sig := s.tryBreak(bar, prev); sig != nil {
			return sig
		}
	}

	side, isAttack := s.classifyAttack(bar)
	if !isAttack {
		return nil
	}

	level, ok := s.contestedLevel(history, side)
	if !ok {
		return nil
	}

	var reachBps float64
	if side > 0 {
		reachBps = maxf(0, bps(level-bar.High, level))
	} else {
		reachBps = maxf(0, bps(bar.Low-level, level))
	}
	entry := safEntry{tsEndMs: bar.TsEnd.UnixMilli(), reachBps: reachBps, ofiAbs: bar.OFIAbsMean}

	if s.state.stage == safIdle || s.state.side != side || s.levelDrifted(level) {
		s.state = safState{stage: safCollecting, side: side, level: level, entries: []safEntry{entry}}
		return nil
	}

	entries := append(s.state.entries, entry)
	entries = dropStale(entries, bar.TsEnd.UnixMilli(), s.cfg.WindowMs)
	s.state.entries = entries
	s.state.level = level

	if len(entries) >= s.cfg.MinAttacks {
		first, last := entries[0], entries[len(entries)-1]
		if last.reachBps-first.reachBps >= s.cfg.ReachWorsenBps && last.ofiAbs <= first.ofiAbs*s.cfg.OFIDecayRatio {
			s.state.stage = safAwaitBreak
		}
	}
	return nil
}

func (s *SAF) classifyAttack(bar types.MicroBar) (side int, ok bool) {
	if absf(bar.OFIMean) < s.cfg.Epsilon || bar.OFIAbsMean < s.cfg.MinOFIAbs || bar.ReplenishmentMean < s.cfg.MinReplenishment {
		return 0, false
	}
	if bar.Open == 0 || bps(absf(bar.Close-bar.Open), bar.Open) > s.cfg.MaxReturnBps {
		return 0, false
	}
	if bar.OFIMean > 0 {
		return 1, true
	}
	return -1, true
}

func (s *SAF) contestedLevel(history []types.MicroBar, side int) (float64, bool) {
	n := s.cfg.LevelBars
	idx := len(history) - 1 // exclude the current attack bar
	if idx < n {
		return 0, false
	}
	window := history[idx-n : idx]
	high, low := highLow(window)
	if side > 0 {
		return high, true
	}
	return low, true
}

func (s *SAF) levelDrifted(level float64) bool {
	if s.state.stage == safIdle {
		return false
	}
	return absf(bps(level-s.state.level, s.state.level)) > s.cfg.LevelToleranceBps
}

func (s *SAF) tryBreak(bar, prev types.MicroBar) *types.SignalEvent {
	st := s.state
	entries := st.entries
	if len(entries) == 0 {
		s.state = safState{}
		return nil
	}

	fired := (st.side > 0 && bar.Close < prev.Low) || (st.side < 0 && bar.Close > prev.High)
	if !fired {
		return nil
	}

	first, last := entries[0], entries[len(entries)-1]
	reachQuality := clamp01((last.reachBps - first.reachBps) / s.cfg.ReachWorsenBps)
	ofiQuality := clamp01(safeDiv(s.cfg.TargetOFI, last.ofiAbs))
	score := sqrtClamp01(reachQuality, ofiQuality)

	direction := types.Sell
	if st.side < 0 {
		direction = types.Buy
	}

	sig := &types.SignalEvent{
		EventName:   "E2",
		Venue:       bar.Venue,
		Timestamp:   bar.TsEnd,
		Score:       score,
		ReasonCodes: []string{"saf_break"},
		Meta: map[string]any{
			"actionable": true,
			"setup":      "SAF",
			"direction":  string(direction),
			"level":      st.level,
		},
	}
	s.state = safState{}
	return sig
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func dropStale(entries []safEntry, nowMs, windowMs int64) []safEntry {
	if windowMs <= 0 || len(entries) == 0 {
		return entries
	}
	cutoff := nowMs - windowMs
	i := 0
	for i < len(entries) && entries[i].tsEndMs < cutoff {
		i++
	}
	if i == 0 {
		return entries
	}
	return append([]safEntry{}, entries[i:]...)
}
