package setups

import "sublimine-ids/pkg/types"

type dlvStage int

const (
	dlvIdle dlvStage = iota
	dlvPause
	dlvAwaitBreakout
)

// dlvState is replaced wholesale on every transition; never mutated
// field-by-field.
type dlvState struct {
	stage       dlvStage
	dir         int
	preHigh     float64
	preLow      float64
	runQuality  float64
	avgRunRange float64
	pauseBars   []types.MicroBar
	pauseHigh   float64
	pauseLow    float64
}

// DLVConfig parameterizes the Directional Liquidity Vacuum detector.
type DLVConfig struct {
	PreBars             int
	RunBars             int
	RetestTolBps        float64
	MaxOverlapRatio     float64
	MaxCounterWickRatio float64
	MaxCloseOffRatio    float64
	PauseBarsRequired   int
	PauseRangeRatio     float64
}

// DLV is the Directional Liquidity Vacuum state machine:
// idle -> pause -> await_breakout.
type DLV struct {
	cfg   DLVConfig
	state dlvState
}

func NewDLV(cfg DLVConfig) *DLV { return &DLV{cfg: cfg} }

// Update evaluates DLV against the bounded bar history (oldest first, the
// current bar last). Returns a fired signal and the PER seed when the
// await_breakout stage completes on this bar.
func (d *DLV) Update(history []types.MicroBar) (*types.SignalEvent, *PERSeed) {
	if len(history) == 0 {
		return nil, nil
	}
	bar := history[len(history)-1]

	switch d.state.stage {
	case dlvIdle:
		d.tryEnterRun(history)
		return nil, nil
	case dlvPause:
		d.updatePause(bar)
		return nil, nil
	case dlvAwaitBreakout:
		return d.updateAwaitBreakout(bar)
	}
	return nil, nil
}

func (d *DLV) tryEnterRun(history []types.MicroBar) {
	need := d.cfg.PreBars + d.cfg.RunBars
	if len(history) < need {
		return
	}
	run := history[len(history)-d.cfg.RunBars:]
	pre := history[len(history)-need : len(history)-d.cfg.RunBars]

	preHigh, preLow := highLow(pre)
	dir := barDirection(run[0])
	if dir == 0 {
		return
	}
	for _, b := range run {
		if barDirection(b) != dir {
			return
		}
	}

	// Resolved Open Question (a): retest checked via basis points against
	// the pre-range bound, not price*(1±tol).
	prev := pre[len(pre)-1]
	var sumQuality, sumRange float64
	for _, b := range run {
		if dir > 0 {
			if bps(b.Low-preHigh, preHigh) <= d.cfg.RetestTolBps {
				return
			}
		} else {
			if bps(preLow-b.High, preLow) <= d.cfg.RetestTolBps {
				return
			}
		}

		overlap := overlapRatio(prev, b)
		counter := counterWickRatio(b, dir)
		closeOff := closeOffRatio(b, dir)
		if overlap > d.cfg.MaxOverlapRatio || counter > d.cfg.MaxCounterWickRatio || closeOff > d.cfg.MaxCloseOffRatio {
			return
		}
		sumQuality += (1 - overlap) * (1 - counter) * (1 - closeOff)
		sumRange += barRange(b)
		prev = b
	}

	d.state = dlvState{
		stage:       dlvPause,
		dir:         dir,
		preHigh:     preHigh,
		preLow:      preLow,
		runQuality:  sumQuality / float64(len(run)),
		avgRunRange: sumRange / float64(len(run)),
	}
}

func (d *DLV) updatePause(bar types.MicroBar) {
	s := d.state

	if s.dir > 0 {
		if bps(bar.Low-s.preHigh, s.preHigh) <= d.cfg.RetestTolBps {
			d.state = dlvState{}
			return
		}
	} else {
		if bps(s.preLow-bar.High, s.preLow) <= d.cfg.RetestTolBps {
			d.state = dlvState{}
			return
		}
	}

	pauseBars := append(append([]types.MicroBar{}, s.pauseBars...), bar)
	pauseHigh, pauseLow := highLow(pauseBars)
	pauseRange := pauseHigh - pauseLow
	if pauseRange > d.cfg.PauseRangeRatio*s.avgRunRange {
		d.state = dlvState{}
		return
	}

	if len(pauseBars) >= d.cfg.PauseBarsRequired {
		d.state = dlvState{
			stage: dlvAwaitBreakout, dir: s.dir,
			preHigh: s.preHigh, preLow: s.preLow,
			runQuality: s.runQuality, avgRunRange: s.avgRunRange,
			pauseBars: pauseBars, pauseHigh: pauseHigh, pauseLow: pauseLow,
		}
		return
	}

	d.state = dlvState{
		stage: dlvPause, dir: s.dir,
		preHigh: s.preHigh, preLow: s.preLow,
		runQuality: s.runQuality, avgRunRange: s.avgRunRange,
		pauseBars: pauseBars,
	}
}

func (d *DLV) updateAwaitBreakout(bar types.MicroBar) (*types.SignalEvent, *PERSeed) {
	s := d.state
	fired := (s.dir > 0 && bar.Close > s.pauseHigh) || (s.dir < 0 && bar.Close < s.pauseLow)
	if !fired {
		return nil, nil
	}

	pauseQuality := clamp01(1 - (s.pauseHigh-s.pauseLow)/s.avgRunRange)
	score := sqrtClamp01(s.runQuality, pauseQuality)

	direction := types.Buy
	if s.dir < 0 {
		direction = types.Sell
	}

	sig := &types.SignalEvent{
		EventName:   "E1",
		Symbol:      "",
		Venue:       bar.Venue,
		Timestamp:   bar.TsEnd,
		Score:       score,
		ReasonCodes: []string{"dlv_breakout"},
		Meta: map[string]any{
			"actionable":     true,
			"setup":          "DLV",
			"direction":      string(direction),
			"pre_range_high": s.preHigh,
			"pre_range_low":  s.preLow,
			"pause_high":     s.pauseHigh,
			"pause_low":      s.pauseLow,
		},
	}
	seed := &PERSeed{
		Dir: s.dir, OldRangeHigh: s.preHigh, OldRangeLow: s.preLow,
		PeakHigh: bar.High, PeakLow: bar.Low,
	}

	d.state = dlvState{}
	return sig, seed
}

func highLow(bars []types.MicroBar) (high, low float64) {
	if len(bars) == 0 {
		return 0, 0
	}
	high, low = bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low
}
