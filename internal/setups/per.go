package setups

import "sublimine-ids/pkg/types"

// PERSeed carries the DLV firing context that seeds a PER watch.
type PERSeed struct {
	Dir          int
	OldRangeHigh float64
	OldRangeLow  float64
	PeakHigh     float64
	PeakLow      float64
}

type perState struct {
	active       bool
	dir          int
	oldHigh      float64
	oldLow       float64
	peakHigh     float64
	peakLow      float64
	pullbackSeen bool
	barsElapsed  int
	prevBar      types.MicroBar
	hasPrev      bool
}

// PERConfig parameterizes the Post-Event Re-entry detector.
type PERConfig struct {
	MinHoldBps     float64
	MaxPullbackBps float64
	TTLBars        int
}

// PER is the Post-Event Re-entry state machine, seeded by a DLV firing.
type PER struct {
	cfg   PERConfig
	state perState
}

func NewPER(cfg PERConfig) *PER { return &PER{cfg: cfg} }

// Seed arms PER from a DLV firing. A second seed while already active
// replaces the in-flight watch.
func (p *PER) Seed(seed PERSeed) {
	p.state = perState{
		active: true, dir: seed.Dir,
		oldHigh: seed.OldRangeHigh, oldLow: seed.OldRangeLow,
		peakHigh: seed.PeakHigh, peakLow: seed.PeakLow,
	}
}

// Update evaluates PER against the latest bar. No-op when not seeded.
func (p *PER) Update(bar types.MicroBar) *types.SignalEvent {
	s := p.state
	if !s.active {
		return nil
	}

	s.barsElapsed++
	if s.barsElapsed > p.cfg.TTLBars {
		p.state = perState{}
		return nil
	}

	if s.dir > 0 {
		if bar.High > s.peakHigh {
			s.peakHigh = bar.High
		}
	} else {
		if bar.Low < s.peakLow {
			s.peakLow = bar.Low
		}
	}

	if s.hasPrev {
		if s.dir > 0 && bar.Low < s.prevBar.Low {
			s.pullbackSeen = true
		}
		if s.dir < 0 && bar.High > s.prevBar.High {
			s.pullbackSeen = true
		}
	}

	var holdLevel, depthBps float64
	if s.dir > 0 {
		holdLevel = s.oldHigh * (1 + p.cfg.MinHoldBps/10_000)
		if bar.Low < holdLevel {
			p.state = perState{}
			return nil
		}
		depthBps = bps(s.peakHigh-bar.Low, s.peakHigh)
	} else {
		holdLevel = s.oldLow * (1 - p.cfg.MinHoldBps/10_000)
		if bar.High > holdLevel {
			p.state = perState{}
			return nil
		}
		depthBps = bps(bar.High-s.peakLow, s.peakLow)
	}
	if depthBps > p.cfg.MaxPullbackBps {
		p.state = perState{}
		return nil
	}

	var fired bool
	if s.hasPrev && s.pullbackSeen {
		if s.dir > 0 && bar.Close > s.prevBar.High {
			fired = true
		}
		if s.dir < 0 && bar.Close < s.prevBar.Low {
			fired = true
		}
	}

	s.prevBar, s.hasPrev = bar, true
	if !fired {
		p.state = s
		return nil
	}

	var holdQuality float64
	if s.dir > 0 {
		holdQuality = clamp01(bps(bar.Low-holdLevel, holdLevel) / p.cfg.MinHoldBps)
	} else {
		holdQuality = clamp01(bps(holdLevel-bar.High, holdLevel) / p.cfg.MinHoldBps)
	}
	depthQuality := clamp01(1 - depthBps/p.cfg.MaxPullbackBps)
	score := sqrtClamp01(holdQuality, depthQuality)

	direction := types.Buy
	if s.dir < 0 {
		direction = types.Sell
	}

	p.state = perState{}
	return &types.SignalEvent{
		EventName:   "E1",
		Venue:       bar.Venue,
		Timestamp:   bar.TsEnd,
		Score:       score,
		ReasonCodes: []string{"per_reentry"},
		Meta: map[string]any{
			"actionable": true,
			"setup":      "PER",
			"direction":  string(direction),
		},
	}
}
