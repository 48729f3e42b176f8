package setups

import "sublimine-ids/pkg/types"

type afsStage int

const (
	afsIdle afsStage = iota
	afsAcceptance
)

type afsState struct {
	stage      afsStage
	dir        int
	preHigh    float64
	preLow     float64
	sweepBar   types.MicroBar
	sweepExtBps float64
	sweepRange float64
	accBars    []types.MicroBar
	holdCount  int
}

// AFSConfig parameterizes the Acceptance Failure after Sweep detector.
type AFSConfig struct {
	PreBars             int
	SweepBps            float64
	HoldBarsMax         int
	ConsolRangeRatio    float64
	FollowthroughMaxBps float64
}

// AFS is the Acceptance Failure after Sweep state machine: idle -> acceptance.
type AFS struct {
	cfg   AFSConfig
	state afsState
}

func NewAFS(cfg AFSConfig) *AFS { return &AFS{cfg: cfg} }

// Update evaluates AFS against the bounded history (oldest first, current
// bar last).
func (a *AFS) Update(history []types.MicroBar) *types.SignalEvent {
	if len(history) == 0 {
		return nil
	}
	bar := history[len(history)-1]

	if a.state.stage == afsIdle {
		a.tryEnterSweep(history)
		return nil
	}
	return a.updateAcceptance(bar)
}

func (a *AFS) tryEnterSweep(history []types.MicroBar) {
	need := a.cfg.PreBars + 1
	if len(history) < need {
		return
	}
	bar := history[len(history)-1]
	pre := history[len(history)-need : len(history)-1]
	preHigh, preLow := highLow(pre)

	upExt := bps(bar.High-preHigh, preHigh)
	downExt := bps(preLow-bar.Low, preLow)

	upSweeps := upExt >= a.cfg.SweepBps
	downSweeps := downExt >= a.cfg.SweepBps
	if !upSweeps && !downSweeps {
		return
	}

	dir, ext := 1, upExt
	if downSweeps && (!upSweeps || downExt > upExt) {
		dir, ext = -1, downExt
	}

	a.state = afsState{
		stage: afsAcceptance, dir: dir,
		preHigh: preHigh, preLow: preLow,
		sweepBar: bar, sweepExtBps: ext, sweepRange: barRange(bar),
	}
}

func (a *AFS) updateAcceptance(bar types.MicroBar) *types.SignalEvent {
	s := a.state
	accepts := (s.dir > 0 && bar.Close > s.preHigh) || (s.dir < 0 && bar.Close < s.preLow)

	if accepts {
		s.holdCount++
		if s.holdCount > a.cfg.HoldBarsMax {
			a.state = afsState{}
			return nil
		}
		s.accBars = append(append([]types.MicroBar{}, s.accBars...), bar)
		a.state = s
		return nil
	}

	accHigh, accLow := s.sweepBar.High, s.sweepBar.Low
	if len(s.accBars) > 0 {
		accHigh, accLow = highLow(s.accBars)
	}
	accRange := accHigh - accLow

	var followThroughBps float64
	var failureCond bool
	if s.dir > 0 {
		followThroughBps = bps(maxf(0, accHigh-s.sweepBar.High), s.preHigh)
		failureCond = bar.Close <= s.preHigh && bar.Close < accLow
	} else {
		followThroughBps = bps(maxf(0, s.sweepBar.Low-accLow), s.preLow)
		failureCond = bar.Close >= s.preLow && bar.Close > accHigh
	}

	ok := accRange <= a.cfg.ConsolRangeRatio*s.sweepRange &&
		followThroughBps <= a.cfg.FollowthroughMaxBps &&
		failureCond

	a.state = afsState{}
	if !ok {
		return nil
	}

	sweepQuality := clamp01(s.sweepExtBps / a.cfg.SweepBps)
	consolQuality := clamp01(1 - accRange/(a.cfg.ConsolRangeRatio*s.sweepRange))
	score := sqrtClamp01(sweepQuality, consolQuality)

	direction := types.Sell
	if s.dir < 0 {
		direction = types.Buy
	}

	return &types.SignalEvent{
		EventName:   "E3",
		Venue:       bar.Venue,
		Timestamp:   bar.TsEnd,
		Score:       score,
		ReasonCodes: []string{"afs_failed_acceptance"},
		Meta: map[string]any{
			"actionable": true,
			"setup":      "AFS",
			"direction":  string(direction),
		},
	}
}
