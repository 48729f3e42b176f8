// Package detect implements the DetectorEngine: eleven parallel
// rolling-quantile trackers feeding four primitive (non-actionable)
// gate-based detectors E1-E4. Grounded on original_source's
// events/detectors.py.
package detect

import (
	"sublimine-ids/internal/rolling"
	"sublimine-ids/internal/scoring"
	"sublimine-ids/pkg/types"
)

// Config parameterizes the rolling window, minimum sample count before any
// gate can fire, and the high/low quantile probabilities (e.g. 0.9/0.1).
type Config struct {
	Window     int
	MinSamples int
	QuantileHigh float64
	QuantileLow  float64
}

// Engine holds one rolling-quantile tracker per feature consumed by the
// E1-E4 gates.
type Engine struct {
	cfg Config

	depthNear      *rolling.Quantile
	ofiZ           *rolling.Quantile
	micropriceBias *rolling.Quantile
	deltaSize      *rolling.Quantile
	priceProgress  *rolling.Quantile
	replenishment  *rolling.Quantile
	sweepDistance  *rolling.Quantile
	returnSpeed    *rolling.Quantile
	postSweep      *rolling.Quantile
	absBasisZ      *rolling.Quantile
	leadLag        *rolling.Quantile
}

// New creates a DetectorEngine with all eleven trackers sized to cfg.Window.
func New(cfg Config) *Engine {
	w := cfg.Window
	return &Engine{
		cfg:            cfg,
		depthNear:      rolling.NewQuantile(w),
		ofiZ:           rolling.NewQuantile(w),
		micropriceBias: rolling.NewQuantile(w),
		deltaSize:      rolling.NewQuantile(w),
		priceProgress:  rolling.NewQuantile(w),
		replenishment:  rolling.NewQuantile(w),
		sweepDistance:  rolling.NewQuantile(w),
		returnSpeed:    rolling.NewQuantile(w),
		postSweep:      rolling.NewQuantile(w),
		absBasisZ:      rolling.NewQuantile(w),
		leadLag:        rolling.NewQuantile(w),
	}
}

// Update feeds one frame into every tracker, then evaluates E1-E4. It
// returns the signals that fired this frame (zero, one, or several).
// No gate is evaluated until the depth_near tracker — a proxy for every
// tracker, since all are updated in lockstep — reaches MinSamples.
func (e *Engine) Update(frame types.FeatureFrame) []types.SignalEvent {
	absBasis := frame.BasisZ
	if absBasis < 0 {
		absBasis = -absBasis
	}

	e.depthNear.Update(frame.DepthNear)
	e.ofiZ.Update(frame.OFIZ)
	e.micropriceBias.Update(frame.MicropriceBias)
	e.deltaSize.Update(frame.DeltaSize)
	e.priceProgress.Update(frame.PriceProgress)
	e.replenishment.Update(frame.Replenishment)
	e.sweepDistance.Update(frame.SweepDistance)
	e.returnSpeed.Update(frame.ReturnSpeed)
	e.postSweep.Update(frame.PostSweepAbsorption)
	e.absBasisZ.Update(absBasis)
	e.leadLag.Update(frame.LeadLag)

	if e.depthNear.Count() < e.cfg.MinSamples {
		return nil
	}

	var out []types.SignalEvent
	if sig, ok := e.evalE1(frame); ok {
		out = append(out, sig)
	}
	if sig, ok := e.evalE2(frame); ok {
		out = append(out, sig)
	}
	if sig, ok := e.evalE3(frame); ok {
		out = append(out, sig)
	}
	if sig, ok := e.evalE4(frame, absBasis); ok {
		out = append(out, sig)
	}
	return out
}

func (e *Engine) evalE1(frame types.FeatureFrame) (types.SignalEvent, bool) {
	qLowDepth, _ := e.depthNear.Value(e.cfg.QuantileLow)
	qHighOFI, _ := e.ofiZ.Value(e.cfg.QuantileHigh)
	qHighBias, _ := e.micropriceBias.Value(e.cfg.QuantileHigh)

	if !(frame.DepthNear <= qLowDepth && frame.OFIZ >= qHighOFI && frame.MicropriceBias >= qHighBias) {
		return types.SignalEvent{}, false
	}

	score := mean(
		scoring.NormalizeLow(frame.DepthNear, qLowDepth),
		scoring.NormalizeHigh(frame.OFIZ, qHighOFI),
		scoring.NormalizeHigh(frame.MicropriceBias, qHighBias),
	)
	return e.signal(frame, "E1", score, []string{"depth_low", "ofi_high", "bias_high"}), true
}

func (e *Engine) evalE2(frame types.FeatureFrame) (types.SignalEvent, bool) {
	qHighDelta, _ := e.deltaSize.Value(e.cfg.QuantileHigh)
	qLowProgress, _ := e.priceProgress.Value(e.cfg.QuantileLow)
	qHighReplenish, _ := e.replenishment.Value(e.cfg.QuantileHigh)

	if !(frame.DeltaSize >= qHighDelta && frame.PriceProgress <= qLowProgress && frame.Replenishment >= qHighReplenish) {
		return types.SignalEvent{}, false
	}

	score := mean(
		scoring.NormalizeHigh(frame.DeltaSize, qHighDelta),
		scoring.NormalizeLow(frame.PriceProgress, qLowProgress),
		scoring.NormalizeHigh(frame.Replenishment, qHighReplenish),
	)
	return e.signal(frame, "E2", score, []string{"delta_high", "progress_low", "replenish_high"}), true
}

func (e *Engine) evalE3(frame types.FeatureFrame) (types.SignalEvent, bool) {
	qHighSweep, _ := e.sweepDistance.Value(e.cfg.QuantileHigh)
	qHighSpeed, _ := e.returnSpeed.Value(e.cfg.QuantileHigh)
	qHighAbsorb, _ := e.postSweep.Value(e.cfg.QuantileHigh)

	if !(frame.SweepDistance >= qHighSweep && frame.ReturnSpeed >= qHighSpeed && frame.PostSweepAbsorption >= qHighAbsorb) {
		return types.SignalEvent{}, false
	}

	score := mean(
		scoring.NormalizeHigh(frame.SweepDistance, qHighSweep),
		scoring.NormalizeHigh(frame.ReturnSpeed, qHighSpeed),
		scoring.NormalizeHigh(frame.PostSweepAbsorption, qHighAbsorb),
	)
	return e.signal(frame, "E3", score, []string{"sweep_high", "speed_high", "absorption_high"}), true
}

func (e *Engine) evalE4(frame types.FeatureFrame, absBasis float64) (types.SignalEvent, bool) {
	qHighBasis, _ := e.absBasisZ.Value(e.cfg.QuantileHigh)
	qHighLag, _ := e.leadLag.Value(e.cfg.QuantileHigh)

	if !(absBasis >= qHighBasis && frame.LeadLag >= qHighLag) {
		return types.SignalEvent{}, false
	}

	score := mean(
		scoring.NormalizeHigh(absBasis, qHighBasis),
		scoring.NormalizeHigh(frame.LeadLag, qHighLag),
	)
	return e.signal(frame, "E4", score, []string{"basis_high", "lead_lag_high"}), true
}

func (e *Engine) signal(frame types.FeatureFrame, name string, score float64, reasons []string) types.SignalEvent {
	return types.SignalEvent{
		EventName:   name,
		Symbol:      frame.Symbol,
		Venue:       frame.Venue,
		Timestamp:   frame.Timestamp,
		Score:       scoring.Clamp(score),
		ReasonCodes: reasons,
		Meta:        map[string]any{"actionable": false},
	}
}

func mean(vs ...float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
