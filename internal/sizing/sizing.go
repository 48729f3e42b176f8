// Package sizing implements the trivial risk-phase sizing arithmetic
// named but explicitly out-of-scope-as-an-implementation by spec.md §1:
// the CLI still needs something to hand a TradeIntent's risk_frac to.
// Grounded on original_source's exec/oms.py's size_lots and intent_id
// functions, translated field-for-field.
package sizing

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"

	"sublimine-ids/pkg/types"
)

const tiny = 1e-12

// Phase is one named risk regime, mirroring config.RiskPhaseConfig.
type Phase struct {
	Name         string
	RiskFrac     float64
	MaxDailyLoss float64
}

// Instrument carries the lot-sizing constants for a symbol.
type Instrument struct {
	TickSize        float64
	TickValuePerLot float64
	VolMin          float64
	VolStep         float64
}

// SizeLots computes lot size from risk_frac * equity divided by the
// stop's per-lot loss, floored to VolStep and clamped to VolMin.
func SizeLots(equity, riskFrac, entryPrice, stopPrice float64, inst Instrument) float64 {
	riskAmount := equity * riskFrac
	stopDistance := math.Abs(entryPrice - stopPrice)
	ticks := stopDistance / inst.TickSize
	lossPerLot := ticks * inst.TickValuePerLot
	lots := riskAmount / math.Max(lossPerLot, tiny)

	if inst.VolStep > 0 {
		steps := math.Floor(lots / inst.VolStep)
		lots = steps * inst.VolStep
	}
	if lots < inst.VolMin {
		lots = inst.VolMin
	}
	return lots
}

// IntentID derives a stable, content-addressed identity for a
// TradeIntent so the OMS can dedup repeated submissions.
func IntentID(intent types.TradeIntent) string {
	raw := fmt.Sprintf("%s|%s|%s|%.6f|%.6f", intent.Symbol, intent.Direction, intent.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), intent.Score, intent.RiskFrac)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:12]
}

// BuildIntent turns a confirmed consensus signal into a sized TradeIntent,
// copying the entry_plan/stop_plan/take_plan maps from the signal's meta
// (each nil when the key is absent; the SetupEngine's signals carry none
// of them) and the active risk phase's risk_frac.
func BuildIntent(sig types.SignalEvent, phase Phase) types.TradeIntent {
	direction := types.Buy
	if d, ok := sig.Meta["direction"].(string); ok && d == string(types.Sell) {
		direction = types.Sell
	}
	entry, _ := sig.Meta["entry_plan"].(map[string]any)
	stop, _ := sig.Meta["stop_plan"].(map[string]any)
	take, _ := sig.Meta["take_plan"].(map[string]any)

	intent := types.TradeIntent{
		Symbol:      sig.Symbol,
		Direction:   direction,
		Score:       sig.Score,
		RiskFrac:    phase.RiskFrac,
		EntryPlan:   entry,
		StopPlan:    stop,
		TakePlan:    take,
		Timestamp:   sig.Timestamp,
		ReasonCodes: sig.ReasonCodes,
		Meta:        sig.Meta,
	}
	// Stamp the intent's own stable identity (spec.md §3) so journaled and
	// published copies carry it, not just OMS's internal dedup key.
	intent.ID = IntentID(intent)
	return intent
}
