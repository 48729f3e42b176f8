package sizing

import (
	"testing"
	"time"

	"sublimine-ids/pkg/types"
)

func TestSizeLotsFloorsToVolStepAndClampsToMin(t *testing.T) {
	inst := Instrument{TickSize: 0.1, TickValuePerLot: 1.0, VolMin: 0.01, VolStep: 0.01}
	lots := SizeLots(10000, 0.002, 100.0, 99.5, inst)
	if lots <= 0 {
		t.Fatalf("lots = %v, want > 0", lots)
	}

	tiny := SizeLots(1.0, 0.0001, 100.0, 50.0, inst)
	if tiny != inst.VolMin {
		t.Errorf("lots = %v, want clamped to VolMin %v", tiny, inst.VolMin)
	}
}

func TestIntentIDIsStableAndContentAddressed(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := types.TradeIntent{Symbol: "BTCUSDT", Direction: types.Buy, Score: 0.8, RiskFrac: 0.002, Timestamp: ts}
	b := a
	c := a
	c.Score = 0.9

	idA, idB, idC := IntentID(a), IntentID(b), IntentID(c)
	if idA != idB {
		t.Errorf("identical intents produced different ids: %q vs %q", idA, idB)
	}
	if idA == idC {
		t.Error("intents differing in score produced the same id")
	}
	if len(idA) != 12 {
		t.Errorf("id length = %d, want 12", len(idA))
	}
}

func TestBuildIntentAppliesPhaseRiskFrac(t *testing.T) {
	sig := types.SignalEvent{
		Symbol: "BTCUSDT", Score: 0.8, Timestamp: time.Now(),
		Meta: map[string]any{"direction": "SELL", "actionable": true},
	}
	intent := BuildIntent(sig, Phase{Name: "F1", RiskFrac: 0.0025})
	if intent.Direction != types.Sell {
		t.Errorf("Direction = %v, want SELL", intent.Direction)
	}
	if intent.RiskFrac != 0.0025 {
		t.Errorf("RiskFrac = %v, want 0.0025", intent.RiskFrac)
	}
	if intent.ID == "" {
		t.Error("ID = \"\", want BuildIntent to stamp a stable intent id")
	}
	if want := IntentID(intent); intent.ID != want {
		t.Errorf("ID = %q, want IntentID(intent) = %q", intent.ID, want)
	}
}
