package detect

import (
	"testing"
	"time"

	"sublimine-ids/pkg/types"
)

func baseCfg() Config {
	return Config{Window: 50, MinSamples: 10, QuantileHigh: 0.9, QuantileLow: 0.1}
}

func TestNoSignalBeforeMinSamples(t *testing.T) {
	t.Parallel()

	e := New(baseCfg())
	for i := 0; i < 5; i++ {
		sigs := e.Update(types.FeatureFrame{
			Timestamp: time.Now(), DepthNear: 1, OFIZ: 10, MicropriceBias: 10,
		})
		if len(sigs) != 0 {
			t.Fatalf("unexpected signal before min_samples at frame %d", i)
		}
	}
}

func TestE1FiresOnAllThreeGates(t *testing.T) {
	t.Parallel()

	e := New(Config{Window: 50, MinSamples: 5, QuantileHigh: 0.9, QuantileLow: 0.1})
	// warm up with calm frames
	for i := 0; i < 20; i++ {
		e.Update(types.FeatureFrame{Timestamp: time.Now(), DepthNear: 100, OFIZ: 0, MicropriceBias: 0})
	}
	sigs := e.Update(types.FeatureFrame{Timestamp: time.Now(), DepthNear: 1, OFIZ: 50, MicropriceBias: 50})

	found := false
	for _, s := range sigs {
		if s.EventName == "E1" {
			found = true
			if s.Actionable() {
				t.Error("primitive E1 signal must not be actionable")
			}
		}
	}
	if !found {
		t.Fatal("expected E1 to fire on an extreme depth/ofi/bias frame")
	}
}
