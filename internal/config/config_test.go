package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `
symbols:
  leader: BTCUSDT
  exec: BTCUSDT

thresholds:
  window: 200
  depth_k: 10
  quantile_high: 0.95
  quantile_low: 0.05
  min_samples: 30
  signal_score_min: 0.5

risk_phases:
  F0:
    risk_frac: 0.0020
    max_daily_loss: 0.0100
  F1:
    risk_frac: 0.0025
    max_daily_loss: 0.0125
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Thresholds.MaxStaleMs != 2000 {
		t.Errorf("thresholds.max_stale_ms = %d, want default 2000", cfg.Thresholds.MaxStaleMs)
	}
	if cfg.Thresholds.ConsensusWindowMs != 750 {
		t.Errorf("thresholds.consensus_window_ms = %d, want default 750", cfg.Thresholds.ConsensusWindowMs)
	}
	if cfg.Thresholds.HealthKillScore != 0.15 {
		t.Errorf("thresholds.health_kill_score = %v, want default 0.15", cfg.Thresholds.HealthKillScore)
	}
	if cfg.Live.BybitWS != "wss://stream.bybit.com/v5/public/spot" {
		t.Errorf("live.bybit_ws = %q, want teacher default", cfg.Live.BybitWS)
	}
	if cfg.Live.JournalFilename != "journal.ndjson" {
		t.Errorf("live.journal_filename = %q, want journal.ndjson", cfg.Live.JournalFilename)
	}
	if cfg.Dashboard.Enabled {
		t.Error("dashboard.enabled should default to false")
	}
	if cfg.Dashboard.Port != 8090 {
		t.Errorf("dashboard.port = %d, want default 8090", cfg.Dashboard.Port)
	}
}

func TestLoadMissingRequiredKeyFails(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, `
symbols:
  leader: BTCUSDT
  exec: BTCUSDT
thresholds:
  window: 200
`))
	if err == nil {
		t.Fatal("expected error for missing required keys")
	}
}

func TestActivePhaseFallsBackToF0(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	phase, err := cfg.ActivePhase()
	if err != nil {
		t.Fatalf("ActivePhase: %v", err)
	}
	if phase.RiskFrac != 0.0020 {
		t.Errorf("ActivePhase() = %+v, want F0 (risk_frac 0.0020)", phase)
	}
}

func TestActivePhaseHonorsExplicitSelection(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, minimalYAML+"\nrisk:\n  active_phase: F1\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	phase, err := cfg.ActivePhase()
	if err != nil {
		t.Fatalf("ActivePhase: %v", err)
	}
	if phase.RiskFrac != 0.0025 {
		t.Errorf("ActivePhase() = %+v, want F1 (risk_frac 0.0025)", phase)
	}
}

func TestActivePhaseUnknownNameFallsBackToF0(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, minimalYAML+"\nrisk:\n  active_phase: F9\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	phase, err := cfg.ActivePhase()
	if err != nil {
		t.Fatalf("ActivePhase with unknown active_phase: %v", err)
	}
	if phase.RiskFrac != 0.0020 {
		t.Errorf("ActivePhase() = %+v, want fallback F0 (risk_frac 0.0020)", phase)
	}
}

func TestThresholdsBridgeMethodsWireDistinctValues(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dlv := cfg.Thresholds.DLVConfig()
	if dlv.PreBars != cfg.Thresholds.DLVPreBars || dlv.PauseBarsRequired != cfg.Thresholds.DLVPauseBars {
		t.Errorf("DLVConfig() = %+v did not bridge thresholds correctly", dlv)
	}
	saf := cfg.Thresholds.SAFConfig()
	if saf.Epsilon != cfg.Thresholds.SAFEpsilon || saf.TargetOFI != cfg.Thresholds.SAFTargetOFI {
		t.Errorf("SAFConfig() = %+v did not bridge synthesized fields correctly", saf)
	}
	health := cfg.Thresholds.HealthThresholds()
	if health.KillScore != cfg.Thresholds.HealthKillScore {
		t.Errorf("HealthThresholds() = %+v did not bridge kill score", health)
	}
	det := cfg.Thresholds.DetectConfig()
	if det.Window != cfg.Thresholds.Window || det.MinSamples != cfg.Thresholds.MinSamples {
		t.Errorf("DetectConfig() = %+v did not bridge thresholds correctly", det)
	}
}
