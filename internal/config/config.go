// Package config loads the engine's YAML configuration. Structure and
// the viper.New/SetConfigFile/Unmarshal/Validate shape are grounded on
// the teacher's internal/config/config.go; the threshold schema and its
// defaults are grounded field-for-field on original_source's config.py
// (ThresholdsConfig, RiskPhaseConfig, LiveConfig), with the health_*
// fields synthesized per SPEC_FULL.md §4.8 (no original_source
// equivalent exists, since engine health was not a concept in the
// distilled spec's origin).
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"sublimine-ids/internal/consensus"
	"sublimine-ids/internal/detect"
	"sublimine-ids/internal/health"
	"sublimine-ids/internal/setups"
)

// SymbolsConfig names the leader (signal) venue symbol and the
// execution-side symbol the setups fire against.
type SymbolsConfig struct {
	Leader string `mapstructure:"leader"`
	Exec   string `mapstructure:"exec"`
}

// ThresholdsConfig is the single bag of tunable numbers every detector,
// setup state machine, the consensus gate and the health monitor read
// from. Field names mirror original_source's config.py snake_case keys.
type ThresholdsConfig struct {
	Window         int     `mapstructure:"window"`
	DepthK         int     `mapstructure:"depth_k"`
	QuantileHigh   float64 `mapstructure:"quantile_high"`
	QuantileLow    float64 `mapstructure:"quantile_low"`
	MinSamples     int     `mapstructure:"min_samples"`
	SignalScoreMin float64 `mapstructure:"signal_score_min"`

	ConsensusWindowMs int64 `mapstructure:"consensus_window_ms"`
	MaxStaleMs        int64 `mapstructure:"max_stale_ms"`
	BarIntervalMs     int64 `mapstructure:"bar_interval_ms"`

	DLVPreBars             int     `mapstructure:"dlv_pre_bars"`
	DLVRunBars             int     `mapstructure:"dlv_run_bars"`
	DLVPauseBars           int     `mapstructure:"dlv_pause_bars"`
	DLVMaxOverlapRatio     float64 `mapstructure:"dlv_max_overlap_ratio"`
	DLVMaxCounterWickRatio float64 `mapstructure:"dlv_max_counter_wick_ratio"`
	DLVMaxCloseOffRatio    float64 `mapstructure:"dlv_max_close_off_ratio"`
	DLVPauseRangeRatio     float64 `mapstructure:"dlv_pause_range_ratio"`
	DLVRetestToleranceBps  float64 `mapstructure:"dlv_retest_tolerance_bps"`

	AFSPreBars             int     `mapstructure:"afs_pre_bars"`
	AFSSweepBps            float64 `mapstructure:"afs_sweep_bps"`
	AFSHoldBarsMax         int     `mapstructure:"afs_hold_bars_max"`
	AFSConsolRangeRatio    float64 `mapstructure:"afs_consol_range_ratio"`
	AFSFollowthroughMaxBps float64 `mapstructure:"afs_followthrough_max_bps"`

	SAFLevelBars         int     `mapstructure:"saf_level_bars"`
	SAFWindowMs          int64   `mapstructure:"saf_window_ms"`
	SAFMinAttacks        int     `mapstructure:"saf_min_attacks"`
	SAFLevelToleranceBps float64 `mapstructure:"saf_level_tolerance_bps"`
	SAFMaxReturnBps      float64 `mapstructure:"saf_max_return_bps"`
	SAFMinReplenishment  float64 `mapstructure:"saf_min_replenishment"`
	SAFMinOFIAbs         float64 `mapstructure:"saf_min_ofi_abs"`
	SAFReachWorsenBps    float64 `mapstructure:"saf_reach_worsen_bps"`
	SAFOFIDecayRatio     float64 `mapstructure:"saf_ofi_decay_ratio"`
	// SAFEpsilon and SAFTargetOFI have no original_source equivalent;
	// they support setups.SAF's OFI noise-floor and scoring normalization
	// and are synthesized the same way the health_* fields are.
	SAFEpsilon   float64 `mapstructure:"saf_epsilon"`
	SAFTargetOFI float64 `mapstructure:"saf_target_ofi"`

	PERTTLBars        int     `mapstructure:"per_ttl_bars"`
	PERMinHoldBps     float64 `mapstructure:"per_min_hold_bps"`
	PERMaxPullbackBps float64 `mapstructure:"per_max_pullback_bps"`
	// PERTriggerBreak mirrors original_source's per_trigger_break field.
	// Only "bar_break" semantics are implemented (see setups.PER); any
	// other value is accepted but has no effect.
	PERTriggerBreak string `mapstructure:"per_trigger_break"`

	RLBWindowMs   int64   `mapstructure:"rlb_window_ms"`
	RLBSpikeBps   float64 `mapstructure:"rlb_spike_bps"`
	MaxMidDiffBps float64 `mapstructure:"max_mid_diff_bps"`

	HealthKillScore         float64 `mapstructure:"health_kill_score"`
	HealthFreezeScore       float64 `mapstructure:"health_freeze_score"`
	HealthDegradedScore     float64 `mapstructure:"health_degraded_score"`
	HealthRecoverScore      float64 `mapstructure:"health_recover_score"`
	HealthRecoverWindowMs   int64   `mapstructure:"health_recover_window_ms"`
	HealthEPSWindowMs       int64   `mapstructure:"health_eps_window_ms"`
	HealthMinEPS            float64 `mapstructure:"health_min_eps"`
	HealthMaxResyncPerMin   float64 `mapstructure:"health_max_resync_per_min"`
	HealthMaxDesyncPerMin   float64 `mapstructure:"health_max_desync_per_min"`
	HealthRateWindowMs      int64   `mapstructure:"health_rate_window_ms"`
	HealthMaxGapsInWindow   int     `mapstructure:"health_max_gaps_in_window"`
	HealthMaxQueueDepth     int     `mapstructure:"health_max_queue_depth"`
	HealthRiskScaleDegraded float64 `mapstructure:"health_risk_scale_degraded"`
	HealthMaxMidDiffBps     float64 `mapstructure:"health_max_mid_diff_bps"`
}

// RiskPhaseConfig is one named risk regime (F0..F4 in
// original_source's risk/phases.py).
type RiskPhaseConfig struct {
	RiskFrac     float64 `mapstructure:"risk_frac"`
	MaxDailyLoss float64 `mapstructure:"max_daily_loss"`
}

// RiskConfig selects which named phase is currently active.
type RiskConfig struct {
	ActivePhase string `mapstructure:"active_phase"`
}

// LiveConfig holds venue connection settings and output locations,
// mirroring original_source's LiveConfig defaults exactly.
type LiveConfig struct {
	OutDir          string `mapstructure:"out_dir"`
	JournalFilename string `mapstructure:"journal_filename"`

	BybitWS    string `mapstructure:"bybit_ws"`
	BybitDepth int    `mapstructure:"bybit_depth"`

	BinanceWS              string `mapstructure:"binance_ws"`
	BinanceREST            string `mapstructure:"binance_rest"`
	BinanceDepth           int    `mapstructure:"binance_depth"`
	BinanceDepthIntervalMs int    `mapstructure:"binance_depth_interval_ms"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional read-only HTTP+WS surface
// exposing DataQualitySnapshot/EngineState/SignalEvent, adapted from
// the teacher's dashboard. Disabled by default: the core pipeline never
// depends on it.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Config is the top-level configuration, maps directly to the YAML
// file structure.
type Config struct {
	Symbols    SymbolsConfig              `mapstructure:"symbols"`
	Thresholds ThresholdsConfig           `mapstructure:"thresholds"`
	RiskPhases map[string]RiskPhaseConfig `mapstructure:"risk_phases"`
	Risk       RiskConfig                 `mapstructure:"risk"`
	Live       LiveConfig                 `mapstructure:"live"`
	Logging    LoggingConfig              `mapstructure:"logging"`
	Dashboard  DashboardConfig            `mapstructure:"dashboard"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("thresholds.consensus_window_ms", 750)
	v.SetDefault("thresholds.max_stale_ms", 2000)
	v.SetDefault("thresholds.bar_interval_ms", 500)
	v.SetDefault("thresholds.max_mid_diff_bps", 25.0)

	v.SetDefault("thresholds.dlv_pre_bars", 3)
	v.SetDefault("thresholds.dlv_run_bars", 2)
	v.SetDefault("thresholds.dlv_pause_bars", 2)
	v.SetDefault("thresholds.dlv_max_overlap_ratio", 0.3)
	v.SetDefault("thresholds.dlv_max_counter_wick_ratio", 0.3)
	v.SetDefault("thresholds.dlv_max_close_off_ratio", 0.3)
	v.SetDefault("thresholds.dlv_pause_range_ratio", 0.5)
	v.SetDefault("thresholds.dlv_retest_tolerance_bps", 5.0)

	v.SetDefault("thresholds.afs_pre_bars", 3)
	v.SetDefault("thresholds.afs_sweep_bps", 15.0)
	v.SetDefault("thresholds.afs_hold_bars_max", 3)
	v.SetDefault("thresholds.afs_consol_range_ratio", 0.4)
	v.SetDefault("thresholds.afs_followthrough_max_bps", 8.0)

	v.SetDefault("thresholds.saf_level_bars", 20)
	v.SetDefault("thresholds.saf_window_ms", 10000)
	v.SetDefault("thresholds.saf_min_attacks", 2)
	v.SetDefault("thresholds.saf_level_tolerance_bps", 5.0)
	v.SetDefault("thresholds.saf_max_return_bps", 10.0)
	v.SetDefault("thresholds.saf_min_replenishment", 0.7)
	v.SetDefault("thresholds.saf_min_ofi_abs", 0.3)
	v.SetDefault("thresholds.saf_reach_worsen_bps", 3.0)
	v.SetDefault("thresholds.saf_ofi_decay_ratio", 0.5)
	v.SetDefault("thresholds.saf_epsilon", 0.05)
	v.SetDefault("thresholds.saf_target_ofi", 1.0)

	v.SetDefault("thresholds.per_ttl_bars", 5)
	v.SetDefault("thresholds.per_min_hold_bps", 10.0)
	v.SetDefault("thresholds.per_max_pullback_bps", 5.0)
	v.SetDefault("thresholds.per_trigger_break", "bar_break")

	v.SetDefault("thresholds.rlb_window_ms", 2000)
	v.SetDefault("thresholds.rlb_spike_bps", 20.0)

	v.SetDefault("thresholds.health_kill_score", 0.15)
	v.SetDefault("thresholds.health_freeze_score", 0.35)
	v.SetDefault("thresholds.health_degraded_score", 0.60)
	v.SetDefault("thresholds.health_recover_score", 0.75)
	v.SetDefault("thresholds.health_recover_window_ms", 5000)
	v.SetDefault("thresholds.health_eps_window_ms", 5000)
	v.SetDefault("thresholds.health_min_eps", 5)
	v.SetDefault("thresholds.health_max_resync_per_min", 3)
	v.SetDefault("thresholds.health_max_desync_per_min", 2)
	v.SetDefault("thresholds.health_rate_window_ms", 60000)
	v.SetDefault("thresholds.health_max_gaps_in_window", 5)
	v.SetDefault("thresholds.health_max_queue_depth", 1000)
	v.SetDefault("thresholds.health_risk_scale_degraded", 0.5)
	v.SetDefault("thresholds.health_max_mid_diff_bps", 50.0)

	v.SetDefault("risk.active_phase", "")

	v.SetDefault("live.out_dir", "./runs")
	v.SetDefault("live.journal_filename", "journal.ndjson")
	v.SetDefault("live.bybit_ws", "wss://stream.bybit.com/v5/public/spot")
	v.SetDefault("live.bybit_depth", 50)
	v.SetDefault("live.binance_ws", "wss://stream.binance.com:9443/ws")
	v.SetDefault("live.binance_rest", "https://api.binance.com/api/v3/depth")
	v.SetDefault("live.binance_depth", 50)
	v.SetDefault("live.binance_depth_interval_ms", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8090)
}

// requiredKeys are the config keys original_source's config.py raises on
// when missing, checked here via viper.IsSet before Unmarshal so the
// error names the exact missing key rather than failing with a zero
// value deep in the pipeline.
var requiredKeys = []string{
	"symbols.leader",
	"symbols.exec",
	"thresholds.window",
	"thresholds.depth_k",
	"thresholds.quantile_high",
	"thresholds.quantile_low",
	"thresholds.min_samples",
	"thresholds.signal_score_min",
	"risk_phases",
}

// Load reads path, applies defaults, validates required keys are
// present, and unmarshals into Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			return nil, fmt.Errorf("missing required config key: %s", key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.RiskPhases) == 0 {
		return nil, fmt.Errorf("risk_phases must define at least one phase")
	}
	if cfg.Live.JournalFilename == "" {
		cfg.Live.JournalFilename = "journal.ndjson"
	}

	return &cfg, nil
}

// ActivePhase resolves the current risk phase: Risk.ActivePhase if set
// and present, else "F0" if present, else the lowest sorted phase name.
// An active_phase naming no configured phase takes the same fallback.
// Mirrors original_source's config.py fallback exactly.
func (c *Config) ActivePhase() (RiskPhaseConfig, error) {
	if phase, ok := c.RiskPhases[c.Risk.ActivePhase]; c.Risk.ActivePhase != "" && ok {
		return phase, nil
	}
	if phase, ok := c.RiskPhases["F0"]; ok {
		return phase, nil
	}
	names := make([]string, 0, len(c.RiskPhases))
	for name := range c.RiskPhases {
		names = append(names, name)
	}
	if len(names) == 0 {
		return RiskPhaseConfig{}, fmt.Errorf("no risk phases configured")
	}
	sort.Strings(names)
	return c.RiskPhases[names[0]], nil
}

// JournalPath returns the full path of the journal file for this run.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Live.OutDir, c.Live.JournalFilename)
}

func (t ThresholdsConfig) DLVConfig() setups.DLVConfig {
	return setups.DLVConfig{
		PreBars:             t.DLVPreBars,
		RunBars:             t.DLVRunBars,
		PauseBarsRequired:   t.DLVPauseBars,
		MaxOverlapRatio:     t.DLVMaxOverlapRatio,
		MaxCounterWickRatio: t.DLVMaxCounterWickRatio,
		MaxCloseOffRatio:    t.DLVMaxCloseOffRatio,
		PauseRangeRatio:     t.DLVPauseRangeRatio,
		RetestTolBps:        t.DLVRetestToleranceBps,
	}
}

func (t ThresholdsConfig) AFSConfig() setups.AFSConfig {
	return setups.AFSConfig{
		PreBars:             t.AFSPreBars,
		SweepBps:            t.AFSSweepBps,
		HoldBarsMax:         t.AFSHoldBarsMax,
		ConsolRangeRatio:    t.AFSConsolRangeRatio,
		FollowthroughMaxBps: t.AFSFollowthroughMaxBps,
	}
}

func (t ThresholdsConfig) SAFConfig() setups.SAFConfig {
	return setups.SAFConfig{
		LevelBars:         t.SAFLevelBars,
		Epsilon:           t.SAFEpsilon,
		MinOFIAbs:         t.SAFMinOFIAbs,
		MinReplenishment:  t.SAFMinReplenishment,
		MaxReturnBps:      t.SAFMaxReturnBps,
		WindowMs:          t.SAFWindowMs,
		MinAttacks:        t.SAFMinAttacks,
		ReachWorsenBps:    t.SAFReachWorsenBps,
		OFIDecayRatio:     t.SAFOFIDecayRatio,
		LevelToleranceBps: t.SAFLevelToleranceBps,
		TargetOFI:         t.SAFTargetOFI,
	}
}

func (t ThresholdsConfig) PERConfig() setups.PERConfig {
	return setups.PERConfig{
		TTLBars:        t.PERTTLBars,
		MinHoldBps:     t.PERMinHoldBps,
		MaxPullbackBps: t.PERMaxPullbackBps,
	}
}

func (t ThresholdsConfig) DetectConfig() detect.Config {
	return detect.Config{
		Window:       t.Window,
		MinSamples:   t.MinSamples,
		QuantileHigh: t.QuantileHigh,
		QuantileLow:  t.QuantileLow,
	}
}

func (t ThresholdsConfig) ConsensusConfig() consensus.Config {
	return consensus.Config{
		ConsensusWindowMs: t.ConsensusWindowMs,
		SignalScoreMin:    t.SignalScoreMin,
		RLBWindowMs:       t.RLBWindowMs,
		RLBSpikeBps:       t.RLBSpikeBps,
		MaxMidDiffBps:     t.MaxMidDiffBps,
	}
}

func (t ThresholdsConfig) HealthThresholds() health.Thresholds {
	return health.Thresholds{
		MaxStaleMs:        t.MaxStaleMs,
		MaxMidDiffBps:     t.HealthMaxMidDiffBps,
		EPSWindowMs:       t.HealthEPSWindowMs,
		MinEPS:            t.HealthMinEPS,
		RateWindowMs:      t.HealthRateWindowMs,
		MaxGapsInWindow:   t.HealthMaxGapsInWindow,
		MaxResyncPerMin:   t.HealthMaxResyncPerMin,
		MaxDesyncPerMin:   t.HealthMaxDesyncPerMin,
		MaxQueueDepth:     t.HealthMaxQueueDepth,
		KillScore:         t.HealthKillScore,
		FreezeScore:       t.HealthFreezeScore,
		DegradedScore:     t.HealthDegradedScore,
		RecoverScore:      t.HealthRecoverScore,
		RecoverWindowMs:   t.HealthRecoverWindowMs,
		RiskScaleDegraded: t.HealthRiskScaleDegraded,
	}
}
