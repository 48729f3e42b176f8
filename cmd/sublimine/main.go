// sublimine-ids is a real-time market-microstructure intrusion-detection
// engine: it mirrors a leader/follower venue pair's order books, derives
// a fixed feature set per update, runs it through primitive detectors and
// composite setups, gates confirmed signals through cross-venue
// consensus, sizes them against a risk phase, and (depending on --mode)
// journals, logs, or actually routes the resulting TradeIntents.
//
// Architecture:
//
//	main.go                — entry point: parses flags, loads config, drives one of four modes
//	internal/runner         — LiveRunner: per-venue pipeline, ingress queue, health ticker, replay
//	internal/connectors     — Binance/Bybit WebSocket feeds (shadow-live only)
//	internal/book, sync     — local order book mirror + gap/resync bookkeeping
//	internal/features       — per-update feature derivation (OFI, microprice, VPIN, ...)
//	internal/detect         — primitive non-actionable gate detectors (E1-E4)
//	internal/setups         — composite actionable signal generators (DLV/SAF/AFS/PER)
//	internal/consensus      — cross-venue confirmation gate
//	internal/sizing         — risk-phase-scaled TradeIntent construction
//	internal/exec           — OMS/Router/paper execution boundary
//	internal/health         — HealthMonitor/EngineGuard data-quality cascade
//	internal/journal        — append-only NDJSON event log + deterministic replay
//	internal/api            — optional read-only dashboard HTTP+WS surface (shadow-live only)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"sublimine-ids/internal/api"
	"sublimine-ids/internal/config"
	"sublimine-ids/internal/connectors"
	"sublimine-ids/internal/journal"
	"sublimine-ids/internal/runner"
	"sublimine-ids/pkg/types"
)

const (
	modeShadow     = "shadow"
	modeReplay     = "replay"
	modeShadowLive = "shadow-live"
	modePaperExec  = "paper-exec"
)

func main() {
	os.Exit(run())
}

// argError marks a validation failure so run() can map it to exit code 2
// instead of the general runtime-failure exit code cobra errors get.
type argError struct{ error }

// run returns the process exit code per spec.md §6: 0 clean, 2 argument
// error, non-zero runtime failure.
func run() int {
	var (
		mode       string
		configPath string
		replayPath string
		exitCode   int
	)

	root := &cobra.Command{
		Use:           "sublimine",
		Short:         "Real-time market-microstructure intrusion-detection engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateArgs(mode, configPath, replayPath); err != nil {
				return argError{err}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return argError{fmt.Errorf("load config: %w", err)}
			}

			logger := newLogger(cfg.Logging)

			runDir := filepath.Join(cfg.Live.OutDir, time.Now().UTC().Format("20060102-150405"))
			if err := os.MkdirAll(runDir, 0o755); err != nil {
				return fmt.Errorf("create run directory %s: %w", runDir, err)
			}
			jrnlPath := filepath.Join(runDir, cfg.Live.JournalFilename)
			jrnl, err := journal.Create(jrnlPath)
			if err != nil {
				return fmt.Errorf("create journal %s: %w", jrnlPath, err)
			}
			defer jrnl.Close()

			switch mode {
			case modeShadow, modeReplay, modePaperExec:
				exitCode = runReplay(cfg, jrnl, logger, mode, replayPath)
			case modeShadowLive:
				exitCode = runLive(cfg, jrnl, logger)
			}
			return nil
		},
	}
	root.Flags().StringVar(&mode, "mode", modeShadow, "run mode: shadow, replay, shadow-live, paper-exec")
	root.Flags().StringVar(&configPath, "config", "", "path to engine config YAML (required)")
	root.Flags().StringVar(&replayPath, "replay", "", "path to a journal file to replay (required for shadow, replay, paper-exec)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(argError); ok {
			return 2
		}
		return 1
	}
	return exitCode
}

// validateArgs enforces spec.md §6's flag requirements before anything is
// constructed: --config is always required, --replay is required for the
// three replay-driven modes, and shadow-live refuses to run under a test
// context (it is the only mode that opens live network connections).
func validateArgs(mode, configPath, replayPath string) error {
	switch mode {
	case modeShadow, modeReplay, modeShadowLive, modePaperExec:
	default:
		return fmt.Errorf("--mode must be one of shadow, replay, shadow-live, paper-exec (got %q)", mode)
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	switch mode {
	case modeShadow, modeReplay, modePaperExec:
		if replayPath == "" {
			return fmt.Errorf("--replay is required for --mode %s", mode)
		}
	case modeShadowLive:
		if testing.Testing() {
			return fmt.Errorf("refusing to run --mode shadow-live under a test context")
		}
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runReplay drives shadow, replay and paper-exec modes from a journaled
// file with no live connectors, per runner.Replay's determinism guarantee.
func runReplay(cfg *config.Config, jrnl *journal.Writer, logger *slog.Logger, mode, replayPath string) int {
	execMode := map[string]runner.ExecMode{
		modeReplay:    runner.ExecOff,
		modeShadow:    runner.ExecShadow,
		modePaperExec: runner.ExecPaper,
	}[mode]

	r, err := runner.NewReplay(cfg, jrnl, logger, execMode)
	if err != nil {
		logger.Error("construct replay runner", "error", err)
		return 1
	}

	logger.Info("replaying journal", "mode", mode, "path", replayPath)
	if err := r.Replay(replayPath); err != nil {
		logger.Error("replay failed", "error", err)
		return 1
	}
	logger.Info("replay complete")
	return 0
}

// runLive drives shadow-live mode against real Binance/Bybit WebSocket
// feeds until a SIGINT/SIGTERM arrives.
func runLive(cfg *config.Config, jrnl *journal.Writer, logger *slog.Logger) int {
	feeds := map[types.Venue]connectors.Feed{
		types.Binance: connectors.NewBinanceFeed(cfg.Live.BinanceWS, cfg.Live.BinanceREST, cfg.Symbols.Leader, cfg.Live.BinanceDepth, logger),
		types.Bybit:   connectors.NewBybitFeed(cfg.Live.BybitWS, cfg.Symbols.Leader, cfg.Live.BybitDepth, logger),
	}

	r, err := runner.New(cfg, feeds, jrnl, logger, runner.ExecShadow)
	if err != nil {
		logger.Error("construct live runner", "error", err)
		return 1
	}

	r.Start()
	logger.Info("sublimine-ids started", "mode", modeShadowLive, "leader", cfg.Symbols.Leader)

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, r, r.Bus(), logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Warn("dashboard server shutdown error", "error", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() { r.Stop(); close(done) }()
	select {
	case <-done:
	case <-stopCtx.Done():
		logger.Warn("shutdown timed out waiting for runner to stop")
	}
	return 0
}
