package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/faultline/internal/classify"
	"github.com/vietddude/faultline/internal/control"
	"github.com/vietddude/faultline/internal/core/config"
	"github.com/vietddude/faultline/internal/recovery"
	"github.com/vietddude/faultline/internal/retro"
	"github.com/vietddude/faultline/internal/telemetry"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "faultline",
	Short: "Faultline error recovery service",
	Long:  `Faultline classifies errors from the transcription pipeline, drives recovery, replays silently failed operations from its write-ahead log, and serves telemetry.`,
	Run:   runService,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func runService(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	// Load Configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	// Initialize Supervisor
	app, err := control.NewSupervisor(controlConfig(cfg))
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start pipeline", "error", err)
		os.Exit(1)
	}

	slog.Info("Faultline started", "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}

// controlConfig maps the file configuration onto the supervisor's wiring
// configuration.
func controlConfig(cfg *config.AppConfig) control.Config {
	retroCfg := retro.DefaultConfig()
	retroCfg.MaxRetryAttempts = cfg.Retro.MaxRetryAttempts
	retroCfg.SilentFailureThreshold = cfg.Retro.SilentFailureThreshold
	retroCfg.MaxWindow = cfg.Retro.MaxWindow
	retroCfg.MaxErrorsPerBatch = cfg.Retro.MaxErrorsPerBatch
	retroCfg.RetryInterval = cfg.Retro.RetryInterval
	retroCfg.ScanInterval = cfg.Retro.ScanInterval

	return control.Config{
		Port: cfg.Server.Port,
		Classify: classify.Config{
			MaxHistory:         cfg.Classify.MaxHistory,
			BreakerOccurrences: cfg.Classify.BreakerOccurrences,
			AutoRecover:        cfg.Classify.AutoRecover,
		},
		Recovery: recovery.Config{
			MaxHistoryPerError: cfg.Recovery.MaxHistoryPerError,
			EscalationWindow:   cfg.Recovery.EscalationWindow,
			EscalationCap:      cfg.Recovery.EscalationCap,
		},
		Retry: control.RetryConfig{
			MaxRetries:     cfg.Recovery.MaxRetries,
			InitialBackoff: cfg.Recovery.InitialBackoff,
		},
		Retro: retroCfg,
		Telemetry: telemetry.Config{
			MaxMetricsInMemory:  cfg.Telemetry.MaxMetricsInMemory,
			AggregationInterval: cfg.Telemetry.AggregationInterval,
			PatternInterval:     cfg.Telemetry.PatternInterval,
			DashboardInterval:   cfg.Telemetry.DashboardInterval,
			Lookback:            cfg.Telemetry.Lookback,
		},
		Redis:    cfg.Redis,
		Database: cfg.Database,
	}
}
