package config

import (
	"time"

	redisclient "github.com/vietddude/faultline/internal/infra/redis"
	"github.com/vietddude/faultline/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Classify  ClassifyConfig     `yaml:"classify"`
	Recovery  RecoveryConfig     `yaml:"recovery"`
	Retro     RetroConfig        `yaml:"retro"`
	Telemetry TelemetryConfig    `yaml:"telemetry"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ClassifyConfig tunes the error classifier.
type ClassifyConfig struct {
	MaxHistory         int  `yaml:"max_history"`         // bounded classification history (default: 100)
	BreakerOccurrences int  `yaml:"breaker_occurrences"` // occurrence count that trips the breaker signal (default: 5)
	AutoRecover        bool `yaml:"auto_recover"`        // dispatch recovery from HandleError
}

// RecoveryConfig tunes the recovery strategy layer.
type RecoveryConfig struct {
	MaxHistoryPerError int           `yaml:"max_history_per_error"` // per-error result history cap (default: 10)
	EscalationWindow   time.Duration `yaml:"escalation_window"`     // failures inside this window count toward escalation (default: 5m)
	EscalationCap      int           `yaml:"escalation_cap"`        // escalation level ceiling (default: 5)
	MaxRetries         int           `yaml:"max_retries"`           // retry policy attempts (default: 3)
	InitialBackoff     time.Duration `yaml:"initial_backoff"`       // retry policy base delay (default: 500ms)
}

// RetroConfig tunes the retroactive recovery engine.
type RetroConfig struct {
	MaxRetryAttempts       int           `yaml:"max_retry_attempts"`       // per-entry replay cap (default: 3)
	SilentFailureThreshold time.Duration `yaml:"silent_failure_threshold"` // failed-and-stale cutoff (default: 5m)
	MaxWindow              time.Duration `yaml:"max_window"`               // how far back a scan looks (default: 24h)
	MaxErrorsPerBatch      int           `yaml:"max_errors_per_batch"`     // replay batch size (default: 5)
	RetryInterval          time.Duration `yaml:"retry_interval"`           // delay between attempts in a batch (default: 2s)
	ScanInterval           time.Duration `yaml:"scan_interval"`            // periodic scan cadence, 0 disables (default: 10m)
}

// TelemetryConfig tunes aggregation, pattern detection and alerting.
type TelemetryConfig struct {
	MaxMetricsInMemory  int           `yaml:"max_metrics_in_memory"` // raw metric cap (default: 10000)
	AggregationInterval time.Duration `yaml:"aggregation_interval"`  // window size and tick (default: 1m)
	PatternInterval     time.Duration `yaml:"pattern_interval"`      // detection cadence (default: 2m)
	DashboardInterval   time.Duration `yaml:"dashboard_interval"`    // snapshot cadence (default: 30s)
	Lookback            time.Duration `yaml:"lookback"`              // pattern detection window (default: 15m)
}
