package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every tunable at its documented
// default, for embedding the engine without a config file.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.Classify.AutoRecover = true
	cfg.applyDefaults()
	return &cfg
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Classify.MaxHistory == 0 {
		cfg.Classify.MaxHistory = 100
	}
	if cfg.Classify.BreakerOccurrences == 0 {
		cfg.Classify.BreakerOccurrences = 5
	}

	if cfg.Recovery.MaxHistoryPerError == 0 {
		cfg.Recovery.MaxHistoryPerError = 10
	}
	if cfg.Recovery.EscalationWindow == 0 {
		cfg.Recovery.EscalationWindow = 5 * time.Minute
	}
	if cfg.Recovery.EscalationCap == 0 {
		cfg.Recovery.EscalationCap = 5
	}
	if cfg.Recovery.MaxRetries == 0 {
		cfg.Recovery.MaxRetries = 3
	}
	if cfg.Recovery.InitialBackoff == 0 {
		cfg.Recovery.InitialBackoff = 500 * time.Millisecond
	}

	if cfg.Retro.MaxRetryAttempts == 0 {
		cfg.Retro.MaxRetryAttempts = 3
	}
	if cfg.Retro.SilentFailureThreshold == 0 {
		cfg.Retro.SilentFailureThreshold = 5 * time.Minute
	}
	if cfg.Retro.MaxWindow == 0 {
		cfg.Retro.MaxWindow = 24 * time.Hour
	}
	if cfg.Retro.MaxErrorsPerBatch == 0 {
		cfg.Retro.MaxErrorsPerBatch = 5
	}
	if cfg.Retro.RetryInterval == 0 {
		cfg.Retro.RetryInterval = 2 * time.Second
	}
	if cfg.Retro.ScanInterval == 0 {
		cfg.Retro.ScanInterval = 10 * time.Minute
	}

	if cfg.Telemetry.MaxMetricsInMemory == 0 {
		cfg.Telemetry.MaxMetricsInMemory = 10000
	}
	if cfg.Telemetry.AggregationInterval == 0 {
		cfg.Telemetry.AggregationInterval = time.Minute
	}
	if cfg.Telemetry.PatternInterval == 0 {
		cfg.Telemetry.PatternInterval = 2 * time.Minute
	}
	if cfg.Telemetry.DashboardInterval == 0 {
		cfg.Telemetry.DashboardInterval = 30 * time.Second
	}
	if cfg.Telemetry.Lookback == 0 {
		cfg.Telemetry.Lookback = 15 * time.Minute
	}
}
