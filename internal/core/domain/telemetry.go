package domain

import "time"

// Metric is the per-error telemetry record collected on every classification.
type Metric struct {
	Timestamp         time.Time     `json:"timestamp"`
	ErrorID           string        `json:"error_id"`
	Category          Category      `json:"category"`
	Severity          Severity      `json:"severity"`
	Operation         string        `json:"operation"`
	SessionID         string        `json:"session_id"`
	RecoveryAttempted bool          `json:"recovery_attempted"`
	RecoverySuccess   bool          `json:"recovery_success"`
	RecoveryDuration  time.Duration `json:"recovery_duration,omitempty"`
	SilentFailure     bool          `json:"silent_failure,omitempty"`
}

// WindowStats is the aggregate for one fixed time window. Category and
// severity histograms are ordinal-indexed arrays (see Categories) rather
// than maps so each aggregation tick rebuilds without per-tick allocation.
type WindowStats struct {
	WindowStart       time.Time           `json:"window_start"`
	WindowEnd         time.Time           `json:"window_end"`
	Total             int                 `json:"total"`
	ByCategory        [NumCategories]int  `json:"by_category"`
	BySeverity        [NumSeverities]int  `json:"by_severity"`
	ByOperation       map[string]int      `json:"by_operation"`
	RecoveryAttempts  int                 `json:"recovery_attempts"`
	RecoverySuccesses int                 `json:"recovery_successes"`
	RecoveryRate      float64             `json:"recovery_rate"`
	SilentFailures    int                 `json:"silent_failures"`
	SilentFailureRate float64             `json:"silent_failure_rate"`
	CriticalErrors    int                 `json:"critical_errors"`
	CriticalRate      float64             `json:"critical_rate"`
}

// CategoryEntry flattens one histogram bucket for export.
type CategoryEntry struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
}

// PatternType identifies a detected shape in the error-rate time series.
type PatternType string

const (
	PatternSpike     PatternType = "spike"
	PatternRecurring PatternType = "recurring"
	PatternCascade   PatternType = "cascade"
	PatternAnomaly   PatternType = "anomaly"
)

// Pattern is a detected error pattern. Patterns are derived, recomputed from
// scratch on each detection cycle, and never stored permanently.
type Pattern struct {
	Type               PatternType `json:"type"`
	Category           Category    `json:"category,omitempty"`
	Confidence         float64     `json:"confidence"`
	ErrorCount         int         `json:"error_count"`
	AffectedOperations []string    `json:"affected_operations,omitempty"`
	WindowStart        time.Time   `json:"window_start"`
	WindowEnd          time.Time   `json:"window_end"`
	SuggestedAction    string      `json:"suggested_action"`
}

// AlertRule is static alerting configuration. Zero-value Category matches
// every category; MinSeverity filters below the given rank.
type AlertRule struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Category    Category      `json:"category,omitempty"`
	MinSeverity Severity      `json:"min_severity,omitempty"`
	Threshold   int           `json:"threshold"`
	Window      time.Duration `json:"window"`
	Cooldown    time.Duration `json:"cooldown"`
	Actions     []string      `json:"actions,omitempty"`
	Enabled     bool          `json:"enabled"`
}

// ActiveAlert is a runtime instance of a fired rule. Alerts are
// edge-triggered: created when the rule condition becomes true, removed when
// it no longer holds.
type ActiveAlert struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	RuleName    string    `json:"rule_name"`
	TriggeredAt time.Time `json:"triggered_at"`
	Value       int       `json:"value"`
	Message     string    `json:"message"`
}

// HealthStatus is the coarse three-tier dashboard signal.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// DashboardSnapshot is the UI-facing view assembled on each refresh tick.
type DashboardSnapshot struct {
	GeneratedAt  time.Time     `json:"generated_at"`
	Health       HealthStatus  `json:"health"`
	Current      WindowStats   `json:"current"`
	Patterns     []Pattern     `json:"patterns"`
	ActiveAlerts []ActiveAlert `json:"active_alerts"`
	TotalMetrics int           `json:"total_metrics"`
}
