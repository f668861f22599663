// Package health exposes the operational state of the error pipeline over
// HTTP: liveness, detailed status, the dashboard, and the recovery controls.
package health

import (
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// Status is the coarse service status reported on /health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Report is the detailed health view returned by /health/detailed.
type Report struct {
	Status      Status               `json:"status"`
	CheckedAt   time.Time            `json:"checked_at"`
	Errors      ErrorStats           `json:"errors"`
	WAL         domain.WALInfo       `json:"wal"`
	Telemetry   domain.HealthStatus  `json:"telemetry"`
	Alerts      []domain.ActiveAlert `json:"active_alerts"`
	Occurrences map[string]int       `json:"occurrences,omitempty"`
}

// ErrorStats summarizes recent classification activity.
type ErrorStats struct {
	Total           int     `json:"total"`
	LastMinute      int     `json:"last_minute"`
	LastFiveMinutes int     `json:"last_five_minutes"`
	CriticalRecent  int     `json:"critical_recent"`
	RatePerMinute   float64 `json:"rate_per_minute"`
}
