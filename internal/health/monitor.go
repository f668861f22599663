package health

import (
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/classify"
	"github.com/vietddude/faultline/internal/core/domain"
)

// Classifier is the slice of the error handler the monitor reads.
type Classifier interface {
	Stats() classify.Stats
	AllOccurrences() map[string]int
	History() []*domain.ClassifiedError
}

// WALReader reports write-ahead log state.
type WALReader interface {
	WALInfo() domain.WALInfo
}

// TelemetryReader reports aggregated telemetry state.
type TelemetryReader interface {
	Health() domain.HealthStatus
	ActiveAlerts() []domain.ActiveAlert
}

// Monitor aggregates status from the classifier, the write-ahead log and the
// telemetry system into one report.
type Monitor struct {
	classifier Classifier
	wal        WALReader
	telemetry  TelemetryReader

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a health monitor. Any collaborator may be nil; its
// section of the report is then zero-valued.
func NewMonitor(classifier Classifier, wal WALReader, telemetry TelemetryReader) *Monitor {
	return &Monitor{
		classifier: classifier,
		wal:        wal,
		telemetry:  telemetry,
	}
}

// CheckHealth builds the current report. Checks are rate limited so dashboard
// polling cannot turn into lock contention on the underlying components.
func (m *Monitor) CheckHealth() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 5*time.Second && !m.lastCheck.IsZero() {
		return m.lastReport
	}

	report := Report{
		Status:    StatusHealthy,
		CheckedAt: time.Now(),
		Telemetry: domain.HealthHealthy,
	}

	if m.classifier != nil {
		stats := m.classifier.Stats()
		report.Errors = ErrorStats{
			Total:           stats.Total,
			LastMinute:      stats.LastMinute,
			LastFiveMinutes: stats.LastFiveMinutes,
			CriticalRecent:  stats.CriticalRecent,
			RatePerMinute:   stats.RatePerMinute,
		}
		report.Occurrences = m.classifier.AllOccurrences()
	}
	if m.wal != nil {
		report.WAL = m.wal.WALInfo()
	}
	if m.telemetry != nil {
		report.Telemetry = m.telemetry.Health()
		report.Alerts = m.telemetry.ActiveAlerts()
	}

	report.Status = evaluate(report)

	m.lastCheck = report.CheckedAt
	m.lastReport = report
	return report
}

// RecentErrors returns the classifier's bounded history, oldest first.
func (m *Monitor) RecentErrors() []*domain.ClassifiedError {
	if m.classifier == nil {
		return nil
	}
	return m.classifier.History()
}

// evaluate derives the coarse status. Worst signal wins.
func evaluate(r Report) Status {
	switch {
	case r.Telemetry == domain.HealthCritical,
		r.Errors.CriticalRecent >= 3,
		r.WAL.SilentFailures > 20:
		return StatusCritical
	case r.Telemetry == domain.HealthWarning,
		r.Errors.CriticalRecent >= 1,
		r.WAL.SilentFailures > 0,
		len(r.Alerts) > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
