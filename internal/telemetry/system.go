// Package telemetry aggregates error metrics, detects patterns in the error
// rate, evaluates alert rules and produces the dashboard view.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/core/events"
)

// Config tunes aggregation, detection and alerting cadence.
type Config struct {
	MaxMetricsInMemory  int
	AggregationInterval time.Duration
	PatternInterval     time.Duration
	DashboardInterval   time.Duration
	Lookback            time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMetricsInMemory:  10000,
		AggregationInterval: time.Minute,
		PatternInterval:     2 * time.Minute,
		DashboardInterval:   30 * time.Second,
		Lookback:            15 * time.Minute,
	}
}

// metricRetention bounds raw metric age independently of the in-memory cap.
const metricRetention = 24 * time.Hour

// System observes classification and recovery events and maintains windowed
// statistics, detected patterns and active alerts. All state is owned by the
// system; readers get copies.
type System struct {
	cfg Config
	bus *events.Bus
	log *slog.Logger

	mu          sync.Mutex
	raw         []*domain.Metric
	lastByError map[string]*domain.Metric
	windows     map[int64]*domain.WindowStats
	patterns    []domain.Pattern
	rules       []domain.AlertRule
	active      map[string]*domain.ActiveAlert
	lastFired   map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	unsubs   []func()
}

// NewSystem creates the telemetry system and subscribes it to the bus.
func NewSystem(cfg Config, bus *events.Bus, log *slog.Logger) *System {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxMetricsInMemory <= 0 {
		cfg.MaxMetricsInMemory = 10000
	}
	if cfg.AggregationInterval <= 0 {
		cfg.AggregationInterval = time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 15 * time.Minute
	}

	s := &System{
		cfg:         cfg,
		bus:         bus,
		log:         log,
		lastByError: make(map[string]*domain.Metric),
		windows:     make(map[int64]*domain.WindowStats),
		rules:       DefaultAlertRules(),
		active:      make(map[string]*domain.ActiveAlert),
		lastFired:   make(map[string]time.Time),
		stop:        make(chan struct{}),
	}

	if bus != nil {
		s.unsubs = append(s.unsubs,
			bus.Subscribe(events.TopicErrorDetected, func(p any) {
				if d, ok := p.(events.ErrorDetected); ok {
					s.recordError(d.Error)
				}
			}),
			bus.Subscribe(events.TopicRecoveryStarted, func(p any) {
				if d, ok := p.(events.RecoveryStarted); ok {
					s.recordRecoveryStarted(d.Error)
				}
			}),
			bus.Subscribe(events.TopicRecoveryCompleted, func(p any) {
				if d, ok := p.(events.RecoveryCompleted); ok {
					s.recordRecoveryCompleted(d.Error, d.Result)
				}
			}),
			bus.Subscribe(events.TopicSilentFailures, func(p any) {
				if d, ok := p.(events.SilentFailuresDetected); ok {
					s.recordSilentFailures(d.Entries)
				}
			}),
		)
	}
	return s
}

// recordError appends one metric per classified error.
func (s *System) recordError(e *domain.ClassifiedError) {
	if e == nil {
		return
	}
	m := &domain.Metric{
		Timestamp: e.Context.Timestamp,
		ErrorID:   e.ID,
		Category:  e.Category,
		Severity:  e.Severity,
		Operation: e.Context.Operation,
		SessionID: e.Context.SessionID,
	}

	s.mu.Lock()
	s.raw = append(s.raw, m)
	if len(s.raw) > s.cfg.MaxMetricsInMemory {
		s.raw = s.raw[len(s.raw)-s.cfg.MaxMetricsInMemory:]
	}
	s.lastByError[e.ID] = m
	s.mu.Unlock()
}

func (s *System) recordRecoveryStarted(e *domain.ClassifiedError) {
	if e == nil {
		return
	}
	s.mu.Lock()
	if m, ok := s.lastByError[e.ID]; ok {
		m.RecoveryAttempted = true
	}
	s.mu.Unlock()
}

func (s *System) recordRecoveryCompleted(e *domain.ClassifiedError, r *domain.RecoveryResult) {
	if e == nil || r == nil {
		return
	}
	s.mu.Lock()
	if m, ok := s.lastByError[e.ID]; ok {
		m.RecoveryAttempted = true
		m.RecoverySuccess = r.Success
		m.RecoveryDuration = r.Duration
	}
	s.mu.Unlock()
}

func (s *System) recordSilentFailures(entries []*domain.LogEntry) {
	s.mu.Lock()
	for _, entry := range entries {
		if m, ok := s.lastByError[entry.Error.ID]; ok {
			m.SilentFailure = true
		}
	}
	s.mu.Unlock()
}

// StartMonitoring launches the aggregation, pattern detection and dashboard
// timers. Each timer owns its own cadence.
func (s *System) StartMonitoring(ctx context.Context) {
	s.startTicker(ctx, s.cfg.AggregationInterval, func() { s.Aggregate(time.Now()) })
	s.startTicker(ctx, s.cfg.PatternInterval, func() { s.DetectPatterns(time.Now()) })
	s.startTicker(ctx, s.cfg.DashboardInterval, func() {
		snap := s.Dashboard()
		s.bus.Publish(events.TopicDashboardUpdated, events.DashboardUpdated{Snapshot: snap})
	})
	// Alerts ride the aggregation cadence.
	s.startTicker(ctx, s.cfg.AggregationInterval, func() { s.EvaluateAlerts(time.Now()) })
}

func (s *System) startTicker(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// StopMonitoring stops the timers and detaches from the bus. In-flight ticks
// complete; collected state is retained.
func (s *System) StopMonitoring() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	for _, unsub := range s.unsubs {
		unsub()
	}
}

// Aggregate recomputes the stats for the window containing now and prunes
// raw metrics and windows past retention. Statistics are windowed snapshots,
// rebuilt from scratch rather than incrementally merged.
func (s *System) Aggregate(now time.Time) domain.WindowStats {
	winStart := now.Truncate(s.cfg.AggregationInterval)
	winEnd := winStart.Add(s.cfg.AggregationInterval)

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := buildWindow(s.raw, winStart, winEnd)
	s.windows[winStart.Unix()] = &stats

	// Retention cleanup
	cutoff := now.Add(-metricRetention)
	firstLive := 0
	for firstLive < len(s.raw) && s.raw[firstLive].Timestamp.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		s.raw = s.raw[firstLive:]
	}
	for key := range s.windows {
		if time.Unix(key, 0).Before(cutoff) {
			delete(s.windows, key)
		}
	}
	// The per-signature index must not outlive the metrics it points at.
	for id, m := range s.lastByError {
		if m.Timestamp.Before(cutoff) {
			delete(s.lastByError, id)
		}
	}
	return stats
}

// buildWindow computes one window snapshot. Category and severity histograms
// use ordinal-indexed arrays, rebuilt per window.
func buildWindow(raw []*domain.Metric, start, end time.Time) domain.WindowStats {
	stats := domain.WindowStats{
		WindowStart: start,
		WindowEnd:   end,
		ByOperation: make(map[string]int),
	}

	for _, m := range raw {
		if m.Timestamp.Before(start) || !m.Timestamp.Before(end) {
			continue
		}
		stats.Total++
		stats.ByCategory[m.Category.Index()]++
		stats.BySeverity[m.Severity.Rank()]++
		if m.Operation != "" {
			stats.ByOperation[m.Operation]++
		}
		if m.RecoveryAttempted {
			stats.RecoveryAttempts++
			if m.RecoverySuccess {
				stats.RecoverySuccesses++
			}
		}
		if m.SilentFailure {
			stats.SilentFailures++
		}
		if m.Severity == domain.SeverityCritical {
			stats.CriticalErrors++
		}
	}

	if stats.RecoveryAttempts > 0 {
		stats.RecoveryRate = float64(stats.RecoverySuccesses) / float64(stats.RecoveryAttempts)
	}
	if stats.Total > 0 {
		stats.SilentFailureRate = float64(stats.SilentFailures) / float64(stats.Total)
		stats.CriticalRate = float64(stats.CriticalErrors) / float64(stats.Total)
	}
	return stats
}

// Windows returns copies of the retained window snapshots keyed by start.
func (s *System) Windows() map[int64]domain.WindowStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]domain.WindowStats, len(s.windows))
	for k, v := range s.windows {
		out[k] = *v
	}
	return out
}

// Health classifies overall health from recent critical errors and the
// recovery success rate. Deliberately coarse: a dashboard signal, not an SLO.
func (s *System) Health() domain.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	criticals := 0
	attempts, successes := 0, 0
	for _, m := range s.raw {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		if m.Severity == domain.SeverityCritical {
			criticals++
		}
		if m.RecoveryAttempted {
			attempts++
			if m.RecoverySuccess {
				successes++
			}
		}
	}

	rate := 1.0
	if attempts > 0 {
		rate = float64(successes) / float64(attempts)
	}

	switch {
	case criticals >= 3 || (attempts >= 5 && rate < 0.3):
		return domain.HealthCritical
	case criticals >= 1 || (attempts >= 5 && rate < 0.7):
		return domain.HealthWarning
	default:
		return domain.HealthHealthy
	}
}

// Dashboard assembles the current snapshot.
func (s *System) Dashboard() domain.DashboardSnapshot {
	health := s.Health()

	s.mu.Lock()
	now := time.Now()
	winStart := now.Truncate(s.cfg.AggregationInterval)
	current := buildWindow(s.raw, winStart, winStart.Add(s.cfg.AggregationInterval))

	patterns := make([]domain.Pattern, len(s.patterns))
	copy(patterns, s.patterns)

	alerts := make([]domain.ActiveAlert, 0, len(s.active))
	for _, a := range s.active {
		alerts = append(alerts, *a)
	}
	total := len(s.raw)
	s.mu.Unlock()

	return domain.DashboardSnapshot{
		GeneratedAt:  now,
		Health:       health,
		Current:      current,
		Patterns:     patterns,
		ActiveAlerts: alerts,
		TotalMetrics: total,
	}
}

// TotalMetrics returns the number of raw metrics currently retained.
func (s *System) TotalMetrics() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.raw)
}

// Metrics returns a copy of the retained raw metrics, oldest first.
func (s *System) Metrics() []domain.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Metric, 0, len(s.raw))
	for _, m := range s.raw {
		out = append(out, *m)
	}
	return out
}

func (s *System) snapshotRecent(lookback time.Duration, now time.Time) []domain.Metric {
	cutoff := now.Add(-lookback)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Metric, 0)
	for _, m := range s.raw {
		if !m.Timestamp.Before(cutoff) {
			out = append(out, *m)
		}
	}
	return out
}
