package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/core/events"
)

// =============================================================================
// Helpers
// =============================================================================

func testSystem() (*System, *events.Bus) {
	bus := events.NewBus()
	return NewSystem(DefaultConfig(), bus, nil), bus
}

func detected(id string, category domain.Category, severity domain.Severity, ts time.Time) events.ErrorDetected {
	return events.ErrorDetected{Error: &domain.ClassifiedError{
		ID:       id,
		Category: category,
		Severity: severity,
		Context: domain.ErrorContext{
			Timestamp: ts,
			Operation: "send_audio",
			SessionID: "sess-1",
		},
	}}
}

// =============================================================================
// Recording and aggregation
// =============================================================================

func TestSystem_RecordsFromBus(t *testing.T) {
	s, bus := testSystem()

	bus.Publish(events.TopicErrorDetected, detected("a", domain.CategoryNetworkTimeout, domain.SeverityHigh, time.Now()))
	bus.Publish(events.TopicErrorDetected, detected("b", domain.CategoryDataLoss, domain.SeverityCritical, time.Now()))

	if got := s.TotalMetrics(); got != 2 {
		t.Errorf("expected 2 metrics, got %d", got)
	}
}

func TestSystem_RecoveryOutcomeJoinsMetric(t *testing.T) {
	s, bus := testSystem()

	d := detected("a", domain.CategoryNetworkTimeout, domain.SeverityHigh, time.Now())
	bus.Publish(events.TopicErrorDetected, d)
	bus.Publish(events.TopicRecoveryCompleted, events.RecoveryCompleted{
		Error:  d.Error,
		Result: &domain.RecoveryResult{Success: true, Duration: 120 * time.Millisecond},
	})

	metrics := s.Metrics()
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(metrics))
	}
	m := metrics[0]
	if !m.RecoveryAttempted || !m.RecoverySuccess {
		t.Error("recovery outcome not joined onto the metric")
	}
	if m.RecoveryDuration != 120*time.Millisecond {
		t.Errorf("expected recovery duration recorded, got %v", m.RecoveryDuration)
	}
}

func TestSystem_MetricCapKeepsLatest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMetricsInMemory = 3
	s := NewSystem(cfg, nil, nil)

	for i := 0; i < 5; i++ {
		s.recordError(&domain.ClassifiedError{
			ID:       fmt.Sprintf("e-%d", i),
			Category: domain.CategoryNetworkTimeout,
			Severity: domain.SeverityLow,
			Context:  domain.ErrorContext{Timestamp: time.Now()},
		})
	}

	metrics := s.Metrics()
	if len(metrics) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(metrics))
	}
	if metrics[0].ErrorID != "e-2" {
		t.Errorf("expected oldest retained metric e-2, got %s", metrics[0].ErrorID)
	}
}

func TestAggregate_BuildsWindowStats(t *testing.T) {
	s, bus := testSystem()
	now := time.Now().Truncate(time.Minute).Add(10 * time.Second)

	bus.Publish(events.TopicErrorDetected, detected("a", domain.CategoryNetworkTimeout, domain.SeverityHigh, now))
	bus.Publish(events.TopicErrorDetected, detected("b", domain.CategoryNetworkTimeout, domain.SeverityHigh, now))
	bus.Publish(events.TopicErrorDetected, detected("c", domain.CategoryDataLoss, domain.SeverityCritical, now))

	stats := s.Aggregate(now)
	if stats.Total != 3 {
		t.Fatalf("expected 3 in window, got %d", stats.Total)
	}
	if stats.ByCategory[domain.CategoryNetworkTimeout.Index()] != 2 {
		t.Errorf("expected 2 network timeouts, got %d", stats.ByCategory[domain.CategoryNetworkTimeout.Index()])
	}
	if stats.BySeverity[domain.SeverityCritical.Rank()] != 1 {
		t.Errorf("expected 1 critical, got %d", stats.BySeverity[domain.SeverityCritical.Rank()])
	}
	if stats.CriticalErrors != 1 {
		t.Errorf("expected 1 critical error, got %d", stats.CriticalErrors)
	}
	if stats.ByOperation["send_audio"] != 3 {
		t.Errorf("expected all 3 under send_audio, got %d", stats.ByOperation["send_audio"])
	}
}

func TestAggregate_PrunesPastRetention(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	s.recordError(&domain.ClassifiedError{
		ID:       "ancient",
		Category: domain.CategoryNetworkTimeout,
		Severity: domain.SeverityLow,
		Context:  domain.ErrorContext{Timestamp: now.Add(-25 * time.Hour)},
	})
	s.recordError(&domain.ClassifiedError{
		ID:       "fresh",
		Category: domain.CategoryNetworkTimeout,
		Severity: domain.SeverityLow,
		Context:  domain.ErrorContext{Timestamp: now},
	})

	s.Aggregate(now)
	metrics := s.Metrics()
	if len(metrics) != 1 || metrics[0].ErrorID != "fresh" {
		t.Errorf("expected only the fresh metric retained, got %d", len(metrics))
	}
}

func TestAggregate_PrunesErrorIndex(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	// Distinct signatures each leave an index entry. Once their metrics age
	// out, the index must not keep them alive.
	for i := 0; i < 100; i++ {
		s.recordError(&domain.ClassifiedError{
			ID:       fmt.Sprintf("stale-%d", i),
			Category: domain.CategoryNetworkTimeout,
			Severity: domain.SeverityLow,
			Context:  domain.ErrorContext{Timestamp: now.Add(-48 * time.Hour)},
		})
	}
	s.recordError(&domain.ClassifiedError{
		ID:       "fresh",
		Category: domain.CategoryNetworkTimeout,
		Severity: domain.SeverityLow,
		Context:  domain.ErrorContext{Timestamp: now},
	})

	s.Aggregate(now)

	s.mu.Lock()
	indexed := len(s.lastByError)
	_, freshKept := s.lastByError["fresh"]
	s.mu.Unlock()

	if indexed != 1 {
		t.Errorf("expected 1 indexed signature after retention cleanup, got %d", indexed)
	}
	if !freshKept {
		t.Error("fresh signature must survive the cleanup")
	}
}

// =============================================================================
// Health and dashboard
// =============================================================================

func TestHealth_Tiers(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	if got := s.Health(); got != domain.HealthHealthy {
		t.Errorf("empty system should be healthy, got %s", got)
	}

	s.recordError(&domain.ClassifiedError{
		ID: "c1", Category: domain.CategoryDataLoss, Severity: domain.SeverityCritical,
		Context: domain.ErrorContext{Timestamp: now},
	})
	if got := s.Health(); got != domain.HealthWarning {
		t.Errorf("one recent critical should warn, got %s", got)
	}

	for i := 2; i <= 3; i++ {
		s.recordError(&domain.ClassifiedError{
			ID: fmt.Sprintf("c%d", i), Category: domain.CategoryDataLoss, Severity: domain.SeverityCritical,
			Context: domain.ErrorContext{Timestamp: now},
		})
	}
	if got := s.Health(); got != domain.HealthCritical {
		t.Errorf("three recent criticals should be critical, got %s", got)
	}
}

func TestDashboard_Snapshot(t *testing.T) {
	s, bus := testSystem()
	bus.Publish(events.TopicErrorDetected, detected("a", domain.CategoryNetworkTimeout, domain.SeverityHigh, time.Now()))

	snap := s.Dashboard()
	if snap.TotalMetrics != 1 {
		t.Errorf("expected 1 total metric, got %d", snap.TotalMetrics)
	}
	if snap.Health == "" {
		t.Error("snapshot missing health status")
	}
	if snap.GeneratedAt.IsZero() {
		t.Error("snapshot missing timestamp")
	}
}

func TestSystem_SilentFailuresMarkMetrics(t *testing.T) {
	s, bus := testSystem()

	d := detected("a", domain.CategoryTranscriptionService, domain.SeverityCritical, time.Now())
	bus.Publish(events.TopicErrorDetected, d)
	bus.Publish(events.TopicSilentFailures, events.SilentFailuresDetected{
		Count:   1,
		Entries: []*domain.LogEntry{{Error: d.Error}},
	})

	metrics := s.Metrics()
	if len(metrics) != 1 || !metrics[0].SilentFailure {
		t.Error("silent failure flag not applied to metric")
	}
}
