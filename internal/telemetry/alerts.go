package telemetry

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/core/events"
	"github.com/vietddude/faultline/internal/metrics"
)

// DefaultAlertRules returns the built-in rule set.
func DefaultAlertRules() []domain.AlertRule {
	return []domain.AlertRule{
		{
			ID:          "critical_errors",
			Name:        "Critical errors",
			MinSeverity: domain.SeverityCritical,
			Threshold:   3,
			Window:      5 * time.Minute,
			Cooldown:    5 * time.Minute,
			Actions:     []string{"notify", "dashboard"},
			Enabled:     true,
		},
		{
			ID:        "error_storm",
			Name:      "Error storm",
			Threshold: 20,
			Window:    time.Minute,
			Cooldown:  2 * time.Minute,
			Actions:   []string{"notify", "dashboard"},
			Enabled:   true,
		},
		{
			ID:        "transcription_failures",
			Name:      "Transcription failures",
			Category:  domain.CategoryTranscriptionService,
			Threshold: 3,
			Window:    5 * time.Minute,
			Cooldown:  5 * time.Minute,
			Actions:   []string{"notify"},
			Enabled:   true,
		},
	}
}

// AddRule registers an alert rule.
func (s *System) AddRule(rule domain.AlertRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

// EvaluateAlerts re-evaluates every enabled rule against the current state
// and flips alerts active or inactive. Alerts are edge-triggered; the only
// hysteresis is the rule's own cooldown.
func (s *System) EvaluateAlerts(now time.Time) {
	var triggered, resolved []domain.ActiveAlert

	s.mu.Lock()
	for _, rule := range s.rules {
		if !rule.Enabled {
			continue
		}

		value := s.countMatchingLocked(rule, now)
		active, isActive := s.active[rule.ID]

		switch {
		case value >= rule.Threshold && !isActive:
			if fired, ok := s.lastFired[rule.ID]; ok && now.Sub(fired) < rule.Cooldown {
				continue
			}
			alert := &domain.ActiveAlert{
				ID:          uuid.New().String(),
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				TriggeredAt: now,
				Value:       value,
				Message:     fmt.Sprintf("%s: %d errors in %s (threshold %d)", rule.Name, value, rule.Window, rule.Threshold),
			}
			s.active[rule.ID] = alert
			s.lastFired[rule.ID] = now
			triggered = append(triggered, *alert)

		case value < rule.Threshold && isActive:
			delete(s.active, rule.ID)
			resolved = append(resolved, *active)
		}
	}
	activeCount := len(s.active)
	s.mu.Unlock()

	metrics.ActiveAlerts.Set(float64(activeCount))
	for _, a := range triggered {
		s.log.Warn("alert triggered", "rule", a.RuleID, "value", a.Value)
		s.bus.Publish(events.TopicAlertTriggered, events.AlertTriggered{Alert: a})
	}
	for _, a := range resolved {
		s.log.Info("alert resolved", "rule", a.RuleID)
		s.bus.Publish(events.TopicAlertResolved, events.AlertResolved{Alert: a})
	}
}

// countMatchingLocked counts metrics inside the rule window that pass the
// rule's category and severity filters. Caller holds s.mu.
func (s *System) countMatchingLocked(rule domain.AlertRule, now time.Time) int {
	cutoff := now.Add(-rule.Window)
	count := 0
	for _, m := range s.raw {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		if rule.Category != "" && m.Category != rule.Category {
			continue
		}
		if rule.MinSeverity != "" && m.Severity.Rank() < rule.MinSeverity.Rank() {
			continue
		}
		count++
	}
	return count
}

// ActiveAlerts returns copies of the currently active alerts.
func (s *System) ActiveAlerts() []domain.ActiveAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ActiveAlert, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, *a)
	}
	return out
}
