// Package classify turns raw failures into ClassifiedErrors and drives their
// handling.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/core/events"
	"github.com/vietddude/faultline/internal/metrics"
)

// Config tunes the handler.
type Config struct {
	MaxHistory         int
	BreakerOccurrences int
	AutoRecover        bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistory:         100,
		BreakerOccurrences: 5,
		AutoRecover:        true,
	}
}

// RecoveryExecutor runs a recovery strategy for a classified error. It never
// returns an error; failures are reported inside the result.
type RecoveryExecutor interface {
	ExecuteRecovery(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult
}

// Stats summarizes recent classification activity.
type Stats struct {
	Total           int     `json:"total"`
	LastMinute      int     `json:"last_minute"`
	LastFiveMinutes int     `json:"last_five_minutes"`
	CriticalRecent  int     `json:"critical_recent"`
	RatePerMinute   float64 `json:"rate_per_minute"`
}

// Handler classifies raw errors with an ordered rule list and dispatches
// recovery. Classification itself cannot fail: the catch-all rule guarantees
// every error gets exactly one category and severity.
type Handler struct {
	cfg  Config
	bus  *events.Bus
	exec RecoveryExecutor
	log  *slog.Logger

	mu          sync.Mutex
	rules       []Rule
	history     []*domain.ClassifiedError
	occurrences map[string]int
}

// NewHandler creates a handler with the built-in rules. bus and exec may be
// nil; a nil exec makes HandleError report false without attempting recovery.
func NewHandler(cfg Config, bus *events.Bus, exec RecoveryExecutor, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}
	if cfg.BreakerOccurrences <= 0 {
		cfg.BreakerOccurrences = 5
	}
	return &Handler{
		cfg:         cfg,
		bus:         bus,
		exec:        exec,
		log:         log,
		rules:       builtinRules(),
		occurrences: make(map[string]int),
	}
}

// AddRule appends a custom rule after the built-ins. Built-in rules therefore
// always take precedence; a custom rule can only match errors no built-in
// rule claims. The catch-all still runs last.
func (h *Handler) AddRule(r Rule) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rules = append(h.rules, r)
}

// DetectAndClassify classifies a raw error. It never fails: a nil error is
// normalized and the catch-all rule matches anything the rule list misses.
func (h *Handler) DetectAndClassify(err error, ctx domain.ErrorContext) *domain.ClassifiedError {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}

	h.mu.Lock()
	rule := catchAllRule
	for _, r := range h.rules {
		if r.Match(err, ctx) {
			rule = r
			break
		}
	}

	name := errorName(err)
	id := domain.Signature(name, err.Error(), ctx.Component, ctx.Operation)
	h.occurrences[id]++

	classified := &domain.ClassifiedError{
		ID:               id,
		Name:             name,
		Message:          err.Error(),
		Category:         rule.Category,
		Severity:         rule.Severity,
		Context:          ctx,
		IsRetryable:      rule.Retryable,
		SuggestedAction:  rule.SuggestedAction,
		RecoveryStrategy: rule.Strategy,
		UserMessage:      rule.UserMessage,
		OccurrenceCount:  h.occurrences[id],
	}

	h.history = append(h.history, classified)
	if len(h.history) > h.cfg.MaxHistory {
		h.history = h.history[1:]
	}
	h.mu.Unlock()

	metrics.ErrorsClassified.WithLabelValues(string(classified.Category), string(classified.Severity)).Inc()
	h.log.Debug("error classified",
		"id", classified.ID,
		"category", classified.Category,
		"severity", classified.Severity,
		"rule", rule.Name,
		"occurrences", classified.OccurrenceCount,
	)

	h.bus.Publish(events.TopicErrorDetected, events.ErrorDetected{Error: classified})
	return classified
}

// HandleError drives recovery for a classified error and reports whether the
// strategy succeeded. Recovery failures are surfaced via events, never
// returned as errors.
func (h *Handler) HandleError(ctx context.Context, e *domain.ClassifiedError) bool {
	if e == nil {
		return false
	}

	h.bus.Publish(events.TopicErrorHandling, events.ErrorHandling{Error: e})

	if reason, ok := h.shouldTriggerCircuitBreaker(e); ok {
		h.log.Warn("circuit breaker signal", "id", e.ID, "reason", reason)
		h.bus.Publish(events.TopicCircuitBreaker, events.CircuitBreakerTriggered{Error: e, Reason: reason})
	}
	if reason, ok := h.shouldTriggerFallback(e); ok {
		h.log.Warn("fallback signal", "id", e.ID, "reason", reason)
		h.bus.Publish(events.TopicFallback, events.FallbackTriggered{Error: e, Reason: reason})
	}

	if !h.cfg.AutoRecover || h.exec == nil || e.RecoveryStrategy == "" {
		h.bus.Publish(events.TopicErrorHandled, events.ErrorHandled{Error: e})
		return false
	}

	result := h.exec.ExecuteRecovery(ctx, e)
	h.bus.Publish(events.TopicErrorHandled, events.ErrorHandled{Error: e, Result: result})
	return result != nil && result.Success
}

// shouldTriggerCircuitBreaker reports whether this error should open the
// collaborator-owned circuit breaker: critical severity, an unavailable
// service, or too many recurrences of the same signature.
func (h *Handler) shouldTriggerCircuitBreaker(e *domain.ClassifiedError) (string, bool) {
	switch {
	case e.Severity == domain.SeverityCritical:
		return "critical severity", true
	case e.Category == domain.CategoryAPIServiceUnavailable:
		return "service unavailable", true
	case e.OccurrenceCount >= h.cfg.BreakerOccurrences:
		return fmt.Sprintf("occurrence count %d", e.OccurrenceCount), true
	}
	return "", false
}

// shouldTriggerFallback reports whether the degraded transport/mode should
// activate for this category.
func (h *Handler) shouldTriggerFallback(e *domain.ClassifiedError) (string, bool) {
	switch e.Category {
	case domain.CategoryWebsocketSchema, domain.CategoryNetworkConnection, domain.CategoryTranscriptionService:
		return string(e.Category), true
	}
	return "", false
}

// History returns a copy of the bounded classification history, oldest first.
func (h *Handler) History() []*domain.ClassifiedError {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*domain.ClassifiedError, len(h.history))
	copy(out, h.history)
	return out
}

// Occurrences returns how many times the given error signature has been
// classified.
func (h *Handler) Occurrences(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.occurrences[id]
}

// AllOccurrences returns a copy of the per-signature occurrence counts.
func (h *Handler) AllOccurrences() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.occurrences))
	for k, v := range h.occurrences {
		out[k] = v
	}
	return out
}

// Stats computes rate statistics over the retained history.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	s := Stats{Total: len(h.history)}
	for _, e := range h.history {
		age := now.Sub(e.Context.Timestamp)
		if age <= time.Minute {
			s.LastMinute++
		}
		if age <= 5*time.Minute {
			s.LastFiveMinutes++
			if e.Severity == domain.SeverityCritical {
				s.CriticalRecent++
			}
		}
	}
	s.RatePerMinute = float64(s.LastFiveMinutes) / 5
	return s
}

func errorName(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimPrefix(name, "*")
	if name == "errors.errorString" || name == "fmt.wrapError" {
		return "Error"
	}
	return name
}
