package events

import (
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// ErrorDetected is published once per classification, before any handling.
type ErrorDetected struct {
	Error *domain.ClassifiedError
}

// ErrorHandling is published when handling of a classified error begins.
type ErrorHandling struct {
	Error *domain.ClassifiedError
}

// ErrorHandled is published after handling, with the recovery outcome if a
// strategy ran.
type ErrorHandled struct {
	Error  *domain.ClassifiedError
	Result *domain.RecoveryResult
}

// CircuitBreakerTriggered signals that a collaborator-owned breaker should
// open. The breaker owns its own state machine; this is advisory.
type CircuitBreakerTriggered struct {
	Error  *domain.ClassifiedError
	Reason string
}

// FallbackTriggered signals that a degraded transport/mode should activate.
type FallbackTriggered struct {
	Error  *domain.ClassifiedError
	Reason string
}

// RecoveryStarted is published when a strategy begins executing.
type RecoveryStarted struct {
	Error    *domain.ClassifiedError
	Strategy string
}

// RecoveryCompleted is published with the result of every recovery attempt,
// live or retroactive.
type RecoveryCompleted struct {
	Error  *domain.ClassifiedError
	Result *domain.RecoveryResult
}

// RetroStarted is published when a retroactive pass begins.
type RetroStarted struct {
	Candidates int
	StartedAt  time.Time
}

// RetroCompleted is published when a retroactive pass finishes.
type RetroCompleted struct {
	Processed int
	Recovered int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// RetroFailed is published when a retroactive pass aborts.
type RetroFailed struct {
	Err error
}

// SilentFailuresDetected is published after each WAL scan.
type SilentFailuresDetected struct {
	Count   int
	Entries []*domain.LogEntry
}

// BatchStarted and BatchCompleted bracket each retroactive batch, enabling
// progress observation without blocking the caller.
type BatchStarted struct {
	BatchIndex int
	BatchSize  int
	Total      int
}

type BatchCompleted struct {
	BatchIndex int
	Recovered  int
	Failed     int
	Skipped    int
}

// AlertTriggered is published when a rule condition becomes true.
type AlertTriggered struct {
	Alert domain.ActiveAlert
}

// AlertResolved is published when a previously active rule no longer holds.
type AlertResolved struct {
	Alert domain.ActiveAlert
}

// DashboardUpdated carries the latest snapshot on each refresh tick.
type DashboardUpdated struct {
	Snapshot domain.DashboardSnapshot
}

// PatternsDetected carries the result of a pattern detection cycle.
type PatternsDetected struct {
	Patterns []domain.Pattern
}
