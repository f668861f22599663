// Package recovery executes category-specific recovery procedures for
// classified errors.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/core/events"
	"github.com/vietddude/faultline/internal/metrics"
)

// Degraded modes requested from the FallbackManager.
const (
	ModePollingTransport   = "polling_transport"
	ModeSecondaryTransport = "secondary_transport"
	ModeBatch              = "batch_mode"
	ModeSafe               = "safe_mode"
)

// Config tunes the strategy layer.
type Config struct {
	MaxHistoryPerError int
	EscalationWindow   time.Duration
	EscalationCap      int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistoryPerError: 10,
		EscalationWindow:   5 * time.Minute,
		EscalationCap:      5,
	}
}

// Strategies selects and runs one recovery procedure per failure domain.
// ExecuteRecovery never returns an error: every internal failure is converted
// into a failed RecoveryResult with a message.
type Strategies struct {
	cfg    Config
	collab Collaborators
	bus    *events.Bus
	log    *slog.Logger
	hist   *escalationHistory
}

// NewStrategies creates the strategy layer. Nil collaborator fields are
// replaced with null objects; bus may be nil.
func NewStrategies(cfg Config, collab Collaborators, bus *events.Bus, log *slog.Logger) *Strategies {
	if log == nil {
		log = slog.Default()
	}
	return &Strategies{
		cfg:    cfg,
		collab: collab.withDefaults(),
		bus:    bus,
		log:    log,
		hist:   newEscalationHistory(cfg.MaxHistoryPerError, cfg.EscalationWindow, cfg.EscalationCap),
	}
}

// ExecuteRecovery dispatches on the error's failure domain and returns the
// attempt's result.
func (s *Strategies) ExecuteRecovery(ctx context.Context, e *domain.ClassifiedError) (result *domain.RecoveryResult) {
	start := time.Now()

	// Contract: always resolve. A panicking collaborator becomes a failed
	// result, not an escaping panic.
	defer func() {
		if r := recover(); r != nil {
			result = &domain.RecoveryResult{
				Success:  false,
				Strategy: e.RecoveryStrategy,
				Action:   "aborted",
				Message:  fmt.Sprintf("recovery panicked: %v", r),
			}
		}
		result.Strategy = e.RecoveryStrategy
		result.Duration = time.Since(start)
		result.Timestamp = time.Now()
		if !result.Success && result.Message == "" {
			result.Message = "recovery failed"
		}

		s.hist.record(e.ID, result)

		outcome := "failure"
		if result.Success {
			outcome = "success"
		}
		metrics.RecoveryAttempts.WithLabelValues(result.Strategy, outcome).Inc()
		metrics.RecoveryDuration.WithLabelValues(result.Strategy).Observe(result.Duration.Seconds())

		s.log.Debug("recovery attempt finished",
			"id", e.ID,
			"strategy", result.Strategy,
			"success", result.Success,
			"action", result.Action,
			"duration", result.Duration,
		)
		s.bus.Publish(events.TopicRecoveryCompleted, events.RecoveryCompleted{Error: e, Result: result})
	}()

	s.bus.Publish(events.TopicRecoveryStarted, events.RecoveryStarted{Error: e, Strategy: e.RecoveryStrategy})

	switch e.Category.Group() {
	case domain.GroupNetwork:
		return s.recoverNetwork(ctx, e)
	case domain.GroupWebsocket:
		return s.recoverWebsocket(ctx, e)
	case domain.GroupAuth:
		return s.recoverAuth(ctx, e)
	case domain.GroupAPI:
		return s.recoverAPI(ctx, e)
	case domain.GroupTranscription:
		return s.recoverTranscription(ctx, e)
	case domain.GroupResource:
		return s.recoverResource(ctx, e)
	case domain.GroupData:
		return s.recoverData(ctx, e)
	case domain.GroupSystem:
		return s.recoverSystem(ctx, e)
	default:
		return s.recoverGeneric(ctx, e)
	}
}

// EscalationLevel returns the count of recent failed attempts for an error
// id, capped at the configured ceiling.
func (s *Strategies) EscalationLevel(errorID string) int {
	return s.hist.escalationLevel(errorID)
}

// History returns a copy of the bounded recovery history for an error id.
func (s *Strategies) History(errorID string) []*domain.RecoveryResult {
	return s.hist.results(errorID)
}

// recoverNetwork checks connection quality, retries the reconnect with
// backoff, and falls back to the polling transport when reconnects keep
// failing. At escalation level 3+ the retry step is skipped: the transport is
// already suspect.
func (s *Strategies) recoverNetwork(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	if s.hist.escalationLevel(e.ID) >= 3 {
		return s.activateFallback(ctx, e, ModePollingTransport, "repeated network failures")
	}

	if q, err := s.collab.Monitor.Quality(ctx); err == nil && q >= 0.8 {
		// Link looks fine; a single reconnect is enough.
		if err := s.collab.Monitor.Reconnect(ctx); err == nil {
			s.deactivateFallback(ctx, ModePollingTransport)
			return &domain.RecoveryResult{Success: true, Action: "reconnected", Message: "connection re-established"}
		}
	}

	attempts, err := s.collab.Retry.Do(ctx, s.collab.Monitor.Reconnect)
	if err == nil {
		s.deactivateFallback(ctx, ModePollingTransport)
		return &domain.RecoveryResult{
			Success:    true,
			Action:     "reconnected_with_backoff",
			RetryCount: attempts,
			Message:    "connection re-established after backoff",
		}
	}

	res := s.activateFallback(ctx, e, ModePollingTransport, "reconnect exhausted")
	res.RetryCount = attempts
	return res
}

// recoverWebsocket switches transport immediately on schema errors (a schema
// mismatch recurs on every retry) and otherwise reconnects with backoff.
func (s *Strategies) recoverWebsocket(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	if e.Category == domain.CategoryWebsocketSchema || s.hist.escalationLevel(e.ID) >= 3 {
		return s.activateFallback(ctx, e, ModeSecondaryTransport, "websocket schema mismatch")
	}

	attempts, err := s.collab.Retry.Do(ctx, s.collab.Monitor.Reconnect)
	if err == nil {
		s.deactivateFallback(ctx, ModeSecondaryTransport)
		return &domain.RecoveryResult{
			Success:    true,
			Action:     "websocket_reconnected",
			RetryCount: attempts,
			Message:    "websocket session re-established",
		}
	}

	res := s.activateFallback(ctx, e, ModeSecondaryTransport, "websocket reconnect exhausted")
	res.RetryCount = attempts
	return res
}

// recoverAuth refreshes the token and replays the interrupted work. A failed
// refresh is terminal: the user has to re-authenticate, retrying would not
// help.
func (s *Strategies) recoverAuth(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	if e.Category == domain.CategoryAuthPermissionDenied {
		s.collab.Notifier.Notify(ctx, "Permission denied. Check account access.")
		return &domain.RecoveryResult{
			Success: false,
			Action:  "permission_denied",
			Message: "permission denied is not recoverable automatically",
		}
	}

	if err := s.collab.Tokens.Refresh(ctx); err != nil {
		s.collab.Notifier.Notify(ctx, "Please sign in again.")
		return &domain.RecoveryResult{
			Success: false,
			Action:  "reauth_required",
			Message: fmt.Sprintf("token refresh failed: %v", err),
		}
	}

	replayed, err := s.collab.Replay.ReplayPending(ctx, e.Context.SessionID)
	if err != nil {
		return &domain.RecoveryResult{
			Success: false,
			Action:  "token_refreshed",
			Message: fmt.Sprintf("token refreshed but replay failed: %v", err),
		}
	}
	return &domain.RecoveryResult{
		Success: true,
		Action:  "token_refreshed",
		Message: fmt.Sprintf("token refreshed, %d operations replayed", replayed),
	}
}

// recoverAPI backs off on rate limits, degrades to batch mode on exhausted
// quota (retrying would not help), and probes an unavailable service through
// the circuit breaker.
func (s *Strategies) recoverAPI(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	switch e.Category {
	case domain.CategoryAPIQuotaExceeded:
		res := s.activateFallback(ctx, e, ModeBatch, "quota exhausted")
		if res.Success {
			s.collab.Notifier.Notify(ctx, "Usage limit reached. Requests are now batched.")
			res.Message = "degraded to batch mode until quota resets"
		}
		return res

	case domain.CategoryAPIServiceUnavailable:
		if !s.collab.Breaker.Allow("api") {
			return &domain.RecoveryResult{
				Success: false,
				Action:  "breaker_open",
				Message: "circuit breaker open for api",
			}
		}
		attempts, err := s.collab.Retry.Do(ctx, func(ctx context.Context) error {
			n, err := s.collab.Replay.ReplayPending(ctx, e.Context.SessionID)
			if err == nil && n >= 0 {
				return nil
			}
			return err
		})
		if err != nil {
			s.collab.Breaker.ReportFailure("api")
			return &domain.RecoveryResult{
				Success:    false,
				Action:     "service_probe",
				RetryCount: attempts,
				Message:    fmt.Sprintf("service still unavailable: %v", err),
			}
		}
		s.collab.Breaker.ReportSuccess("api")
		return &domain.RecoveryResult{
			Success:    true,
			Action:     "service_recovered",
			RetryCount: attempts,
			Message:    "service reachable again, pending work replayed",
		}

	default: // rate limit, invalid response
		attempts, err := s.collab.Retry.Do(ctx, func(ctx context.Context) error {
			_, err := s.collab.Replay.ReplayPending(ctx, e.Context.SessionID)
			return err
		})
		if err != nil {
			return &domain.RecoveryResult{
				Success:    false,
				Action:     "backoff_retry",
				RetryCount: attempts,
				Message:    fmt.Sprintf("retry after backoff failed: %v", err),
			}
		}
		return &domain.RecoveryResult{
			Success:    true,
			Action:     "backoff_retry",
			RetryCount: attempts,
			Message:    "request succeeded after backoff",
		}
	}
}

// recoverTranscription restarts the recognizer stream and reconciles the
// transcript so no confirmed text is lost.
func (s *Strategies) recoverTranscription(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	if e.Category == domain.CategoryTranscriptionSync {
		if err := s.collab.Reconciler.Reconcile(ctx, e.Context.SessionID); err != nil {
			return &domain.RecoveryResult{
				Success: false,
				Action:  "transcript_reconcile",
				Message: fmt.Sprintf("reconciliation failed: %v", err),
			}
		}
		return &domain.RecoveryResult{
			Success: true,
			Action:  "transcript_reconcile",
			Message: "transcript reconciled with replay buffer",
		}
	}

	attempts, err := s.collab.Retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.collab.Replay.ReplayPending(ctx, e.Context.SessionID)
		return err
	})
	if err != nil {
		res := s.activateFallback(ctx, e, ModeBatch, "recognizer restart exhausted")
		res.RetryCount = attempts
		return res
	}

	// Quality degradation does not require reconciliation, a restart is
	// enough.
	if e.Category != domain.CategoryTranscriptionQuality {
		if err := s.collab.Reconciler.Reconcile(ctx, e.Context.SessionID); err != nil {
			return &domain.RecoveryResult{
				Success:    false,
				Action:     "recognizer_restarted",
				RetryCount: attempts,
				Message:    fmt.Sprintf("recognizer restarted but reconciliation failed: %v", err),
			}
		}
	}
	return &domain.RecoveryResult{
		Success:    true,
		Action:     "recognizer_restarted",
		RetryCount: attempts,
		Message:    "transcription session restored",
	}
}

// recoverResource performs local cleanup. The action itself (not its effect)
// is what is being performed, so it always reports success.
func (s *Strategies) recoverResource(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	kind := "cpu"
	switch e.Category {
	case domain.CategoryResourceMemory:
		kind = "memory"
	case domain.CategoryResourceStorage:
		kind = "storage"
	}

	action := s.collab.Reclaimer.Reclaim(ctx, kind)
	return &domain.RecoveryResult{
		Success: true,
		Action:  "resource_cleanup",
		Message: action,
	}
}

// recoverData rebuilds damaged state from the replay buffer.
func (s *Strategies) recoverData(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	if e.Category == domain.CategoryDataCorruption || e.Category == domain.CategoryDataLoss {
		if _, err := s.collab.Replay.ReplayPending(ctx, e.Context.SessionID); err != nil {
			return &domain.RecoveryResult{
				Success: false,
				Action:  "rebuild_from_replay",
				Message: fmt.Sprintf("replay unavailable: %v", err),
			}
		}
	}

	if err := s.collab.Reconciler.Reconcile(ctx, e.Context.SessionID); err != nil {
		return &domain.RecoveryResult{
			Success: false,
			Action:  "rebuild_from_replay",
			Message: fmt.Sprintf("reconciliation failed: %v", err),
		}
	}
	return &domain.RecoveryResult{
		Success: true,
		Action:  "rebuild_from_replay",
		Message: "data reconciled against replay buffer",
	}
}

// recoverSystem puts the app into safe mode for initialization faults and
// surfaces configuration problems, which need a human.
func (s *Strategies) recoverSystem(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	switch e.Category {
	case domain.CategorySystemConfiguration:
		s.collab.Notifier.Notify(ctx, "A configuration problem needs attention.")
		return &domain.RecoveryResult{
			Success: false,
			Action:  "manual_intervention",
			Message: "configuration errors require manual intervention",
		}

	case domain.CategorySystemInitialization:
		res := s.activateFallback(ctx, e, ModeSafe, "component failed to initialize")
		if res.Success {
			res.Message = "running in safe mode while the component restarts"
		}
		return res

	default: // dependency
		attempts, err := s.collab.Retry.Do(ctx, func(ctx context.Context) error {
			_, err := s.collab.Replay.ReplayPending(ctx, e.Context.SessionID)
			return err
		})
		if err != nil {
			return &domain.RecoveryResult{
				Success:    false,
				Action:     "dependency_reload",
				RetryCount: attempts,
				Message:    fmt.Sprintf("dependency still unavailable: %v", err),
			}
		}
		return &domain.RecoveryResult{
			Success:    true,
			Action:     "dependency_reload",
			RetryCount: attempts,
			Message:    "dependency recovered",
		}
	}
}

// recoverGeneric replays the interrupted operation once with backoff.
func (s *Strategies) recoverGeneric(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	attempts, err := s.collab.Retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.collab.Replay.ReplayPending(ctx, e.Context.SessionID)
		return err
	})
	if err != nil {
		return &domain.RecoveryResult{
			Success:    false,
			Action:     "generic_retry",
			RetryCount: attempts,
			Message:    fmt.Sprintf("retry failed: %v", err),
		}
	}
	return &domain.RecoveryResult{
		Success:    true,
		Action:     "generic_retry",
		RetryCount: attempts,
		Message:    "operation replayed",
	}
}

// deactivateFallback clears a degraded mode once the primary path works
// again. ErrNotConfigured just means no manager is wired.
func (s *Strategies) deactivateFallback(ctx context.Context, mode string) {
	if err := s.collab.Fallback.Deactivate(ctx, mode); err != nil && !errors.Is(err, ErrNotConfigured) {
		s.log.Warn("failed to deactivate fallback mode", "mode", mode, "error", err)
	}
}

func (s *Strategies) activateFallback(ctx context.Context, e *domain.ClassifiedError, mode, reason string) *domain.RecoveryResult {
	if err := s.collab.Fallback.Activate(ctx, mode); err != nil {
		return &domain.RecoveryResult{
			Success: false,
			Action:  "fallback_" + mode,
			Message: fmt.Sprintf("fallback %s unavailable (%s): %v", mode, reason, err),
		}
	}
	s.bus.Publish(events.TopicFallback, events.FallbackTriggered{Error: e, Reason: reason})
	return &domain.RecoveryResult{
		Success:           true,
		Action:            "fallback_" + mode,
		FallbackActivated: true,
		Message:           fmt.Sprintf("activated %s (%s)", mode, reason),
	}
}
