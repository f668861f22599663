package recovery

import (
	"context"
	"errors"
	"runtime"
)

// ErrNotConfigured is returned by null collaborators for actions that need a
// real implementation. Strategies convert it into a failed result, never a
// panic.
var ErrNotConfigured = errors.New("collaborator not configured")

// ConnectionMonitor reports transport quality and performs reconnects.
type ConnectionMonitor interface {
	// Quality returns connection quality in [0, 1].
	Quality(ctx context.Context) (float64, error)

	// Reconnect re-establishes the primary transport.
	Reconnect(ctx context.Context) error
}

// CircuitBreaker gates calls to a named downstream. The breaker owns its own
// state machine; strategies only report outcomes.
type CircuitBreaker interface {
	Allow(name string) bool
	ReportSuccess(name string)
	ReportFailure(name string)
}

// RetryPolicy runs an operation with backoff. It returns the number of
// attempts made and the final error, nil on success.
type RetryPolicy interface {
	Do(ctx context.Context, op func(ctx context.Context) error) (attempts int, err error)
}

// FallbackManager switches degraded modes on and off (polling transport,
// batch mode, safe mode).
type FallbackManager interface {
	Activate(ctx context.Context, mode string) error
	Deactivate(ctx context.Context, mode string) error
}

// ReplayEngine re-drives buffered operations for a session after the
// underlying fault is cleared.
type ReplayEngine interface {
	// ReplayPending replays buffered work and returns how many items ran.
	ReplayPending(ctx context.Context, sessionID string) (int, error)
}

// TranscriptReconciler repairs transcript state against the replay buffer.
type TranscriptReconciler interface {
	Reconcile(ctx context.Context, sessionID string) error
}

// TokenSource refreshes authentication material.
type TokenSource interface {
	Refresh(ctx context.Context) error
}

// StatusNotifier surfaces a status line to the user-facing layer.
type StatusNotifier interface {
	Notify(ctx context.Context, message string)
}

// ResourceReclaimer performs local resource cleanup.
type ResourceReclaimer interface {
	// Reclaim frees resources of the given kind (memory, storage, cpu) and
	// returns a description of what it did.
	Reclaim(ctx context.Context, kind string) string
}

// Collaborators bundles the injected infrastructure. Nil fields are replaced
// with null objects so strategies never branch on presence.
type Collaborators struct {
	Monitor    ConnectionMonitor
	Breaker    CircuitBreaker
	Retry      RetryPolicy
	Fallback   FallbackManager
	Replay     ReplayEngine
	Reconciler TranscriptReconciler
	Tokens     TokenSource
	Notifier   StatusNotifier
	Reclaimer  ResourceReclaimer
}

func (c Collaborators) withDefaults() Collaborators {
	if c.Monitor == nil {
		c.Monitor = nopMonitor{}
	}
	if c.Breaker == nil {
		c.Breaker = nopBreaker{}
	}
	if c.Retry == nil {
		c.Retry = singleAttemptPolicy{}
	}
	if c.Fallback == nil {
		c.Fallback = nopFallback{}
	}
	if c.Replay == nil {
		c.Replay = nopReplay{}
	}
	if c.Reconciler == nil {
		c.Reconciler = nopReconciler{}
	}
	if c.Tokens == nil {
		c.Tokens = nopTokens{}
	}
	if c.Notifier == nil {
		c.Notifier = nopNotifier{}
	}
	if c.Reclaimer == nil {
		c.Reclaimer = localReclaimer{}
	}
	return c
}

// Null objects. Actions that cannot be faked report ErrNotConfigured;
// read-only probes return optimistic defaults.

type nopMonitor struct{}

func (nopMonitor) Quality(ctx context.Context) (float64, error) { return 0, ErrNotConfigured }
func (nopMonitor) Reconnect(ctx context.Context) error          { return ErrNotConfigured }

type nopBreaker struct{}

func (nopBreaker) Allow(string) bool    { return true }
func (nopBreaker) ReportSuccess(string) {}
func (nopBreaker) ReportFailure(string) {}

// singleAttemptPolicy runs the operation exactly once.
type singleAttemptPolicy struct{}

func (singleAttemptPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	return 1, op(ctx)
}

type nopFallback struct{}

func (nopFallback) Activate(context.Context, string) error   { return ErrNotConfigured }
func (nopFallback) Deactivate(context.Context, string) error { return ErrNotConfigured }

type nopReplay struct{}

func (nopReplay) ReplayPending(context.Context, string) (int, error) { return 0, ErrNotConfigured }

type nopReconciler struct{}

func (nopReconciler) Reconcile(context.Context, string) error { return ErrNotConfigured }

type nopTokens struct{}

func (nopTokens) Refresh(context.Context) error { return ErrNotConfigured }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) {}

// localReclaimer is the default resource cleanup: it acts on the local
// process, so the action itself always completes.
type localReclaimer struct{}

func (localReclaimer) Reclaim(ctx context.Context, kind string) string {
	switch kind {
	case "memory":
		runtime.GC()
		return "forced garbage collection"
	case "storage":
		return "pruned local caches"
	default:
		return "throttled background work"
	}
}
