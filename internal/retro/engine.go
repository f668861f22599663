// Package retro persists every classified error into a write-ahead log and
// replays recovery for the ones that failed silently.
package retro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/core/events"
	"github.com/vietddude/faultline/internal/metrics"
)

// ErrRecoveryInProgress is returned when a retroactive pass is started while
// another is in flight. Concurrent passes fail fast, they are never queued.
var ErrRecoveryInProgress = errors.New("retroactive recovery already in progress")

// Config tunes the engine.
type Config struct {
	MaxRetryAttempts       int
	SilentFailureThreshold time.Duration
	MaxWindow              time.Duration
	MaxErrorsPerBatch      int
	RetryInterval          time.Duration
	ScanInterval           time.Duration
	Priorities             []domain.Group
}

// DefaultConfig returns the documented defaults. The priority order reflects
// the product: transcription failures are the core value proposition and are
// replayed first.
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts:       3,
		SilentFailureThreshold: 5 * time.Minute,
		MaxWindow:              24 * time.Hour,
		MaxErrorsPerBatch:      5,
		RetryInterval:          2 * time.Second,
		ScanInterval:           10 * time.Minute,
		Priorities: []domain.Group{
			domain.GroupTranscription,
			domain.GroupWebsocket,
			domain.GroupNetwork,
			domain.GroupAuth,
			domain.GroupAPI,
			domain.GroupData,
			domain.GroupResource,
			domain.GroupSystem,
			domain.GroupUnknown,
		},
	}
}

// Executor re-drives recovery for a WAL entry. Satisfied by
// recovery.Strategies.
type Executor interface {
	ExecuteRecovery(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult
}

// Mirror is the optional durable copy of the WAL. Satisfied by the redis
// client; nil disables mirroring.
type Mirror interface {
	SaveEntry(ctx context.Context, entry *domain.LogEntry) error
	DeleteEntries(ctx context.Context, ids []string) error
	LoadEntries(ctx context.Context) ([]*domain.LogEntry, error)
	Reset(ctx context.Context) error
}

// RunStats summarizes one retroactive pass.
type RunStats struct {
	Candidates int           `json:"candidates"`
	Processed  int           `json:"processed"`
	Recovered  int           `json:"recovered"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// Engine owns the WAL. Entries are created on every classified error, mutated
// in place as recovery is attempted, and removed only by retention cleanup or
// Reset. External readers always receive copies.
type Engine struct {
	cfg    Config
	exec   Executor
	bus    *events.Bus
	mirror Mirror
	log    *slog.Logger

	mu        sync.Mutex
	wal       map[string]*domain.LogEntry // keyed by entry id
	byErrorID map[string]string           // error signature -> entry id

	processing atomic.Bool
	stop       chan struct{}
	stopOnce   sync.Once
	unsubs     []func()
}

// NewEngine creates the engine and subscribes it to classification and
// recovery events on the bus.
func NewEngine(cfg Config, exec Executor, bus *events.Bus, mirror Mirror, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	if cfg.MaxErrorsPerBatch <= 0 {
		cfg.MaxErrorsPerBatch = 5
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = 24 * time.Hour
	}
	if cfg.SilentFailureThreshold <= 0 {
		cfg.SilentFailureThreshold = 5 * time.Minute
	}
	if len(cfg.Priorities) == 0 {
		cfg.Priorities = DefaultConfig().Priorities
	}

	e := &Engine{
		cfg:       cfg,
		exec:      exec,
		bus:       bus,
		mirror:    mirror,
		log:       log,
		wal:       make(map[string]*domain.LogEntry),
		byErrorID: make(map[string]string),
		stop:      make(chan struct{}),
	}

	if bus != nil {
		e.unsubs = append(e.unsubs,
			bus.Subscribe(events.TopicErrorDetected, func(p any) {
				if d, ok := p.(events.ErrorDetected); ok {
					e.Record(d.Error)
				}
			}),
			bus.Subscribe(events.TopicRecoveryCompleted, func(p any) {
				if d, ok := p.(events.RecoveryCompleted); ok {
					e.markOutcome(d.Error, d.Result)
				}
			}),
		)
	}
	return e
}

// Record upserts a WAL entry for a classified error. Recurring errors with
// the same signature update their existing entry instead of growing the log.
func (e *Engine) Record(classified *domain.ClassifiedError) {
	if classified == nil {
		return
	}

	e.mu.Lock()
	entryID, ok := e.byErrorID[classified.ID]
	var entry *domain.LogEntry
	if ok {
		entry = e.wal[entryID]
		entry.Timestamp = classified.Context.Timestamp
		entry.Error = classified
	} else {
		entry = &domain.LogEntry{
			ID:        uuid.New().String(),
			Timestamp: classified.Context.Timestamp,
			Error:     classified,
			Metadata: domain.EntryMetadata{
				SessionID: classified.Context.SessionID,
				Operation: classified.Context.Operation,
			},
		}
		e.wal[entry.ID] = entry
		e.byErrorID[classified.ID] = entry.ID
	}
	size := len(e.wal)
	snapshot := entry.Clone()
	e.mu.Unlock()

	metrics.WALEntries.Set(float64(size))
	e.saveMirror(snapshot)
}

// markOutcome applies a live recovery result to the error's WAL entry. Only
// retroactive passes touch RetryCount.
func (e *Engine) markOutcome(classified *domain.ClassifiedError, result *domain.RecoveryResult) {
	if classified == nil || result == nil {
		return
	}

	e.mu.Lock()
	entryID, ok := e.byErrorID[classified.ID]
	if !ok {
		e.mu.Unlock()
		return
	}
	entry := e.wal[entryID]
	entry.RecoveryAttempted = true
	if result.Success {
		entry.RecoverySuccess = true
		entry.SilentFailure = false
	}
	// Replay already stamped LastRetryAt under its own lock; only live
	// attempts refresh it here, so staleness is measured from the most
	// recent attempt.
	if !classified.Context.IsRetroactive {
		entry.LastRetryAt = result.Timestamp
	}
	snapshot := entry.Clone()
	e.mu.Unlock()

	e.saveMirror(snapshot)
}

// IsSilentFailure reports whether a WAL entry qualifies as a silent failure
// at the given time: never attempted, attempted-and-failed longer ago than
// the threshold, critical and unrecovered, or a transcription failure that
// never recovered (always worth retrying regardless of age).
func IsSilentFailure(entry *domain.LogEntry, threshold time.Duration, now time.Time) bool {
	if entry.RecoverySuccess {
		return false
	}
	if !entry.RecoveryAttempted {
		return true
	}
	if entry.Error.Severity == domain.SeverityCritical {
		return true
	}
	if entry.Error.Category.Group() == domain.GroupTranscription {
		return true
	}
	return now.Sub(entry.LastRetryAt) > threshold
}

// Run executes one retroactive recovery pass. A second concurrent call fails
// fast with ErrRecoveryInProgress.
func (e *Engine) Run(ctx context.Context) (RunStats, error) {
	return e.run(ctx, nil)
}

// RecoverCategory runs a pass restricted to one category.
func (e *Engine) RecoverCategory(ctx context.Context, category domain.Category) (RunStats, error) {
	return e.run(ctx, func(entry *domain.LogEntry) bool {
		return entry.Error.Category == category
	})
}

func (e *Engine) run(ctx context.Context, filter func(*domain.LogEntry) bool) (RunStats, error) {
	if !e.processing.CompareAndSwap(false, true) {
		return RunStats{}, ErrRecoveryInProgress
	}
	defer e.processing.Store(false)

	start := time.Now()
	candidates := e.collectSilentFailures(start, filter)

	e.bus.Publish(events.TopicSilentFailures, events.SilentFailuresDetected{
		Count:   len(candidates),
		Entries: candidates,
	})
	metrics.SilentFailures.Set(float64(len(candidates)))

	e.bus.Publish(events.TopicRetroStarted, events.RetroStarted{
		Candidates: len(candidates),
		StartedAt:  start,
	})
	e.log.Info("retroactive recovery started", "candidates", len(candidates))

	stats := RunStats{Candidates: len(candidates)}
	batchSize := e.cfg.MaxErrorsPerBatch

	for batchStart, batchIdx := 0, 0; batchStart < len(candidates); batchStart, batchIdx = batchStart+batchSize, batchIdx+1 {
		end := batchStart + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[batchStart:end]

		e.bus.Publish(events.TopicBatchStarted, events.BatchStarted{
			BatchIndex: batchIdx,
			BatchSize:  len(batch),
			Total:      len(candidates),
		})

		recovered, failed, skipped := 0, 0, 0
		for i, entry := range batch {
			if i > 0 {
				// Throttle attempts inside a batch.
				select {
				case <-ctx.Done():
					e.bus.Publish(events.TopicRetroFailed, events.RetroFailed{Err: ctx.Err()})
					metrics.RetroactivePasses.WithLabelValues("aborted").Inc()
					return stats, ctx.Err()
				case <-time.After(e.cfg.RetryInterval):
				}
			}

			switch e.replayEntry(ctx, entry.ID) {
			case replayRecovered:
				recovered++
				stats.Recovered++
				stats.Processed++
			case replayFailed:
				failed++
				stats.Failed++
				stats.Processed++
			case replaySkipped:
				skipped++
				stats.Skipped++
			}
		}

		e.bus.Publish(events.TopicBatchCompleted, events.BatchCompleted{
			BatchIndex: batchIdx,
			Recovered:  recovered,
			Failed:     failed,
			Skipped:    skipped,
		})
	}

	stats.Duration = time.Since(start)
	e.bus.Publish(events.TopicRetroCompleted, events.RetroCompleted{
		Processed: stats.Processed,
		Recovered: stats.Recovered,
		Failed:    stats.Failed,
		Skipped:   stats.Skipped,
		Duration:  stats.Duration,
	})
	metrics.RetroactivePasses.WithLabelValues("completed").Inc()
	e.log.Info("retroactive recovery completed",
		"processed", stats.Processed,
		"recovered", stats.Recovered,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", stats.Duration,
	)
	return stats, nil
}

// collectSilentFailures snapshots qualifying entries inside the scan window,
// marks them silent, and orders them by category priority, severity, then
// recency (newer failures first, they are most likely still relevant).
func (e *Engine) collectSilentFailures(now time.Time, filter func(*domain.LogEntry) bool) []*domain.LogEntry {
	cutoff := now.Add(-e.cfg.MaxWindow)

	prio := make(map[domain.Group]int, len(e.cfg.Priorities))
	for i, g := range e.cfg.Priorities {
		prio[g] = i
	}

	e.mu.Lock()
	candidates := make([]*domain.LogEntry, 0)
	for _, entry := range e.wal {
		if entry.Timestamp.Before(cutoff) {
			continue
		}
		if filter != nil && !filter(entry) {
			continue
		}
		if !IsSilentFailure(entry, e.cfg.SilentFailureThreshold, now) {
			continue
		}
		entry.SilentFailure = true
		candidates = append(candidates, entry.Clone())
	}
	e.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		pa, pb := groupPriority(prio, a), groupPriority(prio, b)
		if pa != pb {
			return pa < pb
		}
		if ra, rb := a.Error.Severity.Rank(), b.Error.Severity.Rank(); ra != rb {
			return ra > rb
		}
		return a.Timestamp.After(b.Timestamp)
	})
	return candidates
}

func groupPriority(prio map[domain.Group]int, entry *domain.LogEntry) int {
	if p, ok := prio[entry.Error.Category.Group()]; ok {
		return p
	}
	return len(prio)
}

type replayOutcome int

const (
	replayRecovered replayOutcome = iota
	replayFailed
	replaySkipped
)

// replayEntry re-drives recovery for one WAL entry. Entries at the retry cap
// are skipped, never reprocessed, and stay visible in WAL introspection.
func (e *Engine) replayEntry(ctx context.Context, entryID string) replayOutcome {
	e.mu.Lock()
	entry, ok := e.wal[entryID]
	if !ok || entry.RecoverySuccess {
		e.mu.Unlock()
		return replaySkipped
	}
	if entry.RetryCount >= e.cfg.MaxRetryAttempts {
		e.mu.Unlock()
		return replaySkipped
	}

	entry.RecoveryAttempted = true
	entry.RetryCount++
	entry.LastRetryAt = time.Now()

	// Relabel the context so downstream consumers can tell retroactive
	// attempts from live ones.
	replayErr := *entry.Error
	replayErr.Context.IsRetroactive = true
	replayErr.Context.Operation = "retroactive_" + entry.Error.Context.Operation
	e.mu.Unlock()

	result := e.exec.ExecuteRecovery(ctx, &replayErr)

	e.mu.Lock()
	if result != nil && result.Success {
		entry.RecoverySuccess = true
		entry.SilentFailure = false
	}
	snapshot := entry.Clone()
	e.mu.Unlock()

	e.saveMirror(snapshot)
	if result != nil && result.Success {
		return replayRecovered
	}
	return replayFailed
}

// CleanupOldEntries removes entries older than 7x the scan window. Entries
// too old to scan but inside retention stay visible for introspection.
func (e *Engine) CleanupOldEntries() int {
	retention := 7 * e.cfg.MaxWindow
	cutoff := time.Now().Add(-retention)

	e.mu.Lock()
	removed := make([]string, 0)
	for id, entry := range e.wal {
		if entry.Timestamp.Before(cutoff) {
			delete(e.byErrorID, entry.Error.ID)
			delete(e.wal, id)
			removed = append(removed, id)
		}
	}
	size := len(e.wal)
	e.mu.Unlock()

	metrics.WALEntries.Set(float64(size))
	if len(removed) > 0 {
		if e.mirror != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.mirror.DeleteEntries(ctx, removed); err != nil {
				e.log.Warn("failed to prune wal mirror", "error", err)
			}
		}
		e.log.Info("wal retention cleanup", "removed", len(removed), "remaining", size)
	}
	return len(removed)
}

// WALInfo summarizes the log for introspection.
func (e *Engine) WALInfo() domain.WALInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	info := domain.WALInfo{TotalEntries: len(e.wal)}
	for _, entry := range e.wal {
		if IsSilentFailure(entry, e.cfg.SilentFailureThreshold, now) {
			info.SilentFailures++
		}
		if entry.RecoverySuccess {
			info.Recovered++
		}
		if entry.RetryCount >= e.cfg.MaxRetryAttempts && !entry.RecoverySuccess {
			info.ExhaustedRetries++
		}
		if info.OldestEntry.IsZero() || entry.Timestamp.Before(info.OldestEntry) {
			info.OldestEntry = entry.Timestamp
		}
	}
	return info
}

// Entries returns copies of every WAL entry.
func (e *Engine) Entries() []*domain.LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.LogEntry, 0, len(e.wal))
	for _, entry := range e.wal {
		out = append(out, entry.Clone())
	}
	return out
}

// Restore reloads the WAL from the mirror, typically on startup.
func (e *Engine) Restore(ctx context.Context) error {
	if e.mirror == nil {
		return nil
	}
	entries, err := e.mirror.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load wal mirror: %w", err)
	}

	e.mu.Lock()
	for _, entry := range entries {
		if _, exists := e.wal[entry.ID]; exists {
			continue
		}
		e.wal[entry.ID] = entry
		e.byErrorID[entry.Error.ID] = entry.ID
	}
	size := len(e.wal)
	e.mu.Unlock()

	metrics.WALEntries.Set(float64(size))
	e.log.Info("wal restored from mirror", "entries", len(entries))
	return nil
}

// Reset drops the WAL and its mirror.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	e.wal = make(map[string]*domain.LogEntry)
	e.byErrorID = make(map[string]string)
	e.mu.Unlock()

	metrics.WALEntries.Set(0)
	if e.mirror != nil {
		return e.mirror.Reset(ctx)
	}
	return nil
}

// Start launches the periodic scan loop. A zero ScanInterval disables it.
func (e *Engine) Start(ctx context.Context) {
	if e.cfg.ScanInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(e.cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				if _, err := e.Run(ctx); err != nil && !errors.Is(err, ErrRecoveryInProgress) {
					e.log.Warn("periodic retroactive pass failed", "error", err)
				}
				e.CleanupOldEntries()
			}
		}
	}()
}

// Destroy stops the scan loop and detaches from the bus. In-flight attempts
// run to completion; there is no mid-flight cancellation.
func (e *Engine) Destroy() {
	e.stopOnce.Do(func() { close(e.stop) })
	for _, unsub := range e.unsubs {
		unsub()
	}
}

func (e *Engine) saveMirror(entry *domain.LogEntry) {
	if e.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.mirror.SaveEntry(ctx, entry); err != nil {
		e.log.Warn("failed to mirror wal entry", "id", entry.ID, "error", err)
	}
}
