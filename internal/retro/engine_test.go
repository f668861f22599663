package retro

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/core/events"
)

// =============================================================================
// Mocks
// =============================================================================

type recordingExecutor struct {
	mu      sync.Mutex
	seen    []*domain.ClassifiedError
	succeed bool
	delay   time.Duration
}

func (r *recordingExecutor) ExecuteRecovery(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.seen = append(r.seen, e)
	r.mu.Unlock()
	return &domain.RecoveryResult{
		Success:   r.succeed,
		Strategy:  e.RecoveryStrategy,
		Timestamp: time.Now(),
	}
}

func (r *recordingExecutor) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

type fakeMirror struct {
	mu      sync.Mutex
	entries map[string]*domain.LogEntry
	deleted []string
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{entries: make(map[string]*domain.LogEntry)}
}

func (m *fakeMirror) SaveEntry(ctx context.Context, entry *domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	return nil
}

func (m *fakeMirror) DeleteEntries(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

func (m *fakeMirror) LoadEntries(ctx context.Context) ([]*domain.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.LogEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *fakeMirror) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*domain.LogEntry)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryInterval = time.Millisecond
	cfg.ScanInterval = 0
	return cfg
}

func classifiedAt(id string, category domain.Category, ts time.Time) *domain.ClassifiedError {
	return &domain.ClassifiedError{
		ID:               id,
		Name:             "Error",
		Message:          "boom",
		Category:         category,
		Severity:         domain.SeverityHigh,
		RecoveryStrategy: domain.StrategyGenericRetry,
		Context: domain.ErrorContext{
			Timestamp: ts,
			SessionID: "sess-1",
			Operation: "send_audio",
		},
	}
}

// =============================================================================
// Silent failure predicate
// =============================================================================

func TestIsSilentFailure(t *testing.T) {
	now := time.Now()
	threshold := 5 * time.Minute

	cases := []struct {
		name  string
		entry *domain.LogEntry
		want  bool
	}{
		{
			name: "recovered is never silent",
			entry: &domain.LogEntry{
				Error:             classifiedAt("a", domain.CategoryNetworkTimeout, now),
				RecoveryAttempted: true,
				RecoverySuccess:   true,
			},
			want: false,
		},
		{
			name: "never attempted",
			entry: &domain.LogEntry{
				Error: classifiedAt("b", domain.CategoryNetworkTimeout, now),
			},
			want: true,
		},
		{
			name: "failed and stale",
			entry: &domain.LogEntry{
				Error:             classifiedAt("c", domain.CategoryNetworkTimeout, now),
				RecoveryAttempted: true,
				LastRetryAt:       now.Add(-10 * time.Minute),
			},
			want: true,
		},
		{
			name: "failed but fresh",
			entry: &domain.LogEntry{
				Error:             classifiedAt("d", domain.CategoryNetworkTimeout, now),
				RecoveryAttempted: true,
				LastRetryAt:       now.Add(-time.Minute),
			},
			want: false,
		},
		{
			name: "critical unrecovered regardless of age",
			entry: &domain.LogEntry{
				Error: func() *domain.ClassifiedError {
					e := classifiedAt("e", domain.CategoryDataCorruption, now)
					e.Severity = domain.SeverityCritical
					return e
				}(),
				RecoveryAttempted: true,
				LastRetryAt:       now.Add(-time.Second),
			},
			want: true,
		},
		{
			name: "transcription unrecovered regardless of age",
			entry: &domain.LogEntry{
				Error:             classifiedAt("f", domain.CategoryTranscriptionService, now),
				RecoveryAttempted: true,
				LastRetryAt:       now.Add(-time.Second),
			},
			want: true,
		},
	}

	for _, tc := range cases {
		if got := IsSilentFailure(tc.entry, threshold, now); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

// =============================================================================
// Recording
// =============================================================================

func TestRecord_UpsertsBySignature(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil, nil)
	now := time.Now()

	e.Record(classifiedAt("sig-1", domain.CategoryNetworkTimeout, now))
	e.Record(classifiedAt("sig-1", domain.CategoryNetworkTimeout, now.Add(time.Second)))
	e.Record(classifiedAt("sig-2", domain.CategoryNetworkTimeout, now))

	info := e.WALInfo()
	if info.TotalEntries != 2 {
		t.Errorf("expected 2 entries after upsert, got %d", info.TotalEntries)
	}
}

func TestRecord_ViaBusSubscription(t *testing.T) {
	bus := events.NewBus()
	e := NewEngine(testConfig(), nil, bus, nil, nil)

	bus.Publish(events.TopicErrorDetected, events.ErrorDetected{
		Error: classifiedAt("sig-1", domain.CategoryNetworkTimeout, time.Now()),
	})

	if info := e.WALInfo(); info.TotalEntries != 1 {
		t.Errorf("expected entry recorded via bus, got %d", info.TotalEntries)
	}
	e.Destroy()
}

func TestMarkOutcome_LiveRecoveryClearsSilentFailure(t *testing.T) {
	bus := events.NewBus()
	e := NewEngine(testConfig(), nil, bus, nil, nil)

	classified := classifiedAt("sig-1", domain.CategoryNetworkTimeout, time.Now())
	e.Record(classified)

	bus.Publish(events.TopicRecoveryCompleted, events.RecoveryCompleted{
		Error:  classified,
		Result: &domain.RecoveryResult{Success: true, Timestamp: time.Now()},
	})

	info := e.WALInfo()
	if info.Recovered != 1 {
		t.Errorf("expected 1 recovered, got %d", info.Recovered)
	}
	if info.SilentFailures != 0 {
		t.Errorf("recovered entry must not be silent, got %d", info.SilentFailures)
	}
	e.Destroy()
}

func TestMarkOutcome_RefreshesRetryTimestamp(t *testing.T) {
	bus := events.NewBus()
	e := NewEngine(testConfig(), nil, bus, nil, nil)
	defer e.Destroy()

	classified := classifiedAt("sig-1", domain.CategoryNetworkTimeout, time.Now())
	e.Record(classified)

	first := time.Now().Add(-10 * time.Minute)
	second := time.Now()

	// Staleness is measured from the most recent live attempt, so repeated
	// failures must move the timestamp forward.
	bus.Publish(events.TopicRecoveryCompleted, events.RecoveryCompleted{
		Error:  classified,
		Result: &domain.RecoveryResult{Success: false, Timestamp: first},
	})
	bus.Publish(events.TopicRecoveryCompleted, events.RecoveryCompleted{
		Error:  classified,
		Result: &domain.RecoveryResult{Success: false, Timestamp: second},
	})

	entries := e.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !entries[0].LastRetryAt.Equal(second) {
		t.Errorf("expected last retry at %v, got %v", second, entries[0].LastRetryAt)
	}

	// Retroactive completions carry their own bookkeeping and must not
	// overwrite the live timestamp.
	retroErr := *classified
	retroErr.Context.IsRetroactive = true
	bus.Publish(events.TopicRecoveryCompleted, events.RecoveryCompleted{
		Error:  &retroErr,
		Result: &domain.RecoveryResult{Success: false, Timestamp: second.Add(time.Minute)},
	})

	entries = e.Entries()
	if !entries[0].LastRetryAt.Equal(second) {
		t.Errorf("retroactive completion must not overwrite the live timestamp, got %v", entries[0].LastRetryAt)
	}
}

// =============================================================================
// Retroactive passes
// =============================================================================

func TestRun_RecoversAndIsIdempotent(t *testing.T) {
	exec := &recordingExecutor{succeed: true}
	e := NewEngine(testConfig(), exec, nil, nil, nil)
	now := time.Now()

	for i := 0; i < 3; i++ {
		e.Record(classifiedAt(fmt.Sprintf("sig-%d", i), domain.CategoryNetworkTimeout, now))
	}

	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Candidates != 3 || stats.Recovered != 3 {
		t.Errorf("expected 3 candidates / 3 recovered, got %d/%d", stats.Candidates, stats.Recovered)
	}

	// A second pass finds nothing: recovered entries are not silent failures.
	stats, err = e.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Candidates != 0 {
		t.Errorf("second pass should find 0 candidates, got %d", stats.Candidates)
	}
	if exec.calls() != 3 {
		t.Errorf("recovered entries must not be replayed again, got %d calls", exec.calls())
	}
}

func TestRun_RelabelsRetroactiveContext(t *testing.T) {
	exec := &recordingExecutor{succeed: true}
	e := NewEngine(testConfig(), exec, nil, nil, nil)

	e.Record(classifiedAt("sig-1", domain.CategoryNetworkTimeout, time.Now()))
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exec.calls() != 1 {
		t.Fatalf("expected 1 replay, got %d", exec.calls())
	}
	replayed := exec.seen[0]
	if !replayed.Context.IsRetroactive {
		t.Error("replayed error must be flagged retroactive")
	}
	if replayed.Context.Operation != "retroactive_send_audio" {
		t.Errorf("expected relabeled operation, got %q", replayed.Context.Operation)
	}
}

func TestRun_ConcurrentPassFailsFast(t *testing.T) {
	exec := &recordingExecutor{succeed: true, delay: 50 * time.Millisecond}
	e := NewEngine(testConfig(), exec, nil, nil, nil)
	e.Record(classifiedAt("sig-1", domain.CategoryNetworkTimeout, time.Now()))

	firstDone := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background())
		firstDone <- err
	}()

	// Give the first pass time to claim the flag.
	time.Sleep(10 * time.Millisecond)
	if _, err := e.Run(context.Background()); !errors.Is(err, ErrRecoveryInProgress) {
		t.Errorf("expected ErrRecoveryInProgress, got %v", err)
	}

	if err := <-firstDone; err != nil {
		t.Errorf("first pass should complete, got %v", err)
	}
}

func TestRun_BatchesCandidates(t *testing.T) {
	exec := &recordingExecutor{succeed: true}
	bus := events.NewBus()

	var mu sync.Mutex
	batchesStarted := 0
	bus.Subscribe(events.TopicBatchStarted, func(p any) {
		mu.Lock()
		batchesStarted++
		mu.Unlock()
	})

	cfg := testConfig()
	cfg.MaxErrorsPerBatch = 5
	e := NewEngine(cfg, exec, bus, nil, nil)

	now := time.Now()
	for i := 0; i < 8; i++ {
		e.Record(classifiedAt(fmt.Sprintf("sig-%d", i), domain.CategoryNetworkTimeout, now))
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if batchesStarted != 2 {
		t.Errorf("8 candidates with batch size 5 means 2 batches, got %d", batchesStarted)
	}
	e.Destroy()
}

func TestRun_PriorityOrdering(t *testing.T) {
	exec := &recordingExecutor{succeed: true}
	e := NewEngine(testConfig(), exec, nil, nil, nil)
	now := time.Now()

	e.Record(classifiedAt("net", domain.CategoryNetworkTimeout, now))
	e.Record(classifiedAt("tr", domain.CategoryTranscriptionService, now))
	e.Record(classifiedAt("ws", domain.CategoryWebsocketConnection, now))

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(exec.seen) != 3 {
		t.Fatalf("expected 3 replays, got %d", len(exec.seen))
	}
	order := []domain.Category{
		exec.seen[0].Category,
		exec.seen[1].Category,
		exec.seen[2].Category,
	}
	if order[0] != domain.CategoryTranscriptionService ||
		order[1] != domain.CategoryWebsocketConnection ||
		order[2] != domain.CategoryNetworkTimeout {
		t.Errorf("unexpected replay order: %v", order)
	}
}

func TestRun_RetryCapSkipsEntries(t *testing.T) {
	exec := &recordingExecutor{succeed: false}
	cfg := testConfig()
	cfg.MaxRetryAttempts = 2
	e := NewEngine(cfg, exec, nil, nil, nil)
	// Transcription entries stay silent until recovered, so every pass sees
	// this entry as a candidate.
	e.Record(classifiedAt("sig-1", domain.CategoryTranscriptionService, time.Now()))

	// Failed passes accumulate RetryCount until the cap.
	for i := 0; i < 4; i++ {
		if _, err := e.Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if exec.calls() != 2 {
		t.Errorf("expected exactly MaxRetryAttempts replays, got %d", exec.calls())
	}

	info := e.WALInfo()
	if info.ExhaustedRetries != 1 {
		t.Errorf("expected 1 exhausted entry, got %d", info.ExhaustedRetries)
	}
	if info.TotalEntries != 1 {
		t.Error("exhausted entries stay in the WAL for introspection")
	}
}

func TestRecoverCategory_Filters(t *testing.T) {
	exec := &recordingExecutor{succeed: true}
	e := NewEngine(testConfig(), exec, nil, nil, nil)
	now := time.Now()

	e.Record(classifiedAt("net", domain.CategoryNetworkTimeout, now))
	e.Record(classifiedAt("tr", domain.CategoryTranscriptionService, now))

	stats, err := e.RecoverCategory(context.Background(), domain.CategoryTranscriptionService)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Candidates != 1 || stats.Recovered != 1 {
		t.Errorf("expected only the transcription entry, got %+v", stats)
	}
}

// =============================================================================
// Retention and mirror
// =============================================================================

func TestCleanupOldEntries(t *testing.T) {
	mirror := newFakeMirror()
	e := NewEngine(testConfig(), nil, nil, mirror, nil)
	now := time.Now()

	// Retention is 7x the 24h scan window.
	e.Record(classifiedAt("old", domain.CategoryNetworkTimeout, now.Add(-8*24*time.Hour)))
	e.Record(classifiedAt("fresh", domain.CategoryNetworkTimeout, now.Add(-time.Minute)))

	removed := e.CleanupOldEntries()
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	info := e.WALInfo()
	if info.TotalEntries != 1 {
		t.Errorf("expected 1 remaining entry, got %d", info.TotalEntries)
	}
	if len(mirror.deleted) != 1 {
		t.Errorf("mirror should be pruned too, got %d deletions", len(mirror.deleted))
	}
}

func TestRestore_FromMirror(t *testing.T) {
	mirror := newFakeMirror()
	first := NewEngine(testConfig(), nil, nil, mirror, nil)
	first.Record(classifiedAt("sig-1", domain.CategoryTranscriptionService, time.Now()))
	first.Record(classifiedAt("sig-2", domain.CategoryNetworkTimeout, time.Now()))

	second := NewEngine(testConfig(), nil, nil, mirror, nil)
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if info := second.WALInfo(); info.TotalEntries != 2 {
		t.Errorf("expected 2 restored entries, got %d", info.TotalEntries)
	}
}

func TestWALInfo_SilentFailureCount(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil, nil)
	now := time.Now()

	// Three never-attempted entries qualify as silent.
	for i := 0; i < 3; i++ {
		e.Record(classifiedAt(fmt.Sprintf("silent-%d", i), domain.CategoryNetworkTimeout, now))
	}
	// Recovered entries do not.
	recovered := classifiedAt("ok", domain.CategoryNetworkTimeout, now)
	e.Record(recovered)
	e.markOutcome(recovered, &domain.RecoveryResult{Success: true, Timestamp: now})

	info := e.WALInfo()
	if info.TotalEntries != 4 {
		t.Fatalf("expected 4 entries, got %d", info.TotalEntries)
	}
	if info.SilentFailures != 3 {
		t.Errorf("expected 3 silent failures, got %d", info.SilentFailures)
	}
}
