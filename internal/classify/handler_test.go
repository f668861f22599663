package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/core/events"
)

// =============================================================================
// Mocks
// =============================================================================

type stubExecutor struct {
	calls  int
	result *domain.RecoveryResult
}

func (s *stubExecutor) ExecuteRecovery(ctx context.Context, e *domain.ClassifiedError) *domain.RecoveryResult {
	s.calls++
	return s.result
}

func newTestHandler(exec RecoveryExecutor) (*Handler, *events.Bus) {
	bus := events.NewBus()
	return NewHandler(DefaultConfig(), bus, exec, nil), bus
}

// =============================================================================
// Classification
// =============================================================================

func TestDetectAndClassify_NetworkTimeout(t *testing.T) {
	h, _ := newTestHandler(nil)

	e := h.DetectAndClassify(errors.New("request timed out after 30s"), domain.ErrorContext{
		Component: "api-client",
		Operation: "fetch_transcript",
	})

	if e.Category != domain.CategoryNetworkTimeout {
		t.Errorf("expected network_timeout, got %s", e.Category)
	}
	if e.Severity != domain.SeverityHigh {
		t.Errorf("expected high severity, got %s", e.Severity)
	}
	if !e.IsRetryable {
		t.Error("timeout should be retryable")
	}
	if e.RecoveryStrategy != domain.StrategyNetworkReconnection {
		t.Errorf("expected network_reconnection strategy, got %s", e.RecoveryStrategy)
	}
}

func TestDetectAndClassify_GRPCStatusBeatsStringMatch(t *testing.T) {
	h, _ := newTestHandler(nil)

	// "deadline" would also match the string timeout rule; the status code
	// rule must win because it runs first.
	err := status.Error(codes.Unauthenticated, "deadline deadline deadline")
	e := h.DetectAndClassify(err, domain.ErrorContext{})

	if e.Category != domain.CategoryAuthTokenExpired {
		t.Errorf("expected auth_token_expired from grpc code, got %s", e.Category)
	}
}

func TestDetectAndClassify_WebsocketSchemaNeedsWebsocketOrigin(t *testing.T) {
	h, _ := newTestHandler(nil)

	e := h.DetectAndClassify(errors.New("unknown field in payload"), domain.ErrorContext{
		Component: "WebSocketClient",
	})
	if e.Category != domain.CategoryWebsocketSchema {
		t.Errorf("expected websocket_schema, got %s", e.Category)
	}
	if e.IsRetryable {
		t.Error("schema mismatch must not be retryable")
	}
}

func TestDetectAndClassify_CatchAll(t *testing.T) {
	h, _ := newTestHandler(nil)

	e := h.DetectAndClassify(errors.New("zorp"), domain.ErrorContext{})
	if e.Category != domain.CategoryUnknown {
		t.Errorf("expected unknown category, got %s", e.Category)
	}
	if e.Severity != domain.SeverityMedium {
		t.Errorf("expected medium severity, got %s", e.Severity)
	}
	if !e.IsRetryable {
		t.Error("unknown errors default to retryable")
	}
}

func TestDetectAndClassify_NilError(t *testing.T) {
	h, _ := newTestHandler(nil)

	e := h.DetectAndClassify(nil, domain.ErrorContext{})
	if e == nil {
		t.Fatal("classification must never return nil")
	}
	if e.Category != domain.CategoryUnknown {
		t.Errorf("expected unknown category, got %s", e.Category)
	}
	if e.Context.Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
}

func TestDetectAndClassify_OccurrenceCounting(t *testing.T) {
	h, _ := newTestHandler(nil)
	ctx := domain.ErrorContext{Component: "ws", Operation: "send"}

	first := h.DetectAndClassify(errors.New("websocket closed 1006"), ctx)
	second := h.DetectAndClassify(errors.New("websocket closed 1006"), ctx)
	other := h.DetectAndClassify(errors.New("websocket closed 1011"), ctx)

	if first.ID != second.ID {
		t.Error("identical errors must share a signature")
	}
	if second.OccurrenceCount != 2 {
		t.Errorf("expected occurrence 2, got %d", second.OccurrenceCount)
	}
	if other.ID == first.ID {
		t.Error("different messages must not share a signature")
	}
	if other.OccurrenceCount != 1 {
		t.Errorf("expected occurrence 1 for new signature, got %d", other.OccurrenceCount)
	}
}

func TestDetectAndClassify_HistoryBounded(t *testing.T) {
	h := NewHandler(Config{MaxHistory: 3}, nil, nil, nil)

	for i := 0; i < 5; i++ {
		h.DetectAndClassify(fmt.Errorf("error %d", i), domain.ErrorContext{})
	}

	hist := h.History()
	if len(hist) != 3 {
		t.Fatalf("expected history of 3, got %d", len(hist))
	}
	if hist[0].Message != "error 2" {
		t.Errorf("expected oldest retained to be error 2, got %q", hist[0].Message)
	}
}

func TestAddRule_BuiltinsTakePrecedence(t *testing.T) {
	h, _ := newTestHandler(nil)
	h.AddRule(Rule{
		Name:     "custom_timeout",
		Match:    func(err error, ctx domain.ErrorContext) bool { return true },
		Category: domain.CategoryResourceCPU,
		Severity: domain.SeverityLow,
	})

	// A built-in still claims timeouts.
	e := h.DetectAndClassify(errors.New("timed out"), domain.ErrorContext{})
	if e.Category != domain.CategoryNetworkTimeout {
		t.Errorf("built-in rule should win, got %s", e.Category)
	}

	// But the custom rule beats the catch-all.
	e = h.DetectAndClassify(errors.New("zorp"), domain.ErrorContext{})
	if e.Category != domain.CategoryResourceCPU {
		t.Errorf("custom rule should beat catch-all, got %s", e.Category)
	}
}

// =============================================================================
// Handling
// =============================================================================

func TestHandleError_DispatchesRecovery(t *testing.T) {
	exec := &stubExecutor{result: &domain.RecoveryResult{Success: true}}
	h, _ := newTestHandler(exec)

	e := h.DetectAndClassify(errors.New("connection refused"), domain.ErrorContext{})
	if !h.HandleError(context.Background(), e) {
		t.Error("expected handling to report success")
	}
	if exec.calls != 1 {
		t.Errorf("expected one recovery dispatch, got %d", exec.calls)
	}
}

func TestHandleError_NoAutoRecover(t *testing.T) {
	exec := &stubExecutor{result: &domain.RecoveryResult{Success: true}}
	h := NewHandler(Config{AutoRecover: false}, nil, exec, nil)

	e := h.DetectAndClassify(errors.New("connection refused"), domain.ErrorContext{})
	if h.HandleError(context.Background(), e) {
		t.Error("expected false when auto recovery is off")
	}
	if exec.calls != 0 {
		t.Errorf("executor should not run, got %d calls", exec.calls)
	}
}

func TestHandleError_CircuitBreakerOnCritical(t *testing.T) {
	h, bus := newTestHandler(nil)

	breakerFired := 0
	bus.Subscribe(events.TopicCircuitBreaker, func(p any) { breakerFired++ })

	e := h.DetectAndClassify(errors.New("transcription service crashed"), domain.ErrorContext{})
	if e.Severity != domain.SeverityCritical {
		t.Fatalf("setup: expected critical, got %s", e.Severity)
	}
	h.HandleError(context.Background(), e)

	if breakerFired != 1 {
		t.Errorf("expected 1 circuit breaker event, got %d", breakerFired)
	}
}

func TestHandleError_CircuitBreakerOnOccurrences(t *testing.T) {
	h := NewHandler(Config{BreakerOccurrences: 3}, events.NewBus(), nil, nil)

	breakerFired := 0
	h.bus.Subscribe(events.TopicCircuitBreaker, func(p any) { breakerFired++ })

	var last *domain.ClassifiedError
	for i := 0; i < 3; i++ {
		last = h.DetectAndClassify(errors.New("timed out"), domain.ErrorContext{Operation: "poll"})
		h.HandleError(context.Background(), last)
	}

	if last.OccurrenceCount != 3 {
		t.Fatalf("setup: expected 3 occurrences, got %d", last.OccurrenceCount)
	}
	if breakerFired != 1 {
		t.Errorf("expected breaker only on the third occurrence, got %d events", breakerFired)
	}
}

func TestHandleError_FallbackCategories(t *testing.T) {
	h, bus := newTestHandler(nil)

	fallbackFired := 0
	bus.Subscribe(events.TopicFallback, func(p any) { fallbackFired++ })

	e := h.DetectAndClassify(errors.New("network unreachable"), domain.ErrorContext{})
	if e.Category != domain.CategoryNetworkConnection {
		t.Fatalf("setup: expected network_connection, got %s", e.Category)
	}
	h.HandleError(context.Background(), e)

	if fallbackFired != 1 {
		t.Errorf("expected 1 fallback event, got %d", fallbackFired)
	}
}

func TestStats(t *testing.T) {
	h, _ := newTestHandler(nil)

	h.DetectAndClassify(errors.New("timed out"), domain.ErrorContext{})
	h.DetectAndClassify(errors.New("transcription service down"), domain.ErrorContext{})

	s := h.Stats()
	if s.Total != 2 {
		t.Errorf("expected 2 total, got %d", s.Total)
	}
	if s.LastMinute != 2 {
		t.Errorf("expected 2 in last minute, got %d", s.LastMinute)
	}
	if s.CriticalRecent != 1 {
		t.Errorf("expected 1 recent critical, got %d", s.CriticalRecent)
	}
}
