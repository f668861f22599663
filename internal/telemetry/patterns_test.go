package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

func record(s *System, id string, category domain.Category, op string, ts time.Time) {
	s.recordError(&domain.ClassifiedError{
		ID:       id,
		Category: category,
		Severity: domain.SeverityHigh,
		Context:  domain.ErrorContext{Timestamp: ts, Operation: op},
	})
}

func hasPattern(patterns []domain.Pattern, typ domain.PatternType) bool {
	for _, p := range patterns {
		if p.Type == typ {
			return true
		}
	}
	return false
}

func TestDetectSpikes(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	// 12 errors in one category inside the last minute crosses the
	// threshold of 10.
	for i := 0; i < 12; i++ {
		record(s, fmt.Sprintf("e-%d", i), domain.CategoryNetworkTimeout, "poll", now.Add(-time.Duration(i)*time.Second))
	}

	patterns := s.DetectPatterns(now)
	if !hasPattern(patterns, domain.PatternSpike) {
		t.Fatalf("expected spike pattern, got %v", patterns)
	}
}

func TestDetectSpikes_BelowThreshold(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	for i := 0; i < 5; i++ {
		record(s, fmt.Sprintf("e-%d", i), domain.CategoryNetworkTimeout, "poll", now.Add(-time.Second))
	}

	if patterns := s.DetectPatterns(now); hasPattern(patterns, domain.PatternSpike) {
		t.Errorf("5 errors must not spike, got %v", patterns)
	}
}

func TestDetectRecurring(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	// Five failures exactly 60s apart: near-zero interval variance.
	for i := 0; i < 5; i++ {
		record(s, fmt.Sprintf("e-%d", i), domain.CategoryAPIRateLimit, "sync_transcript", now.Add(-time.Duration(i)*time.Minute))
	}

	patterns := s.DetectPatterns(now)
	if !hasPattern(patterns, domain.PatternRecurring) {
		t.Fatalf("expected recurring pattern, got %v", patterns)
	}
}

func TestDetectRecurring_IrregularIntervalsIgnored(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	offsets := []time.Duration{0, 7 * time.Second, 95 * time.Second, 100 * time.Second, 9 * time.Minute}
	for i, off := range offsets {
		record(s, fmt.Sprintf("e-%d", i), domain.CategoryAPIRateLimit, "sync_transcript", now.Add(-off))
	}

	if patterns := s.DetectPatterns(now); hasPattern(patterns, domain.PatternRecurring) {
		t.Errorf("irregular intervals must not look periodic, got %v", patterns)
	}
}

func TestDetectCascades(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	// Three categories, five errors inside a 30s burst.
	cats := []domain.Category{
		domain.CategoryNetworkConnection,
		domain.CategoryWebsocketConnection,
		domain.CategoryTranscriptionService,
		domain.CategoryNetworkConnection,
		domain.CategoryWebsocketConnection,
	}
	for i, c := range cats {
		record(s, fmt.Sprintf("e-%d", i), c, "stream", now.Add(-time.Duration(i)*3*time.Second))
	}

	patterns := s.DetectPatterns(now)
	if !hasPattern(patterns, domain.PatternCascade) {
		t.Fatalf("expected cascade pattern, got %v", patterns)
	}
}

func TestDetectCascades_SingleCategoryIsNotCascade(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	for i := 0; i < 6; i++ {
		record(s, fmt.Sprintf("e-%d", i), domain.CategoryNetworkTimeout, "poll", now.Add(-time.Duration(i)*2*time.Second))
	}

	if patterns := s.DetectPatterns(now); hasPattern(patterns, domain.PatternCascade) {
		t.Errorf("one failing category is not a cascade, got %v", patterns)
	}
}

func TestDetectAnomaly(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	// 1 error in the previous minute, 6 in the last: >3x with floor met.
	record(s, "prev", domain.CategoryUnknown, "op", now.Add(-90*time.Second))
	for i := 0; i < 6; i++ {
		record(s, fmt.Sprintf("e-%d", i), domain.CategoryUnknown, "op", now.Add(-time.Duration(i)*5*time.Second))
	}

	patterns := s.DetectPatterns(now)
	if !hasPattern(patterns, domain.PatternAnomaly) {
		t.Fatalf("expected anomaly pattern, got %v", patterns)
	}
}

func TestDetectAnomaly_FloorSuppressesQuietSystems(t *testing.T) {
	s, _ := testSystem()
	now := time.Now()

	// 0 -> 3 is a big ratio but below the absolute floor of 5.
	for i := 0; i < 3; i++ {
		record(s, fmt.Sprintf("e-%d", i), domain.CategoryUnknown, "op", now.Add(-time.Duration(i)*5*time.Second))
	}

	if patterns := s.DetectPatterns(now); hasPattern(patterns, domain.PatternAnomaly) {
		t.Errorf("3 errors under the floor must not alarm, got %v", patterns)
	}
}
