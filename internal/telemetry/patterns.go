package telemetry

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/core/events"
	"github.com/vietddude/faultline/internal/metrics"
)

// Detection thresholds. Heuristics tuned on dashboard feedback, not derived
// from SLOs.
const (
	spikeThreshold       = 10               // errors per category per minute
	recurringMinSamples  = 4                // occurrences needed to judge periodicity
	recurringMaxCV       = 0.25             // coefficient of variation for "low variance"
	cascadeWindow        = 30 * time.Second // sub-window for cross-category bursts
	cascadeMinCategories = 3
	cascadeMinErrors     = 5
	anomalyFloor         = 5 // absolute minimum before a rate jump counts
)

// DetectPatterns runs the four detectors over the rolling lookback window
// and replaces the stored pattern set. Patterns are recomputed from scratch
// each cycle.
func (s *System) DetectPatterns(now time.Time) []domain.Pattern {
	recent := s.snapshotRecent(s.cfg.Lookback, now)

	patterns := make([]domain.Pattern, 0)
	patterns = append(patterns, detectSpikes(recent, now)...)
	patterns = append(patterns, detectRecurring(recent, now)...)
	patterns = append(patterns, detectCascades(recent, now)...)
	patterns = append(patterns, detectAnomaly(recent, now)...)

	for _, p := range patterns {
		metrics.PatternsDetected.WithLabelValues(string(p.Type)).Inc()
	}

	s.mu.Lock()
	s.patterns = patterns
	s.mu.Unlock()

	if len(patterns) > 0 {
		s.log.Info("error patterns detected", "count", len(patterns))
		s.bus.Publish(events.TopicPatternsDetected, events.PatternsDetected{Patterns: patterns})
	}
	return patterns
}

// Patterns returns a copy of the last detection result.
func (s *System) Patterns() []domain.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Pattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// detectSpikes flags categories whose error rate in the last minute crosses
// the spike threshold.
func detectSpikes(recent []domain.Metric, now time.Time) []domain.Pattern {
	cutoff := now.Add(-time.Minute)
	var counts [domain.NumCategories]int
	ops := make(map[domain.Category]map[string]struct{})

	for _, m := range recent {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		counts[m.Category.Index()]++
		if m.Operation != "" {
			if ops[m.Category] == nil {
				ops[m.Category] = make(map[string]struct{})
			}
			ops[m.Category][m.Operation] = struct{}{}
		}
	}

	out := make([]domain.Pattern, 0)
	for i, c := range counts {
		if c < spikeThreshold {
			continue
		}
		category := domain.Categories[i]
		confidence := math.Min(1, float64(c)/float64(2*spikeThreshold))
		out = append(out, domain.Pattern{
			Type:               domain.PatternSpike,
			Category:           category,
			Confidence:         confidence,
			ErrorCount:         c,
			AffectedOperations: sortedKeys(ops[category]),
			WindowStart:        cutoff,
			WindowEnd:          now,
			SuggestedAction:    fmt.Sprintf("investigate %s burst, consider opening the circuit breaker", category),
		})
	}
	return out
}

// detectRecurring flags operations whose failures arrive at near-constant
// intervals, which usually means a timer or poll loop is failing every time.
func detectRecurring(recent []domain.Metric, now time.Time) []domain.Pattern {
	byOp := make(map[string][]time.Time)
	for _, m := range recent {
		if m.Operation != "" {
			byOp[m.Operation] = append(byOp[m.Operation], m.Timestamp)
		}
	}

	out := make([]domain.Pattern, 0)
	for op, ts := range byOp {
		if len(ts) < recurringMinSamples {
			continue
		}
		sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

		intervals := make([]float64, 0, len(ts)-1)
		for i := 1; i < len(ts); i++ {
			intervals = append(intervals, ts[i].Sub(ts[i-1]).Seconds())
		}

		mean, stddev := meanStddev(intervals)
		if mean <= 0 {
			continue
		}
		cv := stddev / mean
		if cv >= recurringMaxCV {
			continue
		}
		out = append(out, domain.Pattern{
			Type:               domain.PatternRecurring,
			Confidence:         math.Min(1, 1-cv/recurringMaxCV+0.5),
			ErrorCount:         len(ts),
			AffectedOperations: []string{op},
			WindowStart:        ts[0],
			WindowEnd:          ts[len(ts)-1],
			SuggestedAction:    fmt.Sprintf("operation %q fails periodically (every ~%.0fs), check its trigger", op, mean),
		})
	}
	return out
}

// detectCascades flags bursts where several distinct categories fail together
// inside a short sub-window, usually one root cause knocking over dependents.
func detectCascades(recent []domain.Metric, now time.Time) []domain.Pattern {
	if len(recent) == 0 {
		return nil
	}
	sorted := make([]domain.Metric, len(recent))
	copy(sorted, recent)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	out := make([]domain.Pattern, 0)
	lo := 0
	for hi := range sorted {
		for sorted[hi].Timestamp.Sub(sorted[lo].Timestamp) > cascadeWindow {
			lo++
		}
		count := hi - lo + 1
		if count < cascadeMinErrors {
			continue
		}

		cats := make(map[domain.Category]struct{})
		ops := make(map[string]struct{})
		for i := lo; i <= hi; i++ {
			cats[sorted[i].Category] = struct{}{}
			if sorted[i].Operation != "" {
				ops[sorted[i].Operation] = struct{}{}
			}
		}
		if len(cats) < cascadeMinCategories {
			continue
		}

		out = append(out, domain.Pattern{
			Type:               domain.PatternCascade,
			Confidence:         math.Min(1, float64(len(cats))/5),
			ErrorCount:         count,
			AffectedOperations: sortedKeys(ops),
			WindowStart:        sorted[lo].Timestamp,
			WindowEnd:          sorted[hi].Timestamp,
			SuggestedAction:    "multiple subsystems failing together, look for a shared root cause",
		})
		// One cascade report per cycle is enough.
		break
	}
	return out
}

// detectAnomaly flags a >200% jump of the overall error rate in the last
// minute versus the minute before, with an absolute floor so quiet systems
// don't alarm on 1 -> 3 errors.
func detectAnomaly(recent []domain.Metric, now time.Time) []domain.Pattern {
	lastMin, prevMin := 0, 0
	minuteAgo := now.Add(-time.Minute)
	twoMinutesAgo := now.Add(-2 * time.Minute)

	for _, m := range recent {
		switch {
		case !m.Timestamp.Before(minuteAgo):
			lastMin++
		case !m.Timestamp.Before(twoMinutesAgo):
			prevMin++
		}
	}

	if lastMin < anomalyFloor || lastMin <= prevMin*3 {
		return nil
	}

	growth := float64(lastMin)
	if prevMin > 0 {
		growth = float64(lastMin) / float64(prevMin)
	}
	return []domain.Pattern{{
		Type:            domain.PatternAnomaly,
		Confidence:      math.Min(1, growth/10),
		ErrorCount:      lastMin,
		WindowStart:     minuteAgo,
		WindowEnd:       now,
		SuggestedAction: "error rate jumped sharply, check recent deploys and upstream status",
	}}
}

func meanStddev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
