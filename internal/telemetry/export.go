package telemetry

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// exportWindow is a WindowStats with its histograms flattened to entry
// arrays, which is friendlier to downstream tooling than positional arrays.
type exportWindow struct {
	WindowStart       time.Time              `json:"window_start"`
	WindowEnd         time.Time              `json:"window_end"`
	Total             int                    `json:"total"`
	ByCategory        []domain.CategoryEntry `json:"by_category"`
	BySeverity        []severityEntry        `json:"by_severity"`
	ByOperation       []operationEntry       `json:"by_operation"`
	RecoveryAttempts  int                    `json:"recovery_attempts"`
	RecoverySuccesses int                    `json:"recovery_successes"`
	RecoveryRate      float64                `json:"recovery_rate"`
	SilentFailures    int                    `json:"silent_failures"`
	CriticalErrors    int                    `json:"critical_errors"`
}

type severityEntry struct {
	Severity domain.Severity `json:"severity"`
	Count    int             `json:"count"`
}

type operationEntry struct {
	Operation string `json:"operation"`
	Count     int    `json:"count"`
}

type exportDocument struct {
	Metadata struct {
		ExportedAt   time.Time `json:"exported_at"`
		TotalMetrics int       `json:"total_metrics"`
		Format       string    `json:"format"`
		Version      string    `json:"version"`
	} `json:"metadata"`
	Metrics  []domain.Metric  `json:"metrics"`
	Stats    []exportWindow   `json:"stats"`
	Patterns []domain.Pattern `json:"patterns"`
}

// ExportMetrics serializes telemetry state. JSON includes metadata, raw
// metrics, flattened window stats and detected patterns; CSV is a
// fixed-column dump of the raw metrics only.
func (s *System) ExportMetrics(format string) ([]byte, error) {
	switch format {
	case "json":
		return s.exportJSON()
	case "csv":
		return s.exportCSV()
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func (s *System) exportJSON() ([]byte, error) {
	raw := s.Metrics()
	windows := s.Windows()
	patterns := s.Patterns()

	doc := exportDocument{
		Metrics:  raw,
		Patterns: patterns,
	}
	doc.Metadata.ExportedAt = time.Now()
	doc.Metadata.TotalMetrics = len(raw)
	doc.Metadata.Format = "json"
	doc.Metadata.Version = "1"

	keys := make([]int64, 0, len(windows))
	for k := range windows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	doc.Stats = make([]exportWindow, 0, len(keys))
	for _, k := range keys {
		doc.Stats = append(doc.Stats, flattenWindow(windows[k]))
	}

	return json.MarshalIndent(doc, "", "  ")
}

func flattenWindow(w domain.WindowStats) exportWindow {
	out := exportWindow{
		WindowStart:       w.WindowStart,
		WindowEnd:         w.WindowEnd,
		Total:             w.Total,
		RecoveryAttempts:  w.RecoveryAttempts,
		RecoverySuccesses: w.RecoverySuccesses,
		RecoveryRate:      w.RecoveryRate,
		SilentFailures:    w.SilentFailures,
		CriticalErrors:    w.CriticalErrors,
	}

	for i, count := range w.ByCategory {
		if count > 0 {
			out.ByCategory = append(out.ByCategory, domain.CategoryEntry{
				Category: domain.Categories[i],
				Count:    count,
			})
		}
	}
	for i, count := range w.BySeverity {
		if count > 0 {
			out.BySeverity = append(out.BySeverity, severityEntry{
				Severity: domain.Severities[i],
				Count:    count,
			})
		}
	}

	ops := make([]string, 0, len(w.ByOperation))
	for op := range w.ByOperation {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		out.ByOperation = append(out.ByOperation, operationEntry{Operation: op, Count: w.ByOperation[op]})
	}
	return out
}

var csvHeader = []string{
	"timestamp",
	"category",
	"severity",
	"operation",
	"session_id",
	"recovery_attempted",
	"recovery_success",
	"recovery_duration_ms",
}

func (s *System) exportCSV() ([]byte, error) {
	raw := s.Metrics()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, m := range raw {
		record := []string{
			m.Timestamp.Format(time.RFC3339),
			string(m.Category),
			string(m.Severity),
			m.Operation,
			m.SessionID,
			strconv.FormatBool(m.RecoveryAttempted),
			strconv.FormatBool(m.RecoverySuccess),
			strconv.FormatInt(m.RecoveryDuration.Milliseconds(), 10),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv flush failed: %w", err)
	}
	return buf.Bytes(), nil
}
