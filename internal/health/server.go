package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/retro"
	"github.com/vietddude/faultline/internal/usermsg"
)

// RetroRunner triggers and inspects retroactive recovery.
type RetroRunner interface {
	Run(ctx context.Context) (retro.RunStats, error)
	Entries() []*domain.LogEntry
}

// TelemetryViewer serves the dashboard, pattern and export endpoints.
type TelemetryViewer interface {
	Dashboard() domain.DashboardSnapshot
	Patterns() []domain.Pattern
	ActiveAlerts() []domain.ActiveAlert
	ExportMetrics(format string) ([]byte, error)
}

// Archive is the durable error log backing history queries.
type Archive interface {
	Count(ctx context.Context) (int, error)
	Since(ctx context.Context, since time.Time) ([]*domain.ClassifiedError, error)
}

// Server provides the HTTP surface for health and recovery operations.
type Server struct {
	monitor   *Monitor
	retro     RetroRunner
	telemetry TelemetryViewer
	archive   Archive
	log       *slog.Logger
	server    *http.Server
}

// NewServer creates the HTTP server. retro, telemetry and archive may be nil;
// the corresponding endpoints then return 503.
func NewServer(monitor *Monitor, retroRunner RetroRunner, telemetry TelemetryViewer, archive Archive, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		monitor:   monitor,
		retro:     retroRunner,
		telemetry: telemetry,
		archive:   archive,
		log:       log,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/dashboard", s.handleDashboard)
	mux.HandleFunc("/patterns", s.handlePatterns)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/notices", s.handleNotices)
	mux.HandleFunc("/recovery/retroactive", s.handleRetroactive)
	mux.HandleFunc("/recovery/wal", s.handleWAL)
	mux.HandleFunc("/archive", s.handleArchive)
	mux.HandleFunc("/export", s.handleExport)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth()

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": string(report.Status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.CheckHealth())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		http.Error(w, "telemetry disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.telemetry.Dashboard())
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		http.Error(w, "telemetry disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.telemetry.Patterns())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		http.Error(w, "telemetry disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.telemetry.ActiveAlerts())
}

// handleRetroactive kicks off a retroactive recovery pass. The pass is
// single-flight; a second request while one runs gets 409.
func (s *Server) handleRetroactive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.retro == nil {
		http.Error(w, "retroactive recovery disabled", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.retro.Run(r.Context())
	if errors.Is(err, retro.ErrRecoveryInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.log.Error("retroactive recovery failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// handleNotices renders the user-facing notice for each recent error, the
// shape the desktop client shows in its toast area.
func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	type item struct {
		ErrorID  string          `json:"error_id"`
		Category domain.Category `json:"category"`
		Severity domain.Severity `json:"severity"`
		Notice   usermsg.Notice  `json:"notice"`
	}
	errs := s.monitor.RecentErrors()
	out := make([]item, 0, len(errs))
	for _, e := range errs {
		out = append(out, item{
			ErrorID:  e.ID,
			Category: e.Category,
			Severity: e.Severity,
			Notice:   usermsg.For(e),
		})
	}
	writeJSON(w, out)
}

// handleArchive serves the durable error history. since defaults to the last
// 24 hours; RFC3339 timestamps are accepted.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive disabled", http.StatusServiceUnavailable)
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		since = t
	}

	count, err := s.archive.Count(r.Context())
	if err != nil {
		s.log.Error("failed to count archive", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	errs, err := s.archive.Since(r.Context(), since)
	if err != nil {
		s.log.Error("failed to query archive", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, struct {
		Total  int                       `json:"total"`
		Since  time.Time                 `json:"since"`
		Errors []*domain.ClassifiedError `json:"errors"`
	}{Total: count, Since: since, Errors: errs})
}

func (s *Server) handleWAL(w http.ResponseWriter, r *http.Request) {
	if s.retro == nil {
		http.Error(w, "retroactive recovery disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.retro.Entries())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		http.Error(w, "telemetry disabled", http.StatusServiceUnavailable)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	data, err := s.telemetry.ExportMetrics(format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="metrics.csv"`)
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
