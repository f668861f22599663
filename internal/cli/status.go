package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/faultline/internal/core/config"
	"github.com/vietddude/faultline/internal/health"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current health of a running service",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("http://localhost:%d/health/detailed", cfg.Server.Port)
	resp, err := http.Get(url)
	if err != nil {
		slog.Error("Failed to reach service", "url", url, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		slog.Error("Failed to decode health report", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tERRORS(5M)\tCRITICAL\tWAL\tSILENT\tALERTS")
	_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
		report.Status,
		report.Errors.LastFiveMinutes,
		report.Errors.CriticalRecent,
		report.WAL.TotalEntries,
		report.WAL.SilentFailures,
		len(report.Alerts),
	)
	_ = w.Flush()
}
