package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/faultline/internal/core/config"
	"github.com/vietddude/faultline/internal/retro"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Trigger a retroactive recovery pass on a running service",
	Run:   runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("http://localhost:%d/recovery/retroactive", cfg.Server.Port)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		slog.Error("Failed to reach service", "url", url, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusConflict {
		slog.Warn("A retroactive pass is already running")
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("Recovery request failed", "status", resp.StatusCode, "body", string(body))
		os.Exit(1)
	}

	var stats retro.RunStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		slog.Error("Failed to decode run stats", "error", err)
		os.Exit(1)
	}

	slog.Info("Retroactive pass complete",
		"candidates", stats.Candidates,
		"processed", stats.Processed,
		"recovered", stats.Recovered,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", stats.Duration,
	)
}
