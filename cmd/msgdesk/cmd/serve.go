package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/msgdesk/msgdesk/internal/api"
	"github.com/msgdesk/msgdesk/internal/query"
	"github.com/msgdesk/msgdesk/internal/scheduler"
	"github.com/msgdesk/msgdesk/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the msgdesk API server",
	Long: `Run msgdesk as a long-running daemon serving the HTTP API and, unless
disabled, the callback reminder sweep.

Configure in config.toml:
  [server]
  api_port = 8080
  api_key = "..."

  [reminders]
  enabled = true
  schedule = "*/15 * * * *"   # cron format
  window_min = 60

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	dbPath := cfg.DatabasePath()
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	if err := s.InitSchema(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	caps := store.NewCapabilities(s, logger)
	engine := query.NewEngine(s, caps, logger)

	var sweep *scheduler.Sweeper
	if cfg.Reminders.Enabled {
		window := time.Duration(cfg.ReminderWindow()) * time.Minute
		sweep, err = scheduler.New(engine, cfg.Reminders.Schedule, window)
		if err != nil {
			return fmt.Errorf("configure reminder sweep: %w", err)
		}
		sweep.WithLogger(logger).Start()
	}

	var sweepIface api.ReminderSweep
	if sweep != nil {
		sweepIface = sweep
	}
	server := api.NewServer(cfg, engine, sweepIface, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	if sweep != nil {
		select {
		case <-sweep.Stop().Done():
		case <-time.After(10 * time.Second):
			logger.Warn("reminder sweep did not stop in time")
		}
	}

	return nil
}
