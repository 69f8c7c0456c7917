package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/seatswap/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/seatswap/internal/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the reconciliation loop",
	Long: `Log in to StudentLink and keep the enrollment in line with the desired
state until interrupted.

Every cycle re-reads the spec file, so entries can be added or removed while
seatswap runs. A spec that names unknown sections or sections you cannot
drop is rejected and the previous one stays in force.

Examples:
  # Start with config file settings
  seatswap start

  # Run one cycle and exit
  seatswap start --once

  # Verbose logging
  seatswap start --dev`,
	RunE: runStart,
}

var (
	devMode   bool
	startOnce bool
)

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging)")
	startCmd.Flags().BoolVar(&startOnce, "once", false, "Run a single reconciliation cycle and exit")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(devMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger, cmd.OutOrStdout()); err != nil {
		return err
	}
	logger.Info("seatswap stopped")
	return nil
}

// run wires the components and drives the loop until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.limiter.StartCleanup(ctx)

	// The worker outlives ctx so the final "stopped" notice is delivered.
	a.notifier.Start(context.Background())
	defer a.notifier.Stop()

	if cfg.Metrics.Addr != "" {
		health := http.NewHealthChecker(
			http.WithSession(a.session),
			http.WithReconciler(a.reconciler, a.durations.Interval),
			http.WithQueue(a.notifier),
			http.WithVersion(Version),
		)
		srv := http.NewServer(a.registry,
			http.WithAddr(cfg.Metrics.Addr),
			http.WithLogger(logger.With("component", "metrics")),
			http.WithHealthChecker(health),
		)
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.Start(srvCtx); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	logger.Info("seatswap starting",
		"term", a.term,
		"spec", a.specs.Path(),
		"state", a.state.Path(),
		"journal", journalPath(cfg),
	)

	if err := a.session.Login(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.reconciler.Abort(err)
		return fmt.Errorf("login: %w", err)
	}

	if startOnce {
		if err := a.reconciler.LoadCheckpoint(ctx); err != nil {
			logger.Warn("ignoring checkpoint", "error", err)
		}
		report, err := a.reconciler.RunCycle(ctx)
		if report != nil {
			printReport(out, report)
		}
		return err
	}

	return a.reconciler.Run(ctx)
}

func journalPath(cfg *config.Config) string {
	if !cfg.JournalEnabled() {
		return "off"
	}
	return cfg.Journal.Path
}

// pidFilePath returns the standard location for the seatswap PID file.
func pidFilePath() string {
	return filepath.Join(config.DataDir(), "seatswap.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0600)
}

// readPIDFile reads a PID from the given file path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
