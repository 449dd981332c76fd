package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/executor"
	"github.com/yairfalse/vahti/executor/awsec2"
	"github.com/yairfalse/vahti/internal/daemon"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

var daemonMetricsPort int

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the execution daemon",
	Long: `Run Vahti in daemon mode.

The daemon continuously drains approved proposals through their
executors, sweeps for stuck executions, and serves Prometheus metrics.

Features:
- Executor poll loop for approved proposals
- Watchdog that fails executions stuck past their timeout
- Prometheus metrics on /metrics, health on /healthz
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  vahti daemon                       # Run with config defaults
  vahti daemon --metrics-port 9090   # Custom metrics port`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().IntVar(&daemonMetricsPort, "metrics-port", 0, "Metrics HTTP server port (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "vahti",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdown(shutdownCtx)
	}()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	runner := executor.NewRunner(app.store, app.auditLog, executor.Options{
		ActionTimeout: app.cfg.Actions.ActionTimeout,
	})
	if err := registerExecutors(ctx, app, runner); err != nil {
		return err
	}

	watchdog := executor.NewWatchdog(app.store, app.auditLog, app.cfg.Daemon.StuckTimeout)

	metricsPort := app.cfg.Daemon.MetricsPort
	if daemonMetricsPort > 0 {
		metricsPort = daemonMetricsPort
	}

	d := daemon.New(runner, watchdog, daemon.Config{
		MetricsPort:      metricsPort,
		ExecutorInterval: app.cfg.Daemon.ExecutorInterval,
		WatchdogInterval: app.cfg.Daemon.WatchdogInterval,
	})

	fmt.Println("Vahti daemon running (Ctrl+C to stop)...")
	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	fmt.Println("Daemon stopped")
	return nil
}

// registerExecutors wires the configured action executors.
func registerExecutors(ctx context.Context, app *app, runner *executor.Runner) error {
	if app.cfg.Actions.QuarantineGroupID == "" {
		return nil
	}

	isolator, err := awsec2.NewIsolatorFromEnv(ctx, app.cfg.Region, app.cfg.Actions.QuarantineGroupID)
	if err != nil {
		return fmt.Errorf("failed to create EC2 isolator: %w", err)
	}
	runner.Register(types.ActionIsolateHost, isolator)
	return nil
}
