// Package daemon runs the long-lived process: the executor poll loop, the
// stuck-execution watchdog and the metrics endpoint, coordinated as one
// actor group so any actor's exit shuts the whole process down cleanly.
package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/oklog/run"

	"github.com/yairfalse/vahti/executor"
	"github.com/yairfalse/vahti/telemetry"
)

const executorActor = "system:executor"

// Config holds daemon configuration
type Config struct {
	MetricsPort      int
	ExecutorInterval time.Duration
	WatchdogInterval time.Duration
}

// Daemon manages the continuous execution loops.
type Daemon struct {
	runner   *executor.Runner
	watchdog *executor.Watchdog
	config   Config
	logger   *telemetry.Logger

	startTime     time.Time
	executedCount atomic.Int64
	sweepCount    atomic.Int64
}

// New creates a daemon. Zero intervals get sane defaults.
func New(runner *executor.Runner, watchdog *executor.Watchdog, config Config) *Daemon {
	if config.ExecutorInterval <= 0 {
		config.ExecutorInterval = 30 * time.Second
	}
	if config.WatchdogInterval <= 0 {
		config.WatchdogInterval = time.Minute
	}
	if config.MetricsPort <= 0 {
		config.MetricsPort = 9090
	}
	return &Daemon{
		runner:    runner,
		watchdog:  watchdog,
		config:    config,
		logger:    telemetry.NewLogger("daemon"),
		startTime: time.Now(),
	}
}

// Run blocks until ctx is cancelled or an actor fails. Interrupt signals
// are handled by the caller's ctx.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var group run.Group

	group.Add(func() error {
		return d.executorLoop(ctx)
	}, func(error) {
		cancel()
	})

	group.Add(func() error {
		return d.watchdogLoop(ctx)
	}, func(error) {
		cancel()
	})

	d.addMetricsServer(&group)

	d.logger.Info().
		Int("metrics_port", d.config.MetricsPort).
		Dur("executor_interval", d.config.ExecutorInterval).
		Dur("watchdog_interval", d.config.WatchdogInterval).
		Msg("daemon starting")

	return group.Run()
}

// executorLoop drains approved proposals on a fixed interval.
func (d *Daemon) executorLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.config.ExecutorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			executed, err := d.runner.RunPending(ctx, executorActor)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error().Err(err).Msg("executor drain failed")
				continue
			}
			if executed > 0 {
				d.executedCount.Add(int64(executed))
				d.logger.WithContext(ctx).Info().
					Int("executed", executed).
					Msg("approved proposals executed")
			}
		}
	}
}

// watchdogLoop sweeps for stuck executions on a fixed interval.
func (d *Daemon) watchdogLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			failed, err := d.watchdog.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error().Err(err).Msg("watchdog sweep failed")
				continue
			}
			d.sweepCount.Add(1)
			if failed > 0 {
				d.logger.WithContext(ctx).Warn().
					Int("failed", failed).
					Msg("stuck executions failed by watchdog")
			}
		}
	}
}

// HealthStatus is the /healthz payload.
type HealthStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Executed      int64  `json:"executed"`
	Sweeps        int64  `json:"sweeps"`
}

// Health returns a snapshot of the daemon state.
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(d.startTime).Seconds()),
		Executed:      d.executedCount.Load(),
		Sweeps:        d.sweepCount.Load(),
	}
}
