package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/executor"
	"github.com/yairfalse/vahti/registry"
	"github.com/yairfalse/vahti/types"
)

type stubExecutor struct{}

func (stubExecutor) Execute(context.Context, executor.ActionRequest) (executor.ActionOutcome, error) {
	return executor.ActionOutcome{Detail: "done"}, nil
}

func (stubExecutor) CheckState(context.Context, string) (executor.StateProbe, error) {
	return executor.StateProbe{}, nil
}

func newDaemonFixture(t *testing.T) (*Daemon, *registry.Store) {
	t.Helper()

	store, err := registry.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	auditLog, err := audit.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	runner := executor.NewRunner(store, auditLog, executor.Options{})
	runner.Register(types.ActionIsolateHost, stubExecutor{})
	watchdog := executor.NewWatchdog(store, auditLog, time.Minute)

	d := New(runner, watchdog, Config{
		ExecutorInterval: 10 * time.Millisecond,
		WatchdogInterval: 10 * time.Millisecond,
	})
	return d, store
}

func seedApproved(t *testing.T, store *registry.Store, id, target string) {
	t.Helper()
	_, err := store.InsertOrSupersede(&types.ActionProposal{
		ID:         id,
		ActionType: types.ActionIsolateHost,
		Target:     target,
		Confidence: 0.95,
		Evidence:   []string{"ref-1"},
		Reason:     "test",
		CreatedBy:  "test",
		CreatedAt:  time.Now(),
		Status:     types.StatusApproved,
	})
	require.NoError(t, err)
}

func TestExecutorLoopDrainsApproved(t *testing.T) {
	d, store := newDaemonFixture(t)
	seedApproved(t, store, "prop-1", "host-1")
	seedApproved(t, store, "prop-2", "host-2")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := d.executorLoop(ctx)
	require.NoError(t, err)

	executed, err := store.ListByStatus(types.StatusExecuted)
	require.NoError(t, err)
	assert.Len(t, executed, 2)
	assert.Equal(t, int64(2), d.executedCount.Load())
}

func TestWatchdogLoopSweeps(t *testing.T) {
	d, store := newDaemonFixture(t)

	seedApproved(t, store, "prop-3", "host-3")
	_, err := store.Transition("prop-3", types.StatusApproved, types.StatusExecuting, func(p *types.ActionProposal) {
		p.ExecutionStarted = time.Now().Add(-time.Hour)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = d.watchdogLoop(ctx)
	require.NoError(t, err)

	p, err := store.Get("prop-3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, p.Status)
	assert.Positive(t, d.sweepCount.Load())
}

func TestHealth(t *testing.T) {
	d, _ := newDaemonFixture(t)

	health := d.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.GreaterOrEqual(t, health.UptimeSeconds, int64(0))
}

func TestNewDefaults(t *testing.T) {
	d, _ := newDaemonFixture(t)
	assert.Equal(t, 9090, d.config.MetricsPort)

	d2 := New(nil, nil, Config{})
	assert.Equal(t, 30*time.Second, d2.config.ExecutorInterval)
	assert.Equal(t, time.Minute, d2.config.WatchdogInterval)
}
