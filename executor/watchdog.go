package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/registry"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// DefaultStuckTimeout is how long a proposal may sit in executing before the
// watchdog declares it stuck.
const DefaultStuckTimeout = 10 * time.Minute

const watchdogActor = "system:watchdog"

// Watchdog fails proposals stuck in executing, typically after a process
// crash mid-action. Without it a crashed execution would hold its target's
// active slot forever.
type Watchdog struct {
	store        *registry.Store
	auditLog     *audit.Log
	stuckTimeout time.Duration
	logger       *telemetry.Logger
}

// NewWatchdog creates a watchdog. stuckTimeout zero means
// DefaultStuckTimeout.
func NewWatchdog(store *registry.Store, auditLog *audit.Log, stuckTimeout time.Duration) *Watchdog {
	if stuckTimeout <= 0 {
		stuckTimeout = DefaultStuckTimeout
	}
	return &Watchdog{
		store:        store,
		auditLog:     auditLog,
		stuckTimeout: stuckTimeout,
		logger:       telemetry.NewLogger("watchdog"),
	}
}

// Sweep fails every executing proposal older than the stuck timeout. Returns
// the number of proposals failed. Proposals that finish between the list and
// the transition lose the CAS and are skipped.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	executing, err := w.store.ListByStatus(types.StatusExecuting)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-w.stuckTimeout)
	failed := 0
	for i := range executing {
		p := &executing[i]
		startedAt := p.ExecutionStarted
		if startedAt.IsZero() {
			startedAt = p.DecidedAt
		}
		if !startedAt.Before(cutoff) {
			continue
		}

		detail := fmt.Sprintf("execution stuck since %s, failed by watchdog", startedAt.Format(time.RFC3339))
		_, err := w.store.Transition(p.ID, types.StatusExecuting, types.StatusFailed, func(p *types.ActionProposal) {
			p.Result = &types.ExecutionResult{
				Error:       detail,
				CompletedAt: time.Now(),
			}
		})
		if err != nil {
			if _, ok := err.(*types.InvalidTransitionError); ok {
				continue
			}
			return failed, err
		}

		if err := w.auditLog.Append(audit.Entry{
			Event:      audit.EventTransition,
			Actor:      watchdogActor,
			ProposalID: p.ID,
			Target:     p.Target,
			FromStatus: types.StatusExecuting,
			ToStatus:   types.StatusFailed,
			Detail:     detail,
		}); err != nil {
			w.logger.Error().Err(err).Str("proposal_id", p.ID).Msg("audit append failed")
		}

		w.logger.WithContext(ctx).Warn().
			Str("proposal_id", p.ID).
			Str("target", p.Target).
			Time("execution_started", startedAt).
			Msg("stuck execution failed by watchdog")
		failed++
	}

	return failed, nil
}
