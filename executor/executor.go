// Package executor drives approved proposals through their external action
// calls. Execution is strictly state-machine driven: a proposal is claimed
// with a compare-and-swap to executing, the action runs under a timeout, and
// the outcome lands the proposal in executed or failed. Both landings are
// terminal; retries go through a fresh proposal.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/registry"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// DefaultActionTimeout bounds a single external action call.
const DefaultActionTimeout = 60 * time.Second

// ActionRequest carries everything an executor needs for one call.
type ActionRequest struct {
	ProposalID string
	ActionType types.ActionType
	Target     string
	Reason     string
}

// ActionOutcome is what a successful executor call reports back.
type ActionOutcome struct {
	Detail                string
	AlreadyInDesiredState bool
}

// StateProbe reports whether the target is already in the state the action
// would put it in.
type StateProbe struct {
	InDesiredState bool
	Detail         string
}

// ActionExecutor performs one action type against the outside world.
// Implementations must be idempotent: executing against a target that is
// already contained reports success, not an error.
type ActionExecutor interface {
	// Execute performs the action. ctx carries the per-action deadline.
	Execute(ctx context.Context, req ActionRequest) (ActionOutcome, error)

	// CheckState probes the target before executing so an already-contained
	// target is not acted on twice.
	CheckState(ctx context.Context, target string) (StateProbe, error)
}

// Options tunes the runner.
type Options struct {
	// ActionTimeout bounds each external call. Zero means
	// DefaultActionTimeout.
	ActionTimeout time.Duration
}

// Runner claims approved proposals and executes them. It is safe for
// concurrent use; the registry CAS guarantees each proposal is executed at
// most once even when multiple runners race.
type Runner struct {
	mu        sync.RWMutex
	executors map[types.ActionType]ActionExecutor
	store     *registry.Store
	auditLog  *audit.Log
	options   Options
	logger    *telemetry.Logger
	tracer    trace.Tracer
}

// NewRunner creates a runner with no executors registered.
func NewRunner(store *registry.Store, auditLog *audit.Log, options Options) *Runner {
	if options.ActionTimeout <= 0 {
		options.ActionTimeout = DefaultActionTimeout
	}
	return &Runner{
		executors: make(map[types.ActionType]ActionExecutor),
		store:     store,
		auditLog:  auditLog,
		options:   options,
		logger:    telemetry.NewLogger("executor"),
		tracer:    otel.Tracer("executor"),
	}
}

// Register installs the executor for an action type, replacing any previous
// one.
func (r *Runner) Register(actionType types.ActionType, exec ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[actionType] = exec
}

func (r *Runner) executorFor(actionType types.ActionType) (ActionExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[actionType]
	return exec, ok
}

// ExecuteProposal claims one approved proposal and runs it to a terminal
// state. Race losers and proposals not in approved state receive
// InvalidTransitionError. A failed action returns ExecutionError after the
// proposal has landed in failed.
func (r *Runner) ExecuteProposal(ctx context.Context, id, actor string) (*types.ActionProposal, error) {
	ctx, span := r.tracer.Start(ctx, "executor.execute_proposal",
		trace.WithAttributes(attribute.String("proposal_id", id)))
	defer span.End()

	now := time.Now()
	p, err := r.store.Transition(id, types.StatusApproved, types.StatusExecuting, func(p *types.ActionProposal) {
		p.ExecutionStarted = now
	})
	if err != nil {
		return nil, err
	}

	r.appendAudit(audit.Entry{
		Event:      audit.EventTransition,
		Actor:      actor,
		ProposalID: p.ID,
		Target:     p.Target,
		FromStatus: types.StatusApproved,
		ToStatus:   types.StatusExecuting,
	})

	exec, ok := r.executorFor(p.ActionType)
	if !ok {
		result := &types.ExecutionResult{
			Error:       fmt.Sprintf("no executor registered for action type %s", p.ActionType),
			CompletedAt: time.Now(),
		}
		return r.land(ctx, p, actor, result)
	}

	result := r.runAction(ctx, exec, p)
	return r.land(ctx, p, actor, result)
}

// runAction probes the target, then executes under the action timeout.
func (r *Runner) runAction(ctx context.Context, exec ActionExecutor, p *types.ActionProposal) *types.ExecutionResult {
	actionCtx, cancel := context.WithTimeout(ctx, r.options.ActionTimeout)
	defer cancel()

	start := time.Now()

	probe, err := exec.CheckState(actionCtx, p.Target)
	if err == nil && probe.InDesiredState {
		return &types.ExecutionResult{
			Success:               true,
			Detail:                probe.Detail,
			AlreadyInDesiredState: true,
			CompletedAt:           time.Now(),
		}
	}
	// A probe failure is not fatal, the action call decides the outcome.

	outcome, err := exec.Execute(actionCtx, ActionRequest{
		ProposalID: p.ID,
		ActionType: p.ActionType,
		Target:     p.Target,
		Reason:     p.Reason,
	})
	recordHistogram(ctx, telemetry.ExecutionDuration, time.Since(start).Seconds(),
		attribute.String("action_type", string(p.ActionType)))

	if err != nil {
		return &types.ExecutionResult{
			Error:       err.Error(),
			TimedOut:    actionCtx.Err() == context.DeadlineExceeded,
			CompletedAt: time.Now(),
		}
	}

	return &types.ExecutionResult{
		Success:               true,
		Detail:                outcome.Detail,
		AlreadyInDesiredState: outcome.AlreadyInDesiredState,
		CompletedAt:           time.Now(),
	}
}

// land moves an executing proposal to its terminal state and audits it.
func (r *Runner) land(ctx context.Context, p *types.ActionProposal, actor string, result *types.ExecutionResult) (*types.ActionProposal, error) {
	target := types.StatusExecuted
	if !result.Success {
		target = types.StatusFailed
	}

	landed, err := r.store.Transition(p.ID, types.StatusExecuting, target, func(p *types.ActionProposal) {
		p.Result = result
	})
	if err != nil {
		return nil, err
	}

	detail := result.Detail
	if !result.Success {
		detail = result.Error
	}
	r.appendAudit(audit.Entry{
		Event:      audit.EventTransition,
		Actor:      actor,
		ProposalID: landed.ID,
		Target:     landed.Target,
		FromStatus: types.StatusExecuting,
		ToStatus:   target,
		Detail:     detail,
	})
	r.logger.LogExecution(ctx, landed.ID, landed.Target, result.Success, detail)
	recordActiveGauge(ctx, r.store)

	if result.Success {
		addCounter(ctx, telemetry.ProposalsExecuted, 1,
			attribute.String("action_type", string(landed.ActionType)))
		return landed, nil
	}

	addCounter(ctx, telemetry.ProposalsFailed, 1,
		attribute.String("action_type", string(landed.ActionType)))
	return landed, &types.ExecutionError{
		ProposalID: landed.ID,
		ActionType: landed.ActionType,
		Target:     landed.Target,
		Detail:     result.Error,
		TimedOut:   result.TimedOut,
	}
}

// RunPending executes every approved proposal once. Failures of individual
// proposals do not stop the drain; the count of proposals that reached
// executed is returned.
func (r *Runner) RunPending(ctx context.Context, actor string) (int, error) {
	approved, err := r.store.ListByStatus(types.StatusApproved)
	if err != nil {
		return 0, err
	}

	executed := 0
	for i := range approved {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		landed, err := r.ExecuteProposal(ctx, approved[i].ID, actor)
		if err != nil {
			if _, ok := err.(*types.InvalidTransitionError); ok {
				// Another runner claimed it first.
				continue
			}
			r.logger.WithContext(ctx).Error().
				Err(err).
				Str("proposal_id", approved[i].ID).
				Msg("proposal execution failed")
			continue
		}
		if landed.Status == types.StatusExecuted {
			executed++
		}
	}
	return executed, nil
}

func (r *Runner) appendAudit(entry audit.Entry) {
	if err := r.auditLog.Append(entry); err != nil {
		r.logger.Error().
			Err(err).
			Str("proposal_id", entry.ProposalID).
			Msg("audit append failed")
	}
}

func addCounter(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attrs...))
}

func recordHistogram(ctx context.Context, hist metric.Float64Histogram, v float64, attrs ...attribute.KeyValue) {
	if hist == nil {
		return
	}
	hist.Record(ctx, v, metric.WithAttributes(attrs...))
}

func recordActiveGauge(ctx context.Context, store *registry.Store) {
	if telemetry.ActiveProposals == nil {
		return
	}
	telemetry.ActiveProposals.Record(ctx, int64(store.ActiveCount()))
}
