// Package engine wires the pipeline together: gather evidence, correlate,
// gate, and hand the proposal to the registry. It is also the operator
// surface for approve/reject and config updates. Every state change flows
// through the audit log.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/correlator"
	"github.com/yairfalse/vahti/gateway"
	"github.com/yairfalse/vahti/policy"
	"github.com/yairfalse/vahti/registry"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// EvidenceGatherer abstracts the gateway for testing.
type EvidenceGatherer interface {
	Gather(ctx context.Context, target string) gateway.Evidence
}

// Engine orchestrates proposal creation and lifecycle operations.
type Engine struct {
	gatherer EvidenceGatherer
	store    *registry.Store
	auditLog *audit.Log
	guard    *policy.Guard
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// New creates an engine. guard may be nil when no guard policies are
// configured.
func New(gatherer EvidenceGatherer, store *registry.Store, auditLog *audit.Log, guard *policy.Guard) *Engine {
	return &Engine{
		gatherer: gatherer,
		store:    store,
		auditLog: auditLog,
		guard:    guard,
		logger:   telemetry.NewLogger("engine"),
		tracer:   otel.Tracer("engine"),
	}
}

// ProposeRequest asks the engine to evaluate a target for containment.
type ProposeRequest struct {
	Target     string
	ActionType types.ActionType
	CreatedBy  string
}

// Outcome reports what Propose decided. Proposal is nil for monitor-only
// outcomes; Confidence and Factors are always populated so callers can see
// why.
type Outcome struct {
	Proposal     *types.ActionProposal
	Decision     GateDecision
	Confidence   float64
	Factors      []types.CorrelationFactor
	SupersededID string
}

// Propose runs the full pipeline for one target. It returns
// ErrInsufficientEvidence when no alerts exist, ErrMonitorOnly when
// confidence sits below the review threshold, and DuplicateTargetError when
// the target already has an active proposal the newcomer cannot supersede
// (the new evidence is attached to it). The caller deadline bounds evidence
// gathering; a timed-out gather simply yields fewer alerts.
func (e *Engine) Propose(ctx context.Context, req ProposeRequest) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.propose",
		trace.WithAttributes(
			attribute.String("target", req.Target),
			attribute.String("action_type", string(req.ActionType))))
	defer span.End()

	start := time.Now()
	evidence := e.gatherer.Gather(ctx, req.Target)
	result := correlator.Correlate(evidence.Alerts, evidence.Failures)
	recordHistogram(ctx, telemetry.CorrelationDuration, time.Since(start).Seconds())

	outcome := &Outcome{Confidence: result.Confidence, Factors: result.Factors}

	if len(evidence.Alerts) == 0 {
		outcome.Decision = GateMonitorOnly
		e.auditMonitorOnly(req, result.Confidence, "no alerts found for target")
		addCounter(ctx, telemetry.MonitorOnlyOutcomes, 1)
		return outcome, fmt.Errorf("target %s: %w", req.Target, types.ErrInsufficientEvidence)
	}

	// Read the config after gathering so a force-flag flip during a slow
	// fetch is still observed.
	cfg := e.store.EngineConfig()
	decision := Gate(result.Confidence, cfg)
	outcome.Decision = decision

	if decision == GateMonitorOnly {
		e.auditMonitorOnly(req, result.Confidence,
			fmt.Sprintf("confidence %.2f below review threshold %.2f", result.Confidence, cfg.ReviewThreshold))
		addCounter(ctx, telemetry.MonitorOnlyOutcomes, 1)
		return outcome, fmt.Errorf("target %s: %w", req.Target, types.ErrMonitorOnly)
	}

	// The force flag can route a zero-score correlation past the gate, but
	// with no fired rules there is no evidence to put on a proposal.
	if len(result.Evidence) == 0 {
		outcome.Decision = GateMonitorOnly
		e.auditMonitorOnly(req, result.Confidence, "no correlation rules matched the alerts")
		addCounter(ctx, telemetry.MonitorOnlyOutcomes, 1)
		return outcome, fmt.Errorf("target %s: %w", req.Target, types.ErrInsufficientEvidence)
	}

	proposal, err := e.buildProposal(ctx, req, result, cfg, decision)
	if err != nil {
		return outcome, err
	}
	outcome.Decision = gateDecisionFor(proposal)

	insert, err := e.store.InsertOrSupersede(proposal)
	if err != nil {
		if dup, ok := err.(*types.DuplicateTargetError); ok {
			e.appendAudit(audit.Entry{
				Event:      audit.EventEvidenceAttached,
				Actor:      req.CreatedBy,
				ProposalID: dup.ActiveProposalID,
				Target:     req.Target,
				Detail:     fmt.Sprintf("duplicate proposal at confidence %.2f, evidence merged", proposal.Confidence),
			})
		}
		return outcome, err
	}

	if insert.SupersededID != "" {
		outcome.SupersededID = insert.SupersededID
		e.appendAudit(audit.Entry{
			Event:      audit.EventSuperseded,
			Actor:      req.CreatedBy,
			ProposalID: insert.SupersededID,
			Target:     req.Target,
			ToStatus:   types.StatusRejected,
			Detail:     fmt.Sprintf("superseded by %s at confidence %.2f", proposal.ID, proposal.Confidence),
		})
	}

	e.appendAudit(audit.Entry{
		Event:      audit.EventProposalCreated,
		Actor:      req.CreatedBy,
		ProposalID: proposal.ID,
		Target:     proposal.Target,
		ToStatus:   proposal.Status,
		Detail:     proposal.Reason,
	})

	addCounter(ctx, telemetry.ProposalsCreated, 1,
		attribute.String("action_type", string(proposal.ActionType)),
		attribute.String("initial_status", string(proposal.Status)))
	recordActiveGauge(ctx, e.store)

	e.logger.WithContext(ctx).Info().
		Str("proposal_id", proposal.ID).
		Str("target", proposal.Target).
		Float64("confidence", proposal.Confidence).
		Str("status", string(proposal.Status)).
		Bool("requires_approval", proposal.RequiresApproval).
		Msg("proposal created")

	outcome.Proposal = proposal
	return outcome, nil
}

// Preview runs gather, correlate and gate without persisting or auditing
// anything. The returned outcome shows what Propose would decide right now.
func (e *Engine) Preview(ctx context.Context, req ProposeRequest) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.preview",
		trace.WithAttributes(attribute.String("target", req.Target)))
	defer span.End()

	evidence := e.gatherer.Gather(ctx, req.Target)
	result := correlator.Correlate(evidence.Alerts, evidence.Failures)

	outcome := &Outcome{Confidence: result.Confidence, Factors: result.Factors}
	if len(evidence.Alerts) == 0 {
		outcome.Decision = GateMonitorOnly
		return outcome, nil
	}

	outcome.Decision = Gate(result.Confidence, e.store.EngineConfig())
	return outcome, nil
}

// buildProposal assembles the immutable proposal from the correlation
// result and the gate decision, consulting guard policies before letting an
// auto-approval stand.
func (e *Engine) buildProposal(ctx context.Context, req ProposeRequest, result correlator.Result,
	cfg types.EngineConfig, decision GateDecision) (*types.ActionProposal, error) {

	p := &types.ActionProposal{
		ID:         "prop-" + uuid.NewString(),
		ActionType: req.ActionType,
		Target:     req.Target,
		Confidence: result.Confidence,
		Evidence:   result.Evidence,
		Reason:     buildReason(result),
		Factors:    result.Factors,
		CreatedBy:  req.CreatedBy,
		CreatedAt:  time.Now(),
	}

	switch decision {
	case GateAutoApprove:
		p.Status = types.StatusApproved
		p.RequiresApproval = false
	case GateReview:
		p.Status = types.StatusPending
		p.RequiresApproval = true
	default:
		return nil, fmt.Errorf("gate decision %s cannot produce a proposal", decision)
	}

	if p.Status == types.StatusApproved && e.guard != nil {
		guardResult, err := e.guard.CheckAutoApprove(ctx, *p, cfg)
		if err != nil {
			return nil, err
		}
		if !guardResult.AllowAutoApprove {
			p.Status = types.StatusPending
			p.RequiresApproval = true
			p.Reason += "; held for review: " + strings.Join(guardResult.Reasons, "; ")
		}
	}

	return p, nil
}

// Approve moves a pending proposal to approved. Idempotent retries and race
// losers receive InvalidTransitionError, never a silent success.
func (e *Engine) Approve(ctx context.Context, id, actor string) (*types.ActionProposal, error) {
	now := time.Now()
	p, err := e.store.Transition(id, types.StatusPending, types.StatusApproved, func(p *types.ActionProposal) {
		p.DecidedBy = actor
		p.DecidedAt = now
	})
	if err != nil {
		e.logger.LogTransitionDenied(ctx, id, actor, err)
		return nil, err
	}

	e.appendAudit(audit.Entry{
		Event:      audit.EventTransition,
		Actor:      actor,
		ProposalID: p.ID,
		Target:     p.Target,
		FromStatus: types.StatusPending,
		ToStatus:   types.StatusApproved,
	})
	addCounter(ctx, telemetry.ProposalsApproved, 1)
	e.logger.LogTransition(ctx, p.ID, actor, string(types.StatusPending), string(types.StatusApproved))

	return p, nil
}

// Reject moves a pending proposal to rejected with the operator's reason.
func (e *Engine) Reject(ctx context.Context, id, actor, reason string) (*types.ActionProposal, error) {
	now := time.Now()
	p, err := e.store.Transition(id, types.StatusPending, types.StatusRejected, func(p *types.ActionProposal) {
		p.DecidedBy = actor
		p.DecidedAt = now
		p.DecisionReason = reason
	})
	if err != nil {
		e.logger.LogTransitionDenied(ctx, id, actor, err)
		return nil, err
	}

	e.appendAudit(audit.Entry{
		Event:      audit.EventTransition,
		Actor:      actor,
		ProposalID: p.ID,
		Target:     p.Target,
		FromStatus: types.StatusPending,
		ToStatus:   types.StatusRejected,
		Detail:     reason,
	})
	addCounter(ctx, telemetry.ProposalsRejected, 1)
	recordActiveGauge(ctx, e.store)
	e.logger.LogTransition(ctx, p.ID, actor, string(types.StatusPending), string(types.StatusRejected))

	return p, nil
}

// ConfigPatch updates a subset of the engine config.
type ConfigPatch struct {
	AutoApproveThreshold *float64
	ReviewThreshold      *float64
	ForceManualApproval  *bool
}

// UpdateConfig validates and applies a config patch. The change is audited
// with before and after values; proposals created after this call observe
// the new config, proposals already past the gate are unaffected.
func (e *Engine) UpdateConfig(ctx context.Context, patch ConfigPatch, actor string) (types.EngineConfig, error) {
	before := e.store.EngineConfig()
	after := before

	if patch.AutoApproveThreshold != nil {
		after.AutoApproveThreshold = *patch.AutoApproveThreshold
	}
	if patch.ReviewThreshold != nil {
		after.ReviewThreshold = *patch.ReviewThreshold
	}
	if patch.ForceManualApproval != nil {
		after.ForceManualApproval = *patch.ForceManualApproval
	}

	if err := after.Validate(); err != nil {
		return before, err
	}

	if err := e.store.SetEngineConfig(after); err != nil {
		return before, err
	}

	e.appendAudit(audit.Entry{
		Event:        audit.EventConfigChanged,
		Actor:        actor,
		ConfigBefore: &before,
		ConfigAfter:  &after,
	})

	e.logger.WithContext(ctx).Info().
		Str("actor", actor).
		Bool("force_manual_approval", after.ForceManualApproval).
		Float64("auto_approve_threshold", after.AutoApproveThreshold).
		Float64("review_threshold", after.ReviewThreshold).
		Msg("engine config updated")

	return after, nil
}

// Config returns the current engine config.
func (e *Engine) Config() types.EngineConfig {
	return e.store.EngineConfig()
}

// Get returns one proposal by id.
func (e *Engine) Get(id string) (*types.ActionProposal, error) {
	return e.store.Get(id)
}

// List returns proposals matching the filter.
func (e *Engine) List(filter registry.Filter) ([]types.ActionProposal, error) {
	return e.store.List(filter)
}

// Helpers

func (e *Engine) auditMonitorOnly(req ProposeRequest, confidence float64, detail string) {
	e.appendAudit(audit.Entry{
		Event:  audit.EventMonitorOnly,
		Actor:  req.CreatedBy,
		Target: req.Target,
		Detail: fmt.Sprintf("%s (confidence %.2f)", detail, confidence),
	})
}

// appendAudit must not lose entries silently, but an audit write failure
// should not undo a committed state change either; it is logged loudly.
func (e *Engine) appendAudit(entry audit.Entry) {
	if err := e.auditLog.Append(entry); err != nil {
		e.logger.Error().
			Err(err).
			Str("event", string(entry.Event)).
			Str("proposal_id", entry.ProposalID).
			Msg("audit append failed")
	}
}

func buildReason(result correlator.Result) string {
	if len(result.Factors) == 0 {
		return fmt.Sprintf("confidence %.2f with no correlation factors", result.Confidence)
	}

	parts := make([]string, 0, len(result.Factors))
	for _, f := range result.Factors {
		parts = append(parts, fmt.Sprintf("%s (+%.2f)", f.Name, f.Weight))
	}
	return fmt.Sprintf("confidence %.2f: %s", result.Confidence, strings.Join(parts, "; "))
}

func gateDecisionFor(p *types.ActionProposal) GateDecision {
	if p.Status == types.StatusApproved {
		return GateAutoApprove
	}
	return GateReview
}

func addCounter(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attrs...))
}

func recordHistogram(ctx context.Context, hist metric.Float64Histogram, v float64) {
	if hist == nil {
		return
	}
	hist.Record(ctx, v)
}

func recordActiveGauge(ctx context.Context, store *registry.Store) {
	if telemetry.ActiveProposals == nil {
		return
	}
	telemetry.ActiveProposals.Record(ctx, int64(store.ActiveCount()))
}
