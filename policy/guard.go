// Package policy evaluates Rego guard policies against proposals about to
// be auto-approved. Policies protect assets the thresholds alone cannot see
// (domain controllers, break-glass accounts): a matching policy downgrades
// an auto-approval to human review. Policies never bypass the gate in the
// other direction.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// GuardInput is the document policies evaluate against.
type GuardInput struct {
	Proposal types.ActionProposal `json:"proposal"`
	Config   types.EngineConfig   `json:"config"`
}

// GuardResult is the aggregated outcome across all loaded policies.
type GuardResult struct {
	AllowAutoApprove bool
	Reasons          []string
	Policies         []string
}

// Guard holds compiled guard policies.
type Guard struct {
	queries map[string]rego.PreparedEvalQuery
	logger  *telemetry.Logger
	tracer  trace.Tracer
}

// NewGuard creates an empty guard. With no policies loaded every
// auto-approval is allowed.
func NewGuard() *Guard {
	return &Guard{
		queries: make(map[string]rego.PreparedEvalQuery),
		logger:  telemetry.NewLogger("policy-guard"),
		tracer:  otel.Tracer("policy-guard"),
	}
}

// LoadPolicy compiles a Rego module. Policies live in the data.vahti
// namespace and contribute messages to the require_approval set.
func (g *Guard) LoadPolicy(ctx context.Context, name, regoCode string) error {
	query := rego.New(
		rego.Query("data.vahti.require_approval"),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	g.queries[name] = prepared

	g.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("guard policy loaded")

	return nil
}

// LoadDir loads every .rego file in dir. A missing directory is not an
// error; it just means no guard policies are configured.
func (g *Guard) LoadDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read policy directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		code, err := os.ReadFile(path) // #nosec G304 -- operator-chosen policy directory
		if err != nil {
			return fmt.Errorf("failed to read policy %s: %w", path, err)
		}
		if err := g.LoadPolicy(ctx, entry.Name(), string(code)); err != nil {
			return err
		}
	}

	return nil
}

// PolicyCount returns the number of loaded policies.
func (g *Guard) PolicyCount() int {
	return len(g.queries)
}

// CheckAutoApprove evaluates every loaded policy against a proposal the
// gate wants to auto-approve. Any require_approval message from any policy
// denies the auto-approval; evaluation errors also deny it.
func (g *Guard) CheckAutoApprove(ctx context.Context, p types.ActionProposal, cfg types.EngineConfig) (GuardResult, error) {
	ctx, span := g.tracer.Start(ctx, "guard.check_auto_approve",
		trace.WithAttributes(
			attribute.String("proposal.id", p.ID),
			attribute.String("proposal.target", p.Target)))
	defer span.End()

	result := GuardResult{AllowAutoApprove: true}
	input := GuardInput{Proposal: p, Config: cfg}

	for name, query := range g.queries {
		messages, err := g.evaluatePolicy(ctx, query, input)
		if err != nil {
			return GuardResult{AllowAutoApprove: false},
				fmt.Errorf("guard policy %s evaluation failed: %w", name, err)
		}
		if len(messages) == 0 {
			continue
		}

		result.AllowAutoApprove = false
		result.Reasons = append(result.Reasons, messages...)
		result.Policies = append(result.Policies, name)

		g.logger.WithContext(ctx).Info().
			Str("proposal_id", p.ID).
			Str("target", p.Target).
			Str("policy_name", name).
			Strs("reasons", messages).
			Msg("guard policy requires manual approval")
	}

	return result, nil
}

// evaluatePolicy runs one prepared query and extracts its messages.
func (g *Guard) evaluatePolicy(ctx context.Context, query rego.PreparedEvalQuery, input GuardInput) ([]string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var messages []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			values, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range values {
				if msg, ok := v.(string); ok {
					messages = append(messages, msg)
				}
			}
		}
	}

	return messages, nil
}
