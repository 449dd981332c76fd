package types

import (
	"fmt"
	"time"
)

// ActionType identifies the containment capability a proposal asks for.
type ActionType string

const (
	ActionIsolateHost    ActionType = "isolate_host"
	ActionBlockIP        ActionType = "block_ip"
	ActionBlockDomain    ActionType = "block_domain"
	ActionDisableAccount ActionType = "disable_account"
	ActionCustom         ActionType = "custom"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

// legalEdges is the complete transition table. Anything not listed here
// is an invalid transition, including every edge out of a terminal state.
var legalEdges = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusExecuting},
	StatusExecuting: {StatusExecuted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a proposal in this status can never move again.
func (s Status) Terminal() bool {
	return len(legalEdges[s]) == 0
}

// CorrelationFactor is one scoring condition that fired, with the weight
// it contributed. Factors are transient: they exist to build the confidence
// score and the human-readable reason, and are echoed into the proposal
// reason for explainability.
type CorrelationFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// ExecutionResult is the executor's outcome payload. Present only once the
// proposal reached executed or failed.
type ExecutionResult struct {
	Success               bool      `json:"success"`
	Detail                string    `json:"detail,omitempty"`
	Error                 string    `json:"error,omitempty"`
	AlreadyInDesiredState bool      `json:"already_in_desired_state,omitempty"`
	TimedOut              bool      `json:"timed_out,omitempty"`
	CompletedAt           time.Time `json:"completed_at"`
}

// ActionProposal is the central entity of the engine: a candidate
// containment action awaiting or past a lifecycle decision.
//
// Target is the dedup key: at most one active proposal (pending, approved
// or executing) may exist per target. Confidence, evidence, reason, action
// type and target are write-once; status moves only along legalEdges.
type ActionProposal struct {
	ID               string              `json:"proposal_id"`
	ActionType       ActionType          `json:"action_type"`
	Target           string              `json:"target"`
	Confidence       float64             `json:"confidence"`
	Evidence         []string            `json:"evidence"`
	Reason           string              `json:"reason"`
	Factors          []CorrelationFactor `json:"factors,omitempty"`
	CreatedBy        string              `json:"created_by"`
	CreatedAt        time.Time           `json:"created_at"`
	Status           Status              `json:"status"`
	RequiresApproval bool                `json:"requires_approval"`
	DecidedBy        string              `json:"decided_by,omitempty"`
	DecidedAt        time.Time           `json:"decided_at,omitempty"`
	DecisionReason   string              `json:"decision_reason,omitempty"`
	ExecutionStarted time.Time           `json:"execution_started,omitempty"`
	Result           *ExecutionResult    `json:"result,omitempty"`
}

// Active reports whether the proposal currently occupies its target's
// active slot.
func (p *ActionProposal) Active() bool {
	switch p.Status {
	case StatusPending, StatusApproved, StatusExecuting:
		return true
	default:
		return false
	}
}

// Validate ensures a freshly built proposal carries everything the
// registry requires before it is persisted.
func (p *ActionProposal) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("proposal id cannot be empty")
	}
	if p.Target == "" {
		return fmt.Errorf("proposal target cannot be empty")
	}
	if p.ActionType == "" {
		return fmt.Errorf("proposal action type cannot be empty")
	}
	if p.Reason == "" {
		return fmt.Errorf("proposal reason cannot be empty")
	}
	if len(p.Evidence) == 0 {
		return fmt.Errorf("proposal must reference at least one piece of evidence")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("proposal confidence %f outside [0,1]", p.Confidence)
	}
	return nil
}
