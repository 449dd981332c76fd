package types

import (
	"errors"
	"fmt"
)

// ErrInsufficientEvidence means no alerts were found for the target. No
// proposal is created; the caller should keep monitoring. Never retried
// automatically.
var ErrInsufficientEvidence = errors.New("insufficient evidence for target")

// ErrMonitorOnly means evidence exists but confidence sits below the review
// threshold. This is a documented outcome, not a proposal status.
var ErrMonitorOnly = errors.New("confidence below review threshold, monitor only")

// InvalidTransitionError is returned to the loser of a lifecycle race or to
// any caller operating on a proposal that is not in the expected state. It
// is always surfaced, never swallowed.
type InvalidTransitionError struct {
	ProposalID string
	Current    Status
	Expected   Status
	Requested  Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("proposal %s: cannot move %s -> %s (current status %s)",
		e.ProposalID, e.Expected, e.Requested, e.Current)
}

// DuplicateTargetError signals that the target already has an active
// proposal and the newcomer did not raise confidence. The newcomer's
// evidence is attached to the active proposal instead.
type DuplicateTargetError struct {
	Target           string
	ActiveProposalID string
}

func (e *DuplicateTargetError) Error() string {
	return fmt.Sprintf("target %s already has active proposal %s", e.Target, e.ActiveProposalID)
}

// ExecutionError wraps a failed external action call. Terminal for the
// proposal; a fresh correlation cycle must create a new proposal to retry.
type ExecutionError struct {
	ProposalID string
	ActionType ActionType
	Target     string
	Detail     string
	TimedOut   bool
}

func (e *ExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("action %s on %s timed out: %s", e.ActionType, e.Target, e.Detail)
	}
	return fmt.Sprintf("action %s on %s failed: %s", e.ActionType, e.Target, e.Detail)
}

// ConfigError rejects a malformed engine config update before it is applied.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid engine config: %s: %s", e.Field, e.Detail)
}
