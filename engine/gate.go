package engine

import "github.com/yairfalse/vahti/types"

// GateDecision is the approval gate's verdict for a confidence score.
type GateDecision string

const (
	// GateAutoApprove skips human review; the proposal starts approved.
	GateAutoApprove GateDecision = "auto_approve"
	// GateReview queues the proposal as pending for a human decision.
	GateReview GateDecision = "review"
	// GateMonitorOnly creates no proposal at all.
	GateMonitorOnly GateDecision = "monitor_only"
)

// Gate maps a confidence score to an initial lifecycle decision. Pure
// function, no ambient state: the config is passed in on every call.
//
// The force flag is checked first and wins over everything else, even
// confidence 1.0. Both threshold comparisons are inclusive.
func Gate(confidence float64, cfg types.EngineConfig) GateDecision {
	if cfg.ForceManualApproval {
		return GateReview
	}
	if confidence >= cfg.AutoApproveThreshold {
		return GateAutoApprove
	}
	if confidence >= cfg.ReviewThreshold {
		return GateReview
	}
	return GateMonitorOnly
}
