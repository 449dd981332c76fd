package types

import "fmt"

// EngineConfig gates proposal creation. It is stored in the registry and
// read on every gate decision with read-after-write consistency; updates go
// through the same audited path as proposal transitions, never a bare flag.
type EngineConfig struct {
	AutoApproveThreshold float64 `json:"auto_approve_threshold" yaml:"auto_approve_threshold"`
	ReviewThreshold      float64 `json:"review_threshold" yaml:"review_threshold"`
	ForceManualApproval  bool    `json:"force_manual_approval" yaml:"force_manual_approval"`
}

// DefaultEngineConfig returns the shipped thresholds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AutoApproveThreshold: 0.90,
		ReviewThreshold:      0.70,
		ForceManualApproval:  false,
	}
}

// Validate rejects malformed configs before they are applied. The current
// config stays in effect when validation fails.
func (c EngineConfig) Validate() error {
	if c.AutoApproveThreshold < 0 || c.AutoApproveThreshold > 1 {
		return &ConfigError{Field: "auto_approve_threshold", Detail: fmt.Sprintf("%f outside [0,1]", c.AutoApproveThreshold)}
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return &ConfigError{Field: "review_threshold", Detail: fmt.Sprintf("%f outside [0,1]", c.ReviewThreshold)}
	}
	if c.ReviewThreshold > c.AutoApproveThreshold {
		return &ConfigError{
			Field:  "review_threshold",
			Detail: fmt.Sprintf("review threshold %f above auto-approve threshold %f", c.ReviewThreshold, c.AutoApproveThreshold),
		}
	}
	return nil
}
