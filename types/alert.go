package types

import "time"

// Severity of a raw alert as reported by its source.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RawAlert is one alert record as returned by an evidence source. The
// engine never mutates alerts; they feed the correlator and their refs end
// up in the proposal evidence list.
type RawAlert struct {
	Source        string    `json:"source"`
	Ref           string    `json:"ref"`
	Target        string    `json:"target"`
	Severity      Severity  `json:"severity"`
	Timestamp     time.Time `json:"timestamp"`
	TechniqueTags []string  `json:"technique_tags,omitempty"`
	Summary       string    `json:"summary,omitempty"`
}

// HasTag reports whether the alert carries the given technique tag.
func (a *RawAlert) HasTag(tag string) bool {
	for _, t := range a.TechniqueTags {
		if t == tag {
			return true
		}
	}
	return false
}

// SourceFailure records a source that could not be queried. A failed
// source contributes zero alerts and a zero-weight factor; it never
// invents data.
type SourceFailure struct {
	Source string `json:"source"`
	Err    string `json:"error"`
}
