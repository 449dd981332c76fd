// Package correlator turns the raw alerts gathered for one target into a
// single confidence score plus the machine-readable factors that explain it.
//
// The scoring model is a fixed table of (predicate, weight) rules. Each rule
// fires at most once per alert set, regardless of how many alerts satisfy
// it, and the summed score is clamped to [0,1] exactly once at the end.
// Evaluation is a pure function of the alert set: alerts are canonically
// sorted first, so arrival order never changes the output.
package correlator

import (
	"math"
	"sort"
	"time"

	"github.com/yairfalse/vahti/types"
)

// correlationWindow is how close together alerts must be for the
// time-correlation rule to fire.
const correlationWindow = 5 * time.Minute

// Result is the correlator output for one target.
type Result struct {
	Confidence float64
	Factors    []types.CorrelationFactor
	Evidence   []string
}

// rule is one scoring condition. match returns the alerts that satisfied
// the condition; the rule fires when that set is non-empty.
type rule struct {
	name   string
	weight float64
	match  func(alerts []types.RawAlert) []types.RawAlert
}

// ruleTable is evaluated in order. Weights may sum above 1.0; the clamp at
// the end of Correlate is the only place the cap is applied.
var ruleTable = []rule{
	{"multiple corroborating sources", 0.20, matchMultiSource},
	{"critical severity alert", 0.15, matchSeverity(types.SeverityCritical)},
	{"lateral movement indicator", 0.15, matchTag("lateral_movement")},
	{"confirmed malware family", 0.20, matchTag("malware_family")},
	{"active command-and-control", 0.20, matchTag("c2_beacon")},
	{"ransomware behavior", 0.25, matchTag("ransomware")},
	{"alerts within correlation window", 0.10, matchTightWindow},
	{"geographic anomaly", 0.10, matchTag("geo_anomaly")},
}

// Correlate scores one target's alert set. Failed sources are reported as
// zero-weight factors so the gap in coverage stays visible in the reason
// trail. An empty alert set scores zero with no evidence.
func Correlate(alerts []types.RawAlert, failures []types.SourceFailure) Result {
	result := Result{}

	sortedFailures := append([]types.SourceFailure(nil), failures...)
	sort.Slice(sortedFailures, func(i, j int) bool {
		return sortedFailures[i].Source < sortedFailures[j].Source
	})
	for _, f := range sortedFailures {
		result.Factors = append(result.Factors, types.CorrelationFactor{
			Name:   "source unavailable: " + f.Source,
			Weight: 0,
		})
	}

	if len(alerts) == 0 {
		return result
	}

	sorted := canonicalOrder(alerts)

	score := 0.0
	var contributing []types.RawAlert
	for _, r := range ruleTable {
		matched := r.match(sorted)
		if len(matched) == 0 {
			continue
		}
		score += r.weight
		result.Factors = append(result.Factors, types.CorrelationFactor{Name: r.name, Weight: r.weight})
		contributing = append(contributing, matched...)
	}

	// Clamp once, at the very end. Never per-term.
	result.Confidence = math.Min(math.Max(score, 0.0), 1.0)
	result.Evidence = dedupRefs(contributing)
	return result
}

// canonicalOrder sorts alerts by (timestamp, ref) so the output is
// independent of arrival order.
func canonicalOrder(alerts []types.RawAlert) []types.RawAlert {
	sorted := append([]types.RawAlert(nil), alerts...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Ref < sorted[j].Ref
	})
	return sorted
}

func dedupRefs(alerts []types.RawAlert) []string {
	seen := make(map[string]struct{}, len(alerts))
	var refs []string
	for _, a := range alerts {
		if _, ok := seen[a.Ref]; ok {
			continue
		}
		seen[a.Ref] = struct{}{}
		refs = append(refs, a.Ref)
	}
	return refs
}

func matchMultiSource(alerts []types.RawAlert) []types.RawAlert {
	sources := make(map[string]struct{})
	for _, a := range alerts {
		sources[a.Source] = struct{}{}
	}
	if len(sources) < 2 {
		return nil
	}
	return alerts
}

func matchSeverity(sev types.Severity) func([]types.RawAlert) []types.RawAlert {
	return func(alerts []types.RawAlert) []types.RawAlert {
		var matched []types.RawAlert
		for _, a := range alerts {
			if a.Severity == sev {
				matched = append(matched, a)
			}
		}
		return matched
	}
}

func matchTag(tag string) func([]types.RawAlert) []types.RawAlert {
	return func(alerts []types.RawAlert) []types.RawAlert {
		var matched []types.RawAlert
		for i := range alerts {
			if alerts[i].HasTag(tag) {
				matched = append(matched, alerts[i])
			}
		}
		return matched
	}
}

// matchTightWindow fires when every alert falls within correlationWindow of
// every other. Alerts arrive pre-sorted, so the spread is last minus first.
func matchTightWindow(alerts []types.RawAlert) []types.RawAlert {
	if len(alerts) < 2 {
		return nil
	}
	spread := alerts[len(alerts)-1].Timestamp.Sub(alerts[0].Timestamp)
	if spread > correlationWindow {
		return nil
	}
	return alerts
}
