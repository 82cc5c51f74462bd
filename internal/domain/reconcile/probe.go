package reconcile

import (
	"fmt"
	"time"
)

// Observation classifies what a probe source saw.
type Observation string

const (
	// ObservedValue means the source returned a concrete value.
	ObservedValue Observation = "observed"
	// ObservedAbsent means the source answered but the value does not exist.
	ObservedAbsent Observation = "absent"
	// ObservedUnavailable means the source could not be reached.
	ObservedUnavailable Observation = "unavailable"
	// ObservedPrerequisiteFailed means the source explicitly reports a hard
	// gate, e.g. the device is not domain joined.
	ObservedPrerequisiteFailed Observation = "prerequisite_failed"
)

// Confidence ranks a source within a probe.
type Confidence string

const (
	ConfidencePrimary  Confidence = "primary"
	ConfidenceFallback Confidence = "fallback"
)

// ProbeResult is the outcome of reading current state from one named source.
type ProbeResult struct {
	Source      string
	Observation Observation
	Value       string
	Confidence  Confidence
	ObservedAt  time.Time
	Detail      string
	Err         error
}

// Observed builds a value-bearing result.
func Observed(source string, confidence Confidence, value string, at time.Time) ProbeResult {
	return ProbeResult{Source: source, Observation: ObservedValue, Value: value, Confidence: confidence, ObservedAt: at}
}

// Absent builds a result for a missing value.
func Absent(source string, confidence Confidence, at time.Time) ProbeResult {
	return ProbeResult{Source: source, Observation: ObservedAbsent, Confidence: confidence, ObservedAt: at}
}

// Unavailable builds the explicit marker for an unreachable source.
func Unavailable(source string, confidence Confidence, at time.Time, err error) ProbeResult {
	return ProbeResult{
		Source:      source,
		Observation: ObservedUnavailable,
		Confidence:  confidence,
		ObservedAt:  at,
		Err:         NewError(ErrCodeSourceUnavailable, "source unavailable", err, map[string]interface{}{"source": source}),
	}
}

// PrerequisiteFailed builds a result that blocks action when it comes from
// the primary source.
func PrerequisiteFailed(source string, confidence Confidence, at time.Time, detail string) ProbeResult {
	return ProbeResult{
		Source:      source,
		Observation: ObservedPrerequisiteFailed,
		Confidence:  confidence,
		ObservedAt:  at,
		Detail:      detail,
		Err:         PrerequisiteError(detail, map[string]interface{}{"source": source}),
	}
}

// Satisfies reports whether this result observes the desired value.
func (r ProbeResult) Satisfies(desired string) bool {
	return r.Observation == ObservedValue && r.Value == desired
}

// String renders the result for logs and reports.
func (r ProbeResult) String() string {
	switch r.Observation {
	case ObservedValue:
		return fmt.Sprintf("%s=%q", r.Source, r.Value)
	case ObservedPrerequisiteFailed:
		return fmt.Sprintf("%s:prerequisite(%s)", r.Source, r.Detail)
	default:
		return fmt.Sprintf("%s:%s", r.Source, r.Observation)
	}
}

// Verdict is the combined reading of every source for one target.
type Verdict string

const (
	VerdictSatisfied   Verdict = "satisfied"
	VerdictUnsatisfied Verdict = "unsatisfied"
	VerdictBlocked     Verdict = "blocked"
	VerdictUnknown     Verdict = "unknown"
)

// Decision captures a verdict and the results it was derived from.
type Decision struct {
	Verdict Verdict
	Reason  string
	Source  string
	Results []ProbeResult
	Err     error
}

// Decide applies source precedence to a set of probe results:
//
//  1. any source observing the desired value satisfies the target;
//  2. otherwise a prerequisite failure from the primary source blocks action;
//  3. otherwise, if every source was unavailable, the state is unknown;
//  4. otherwise the target is unsatisfied.
//
// A silent primary is never read as a failure and a fallback never turns a
// primary prerequisite failure into an actionable state.
func Decide(target ConvergenceTarget, results []ProbeResult) Decision {
	d := Decision{Results: append([]ProbeResult(nil), results...)}

	for _, r := range results {
		if r.Satisfies(target.Desired()) {
			d.Verdict = VerdictSatisfied
			d.Source = r.Source
			d.Reason = fmt.Sprintf("%s reports %q", r.Source, r.Value)
			return d
		}
	}

	if primary, ok := primaryResult(results); ok && primary.Observation == ObservedPrerequisiteFailed {
		d.Verdict = VerdictBlocked
		d.Source = primary.Source
		d.Reason = primary.Detail
		d.Err = primary.Err
		if d.Err == nil {
			d.Err = PrerequisiteError(primary.Detail, map[string]interface{}{"source": primary.Source})
		}
		return d
	}

	answered := 0
	for _, r := range results {
		if r.Observation != ObservedUnavailable {
			answered++
			if d.Source == "" {
				d.Source = r.Source
				d.Reason = fmt.Sprintf("%s reports %s", r.Source, describe(r))
			}
		}
	}
	if answered == 0 {
		d.Verdict = VerdictUnknown
		d.Reason = "no source could determine current state"
		d.Err = NewError(ErrCodeSourceUnavailable, d.Reason, nil, map[string]interface{}{"target_id": target.ID()})
		return d
	}

	d.Verdict = VerdictUnsatisfied
	return d
}

func primaryResult(results []ProbeResult) (ProbeResult, bool) {
	for _, r := range results {
		if r.Confidence == ConfidencePrimary {
			return r, true
		}
	}
	if len(results) > 0 {
		return results[0], true
	}
	return ProbeResult{}, false
}

func describe(r ProbeResult) string {
	if r.Observation == ObservedValue {
		return fmt.Sprintf("%q", r.Value)
	}
	return string(r.Observation)
}
