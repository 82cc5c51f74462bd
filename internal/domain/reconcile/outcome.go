package reconcile

import (
	"time"
)

// ActionStatus represents the result of a single corrective action.
type ActionStatus string

const (
	ActionApplied   ActionStatus = "applied"
	ActionNoop      ActionStatus = "noop"
	ActionFailed    ActionStatus = "failed"
	ActionSimulated ActionStatus = "simulated"
)

// ActionResult is returned by an ActionExecutor.
type ActionResult struct {
	Status      ActionStatus
	Description string
	Reason      string
	Err         error
}

// Applied builds a successful result.
func Applied(description string) ActionResult {
	return ActionResult{Status: ActionApplied, Description: description}
}

// Failed builds a failed result. Wrap err with PrerequisiteError to make the
// failure fatal.
func Failed(description string, err error) ActionResult {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return ActionResult{Status: ActionFailed, Description: description, Reason: reason, Err: err}
}

// Simulated builds a dry-run result.
func Simulated(description string) ActionResult {
	return ActionResult{Status: ActionSimulated, Description: description, Reason: "dry-run: " + description}
}

// IsSuccess reports whether the action did not fail.
func (a ActionResult) IsSuccess() bool {
	return a.Status == ActionApplied || a.Status == ActionNoop || a.Status == ActionSimulated
}

// Attempt is one probe, act, re-probe pass.
type Attempt struct {
	Number   int
	Start    Decision
	Action   ActionResult
	End      *Decision
	Duration time.Duration
}

// OutcomeKind is the terminal classification of a target.
type OutcomeKind string

const (
	OutcomeAlreadySatisfied       OutcomeKind = "already_satisfied"
	OutcomeConverged              OutcomeKind = "converged"
	OutcomeFailedRetriesExhausted OutcomeKind = "failed_retries_exhausted"
	OutcomeFailedFatal            OutcomeKind = "failed_fatal"
	OutcomeSkipped                OutcomeKind = "skipped"
	// OutcomeForcedTerminal is never produced by Reconcile; callers derive it
	// through Escalate.
	OutcomeForcedTerminal OutcomeKind = "forced_terminal"
)

// AllOutcomeKinds lists kinds in summary order.
var AllOutcomeKinds = []OutcomeKind{
	OutcomeAlreadySatisfied,
	OutcomeConverged,
	OutcomeFailedRetriesExhausted,
	OutcomeFailedFatal,
	OutcomeSkipped,
	OutcomeForcedTerminal,
}

// Outcome is the terminal record for one target within one invocation.
type Outcome struct {
	TargetID  string
	Kind      OutcomeKind
	Reason    string
	Err       error
	Initial   Decision
	Attempts  []Attempt
	Projected bool
	Duration  time.Duration
}

// IsSatisfied reports whether the target ended in its desired state.
func (o Outcome) IsSatisfied() bool {
	return o.Kind == OutcomeAlreadySatisfied || o.Kind == OutcomeConverged
}

// IsFailure reports whether the outcome requires attention.
func (o Outcome) IsFailure() bool {
	switch o.Kind {
	case OutcomeFailedFatal, OutcomeFailedRetriesExhausted, OutcomeForcedTerminal:
		return true
	}
	return false
}

// ActionCount returns how many times the executor was invoked.
func (o Outcome) ActionCount() int {
	return len(o.Attempts)
}

// ErrorCode returns the code of the outcome error, if any.
func (o Outcome) ErrorCode() ErrorCode {
	return CodeOf(o.Err)
}

// JoinState is the composite device enrollment status.
type JoinState string

const (
	JoinStateNone   JoinState = "None"
	JoinStateEntra  JoinState = "Entra"
	JoinStateIntune JoinState = "Intune"
	JoinStateBoth   JoinState = "Both"
)

// CombineJoinState derives the composite status from the Entra join and the
// Intune enrollment outcomes.
func CombineJoinState(entra, intune Outcome) JoinState {
	switch {
	case entra.IsSatisfied() && intune.IsSatisfied():
		return JoinStateBoth
	case entra.IsSatisfied():
		return JoinStateEntra
	case intune.IsSatisfied():
		return JoinStateIntune
	default:
		return JoinStateNone
	}
}

// Summary counts outcomes per kind.
type Summary struct {
	Total    int
	Counts   map[OutcomeKind]int
	Outcomes []Outcome
}

// NewSummary creates an empty summary.
func NewSummary() *Summary {
	return &Summary{Counts: make(map[OutcomeKind]int)}
}

// Add records an outcome.
func (s *Summary) Add(o Outcome) {
	if s.Counts == nil {
		s.Counts = make(map[OutcomeKind]int)
	}
	s.Total++
	s.Counts[o.Kind]++
	s.Outcomes = append(s.Outcomes, o)
}

// Merge folds another summary into this one.
func (s *Summary) Merge(other *Summary) {
	if other == nil {
		return
	}
	for _, o := range other.Outcomes {
		s.Add(o)
	}
}

// Failed returns the number of outcomes needing attention.
func (s *Summary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.IsFailure() {
			n++
		}
	}
	return n
}

// AllSatisfied reports whether every outcome reached its desired state.
func (s *Summary) AllSatisfied() bool {
	for _, o := range s.Outcomes {
		if !o.IsSatisfied() {
			return false
		}
	}
	return true
}
