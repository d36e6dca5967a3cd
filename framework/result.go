package framework

import (
	"fmt"
	"time"

	"github.com/cloudbees/browser-matrix-tests/matrix"
)

// State is a step in the life of a pipeline.
type State string

const (
	StatePending        State = "pending"
	StateSessionOpening State = "session-opening"
	StateRunning        State = "running"
	StateReporting      State = "reporting"
	StateReleased       State = "released"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

// FailureKind distinguishes a failed assertion about the page from a breakdown of the browser
// automation itself. Both mean the scenario did not pass.
type FailureKind string

const (
	FailureAssertion FailureKind = "assertion"
	FailureExecution FailureKind = "execution"
)

// Outcome is the result of running the scenario in one session.
type Outcome struct {
	SessionID     string
	Passed        bool
	FailureKind   FailureKind
	FailureDetail string
}

func PassedOutcome(sessionID string) Outcome {
	return Outcome{SessionID: sessionID, Passed: true}
}

func AssertionFailedOutcome(sessionID, detail string) Outcome {
	return Outcome{SessionID: sessionID, FailureKind: FailureAssertion, FailureDetail: detail}
}

func ExecutionFailedOutcome(sessionID string, err error) Outcome {
	return Outcome{SessionID: sessionID, FailureKind: FailureExecution, FailureDetail: err.Error()}
}

func (o Outcome) String() string {
	if o.Passed {
		return "passed"
	}
	return fmt.Sprintf("failed (%s): %s", o.FailureKind, o.FailureDetail)
}

// PipelineResult describes everything that happened in one pipeline.
type PipelineResult struct {
	Environment matrix.EnvironmentDescriptor
	Label       string
	SessionID   string // empty if no session was opened

	// State is StateSucceeded or StateFailed once the pipeline has finished.
	State State
	// FailedAt is the state in which the pipeline's failure was determined.
	FailedAt State

	// Outcome is nil if the scenario never ran.
	Outcome *Outcome

	// SessionErr is the reason no session could be opened, or the pipeline never started.
	SessionErr error
	// ReportErr and ReleaseErr are diagnostics only; they never change State.
	ReportErr  error
	ReleaseErr error

	Duration    time.Duration
	DebugOutput CapturedOutput
}

func (r PipelineResult) Succeeded() bool {
	return r.State == StateSucceeded
}

// Detail is a one-line explanation of a failure, or "" for a successful pipeline.
func (r PipelineResult) Detail() string {
	switch {
	case r.SessionErr != nil:
		return r.SessionErr.Error()
	case r.Outcome != nil && !r.Outcome.Passed:
		return fmt.Sprintf("%s failure: %s", r.Outcome.FailureKind, r.Outcome.FailureDetail)
	default:
		return ""
	}
}

type Results struct {
	Pipelines []PipelineResult
	Failures  []PipelineResult
	Skipped   []matrix.EnvironmentDescriptor
}

// OK is true if every pipeline succeeded. A run with no pipelines is OK.
func (r Results) OK() bool {
	return len(r.Failures) == 0
}

// LeakedSessions returns the IDs of sessions that could not be released.
func (r Results) LeakedSessions() []string {
	var ret []string
	for _, p := range r.Pipelines {
		if p.ReleaseErr != nil {
			ret = append(ret, p.SessionID)
		}
	}
	return ret
}
