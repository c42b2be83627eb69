package tour

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-navtest/pkg/robot"
)

// Sentinel errors.
var (
	// ErrTransportUnavailable is returned when the action server is not
	// reachable at startup. The tour does not start.
	ErrTransportUnavailable = errors.New("tour: action server unavailable")

	// ErrGoalTimeout describes a goal with no terminal state in time.
	ErrGoalTimeout = errors.New("tour: goal timed out")

	// ErrGoalAborted describes a goal the server aborted.
	ErrGoalAborted = errors.New("tour: goal aborted")
)

// GoalFailedError is a goal that ended in a terminal state other than
// SUCCEEDED or ABORTED.
type GoalFailedError struct {
	Code robot.GoalState
}

// Error implements the error interface.
func (e *GoalFailedError) Error() string {
	return fmt.Sprintf("tour: goal failed with error code: %s", e.Code)
}

// OutcomeKind tags a GoalOutcome.
type OutcomeKind int

const (
	Succeeded OutcomeKind = iota
	Aborted
	TimedOut
	Rejected
	Other
)

func (k OutcomeKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Aborted:
		return "aborted"
	case TimedOut:
		return "timed_out"
	case Rejected:
		return "rejected"
	default:
		return "other"
	}
}

// Outcome is the result of one dispatched goal. Code is the terminal state
// reported by the server; it is meaningless for TimedOut.
type Outcome struct {
	Kind OutcomeKind
	Code robot.GoalState
}

// Classify turns a wait result and the goal state into an Outcome.
func Classify(finished bool, state robot.GoalState) Outcome {
	if !finished {
		return Outcome{Kind: TimedOut, Code: state}
	}
	switch state {
	case robot.StateSucceeded:
		return Outcome{Kind: Succeeded, Code: state}
	case robot.StateAborted:
		return Outcome{Kind: Aborted, Code: state}
	case robot.StateRejected:
		return Outcome{Kind: Rejected, Code: state}
	default:
		return Outcome{Kind: Other, Code: state}
	}
}

// Err returns nil for Succeeded and a descriptive error otherwise. Goal
// errors are logged, never returned from Run.
func (o Outcome) Err() error {
	switch o.Kind {
	case Succeeded:
		return nil
	case Aborted:
		return ErrGoalAborted
	case TimedOut:
		return ErrGoalTimeout
	default:
		return &GoalFailedError{Code: o.Code}
	}
}
