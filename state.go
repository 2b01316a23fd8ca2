package pipeline

import "strings"

// ProcessingState is one node of a Task's life-cycle state machine
// (spec.md §4.4).
type ProcessingState int

const (
	StateInvalid ProcessingState = iota
	StateInitialize
	StateAutoDiagnostic
	StateCalibrate
	StateRun
	StateStop
	StateFailure
)

func (s ProcessingState) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateInitialize:
		return "Initialize"
	case StateAutoDiagnostic:
		return "AutoDiagnostic"
	case StateCalibrate:
		return "Calibrate"
	case StateRun:
		return "Run"
	case StateStop:
		return "Stop"
	case StateFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// isActive reports whether a task in this state is expected to run an
// algorithm's per-message processing (spec.md §4.9 processDataMessage,
// §5 using-data: "is in AutoDiagnostic").
func (s ProcessingState) isActive() bool {
	switch s {
	case StateAutoDiagnostic, StateCalibrate, StateRun:
		return true
	default:
		return false
	}
}

// IsActive is the exported form of isActive, used by consumers outside
// this package (e.g. controller.Controller) that need to know whether a
// task's current state should run per-message/alarm processing.
func (s ProcessingState) IsActive() bool { return s.isActive() }

// ParseProcessingState parses the case-insensitive name of a processing
// state (as an operator would type it on a runner flag or a status-API
// request body), returning false if name names none of them.
func ParseProcessingState(name string) (ProcessingState, bool) {
	for _, s := range []ProcessingState{
		StateInvalid, StateInitialize, StateAutoDiagnostic,
		StateCalibrate, StateRun, StateStop, StateFailure,
	} {
		if strings.EqualFold(s.String(), name) {
			return s, true
		}
	}
	return StateInvalid, false
}

// nextState computes the next state to visit while driving a task from
// current toward goal, one hop at a time. The caller repeats
// nextState(goal, result) after each successful hook invocation until
// current == goal. This is the Go expression of the exhaustive
// [kNumStates][kNumStates] transition matrix in
// original_source/IO/Task.cc: given the same graph (Invalid → Initialize
// → {AutoDiagnostic, Calibrate, Run} → Stop → Initialize, Failure
// reachable from anywhere), a function is clearer than reproducing a
// 7x7 literal array and is behaviorally equivalent for every (goal,
// current) pair the graph allows.
func nextState(goal, current ProcessingState) ProcessingState {
	if current == goal {
		return goal
	}

	if goal == StateFailure {
		return StateFailure
	}

	if current == StateFailure {
		// Leaving Failure always visits Stop first.
		return StateStop
	}

	switch goal {
	case StateInvalid:
		return StateInvalid

	case StateInitialize:
		if current.isActive() {
			return StateStop
		}
		return StateInitialize

	case StateStop:
		return StateStop

	case StateAutoDiagnostic, StateCalibrate, StateRun:
		switch current {
		case StateInitialize:
			return goal
		case StateInvalid, StateStop:
			return StateInitialize
		default:
			// a different active state: cycle through Stop, then
			// Initialize, before entering the goal state.
			return StateStop
		}
	}

	return goal
}
