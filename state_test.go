package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessingState_String(t *testing.T) {
	cases := map[ProcessingState]string{
		StateInvalid:        "Invalid",
		StateInitialize:     "Initialize",
		StateAutoDiagnostic: "AutoDiagnostic",
		StateCalibrate:      "Calibrate",
		StateRun:            "Run",
		StateStop:           "Stop",
		StateFailure:        "Failure",
	}
	for state, want := range cases {
		require.Equal(t, want, state.String())
	}
	require.Equal(t, "Unknown", ProcessingState(99).String())
}

func TestProcessingState_IsActive(t *testing.T) {
	active := []ProcessingState{StateAutoDiagnostic, StateCalibrate, StateRun}
	inactive := []ProcessingState{StateInvalid, StateInitialize, StateStop, StateFailure}

	for _, s := range active {
		require.True(t, s.IsActive(), "%s should be active", s)
	}
	for _, s := range inactive {
		require.False(t, s.IsActive(), "%s should not be active", s)
	}
}

func TestNextState_SameStateIsNoOp(t *testing.T) {
	require.Equal(t, StateRun, nextState(StateRun, StateRun))
}

func TestNextState_InvalidToRunVisitsInitializeFirst(t *testing.T) {
	require.Equal(t, StateInitialize, nextState(StateRun, StateInvalid))
}

func TestNextState_InitializeToRunIsDirect(t *testing.T) {
	require.Equal(t, StateRun, nextState(StateRun, StateInitialize))
}

func TestNextState_SwitchingBetweenActiveStatesGoesThroughStop(t *testing.T) {
	require.Equal(t, StateStop, nextState(StateCalibrate, StateRun))
}

func TestNextState_LeavingActiveToInitializeGoesThroughStop(t *testing.T) {
	require.Equal(t, StateStop, nextState(StateInitialize, StateRun))
}

func TestNextState_AnyGoalFromFailureGoesThroughStop(t *testing.T) {
	require.Equal(t, StateStop, nextState(StateRun, StateFailure))
}

func TestNextState_GoalFailureIsImmediate(t *testing.T) {
	require.Equal(t, StateFailure, nextState(StateFailure, StateRun))
	require.Equal(t, StateFailure, nextState(StateFailure, StateInvalid))
}

func TestParseProcessingState_AcceptsCaseInsensitiveNames(t *testing.T) {
	got, ok := ParseProcessingState("run")
	require.True(t, ok)
	require.Equal(t, StateRun, got)

	got, ok = ParseProcessingState("CALIBRATE")
	require.True(t, ok)
	require.Equal(t, StateCalibrate, got)
}

func TestParseProcessingState_RejectsUnknownName(t *testing.T) {
	_, ok := ParseProcessingState("bogus")
	require.False(t, ok)
}

func TestNextState_FullDriveSequenceReachesGoal(t *testing.T) {
	current := StateInvalid
	goal := StateRun
	seen := []ProcessingState{current}
	for i := 0; i < 10 && current != goal; i++ {
		current = nextState(goal, current)
		seen = append(seen, current)
	}
	require.Equal(t, goal, current)
	require.Contains(t, seen, StateInitialize)
}
