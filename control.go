package pipeline

// ControlType enumerates the closed set of control-plane request kinds
// that travel through the same channels as data. A new transport must
// never introduce a new subtype without updating every task's dispatch
// table (spec.md §9 "Control-flow via typed variants").
type ControlType int

const (
	// ParametersChange batch-applies name/value pairs to a task's
	// parameter registry.
	ParametersChange ControlType = iota
	// ProcessingStateChange drives a task's processing-state machine
	// toward a requested goal state.
	ProcessingStateChange
	// RecordingStateChange starts or stops recording on a Controller's
	// output channels.
	RecordingStateChange
	// Shutdown signals orderly end-of-stream teardown.
	Shutdown
	// ClearStats resets a task's input statistics.
	ClearStats
	// Timeout is task-local: it is never forwarded downstream, it only
	// fires a Controller's alarm handler.
	Timeout

	controlTypeCount
)

func (c ControlType) String() string {
	switch c {
	case ParametersChange:
		return "parameters-change"
	case ProcessingStateChange:
		return "processing-state-change"
	case RecordingStateChange:
		return "recording-state-change"
	case Shutdown:
		return "shutdown"
	case ClearStats:
		return "clear-stats"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ParametersChangePayload is the payload of a ParametersChange control
// envelope: an ordered set of name/value pairs, and whether applying them
// should also reset each parameter's recorded "original value" baseline.
type ParametersChangePayload struct {
	Values     []ParameterValue
	IsOriginal bool
}

// ParameterValue is a single name/value pair inside a ParametersChange
// payload. Value is one of bool, int64, float64, string (including
// filesystem paths) or an enum ordinal, mirroring the small set of typed
// Parameter kinds spec.md §9 describes.
type ParameterValue struct {
	Name  string
	Value any
}

// ProcessingStateChangePayload is the payload of a ProcessingStateChange
// control envelope: the single goal state to drive the state machine
// toward.
type ProcessingStateChangePayload struct {
	Goal ProcessingState
}

// RecordingStateChangePayload is the payload of a RecordingStateChange
// control envelope. A non-empty Directory starts recording into that
// directory; an empty Directory stops it.
type RecordingStateChangePayload struct {
	Directory string
}
