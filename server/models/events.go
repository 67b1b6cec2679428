package models

// EventType discriminates the frames written to the pipeline output stream.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one frame of the pipeline output stream. A request produces any
// number of progress frames followed by exactly one terminal frame, either
// complete or error.
type Event struct {
	Type          EventType         `json:"type"`
	Steps         []StepProgress    `json:"steps,omitempty"`
	CurrentStep   StepName          `json:"currentStep,omitempty"`
	TotalDuration int64             `json:"totalDuration,omitempty"`
	Result        *ComparisonResult `json:"result,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// ProgressEvent builds a progress frame from a state snapshot.
func ProgressEvent(state ProgressState) Event {
	return Event{
		Type:        EventProgress,
		Steps:       state.Steps,
		CurrentStep: state.CurrentStep,
	}
}

// CompleteEvent builds the terminal frame of a successful comparison.
func CompleteEvent(state ProgressState, result *ComparisonResult) Event {
	return Event{
		Type:          EventComplete,
		Steps:         state.Steps,
		TotalDuration: state.TotalDuration,
		Result:        result,
	}
}

// ErrorEvent builds the terminal frame of a failed comparison.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg}
}
