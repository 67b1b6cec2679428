package models

// StepName identifies one of the five fixed pipeline stages.
type StepName string

const (
	StepValidate      StepName = "validate"
	StepPrepare       StepName = "prepare"
	StepAnalyzeBefore StepName = "analyze_before"
	StepAnalyzeAfter  StepName = "analyze_after"
	StepFinalize      StepName = "finalize"
)

// StepOrder is the pipeline sequence. Exactly these five steps exist for the
// lifetime of one request.
var StepOrder = []StepName{
	StepValidate,
	StepPrepare,
	StepAnalyzeBefore,
	StepAnalyzeAfter,
	StepFinalize,
}

// StepLabels maps each stage to its human-readable description.
var StepLabels = map[StepName]string{
	StepValidate:      "Validating images",
	StepPrepare:       "Preparing images",
	StepAnalyzeBefore: "Analyzing before photo",
	StepAnalyzeAfter:  "Analyzing after photo",
	StepFinalize:      "Finalizing results",
}

// StepStatus is the lifecycle of a stage. Transitions are monotonic:
// pending -> running -> completed, never backwards.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
)

// StepProgress is the externally visible state of one pipeline stage.
// Duration is set only when the step transitions to completed.
type StepProgress struct {
	Name     StepName   `json:"name"`
	Label    string     `json:"label"`
	Status   StepStatus `json:"status"`
	Duration int64      `json:"duration,omitempty"`
}

// ProgressState is a snapshot of all five steps at one point in time.
type ProgressState struct {
	Steps         []StepProgress `json:"steps"`
	CurrentStep   StepName       `json:"currentStep,omitempty"`
	TotalDuration int64          `json:"totalDuration,omitempty"`
}
