package pipeline

import (
	"time"

	"github.com/scalpsense/scalp-cv/server/models"
)

// Tracker owns the mutable progress record of one request. It is not safe
// for concurrent use and is only ever touched by the orchestrating goroutine;
// everything handed out is a cloned snapshot, so consumers never alias the
// live state.
type Tracker struct {
	steps         []models.StepProgress
	started       map[models.StepName]time.Time
	startTime     time.Time
	current       models.StepName
	totalDuration int64
}

func NewTracker() *Tracker {
	steps := make([]models.StepProgress, 0, len(models.StepOrder))
	for _, name := range models.StepOrder {
		steps = append(steps, models.StepProgress{
			Name:   name,
			Label:  models.StepLabels[name],
			Status: models.StepPending,
		})
	}

	return &Tracker{
		steps:     steps,
		started:   make(map[models.StepName]time.Time),
		startTime: time.Now(),
	}
}

// Start transitions a pending step to running and returns a snapshot.
// Starting a step twice is a no-op on its status.
func (t *Tracker) Start(name models.StepName) models.ProgressState {
	if step := t.find(name); step != nil && step.Status == models.StepPending {
		step.Status = models.StepRunning
		t.started[name] = time.Now()
		t.current = name
	}
	return t.Snapshot()
}

// Complete transitions a running step to completed, records its duration in
// milliseconds, and returns a snapshot.
func (t *Tracker) Complete(name models.StepName) models.ProgressState {
	if step := t.find(name); step != nil && step.Status == models.StepRunning {
		step.Status = models.StepCompleted
		if startedAt, ok := t.started[name]; ok {
			step.Duration = time.Since(startedAt).Milliseconds()
		}
	}
	return t.Snapshot()
}

// Finish stamps the wall-clock total for the whole request.
func (t *Tracker) Finish() models.ProgressState {
	t.totalDuration = time.Since(t.startTime).Milliseconds()
	return t.Snapshot()
}

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot() models.ProgressState {
	steps := make([]models.StepProgress, len(t.steps))
	copy(steps, t.steps)

	return models.ProgressState{
		Steps:         steps,
		CurrentStep:   t.current,
		TotalDuration: t.totalDuration,
	}
}

func (t *Tracker) find(name models.StepName) *models.StepProgress {
	for i := range t.steps {
		if t.steps[i].Name == name {
			return &t.steps[i]
		}
	}
	return nil
}
