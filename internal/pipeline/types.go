package pipeline

import "time"

// Stage describes a phase of one assembly run.
type Stage string

const (
	// StageEmit replays the plan into fragments.
	StageEmit Stage = "emit"
	// StageCombine concatenates fragments into the destination.
	StageCombine Stage = "combine"
	// StageTrailer appends trailing content after the fragments.
	StageTrailer Stage = "trailer"
	// StageCleanup removes or retains the scratch resources.
	StageCleanup Stage = "cleanup"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusWorking indicates the stage has started.
	StatusWorking Status = "working"
	// StatusDone indicates the stage finished.
	StatusDone Status = "done"
	// StatusError indicates the stage failed.
	StatusError Status = "error"
)

// Event reports progress of one plan.
type Event struct {
	Plan    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. Sinks shared between concurrent
// runs must be goroutine-safe.
type ProgressSink interface {
	OnEvent(Event)
}

func emitStage(sink ProgressSink, plan string, stage Stage, status Status, err error, elapsed time.Duration) {
	if sink == nil {
		return
	}
	sink.OnEvent(Event{
		Plan:    plan,
		Stage:   stage,
		Status:  status,
		Err:     err,
		Elapsed: elapsed,
	})
}
