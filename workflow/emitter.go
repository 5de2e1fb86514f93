package workflow

import "time"

// StepEmitter receives step-level execution events. Implemented by the
// metrics collector; a no-op emitter is used when none is configured.
type StepEmitter interface {
	// StepCompleted is called after a step body finishes and its
	// checkpoint is persisted.
	StepCompleted(run *Run, stepName string, elapsed time.Duration)

	// StepFailed is called when a step body returns an error.
	StepFailed(run *Run, stepName string, err error)

	// StepReplayed is called when a checkpointed result is returned
	// without executing the step body.
	StepReplayed(run *Run, stepName string)

	// MapItemDone is called once per finished map item.
	// ok is false when the item exhausted its attempts.
	MapItemDone(run *Run, stepName string, ok bool)
}

// RunEmitter receives run-level lifecycle events in addition to step events.
type RunEmitter interface {
	StepEmitter

	// RunStarted is called after a run record is created.
	RunStarted(run *Run)

	// RunFinished is called when a run reaches a terminal status.
	RunFinished(run *Run, elapsed time.Duration)
}

// nopEmitter discards all events.
type nopEmitter struct{}

func (nopEmitter) StepCompleted(*Run, string, time.Duration) {}
func (nopEmitter) StepFailed(*Run, string, error)            {}
func (nopEmitter) StepReplayed(*Run, string)                 {}
func (nopEmitter) MapItemDone(*Run, string, bool)            {}
func (nopEmitter) RunStarted(*Run)                           {}
func (nopEmitter) RunFinished(*Run, time.Duration)           {}
