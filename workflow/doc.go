// Package workflow implements a durable multi-step execution engine.
//
// A workflow is a named handler composed of checkpointed steps. Each step's
// result is persisted the first time the step body completes, so a run that
// is killed and restarted replays completed steps from their checkpoints and
// resumes real execution at the first incomplete step.
//
// The package provides:
//   - Step / StepResult: named, checkpointed units of work
//   - MapStep: fan-out over a collection with bounded concurrency and
//     per-item retry, each item checkpointed as its own sub-step
//   - Runner: run lifecycle (start, resume, cancel, wall-clock timeout)
//   - Store: persistence contract with memory, Redis, and GORM backends
//
// Step names must be unique and stable within a run: the same logical step
// must always use the same name across retries and replays.
package workflow
