// Package execution orchestrates one Task through the steps of its Plan:
// the Step Executor resolves parameters and invokes one tool
// attempt, and the Task Executor drives the retry/timeout/pause
// loop and exposes ExecuteTask/ResumeTask to the rest of the system.
package execution

import "taskengine/pkg/models"

// StepOutcomeKind is the tag of the Paused | Success | Failure sum type.
// A paused attempt is never represented as a special value inside the
// success channel.
type StepOutcomeKind int

const (
	StepSuccess StepOutcomeKind = iota
	StepFailure
	StepPaused
)

// StepOutcome is the result of one Step Executor attempt.
type StepOutcome struct {
	Kind          StepOutcomeKind
	Output        models.StepOutput
	Err           error
	PendingInputs []models.PendingUserInput
	DurationMs    int64
}
