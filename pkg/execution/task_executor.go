package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskengine/internal/utils"
	"taskengine/pkg/classify"
	"taskengine/pkg/engerrors"
	"taskengine/pkg/models"
	"taskengine/pkg/repository"
	"taskengine/pkg/scheduler"
	"taskengine/pkg/statemachine"
	"taskengine/pkg/template"
)

// baseRetryDelayMillis seeds classify.Backoff's exponential schedule.
const baseRetryDelayMillis int64 = 1000

// TaskResult is the outcome ExecuteTask/ResumeTask report to their caller:
// the task's status once it stops running, whichever of completed, failed,
// paused, or (on external cancellation) whatever status prevailed.
type TaskResult struct {
	TaskID string
	Status models.TaskStatus
	Error  string
}

// ResumeInput is one value supplied by the caller of ResumeTask to satisfy
// an outstanding PendingUserInput.
type ResumeInput struct {
	StepID string
	Field  string
	Value  interface{}
}

// Observer is the Learning Observer seam: invoked once a task
// reaches a terminal status, after the lock has already been released. A
// failing Observer is logged and never turns a completed task into a
// failed one (engerrors.ObserverError is the documented wrapper for that).
type Observer interface {
	Observe(ctx context.Context, task *models.Task, plan *models.Plan) error
}

// TaskExecutor drives ExecuteTask/ResumeTask: lock discipline,
// dependency-ordered step iteration, the per-step retry loop, and
// pause/terminal bookkeeping. It holds no task state itself — every
// mutation is persisted through Repository before the method returns.
type TaskExecutor struct {
	Repo     repository.Repository
	StepExec *StepExecutor
	Observer Observer
	Logger   utils.ExtendedLogger
}

// NewTaskExecutor wires the Task Executor's collaborators.
func NewTaskExecutor(repo repository.Repository, stepExec *StepExecutor, observer Observer, logger utils.ExtendedLogger) *TaskExecutor {
	return &TaskExecutor{Repo: repo, StepExec: stepExec, Observer: observer, Logger: logger}
}

// ExecuteTask loads the task, acquires its lock, and runs steps forward
// from CurrentStepIndex until the task pauses, fails, completes, or ctx is
// cancelled. A task already in a terminal status is a no-op that reports
// its existing outcome. Cancelling ctx is this engine's external
// cancellation signal: the loop finishes whichever step attempt is
// already in flight, releases the lock, and returns without forcing any
// further status transition, leaving the decision of what "cancelled"
// means to whoever cancelled the context.
func (te *TaskExecutor) ExecuteTask(ctx context.Context, taskID string) (TaskResult, error) {
	task, err := te.Repo.FindTask(ctx, taskID)
	if err != nil {
		return TaskResult{}, err
	}
	if task.Status.IsTerminal() {
		return TaskResult{TaskID: task.ID, Status: task.Status, Error: task.Error}, nil
	}

	if err := statemachine.AcquireLock(task); err != nil {
		return TaskResult{TaskID: task.ID, Status: task.Status, Error: task.Error}, err
	}
	te.persist(ctx, task, repository.TaskPatch{Status: statusPtr(task.Status), LockToken: &task.LockToken})

	plan, err := te.Repo.FindPlan(ctx, task.PlanID)
	if err != nil {
		// The task must not stay in_progress without a lock: AcquireLock
		// would reject it forever. Fail it so a later ExecuteTask can retry.
		if terr := statemachine.Transition(task, models.TaskFailed); terr != nil {
			te.Logger.Warnf("task %q: %v", task.ID, terr)
		}
		statemachine.ReleaseLock(task)
		msg := err.Error()
		te.persist(ctx, task, repository.TaskPatch{Status: statusPtr(task.Status), LockToken: &task.LockToken, Error: &msg})
		return TaskResult{}, err
	}
	te.mirrorPlan(ctx, plan, models.PlanInProgress)

	ordered, err := scheduler.TopologicalOrder(plan.Steps)
	if err != nil {
		return te.terminal(ctx, task, plan, models.TaskFailed, err.Error()), nil
	}

	return te.runLoop(ctx, task, plan, ordered), nil
}

// ResumeTask stores the caller's answers to outstanding PendingUserInputs,
// resets the affected step(s) to pending so they run again, and re-enters
// ExecuteTask. Only the paused step re-runs; CurrentStepIndex was never
// advanced past it, so later steps continue forward from there.
func (te *TaskExecutor) ResumeTask(ctx context.Context, taskID string, inputs []ResumeInput) (TaskResult, error) {
	task, err := te.Repo.FindTask(ctx, taskID)
	if err != nil {
		return TaskResult{}, err
	}
	if task.Status != models.TaskPaused {
		return TaskResult{}, &engerrors.InvalidStateError{TaskID: task.ID, Expected: string(models.TaskPaused), Actual: string(task.Status)}
	}
	if err := validateResumeInputs(task, inputs); err != nil {
		return TaskResult{}, err
	}

	affected := map[string]bool{}
	for _, in := range inputs {
		if task.UserInputs[in.StepID] == nil {
			task.UserInputs[in.StepID] = map[string]interface{}{}
		}
		template.SetPath(task.UserInputs[in.StepID], in.Field, in.Value)
		affected[in.StepID] = true
	}
	// An empty non-nil slice, so the patch actually clears the stored
	// pending list (nil slices are skipped by targeted-field updates).
	task.PendingUserInputs = []models.PendingUserInput{}

	plan, err := te.Repo.FindPlan(ctx, task.PlanID)
	if err != nil {
		return TaskResult{}, err
	}
	for stepID := range affected {
		if err := te.Repo.UpdateStepStatus(ctx, plan.ID, stepID, models.StepPending); err != nil {
			te.Logger.Warnf("failed to reset step %q to pending on resume: %v", stepID, err)
		}
	}
	te.persist(ctx, task, repository.TaskPatch{UserInputs: task.UserInputs, PendingUserInputs: task.PendingUserInputs})

	return te.ExecuteTask(ctx, taskID)
}

func (te *TaskExecutor) runLoop(ctx context.Context, task *models.Task, plan *models.Plan, ordered []models.PlanStep) TaskResult {
	for task.CurrentStepIndex < len(ordered) {
		if ctx.Err() != nil {
			statemachine.ReleaseLock(task)
			te.persist(ctx, task, repository.TaskPatch{LockToken: &task.LockToken})
			return TaskResult{TaskID: task.ID, Status: task.Status, Error: "execution cancelled before step completed"}
		}

		step := ordered[task.CurrentStepIndex]
		if !scheduler.Eligible(step, task.StepOutputs) {
			te.skipStep(ctx, task, plan, step)
			task.CurrentStepIndex++
			te.persist(ctx, task, repository.TaskPatch{CurrentStepIndex: &task.CurrentStepIndex})
			continue
		}

		outcome := te.attemptWithRetry(ctx, task, plan, step)
		switch outcome.Kind {
		case StepPaused:
			return te.pause(ctx, task, plan, outcome)
		case StepFailure:
			msg := ""
			if outcome.Err != nil {
				msg = outcome.Err.Error()
			}
			return te.terminal(ctx, task, plan, models.TaskFailed, msg)
		case StepSuccess:
			// RetryCount is deliberately left at its final value so the
			// attempt count recorded in history stays RetryCount+1.
			task.StepOutputs[step.ID] = outcome.Output
			task.CurrentStepIndex++
			te.persist(ctx, task, repository.TaskPatch{
				CurrentStepIndex: &task.CurrentStepIndex,
				StepOutputs:      map[string]models.StepOutput{step.ID: outcome.Output},
			})
		}
	}
	return te.terminal(ctx, task, plan, models.TaskCompleted, "")
}

// attemptWithRetry runs one step through the Step Executor, retrying on a
// Retryable classification up to task.MaxRetries additional times with
// exponential backoff plus jitter.
func (te *TaskExecutor) attemptWithRetry(ctx context.Context, task *models.Task, plan *models.Plan, step models.PlanStep) StepOutcome {
	maxAttempts := task.MaxRetries + 1
	attempt := task.RetryCount[step.ID]

	for {
		outcome := te.StepExec.Execute(ctx, task, plan, step)
		if outcome.Kind != StepFailure {
			return outcome
		}
		if ctx.Err() != nil {
			return outcome
		}

		// A timeout is non-retryable for the attempt that expired, but the
		// retry budget still buys fresh attempts.
		category := classify.Classify(outcome.Err)
		_, timedOut := outcome.Err.(*engerrors.TimeoutError)
		if (category != classify.Retryable && !timedOut) || attempt >= maxAttempts-1 {
			return outcome
		}

		attempt++
		task.RetryCount[step.ID] = attempt
		te.persist(ctx, task, repository.TaskPatch{RetryCount: map[string]int{step.ID: attempt}})
		te.Logger.Infof("retrying step %q, attempt %d/%d after %v", step.ID, attempt+1, maxAttempts, outcome.Err)
		te.sleep(ctx, time.Duration(classify.Backoff(baseRetryDelayMillis, attempt))*time.Millisecond)
	}
}

func (te *TaskExecutor) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (te *TaskExecutor) skipStep(ctx context.Context, task *models.Task, plan *models.Plan, step models.PlanStep) {
	if err := te.Repo.UpdateStepStatus(ctx, plan.ID, step.ID, models.StepSkipped); err != nil {
		te.Logger.Warnf("failed to mark step %q skipped: %v", step.ID, err)
	}
	entry := models.HistoryEntry{StepID: step.ID, Timestamp: time.Now(), Status: models.HistorySkipped}
	task.AppendHistory(entry)
	if err := te.Repo.AppendHistory(ctx, task.ID, entry); err != nil {
		te.Logger.Warnf("failed to persist skip history for step %q: %v", step.ID, err)
	}
}

func (te *TaskExecutor) pause(ctx context.Context, task *models.Task, plan *models.Plan, outcome StepOutcome) TaskResult {
	task.PendingUserInputs = append(task.PendingUserInputs, outcome.PendingInputs...)
	if err := statemachine.Transition(task, models.TaskPaused); err != nil {
		te.Logger.Warnf("task %q: %v", task.ID, err)
	}
	statemachine.ReleaseLock(task)
	te.persist(ctx, task, repository.TaskPatch{
		Status:            statusPtr(task.Status),
		PendingUserInputs: task.PendingUserInputs,
		LockToken:         &task.LockToken,
	})
	te.mirrorPlan(ctx, plan, models.PlanPaused)
	return TaskResult{TaskID: task.ID, Status: models.TaskPaused}
}

// terminal transitions task to status, releases its lock, persists both,
// and invokes the Learning Observer — always, regardless of outcome,
// since observation is meant to learn from failure as much as success.
func (te *TaskExecutor) terminal(ctx context.Context, task *models.Task, plan *models.Plan, status models.TaskStatus, errMsg string) TaskResult {
	if err := statemachine.Transition(task, status); err != nil {
		te.Logger.Warnf("task %q: %v", task.ID, err)
	}
	task.Error = errMsg
	statemachine.ReleaseLock(task)

	patch := repository.TaskPatch{Status: statusPtr(task.Status), LockToken: &task.LockToken}
	if errMsg != "" {
		patch.Error = &errMsg
	}
	te.persist(ctx, task, patch)
	// The two status vocabularies are identical string sets, so the plan
	// mirrors the task's outcome by direct conversion.
	te.mirrorPlan(ctx, plan, models.PlanStatus(task.Status))

	if te.Observer != nil {
		if obsErr := te.Observer.Observe(ctx, task, plan); obsErr != nil {
			te.Logger.Warnf("learning observer failed for task %q: %v", task.ID, &engerrors.ObserverError{Cause: obsErr})
		}
	}
	return TaskResult{TaskID: task.ID, Status: status, Error: errMsg}
}

func (te *TaskExecutor) mirrorPlan(ctx context.Context, plan *models.Plan, status models.PlanStatus) {
	if err := te.Repo.UpdatePlanStatus(ctx, plan.ID, status); err != nil {
		te.Logger.Warnf("failed to mirror status %q onto plan %q: %v", status, plan.ID, err)
	}
}

// validateResumeInputs checks that the caller's inputs cover every field
// currently listed in PendingUserInputs.
func validateResumeInputs(task *models.Task, inputs []ResumeInput) error {
	supplied := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		supplied[in.StepID+"\x00"+in.Field] = true
	}
	var missing []string
	for _, p := range task.PendingUserInputs {
		if !supplied[p.StepID+"\x00"+p.Field] {
			missing = append(missing, p.StepID+"."+p.Field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("task %q: resume inputs do not cover pending field(s) %s", task.ID, strings.Join(missing, ", "))
	}
	return nil
}

func (te *TaskExecutor) persist(ctx context.Context, task *models.Task, patch repository.TaskPatch) {
	newVersion, err := te.Repo.UpdateTaskFields(ctx, task.ID, patch, task.Version)
	if err != nil {
		te.Logger.Warnf("failed to persist task %q: %v", task.ID, err)
		return
	}
	task.Version = newVersion
}

func statusPtr(s models.TaskStatus) *models.TaskStatus { return &s }
