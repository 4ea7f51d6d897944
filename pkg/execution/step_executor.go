package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskengine/internal/utils"
	"taskengine/pkg/engerrors"
	"taskengine/pkg/models"
	"taskengine/pkg/repository"
	"taskengine/pkg/template"
	"taskengine/pkg/timeoutguard"
	"taskengine/pkg/toolinvoker"
	"taskengine/pkg/valuegen"
)

// StepExecutor drives one attempt of one PlanStep: template resolution,
// pause-on-PROMPT_USER, fill-on-GENERATE, a single timeout-guarded tool
// call, and output normalisation. It never retries — the
// retry loop lives in the Task Executor.
type StepExecutor struct {
	Repo      repository.Repository
	Invoker   toolinvoker.ToolInvoker
	Generator valuegen.ValueGenerator
	Logger    utils.ExtendedLogger
}

// NewStepExecutor wires the Step Executor's collaborators.
func NewStepExecutor(repo repository.Repository, invoker toolinvoker.ToolInvoker, generator valuegen.ValueGenerator, logger utils.ExtendedLogger) *StepExecutor {
	return &StepExecutor{Repo: repo, Invoker: invoker, Generator: generator, Logger: logger}
}

// Execute runs one attempt at step, start to finish. It appends the
// "started" history entry and flips the plan step to in_progress itself;
// callers are responsible for nothing but reacting to the returned
// StepOutcome.
func (se *StepExecutor) Execute(ctx context.Context, task *models.Task, plan *models.Plan, step models.PlanStep) StepOutcome {
	startedAt := time.Now()
	se.appendHistory(ctx, task, models.HistoryEntry{StepID: step.ID, Timestamp: startedAt, Status: models.HistoryStarted})
	se.markStepStatus(ctx, plan.ID, step.ID, models.StepInProgress)

	tmplCtx := template.Context{
		StepOutputs: task.StepOutputs,
		UserInputs:  task.UserInputs,
		Now:         startedAt,
	}
	resolved, err := template.Resolve(step.Parameters, tmplCtx, step.ID)
	if err != nil {
		ref, reason, ok := template.RefError(err)
		if !ok {
			ref, reason = step.ID, err.Error()
		}
		return se.fail(ctx, task, plan, step, startedAt, &engerrors.TemplateError{StepID: step.ID, Path: ref, Reason: reason})
	}

	if template.ContainsSentinel(resolved, template.SentinelPromptUser) {
		paths := template.ExtractSentinel(resolved, template.SentinelPromptUser)
		pending := make([]models.PendingUserInput, 0, len(paths))
		for _, p := range paths {
			pending = append(pending, models.PendingUserInput{StepID: step.ID, Field: p})
		}
		se.Logger.Infof("step %q paused awaiting user input for %d field(s)", step.ID, len(pending))
		return StepOutcome{Kind: StepPaused, PendingInputs: pending}
	}

	if template.ContainsSentinel(resolved, template.SentinelGenerate) {
		for _, path := range template.ExtractSentinel(resolved, template.SentinelGenerate) {
			fieldType, declared := plan.MissingDataFor(step.ID, path)
			if !declared {
				fieldType = valuegen.InferType(path)
			}
			stepCtx := valuegen.StepContext{
				StepID:      step.ID,
				Field:       path,
				Parameters:  resolved,
				StepOutputs: flattenOutputs(task.StepOutputs),
			}
			value, genErr := se.Generator.Generate(ctx, path, fieldType, stepCtx, task.AgentConfigID)
			if genErr != nil {
				// Generator errors propagate as non-retryable, so a
				// generic error must not fall through to the classifier's
				// retryable default.
				return se.fail(ctx, task, plan, step, startedAt, &engerrors.ToolError{
					Retryable: false,
					Message:   fmt.Sprintf("value generation failed for field %q: %v", path, genErr),
				})
			}
			template.SetPath(resolved, path, value)
		}
	}

	raw, callErr, duration := timeoutguard.Attempt(ctx, step.ID, task.TimeoutMillis, func(ctx context.Context) (interface{}, error) {
		return se.Invoker.Call(ctx, step.Action, resolved)
	})
	if callErr != nil {
		return se.fail(ctx, task, plan, step, startedAt, callErr)
	}

	result, ok := raw.(toolinvoker.Result)
	if !ok {
		return se.fail(ctx, task, plan, step, startedAt, errors.New("tool invoker returned an unexpected result type"))
	}

	output := normalize(result)
	if output.Error != "" {
		return se.fail(ctx, task, plan, step, startedAt, errors.New(output.Error))
	}

	se.markStepStatus(ctx, plan.ID, step.ID, models.StepCompleted)
	durationMs := duration.Milliseconds()
	se.appendHistory(ctx, task, models.HistoryEntry{
		StepID:    step.ID,
		Timestamp: time.Now(),
		Status:    models.HistoryCompleted,
		Duration:  &durationMs,
		Output:    output.Output,
	})
	return StepOutcome{Kind: StepSuccess, Output: output, DurationMs: durationMs}
}

func (se *StepExecutor) fail(ctx context.Context, task *models.Task, plan *models.Plan, step models.PlanStep, startedAt time.Time, cause error) StepOutcome {
	se.markStepStatus(ctx, plan.ID, step.ID, models.StepFailed)
	durationMs := time.Since(startedAt).Milliseconds()
	se.appendHistory(ctx, task, models.HistoryEntry{
		StepID:    step.ID,
		Timestamp: time.Now(),
		Status:    models.HistoryFailed,
		Duration:  &durationMs,
		Error:     cause.Error(),
	})
	return StepOutcome{Kind: StepFailure, Err: cause, DurationMs: durationMs}
}

func (se *StepExecutor) appendHistory(ctx context.Context, task *models.Task, entry models.HistoryEntry) {
	task.AppendHistory(entry)
	if err := se.Repo.AppendHistory(ctx, task.ID, entry); err != nil {
		se.Logger.Warnf("failed to persist history entry for step %q: %v", entry.StepID, err)
	}
}

func (se *StepExecutor) markStepStatus(ctx context.Context, planID, stepID string, status models.StepStatus) {
	if err := se.Repo.UpdateStepStatus(ctx, planID, stepID, status); err != nil {
		se.Logger.Warnf("failed to persist status %q for step %q: %v", status, stepID, err)
	}
}

// normalize shapes the tool's return value: an error envelope
// becomes a StepOutput.Error, a nil list becomes an empty one, everything
// else passes through as decoded by the ToolInvoker.
func normalize(res toolinvoker.Result) models.StepOutput {
	if res.IsError {
		msg := res.Text
		if msg == "" {
			msg = "tool reported an error"
		}
		return models.StepOutput{Error: msg}
	}
	output := res.Payload
	if list, ok := output.([]interface{}); ok && list == nil {
		output = []interface{}{}
	}
	return models.StepOutput{Output: output}
}

func flattenOutputs(outputs map[string]models.StepOutput) map[string]interface{} {
	flat := make(map[string]interface{}, len(outputs))
	for id, out := range outputs {
		flat[id] = out.Output
	}
	return flat
}
