// Package repository declares the abstract persistence seam the Task and
// Step Executors depend on: CRUD plus optimistic-locked update
// over Task, Plan, ToolPerformance, PlanPattern, and CostTracking. A
// concrete SQLite-backed implementation lives in pkg/repository/sqlite.
package repository

import (
	"context"

	"taskengine/pkg/models"
)

// TaskPatch carries a set of targeted field updates for Task, applied by
// UpdateTaskFields under an optimistic-lock check against expectedVersion.
// Only non-nil fields are written; callers never read-then-write the
// whole document.
type TaskPatch struct {
	Status            *models.TaskStatus
	CurrentStepIndex   *int
	StepOutputs        map[string]models.StepOutput
	UserInputs         map[string]map[string]interface{}
	RetryCount         map[string]int
	PendingUserInputs  []models.PendingUserInput
	LockToken          *string
	Error              *string
}

// Repository is the full persistence interface consumed by the engine.
type Repository interface {
	// FindTask loads a Task by id. Returns a *engerrors.NotFoundError
	// (or an equivalent wrapped error) when absent.
	FindTask(ctx context.Context, taskID string) (*models.Task, error)
	// FindPlan loads the immutable Plan referenced by a Task.
	FindPlan(ctx context.Context, planID string) (*models.Plan, error)

	// UpdateTaskFields applies patch to the stored task, succeeding only if
	// the stored Version equals expectedVersion (optimistic concurrency).
	// On success the stored Version is incremented and returned.
	UpdateTaskFields(ctx context.Context, taskID string, patch TaskPatch, expectedVersion int64) (newVersion int64, err error)

	// AppendHistory appends one entry to a task's execution history. This
	// is its own operation (not folded into UpdateTaskFields) because
	// history must be append-only regardless of what else is being patched
	// concurrently.
	AppendHistory(ctx context.Context, taskID string, entry models.HistoryEntry) error

	// UpdateStepStatus updates one PlanStep's status in place. Step
	// statuses are independent per step.
	UpdateStepStatus(ctx context.Context, planID, stepID string, status models.StepStatus) error

	// UpdatePlanStatus mirrors a task's lifecycle status onto its plan.
	UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error

	// ListLockedTasks returns every task that currently holds a non-empty
	// LockToken, for the stale-lock reconciliation pass to scan
	// for holders that have gone idle past a configured threshold.
	ListLockedTasks(ctx context.Context) ([]*models.Task, error)

	// UpsertToolPerformance applies an idempotent update to the named
	// tool's aggregate counters.
	UpsertToolPerformance(ctx context.Context, perf *models.ToolPerformance) error
	// FindToolPerformance loads the current aggregate for a tool, or nil
	// if none exists yet.
	FindToolPerformance(ctx context.Context, toolName string) (*models.ToolPerformance, error)

	// ListToolPerformance returns every tool's current aggregate, used by
	// the Learning Observer's background reconciliation pass.
	ListToolPerformance(ctx context.Context) ([]*models.ToolPerformance, error)

	// UpsertPlanPattern applies an idempotent update to a content-addressed
	// plan pattern.
	UpsertPlanPattern(ctx context.Context, pattern *models.PlanPattern) error
	FindPlanPattern(ctx context.Context, patternID string) (*models.PlanPattern, error)

	// UpsertCostTracking records (or overwrites) the cost estimate for one
	// task.
	UpsertCostTracking(ctx context.Context, cost *models.CostTracking) error
}
