package learning_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskengine/pkg/learning"
	"taskengine/pkg/models"
	"taskengine/pkg/repository"
	"taskengine/pkg/statemachine"
)

// fakeReconcileRepo is a minimal in-memory repository.Repository exercising
// only what Reconcile/ReconcileStaleLocks touch: tasks (for the stale-lock
// scan) and tool performance (for derived-field recomputation).
type fakeReconcileRepo struct {
	tasks map[string]*models.Task
	tools map[string]*models.ToolPerformance
}

func newFakeReconcileRepo() *fakeReconcileRepo {
	return &fakeReconcileRepo{tasks: map[string]*models.Task{}, tools: map[string]*models.ToolPerformance{}}
}

func (r *fakeReconcileRepo) FindTask(ctx context.Context, taskID string) (*models.Task, error) {
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, nil
	}
	clone := *t
	return &clone, nil
}
func (r *fakeReconcileRepo) FindPlan(ctx context.Context, planID string) (*models.Plan, error) {
	return nil, nil
}
func (r *fakeReconcileRepo) UpdateTaskFields(ctx context.Context, taskID string, patch repository.TaskPatch, expectedVersion int64) (int64, error) {
	t, ok := r.tasks[taskID]
	if !ok || t.Version != expectedVersion {
		return 0, &fakeVersionMismatch{taskID: taskID}
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.LockToken != nil {
		t.LockToken = *patch.LockToken
	}
	if patch.Error != nil {
		t.Error = *patch.Error
	}
	t.Version++
	return t.Version, nil
}
func (r *fakeReconcileRepo) AppendHistory(ctx context.Context, taskID string, entry models.HistoryEntry) error {
	return nil
}
func (r *fakeReconcileRepo) UpdateStepStatus(ctx context.Context, planID, stepID string, status models.StepStatus) error {
	return nil
}
func (r *fakeReconcileRepo) UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error {
	return nil
}
func (r *fakeReconcileRepo) ListLockedTasks(ctx context.Context) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range r.tasks {
		if t.LockToken != "" {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}
func (r *fakeReconcileRepo) FindToolPerformance(ctx context.Context, toolName string) (*models.ToolPerformance, error) {
	p, ok := r.tools[toolName]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}
func (r *fakeReconcileRepo) ListToolPerformance(ctx context.Context) ([]*models.ToolPerformance, error) {
	out := make([]*models.ToolPerformance, 0, len(r.tools))
	for _, p := range r.tools {
		clone := *p
		out = append(out, &clone)
	}
	return out, nil
}
func (r *fakeReconcileRepo) UpsertToolPerformance(ctx context.Context, perf *models.ToolPerformance) error {
	clone := *perf
	r.tools[perf.ToolName] = &clone
	return nil
}
func (r *fakeReconcileRepo) FindPlanPattern(ctx context.Context, patternID string) (*models.PlanPattern, error) {
	return nil, nil
}
func (r *fakeReconcileRepo) UpsertPlanPattern(ctx context.Context, pattern *models.PlanPattern) error {
	return nil
}
func (r *fakeReconcileRepo) UpsertCostTracking(ctx context.Context, cost *models.CostTracking) error {
	return nil
}

var _ repository.Repository = (*fakeReconcileRepo)(nil)

type fakeVersionMismatch struct{ taskID string }

func (e *fakeVersionMismatch) Error() string { return "version mismatch for task " + e.taskID }

func TestReconcileRecomputesSuccessRateAndPercentages(t *testing.T) {
	repo := newFakeReconcileRepo()
	repo.tools["list_facilities"] = &models.ToolPerformance{
		ToolName:        "list_facilities",
		TotalExecutions: 4,
		SuccessCount:    3,
		FailureCount:    1,
		SuccessRate:     0, // drifted
		CommonErrors:    []models.CommonError{{Error: "boom", Frequency: 1, Percentage: 0}},
	}

	require.NoError(t, learning.Reconcile(context.Background(), repo, noopLogger{}))

	got := repo.tools["list_facilities"]
	require.Equal(t, 0.75, got.SuccessRate)
	require.Equal(t, 100.0, got.CommonErrors[0].Percentage)
}

func TestReconcileStaleLocksRecoversIdleHolder(t *testing.T) {
	repo := newFakeReconcileRepo()
	task := models.NewTask("t1", "p1", "a1")
	require.NoError(t, statemachine.AcquireLock(task))
	past := time.Now().Add(-2 * time.Hour)
	task.LockedAt = &past
	repo.tasks[task.ID] = task

	require.NoError(t, learning.ReconcileStaleLocks(context.Background(), repo, time.Hour, noopLogger{}))

	recovered := repo.tasks["t1"]
	require.Empty(t, recovered.LockToken)
	require.Equal(t, models.TaskFailed, recovered.Status)
	require.NotEmpty(t, recovered.Error)
}

func TestReconcileStaleLocksLeavesFreshHolderAlone(t *testing.T) {
	repo := newFakeReconcileRepo()
	task := models.NewTask("t1", "p1", "a1")
	require.NoError(t, statemachine.AcquireLock(task))
	repo.tasks[task.ID] = task

	require.NoError(t, learning.ReconcileStaleLocks(context.Background(), repo, time.Hour, noopLogger{}))

	still := repo.tasks["t1"]
	require.NotEmpty(t, still.LockToken)
	require.Equal(t, models.TaskInProgress, still.Status)
}
