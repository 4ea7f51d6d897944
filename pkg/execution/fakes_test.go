package execution_test

import (
	"context"
	"fmt"
	"sync"

	"taskengine/pkg/engerrors"
	"taskengine/pkg/models"
	"taskengine/pkg/repository"
	"taskengine/pkg/toolinvoker"
	"taskengine/pkg/valuegen"
)

// fakeRepository is an in-memory repository.Repository, hand-written
// rather than generated.
type fakeRepository struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	plans map[string]*models.Plan
	tools map[string]*models.ToolPerformance
	patts map[string]*models.PlanPattern
	costs map[string]*models.CostTracking
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		tasks: map[string]*models.Task{},
		plans: map[string]*models.Plan{},
		tools: map[string]*models.ToolPerformance{},
		patts: map[string]*models.PlanPattern{},
		costs: map[string]*models.CostTracking{},
	}
}

func (r *fakeRepository) putTask(t *models.Task) { r.tasks[t.ID] = t }
func (r *fakeRepository) putPlan(p *models.Plan) { r.plans[p.ID] = p }

func (r *fakeRepository) FindTask(ctx context.Context, taskID string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, &engerrors.NotFoundError{TaskID: taskID}
	}
	clone := *t
	return &clone, nil
}

func (r *fakeRepository) FindPlan(ctx context.Context, planID string) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %q not found", planID)
	}
	clone := *p
	clone.Steps = append([]models.PlanStep(nil), p.Steps...)
	return &clone, nil
}

func (r *fakeRepository) UpdateTaskFields(ctx context.Context, taskID string, patch repository.TaskPatch, expectedVersion int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return 0, &engerrors.NotFoundError{TaskID: taskID}
	}
	if t.Version != expectedVersion {
		return 0, fmt.Errorf("version mismatch for task %q", taskID)
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.CurrentStepIndex != nil {
		t.CurrentStepIndex = *patch.CurrentStepIndex
	}
	for k, v := range patch.StepOutputs {
		t.StepOutputs[k] = v
	}
	for step, fields := range patch.UserInputs {
		if t.UserInputs[step] == nil {
			t.UserInputs[step] = map[string]interface{}{}
		}
		for k, v := range fields {
			t.UserInputs[step][k] = v
		}
	}
	for k, v := range patch.RetryCount {
		t.RetryCount[k] = v
	}
	if patch.PendingUserInputs != nil {
		t.PendingUserInputs = patch.PendingUserInputs
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

func (r *fakeRepository) AppendHistory(ctx context.Context, taskID string, entry models.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return &engerrors.NotFoundError{TaskID: taskID}
	}
	t.ExecutionHistory = append(t.ExecutionHistory, entry)
	return nil
}

func (r *fakeRepository) UpdateStepStatus(ctx context.Context, planID, stepID string, status models.StepStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[planID]
	if !ok {
		return fmt.Errorf("plan %q not found", planID)
	}
	if s := p.StepByID(stepID); s != nil {
		s.Status = status
	}
	return nil
}

func (r *fakeRepository) UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[planID]
	if !ok {
		return fmt.Errorf("plan %q not found", planID)
	}
	p.Status = status
	return nil
}

func (r *fakeRepository) ListLockedTasks(ctx context.Context) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.LockToken != "" {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeRepository) FindToolPerformance(ctx context.Context, toolName string) (*models.ToolPerformance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.tools[toolName]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (r *fakeRepository) ListToolPerformance(ctx context.Context) ([]*models.ToolPerformance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.ToolPerformance, 0, len(r.tools))
	for _, p := range r.tools {
		clone := *p
		out = append(out, &clone)
	}
	return out, nil
}

func (r *fakeRepository) UpsertToolPerformance(ctx context.Context, perf *models.ToolPerformance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *perf
	r.tools[perf.ToolName] = &clone
	return nil
}

func (r *fakeRepository) FindPlanPattern(ctx context.Context, patternID string) (*models.PlanPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patts[patternID]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (r *fakeRepository) UpsertPlanPattern(ctx context.Context, pattern *models.PlanPattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *pattern
	r.patts[pattern.PatternID] = &clone
	return nil
}

func (r *fakeRepository) UpsertCostTracking(ctx context.Context, cost *models.CostTracking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *cost
	r.costs[cost.TaskID] = &clone
	return nil
}

var _ repository.Repository = (*fakeRepository)(nil)

// fakeInvoker dispatches to scripted, named call sequences so a test can
// simulate a tool that fails once and succeeds on retry.
type fakeInvoker struct {
	mu       sync.Mutex
	sequence map[string][]func(ctx context.Context, args map[string]interface{}) (toolinvoker.Result, error)
	calls    map[string]int
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		sequence: map[string][]func(ctx context.Context, args map[string]interface{}) (toolinvoker.Result, error){},
		calls:    map[string]int{},
	}
}

func (f *fakeInvoker) script(action string, fns ...func(ctx context.Context, args map[string]interface{}) (toolinvoker.Result, error)) {
	f.sequence[action] = fns
}

func (f *fakeInvoker) Call(ctx context.Context, name string, args map[string]interface{}) (toolinvoker.Result, error) {
	f.mu.Lock()
	idx := f.calls[name]
	f.calls[name] = idx + 1
	fns := f.sequence[name]
	f.mu.Unlock()

	if idx >= len(fns) {
		return toolinvoker.Result{}, fmt.Errorf("action %q has no scripted response for call %d", name, idx)
	}
	return fns[idx](ctx, args)
}

var _ toolinvoker.ToolInvoker = (*fakeInvoker)(nil)

// fakeGenerator always returns a fixed scalar, whatever field it is asked
// to generate.
type fakeGenerator struct {
	value interface{}
}

func (g *fakeGenerator) Generate(ctx context.Context, field string, fieldType string, stepCtx valuegen.StepContext, agentConfigID string) (interface{}, error) {
	return g.value, nil
}

var _ valuegen.ValueGenerator = (*fakeGenerator)(nil)
