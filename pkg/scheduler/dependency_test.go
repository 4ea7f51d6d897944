package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskengine/pkg/models"
	"taskengine/pkg/scheduler"
)

func step(id string, order int, deps ...string) models.PlanStep {
	return models.PlanStep{ID: id, Order: order, Dependencies: deps}
}

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	steps := []models.PlanStep{
		step("c", 3, "b"),
		step("a", 1),
		step("b", 2, "a"),
	}
	ordered, err := scheduler.TopologicalOrder(steps)
	require.NoError(t, err)
	ids := idsOf(ordered)
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestTopologicalOrderBreaksTiesByDeclaredOrder(t *testing.T) {
	steps := []models.PlanStep{
		step("z", 2),
		step("a", 1),
	}
	ordered, err := scheduler.TopologicalOrder(steps)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "z"}, idsOf(ordered))
}

func TestTopologicalOrderDetectsCycle(t *testing.T) {
	steps := []models.PlanStep{
		step("step2", 1, "step3"),
		step("step3", 2, "step2"),
	}
	_, err := scheduler.TopologicalOrder(steps)
	require.Error(t, err)
}

func TestTopologicalOrderDetectsUnknownDependency(t *testing.T) {
	steps := []models.PlanStep{step("a", 1, "ghost")}
	_, err := scheduler.TopologicalOrder(steps)
	require.Error(t, err)
}

func TestTopologicalOrderEmptyPlan(t *testing.T) {
	ordered, err := scheduler.TopologicalOrder(nil)
	require.NoError(t, err)
	require.Empty(t, ordered)
}

func TestEligibleRequiresAllDependencyOutputs(t *testing.T) {
	s := step("b", 2, "a")
	require.False(t, scheduler.Eligible(s, map[string]models.StepOutput{}))
	require.True(t, scheduler.Eligible(s, map[string]models.StepOutput{"a": {Output: "x"}}))
}

func TestEligibleNoDependenciesAlwaysEligible(t *testing.T) {
	s := step("a", 1)
	require.True(t, scheduler.Eligible(s, map[string]models.StepOutput{}))
}

func idsOf(steps []models.PlanStep) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}
