// Package scheduler implements the Dependency Scheduler:
// topological ordering of plan steps, cycle detection, and runtime
// dependency-gating eligibility checks.
package scheduler

import (
	"sort"

	"taskengine/pkg/engerrors"
	"taskengine/pkg/models"
)

// TopologicalOrder returns steps ordered so that every dependency precedes
// its dependents, breaking ties among independently-ready steps by the
// declared Order field (ascending). A cycle, or a dependency referencing an
// unknown step id, produces a *engerrors.DependencyError.
func TopologicalOrder(steps []models.PlanStep) ([]models.PlanStep, error) {
	byID := make(map[string]models.PlanStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, &engerrors.DependencyError{Reason: "step " + s.ID + " depends on unknown step " + dep}
			}
		}
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		indegree[s.ID] = len(s.Dependencies)
		for _, dep := range s.Dependencies {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	ready := make([]string, 0, len(steps))
	for _, s := range steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}
	sortByOrder(ready, byID)

	ordered := make([]models.PlanStep, 0, len(steps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])

		var newlyReady []string
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		sortByOrder(newlyReady, byID)
		ready = mergeByOrder(ready, newlyReady, byID)
	}

	if len(ordered) != len(steps) {
		return nil, &engerrors.DependencyError{Reason: "cycle detected among plan steps"}
	}
	return ordered, nil
}

func sortByOrder(ids []string, byID map[string]models.PlanStep) {
	sort.SliceStable(ids, func(i, j int) bool {
		return byID[ids[i]].Order < byID[ids[j]].Order
	})
}

func mergeByOrder(a, b []string, byID map[string]models.PlanStep) []string {
	merged := append(append([]string{}, a...), b...)
	sortByOrder(merged, byID)
	return merged
}

// Eligible reports whether step s can run given the outputs recorded so
// far: every dependency id must already appear in stepOutputs. A
// step with no dependencies is always eligible.
func Eligible(s models.PlanStep, stepOutputs map[string]models.StepOutput) bool {
	for _, dep := range s.Dependencies {
		if _, ok := stepOutputs[dep]; !ok {
			return false
		}
	}
	return true
}
