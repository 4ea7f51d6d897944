// Package models defines the persisted entities the execution engine reads
// and writes: Plan, Task, ToolPerformance, PlanPattern, and CostTracking.
package models

// StepStatus is the lifecycle of a single PlanStep within one Task attempt.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// PlanStatus mirrors the outcome of the Task executing the plan.
type PlanStatus string

const (
	PlanPending     PlanStatus = "pending"
	PlanInProgress  PlanStatus = "in_progress"
	PlanPaused      PlanStatus = "paused"
	PlanCompleted   PlanStatus = "completed"
	PlanFailed      PlanStatus = "failed"
	PlanCancelled   PlanStatus = "cancelled"
)

// MissingDataSpec describes one field a plan could not resolve at authoring
// time, declaring the type the Step Executor should ask the ValueGenerator
// for when it encounters a {{GENERATE}} sentinel at that path.
type MissingDataSpec struct {
	StepID      string `json:"stepId"`
	Field       string `json:"field"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// PlanStep is one node of a Plan. Dependencies reference other step ids
// within the same plan and must form a DAG.
type PlanStep struct {
	ID             string                 `json:"id"`
	Order          int                    `json:"order"`
	Action         string                 `json:"action"`
	Parameters     map[string]interface{} `json:"parameters"`
	ExpectedOutput string                 `json:"expectedOutput"`
	Dependencies   []string               `json:"dependencies"`
	Status         StepStatus             `json:"status"`
}

// Plan is the immutable recipe an Task executes. Only Status (mirrored from
// the Task) and each PlanStep.Status are mutated after creation, and each
// step's status is independent.
type Plan struct {
	ID          string             `json:"id"`
	UserQuery   string             `json:"userQuery"`
	Goal        string             `json:"goal"`
	Steps       []PlanStep         `json:"steps"`
	MissingData []MissingDataSpec  `json:"missingData"`
	Status      PlanStatus         `json:"status"`
}

// StepByID returns a pointer into p.Steps for in-place status mutation, or
// nil if no step with that id exists.
func (p *Plan) StepByID(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// MissingDataFor looks up the declared type for a GENERATE sentinel at the
// given step and dotted field path, returning ("", false) if undeclared.
func (p *Plan) MissingDataFor(stepID, field string) (string, bool) {
	for _, m := range p.MissingData {
		if m.StepID == stepID && m.Field == field {
			return m.Type, true
		}
	}
	return "", false
}
