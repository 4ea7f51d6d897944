package models

import "time"

// TaskStatus is the execution status of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskPaused     TaskStatus = "paused"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are valid from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// HistoryStatus is the outcome recorded for one step attempt.
type HistoryStatus string

const (
	HistoryStarted   HistoryStatus = "started"
	HistoryCompleted HistoryStatus = "completed"
	HistoryFailed    HistoryStatus = "failed"
	HistorySkipped   HistoryStatus = "skipped"
)

// HistoryEntry is one append-only record of a step attempt. Entries are
// never edited in place.
type HistoryEntry struct {
	StepID    string        `json:"stepId"`
	Timestamp time.Time     `json:"timestamp"`
	Status    HistoryStatus `json:"status"`
	Duration  *int64        `json:"durationMs,omitempty"`
	Error     string        `json:"error,omitempty"`
	Output    interface{}   `json:"output,omitempty"`
}

// PendingUserInput is one outstanding {{PROMPT_USER}} sentinel awaiting a
// value supplied through ResumeTask.
type PendingUserInput struct {
	StepID      string `json:"stepId"`
	Field       string `json:"field"`
	Description string `json:"description,omitempty"`
}

// StepOutput is the normalised envelope written to Task.StepOutputs on
// completion. Error is set instead of Output on failure.
type StepOutput struct {
	Output interface{} `json:"output"`
	Error  string      `json:"error,omitempty"`
}

// Task is the mutable execution record for one attempt to fulfil a Plan.
// It is owned exclusively by the holder of LockToken while non-empty.
type Task struct {
	ID                string                          `json:"id"`
	PlanID            string                          `json:"planId"`
	AgentConfigID     string                          `json:"agentConfigId"`
	Status            TaskStatus                      `json:"status"`
	CurrentStepIndex  int                             `json:"currentStepIndex"`
	StepOutputs       map[string]StepOutput            `json:"stepOutputs"`
	UserInputs        map[string]map[string]interface{} `json:"userInputs"`
	RetryCount        map[string]int                 `json:"retryCount"`
	PendingUserInputs []PendingUserInput              `json:"pendingUserInputs"`
	ExecutionHistory  []HistoryEntry                  `json:"executionHistory"`
	TimeoutMillis     int64                           `json:"timeout"`
	MaxRetries        int                             `json:"maxRetries"`
	LockToken         string                          `json:"lockToken,omitempty"`
	LockedAt          *time.Time                      `json:"lockedAt,omitempty"`
	Error             string                          `json:"error,omitempty"`
	Version           int64                           `json:"version"`
}

const (
	// DefaultTimeoutMillis is the per-step wall-clock budget absent any
	// task-level override.
	DefaultTimeoutMillis int64 = 30_000
	// DefaultMaxRetries is the per-step retry cap absent any override.
	DefaultMaxRetries int = 3
)

// NewTask constructs a Task with the default timeout/retry budgets and
// zero-valued, non-nil maps/slices so callers never nil-panic on first
// write.
func NewTask(id, planID, agentConfigID string) *Task {
	return &Task{
		ID:                id,
		PlanID:            planID,
		AgentConfigID:     agentConfigID,
		Status:            TaskPending,
		StepOutputs:       map[string]StepOutput{},
		UserInputs:        map[string]map[string]interface{}{},
		RetryCount:        map[string]int{},
		PendingUserInputs: []PendingUserInput{},
		ExecutionHistory:  []HistoryEntry{},
		TimeoutMillis:     DefaultTimeoutMillis,
		MaxRetries:        DefaultMaxRetries,
	}
}

// AppendHistory appends an entry; history is append-only by convention —
// callers (and Repository implementations) must never mutate a prior entry.
func (t *Task) AppendHistory(e HistoryEntry) {
	t.ExecutionHistory = append(t.ExecutionHistory, e)
}

// LatestHistoryFor returns the most recent history entry for stepID, or
// (HistoryEntry{}, false) if the step has never been attempted.
func (t *Task) LatestHistoryFor(stepID string) (HistoryEntry, bool) {
	for i := len(t.ExecutionHistory) - 1; i >= 0; i-- {
		if t.ExecutionHistory[i].StepID == stepID {
			return t.ExecutionHistory[i], true
		}
	}
	return HistoryEntry{}, false
}
