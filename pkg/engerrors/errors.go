// Package engerrors defines the engine's error taxonomy: the typed kinds
// every other engine package raises or classifies, kept dependency-free
// so classify/scheduler/statemachine/execution can all import it without
// a cycle.
package engerrors

import "fmt"

// TemplateError is an unresolvable {{stepK.path}} reference. Always
// non-retryable; the containing task fails.
type TemplateError struct {
	StepID string
	Path   string
	Reason string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error at step %q path %q: %s", e.StepID, e.Path, e.Reason)
}

// DependencyError is a DAG cycle or a reference to an unknown step id.
// Always non-retryable.
type DependencyError struct {
	Reason string
}

func (e *DependencyError) Error() string { return "dependency error: " + e.Reason }

// ToolError wraps a tool invocation failure with the classifier's verdict
// already attached, so the retry loop never has to re-inspect message text
// once a typed error exists.
type ToolError struct {
	Retryable bool
	Message   string
}

func (e *ToolError) Error() string { return e.Message }

// TimeoutError is produced when a step attempt exceeds Task.TimeoutMillis.
// Treated as non-retryable for the attempt that timed out; the outer
// retry loop may still issue a fresh attempt if budget remains.
type TimeoutError struct {
	StepID  string
	Elapsed int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %dms", e.StepID, e.Elapsed)
}

// LockContentionError is surfaced to the caller of ExecuteTask when another
// runner already holds the task's lock. Task state is left unchanged.
type LockContentionError struct {
	TaskID string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("task %q is already running", e.TaskID)
}

// NotFoundError is returned when ExecuteTask/ResumeTask target an absent
// task.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("task %q not found", e.TaskID) }

// InvalidStateError is returned when an operation requires a task status
// the task is not currently in (e.g. ResumeTask on a non-paused task).
type InvalidStateError struct {
	TaskID   string
	Expected string
	Actual   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("task %q: expected status %q, got %q", e.TaskID, e.Expected, e.Actual)
}

// ObserverError wraps a Learning Observer failure. It is always logged and
// swallowed by the Task Executor — it must never mark the task failed.
type ObserverError struct {
	Cause error
}

func (e *ObserverError) Error() string  { return "observer error: " + e.Cause.Error() }
func (e *ObserverError) Unwrap() error  { return e.Cause }
