// Package statemachine implements the Task status transition table and
// lock-token acquisition/release for single-writer task ownership.
package statemachine

import (
	"time"

	"github.com/google/uuid"

	"taskengine/pkg/engerrors"
	"taskengine/pkg/models"
)

// validTransitions enumerates every permitted status change. A transition
// not listed here is rejected.
var validTransitions = map[models.TaskStatus]map[models.TaskStatus]bool{
	models.TaskPending: {
		models.TaskInProgress: true,
		models.TaskFailed:     true,
		models.TaskCancelled:  true,
	},
	models.TaskInProgress: {
		models.TaskCompleted: true,
		models.TaskFailed:    true,
		models.TaskPaused:    true,
		models.TaskCancelled: true,
	},
	models.TaskPaused: {
		models.TaskInProgress: true,
		models.TaskFailed:     true,
		models.TaskCancelled:  true,
	},
	models.TaskFailed: {
		models.TaskInProgress: true,
		models.TaskCancelled:  true,
	},
	// Completed and Cancelled are terminal: no entries.
}

// CanTransition reports whether moving from -> to is permitted.
func CanTransition(from, to models.TaskStatus) bool {
	if from == to {
		return false
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Transition validates and applies a status change in place. It does not
// persist the change; callers are responsible for writing it through the
// Repository under the current lock token.
func Transition(t *models.Task, to models.TaskStatus) error {
	if !CanTransition(t.Status, to) {
		return &engerrors.InvalidStateError{TaskID: t.ID, Expected: "a status reachable from " + string(t.Status), Actual: string(to)}
	}
	t.Status = to
	return nil
}

// AcquireLock performs a compare-and-set: it only
// succeeds if the task currently holds no lock, atomically setting
// Status = in_progress and a fresh LockToken. Callers persist the result
// through Repository.UpdateTaskFields with optimistic locking on Version.
func AcquireLock(t *models.Task) error {
	if t.LockToken != "" {
		return &engerrors.LockContentionError{TaskID: t.ID}
	}
	if t.Status != models.TaskPending && t.Status != models.TaskPaused && t.Status != models.TaskFailed {
		return &engerrors.LockContentionError{TaskID: t.ID}
	}
	if err := Transition(t, models.TaskInProgress); err != nil {
		return err
	}
	t.LockToken = uuid.NewString()
	now := time.Now()
	t.LockedAt = &now
	return nil
}

// ReleaseLock clears the lock token and timestamp. Called on every exit
// path from the Task Executor's main loop.
func ReleaseLock(t *models.Task) {
	t.LockToken = ""
	t.LockedAt = nil
}

// StealStaleLock forcibly clears a lock whose holder has been idle longer
// than idleThreshold. It does not change Status; the caller decides the
// task's next status (learning.ReconcileStaleLocks marks it failed).
func StealStaleLock(t *models.Task, idleThreshold time.Duration) bool {
	if t.LockToken == "" || t.LockedAt == nil {
		return false
	}
	if time.Since(*t.LockedAt) < idleThreshold {
		return false
	}
	t.LockToken = ""
	t.LockedAt = nil
	return true
}
