package statemachine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskengine/pkg/models"
	"taskengine/pkg/statemachine"
)

func TestCanTransitionTable(t *testing.T) {
	require.True(t, statemachine.CanTransition(models.TaskPending, models.TaskInProgress))
	require.True(t, statemachine.CanTransition(models.TaskInProgress, models.TaskPaused))
	require.True(t, statemachine.CanTransition(models.TaskPaused, models.TaskInProgress))
	require.True(t, statemachine.CanTransition(models.TaskFailed, models.TaskInProgress))
	require.False(t, statemachine.CanTransition(models.TaskCompleted, models.TaskInProgress))
	require.False(t, statemachine.CanTransition(models.TaskCancelled, models.TaskInProgress))
	require.False(t, statemachine.CanTransition(models.TaskPending, models.TaskPaused))
	require.False(t, statemachine.CanTransition(models.TaskPending, models.TaskPending))
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	task := models.NewTask("t1", "p1", "a1")
	task.Status = models.TaskCompleted
	err := statemachine.Transition(task, models.TaskInProgress)
	require.Error(t, err)
	require.Equal(t, models.TaskCompleted, task.Status)
}

func TestAcquireLockSetsInProgressAndToken(t *testing.T) {
	task := models.NewTask("t1", "p1", "a1")
	err := statemachine.AcquireLock(task)
	require.NoError(t, err)
	require.Equal(t, models.TaskInProgress, task.Status)
	require.NotEmpty(t, task.LockToken)
	require.NotNil(t, task.LockedAt)
}

func TestAcquireLockFailsWhenAlreadyLocked(t *testing.T) {
	task := models.NewTask("t1", "p1", "a1")
	require.NoError(t, statemachine.AcquireLock(task))
	err := statemachine.AcquireLock(task)
	require.Error(t, err)
}

func TestReleaseLockClearsToken(t *testing.T) {
	task := models.NewTask("t1", "p1", "a1")
	require.NoError(t, statemachine.AcquireLock(task))
	statemachine.ReleaseLock(task)
	require.Empty(t, task.LockToken)
	require.Nil(t, task.LockedAt)
}

func TestStealStaleLockRespectsThreshold(t *testing.T) {
	task := models.NewTask("t1", "p1", "a1")
	require.NoError(t, statemachine.AcquireLock(task))
	require.False(t, statemachine.StealStaleLock(task, time.Hour))
	require.NotEmpty(t, task.LockToken)
}

func TestStealStaleLockStealsPastThreshold(t *testing.T) {
	task := models.NewTask("t1", "p1", "a1")
	require.NoError(t, statemachine.AcquireLock(task))
	past := time.Now().Add(-2 * time.Hour)
	task.LockedAt = &past
	require.True(t, statemachine.StealStaleLock(task, time.Hour))
	require.Empty(t, task.LockToken)
}
