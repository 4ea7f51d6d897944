package learning

import (
	"context"
	"fmt"
	"time"

	"taskengine/internal/utils"
	"taskengine/pkg/models"
	"taskengine/pkg/repository"
	"taskengine/pkg/statemachine"
)

// Reconcile recomputes each ToolPerformance's derived fields (SuccessRate,
// CommonErrors percentages) from its stored counters, correcting any drift
// the commutative upserts tolerate between writes. It is
// meant to run on an operator-driven schedule (the `reconcile`
// subcommand), not as a built-in ticker — the engine spawns no goroutines
// beyond one worker per task.
func Reconcile(ctx context.Context, repo repository.Repository, logger utils.ExtendedLogger) error {
	tools, err := repo.ListToolPerformance(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tool performance for reconciliation: %w", err)
	}

	var firstErr error
	for _, perf := range tools {
		if perf.TotalExecutions > 0 {
			perf.SuccessRate = float64(perf.SuccessCount) / float64(perf.TotalExecutions)
		}
		recomputeErrorPercentages(perf)
		if err := repo.UpsertToolPerformance(ctx, perf); err != nil {
			logger.Warnf("reconcile: failed to persist tool performance for %q: %v", perf.ToolName, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	logger.Infof("reconcile: recomputed derived fields for %d tool(s)", len(tools))
	return firstErr
}

// ReconcileStaleLocks scans every currently-locked task and steals the
// lock of any whose holder has been idle past idleThreshold
// (statemachine.StealStaleLock), transitioning the recovered task to
// failed so a later ExecuteTask call can reacquire it — AcquireLock only
// succeeds from pending, paused, or failed, so a recovered task
// left in_progress with no lock token could never be picked up again.
func ReconcileStaleLocks(ctx context.Context, repo repository.Repository, idleThreshold time.Duration, logger utils.ExtendedLogger) error {
	locked, err := repo.ListLockedTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list locked tasks for stale-lock reconciliation: %w", err)
	}

	var firstErr error
	recovered := 0
	for _, task := range locked {
		if !statemachine.StealStaleLock(task, idleThreshold) {
			continue
		}

		status := models.TaskFailed
		emptyToken := ""
		errMsg := fmt.Sprintf("lock recovered: holder idle past %s", idleThreshold)
		patch := repository.TaskPatch{Status: &status, LockToken: &emptyToken, Error: &errMsg}
		if _, err := repo.UpdateTaskFields(ctx, task.ID, patch, task.Version); err != nil {
			logger.Warnf("reconcile: failed to steal stale lock for task %q: %v", task.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		recovered++
	}
	logger.Infof("reconcile: recovered %d stale lock(s) out of %d held", recovered, len(locked))
	return firstErr
}
