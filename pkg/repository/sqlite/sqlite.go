// Package sqlite implements repository.Repository on top of database/sql
// and github.com/mattn/go-sqlite3, persisting Task, Plan, ToolPerformance,
// PlanPattern, and CostTracking documents with nested fields serialised as
// JSON text columns.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taskengine/pkg/engerrors"
	"taskengine/pkg/models"
	"taskengine/pkg/repository"
)

// DB implements repository.Repository using a single SQLite file.
type DB struct {
	conn *sql.DB
}

// Open creates (or reuses) a SQLite database at path and runs migrations.
func Open(path, migrationsDir string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	runner := NewMigrationRunner(conn)
	if err := runner.RunMigrations(migrationsDir); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

var _ repository.Repository = (*DB)(nil)

func (d *DB) FindTask(ctx context.Context, taskID string) (*models.Task, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, plan_id, agent_config_id, status, current_step_index,
		       step_outputs_json, user_inputs_json, retry_count_json,
		       pending_user_inputs_json, timeout_millis, max_retries,
		       lock_token, locked_at, error, version
		FROM tasks WHERE id = ?`, taskID)

	var t models.Task
	var stepOutputsJSON, userInputsJSON, retryCountJSON, pendingJSON string
	var lockedAt sql.NullTime
	var status string

	err := row.Scan(&t.ID, &t.PlanID, &t.AgentConfigID, &status, &t.CurrentStepIndex,
		&stepOutputsJSON, &userInputsJSON, &retryCountJSON, &pendingJSON,
		&t.TimeoutMillis, &t.MaxRetries, &t.LockToken, &lockedAt, &t.Error, &t.Version)
	if err == sql.ErrNoRows {
		return nil, &engerrors.NotFoundError{TaskID: taskID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %q: %w", taskID, err)
	}
	t.Status = models.TaskStatus(status)
	if lockedAt.Valid {
		lt := lockedAt.Time
		t.LockedAt = &lt
	}
	if err := json.Unmarshal([]byte(stepOutputsJSON), &t.StepOutputs); err != nil {
		return nil, fmt.Errorf("corrupt step_outputs for task %q: %w", taskID, err)
	}
	if err := json.Unmarshal([]byte(userInputsJSON), &t.UserInputs); err != nil {
		return nil, fmt.Errorf("corrupt user_inputs for task %q: %w", taskID, err)
	}
	if err := json.Unmarshal([]byte(retryCountJSON), &t.RetryCount); err != nil {
		return nil, fmt.Errorf("corrupt retry_count for task %q: %w", taskID, err)
	}
	if err := json.Unmarshal([]byte(pendingJSON), &t.PendingUserInputs); err != nil {
		return nil, fmt.Errorf("corrupt pending_user_inputs for task %q: %w", taskID, err)
	}

	history, err := d.loadHistory(ctx, taskID)
	if err != nil {
		return nil, err
	}
	t.ExecutionHistory = history

	return &t, nil
}

func (d *DB) loadHistory(ctx context.Context, taskID string) ([]models.HistoryEntry, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT step_id, timestamp, status, duration_millis, error, output_json
		FROM task_history WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for task %q: %w", taskID, err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var status string
		var duration sql.NullInt64
		var outputJSON sql.NullString
		if err := rows.Scan(&e.StepID, &e.Timestamp, &status, &duration, &e.Error, &outputJSON); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Status = models.HistoryStatus(status)
		if duration.Valid {
			d := duration.Int64
			e.Duration = &d
		}
		if outputJSON.Valid && outputJSON.String != "" {
			if err := json.Unmarshal([]byte(outputJSON.String), &e.Output); err != nil {
				return nil, fmt.Errorf("corrupt history output: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (d *DB) FindPlan(ctx context.Context, planID string) (*models.Plan, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, user_query, goal, status, steps_json, missing_data_json
		FROM plans WHERE id = ?`, planID)

	var p models.Plan
	var status, stepsJSON, missingJSON string
	err := row.Scan(&p.ID, &p.UserQuery, &p.Goal, &status, &stepsJSON, &missingJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan %q not found", planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %q: %w", planID, err)
	}
	p.Status = models.PlanStatus(status)
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, fmt.Errorf("corrupt steps for plan %q: %w", planID, err)
	}
	if err := json.Unmarshal([]byte(missingJSON), &p.MissingData); err != nil {
		return nil, fmt.Errorf("corrupt missing_data for plan %q: %w", planID, err)
	}
	return &p, nil
}

// UpdateTaskFields applies a targeted patch under an optimistic-lock
// check: the UPDATE only matches a row whose version still equals
// expectedVersion. Zero rows affected means a concurrent writer
// won the race.
func (d *DB) UpdateTaskFields(ctx context.Context, taskID string, patch repository.TaskPatch, expectedVersion int64) (int64, error) {
	sets := []string{"version = version + 1"}
	args := []interface{}{}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.CurrentStepIndex != nil {
		sets = append(sets, "current_step_index = ?")
		args = append(args, *patch.CurrentStepIndex)
	}
	if patch.StepOutputs != nil {
		b, err := json.Marshal(patch.StepOutputs)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal step outputs: %w", err)
		}
		sets = append(sets, "step_outputs_json = ?")
		args = append(args, string(b))
	}
	if patch.UserInputs != nil {
		b, err := json.Marshal(patch.UserInputs)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal user inputs: %w", err)
		}
		sets = append(sets, "user_inputs_json = ?")
		args = append(args, string(b))
	}
	if patch.RetryCount != nil {
		b, err := json.Marshal(patch.RetryCount)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal retry count: %w", err)
		}
		sets = append(sets, "retry_count_json = ?")
		args = append(args, string(b))
	}
	if patch.PendingUserInputs != nil {
		b, err := json.Marshal(patch.PendingUserInputs)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal pending user inputs: %w", err)
		}
		sets = append(sets, "pending_user_inputs_json = ?")
		args = append(args, string(b))
	}
	if patch.LockToken != nil {
		sets = append(sets, "lock_token = ?")
		args = append(args, *patch.LockToken)
		if *patch.LockToken == "" {
			sets = append(sets, "locked_at = NULL")
		} else {
			sets = append(sets, "locked_at = ?")
			args = append(args, time.Now())
		}
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *patch.Error)
	}

	query := "UPDATE tasks SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE id = ? AND version = ?"
	args = append(args, taskID, expectedVersion)

	result, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update task %q: %w", taskID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read update result for task %q: %w", taskID, err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("task %q: version mismatch, expected %d (concurrent writer won)", taskID, expectedVersion)
	}
	return expectedVersion + 1, nil
}

func (d *DB) AppendHistory(ctx context.Context, taskID string, entry models.HistoryEntry) error {
	var outputJSON sql.NullString
	if entry.Output != nil {
		b, err := json.Marshal(entry.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal history output: %w", err)
		}
		outputJSON = sql.NullString{String: string(b), Valid: true}
	}
	var duration sql.NullInt64
	if entry.Duration != nil {
		duration = sql.NullInt64{Int64: *entry.Duration, Valid: true}
	}

	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO task_history (task_id, step_id, timestamp, status, duration_millis, error, output_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		taskID, entry.StepID, entry.Timestamp, string(entry.Status), duration, entry.Error, outputJSON)
	if err != nil {
		return fmt.Errorf("failed to append history for task %q: %w", taskID, err)
	}
	return nil
}

func (d *DB) UpdateStepStatus(ctx context.Context, planID, stepID string, status models.StepStatus) error {
	plan, err := d.FindPlan(ctx, planID)
	if err != nil {
		return err
	}
	step := plan.StepByID(stepID)
	if step == nil {
		return fmt.Errorf("plan %q has no step %q", planID, stepID)
	}
	step.Status = status

	b, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	_, err = d.conn.ExecContext(ctx, `UPDATE plans SET steps_json = ? WHERE id = ?`, string(b), planID)
	if err != nil {
		return fmt.Errorf("failed to update step status for plan %q: %w", planID, err)
	}
	return nil
}

func (d *DB) UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error {
	result, err := d.conn.ExecContext(ctx, `UPDATE plans SET status = ? WHERE id = ?`, string(status), planID)
	if err != nil {
		return fmt.Errorf("failed to update status for plan %q: %w", planID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for plan %q: %w", planID, err)
	}
	if affected == 0 {
		return fmt.Errorf("plan %q not found", planID)
	}
	return nil
}

// ListLockedTasks returns every task whose lock_token is currently set,
// for the stale-lock reconciliation pass to inspect. Each row is
// loaded through FindTask so history and the other nested fields come back
// fully populated, matching what statemachine.StealStaleLock expects.
func (d *DB) ListLockedTasks(ctx context.Context) ([]*models.Task, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT id FROM tasks WHERE lock_token != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locked tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan locked task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	tasks := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		t, err := d.FindTask(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load locked task %q: %w", id, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (d *DB) FindToolPerformance(ctx context.Context, toolName string) (*models.ToolPerformance, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT tool_name, total_executions, success_count, failure_count, success_rate,
		       avg_duration, avg_retries, optimal_contexts_json, common_errors_json, last_updated
		FROM tool_performance WHERE tool_name = ?`, toolName)

	var p models.ToolPerformance
	var optimalJSON, errorsJSON string
	err := row.Scan(&p.ToolName, &p.TotalExecutions, &p.SuccessCount, &p.FailureCount, &p.SuccessRate,
		&p.AvgDuration, &p.AvgRetries, &optimalJSON, &errorsJSON, &p.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tool performance for %q: %w", toolName, err)
	}
	if err := json.Unmarshal([]byte(optimalJSON), &p.OptimalContexts); err != nil {
		return nil, fmt.Errorf("corrupt optimal_contexts for %q: %w", toolName, err)
	}
	if err := json.Unmarshal([]byte(errorsJSON), &p.CommonErrors); err != nil {
		return nil, fmt.Errorf("corrupt common_errors for %q: %w", toolName, err)
	}
	return &p, nil
}

func (d *DB) ListToolPerformance(ctx context.Context) ([]*models.ToolPerformance, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT tool_name, total_executions, success_count, failure_count, success_rate,
		       avg_duration, avg_retries, optimal_contexts_json, common_errors_json, last_updated
		FROM tool_performance ORDER BY tool_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool performance: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolPerformance
	for rows.Next() {
		var p models.ToolPerformance
		var optimalJSON, errorsJSON string
		if err := rows.Scan(&p.ToolName, &p.TotalExecutions, &p.SuccessCount, &p.FailureCount, &p.SuccessRate,
			&p.AvgDuration, &p.AvgRetries, &optimalJSON, &errorsJSON, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan tool performance row: %w", err)
		}
		if err := json.Unmarshal([]byte(optimalJSON), &p.OptimalContexts); err != nil {
			return nil, fmt.Errorf("corrupt optimal_contexts for %q: %w", p.ToolName, err)
		}
		if err := json.Unmarshal([]byte(errorsJSON), &p.CommonErrors); err != nil {
			return nil, fmt.Errorf("corrupt common_errors for %q: %w", p.ToolName, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (d *DB) UpsertToolPerformance(ctx context.Context, perf *models.ToolPerformance) error {
	optimalJSON, err := json.Marshal(perf.OptimalContexts)
	if err != nil {
		return fmt.Errorf("failed to marshal optimal contexts: %w", err)
	}
	errorsJSON, err := json.Marshal(perf.CommonErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal common errors: %w", err)
	}

	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO tool_performance (tool_name, total_executions, success_count, failure_count,
			success_rate, avg_duration, avg_retries, optimal_contexts_json, common_errors_json, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tool_name) DO UPDATE SET
			total_executions = excluded.total_executions,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			success_rate = excluded.success_rate,
			avg_duration = excluded.avg_duration,
			avg_retries = excluded.avg_retries,
			optimal_contexts_json = excluded.optimal_contexts_json,
			common_errors_json = excluded.common_errors_json,
			last_updated = excluded.last_updated`,
		perf.ToolName, perf.TotalExecutions, perf.SuccessCount, perf.FailureCount,
		perf.SuccessRate, perf.AvgDuration, perf.AvgRetries, string(optimalJSON), string(errorsJSON), perf.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert tool performance for %q: %w", perf.ToolName, err)
	}
	return nil
}

func (d *DB) FindPlanPattern(ctx context.Context, patternID string) (*models.PlanPattern, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT pattern_id, goal_pattern, step_sequence_json, usage_count, success_rate, avg_execution_time, last_used
		FROM plan_patterns WHERE pattern_id = ?`, patternID)

	var p models.PlanPattern
	var seqJSON string
	err := row.Scan(&p.PatternID, &p.GoalPattern, &seqJSON, &p.UsageCount, &p.SuccessRate, &p.AvgExecutionTime, &p.LastUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan pattern %q: %w", patternID, err)
	}
	if err := json.Unmarshal([]byte(seqJSON), &p.StepSequence); err != nil {
		return nil, fmt.Errorf("corrupt step_sequence for pattern %q: %w", patternID, err)
	}
	return &p, nil
}

func (d *DB) UpsertPlanPattern(ctx context.Context, pattern *models.PlanPattern) error {
	seqJSON, err := json.Marshal(pattern.StepSequence)
	if err != nil {
		return fmt.Errorf("failed to marshal step sequence: %w", err)
	}

	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO plan_patterns (pattern_id, goal_pattern, step_sequence_json, usage_count, success_rate, avg_execution_time, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_id) DO UPDATE SET
			usage_count = excluded.usage_count,
			success_rate = excluded.success_rate,
			avg_execution_time = excluded.avg_execution_time,
			last_used = excluded.last_used`,
		pattern.PatternID, pattern.GoalPattern, string(seqJSON), pattern.UsageCount, pattern.SuccessRate, pattern.AvgExecutionTime, pattern.LastUsed)
	if err != nil {
		return fmt.Errorf("failed to upsert plan pattern %q: %w", pattern.PatternID, err)
	}
	return nil
}

func (d *DB) UpsertCostTracking(ctx context.Context, cost *models.CostTracking) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO cost_tracking (task_id, input_tokens, output_tokens, total_tokens, api_calls, estimated_cost, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			total_tokens = excluded.total_tokens,
			api_calls = excluded.api_calls,
			estimated_cost = excluded.estimated_cost,
			timestamp = excluded.timestamp`,
		cost.TaskID, cost.TokenUsage.Input, cost.TokenUsage.Output, cost.TokenUsage.Total,
		cost.APICalls, cost.EstimatedCost, cost.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert cost tracking for task %q: %w", cost.TaskID, err)
	}
	return nil
}
