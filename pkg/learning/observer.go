// Package learning implements the Learning Observer: the
// post-terminal hook that updates ToolPerformance, PlanPattern, and
// CostTracking aggregates from one finished Task. It is invoked exactly
// once per terminal transition by the Task Executor and never turns a
// completed task into a failed one — every error here is logged and
// swallowed by the caller (engerrors.ObserverError).
package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"taskengine/internal/utils"
	"taskengine/pkg/models"
	"taskengine/pkg/repository"
)

// commonErrorPrefixLen is the truncation length used to match recurring
// errors against one another.
const commonErrorPrefixLen = 200

// CostRates are the configured per-1k-token prices used to turn an
// estimated token count into CostTracking.EstimatedCost.
type CostRates struct {
	InputPer1k  float64
	OutputPer1k float64
}

// DefaultCostRates are placeholder rates for local/dev use; operators wire
// real ones in through configuration (cmd/root.go).
var DefaultCostRates = CostRates{InputPer1k: 0.003, OutputPer1k: 0.015}

// Observer implements execution.Observer against a Repository.
type Observer struct {
	Repo   repository.Repository
	Rates  CostRates
	Logger utils.ExtendedLogger
}

// New builds an Observer with the given cost rates.
func New(repo repository.Repository, rates CostRates, logger utils.ExtendedLogger) *Observer {
	return &Observer{Repo: repo, Rates: rates, Logger: logger}
}

// Observe applies the three idempotent upserts (ToolPerformance,
// PlanPattern, CostTracking) to task's terminal state. Observer failures
// on one tool/pattern/cost update do not prevent
// the others from being attempted; the first error encountered is
// returned (and logged+swallowed by the caller) but every step that can
// still run, does.
func (o *Observer) Observe(ctx context.Context, task *models.Task, plan *models.Plan) error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	actionByStep := make(map[string]string, len(plan.Steps))
	for _, s := range plan.Steps {
		actionByStep[s.ID] = s.Action
	}

	for stepID, action := range actionByStep {
		entry, ok := task.LatestHistoryFor(stepID)
		if !ok || (entry.Status != models.HistoryCompleted && entry.Status != models.HistoryFailed) {
			continue
		}
		if err := o.observeStep(ctx, plan, action, entry, task.RetryCount[stepID]); err != nil {
			o.Logger.Warnf("learning observer: tool performance update for %q failed: %v", action, err)
			note(err)
		}
	}

	if task.Status == models.TaskCompleted {
		if err := o.observePattern(ctx, task, plan, actionByStep); err != nil {
			o.Logger.Warnf("learning observer: plan pattern update failed: %v", err)
			note(err)
		}
	}

	if err := o.observeCost(ctx, task); err != nil {
		o.Logger.Warnf("learning observer: cost tracking update failed: %v", err)
		note(err)
	}

	return firstErr
}

func (o *Observer) observeStep(ctx context.Context, plan *models.Plan, action string, entry models.HistoryEntry, retries int) error {
	perf, err := o.Repo.FindToolPerformance(ctx, action)
	if err != nil {
		return fmt.Errorf("failed to load tool performance for %q: %w", action, err)
	}
	if perf == nil {
		perf = &models.ToolPerformance{ToolName: action}
	}

	success := entry.Status == models.HistoryCompleted
	durationMs := float64(0)
	if entry.Duration != nil {
		durationMs = float64(*entry.Duration)
	}

	prevTotal := perf.TotalExecutions
	perf.TotalExecutions++
	if success {
		perf.SuccessCount++
	} else {
		perf.FailureCount++
	}
	if perf.TotalExecutions > 0 {
		perf.SuccessRate = float64(perf.SuccessCount) / float64(perf.TotalExecutions)
	}
	perf.AvgDuration = runningAverage(perf.AvgDuration, prevTotal, durationMs)
	perf.AvgRetries = runningAverage(perf.AvgRetries, prevTotal, float64(retries))

	if !success && entry.Error != "" {
		upsertCommonError(perf, entry.Error, plan.Goal)
		recomputeErrorPercentages(perf)
	}
	if success {
		upsertOptimalContext(perf, plan.Goal, durationMs)
	}

	perf.LastUpdated = timestamp()
	if err := o.Repo.UpsertToolPerformance(ctx, perf); err != nil {
		return fmt.Errorf("failed to upsert tool performance for %q: %w", action, err)
	}
	return nil
}

func runningAverage(prevAvg float64, prevCount int, sample float64) float64 {
	if prevCount < 0 {
		prevCount = 0
	}
	return (prevAvg*float64(prevCount) + sample) / float64(prevCount+1)
}

func upsertCommonError(perf *models.ToolPerformance, errMsg, context string) {
	key := truncate(errMsg, commonErrorPrefixLen)
	for i := range perf.CommonErrors {
		if perf.CommonErrors[i].Error == key {
			perf.CommonErrors[i].Frequency++
			if !containsStr(perf.CommonErrors[i].Contexts, context) {
				perf.CommonErrors[i].Contexts = append(perf.CommonErrors[i].Contexts, context)
			}
			return
		}
	}
	perf.CommonErrors = append(perf.CommonErrors, models.CommonError{
		Error:     key,
		Frequency: 1,
		Contexts:  []string{context},
	})
}

// recomputeErrorPercentages recomputes each CommonError's share of the
// tool's total failure count.
func recomputeErrorPercentages(perf *models.ToolPerformance) {
	if perf.FailureCount == 0 {
		return
	}
	for i := range perf.CommonErrors {
		perf.CommonErrors[i].Percentage = 100 * float64(perf.CommonErrors[i].Frequency) / float64(perf.FailureCount)
	}
}

func upsertOptimalContext(perf *models.ToolPerformance, context string, durationMs float64) {
	for i := range perf.OptimalContexts {
		if perf.OptimalContexts[i].Context == context {
			oc := &perf.OptimalContexts[i]
			oc.AvgDuration = runningAverage(oc.AvgDuration, oc.UsageCount, durationMs)
			oc.UsageCount++
			oc.SuccessRate = 1.0
			return
		}
	}
	perf.OptimalContexts = append(perf.OptimalContexts, models.OptimalContext{
		Context:     context,
		SuccessRate: 1.0,
		AvgDuration: durationMs,
		UsageCount:  1,
	})
}

func (o *Observer) observePattern(ctx context.Context, task *models.Task, plan *models.Plan, actionByStep map[string]string) error {
	sequence := stepSequence(plan, actionByStep)
	patternID := PatternID(plan.Goal, sequence)

	pattern, err := o.Repo.FindPlanPattern(ctx, patternID)
	if err != nil {
		return fmt.Errorf("failed to load plan pattern %q: %w", patternID, err)
	}
	if pattern == nil {
		pattern = &models.PlanPattern{PatternID: patternID, GoalPattern: plan.Goal, StepSequence: sequence}
	}

	totalMs := totalDuration(task)
	prevUsage := pattern.UsageCount
	pattern.UsageCount++
	pattern.SuccessRate = runningAverage(pattern.SuccessRate, prevUsage, 1.0)
	pattern.AvgExecutionTime = runningAverage(pattern.AvgExecutionTime, prevUsage, totalMs)
	pattern.LastUsed = timestamp()

	if err := o.Repo.UpsertPlanPattern(ctx, pattern); err != nil {
		return fmt.Errorf("failed to upsert plan pattern %q: %w", patternID, err)
	}
	return nil
}

// stepSequence returns step actions in declared step order (stable
// regardless of the DAG's runtime topological order, so that two plans
// with the same recipe hash identically).
func stepSequence(plan *models.Plan, actionByStep map[string]string) []string {
	ordered := make([]models.PlanStep, len(plan.Steps))
	copy(ordered, plan.Steps)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Order < ordered[i].Order {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	seq := make([]string, 0, len(ordered))
	for _, s := range ordered {
		seq = append(seq, actionByStep[s.ID])
	}
	return seq
}

// totalDuration sums every history entry's recorded duration, giving the
// wall-clock cost of this task's run for PlanPattern.AvgExecutionTime.
func totalDuration(task *models.Task) float64 {
	var total float64
	for _, e := range task.ExecutionHistory {
		if e.Duration != nil {
			total += float64(*e.Duration)
		}
	}
	return total
}

// PatternID content-addresses a (goalPattern, stepSequence) pair: the
// same inputs must always produce the same id.
func PatternID(goalPattern string, stepSequence []string) string {
	h := sha256.New()
	h.Write([]byte(goalPattern))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(stepSequence, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}

func (o *Observer) observeCost(ctx context.Context, task *models.Task) error {
	historyLen := len(task.ExecutionHistory)
	totalTokens := 100 * historyLen
	usage := models.TokenUsage{
		Input:  int(float64(totalTokens) * 0.7),
		Output: int(float64(totalTokens) * 0.3),
		Total:  totalTokens,
	}
	cost := &models.CostTracking{
		TaskID:        task.ID,
		TokenUsage:    usage,
		APICalls:      historyLen,
		EstimatedCost: o.Rates.InputPer1k*float64(usage.Input)/1000 + o.Rates.OutputPer1k*float64(usage.Output)/1000,
		Timestamp:     timestamp(),
	}
	if err := o.Repo.UpsertCostTracking(ctx, cost); err != nil {
		return fmt.Errorf("failed to upsert cost tracking for task %q: %w", task.ID, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// timestamp is factored out so tests can't accidentally depend on wall
// clock ordering across upserts within the same Observe call.
func timestamp() time.Time { return time.Now() }
