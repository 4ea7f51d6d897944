// Package valuegen defines the ValueGenerator interface consumed by the
// Step Executor to resolve {{GENERATE}} sentinels.
// The package holds no LLM-backed generator: it declares the seam, a
// name-based type heuristic, and an always-failing placeholder.
package valuegen

import (
	"context"
	"fmt"
	"strings"

	"taskengine/pkg/engerrors"
)

// StepContext is the information available to a generator when filling in
// one field: the step's already-resolved parameters and the values
// produced by prior steps.
type StepContext struct {
	StepID      string
	Field       string
	Parameters  map[string]interface{}
	StepOutputs map[string]interface{}
}

// ValueGenerator produces a scalar value for one declared field type.
// Errors are propagated by the Step Executor as non-retryable.
type ValueGenerator interface {
	Generate(ctx context.Context, field string, fieldType string, stepCtx StepContext, agentConfigID string) (interface{}, error)
}

// Unavailable is a ValueGenerator that always errors, for entry points that
// have no LLM value generator wired in yet. It returns an
// *engerrors.ToolError with Retryable=false so the Step Executor's error
// propagates as non-retryable rather than falling through to the
// classifier's Retryable default — failing any plan step that actually
// contains a {{GENERATE}} sentinel rather than silently fabricating data.
type Unavailable struct{}

func (Unavailable) Generate(ctx context.Context, field string, fieldType string, stepCtx StepContext, agentConfigID string) (interface{}, error) {
	return nil, &engerrors.ToolError{
		Retryable: false,
		Message:   fmt.Sprintf("no value generator configured: cannot resolve {{GENERATE}} for field %q (step %q)", field, stepCtx.StepID),
	}
}

// InferType falls back to inferring a field's type from its name when the
// plan's MissingData does not declare one explicitly: names
// containing "id" resolve to an id string, names containing "timestamp",
// "time", or "date" resolve to an ISO-8601 string, everything else is a
// plain string.
func InferType(field string) string {
	lower := strings.ToLower(field)
	if strings.Contains(lower, "id") {
		return "id"
	}
	if strings.Contains(lower, "timestamp") || strings.Contains(lower, "time") || strings.Contains(lower, "date") {
		return "iso8601"
	}
	return "string"
}
