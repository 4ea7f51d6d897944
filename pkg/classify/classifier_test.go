package classify_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"taskengine/pkg/classify"
	"taskengine/pkg/engerrors"
)

func TestClassifyRetryableMessages(t *testing.T) {
	cases := []string{
		"network error: connection reset",
		"request timed out",
		"upstream responded with 503 service unavailable",
		"too many requests: 429",
	}
	for _, msg := range cases {
		require.Equal(t, classify.Retryable, classify.Classify(errors.New(msg)), msg)
	}
}

func TestClassifyNonRetryableMessages(t *testing.T) {
	cases := []string{
		"validation error: missing required field",
		"facility not found",
		"request failed: 404",
		"request failed: 401 unauthorized",
	}
	for _, msg := range cases {
		require.Equal(t, classify.NonRetryable, classify.Classify(errors.New(msg)), msg)
	}
}

func TestClassifyDefaultsToRetryable(t *testing.T) {
	require.Equal(t, classify.Retryable, classify.Classify(errors.New("something unexpected happened")))
}

func TestClassifyTypedErrors(t *testing.T) {
	require.Equal(t, classify.NonRetryable, classify.Classify(&engerrors.TimeoutError{StepID: "s1", Elapsed: 100}))
	require.Equal(t, classify.NonRetryable, classify.Classify(&engerrors.TemplateError{StepID: "s1"}))
	require.Equal(t, classify.NonRetryable, classify.Classify(&engerrors.DependencyError{Reason: "cycle"}))
	require.Equal(t, classify.Retryable, classify.Classify(&engerrors.ToolError{Retryable: true, Message: "boom"}))
	require.Equal(t, classify.NonRetryable, classify.Classify(&engerrors.ToolError{Retryable: false, Message: "boom"}))
}

func TestBackoffAtAttemptZeroIsAtLeastBaseDelay(t *testing.T) {
	base := int64(1000)
	delay := classify.Backoff(base, 0)
	require.GreaterOrEqual(t, delay, base)
	require.Less(t, delay, int64(float64(base)*1.3)+1)
}

func TestBackoffSaturatesAt30Seconds(t *testing.T) {
	base := int64(1000)
	delay := classify.Backoff(base, 10)
	require.GreaterOrEqual(t, delay, int64(30_000))
	require.LessOrEqual(t, delay, int64(30_000*1.3)+1)
}
