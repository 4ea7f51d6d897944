// Package classify implements the Error Classifier: categorises
// a raised error as Retryable or NonRetryable (Recoverable is declared but
// never returned by Classify), and computes exponential backoff with jitter
// for the retry loop.
package classify

import (
	"math"
	"math/rand"
	"strconv"
	"strings"

	"taskengine/pkg/engerrors"
)

// Category is the classifier's verdict for one error.
type Category int

const (
	Retryable Category = iota
	NonRetryable
	// Recoverable is reserved for tools that signal a skippable partial
	// failure. The core treats it identically to NonRetryable for the
	// containing step until a concrete producer exists.
	Recoverable
)

func (c Category) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case NonRetryable:
		return "non_retryable"
	case Recoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

var retryableSubstrings = []string{
	"network",
	"timeout",
	"timed out",
	"connection",
	"connection reset",
	"econnrefused",
	"broken pipe",
	"eof",
	"temporarily unavailable",
}

var nonRetryableSubstrings = []string{
	"validation",
	"missing required",
	"not found",
	"invalid",
	"unauthorized",
	"forbidden",
}

var retryableStatusCodes = map[int]bool{429: true}
var nonRetryableStatusCodes = map[int]bool{400: true, 401: true, 403: true, 404: true}

// Classify categorises err by typed error first, falling back to textual
// and structural inspection of the message. TimeoutError is never
// classified Retryable.
func Classify(err error) Category {
	if err == nil {
		return NonRetryable
	}

	switch e := err.(type) {
	case *engerrors.TimeoutError:
		return NonRetryable
	case *engerrors.TemplateError, *engerrors.DependencyError:
		return NonRetryable
	case *engerrors.ToolError:
		if e.Retryable {
			return Retryable
		}
		return NonRetryable
	}

	msg := strings.ToLower(err.Error())

	if code, ok := extractStatusCode(msg); ok {
		if nonRetryableStatusCodes[code] {
			return NonRetryable
		}
		if retryableStatusCodes[code] || (code >= 500 && code < 600) {
			return Retryable
		}
	}

	for _, s := range nonRetryableSubstrings {
		if strings.Contains(msg, s) {
			return NonRetryable
		}
	}
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return Retryable
		}
	}

	// Default when no other rule fires.
	return Retryable
}

// extractStatusCode looks for a bare 3-digit HTTP status in the message,
// e.g. "request failed: 503 service unavailable".
func extractStatusCode(msg string) (int, bool) {
	fields := strings.FieldsFunc(msg, func(r rune) bool {
		return r == ' ' || r == ':' || r == ',' || r == '(' || r == ')'
	})
	for _, f := range fields {
		if len(f) == 3 {
			if n, err := strconv.Atoi(f); err == nil && n >= 100 && n < 600 {
				return n, true
			}
		}
	}
	return 0, false
}

const maxBackoffMillis = 30_000

// Backoff computes delay(attempt) = min(baseDelay * 2^attempt, 30_000ms)
// plus uniform jitter in [0, 30%) of that delay.
func Backoff(baseDelayMillis int64, attempt int) int64 {
	if attempt < 0 {
		attempt = 0
	}
	raw := float64(baseDelayMillis) * math.Pow(2, float64(attempt))
	capped := math.Min(raw, float64(maxBackoffMillis))
	jitter := capped * 0.3 * rand.Float64()
	return int64(capped + jitter)
}
