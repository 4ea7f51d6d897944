// Package template implements the Template Resolver: parameter
// substitution against step outputs, user inputs, and the NOW clock, while
// preserving the PROMPT_USER/GENERATE sentinels for the Step Executor.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"taskengine/pkg/models"
)

const (
	// SentinelPromptUser marks a parameter the engine must pause for.
	SentinelPromptUser = "{{PROMPT_USER}}"
	// SentinelGenerate marks a parameter the ValueGenerator must fill in.
	SentinelGenerate = "{{GENERATE}}"
	sentinelNow      = "{{NOW}}"
)

var templateRefPattern = regexp.MustCompile(`^\{\{\s*(.+?)\s*\}\}$`)

// Context is the data available to the resolver for one step's attempt.
type Context struct {
	StepOutputs map[string]models.StepOutput
	UserInputs  map[string]map[string]interface{}
	Now         time.Time
}

// Resolve produces a new parameters map with user-input overrides applied
// and template references substituted. The input map is never mutated.
func Resolve(params map[string]interface{}, ctx Context, stepID string) (map[string]interface{}, error) {
	merged := deepCopyMap(params)
	applyUserInputs(merged, ctx.UserInputs[stepID])

	resolved, err := resolveValue(merged, ctx)
	if err != nil {
		return nil, err
	}
	m, ok := resolved.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, nil
	}
	return m, nil
}

func resolveValue(v interface{}, ctx Context) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			resolved, err := resolveValue(child, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			resolved, err := resolveValue(child, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return resolveString(val, ctx)
	default:
		return v, nil
	}
}

func resolveString(s string, ctx Context) (interface{}, error) {
	match := templateRefPattern.FindStringSubmatch(s)
	if match == nil {
		return s, nil
	}
	ref := match[1]

	switch ref {
	case "NOW":
		return ctx.Now.Format(time.RFC3339), nil
	case "PROMPT_USER", "GENERATE":
		return s, nil
	}

	stepID, path, ok := splitStepReference(ref)
	if !ok {
		return nil, &refError{ref: ref, reason: "not a recognised template reference"}
	}
	output, exists := ctx.StepOutputs[stepID]
	if !exists {
		return nil, &refError{ref: ref, reason: fmt.Sprintf("no output recorded for step %q", stepID)}
	}

	envelope := map[string]interface{}{"output": output.Output}
	if output.Error != "" {
		envelope["error"] = output.Error
	}
	value, err := traversePath(envelope, path)
	if err != nil {
		return nil, &refError{ref: ref, reason: err.Error()}
	}
	return value, nil
}

// refError lets callers (Resolve's caller in pkg/execution) wrap this into
// a *engerrors.TemplateError without an import cycle.
type refError struct {
	ref    string
	reason string
}

func (e *refError) Error() string { return fmt.Sprintf("%s: %s", e.ref, e.reason) }

// RefError exposes the underlying reference text and reason for a failed
// substitution, used by callers to build a typed TemplateError.
func RefError(err error) (ref string, reason string, ok bool) {
	re, ok := err.(*refError)
	if !ok {
		return "", "", false
	}
	return re.ref, re.reason, true
}

func splitStepReference(ref string) (stepID string, path string, ok bool) {
	dot := strings.IndexAny(ref, ".[")
	if dot < 0 {
		return ref, "", true
	}
	return ref[:dot], ref[dot:], true
}

// splitPath splits "a.b[0].c" into ["a","b","0","c"]; a leading "." (as in
// ".b[0].c", left after the step id is split off) is dropped, giving
// ["b","0","c"].
func splitPath(path string) []string {
	var segments []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '.':
			flush()
		case '[':
			flush()
		case ']':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return segments
}

func traversePath(root interface{}, path string) (interface{}, error) {
	if path == "" {
		return root, nil
	}
	segments := splitPath(path)
	current := root
	for _, seg := range segments {
		if idx, err := strconv.Atoi(seg); err == nil {
			list, ok := current.([]interface{})
			if !ok {
				return nil, fmt.Errorf("cannot index non-list value with [%d]", idx)
			}
			if idx < 0 || idx >= len(list) {
				return nil, fmt.Errorf("index %d out of range (len %d)", idx, len(list))
			}
			current = list[idx]
			continue
		}
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("missing intermediate key %q", seg)
		}
		v, exists := m[seg]
		if !exists {
			return nil, fmt.Errorf("missing intermediate key %q", seg)
		}
		current = v
	}
	return current, nil
}

func applyUserInputs(params map[string]interface{}, inputs map[string]interface{}) {
	for path, value := range inputs {
		setPath(params, path, value)
	}
}

// setPath writes value at the dotted/bracketed path within m, creating
// intermediate maps as needed (ResumeTask's dotted-field setter).
func setPath(m map[string]interface{}, path string, value interface{}) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return
	}
	cur := m
	for i, seg := range segments {
		last := i == len(segments)-1
		if last {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[seg] = next
		}
		cur = next
	}
}

// SetPath is the exported form of setPath, used by ResumeTask to write
// supplied user input values into Task.UserInputs[stepId].
func SetPath(m map[string]interface{}, path string, value interface{}) {
	setPath(m, path, value)
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// ContainsSentinel reports whether any string leaf of params equals the
// given sentinel exactly.
func ContainsSentinel(params map[string]interface{}, sentinel string) bool {
	return len(ExtractSentinel(params, sentinel)) > 0
}

// SentinelRef is one (stepId-scoped) location of a remaining sentinel,
// preserving array indices in brackets.
type SentinelRef struct {
	StepID string
	Path   string
}

// ExtractSentinel walks params and returns the dotted/bracketed path of
// every leaf equal to sentinel. StepID is filled in by the caller, who
// knows which step these params belong to.
func ExtractSentinel(params map[string]interface{}, sentinel string) []string {
	var paths []string
	var walk func(v interface{}, path string)
	walk = func(v interface{}, path string) {
		switch val := v.(type) {
		case map[string]interface{}:
			for k, child := range val {
				childPath := k
				if path != "" {
					childPath = path + "." + k
				}
				walk(child, childPath)
			}
		case []interface{}:
			for i, child := range val {
				walk(child, fmt.Sprintf("%s[%d]", path, i))
			}
		case string:
			if val == sentinel {
				paths = append(paths, path)
			}
		}
	}
	walk(params, "")
	return paths
}
