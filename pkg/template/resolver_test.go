package template_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskengine/pkg/models"
	"taskengine/pkg/template"
)

func TestResolveSubstitutesStepReference(t *testing.T) {
	ctx := template.Context{
		StepOutputs: map[string]models.StepOutput{
			"step1": {Output: []interface{}{
				map[string]interface{}{"_id": "facility-42"},
			}},
		},
		Now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	params := map[string]interface{}{
		"facilityId": "{{step1.output[0]._id}}",
	}
	resolved, err := template.Resolve(params, ctx, "step2")
	require.NoError(t, err)
	require.Equal(t, "facility-42", resolved["facilityId"])
}

func TestResolveNowReplacesWithISO8601(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := template.Context{Now: now}
	resolved, err := template.Resolve(map[string]interface{}{"ts": "{{NOW}}"}, ctx, "step1")
	require.NoError(t, err)
	require.Equal(t, now.Format(time.RFC3339), resolved["ts"])
}

func TestResolvePreservesSentinels(t *testing.T) {
	ctx := template.Context{}
	params := map[string]interface{}{
		"source": template.SentinelPromptUser,
		"amount": template.SentinelGenerate,
	}
	resolved, err := template.Resolve(params, ctx, "step1")
	require.NoError(t, err)
	require.Equal(t, template.SentinelPromptUser, resolved["source"])
	require.Equal(t, template.SentinelGenerate, resolved["amount"])
}

func TestResolveUserInputOverridesBeforeSubstitution(t *testing.T) {
	ctx := template.Context{
		UserInputs: map[string]map[string]interface{}{
			"step2": {"source": "Acme"},
		},
	}
	params := map[string]interface{}{"source": template.SentinelPromptUser}
	resolved, err := template.Resolve(params, ctx, "step2")
	require.NoError(t, err)
	require.Equal(t, "Acme", resolved["source"])
}

func TestResolveMissingIntermediateKeyIsTemplateError(t *testing.T) {
	ctx := template.Context{
		StepOutputs: map[string]models.StepOutput{
			"step1": {Output: map[string]interface{}{"foo": "bar"}},
		},
	}
	_, err := template.Resolve(map[string]interface{}{"x": "{{step1.output.missing}}"}, ctx, "step2")
	require.Error(t, err)
}

func TestResolveEmptyListOutputIndexIsError(t *testing.T) {
	ctx := template.Context{
		StepOutputs: map[string]models.StepOutput{
			"step1": {Output: []interface{}{}},
		},
	}
	_, err := template.Resolve(map[string]interface{}{"x": "{{step1.output[0].name}}"}, ctx, "step2")
	require.Error(t, err)
}

func TestResolveRecursesNestedStructures(t *testing.T) {
	ctx := template.Context{Now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	params := map[string]interface{}{
		"nested": map[string]interface{}{
			"list": []interface{}{"{{NOW}}", 42, true},
		},
	}
	resolved, err := template.Resolve(params, ctx, "step1")
	require.NoError(t, err)
	nested := resolved["nested"].(map[string]interface{})
	list := nested["list"].([]interface{})
	require.Equal(t, ctx.Now.Format(time.RFC3339), list[0])
	require.Equal(t, 42, list[1])
	require.Equal(t, true, list[2])
}

func TestContainsAndExtractSentinel(t *testing.T) {
	params := map[string]interface{}{
		"a": template.SentinelPromptUser,
		"b": map[string]interface{}{"c": template.SentinelPromptUser},
		"d": []interface{}{"x", template.SentinelPromptUser},
	}
	require.True(t, template.ContainsSentinel(params, template.SentinelPromptUser))
	paths := template.ExtractSentinel(params, template.SentinelPromptUser)
	require.ElementsMatch(t, []string{"a", "b.c", "d[1]"}, paths)
}

func TestSetPathCreatesIntermediateMaps(t *testing.T) {
	m := map[string]interface{}{}
	template.SetPath(m, "a.b.c", "value")
	nested := m["a"].(map[string]interface{})["b"].(map[string]interface{})
	require.Equal(t, "value", nested["c"])
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	ctx := template.Context{Now: time.Now()}
	original := map[string]interface{}{"a": "{{NOW}}"}
	_, err := template.Resolve(original, ctx, "step1")
	require.NoError(t, err)
	require.Equal(t, "{{NOW}}", original["a"])
}
