package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ModuleAndVariableReferences(t *testing.T) {
	refs, warnings := Parse("You are @persona. Today is ${day}.")
	require.Empty(t, warnings)
	require.Len(t, refs, 2)

	assert.Equal(t, KindModule, refs[0].Kind)
	assert.Equal(t, "persona", refs[0].Name)
	assert.Equal(t, KindVariable, refs[1].Kind)
	assert.Equal(t, "day", refs[1].Name)
}

func TestParse_InvalidReferenceSyntaxWarns(t *testing.T) {
	refs, warnings := Parse("ping @Upper and @9digit")
	assert.Empty(t, refs)
	require.Len(t, warnings, 2)
	assert.Equal(t, WarningInvalidReference, warnings[0].Code)
}

func TestParse_EscapedReferenceIsSkipped(t *testing.T) {
	refs, warnings := Parse(`this is \@not_a_ref but @is_a_ref`)
	require.Len(t, refs, 1)
	assert.Equal(t, "is_a_ref", refs[0].Name)
	assert.Empty(t, warnings)
}

func TestStripEscapes(t *testing.T) {
	assert.Equal(t, "email@host", StripEscapes(`email\@host`))
	assert.Equal(t, "no escapes here", StripEscapes("no escapes here"))
}

type stubLookup struct {
	modules map[string]string
	vars    map[string]map[string]any
}

func (s stubLookup) Lookup(ctx context.Context, name string) (string, map[string]any, bool, error) {
	content, ok := s.modules[name]
	if !ok {
		return "", nil, false, nil
	}
	return content, s.vars[name], true, nil
}

func TestResolve_SubstitutesVariablesAndModules(t *testing.T) {
	lookup := stubLookup{
		modules: map[string]string{"greeting": "Hello, ${name}!"},
		vars:    map[string]map[string]any{"greeting": {"name": "Ada"}},
	}

	result := Resolve(context.Background(), "@greeting You have ${count} messages.", map[string]any{"count": 3}, lookup, 10)
	assert.Equal(t, "Hello, Ada! You have 3 messages.", result.Text)
	assert.Empty(t, result.Warnings)
}

func TestResolve_UndefinedVariableWarnsAndOmits(t *testing.T) {
	result := Resolve(context.Background(), "value: ${missing}", nil, stubLookup{}, 10)
	assert.Equal(t, "value: ", result.Text)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, WarningInvalidReference, result.Warnings[0].Code)
}

func TestResolve_UndefinedModuleLeftVerbatim(t *testing.T) {
	result := Resolve(context.Background(), "@ghost", nil, stubLookup{}, 10)
	assert.Equal(t, "@ghost", result.Text)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, WarningInvalidReference, result.Warnings[0].Code)
}

func TestResolve_CycleDetected(t *testing.T) {
	lookup := stubLookup{
		modules: map[string]string{
			"a": "@b",
			"b": "@a",
		},
	}

	result := Resolve(context.Background(), "@a", nil, lookup, 10)
	assert.Equal(t, "@a", result.Text)
	require.NotEmpty(t, result.Warnings)

	var sawCycle bool
	for _, w := range result.Warnings {
		if w.Code == WarningCycle {
			sawCycle = true
		}
	}
	assert.True(t, sawCycle, "expected a Cycle warning among %+v", result.Warnings)
}

func TestResolve_RecursionLimitStopsExpansion(t *testing.T) {
	lookup := stubLookup{
		modules: map[string]string{"deep": "@deep"},
	}

	result := Resolve(context.Background(), "@deep", nil, lookup, 2)
	require.NotEmpty(t, result.Warnings)

	var sawLimit bool
	for _, w := range result.Warnings {
		if w.Code == WarningRecursionLimit {
			sawLimit = true
		}
	}
	assert.True(t, sawLimit, "expected a RecursionLimit warning among %+v", result.Warnings)
}
