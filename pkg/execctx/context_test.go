package execctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugins struct {
	fns map[string]Func
}

func (s stubPlugins) Resolve(name string) (Func, bool) {
	fn, ok := s.fns[name]
	return fn, ok
}

func newTestContext(plugins PluginLookup) *Context {
	return New("conv-1", "persona-1", nil, PersonaSnapshot{ID: "persona-1"}, plugins, nil, func() bool { return false }, "", nil, nil)
}

func TestCall_ResolvesAndInvokesPlugin(t *testing.T) {
	plugins := stubPlugins{fns: map[string]Func{
		"echo": func(ctx context.Context, ec *Context, args map[string]any) (any, error) {
			return args["msg"], nil
		},
	}}
	ec := newTestContext(plugins)

	out, err := ec.Call(context.Background(), "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestCall_UnknownPluginErrors(t *testing.T) {
	ec := newTestContext(stubPlugins{fns: map[string]Func{}})
	_, err := ec.Call(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestReflectionDepth_EnforcesLimit(t *testing.T) {
	ec := newTestContext(stubPlugins{})

	for i := 1; i <= MaxReflectionDepth; i++ {
		depth, ok := ec.BeginReflection()
		assert.True(t, ok)
		assert.Equal(t, i, depth)
	}

	depth, ok := ec.BeginReflection()
	assert.False(t, ok)
	assert.Equal(t, MaxReflectionDepth+1, depth)

	ec.EndReflection()
	depth, ok = ec.BeginReflection()
	assert.True(t, ok)
	assert.Equal(t, MaxReflectionDepth, depth)
}

func TestEnterExit_DetectsCycle(t *testing.T) {
	ec := newTestContext(stubPlugins{})

	require.True(t, ec.Enter("mod_a"))
	assert.False(t, ec.Enter("mod_a"), "re-entering the same name is a cycle")

	ec.Exit("mod_a")
	assert.True(t, ec.Enter("mod_a"), "should be re-enterable after Exit")
}

func TestVariables_RoundTripAndSnapshotIsolation(t *testing.T) {
	ec := newTestContext(stubPlugins{})

	assert.Equal(t, "fallback", ec.GetVariable("missing", "fallback"))

	ec.SetVariable("count", 3)
	assert.Equal(t, 3, ec.GetVariable("count", 0))

	snap := ec.Variables()
	snap["count"] = 99
	assert.Equal(t, 3, ec.GetVariable("count", 0), "mutating the snapshot must not affect internal state")
}

func TestWarn_Accumulates(t *testing.T) {
	ec := newTestContext(stubPlugins{})
	ec.Warn("first")
	ec.Warn("second")
	assert.Equal(t, []string{"first", "second"}, ec.Warnings())
}

func TestNew_SharedDepthAndStackAcrossNestedContexts(t *testing.T) {
	depth := 1
	stack := map[string]bool{"outer": true}

	ec := New("conv-1", "persona-1", nil, PersonaSnapshot{}, stubPlugins{}, nil, func() bool { return false }, "", &depth, stack)

	assert.False(t, ec.Enter("outer"), "shared stack should already contain outer")
	d, ok := ec.BeginReflection()
	assert.True(t, ok)
	assert.Equal(t, 2, d, "shared depth pointer should start from the caller's value")
}
