package plugins

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/promptengine/pkg/execctx"
)

func newContext(t *testing.T, messages []execctx.Message, invoker execctx.Invoker) *execctx.Context {
	t.Helper()
	ec := execctx.New("conv-1", "persona-1", messages, execctx.PersonaSnapshot{ID: "persona-1", Name: "Helper"}, NewRegistry(), invoker, func() bool { return false }, "system prompt", nil, nil)
	return ec
}

func TestNewRegistry_ListsEveryBuiltinFamily(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		"generate", "reflect",
		"get_message_count", "get_recent_messages", "get_message_range", "get_persona_info", "get_conversation_summary",
		"get_current_time", "get_relative_time", "get_day_of_week", "is_business_hours",
		"get_variable", "set_variable", "log",
		"json_encode", "json_decode", "join", "word_count", "random_choice",
	} {
		_, ok := r.Resolve(name)
		assert.True(t, ok, "expected builtin %q to be registered", name)
	}
}

func TestRegistry_UnknownNameNotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("does_not_exist")
	assert.False(t, ok)
}

type stubInvoker struct {
	text string
	err  error
}

func (s stubInvoker) Invoke(ctx context.Context, systemPrompt, instructions, input, role string, temperature float64, maxTokens int) (string, error) {
	return s.text, s.err
}

func TestAICall_ReturnsInvokerText(t *testing.T) {
	ec := newContext(t, nil, stubInvoker{text: "generated text"})
	out, err := ec.Call(context.Background(), "generate", map[string]any{"instructions": "be nice"})
	require.NoError(t, err)
	assert.Equal(t, "generated text", out)
}

func TestAICall_ReflectionLimitDegradesToFallback(t *testing.T) {
	ec := newContext(t, nil, stubInvoker{text: "ignored"})

	for i := 0; i < execctx.MaxReflectionDepth; i++ {
		ec.BeginReflection()
	}
	defer func() {
		for i := 0; i < execctx.MaxReflectionDepth; i++ {
			ec.EndReflection()
		}
	}()

	out, err := ec.Call(context.Background(), "reflect", nil)
	require.NoError(t, err)
	assert.Equal(t, execctx.ReflectionFallback, out)
	assert.NotEmpty(t, ec.Warnings())
}

func TestAICall_ProviderErrorDegradesToFallback(t *testing.T) {
	ec := newContext(t, nil, stubInvoker{err: assertError("boom")})
	out, err := ec.Call(context.Background(), "generate", nil)
	require.NoError(t, err)
	assert.Equal(t, execctx.ReflectionFallback, out)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestConversationPlugins_ReadFrozenSnapshot(t *testing.T) {
	msgs := []execctx.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "how are you"},
	}
	ec := newContext(t, msgs, nil)

	count, err := ec.Call(context.Background(), "get_message_count", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	recent, err := ec.Call(context.Background(), "get_recent_messages", map[string]any{"n": 2})
	require.NoError(t, err)
	assert.Equal(t, "assistant: hello\nuser: how are you", recent)

	rng, err := ec.Call(context.Background(), "get_message_range", map[string]any{"start": 0, "end": 1})
	require.NoError(t, err)
	assert.Equal(t, "user: hi", rng)

	info, err := ec.Call(context.Background(), "get_persona_info", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "persona-1", "name": "Helper"}, info)
}

func TestTimePlugins_UseInjectedClock(t *testing.T) {
	ec := newContext(t, nil, nil)
	fixed := time.Date(2026, time.March, 16, 10, 30, 0, 0, time.UTC) // a Monday
	ec.Clock = func() time.Time { return fixed }

	day, err := ec.Call(context.Background(), "get_day_of_week", nil)
	require.NoError(t, err)
	assert.Equal(t, "Monday", day)

	businessHours, err := ec.Call(context.Background(), "is_business_hours", nil)
	require.NoError(t, err)
	assert.Equal(t, true, businessHours)

	formatted, err := ec.Call(context.Background(), "get_current_time", map[string]any{"fmt": "%Y-%m-%d"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-16", formatted)
}

func TestMemoryPlugins_SetThenGetVariable(t *testing.T) {
	ec := newContext(t, nil, nil)

	_, err := ec.Call(context.Background(), "set_variable", map[string]any{"name": "count", "value": 5})
	require.NoError(t, err)

	v, err := ec.Call(context.Background(), "get_variable", map[string]any{"name": "count", "default": 0})
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestUtilityPlugins_JSONRoundTripAndJoin(t *testing.T) {
	ec := newContext(t, nil, nil)

	encoded, err := ec.Call(context.Background(), "json_encode", map[string]any{"value": map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, encoded.(string))

	decoded, err := ec.Call(context.Background(), "json_decode", map[string]any{"text": `{"a":1}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, decoded)

	joined, err := ec.Call(context.Background(), "join", map[string]any{"sep": ",", "items": []any{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", joined)

	count, err := ec.Call(context.Background(), "word_count", map[string]any{"text": "three little words"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
