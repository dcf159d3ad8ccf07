package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/promptengine/pkg/config"
	"github.com/kadirpekel/promptengine/pkg/llmclient"
	"github.com/kadirpekel/promptengine/pkg/module"
	"github.com/kadirpekel/promptengine/pkg/modulestore"
	"github.com/kadirpekel/promptengine/pkg/plugins"
	"github.com/kadirpekel/promptengine/pkg/script"
)

func TestMatchTrigger(t *testing.T) {
	assert.False(t, matchTrigger("", "anything"))
	assert.True(t, matchTrigger("*", "anything"))
	assert.True(t, matchTrigger(`\bhelp\b`, "can you help me"))
	assert.False(t, matchTrigger(`\bhelp\b`, "no match here"))
	assert.True(t, matchTrigger("refund billing", "I need a REFUND please"))
	assert.False(t, matchTrigger("refund billing", "nothing relevant"))
}

type stubProvider struct {
	content string
	err     error
}

func (p *stubProvider) ListModels(ctx context.Context) ([]llmclient.ModelInfo, error) { return nil, nil }
func (p *stubProvider) TestConnection(ctx context.Context) error                      { return nil }

func (p *stubProvider) Complete(ctx context.Context, systemPrompt string, messages []llmclient.Message, controls llmclient.Controls) (llmclient.Completion, error) {
	if p.err != nil {
		return llmclient.Completion{}, p.err
	}
	return llmclient.Completion{Content: p.content, InputTokens: 3, OutputTokens: 2}, nil
}

func (p *stubProvider) Stream(ctx context.Context, systemPrompt string, messages []llmclient.Message, controls llmclient.Controls) (<-chan llmclient.Chunk, error) {
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan llmclient.Chunk, 2)
	ch <- llmclient.Chunk{DeltaContent: p.content}
	ch <- llmclient.Chunk{Done: true, InputTokens: 3, OutputTokens: 2}
	close(ch)
	return ch, nil
}

func newTestOrchestrator(t *testing.T, provider llmclient.Provider) (*Orchestrator, modulestore.Store) {
	t.Helper()
	store := modulestore.NewMemoryStore()
	providers := llmclient.NewRegistry()
	require.NoError(t, providers.Register("default", provider))

	o := New(store, plugins.NewRegistry(), script.NewSandbox(time.Second), providers, config.PipelineConfig{})
	return o, store
}

func collectEvents(o *Orchestrator, ctx context.Context, in TurnInput) []Event {
	var events []Event
	for ev, _ := range o.Run(ctx, in) {
		events = append(events, ev)
	}
	return events
}

func TestRun_HappyPathEmitsOrderedEvents(t *testing.T) {
	o, store := newTestOrchestrator(t, &stubProvider{content: "Hello!"})
	require.NoError(t, store.CreateModule(context.Background(), &module.Module{
		Name: "persona", Kind: module.KindSimple, Content: "a helpful assistant", IsActive: true,
	}))

	events := collectEvents(o, context.Background(), TurnInput{
		UserMessage:     "hi",
		ConversationID:  "conv-1",
		PersonaID:       "persona-1",
		PersonaTemplate: "You are @persona.",
		ProviderChoice:  "default",
	})

	require.NotEmpty(t, events)
	assert.Equal(t, EventSessionStart, events[0].Kind)

	var sawDone, sawComplete bool
	var doneContent string
	for _, ev := range events {
		if ev.Kind == EventDone && ev.Stage == Stage3 {
			sawDone = true
			doneContent = ev.Done.Content
		}
		if ev.Kind == EventPostResponseComplete {
			sawComplete = true
		}
	}
	assert.True(t, sawDone, "expected a Stage3 done event")
	assert.Equal(t, "Hello!", doneContent)
	assert.True(t, sawComplete, "expected a post_response_complete event")
}

func TestRun_UnknownProviderChoiceEmitsError(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubProvider{content: "unused"})

	events := collectEvents(o, context.Background(), TurnInput{
		UserMessage:     "hi",
		ConversationID:  "conv-1",
		PersonaID:       "persona-1",
		PersonaTemplate: "hello",
		ProviderChoice:  "does-not-exist",
	})

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Kind)
	assert.ErrorIs(t, last.Err, ErrProviderError)
}

func TestRun_CancelledBeforeStage3SkipsResponseAndPostResponse(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubProvider{content: "unused"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collectEvents(o, ctx, TurnInput{
		UserMessage:     "hi",
		ConversationID:  "conv-1",
		PersonaID:       "persona-1",
		PersonaTemplate: "hello",
		ProviderChoice:  "default",
	})

	var sawCancelled, sawPostResponseComplete bool
	for _, ev := range events {
		if ev.Kind == EventCancelled {
			sawCancelled = true
		}
		if ev.Kind == EventPostResponseComplete {
			sawPostResponseComplete = true
		}
	}
	assert.True(t, sawCancelled, "expected a cancelled event")
	assert.False(t, sawPostResponseComplete, "cancellation before stage3 must skip stage4/5")
}

func TestRun_ProviderErrorAbortsTurn(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubProvider{err: assertError("boom")})

	events := collectEvents(o, context.Background(), TurnInput{
		UserMessage:     "hi",
		ConversationID:  "conv-1",
		PersonaID:       "persona-1",
		PersonaTemplate: "hello",
		ProviderChoice:  "default",
	})

	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Kind)
	assert.ErrorIs(t, last.Err, ErrProviderError)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestRun_PostResponseModuleStateIsPersisted(t *testing.T) {
	o, store := newTestOrchestrator(t, &stubProvider{content: "answer"})
	require.NoError(t, store.CreateModule(context.Background(), &module.Module{
		Name:             "logger_mod",
		Kind:             module.KindSimple,
		Content:          "logged",
		IsActive:         true,
		ExecutionContext: module.PostResponse,
		TriggerPattern:   "*",
	}))

	_ = collectEvents(o, context.Background(), TurnInput{
		UserMessage:     "hi",
		ConversationID:  "conv-9",
		PersonaID:       "persona-1",
		PersonaTemplate: "hello",
		ProviderChoice:  "default",
	})

	entry, found, err := store.GetPostResponseState(context.Background(), "conv-9", "logger_mod", modulestore.Stage4)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, entry.Metadata.Success)
}

func TestRun_PostResponseModuleSeesItsOwnPriorTurnVariables(t *testing.T) {
	o, store := newTestOrchestrator(t, &stubProvider{content: "answer"})
	require.NoError(t, store.CreateModule(context.Background(), &module.Module{
		Name:             "counter",
		Kind:             module.KindAdvanced,
		Content:          "n=${n}",
		Script:           "n = (ctx.get_variable(\"n\", 0) or 0) + 1\nctx.set_variable(\"n\", n)",
		IsActive:         true,
		ExecutionContext: module.PostResponse,
		TriggerPattern:   "*",
	}))

	turn := func() {
		_ = collectEvents(o, context.Background(), TurnInput{
			UserMessage:     "hi",
			ConversationID:  "conv-counter",
			PersonaID:       "persona-1",
			PersonaTemplate: "hello",
			ProviderChoice:  "default",
		})
	}

	turn()
	entry, found, err := store.GetPostResponseState(context.Background(), "conv-counter", "counter", modulestore.Stage4)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 1, entry.Variables["n"])

	turn()
	entry, found, err = store.GetPostResponseState(context.Background(), "conv-counter", "counter", modulestore.Stage4)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 2, entry.Variables["n"])

	turn()
	entry, found, err = store.GetPostResponseState(context.Background(), "conv-counter", "counter", modulestore.Stage4)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 3, entry.Variables["n"])
}

func TestResolveEnv_Lookup_SimpleModuleReturnsContentVerbatim(t *testing.T) {
	store := modulestore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateModule(ctx, &module.Module{Name: "greeting", Kind: module.KindSimple, Content: "hi there", IsActive: true}))

	env := newResolveEnv(store, plugins.NewRegistry(), script.NewSandbox(time.Second), TurnInput{
		ConversationID: "c1", PersonaID: "p1", UserMessage: "hello",
	}, time.Now, func() bool { return false })
	env.stage = Stage1

	content, vars, ok, err := env.Lookup(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hi there", content)
	assert.Nil(t, vars)
}

func TestResolveEnv_Lookup_UnknownModuleNotFound(t *testing.T) {
	store := modulestore.NewMemoryStore()
	env := newResolveEnv(store, plugins.NewRegistry(), script.NewSandbox(time.Second), TurnInput{
		ConversationID: "c1", PersonaID: "p1", UserMessage: "hi",
	}, time.Now, func() bool { return false })
	env.stage = Stage1

	_, _, ok, err := env.Lookup(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectPostResponseModules_ReferencedFirstThenTriggeredByName(t *testing.T) {
	store := modulestore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateModule(ctx, &module.Module{
		Name: "referenced_mod", Kind: module.KindSimple, Content: "x", IsActive: true,
		ExecutionContext: module.PostResponse,
	}))
	require.NoError(t, store.CreateModule(ctx, &module.Module{
		Name: "zzz_triggered", Kind: module.KindSimple, Content: "x", IsActive: true,
		ExecutionContext: module.PostResponse, TriggerPattern: "*",
	}))
	require.NoError(t, store.CreateModule(ctx, &module.Module{
		Name: "aaa_triggered", Kind: module.KindSimple, Content: "x", IsActive: true,
		ExecutionContext: module.PostResponse, TriggerPattern: "*",
	}))

	env := newResolveEnv(store, plugins.NewRegistry(), script.NewSandbox(time.Second), TurnInput{
		ConversationID: "c1", PersonaID: "p1", UserMessage: "hi",
	}, time.Now, func() bool { return false })
	env.markReferenced("referenced_mod")

	o := &Orchestrator{Store: store}
	selected, err := o.selectPostResponseModules(ctx, env, false, "trigger message")
	require.NoError(t, err)
	require.Len(t, selected, 3)
	assert.Equal(t, "referenced_mod", selected[0].Name)
	assert.Equal(t, "aaa_triggered", selected[1].Name)
	assert.Equal(t, "zzz_triggered", selected[2].Name)
}
