package chatsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/promptengine/pkg/config"
	"github.com/kadirpekel/promptengine/pkg/llmclient"
	"github.com/kadirpekel/promptengine/pkg/modulestore"
	"github.com/kadirpekel/promptengine/pkg/pipeline"
	"github.com/kadirpekel/promptengine/pkg/plugins"
	"github.com/kadirpekel/promptengine/pkg/script"
)

// stubProvider answers Complete immediately and Stream with a single
// chunk after an artificial delay, long enough for a test to cancel the
// turn mid-STREAMING.
type stubProvider struct {
	delay time.Duration
}

func (p *stubProvider) ListModels(ctx context.Context) ([]llmclient.ModelInfo, error) {
	return nil, nil
}
func (p *stubProvider) TestConnection(ctx context.Context) error { return nil }
func (p *stubProvider) Complete(ctx context.Context, systemPrompt string, messages []llmclient.Message, controls llmclient.Controls) (llmclient.Completion, error) {
	return llmclient.Completion{Content: "hello"}, nil
}
func (p *stubProvider) Stream(ctx context.Context, systemPrompt string, messages []llmclient.Message, controls llmclient.Controls) (<-chan llmclient.Chunk, error) {
	out := make(chan llmclient.Chunk, 1)
	go func() {
		defer close(out)
		select {
		case <-time.After(p.delay):
			out <- llmclient.Chunk{DeltaContent: "hi", Done: true}
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func newTestManager(t *testing.T, streamDelay time.Duration) *Manager {
	t.Helper()
	store := modulestore.NewMemoryStore()
	sandbox := script.NewSandbox(time.Second)
	pluginRegistry := plugins.NewRegistry()

	providers := llmclient.NewRegistry()
	require.NoError(t, providers.Register("default", &stubProvider{delay: streamDelay}))

	orch := pipeline.New(store, pluginRegistry, sandbox, providers, config.PipelineConfig{})
	return NewManager(orch)
}

func drain(events func(yield func(pipeline.Event, error) bool)) []pipeline.Event {
	var out []pipeline.Event
	events(func(e pipeline.Event, err error) bool {
		out = append(out, e)
		return true
	})
	return out
}

func TestManager_Submit_RunsToDone(t *testing.T) {
	mgr := newTestManager(t, 0)
	id, events := mgr.Submit(context.Background(), pipeline.TurnInput{
		ConversationID:  "conv-1",
		PersonaTemplate: "You are helpful.",
		UserMessage:     "hi",
		ProviderChoice:  "default",
	})
	require.NotEmpty(t, id)

	collected := drain(events)
	require.NotEmpty(t, collected)
	assert.Equal(t, pipeline.EventPostResponseComplete, collected[len(collected)-1].Kind)

	// The session is removed from the registry once its event stream is
	// fully drained.
	_, ok := mgr.Lookup(id)
	assert.False(t, ok)
}

func TestManager_Cancel_UnknownSession(t *testing.T) {
	mgr := newTestManager(t, 0)
	assert.False(t, mgr.Cancel("no-such-session"))
}

func TestManager_Cancel_DuringStreaming(t *testing.T) {
	mgr := newTestManager(t, 200*time.Millisecond)
	id, events := mgr.Submit(context.Background(), pipeline.TurnInput{
		ConversationID:  "conv-2",
		PersonaTemplate: "You are helpful.",
		UserMessage:     "hi",
		ProviderChoice:  "default",
		Stream:          true,
	})

	done := make(chan struct{})
	go func() {
		drain(events)
		close(done)
	}()

	// Give the turn time to reach STREAMING before cancelling it.
	require.Eventually(t, func() bool {
		sess, ok := mgr.Lookup(id)
		return ok && sess.State() == StateStreaming
	}, time.Second, 5*time.Millisecond)

	require.True(t, mgr.Cancel(id))
	<-done
}

func TestManager_Submit_PreemptsPreviousOnSameConversation(t *testing.T) {
	mgr := newTestManager(t, 200*time.Millisecond)
	firstID, firstEvents := mgr.Submit(context.Background(), pipeline.TurnInput{
		ConversationID:  "conv-3",
		PersonaTemplate: "You are helpful.",
		UserMessage:     "first",
		ProviderChoice:  "default",
		Stream:          true,
	})

	firstDone := make(chan struct{})
	go func() {
		drain(firstEvents)
		close(firstDone)
	}()
	require.Eventually(t, func() bool {
		sess, ok := mgr.Lookup(firstID)
		return ok && sess.State() == StateStreaming
	}, time.Second, 5*time.Millisecond)

	// Submitting a second turn on the same conversation must cancel and
	// await the first before returning (§5).
	_, secondEvents := mgr.Submit(context.Background(), pipeline.TurnInput{
		ConversationID:  "conv-3",
		PersonaTemplate: "You are helpful.",
		UserMessage:     "second",
		ProviderChoice:  "default",
	})

	select {
	case <-firstDone:
	default:
		t.Fatal("first session was not finished before Submit returned")
	}

	collected := drain(secondEvents)
	assert.Equal(t, pipeline.EventPostResponseComplete, collected[len(collected)-1].Kind)
}
