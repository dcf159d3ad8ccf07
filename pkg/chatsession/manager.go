package chatsession

import (
	"context"
	"iter"
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/promptengine/pkg/pipeline"
	"github.com/kadirpekel/promptengine/pkg/registry"
)

// Manager is the chat surface's entry point: §6.1's submit(chat_request)
// and cancel(session_id), backed by a live-session registry and one
// Pipeline Orchestrator shared across every conversation.
type Manager struct {
	orchestrator *pipeline.Orchestrator
	sessions     *registry.BaseRegistry[*Session]

	mu      sync.Mutex
	current map[string]*Session // conversationID -> most recent session on it
}

// NewManager builds a Manager around an already-constructed Orchestrator.
func NewManager(orchestrator *pipeline.Orchestrator) *Manager {
	return &Manager{
		orchestrator: orchestrator,
		sessions:     registry.NewBaseRegistry[*Session](),
		current:      make(map[string]*Session),
	}
}

// Submit starts one chat turn and returns its session ID alongside the
// event stream §6.1 calls event_stream. Per §5, a new turn on the same
// conversation first cancels and awaits the previous in-flight turn, so
// the two never run Stage 4/5 concurrently against the same
// conversation's POST_RESPONSE state.
func (mgr *Manager) Submit(ctx context.Context, in pipeline.TurnInput) (string, iter.Seq2[pipeline.Event, error]) {
	mgr.preemptPrevious(in.ConversationID)

	turnCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	sess := newSession(id, in.ConversationID, cancel)

	mgr.mu.Lock()
	mgr.current[in.ConversationID] = sess
	mgr.mu.Unlock()
	// id is a freshly minted uuid: Register only fails on a name collision
	// or an empty name, neither possible here.
	_ = mgr.sessions.Register(id, sess)

	events := func(yield func(pipeline.Event, error) bool) {
		defer mgr.sessions.Remove(id)
		terminal := StateDone
		for event, err := range mgr.orchestrator.Run(turnCtx, in) {
			if event.Kind == pipeline.EventStageUpdate {
				sess.setState(stageState(event.Stage))
			}
			if event.Kind == pipeline.EventCancelled {
				terminal = StateCancelled
			}
			if !yield(event, err) {
				cancel()
				break
			}
		}
		sess.finish(terminal)
	}

	return id, events
}

// Cancel implements §6.1's cancel(session_id). It reports false for an
// unknown or already-finished session ID; otherwise it raises the
// session's cancellation signal and blocks until its terminal event has
// been observed, per §4.9's implementation note.
func (mgr *Manager) Cancel(sessionID string) bool {
	sess, ok := mgr.sessions.Get(sessionID)
	if !ok {
		return false
	}
	sess.Cancel()
	<-sess.Done()
	return true
}

// Lookup returns the live session for sessionID, if any is still in flight.
func (mgr *Manager) Lookup(sessionID string) (*Session, bool) {
	return mgr.sessions.Get(sessionID)
}

// preemptPrevious cancels and awaits whatever session is still in flight
// on conversationID, so Submit never constructs a new turn's resolveEnv
// while a prior turn might still be writing that conversation's
// POST_RESPONSE state (§5).
func (mgr *Manager) preemptPrevious(conversationID string) {
	mgr.mu.Lock()
	prev := mgr.current[conversationID]
	mgr.mu.Unlock()
	if prev == nil {
		return
	}
	select {
	case <-prev.Done():
		return
	default:
	}
	prev.Cancel()
	<-prev.Done()
}

func stageState(stage pipeline.Stage) State {
	switch stage {
	case pipeline.Stage1:
		return StateAwaitingStage1
	case pipeline.Stage2:
		return StateAwaitingStage2
	case pipeline.Stage3:
		return StateStreaming
	case pipeline.Stage4, pipeline.Stage5:
		return StatePostResponse
	default:
		return StateIdle
	}
}
