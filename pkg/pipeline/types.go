// Package pipeline implements the Pipeline Orchestrator (C7): the five
// ordered stages that turn a persona template and a user message into a
// streamed assistant response, persisting per-module POST_RESPONSE state
// through the Module Repository Façade along the way (§4.7).
package pipeline

import (
	"time"

	"github.com/kadirpekel/promptengine/pkg/llmclient"
)

// Stage names the five ordered phases, used in stage_update events and
// in the deterministic-ordering invariant checks (§8.2).
type Stage string

const (
	Stage1 Stage = "stage1" // template preparation, no AI
	Stage2 Stage = "stage2" // pre-response AI processing
	Stage3 Stage = "stage3" // main response generation
	Stage4 Stage = "stage4" // post-response non-AI processing
	Stage5 Stage = "stage5" // post-response AI processing
)

// TurnInput is §6.1's chat_request shape.
type TurnInput struct {
	UserMessage      string
	ConversationID   string
	PersonaID        string
	PersonaTemplate  string
	History          []llmclient.Message
	ProviderChoice   string
	ProviderSettings map[string]any
	Controls         llmclient.Controls
	Stream           bool
}

// EventKind enumerates the structured events §4.9 lists on the chat
// surface.
type EventKind string

const (
	EventSessionStart         EventKind = "session_start"
	EventStageUpdate          EventKind = "stage_update"
	EventChunk                EventKind = "chunk"
	EventDone                 EventKind = "done"
	EventPostResponseComplete EventKind = "post_response_complete"
	EventCancelled            EventKind = "cancelled"
	EventError                EventKind = "error"
)

// DoneMetadata accompanies an EventDone, consolidating the turn for
// stream=false callers (§6.1).
type DoneMetadata struct {
	Content      string
	Thinking     string
	InputTokens  int
	OutputTokens int
	Cancelled    bool
	Debug        *DebugSnapshot
}

// DebugSnapshot is the optional read-only state-tracker payload (§4.10,
// §6.1) attached to done/stage_update events when tracking is enabled.
type DebugSnapshot struct {
	ConversationID string
	Stages         []StageRecord
}

// StageRecord is one ring-buffer entry the tracker keeps per stage.
type StageRecord struct {
	Stage     Stage
	Started   time.Time
	Duration  time.Duration
	InputLen  int
	OutputLen int
	Warnings  []string
}

// Event is one item yielded by Run.
type Event struct {
	Kind     EventKind
	Stage    Stage
	Content  string
	Thinking string
	Warnings []string
	Done     *DoneMetadata
	Err      error
}
