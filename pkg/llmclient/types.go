// Package llmclient implements the LLM Invocation Layer (C8): a single
// Provider interface over heterogeneous providers, grounded on the
// teacher's pkg/llms (a local-style Ollama family and a bearer/SSE
// OpenAI family) but narrowed to the chat-completion surface §6.3
// actually needs — no tool calling, no structured output, no thinking
// traces, since nothing upstream of this layer issues those.
package llmclient

import "context"

// Message is one entry in the conversation sent to a provider.
type Message struct {
	Role    string
	Content string
}

// Controls are the caller-supplied generation parameters (§6.1's
// chat_controls), passed at call time since "the engine holds no
// provider credentials in memory between turns" (§4.8).
type Controls struct {
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// Completion is the non-streaming result §6.3 specifies:
// (content, thinking?, input_tokens?, output_tokens?). Thinking is
// carried for providers that expose it; nothing in this engine surfaces
// it further, but dropping it silently would lose provider-reported data.
type Completion struct {
	Content      string
	Thinking     string
	InputTokens  int
	OutputTokens int
}

// Chunk is one increment of a streamed completion: an ordered
// (delta_content, delta_thinking?) pair, or a terminal chunk carrying
// the accumulated token counts, or an error chunk.
type Chunk struct {
	DeltaContent  string
	DeltaThinking string
	Done          bool
	InputTokens   int
	OutputTokens  int
	Err           error
}

// ModelInfo is one entry returned by ListModels.
type ModelInfo struct {
	Name string
}

// Provider is the engine's LLM provider interface (§6.3): list_models,
// test_connection, complete, stream. Every method takes ctx so
// cancellation (§6.2) and per-call timeouts compose uniformly; there is
// no separate cancel_flag parameter the way the spec's abstract
// interface lists one, since context.Context already carries it.
type Provider interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
	TestConnection(ctx context.Context) error
	Complete(ctx context.Context, systemPrompt string, messages []Message, controls Controls) (Completion, error)
	Stream(ctx context.Context, systemPrompt string, messages []Message, controls Controls) (<-chan Chunk, error)
}
