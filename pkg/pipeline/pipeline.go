package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/kadirpekel/promptengine/pkg/config"
	"github.com/kadirpekel/promptengine/pkg/execctx"
	"github.com/kadirpekel/promptengine/pkg/llmclient"
	"github.com/kadirpekel/promptengine/pkg/modulestore"
	"github.com/kadirpekel/promptengine/pkg/script"
	"github.com/kadirpekel/promptengine/pkg/template"
)

// Observer receives one StageRecord each time a stage completes — the
// System-Prompt State Tracker's (C10) attachment point. A nil Observer
// costs one nil check per stage; nothing else in this package depends on
// whether tracking is enabled.
type Observer func(conversationID string, stage Stage, rec StageRecord)

// Orchestrator runs the five §4.7 stages for one turn. One Orchestrator
// is shared across every conversation; all turn-scoped state lives in
// the resolveEnv constructed inside Run.
type Orchestrator struct {
	Store     modulestore.Store
	Plugins   execctx.PluginLookup
	Sandbox   *script.Sandbox
	Providers *llmclient.Registry

	MaxRecursionDepth int
	SandboxWorkers    int

	// Clock defaults to time.Now; tests override it for the frozen-clock
	// determinism property (§8).
	Clock func() time.Time

	Observer Observer
}

// New builds an Orchestrator from its collaborators and §'s PipelineConfig.
func New(store modulestore.Store, plugins execctx.PluginLookup, sandbox *script.Sandbox, providers *llmclient.Registry, cfg config.PipelineConfig) *Orchestrator {
	maxDepth := cfg.MaxRecursionDepth
	if maxDepth <= 0 {
		maxDepth = template.MaxRecursionDepth
	}
	return &Orchestrator{
		Store:             store,
		Plugins:           plugins,
		Sandbox:           sandbox,
		Providers:         providers,
		MaxRecursionDepth: maxDepth,
		SandboxWorkers:    cfg.StageFanout,
	}
}

func (o *Orchestrator) clockFn() func() time.Time {
	if o.Clock != nil {
		return o.Clock
	}
	return time.Now
}

func (o *Orchestrator) sandboxWorkers() int {
	if o.SandboxWorkers > 0 {
		return o.SandboxWorkers
	}
	return runtime.GOMAXPROCS(0)
}

func (o *Orchestrator) maxDepth() int {
	if o.MaxRecursionDepth > 0 {
		return o.MaxRecursionDepth
	}
	return template.MaxRecursionDepth
}

func (o *Orchestrator) observe(conversationID string, stage Stage, started time.Time, input, output string, warnings []string) {
	if o.Observer == nil {
		return
	}
	o.Observer(conversationID, stage, StageRecord{
		Stage:     stage,
		Started:   started,
		Duration:  o.clockFn()().Sub(started),
		InputLen:  len(input),
		OutputLen: len(output),
		Warnings:  warnings,
	})
}

func warningStrings(warnings []template.Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = fmt.Sprintf("%s: %s", w.Code, w.Message)
	}
	return out
}

// Run executes one chat turn, yielding the structured events §4.9 lists.
// Modeled as a range-over-func generator — the same iter.Seq2[Event, error]
// shape the teacher's Runner.Run uses — so a Chat Session (C9) can range
// over events without buffering the whole turn, and can stop the range
// early (yield returning false) to abandon a cancelled turn mid-stage.
func (o *Orchestrator) Run(ctx context.Context, in TurnInput) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		clock := o.clockFn()
		cancelled := func() bool { return ctx.Err() != nil }

		if !yield(Event{Kind: EventSessionStart}, nil) {
			return
		}

		provider, err := o.Providers.Resolve(in.ProviderChoice)
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrProviderError, err)
			yield(Event{Kind: EventError, Err: wrapped}, wrapped)
			return
		}

		env := newResolveEnv(o.Store, o.Plugins, o.Sandbox, in, clock, cancelled)

		// ---- Stage 1: template preparation, no AI ----
		if !yield(Event{Kind: EventStageUpdate, Stage: Stage1}, nil) {
			return
		}
		env.stage = Stage1
		stage1Start := clock()
		stage1 := template.Resolve(ctx, in.PersonaTemplate, nil, env, o.maxDepth())
		o.observe(in.ConversationID, Stage1, stage1Start, in.PersonaTemplate, stage1.Text, mergeWarnings(stage1.Warnings, env.takeWarnings()))

		if ctx.Err() != nil {
			o.emitCancelled(yield, "")
			return
		}

		// ---- Stage 2: pre-response AI processing ----
		if !yield(Event{Kind: EventStageUpdate, Stage: Stage2}, nil) {
			return
		}
		env.stage = Stage2
		env.invoker = &llmInvoker{provider: provider}
		env.systemPrompt = stage1.Text
		stage2Start := clock()
		stage2 := template.Resolve(ctx, stage1.Text, nil, env, o.maxDepth())
		o.observe(in.ConversationID, Stage2, stage2Start, stage1.Text, stage2.Text, mergeWarnings(stage2.Warnings, env.takeWarnings()))

		if ctx.Err() != nil {
			o.emitCancelled(yield, "")
			return
		}

		systemPrompt := stage2.Text

		// ---- Stage 3: main response generation ----
		if !yield(Event{Kind: EventStageUpdate, Stage: Stage3}, nil) {
			return
		}
		messages := append(append([]llmclient.Message(nil), in.History...), llmclient.Message{Role: "user", Content: in.UserMessage})

		stage3Start := clock()
		content, thinking, inputTokens, outputTokens, err := o.runStage3(ctx, yield, provider, systemPrompt, messages, in)
		o.observe(in.ConversationID, Stage3, stage3Start, systemPrompt, content, nil)
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrProviderError, err)
			yield(Event{Kind: EventError, Stage: Stage3, Err: wrapped}, wrapped)
			return
		}

		if ctx.Err() != nil {
			// §4.9: CANCELLED during STREAMING — persist the partial
			// content via done{cancelled:true}, skip Stage 4/5 entirely.
			yield(Event{Kind: EventDone, Stage: Stage3, Done: &DoneMetadata{
				Content: content, Thinking: thinking, InputTokens: inputTokens, OutputTokens: outputTokens, Cancelled: true,
			}}, nil)
			o.emitCancelled(yield, content)
			return
		}

		if !yield(Event{Kind: EventDone, Stage: Stage3, Done: &DoneMetadata{
			Content: content, Thinking: thinking, InputTokens: inputTokens, OutputTokens: outputTokens,
		}}, nil) {
			return
		}

		triggerMessage := strings.TrimSpace(in.UserMessage + " " + content)

		// ---- Stage 4: post-response non-AI processing ----
		if !yield(Event{Kind: EventStageUpdate, Stage: Stage4}, nil) {
			return
		}
		stage4Start := clock()
		if err := o.runPostResponse(ctx, env, modulestore.Stage4, false, triggerMessage); err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			slog.Error("pipeline turn aborted", "conversation_id", in.ConversationID, "stage", Stage4, "error", wrapped)
			yield(Event{Kind: EventError, Stage: Stage4, Err: wrapped}, wrapped)
			return
		}
		o.observe(in.ConversationID, Stage4, stage4Start, "", "", env.takeWarnings())

		if ctx.Err() != nil {
			o.emitCancelled(yield, content)
			return
		}

		// ---- Stage 5: post-response AI processing ----
		if !yield(Event{Kind: EventStageUpdate, Stage: Stage5}, nil) {
			return
		}
		env.systemPrompt = systemPrompt // Stage 5 AI calls use the Stage-2 prompt (§4.7).
		stage5Start := clock()
		if err := o.runPostResponse(ctx, env, modulestore.Stage5, true, triggerMessage); err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			slog.Error("pipeline turn aborted", "conversation_id", in.ConversationID, "stage", Stage5, "error", wrapped)
			yield(Event{Kind: EventError, Stage: Stage5, Err: wrapped}, wrapped)
			return
		}
		o.observe(in.ConversationID, Stage5, stage5Start, "", "", env.takeWarnings())

		yield(Event{Kind: EventPostResponseComplete}, nil)
	}
}

func (o *Orchestrator) emitCancelled(yield func(Event, error) bool, partialContent string) {
	yield(Event{Kind: EventCancelled, Content: partialContent, Err: ErrCancelled}, ErrCancelled)
}

// runStage3 drives C8 for the main response, streaming when requested.
// It always returns whatever content accumulated so far, even when ctx
// is cancelled mid-stream or provider.Stream/Complete itself fails after
// partial output — Stage 3's own contract is "abort upstream, return the
// partial content accumulated so far" (§4.7), not propagate an error for
// a clean cancellation.
func (o *Orchestrator) runStage3(ctx context.Context, yield func(Event, error) bool, provider llmclient.Provider, systemPrompt string, messages []llmclient.Message, in TurnInput) (content, thinking string, inputTokens, outputTokens int, err error) {
	if !in.Stream {
		completion, cErr := provider.Complete(ctx, systemPrompt, messages, in.Controls)
		if cErr != nil {
			return "", "", 0, 0, cErr
		}
		yield(Event{Kind: EventChunk, Stage: Stage3, Content: completion.Content, Thinking: completion.Thinking}, nil)
		return completion.Content, completion.Thinking, completion.InputTokens, completion.OutputTokens, nil
	}

	chunks, sErr := provider.Stream(ctx, systemPrompt, messages, in.Controls)
	if sErr != nil {
		return "", "", 0, 0, sErr
	}

	var contentBuilder, thinkingBuilder strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			if ctx.Err() != nil {
				return contentBuilder.String(), thinkingBuilder.String(), inputTokens, outputTokens, nil
			}
			return contentBuilder.String(), thinkingBuilder.String(), inputTokens, outputTokens, chunk.Err
		}
		if chunk.DeltaContent != "" || chunk.DeltaThinking != "" {
			contentBuilder.WriteString(chunk.DeltaContent)
			thinkingBuilder.WriteString(chunk.DeltaThinking)
			if !yield(Event{Kind: EventChunk, Stage: Stage3, Content: chunk.DeltaContent, Thinking: chunk.DeltaThinking}, nil) {
				return contentBuilder.String(), thinkingBuilder.String(), inputTokens, outputTokens, nil
			}
		}
		if chunk.Done {
			inputTokens, outputTokens = chunk.InputTokens, chunk.OutputTokens
		}
		if ctx.Err() != nil {
			break
		}
	}
	return contentBuilder.String(), thinkingBuilder.String(), inputTokens, outputTokens, nil
}

func mergeWarnings(templateWarnings []template.Warning, scriptWarnings []string) []string {
	out := warningStrings(templateWarnings)
	return append(out, scriptWarnings...)
}
