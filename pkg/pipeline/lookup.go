package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/kadirpekel/promptengine/pkg/execctx"
	"github.com/kadirpekel/promptengine/pkg/module"
	"github.com/kadirpekel/promptengine/pkg/modulestore"
	"github.com/kadirpekel/promptengine/pkg/script"
	"github.com/kadirpekel/promptengine/pkg/template"
)

// resolveEnv implements template.ModuleLookup for one turn, bridging the
// Template Resolver (C1) to the Module Repository Façade (C6), the
// Script Sandbox (C4), and the Execution Context (C5). One resolveEnv is
// shared across Stage 1 and Stage 2's two template.Resolve calls so its
// module cache, reflection-depth counter, and referenced-name ledger are
// turn-scoped rather than call-scoped.
type resolveEnv struct {
	store   modulestore.Store
	plugins execctx.PluginLookup
	sandbox *script.Sandbox
	clock   func() time.Time

	conversationID string
	personaID      string
	messages       []execctx.Message
	persona        execctx.PersonaSnapshot

	// stage controls whether an AI-IMMEDIATE module's script runs now
	// (Stage2) or is deferred, leaving its @name reference present in
	// the output text for Stage 2 to pick up (Stage1).
	stage Stage

	// invoker is nil during Stage 1 (no AI-IMMEDIATE module may run yet)
	// and bound to the resolved provider before Stage 2 begins.
	invoker execctx.Invoker

	// systemPrompt is passed to every execctx.Context constructed here as
	// the effective system prompt an AI plugin call sees (§4.7: "the
	// Stage-1 prompt so far" for Stage 2, "the Stage-2 prompt" for
	// Stage 5 — the orchestrator updates this field between stages).
	systemPrompt string

	// depth and stack are the turn-scoped reflection counter and
	// resolution stack every execctx.Context constructed across all five
	// stages shares, per §4.5's "limits are turn-scoped, not
	// script-scoped."
	depth *int
	stack map[string]bool

	// cancelled is observed by AI plugins via execctx.Context.Cancelled.
	cancelled func() bool

	mu         sync.Mutex
	cache      map[string]*module.Module
	missing    map[string]bool
	seenRef    map[string]bool
	referenced []string
	warnings   []string
}

func newResolveEnv(store modulestore.Store, plugins execctx.PluginLookup, sandbox *script.Sandbox, in TurnInput, clock func() time.Time, cancelled func() bool) *resolveEnv {
	msgs := make([]execctx.Message, 0, len(in.History)+1)
	for _, m := range in.History {
		msgs = append(msgs, execctx.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, execctx.Message{Role: "user", Content: in.UserMessage})

	depth := 0
	return &resolveEnv{
		store:          store,
		plugins:        plugins,
		sandbox:        sandbox,
		clock:          clock,
		conversationID: in.ConversationID,
		personaID:      in.PersonaID,
		messages:       msgs,
		persona:        execctx.PersonaSnapshot{ID: in.PersonaID},
		cancelled:      cancelled,
		depth:          &depth,
		stack:          make(map[string]bool),
		cache:          make(map[string]*module.Module),
		missing:        make(map[string]bool),
		seenRef:        make(map[string]bool),
	}
}

var _ template.ModuleLookup = (*resolveEnv)(nil)

func (e *resolveEnv) module(ctx context.Context, name string) (*module.Module, bool, error) {
	e.mu.Lock()
	if m, ok := e.cache[name]; ok {
		e.mu.Unlock()
		return m, true, nil
	}
	if e.missing[name] {
		e.mu.Unlock()
		return nil, false, nil
	}
	e.mu.Unlock()

	found, err := e.store.GetActiveByNames(ctx, []string{name})
	if err != nil {
		return nil, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := found[name]
	if !ok {
		e.missing[name] = true
		return nil, false, nil
	}
	e.cache[name] = m
	return m, true, nil
}

func (e *resolveEnv) markReferenced(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.seenRef[name] {
		e.seenRef[name] = true
		e.referenced = append(e.referenced, name)
	}
}

func (e *resolveEnv) recordWarning(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings = append(e.warnings, msg)
}

func (e *resolveEnv) takeWarnings() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.warnings
	e.warnings = nil
	return out
}

func (e *resolveEnv) referencedNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.referenced...)
}

// Lookup implements template.ModuleLookup.
func (e *resolveEnv) Lookup(ctx context.Context, name string) (string, map[string]any, bool, error) {
	m, ok, err := e.module(ctx, name)
	if err != nil || !ok {
		return "", nil, false, err
	}
	e.markReferenced(name)

	switch m.Kind {
	case module.KindSimple:
		return m.Content, nil, true, nil

	case module.KindAdvanced:
		switch m.ExecutionContext {
		case module.PostResponse:
			return e.lookupPostResponsePrevious(ctx, m)

		case module.Immediate:
			if m.RequiresAIInference {
				if e.stage == Stage1 {
					// Deferred to Stage 2 (§4.7): leave the reference
					// literally present by returning it in escaped
					// form — StripEscapes turns "\@name" back into the
					// literal text "@name" without re-parsing it as a
					// reference this pass.
					return "\\@" + m.Name, nil, true, nil
				}
				return e.executeAdvanced(ctx, m)
			}
			if e.stage != Stage1 {
				// Already spliced during Stage 1; Stage 2 only
				// re-resolves text, it must not re-execute a non-AI
				// script a second time.
				return m.Content, nil, true, nil
			}
			return e.executeAdvanced(ctx, m)

		default: // ON_DEMAND modules are never part of the automatic sweep (§3).
			return "", nil, false, nil
		}

	default:
		return "", nil, false, nil
	}
}

func (e *resolveEnv) lookupPostResponsePrevious(ctx context.Context, m *module.Module) (string, map[string]any, bool, error) {
	stage := modulestore.Stage4
	if m.RequiresAIInference {
		stage = modulestore.Stage5
	}
	entry, found, err := e.store.GetPostResponseState(ctx, e.conversationID, m.Name, stage)
	if err != nil {
		return "", nil, false, err
	}
	if !found {
		return m.Content, nil, true, nil
	}
	return m.Content, entry.Variables, true, nil
}

func (e *resolveEnv) executeAdvanced(ctx context.Context, m *module.Module) (string, map[string]any, bool, error) {
	ec := e.newExecCtx()
	result := e.sandbox.Execute(ctx, m.Script, ec)
	if !result.Success {
		e.recordWarning(fmt.Sprintf("module %s: %s", m.Name, result.Error))
		return m.Content, fallbackVars(m.Content), true, nil
	}
	for _, w := range result.Warnings {
		e.recordWarning(fmt.Sprintf("module %s: %s", m.Name, w))
	}
	return m.Content, result.Variables, true, nil
}

func (e *resolveEnv) newExecCtx() *execctx.Context {
	ec := execctx.New(e.conversationID, e.personaID, e.messages, e.persona, e.plugins, e.invoker, e.cancelled, e.systemPrompt, e.depth, e.stack)
	ec.Clock = e.clock
	return ec
}

// variableRefPattern mirrors template's own ${name} grammar; used only
// to build the script-failure fallback below.
var variableRefPattern = regexp.MustCompile(`\$\{([a-z_][a-z0-9_]*)\}`)

// fallbackVars builds a variables map that substitutes every ${name} in
// content with itself, so that splicing content through template.Resolve
// reproduces it byte-for-byte — "the module's content falls back to its
// raw content text with unresolved ${var} left verbatim" (§7), achieved
// through the existing substitution path rather than a second code path.
func fallbackVars(content string) map[string]any {
	matches := variableRefPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	vars := make(map[string]any, len(matches))
	for _, m := range matches {
		vars[m[1]] = "${" + m[1] + "}"
	}
	return vars
}
