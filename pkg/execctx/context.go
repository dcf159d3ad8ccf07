// Package execctx implements the Execution Context (C5): the
// per-invocation façade a sandboxed module script sees as ctx. It never
// exposes the plugin registry or the chat session directly — only the
// narrow surface a script is allowed to call (§4.5).
package execctx

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MaxReflectionDepth is the §4.5 fixed ceiling on nested AI-plugin calls
// within a single turn.
const MaxReflectionDepth = 3

// ReflectionFallback is returned by an AI plugin call that would exceed
// MaxReflectionDepth, in place of raising (§4.5, §7 ReflectionLimit).
const ReflectionFallback = "[reflection depth limit reached]"

// Func is the shape every plugin callable has. args are keyword-style,
// keyed by the plugin's parameter names; user scripts call ctx.name(...)
// with positional arguments, and the sandbox (pkg/script) translates
// those into this map.
type Func func(ctx context.Context, ec *Context, args map[string]any) (any, error)

// PluginLookup resolves a plugin name to its callable. Implemented by
// pkg/plugins; kept as an interface here so this package never imports
// plugins (ctx.<name>(...) flows the other direction: plugins call back
// into a *Context, they are not called by it).
type PluginLookup interface {
	Resolve(name string) (Func, bool)
}

// Message is the minimal conversation-history shape the context snapshots;
// it mirrors pkg/llmclient.Message without importing it, so this package
// stays independent of pkg/llmclient (see Invoker below).
type Message struct {
	Role    string
	Content string
}

// PersonaSnapshot is the read-only persona metadata available to scripts
// via get_persona_info; it excludes the raw template text, which is an
// orchestrator-internal detail (§4.5).
type PersonaSnapshot struct {
	ID   string
	Name string
}

// Invoker lets AI plugins call back into C8 without this package
// depending on pkg/llmclient. The orchestrator supplies a concrete
// implementation bound to the stage-appropriate system prompt (§4.7).
type Invoker interface {
	Invoke(ctx context.Context, systemPrompt, instructions, input, role string, temperature float64, maxTokens int) (string, error)
}

// Context is the per-invocation façade described in §4.5. One Context is
// constructed per script execution (pkg/script.Sandbox.Execute); its
// ReflectionDepth and ResolutionStack are shared by reference across a
// single turn's recursive resolution so the limits are turn-scoped, not
// script-scoped.
type Context struct {
	ConversationID string
	PersonaID      string

	Messages []Message
	Persona  PersonaSnapshot

	Plugins PluginLookup
	Invoker Invoker

	// Cancelled is observed by AI plugins before and after any LLM call
	// (§4.9); it is owned by the Chat Session, never by this package.
	Cancelled func() bool

	// SystemPrompt is the stage-appropriate prompt AI plugins pass
	// through to Invoker (§4.7: Stage 1/2 use the prompt built so far,
	// Stage 5 uses the Stage-2 prompt).
	SystemPrompt string

	// Clock is consulted by time plugins. Defaults to time.Now; tests
	// set a fixed function so Stage-1 determinism (§8) holds across runs.
	Clock func() time.Time

	mu         sync.Mutex
	depth      *int
	stack      map[string]bool
	variables  map[string]any
	warnings   *[]string
}

// New constructs a Context. depth and stack are shared pointers so that
// nested resolution (a module's script triggering resolution of another
// module's content) sees the same turn-scoped counters.
func New(conversationID, personaID string, messages []Message, persona PersonaSnapshot, plugins PluginLookup, invoker Invoker, cancelled func() bool, systemPrompt string, depth *int, stack map[string]bool) *Context {
	if depth == nil {
		d := 0
		depth = &d
	}
	if stack == nil {
		stack = make(map[string]bool)
	}
	return &Context{
		ConversationID: conversationID,
		PersonaID:      personaID,
		Messages:       messages,
		Persona:        persona,
		Plugins:        plugins,
		Invoker:        invoker,
		Cancelled:      cancelled,
		SystemPrompt:   systemPrompt,
		Clock:          time.Now,
		depth:          depth,
		stack:          stack,
		variables:      make(map[string]any),
		warnings:       new([]string),
	}
}

// Call resolves and invokes a plugin by name, exactly as a script's
// ctx.name(...) does. Returns an error only for unknown plugin names;
// plugin-internal failures are the plugin's own concern to degrade
// gracefully (AI plugins in particular never propagate provider errors,
// §7).
func (c *Context) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	fn, ok := c.Plugins.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("unknown plugin: %s", name)
	}
	return fn(ctx, c, args)
}

// BeginReflection increments the shared reflection-depth counter and
// reports whether the caller may proceed. Call before issuing the
// underlying LLM request; always matched by EndReflection.
func (c *Context) BeginReflection() (depth int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.depth++
	return *c.depth, *c.depth <= MaxReflectionDepth
}

// EndReflection decrements the shared counter after an AI plugin call
// returns, successful or not.
func (c *Context) EndReflection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if *c.depth > 0 {
		*c.depth--
	}
}

// Enter pushes name onto the shared resolution stack, reporting false
// (without pushing) if name is already present — a cycle (§3, §4.1).
func (c *Context) Enter(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stack[name] {
		return false
	}
	c.stack[name] = true
	return true
}

// Exit pops name from the shared resolution stack.
func (c *Context) Exit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stack, name)
}

// GetVariable reads a script-local variable, falling back to def when
// unset (ctx.get_variable).
func (c *Context) GetVariable(name string, def any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.variables[name]; ok {
		return v
	}
	return def
}

// SetVariable writes a script-local variable (ctx.set_variable). These
// are the values extracted by the Script Sandbox at the end of
// execution and persisted by the Module Repository Façade for
// POST_RESPONSE modules.
func (c *Context) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// Seed pre-populates the variables map from a POST_RESPONSE module's own
// prior-turn state (C6), so ctx.get_variable sees last turn's values
// rather than always falling back to its default (§8 scenario S6: a
// counter module must observe the value it wrote last turn). Must be
// called before the script runs; a script's own set_variable calls
// still take precedence over what was seeded.
func (c *Context) Seed(vars map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range vars {
		c.variables[k] = v
	}
}

// Variables returns a snapshot copy of the script-local variables map.
func (c *Context) Variables() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// Warn records a non-fatal condition raised from within a plugin (e.g. a
// reflection-limit fallback); surfaced by the sandbox alongside the
// script's execution result.
func (c *Context) Warn(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.warnings = append(*c.warnings, message)
}

// Warnings returns the warnings accumulated during this invocation.
func (c *Context) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(*c.warnings))
	copy(out, *c.warnings)
	return out
}
