// Package plugins implements the Plugin Registry (C3): a closed,
// name→callable table of built-in plugin families, discovered once at
// process start and handed to every Execution Context as an immutable
// lookup (§9 Design Notes: "model it as an immutable handoff rather
// than a process-wide singleton").
//
// Every plugin is a closed Go function matching execctx.Func; there is
// no open inheritance hierarchy and no out-of-process plugin protocol —
// the source system's dynamic dispatch collapses to a static table at
// this boundary, per §9.
package plugins

import (
	"github.com/kadirpekel/promptengine/pkg/execctx"
	"github.com/kadirpekel/promptengine/pkg/registry"
)

// AICallingPlugins is the pre-declared set the Script Analyzer (C2)
// checks a script's ctx.<name>(...) calls against to set
// RequiresAIInference (§4.2).
var AICallingPlugins = map[string]bool{
	"generate": true,
	"reflect":  true,
}

// Registry is the engine's plugin table. It wraps registry.BaseRegistry
// and implements execctx.PluginLookup so an Execution Context can
// resolve ctx.<name>(...) calls without importing this package back.
type Registry struct {
	base *registry.BaseRegistry[execctx.Func]
}

// NewRegistry builds the registry with every built-in family registered
// (§4.3: AI, Conversation, Time, Memory, Utility). Discovery in this
// engine is compile-time registration rather than a filesystem scan,
// since every plugin ships with the binary (no out-of-process plugin
// loading is in scope, see DESIGN.md).
func NewRegistry() *Registry {
	r := &Registry{base: registry.NewBaseRegistry[execctx.Func]()}
	for name, fn := range builtins() {
		if err := r.base.Register(name, fn); err != nil {
			panic(err) // programmer error: duplicate built-in name
		}
	}
	return r
}

// Resolve implements execctx.PluginLookup.
func (r *Registry) Resolve(name string) (execctx.Func, bool) {
	return r.base.Get(name)
}

// Names lists every registered plugin name, sorted.
func (r *Registry) Names() []string {
	return r.base.Names()
}

func builtins() map[string]execctx.Func {
	m := map[string]execctx.Func{}
	for name, fn := range aiPlugins() {
		m[name] = fn
	}
	for name, fn := range conversationPlugins() {
		m[name] = fn
	}
	for name, fn := range timePlugins() {
		m[name] = fn
	}
	for name, fn := range memoryPlugins() {
		m[name] = fn
	}
	for name, fn := range utilityPlugins() {
		m[name] = fn
	}
	return m
}

var _ execctx.PluginLookup = (*Registry)(nil)
