package template

import (
	"context"
	"fmt"
)

// MaxRecursionDepth is the §4.1 fixed ceiling on nested module resolution.
// Exposed as a var (not const) so tests can shrink it without plumbing a
// parameter through every call site; production code should still prefer
// passing an explicit value via config (pkg/config.PipelineConfig).
var MaxRecursionDepth = 10

// ModuleLookup resolves a module name to its already-rendered body and the
// variables available for ${var} substitution within that body.
//
// "Already-rendered" means any script the module owns has already run by
// the time Lookup is called — this package only does text splicing, never
// script execution (that is the orchestrator's job, §4.7, which decides
// per stage whether a module's script is eligible to run yet). Lookup
// returns found=false for missing or inactive modules; it must never
// panic or return a script-execution error through this path (per §4.4,
// script failures degrade to the module's raw content before Lookup is
// ever asked to splice it in).
type ModuleLookup interface {
	Lookup(ctx context.Context, name string) (content string, vars map[string]any, found bool, err error)
}

// Result is the outcome of resolving a chunk of template text.
type Result struct {
	Text     string
	Warnings []Warning
}

// Resolve performs the left-to-right, recursive substitution described in
// §4.1: module references are replaced by the resolved body of the
// referenced module, variable references are replaced from vars (the
// caller's own variables map — e.g. a module's script-produced variables
// when resolving that module's own content). maxDepth bounds recursion;
// reaching it leaves the reference verbatim with a RecursionLimit warning.
func Resolve(ctx context.Context, text string, vars map[string]any, lookup ModuleLookup, maxDepth int) Result {
	stack := make(map[string]bool)
	var warnings []Warning
	resolved := resolveText(ctx, text, vars, lookup, stack, 0, maxDepth, &warnings)
	return Result{Text: resolved, Warnings: warnings}
}

func resolveText(
	ctx context.Context,
	text string,
	vars map[string]any,
	lookup ModuleLookup,
	stack map[string]bool,
	depth int,
	maxDepth int,
	warnings *[]Warning,
) string {
	refs, parseWarnings := Parse(text)
	*warnings = append(*warnings, parseWarnings...)

	var out []byte
	last := 0

	for _, ref := range refs {
		out = append(out, StripEscapes(text[last:ref.Start])...)

		switch ref.Kind {
		case KindVariable:
			out = append(out, resolveVariable(ref, vars, warnings)...)

		case KindModule:
			out = append(out, resolveModule(ctx, ref, text, lookup, stack, depth, maxDepth, warnings)...)
		}

		last = ref.End
	}

	out = append(out, StripEscapes(text[last:])...)
	return string(out)
}

func resolveVariable(ref Reference, vars map[string]any, warnings *[]Warning) []byte {
	val, ok := vars[ref.Name]
	if !ok {
		*warnings = append(*warnings, Warning{
			Code:    WarningInvalidReference,
			Message: fmt.Sprintf("undefined variable: ${%s}", ref.Name),
			Start:   ref.Start,
			End:     ref.End,
		})
		return nil
	}
	return []byte(fmt.Sprint(val))
}

func resolveModule(
	ctx context.Context,
	ref Reference,
	text string,
	lookup ModuleLookup,
	stack map[string]bool,
	depth int,
	maxDepth int,
	warnings *[]Warning,
) []byte {
	verbatim := []byte(text[ref.Start:ref.End])

	if depth >= maxDepth {
		*warnings = append(*warnings, Warning{
			Code:    WarningRecursionLimit,
			Message: fmt.Sprintf("max recursion depth (%d) exceeded resolving @%s", maxDepth, ref.Name),
			Start:   ref.Start,
			End:     ref.End,
		})
		return verbatim
	}

	if stack[ref.Name] {
		*warnings = append(*warnings, Warning{
			Code:    WarningCycle,
			Message: fmt.Sprintf("cycle detected resolving @%s", ref.Name),
			Start:   ref.Start,
			End:     ref.End,
		})
		return verbatim
	}

	content, modVars, found, err := lookup.Lookup(ctx, ref.Name)
	if err != nil || !found {
		*warnings = append(*warnings, Warning{
			Code:    WarningInvalidReference,
			Message: fmt.Sprintf("undefined or inactive module: @%s", ref.Name),
			Start:   ref.Start,
			End:     ref.End,
		})
		return verbatim
	}

	stack[ref.Name] = true
	resolved := resolveText(ctx, content, modVars, lookup, stack, depth+1, maxDepth, warnings)
	delete(stack, ref.Name)

	return []byte(resolved)
}
