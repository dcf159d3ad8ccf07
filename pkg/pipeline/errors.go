package pipeline

import "errors"

// Sentinel errors for the §7 taxonomy. Callers distinguish them with
// errors.Is/errors.As, never string matching — the ambient error
// convention carried throughout this engine (see DESIGN.md).
var (
	// ErrInvalidReference names an undefined/inactive module or undefined
	// variable reference. Non-fatal: an undefined module reference is left
	// verbatim and an undefined variable is replaced by the empty string,
	// each with a warning. The template resolver reports these as
	// template.Warning entries; this value is never returned from Run.
	ErrInvalidReference = errors.New("pipeline: invalid reference")

	// ErrCycle marks a module reference already on the resolution stack.
	// Non-fatal, same treatment as ErrInvalidReference.
	ErrCycle = errors.New("pipeline: reference cycle")

	// ErrRecursionLimit marks resolution exceeding the configured maximum
	// depth. Non-fatal.
	ErrRecursionLimit = errors.New("pipeline: recursion limit exceeded")

	// ErrScriptCompile, ErrScriptRuntime, and ErrScriptTimeout mark a
	// module script failure. Non-fatal per script: the module's rendered
	// content falls back to its raw Content with ${var} left verbatim,
	// and its POST_RESPONSE state entry (if any) is written with
	// Success=false.
	ErrScriptCompile = errors.New("pipeline: script compile error")
	ErrScriptRuntime = errors.New("pipeline: script runtime error")
	ErrScriptTimeout = errors.New("pipeline: script execution timed out")

	// ErrReflectionLimit marks a ctx.reflect/ctx.generate call beyond
	// execctx.MaxReflectionDepth. Non-fatal: the call returns
	// execctx.ReflectionFallback and the script continues.
	ErrReflectionLimit = errors.New("pipeline: reflection depth limit exceeded")

	// ErrProviderError marks a Stage 3 LLM call failure. Fatal to the
	// turn: Stage 4/5 are skipped and no assistant message is committed.
	// A ProviderError surfacing from inside an AI plugin (Stage 1/2/4/5
	// script execution) is contained instead — see execctx/plugins' own
	// fallback handling, which never returns this value.
	ErrProviderError = errors.New("pipeline: provider error")

	// ErrCancelled marks a first-class terminal state, never treated as a
	// failure: Run still returns it through the iterator's error slot so
	// range-over-func callers can tell CANCELLED apart from DONE, but
	// callers must not log it as an engine fault.
	ErrCancelled = errors.New("pipeline: turn cancelled")

	// ErrInvariantViolation marks an internal bug — e.g. an unknown
	// module.ExecutionContext value reaching the stage scheduler. Always
	// turn-aborting; always logged, since by definition no caller
	// decision led to it.
	ErrInvariantViolation = errors.New("pipeline: invariant violation")
)
