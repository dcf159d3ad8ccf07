package script

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/promptengine/pkg/execctx"
	lua "github.com/yuin/gopher-lua"
)

// Result is the §4.4 execute() outcome.
type Result struct {
	Variables  map[string]any
	Success    bool
	Error      string
	DurationMs int64
	Warnings   []string
}

// Sandbox compiles and executes module scripts under restricted Lua
// semantics. Each script runs on its own goroutine (§9 option b) with its
// Lua state bound to the call's context via L.SetContext, so cancellation
// or the wall-clock timeout stops the VM between instructions; a plugin
// call already in progress is not interrupted. Execute returns as soon as
// the context ends, without waiting for that goroutine to finish.
type Sandbox struct {
	Timeout time.Duration
}

// NewSandbox builds a Sandbox with the given default wall-clock timeout
// (administrator-overridable per §4.4; callers pass a per-call override
// via ExecuteWithTimeout when a module's own config differs).
func NewSandbox(timeout time.Duration) *Sandbox {
	return &Sandbox{Timeout: timeout}
}

// Execute runs scriptSrc with ctx bound as the Lua global "ctx". It never
// panics: compile errors, runtime errors, and timeouts are all reported
// as Result.Success=false (§4.4 failure semantics).
func (s *Sandbox) Execute(goCtx context.Context, scriptSrc string, ec *execctx.Context) Result {
	return s.ExecuteWithTimeout(goCtx, scriptSrc, ec, s.Timeout)
}

// ExecuteWithTimeout is Execute with an explicit timeout override.
func (s *Sandbox) ExecuteWithTimeout(goCtx context.Context, scriptSrc string, ec *execctx.Context, timeout time.Duration) Result {
	start := time.Now()

	if goCtx.Err() != nil {
		return Result{Success: false, Error: "cancelled before script entry", DurationMs: 0}
	}

	runCtx, cancel := context.WithTimeout(goCtx, timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- runScript(runCtx, scriptSrc, ec)
	}()

	select {
	case r := <-resultCh:
		r.DurationMs = time.Since(start).Milliseconds()
		return r
	case <-runCtx.Done():
		return Result{
			Success:    false,
			Error:      "script execution timed out",
			DurationMs: time.Since(start).Milliseconds(),
		}
	}
}

func runScript(goCtx context.Context, scriptSrc string, ec *execctx.Context) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Success: false, Error: fmt.Sprintf("script panic: %v", r)}
		}
	}()

	chunk, err := parse(scriptSrc)
	if err != nil {
		return Result{Success: false, Error: "compile error: " + err.Error()}
	}

	topLevel := topLevelNames(chunk)
	synthesized := scriptSrc + "\n" + returnStatement(topLevel)

	L := newRestrictedState()
	defer L.Close()
	L.SetContext(goCtx)

	L.SetGlobal("ctx", newCtxTable(L, goCtx, ec))

	fn, err := L.LoadString(synthesized)
	if err != nil {
		return Result{Success: false, Error: "compile error: " + err.Error()}
	}

	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return Result{Success: false, Error: "runtime error: " + err.Error(), Warnings: ec.Warnings()}
	}

	ret := L.Get(-1)
	L.Pop(1)

	vars, warnings := extractVariables(ret)
	warnings = append(warnings, ec.Warnings()...)

	// §3's Execution Context "variables map (populated by plugin
	// set_variable calls)" is the authoritative persistence path; the
	// top-level-name extraction above is a convenience so a script that
	// never calls ctx.set_variable still gets its obvious top-level
	// bindings persisted. Where both name the same key, the explicit
	// ctx.set_variable call wins.
	for k, v := range ec.Variables() {
		vars[k] = v
	}

	return Result{
		Variables: vars,
		Success:   true,
		Warnings:  warnings,
	}
}

// newRestrictedState opens only the libraries §4.4 allows: base (for
// control flow and basic functions, minus its file- and module-loading
// functions dofile, loadfile, require and module, which are removed
// below), math, string, and table. Date/time and JSON are exposed exclusively through the ctx
// façade (pkg/plugins time and utility families) rather than Lua's own
// os/io libraries, which are never opened — this is the concrete
// reading of "date/time, math, basic JSON, basic collection types" for
// a Lua-hosted sandbox: no os.*, no io.*, no package/require, no debug.
func newRestrictedState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})
	for _, open := range []lua.LGFunction{
		lua.OpenBase,
		lua.OpenMath,
		lua.OpenString,
		lua.OpenTable,
	} {
		open(L)
	}
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	guardPrivateGlobals(L)
	return L
}

// guardPrivateGlobals enforces "forbid attribute access to private names
// (leading underscore)" (§4.4) at the global-table level; the ctx façade
// enforces its own whitelist independently in newCtxTable.
func guardPrivateGlobals(L *lua.LState) {
	globals := L.Get(lua.GlobalsIndex).(*lua.LTable)
	mt := L.NewTable()
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if strings.HasPrefix(key, "_") {
			L.RaiseError("assignment to private name %q is not allowed", key)
			return 0
		}
		L.RawSet(globals, lua.LString(key), L.Get(3))
		return 0
	}))
	L.SetMetatable(globals, mt)
}

