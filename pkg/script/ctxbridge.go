package script

import (
	"context"
	"strings"

	"github.com/kadirpekel/promptengine/pkg/execctx"
	lua "github.com/yuin/gopher-lua"
)

// paramNames maps each built-in plugin to the positional-argument order
// a script uses when calling ctx.<name>(a, b, c) — Lua has no native
// keyword arguments, so this table is how positional Lua call sites get
// translated into the keyword-style map execctx.Func expects. Plugins
// not listed here take no positional arguments beyond the hidden ctx.
var paramNames = map[string][]string{
	"generate":            {"instructions", "input", "role", "temperature", "max_tokens"},
	"reflect":             {"instructions", "input", "role"},
	"get_recent_messages": {"n"},
	"get_message_range":   {"start", "end"},
	"get_variable":        {"name", "default"},
	"set_variable":        {"name", "value"},
	"log":                 {"text"},
	"get_current_time":    {"fmt"},
	"json_encode":         {"value"},
	"json_decode":         {"text"},
	"join":                {"items", "sep"},
	"word_count":          {"text"},
	"random_choice":       {"items"},
}

// newCtxTable builds the Lua value bound to the global name "ctx". Its
// __index metamethod is the whitelist boundary described in §4.4:
// any key not naming a registered plugin, or any key with a leading
// underscore, is rejected rather than falling through to a real table
// lookup.
func newCtxTable(L *lua.LState, goCtx context.Context, ec *execctx.Context) *lua.LTable {
	tbl := L.NewTable()
	mt := L.NewTable()

	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(2)
		if strings.HasPrefix(name, "_") {
			L.RaiseError("access to private name %q is not allowed on ctx", name)
			return 0
		}
		if _, ok := ec.Plugins.Resolve(name); !ok {
			L.RaiseError("unknown plugin: ctx.%s", name)
			return 0
		}
		L.Push(L.NewFunction(pluginBridge(goCtx, ec, name)))
		return 1
	}))

	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("ctx is read-only")
		return 0
	}))

	L.SetMetatable(tbl, mt)
	return tbl
}

// pluginBridge returns the Go function invoked whenever a script calls
// ctx.<name>(...). It converts the Lua call arguments into the keyword
// map the plugin expects, invokes it through the Execution Context (so
// the plugin lookup indirection and cancellation/reflection bookkeeping
// in ec.Call is exercised uniformly, not bypassed here), and converts
// the single Go return value back into a Lua value.
func pluginBridge(goCtx context.Context, ec *execctx.Context, name string) lua.LGFunction {
	names := paramNames[name]
	return func(L *lua.LState) int {
		args := make(map[string]any, len(names))
		for i, argName := range names {
			idx := i + 1
			if idx > L.GetTop() {
				break
			}
			args[argName] = luaToGo(L.Get(idx))
		}

		ret, err := ec.Call(goCtx, name, args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}

		L.Push(goToLua(L, ret))
		return 1
	}
}

// luaToGo converts a Lua argument value into a plain Go value for
// passing into a plugin's args map. Unlike luaToJSON (variables.go),
// this never fails closed — an unrepresentable argument becomes nil
// rather than aborting the call, since a plugin ignoring an
// unrecognized argument is preferable to the whole script erroring.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if goVal, ok := luaToJSON(val); ok {
			return goVal
		}
		return nil
	default:
		return nil
	}
}

// goToLua converts a plugin's Go return value back into a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}
