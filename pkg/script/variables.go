package script

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	luaast "github.com/yuin/gopher-lua/ast"
)

// topLevelNames collects every name assigned at the top level of a
// script, whether via `local x = ...` or a bare `x = ...` (a plain
// global assignment in Lua). Names inside nested blocks (if/for/while
// bodies, function bodies) are not top-level and are excluded, matching
// §4.4's "top-level ... name defined in the script's local scope".
// Private names (leading underscore) and "ctx" itself are excluded.
func topLevelNames(chunk []luaast.Stmt) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n == "" || n == "ctx" || strings.HasPrefix(n, "_") || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}

	for _, stmt := range chunk {
		switch st := stmt.(type) {
		case *luaast.LocalAssignStmt:
			for _, n := range st.Names {
				add(n)
			}
		case *luaast.AssignStmt:
			for _, lhs := range st.Lhs {
				if ident, ok := lhs.(*luaast.IdentExpr); ok {
					add(ident.Value)
				}
			}
		}
	}

	return names
}

// returnStatement synthesizes `return {name1 = name1, ...}`, appended to
// the end of the original script so it executes in the same top-level
// chunk and can still see the original script's top-level locals
// (a Lua chunk's locals stay in scope until the end of the chunk).
func returnStatement(names []string) string {
	if len(names) == 0 {
		return "return {}"
	}
	var b strings.Builder
	b.WriteString("return {")
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(n)
		b.WriteString(" = ")
		b.WriteString(n)
	}
	b.WriteString("}")
	return b.String()
}

// extractVariables converts the table returned by the synthesized return
// statement into a plain Go map, skipping values gopher-lua cannot
// represent as simple JSON (functions, userdata, threads) with a warning
// per §4.4 ("non-serializable values are skipped with a warning").
func extractVariables(v lua.LValue) (map[string]any, []string) {
	vars := make(map[string]any)
	var warnings []string

	tbl, ok := v.(*lua.LTable)
	if !ok {
		return vars, warnings
	}

	tbl.ForEach(func(k, val lua.LValue) {
		name := k.String()
		goVal, ok := luaToJSON(val)
		if !ok {
			warnings = append(warnings, "skipped non-serializable variable: "+name)
			return
		}
		vars[name] = goVal
	})

	return vars, warnings
}

// luaToJSON converts a Lua value into a plain Go value built only from
// the JSON-serializable kinds: nil, bool, float64, string, []any, and
// map[string]any. Functions, userdata, threads, and channels return
// ok=false.
func luaToJSON(v lua.LValue) (any, bool) {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, true
	case lua.LBool:
		return bool(val), true
	case lua.LNumber:
		return float64(val), true
	case lua.LString:
		return string(val), true
	case *lua.LTable:
		return luaTableToJSON(val)
	default:
		return nil, false
	}
}

// luaTableToJSON distinguishes a Lua array-like table (1..n, no gaps,
// no other keys) from a map-like table, mirroring how encoding/json
// would represent each.
func luaTableToJSON(tbl *lua.LTable) (any, bool) {
	n := tbl.Len()
	isArray := n > 0

	arr := make([]any, 0, n)
	if isArray {
		for i := 1; i <= n; i++ {
			elem, ok := luaToJSON(tbl.RawGetInt(i))
			if !ok {
				isArray = false
				break
			}
			arr = append(arr, elem)
		}
	}

	extraKeys := false
	tbl.ForEach(func(k, _ lua.LValue) {
		if num, ok := k.(lua.LNumber); ok {
			if int(num) >= 1 && int(num) <= n && float64(int(num)) == float64(num) {
				return
			}
		}
		extraKeys = true
	})

	if isArray && !extraKeys {
		return arr, true
	}

	m := make(map[string]any)
	ok := true
	tbl.ForEach(func(k, val lua.LValue) {
		if !ok {
			return
		}
		goVal, valOK := luaToJSON(val)
		if !valOK {
			ok = false
			return
		}
		m[k.String()] = goVal
	})
	if !ok {
		return nil, false
	}
	return m, true
}
