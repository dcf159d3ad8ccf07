// Package script implements the Script Analyzer (C2) and Script Sandbox
// (C4). Both are built on github.com/yuin/gopher-lua: user module
// scripts are a restricted Lua dialect rather than the source system's
// sandboxed-Python dialect (see DESIGN.md for why Lua was chosen — its
// lack of ambient file/network/os access out of the box, and gopher-lua's
// pure-Go, no-cgo VM, make the §4.4 restricted-compile-and-execute
// contract straightforward to build without bolting on a separate
// sandboxing layer).
package script

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/promptengine/pkg/plugins"
	luaast "github.com/yuin/gopher-lua/ast"
	luaparse "github.com/yuin/gopher-lua/parse"
)

// Analysis is the §4.2 analyze() result.
type Analysis struct {
	RequiresAI      bool
	DetectedPlugins []string
	SyntaxOK        bool
	Errors          []string
}

// Analyze parses script text into a Lua AST and walks every ctx.<name>(...)
// call, setting RequiresAI when name is in the AI-calling plugin set
// (pkg/plugins.AICallingPlugins, at minimum reflect and generate).
// Analyze never panics or returns an error on malformed input (§4.2
// "must be deterministic and total"); a parse failure is reported via
// SyntaxOK=false and Errors, with RequiresAI left false.
func Analyze(script string) Analysis {
	a := Analysis{SyntaxOK: true}

	chunk, err := parse(script)
	if err != nil {
		a.SyntaxOK = false
		a.Errors = append(a.Errors, err.Error())
		return a
	}

	detected := make(map[string]bool)
	walkStmts(chunk, func(name string) {
		detected[name] = true
	})

	a.DetectedPlugins = make([]string, 0, len(detected))
	for name := range detected {
		a.DetectedPlugins = append(a.DetectedPlugins, name)
		if plugins.AICallingPlugins[name] {
			a.RequiresAI = true
		}
	}

	return a
}

func parse(script string) (chunk []luaast.Stmt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script analysis panic: %v", r)
		}
	}()
	return luaparse.Parse(strings.NewReader(script), "module")
}

// ctxCallback receives the plugin name whenever a ctx.<name>(...) call
// site is found anywhere in the script.
type ctxCallback func(name string)

func walkStmts(stmts []luaast.Stmt, cb ctxCallback) {
	for _, s := range stmts {
		walkStmt(s, cb)
	}
}

func walkStmt(s luaast.Stmt, cb ctxCallback) {
	switch st := s.(type) {
	case *luaast.FuncCallStmt:
		walkExpr(st.Expr, cb)
	case *luaast.LocalAssignStmt:
		walkExprs(st.Exprs, cb)
	case *luaast.AssignStmt:
		walkExprs(st.Lhs, cb)
		walkExprs(st.Rhs, cb)
	case *luaast.DoBlockStmt:
		walkStmts(st.Stmts, cb)
	case *luaast.WhileStmt:
		walkExpr(st.Condition, cb)
		walkStmts(st.Stmts, cb)
	case *luaast.RepeatStmt:
		walkExpr(st.Condition, cb)
		walkStmts(st.Stmts, cb)
	case *luaast.IfStmt:
		walkExpr(st.Condition, cb)
		walkStmts(st.Then, cb)
		walkStmts(st.Else, cb)
	case *luaast.NumForStmt:
		walkExpr(st.Init, cb)
		walkExpr(st.Limit, cb)
		if st.Step != nil {
			walkExpr(st.Step, cb)
		}
		walkStmts(st.Stmts, cb)
	case *luaast.GenericForStmt:
		walkExprs(st.Exprs, cb)
		walkStmts(st.Stmts, cb)
	case *luaast.FunctionStmt:
		if st.Func != nil {
			walkStmts(st.Func.Stmts, cb)
		}
	case *luaast.LocalFunctionStmt:
		if st.Func != nil {
			walkStmts(st.Func.Stmts, cb)
		}
	case *luaast.ReturnStmt:
		walkExprs(st.Exprs, cb)
	}
}

func walkExprs(exprs []luaast.Expr, cb ctxCallback) {
	for _, e := range exprs {
		walkExpr(e, cb)
	}
}

func walkExpr(e luaast.Expr, cb ctxCallback) {
	if e == nil {
		return
	}
	switch ex := e.(type) {
	case *luaast.FuncCallExpr:
		if name, ok := ctxPluginName(ex); ok {
			cb(name)
		}
		walkExpr(ex.Func, cb)
		walkExpr(ex.Receiver, cb)
		walkExprs(ex.Args, cb)
	case *luaast.AttrGetExpr:
		walkExpr(ex.Object, cb)
		walkExpr(ex.Key, cb)
	case *luaast.TableExpr:
		for _, f := range ex.Fields {
			if f.Key != nil {
				walkExpr(f.Key, cb)
			}
			walkExpr(f.Value, cb)
		}
	case *luaast.BinopExpr:
		walkExpr(ex.Lhs, cb)
		walkExpr(ex.Rhs, cb)
	case *luaast.UnopExpr:
		walkExpr(ex.Expr, cb)
	case *luaast.StringConcatExpr:
		walkExpr(ex.Lhs, cb)
		walkExpr(ex.Rhs, cb)
	case *luaast.LogicalOpExpr:
		walkExpr(ex.Lhs, cb)
		walkExpr(ex.Rhs, cb)
	case *luaast.FunctionExpr:
		if ex.Func != nil {
			walkStmts(ex.Func.Stmts, cb)
		} else {
			walkStmts(ex.Stmts, cb)
		}
	}
}

// ctxPluginName reports the plugin name of a direct ctx.<name>(...) call
// site: Func is an attribute access on an identifier literally named
// "ctx" with a string key.
func ctxPluginName(call *luaast.FuncCallExpr) (string, bool) {
	attr, ok := call.Func.(*luaast.AttrGetExpr)
	if !ok {
		return "", false
	}
	ident, ok := attr.Object.(*luaast.IdentExpr)
	if !ok || ident.Value != "ctx" {
		return "", false
	}
	key, ok := attr.Key.(*luaast.StringExpr)
	if !ok {
		return "", false
	}
	return key.Value, true
}
