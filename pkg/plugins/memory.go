package plugins

import (
	"context"
	"log/slog"

	"github.com/kadirpekel/promptengine/pkg/execctx"
)

// memoryPlugins implements the §4.3 Memory plugin family: read/write on
// the invoking script's own variables map, plus a log passthrough. These
// are the only plugins that mutate Context state; everything they touch
// is scoped to the single script invocation that owns this Context.
func memoryPlugins() map[string]execctx.Func {
	return map[string]execctx.Func{
		"get_variable": getVariable,
		"set_variable": setVariable,
		"log":          scriptLog,
	}
}

func getVariable(_ context.Context, ec *execctx.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	return ec.GetVariable(name, args["default"]), nil
}

func setVariable(_ context.Context, ec *execctx.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	ec.SetVariable(name, args["value"])
	return nil, nil
}

func scriptLog(_ context.Context, ec *execctx.Context, args map[string]any) (any, error) {
	text, _ := args["text"].(string)
	slog.Debug("module script log", "conversation_id", ec.ConversationID, "persona_id", ec.PersonaID, "message", text)
	return nil, nil
}
