package plugins

import (
	"context"
	"fmt"

	"github.com/kadirpekel/promptengine/pkg/execctx"
)

// aiPlugins implements the §4.3 AI plugin family: generate and reflect.
// Both bump the shared reflection-depth counter and both observe the
// owning Chat Session's cancellation flag before and after the
// underlying LLM call; exceeding MaxReflectionDepth degrades to a fixed
// fallback string rather than raising (§4.5, §7 ReflectionLimit).
func aiPlugins() map[string]execctx.Func {
	return map[string]execctx.Func{
		"generate": aiCall,
		"reflect":  aiCall,
	}
}

func aiCall(ctx context.Context, ec *execctx.Context, args map[string]any) (any, error) {
	depth, ok := ec.BeginReflection()
	defer ec.EndReflection()
	if !ok {
		ec.Warn(fmt.Sprintf("reflection depth %d exceeds limit %d", depth, execctx.MaxReflectionDepth))
		return execctx.ReflectionFallback, nil
	}

	if ec.Cancelled != nil && ec.Cancelled() {
		return execctx.ReflectionFallback, nil
	}

	instructions, _ := args["instructions"].(string)
	input, _ := args["input"].(string)
	role, _ := args["role"].(string)
	temperature := floatArg(args, "temperature", 0.7)
	maxTokens := intArg(args, "max_tokens", 512)

	if ec.Invoker == nil {
		return "", fmt.Errorf("no LLM invoker bound to execution context")
	}

	text, err := ec.Invoker.Invoke(ctx, ec.SystemPrompt, instructions, input, role, temperature, maxTokens)
	if err != nil {
		// ProviderError within an AI plugin: returned as a fallback, script continues (§7).
		ec.Warn("provider error during ai plugin call: " + err.Error())
		return execctx.ReflectionFallback, nil
	}

	if ec.Cancelled != nil && ec.Cancelled() {
		return execctx.ReflectionFallback, nil
	}

	return text, nil
}

func floatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
