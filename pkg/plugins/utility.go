package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/kadirpekel/promptengine/pkg/execctx"
)

// utilityPlugins implements the §4.3 Utility plugin family: JSON
// round-trips, string join, word count, random choice. None of these
// suspend or touch shared state beyond the Context they're called with.
func utilityPlugins() map[string]execctx.Func {
	return map[string]execctx.Func{
		"json_encode": jsonEncode,
		"json_decode": jsonDecode,
		"join":        join,
		"word_count":  wordCount,
		"random_choice": randomChoice,
	}
}

func jsonEncode(_ context.Context, _ *execctx.Context, args map[string]any) (any, error) {
	b, err := json.Marshal(args["value"])
	if err != nil {
		return nil, fmt.Errorf("json_encode: %w", err)
	}
	return string(b), nil
}

func jsonDecode(_ context.Context, _ *execctx.Context, args map[string]any) (any, error) {
	text, _ := args["text"].(string)
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("json_decode: %w", err)
	}
	return v, nil
}

func join(_ context.Context, _ *execctx.Context, args map[string]any) (any, error) {
	sep, _ := args["sep"].(string)
	items, _ := args["items"].([]any)
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprint(it))
	}
	return strings.Join(parts, sep), nil
}

func wordCount(_ context.Context, _ *execctx.Context, args map[string]any) (any, error) {
	text, _ := args["text"].(string)
	return len(strings.Fields(text)), nil
}

func randomChoice(_ context.Context, _ *execctx.Context, args map[string]any) (any, error) {
	items, _ := args["items"].([]any)
	if len(items) == 0 {
		return nil, nil
	}
	return items[rand.Intn(len(items))], nil
}
