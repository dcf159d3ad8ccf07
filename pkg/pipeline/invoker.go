package pipeline

import (
	"context"
	"fmt"

	"github.com/kadirpekel/promptengine/pkg/execctx"
	"github.com/kadirpekel/promptengine/pkg/llmclient"
)

var _ execctx.Invoker = (*llmInvoker)(nil)

// llmInvoker adapts a resolved llmclient.Provider to execctx.Invoker, so
// the AI plugin family (pkg/plugins ai.go) can call back into C8 without
// pkg/execctx importing pkg/llmclient (§4.5's stated layering).
type llmInvoker struct {
	provider llmclient.Provider
}

// Invoke builds a single-message completion request: role defaults to
// "user", and instructions/input are joined into that message's content
// since the plugin-facing ctx.generate/ctx.reflect surface (§4.3) only
// distinguishes them for script authors, not for the wire call itself.
func (inv *llmInvoker) Invoke(ctx context.Context, systemPrompt, instructions, input, role string, temperature float64, maxTokens int) (string, error) {
	if role == "" {
		role = "user"
	}
	content := instructions
	if input != "" {
		if content != "" {
			content += "\n\n"
		}
		content += input
	}

	completion, err := inv.provider.Complete(ctx, systemPrompt, []llmclient.Message{{Role: role, Content: content}}, llmclient.Controls{
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return completion.Content, nil
}
