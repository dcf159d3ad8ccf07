package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/promptengine/pkg/execctx"
)

// conversationPlugins implements the §4.3 Conversation plugin family.
// Every plugin here reads the Context's frozen Messages snapshot taken
// once at stage start (§4.5); none of them mutate it or suspend.
func conversationPlugins() map[string]execctx.Func {
	return map[string]execctx.Func{
		"get_message_count":       getMessageCount,
		"get_recent_messages":     getRecentMessages,
		"get_message_range":       getMessageRange,
		"get_persona_info":        getPersonaInfo,
		"get_conversation_summary": getConversationSummary,
	}
}

func getMessageCount(_ context.Context, ec *execctx.Context, _ map[string]any) (any, error) {
	return len(ec.Messages), nil
}

func getRecentMessages(_ context.Context, ec *execctx.Context, args map[string]any) (any, error) {
	n := intArg(args, "n", 5)
	msgs := ec.Messages
	if n < 0 {
		n = 0
	}
	if n > len(msgs) {
		n = len(msgs)
	}
	return formatMessages(msgs[len(msgs)-n:]), nil
}

func getMessageRange(_ context.Context, ec *execctx.Context, args map[string]any) (any, error) {
	start := intArg(args, "start", 0)
	end := intArg(args, "end", len(ec.Messages))
	if start < 0 {
		start = 0
	}
	if end > len(ec.Messages) {
		end = len(ec.Messages)
	}
	if start > end {
		start = end
	}
	return formatMessages(ec.Messages[start:end]), nil
}

func getPersonaInfo(_ context.Context, ec *execctx.Context, _ map[string]any) (any, error) {
	return map[string]any{
		"id":   ec.Persona.ID,
		"name": ec.Persona.Name,
	}, nil
}

// getConversationSummary returns a plain-text concatenation of the
// snapshot messages. It never calls the LLM — a script calling this one
// plugin alone must not be flagged requires_ai_inference (§4.2).
func getConversationSummary(_ context.Context, ec *execctx.Context, _ map[string]any) (any, error) {
	return formatMessages(ec.Messages), nil
}

func formatMessages(msgs []execctx.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}
