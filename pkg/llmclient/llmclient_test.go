package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/promptengine/pkg/config"
)

func TestNewRegistry_ResolveUnknownProviderErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("missing")
	assert.Error(t, err)
}

func TestCreateFromConfig_UnsupportedTypeErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateFromConfig(config.LLMConfig{Name: "x", Type: "anthropic"})
	assert.Error(t, err)
}

func TestCreateFromConfig_EmptyNameErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateFromConfig(config.LLMConfig{Type: "ollama"})
	assert.Error(t, err)
}

func TestCreateFromConfig_RegistersUnderConfiguredName(t *testing.T) {
	r := NewRegistry()
	p, err := r.CreateFromConfig(config.LLMConfig{Name: "local", Type: "ollama", Host: "http://example.invalid"})
	require.NoError(t, err)

	resolved, err := r.Resolve("local")
	require.NoError(t, err)
	assert.Same(t, p, resolved)
}

func TestOllamaProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Message:         ollamaMessage{Role: "assistant", Content: "hi there"},
			Done:            true,
			PromptEvalCount: 5,
			EvalCount:       2,
		})
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(config.LLMConfig{Name: "local", Type: "ollama", Host: srv.URL, Model: "llama3"})
	require.NoError(t, err)

	completion, err := p.Complete(context.Background(), "be helpful", []Message{{Role: "user", Content: "hello"}}, Controls{})
	require.NoError(t, err)
	assert.Equal(t, "hi there", completion.Content)
	assert.Equal(t, 5, completion.InputTokens)
	assert.Equal(t, 2, completion.OutputTokens)
}

func TestOllamaProvider_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		enc := json.NewEncoder(w)
		_ = enc.Encode(ollamaResponse{Message: ollamaMessage{Content: "Hel"}})
		flusher.Flush()
		_ = enc.Encode(ollamaResponse{Message: ollamaMessage{Content: "lo"}})
		flusher.Flush()
		_ = enc.Encode(ollamaResponse{Done: true, PromptEvalCount: 1, EvalCount: 1})
		flusher.Flush()
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(config.LLMConfig{Name: "local", Type: "ollama", Host: srv.URL, Model: "llama3"})
	require.NoError(t, err)

	chunks, err := p.Stream(context.Background(), "", nil, Controls{})
	require.NoError(t, err)

	var content string
	var done bool
	for c := range chunks {
		require.NoError(t, c.Err)
		content += c.DeltaContent
		if c.Done {
			done = true
		}
	}
	assert.Equal(t, "Hello", content)
	assert.True(t, done)
}

func TestOllamaProvider_CompleteNonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(config.LLMConfig{Name: "local", Type: "ollama", Host: srv.URL, MaxRetries: 1})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "", nil, Controls{})
	assert.Error(t, err)
}

func TestOpenAIProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.LLMConfig{Name: "oai", Type: "openai"})
	assert.Error(t, err)
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "system", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(openAIChatResponse{
			Choices: []struct {
				Message openAIChatMessage `json:"message"`
			}{{Message: openAIChatMessage{Role: "assistant", Content: "answer"}}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.LLMConfig{Name: "oai", Type: "openai", APIKey: "sk-test", Host: srv.URL, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	completion, err := p.Complete(context.Background(), "system prompt", []Message{{Role: "user", Content: "hi"}}, Controls{})
	require.NoError(t, err)
	assert.Equal(t, "answer", completion.Content)
}

func TestOpenAIProvider_CompleteAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openAIChatResponse{}
		resp.Error = &struct {
			Message string `json:"message"`
		}{Message: "rate limited"}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.LLMConfig{Name: "oai", Type: "openai", APIKey: "sk-test", Host: srv.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "", nil, Controls{})
	assert.ErrorContains(t, err, "rate limited")
}

func TestOpenAIProvider_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.LLMConfig{Name: "oai", Type: "openai", APIKey: "sk-test", Host: srv.URL})
	require.NoError(t, err)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-4o", models[0].Name)
}
