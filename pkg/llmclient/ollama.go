package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/promptengine/pkg/config"
	"github.com/kadirpekel/promptengine/pkg/httpclient"
)

// OllamaProvider is a local-style provider: host URL + model name, JSON
// request body, newline-delimited JSON streaming. Grounded on the
// teacher's pkg/llms/ollama.go, narrowed to plain chat completion (no
// tool calling, no structured-output schema injection).
type OllamaProvider struct {
	cfg        config.LLMConfig
	httpClient *httpclient.Client
	baseURL    string
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllamaProvider builds a provider from cfg. Host defaults to the
// standard local Ollama address when unset.
func NewOllamaProvider(cfg config.LLMConfig) (*OllamaProvider, error) {
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &OllamaProvider{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg),
		baseURL:    baseURL,
	}, nil
}

func (p *OllamaProvider) buildRequest(systemPrompt string, messages []Message, controls Controls, stream bool) ollamaRequest {
	ollamaMessages := make([]ollamaMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		ollamaMessages = append(ollamaMessages, ollamaMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		ollamaMessages = append(ollamaMessages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	req := ollamaRequest{Model: p.cfg.Model, Messages: ollamaMessages, Stream: stream}

	temp := controls.Temperature
	if temp == 0 {
		temp = p.cfg.Temperature
	}
	maxTokens := controls.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if temp > 0 || maxTokens > 0 || len(controls.Stop) > 0 {
		req.Options = &ollamaOptions{Temperature: temp, NumPredict: maxTokens, Stop: controls.Stop}
	}
	return req
}

func (p *OllamaProvider) Complete(ctx context.Context, systemPrompt string, messages []Message, controls Controls) (Completion, error) {
	req := p.buildRequest(systemPrompt, messages, controls, false)

	jsonData, err := json.Marshal(req)
	if err != nil {
		return Completion{}, fmt.Errorf("llmclient(ollama): marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return Completion{}, fmt.Errorf("llmclient(ollama): build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("llmclient(ollama): request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("llmclient(ollama): read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("llmclient(ollama): status %d: %s", resp.StatusCode, string(body))
	}

	var out ollamaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Completion{}, fmt.Errorf("llmclient(ollama): decode response: %w", err)
	}
	if out.Error != "" {
		return Completion{}, fmt.Errorf("llmclient(ollama): api error: %s", out.Error)
	}

	return Completion{
		Content:      out.Message.Content,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, systemPrompt string, messages []Message, controls Controls) (<-chan Chunk, error) {
	req := p.buildRequest(systemPrompt, messages, controls, true)

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llmclient(ollama): marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("llmclient(ollama): build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient(ollama): request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("llmclient(ollama): status %d: %s", resp.StatusCode, string(body))
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					out <- Chunk{Err: fmt.Errorf("llmclient(ollama): read stream: %w", err)}
				}
				return
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			var chunk ollamaResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				out <- Chunk{Err: fmt.Errorf("llmclient(ollama): api error: %s", chunk.Error)}
				return
			}
			if chunk.Message.Content != "" {
				out <- Chunk{DeltaContent: chunk.Message.Content}
			}
			if chunk.Done {
				out <- Chunk{Done: true, InputTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount}
				return
			}
		}
	}()
	return out, nil
}

func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("llmclient(ollama): build request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient(ollama): request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("llmclient(ollama): status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llmclient(ollama): decode response: %w", err)
	}

	models := make([]ModelInfo, len(out.Models))
	for i, m := range out.Models {
		models[i] = ModelInfo{Name: m.Name}
	}
	return models, nil
}

func (p *OllamaProvider) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := p.ListModels(ctx)
	return err
}
