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

	"github.com/kadirpekel/promptengine/pkg/config"
	"github.com/kadirpekel/promptengine/pkg/httpclient"
)

// OpenAIProvider is a bearer-auth, text/event-stream family member,
// grounded on the teacher's pkg/llms/openai.go Responses-API client,
// narrowed to plain chat completion.
type OpenAIProvider struct {
	cfg        config.LLMConfig
	httpClient *httpclient.Client
	baseURL    string
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIChatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewOpenAIProvider builds a provider from cfg. Host defaults to the
// public OpenAI API when unset, so a self-hosted OpenAI-compatible
// gateway can be targeted by setting Host.
func NewOpenAIProvider(cfg config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmclient(openai): api_key is required")
	}
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &OpenAIProvider{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg, httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders)),
		baseURL:    baseURL,
	}, nil
}

func (p *OpenAIProvider) buildRequest(systemPrompt string, messages []Message, controls Controls, stream bool) openAIChatRequest {
	chatMessages := make([]openAIChatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		chatMessages = append(chatMessages, openAIChatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		chatMessages = append(chatMessages, openAIChatMessage{Role: m.Role, Content: m.Content})
	}

	temp := controls.Temperature
	if temp == 0 {
		temp = p.cfg.Temperature
	}
	maxTokens := controls.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	return openAIChatRequest{
		Model:       p.cfg.Model,
		Messages:    chatMessages,
		Stream:      stream,
		Temperature: temp,
		MaxTokens:   maxTokens,
		Stop:        controls.Stop,
	}
}

func (p *OpenAIProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", strings.TrimSpace(p.cfg.APIKey)))
	return req, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt string, messages []Message, controls Controls) (Completion, error) {
	reqBody := p.buildRequest(systemPrompt, messages, controls, false)

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("llmclient(openai): marshal request: %w", err)
	}

	httpReq, err := p.newRequest(ctx, jsonData)
	if err != nil {
		return Completion{}, fmt.Errorf("llmclient(openai): build request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("llmclient(openai): request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("llmclient(openai): read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("llmclient(openai): status %d: %s", resp.StatusCode, string(body))
	}

	var out openAIChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Completion{}, fmt.Errorf("llmclient(openai): decode response: %w", err)
	}
	if out.Error != nil {
		return Completion{}, fmt.Errorf("llmclient(openai): api error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return Completion{}, fmt.Errorf("llmclient(openai): empty choices in response")
	}

	return Completion{
		Content:      out.Choices[0].Message.Content,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, systemPrompt string, messages []Message, controls Controls) (<-chan Chunk, error) {
	reqBody := p.buildRequest(systemPrompt, messages, controls, true)

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llmclient(openai): marshal request: %w", err)
	}

	httpReq, err := p.newRequest(ctx, jsonData)
	if err != nil {
		return nil, fmt.Errorf("llmclient(openai): build request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient(openai): request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("llmclient(openai): status %d: %s", resp.StatusCode, string(body))
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		var inputTokens, outputTokens int
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					out <- Chunk{Err: fmt.Errorf("llmclient(openai): read stream: %w", err)}
				}
				return
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimSpace(line[len("data: "):])
			if string(data) == "[DONE]" {
				out <- Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}

			var chunk openAIChatStreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				inputTokens = chunk.Usage.PromptTokens
				outputTokens = chunk.Usage.CompletionTokens
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					out <- Chunk{DeltaContent: choice.Delta.Content}
				}
				if choice.FinishReason != nil {
					out <- Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("llmclient(openai): build request: %w", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", strings.TrimSpace(p.cfg.APIKey)))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient(openai): request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("llmclient(openai): status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llmclient(openai): decode response: %w", err)
	}

	models := make([]ModelInfo, len(out.Data))
	for i, m := range out.Data {
		models[i] = ModelInfo{Name: m.ID}
	}
	return models, nil
}

func (p *OpenAIProvider) TestConnection(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}
