package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/cognidesk/cognidesk/pkg/httpclient"
)

// Config configures the openai-compatible chat backend.
type Config struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Model       string        `yaml:"model,omitempty"`
	Temperature float64       `yaml:"temperature,omitempty"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	MaxRetries  int           `yaml:"max_retries,omitempty"`

	// ContextBudget caps prompt tokens; older history is trimmed to fit
	// (default: 8000).
	ContextBudget int `yaml:"context_budget,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = 8000
	}
}

// OpenAIProvider talks to any /chat/completions compatible endpoint.
type OpenAIProvider struct {
	cfg     Config
	client  *httpclient.Client
	encoder *tiktoken.Tiktoken
}

// NewOpenAIProvider creates the provider. The token encoder falls back to
// cl100k_base when the model is unknown to tiktoken.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	cfg.SetDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api_key is required")
	}

	encoder, err := tiktoken.EncodingForModel(cfg.Model)
	if err != nil {
		encoder, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("llm: load token encoding: %w", err)
		}
	}

	return &OpenAIProvider{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
		encoder: encoder,
	}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete runs one chat completion, trimming history to the token budget.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = p.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	messages := p.trimToBudget(req.Messages)

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("llm: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty response")
	}

	return &Response{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		PromptTokens: parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// trimToBudget drops the oldest non-system messages until the prompt fits
// the context budget.
func (p *OpenAIProvider) trimToBudget(messages []Message) []Message {
	total := 0
	counts := make([]int, len(messages))
	for i, msg := range messages {
		counts[i] = len(p.encoder.Encode(msg.Content, nil, nil)) + 4
		total += counts[i]
	}
	if total <= p.cfg.ContextBudget {
		return messages
	}

	kept := append([]Message(nil), messages...)
	for i := 0; i < len(kept) && total > p.cfg.ContextBudget; {
		if kept[i].Role == "system" {
			i++
			continue
		}
		total -= counts[i]
		kept = append(kept[:i], kept[i+1:]...)
		counts = append(counts[:i], counts[i+1:]...)
	}
	return kept
}

// CountTokens reports the encoder's token count for a text.
func (p *OpenAIProvider) CountTokens(text string) int {
	return len(p.encoder.Encode(text, nil, nil))
}

func (p *OpenAIProvider) ModelName() string { return p.cfg.Model }
func (p *OpenAIProvider) Close() error      { return nil }

var _ Provider = (*OpenAIProvider)(nil)
