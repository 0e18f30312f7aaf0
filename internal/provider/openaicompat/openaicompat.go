// Package openaicompat talks to services exposing the OpenAI chat
// completions API, such as OpenAI itself and DeepSeek.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goodtune/promptrelay/internal/provider"
)

const defaultTemperature = 0.7

// Provider is an OpenAI-compatible chat completions adapter.
type Provider struct {
	name        string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithModel sets the model requested from the service.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL, model string, opts ...Option) *Provider {
	p := &Provider{
		name:        name,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: defaultTemperature,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(opts ...Option) *Provider {
	return New("openai", "https://api.openai.com/v1", "gpt-4o-mini", opts...)
}

// NewDeepSeek creates a provider for DeepSeek.
func NewDeepSeek(opts ...Option) *Provider {
	return New("deepseek", "https://api.deepseek.com", "deepseek-chat", opts...)
}

func (p *Provider) Name() string { return p.name }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	Stream      bool         `json:"stream"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the subset of the chat completion response we read.
type apiResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *Provider) Generate(ctx context.Context, req provider.Request) (string, error) {
	body, err := json.Marshal(apiRequest{
		Model: p.model,
		Messages: []apiMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: p.temperature,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	data, err := provider.Send(p.httpClient, p.name, httpReq)
	if err != nil {
		return "", err
	}

	var resp apiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: %s: decode response: %v", provider.ErrMalformedResponse, p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %s: empty choices in response", provider.ErrMalformedResponse, p.name)
	}
	content := resp.Choices[0].Message.Content
	if content == nil {
		return "", fmt.Errorf("%w: %s: missing message content", provider.ErrMalformedResponse, p.name)
	}

	return *content, nil
}
