// Package gemini talks to the Google Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goodtune/promptrelay/internal/provider"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-flash"
)

// Provider is the Gemini API adapter.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithModel sets the model requested from the service.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "gemini" }

// Gemini API types.
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text *string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate sends the system and user prompts as a single text part
// separated by a blank line; the API key travels as a query parameter.
func (p *Provider) Generate(ctx context.Context, req provider.Request) (string, error) {
	prompt := req.SystemPrompt + "\n\n" + req.UserPrompt
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: &prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(p.model), url.QueryEscape(req.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	data, err := provider.Send(p.httpClient, p.Name(), httpReq)
	if err != nil {
		return "", redactKey(err, req.APIKey)
	}

	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: gemini: decode response: %v", provider.ErrMalformedResponse, err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: gemini: empty candidates in response", provider.ErrMalformedResponse)
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == nil {
		return "", fmt.Errorf("%w: gemini: missing text part", provider.ErrMalformedResponse)
	}

	return *parts[0].Text, nil
}

// redactKey strips the API key from transport errors, which quote the
// request URL.
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), url.QueryEscape(key)) {
		return err
	}
	return &redactedError{err: err, msg: strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED")}
}

type redactedError struct {
	err error
	msg string
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
