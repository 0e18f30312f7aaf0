// Package provider relays a system/user prompt pair to one of a closed set
// of text-generation services and returns the generated text.
package provider

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// maxResponseBytes bounds how much of an upstream body is read.
	maxResponseBytes = 8 << 20

	// maxErrorBodyBytes bounds the upstream body carried in an UpstreamError.
	maxErrorBodyBytes = 64 << 10
)

// Request is a single generation request.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	APIKey       string
}

// Provider is one upstream text-generation service.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// NewHTTPClient returns a client with an overall request timeout and a
// separate connect timeout.
func NewHTTPClient(timeout, connectTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Send performs httpReq once and returns the response body of a 2xx reply.
// Transport failures wrap ErrUpstreamUnreachable; any other status becomes
// an *UpstreamError.
func Send(client *http.Client, name string, httpReq *http.Request) ([]byte, error) {
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnreachable, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read body for error context, but don't fail if we can't.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &UpstreamError{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrUpstreamUnreachable, name, err)
	}
	return body, nil
}
