package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrUnknownProvider     = errors.New("provider: unsupported provider")
	ErrMissingAPIKey       = errors.New("provider: no API key configured")
	ErrUpstreamUnreachable = errors.New("provider: failed to connect to AI provider")
	ErrMalformedResponse   = errors.New("provider: malformed upstream response")
)

// UpstreamError is returned when a provider answers with a non-2xx status.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider: %s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsClientError reports whether err was caused by the caller's input rather
// than by an upstream service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownProvider) || errors.Is(err, ErrMissingAPIKey)
}
