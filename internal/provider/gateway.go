package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goodtune/promptrelay/internal/metrics"
	"github.com/rs/zerolog"
)

type registration struct {
	provider Provider
	keyEnv   string
}

// Gateway dispatches generation requests to registered providers by name
// and resolves the API key each call uses.
type Gateway struct {
	providers map[string]registration
	lookupEnv func(string) (string, bool)
	logger    zerolog.Logger
}

// Option configures the gateway.
type Option func(*Gateway)

// WithLookupEnv replaces the environment lookup used for server-side keys.
func WithLookupEnv(f func(string) (string, bool)) Option {
	return func(g *Gateway) { g.lookupEnv = f }
}

// WithLogger sets the gateway logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// NewGateway creates an empty gateway.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		providers: make(map[string]registration),
		lookupEnv: os.LookupEnv,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "provider-gateway").Logger()
	return g
}

// Register adds p under its lower-cased name. keyEnv names the environment
// variable consulted when a request carries no key of its own.
func (g *Gateway) Register(p Provider, keyEnv string) {
	g.providers[strings.ToLower(p.Name())] = registration{provider: p, keyEnv: keyEnv}
}

// Names returns the registered provider names in sorted order.
func (g *Gateway) Names() []string {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate sends one request to the named provider. The caller-supplied key
// takes precedence over the provider's environment secret.
func (g *Gateway) Generate(ctx context.Context, name, systemPrompt, userPrompt, apiKey string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	reg, ok := g.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	if apiKey == "" && reg.keyEnv != "" {
		apiKey, _ = g.lookupEnv(reg.keyEnv)
	}
	if apiKey == "" {
		return "", fmt.Errorf("%w for '%s'. Server expected env var: %s", ErrMissingAPIKey, name, reg.keyEnv)
	}

	start := time.Now()
	text, err := reg.provider.Generate(ctx, Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		APIKey:       apiKey,
	})
	elapsed := time.Since(start)

	outcome := outcomeOf(err)
	metrics.ProviderRequestsTotal.WithLabelValues(name, outcome).Inc()
	metrics.ProviderRequestDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		g.logger.Warn().
			Err(err).
			Str("provider", name).
			Str("outcome", outcome).
			Dur("duration", elapsed).
			Msg("Provider request failed")
		return "", err
	}

	g.logger.Debug().
		Str("provider", name).
		Int("content_length", len(text)).
		Dur("duration", elapsed).
		Msg("Provider request completed")
	return text, nil
}

func outcomeOf(err error) string {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &upstream):
		return "rejected"
	case errors.Is(err, ErrUpstreamUnreachable):
		return "unreachable"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}
