// Package api exposes the relay over HTTP: a liveness probe, a read-only
// usage view and the quota-gated generation endpoint.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/promptrelay/internal/quota"
	"github.com/rs/zerolog"
)

// Generator produces text from a named provider.
type Generator interface {
	Generate(ctx context.Context, provider, systemPrompt, userPrompt, apiKey string) (string, error)
}

// Config holds API server settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	ClientIPHeader string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Server is the public HTTP API server.
type Server struct {
	config   Config
	server   *http.Server
	router   *gin.Engine
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg Config, limiter *quota.Limiter, generator Generator, logger zerolog.Logger) *Server {
	// Set Gin mode
	if logger.GetLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger = logger.With().Str("component", "api").Logger()

	// No default middleware; requests are logged as JSON by our own
	router := gin.New()
	router.Use(RecoveryMiddleware(logger))

	SetupRoutes(router, &Deps{
		Limiter:        limiter,
		Generator:      generator,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		ClientIPHeader: cfg.ClientIPHeader,
	})

	s := &Server{
		config: cfg,
		router: router,
		logger: logger,
	}

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
		}
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated HTTP listener")
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting API server")
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully stops the API server, letting in-flight generations
// finish until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}
