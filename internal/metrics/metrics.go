package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrelay_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptrelay_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Quota metrics
	QuotaDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrelay_quota_decisions_total",
			Help: "Quota decisions by outcome",
		},
		[]string{"decision"},
	)

	TrackedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptrelay_tracked_clients",
			Help: "Number of client identities with a usage record",
		},
	)

	UsageStoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrelay_usage_store_errors_total",
			Help: "Usage store operations that failed",
		},
		[]string{"op"},
	)

	RecordsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promptrelay_records_pruned_total",
			Help: "Expired usage records removed by the pruner",
		},
	)

	// Provider metrics
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrelay_provider_requests_total",
			Help: "Upstream provider calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptrelay_provider_request_duration_seconds",
			Help:    "Upstream provider call duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		QuotaDecisions,
		TrackedClients,
		UsageStoreErrors,
		RecordsPruned,
		ProviderRequestsTotal,
		ProviderRequestDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: Handler(),
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
