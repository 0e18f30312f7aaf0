package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/promptrelay/internal/api"
	"github.com/goodtune/promptrelay/internal/config"
	"github.com/goodtune/promptrelay/internal/metrics"
	"github.com/goodtune/promptrelay/internal/provider"
	"github.com/goodtune/promptrelay/internal/provider/gemini"
	"github.com/goodtune/promptrelay/internal/provider/openaicompat"
	"github.com/goodtune/promptrelay/internal/quota"
	"github.com/goodtune/promptrelay/internal/storage"
	"github.com/goodtune/promptrelay/internal/storage/bolt"
	"github.com/goodtune/promptrelay/internal/storage/file"
	"github.com/goodtune/promptrelay/internal/storage/postgres"
	"github.com/goodtune/promptrelay/internal/storage/redis"
	"github.com/goodtune/promptrelay/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the promptrelay server",
	Long:  `Start the promptrelay HTTP API and, unless disabled, the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting promptrelay")

	// Server-side provider keys may live in a dotenv file. Variables
	// already present in the environment take precedence.
	envFile := newEnvFile(cfg.Providers.EnvFile)
	if err := envFile.Load(); err != nil {
		logger.Warn().Err(err).Str("path", cfg.Providers.EnvFile).Msg("Failed to load env file")
	}

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cmd.Context(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize quota limiter
	limiter := quota.NewLimiter(context.Background(), store.Usage(), quota.Config{
		DailyLimit:      cfg.Quota.DailyLimit,
		Window:          parseDuration(cfg.Quota.Window, quota.DefaultWindow),
		AllowPrivileged: cfg.Quota.AllowPrivileged,
	}, logger)

	pruner := quota.NewPruner(limiter, parseDuration(cfg.Quota.PruneInterval, 0), logger)
	pruner.Start()

	// Initialize providers
	gateway := newGateway(cfg.Providers, logger)
	logger.Info().Strs("providers", gateway.Names()).Msg("Provider gateway initialized")

	// Initialize API server
	apiConfig := api.Config{
		ListenAddr:     fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ClientIPHeader: cfg.Server.ClientIPHeader,
		ReadTimeout:    parseDuration(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout:   parseDuration(cfg.Server.WriteTimeout, 90*time.Second),
	}

	apiServer := api.NewServer(apiConfig, limiter, gateway, logger)
	if sdListeners.HTTP != nil {
		apiServer.SetListener(sdListeners.HTTP)
	}
	if err := apiServer.Start(); err != nil {
		pruner.Stop()
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort != 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start Metrics Server")
			metricsServer = nil
		}
	}

	logger.Info().
		Str("api", apiConfig.ListenAddr).
		Int("daily_limit", limiter.Limit()).
		Msg("promptrelay startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			// Provider keys are read per request, so a reload only needs the env file.
			if err := envFile.Load(); err != nil {
				logger.Warn().Err(err).Msg("Failed to reload env file")
			} else {
				logger.Info().Msg("SIGHUP received, env file reloaded")
			}
			continue
		}
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	pruner.Stop()

	if err := limiter.Flush(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to flush usage records")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("promptrelay stopped")

	return nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	switch cfg.Type {
	case "", "file":
		return file.Open(cfg.Path)
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	case "postgres":
		return postgres.Open(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// newGateway registers the three built-in providers behind one shared
// HTTP client.
func newGateway(cfg config.ProvidersConfig, logger zerolog.Logger) *provider.Gateway {
	client := provider.NewHTTPClient(
		parseDuration(cfg.Timeout, 60*time.Second),
		parseDuration(cfg.ConnectTimeout, 10*time.Second),
	)

	gateway := provider.NewGateway(provider.WithLogger(logger))

	gateway.Register(openaicompat.NewOpenAI(
		openaicompat.WithHTTPClient(client),
		openaicompat.WithBaseURL(cfg.OpenAI.BaseURL),
		openaicompat.WithModel(cfg.OpenAI.Model),
	), cfg.OpenAI.APIKeyEnv)

	gateway.Register(openaicompat.NewDeepSeek(
		openaicompat.WithHTTPClient(client),
		openaicompat.WithBaseURL(cfg.DeepSeek.BaseURL),
		openaicompat.WithModel(cfg.DeepSeek.Model),
	), cfg.DeepSeek.APIKeyEnv)

	gateway.Register(gemini.New(
		gemini.WithHTTPClient(client),
		gemini.WithBaseURL(cfg.Gemini.BaseURL),
		gemini.WithModel(cfg.Gemini.Model),
	), cfg.Gemini.APIKeyEnv)

	return gateway
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
