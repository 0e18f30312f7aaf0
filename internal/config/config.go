package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address"`
	Port           int      `mapstructure:"port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ClientIPHeader string   `mapstructure:"client_ip_header"` // forwarded-for style header, empty disables
	ReadTimeout    string   `mapstructure:"read_timeout"`
	WriteTimeout   string   `mapstructure:"write_timeout"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type     string         `mapstructure:"type"` // file, bolt, redis or postgres
	Path     string         `mapstructure:"path"` // file and bolt backends
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// PostgresConfig defines PostgreSQL connection settings
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	ConnTimeout string `mapstructure:"conn_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// QuotaConfig defines the per-client request quota
type QuotaConfig struct {
	DailyLimit      int    `mapstructure:"daily_limit"`
	Window          string `mapstructure:"window"`
	AllowPrivileged bool   `mapstructure:"allow_privileged"`
	PruneInterval   string `mapstructure:"prune_interval"` // "0" disables pruning
}

// ProvidersConfig defines upstream provider settings
type ProvidersConfig struct {
	Timeout        string         `mapstructure:"timeout"`
	ConnectTimeout string         `mapstructure:"connect_timeout"`
	EnvFile        string         `mapstructure:"env_file"`
	OpenAI         ProviderConfig `mapstructure:"openai"`
	DeepSeek       ProviderConfig `mapstructure:"deepseek"`
	Gemini         ProviderConfig `mapstructure:"gemini"`
}

// ProviderConfig defines a single upstream provider
type ProviderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	APIKeyEnv string `mapstructure:"api_key_env"` // environment variable holding the server-side key
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PROMPTRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration populated only with default values.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.client_ip_header", "X-Forwarded-For")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")

	// Storage defaults
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", "usage_db.json")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "promptrelay:")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "promptrelay_usage")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.conn_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Quota defaults
	v.SetDefault("quota.daily_limit", 3)
	v.SetDefault("quota.window", "24h")
	v.SetDefault("quota.allow_privileged", true)
	v.SetDefault("quota.prune_interval", "1h")

	// Provider defaults
	v.SetDefault("providers.timeout", "60s")
	v.SetDefault("providers.connect_timeout", "10s")
	v.SetDefault("providers.env_file", ".env")
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("providers.deepseek.base_url", "https://api.deepseek.com")
	v.SetDefault("providers.deepseek.model", "deepseek-chat")
	v.SetDefault("providers.deepseek.api_key_env", "DEEPSEEK_API_KEY")
	v.SetDefault("providers.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("providers.gemini.model", "gemini-1.5-flash")
	v.SetDefault("providers.gemini.api_key_env", "GEMINI_API_KEY")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.MetricsPort != 0 && cfg.Server.MetricsPort == cfg.Server.Port {
		return fmt.Errorf("metrics port must differ from server port (%d)", cfg.Server.Port)
	}

	// Quota
	if cfg.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota.daily_limit must be positive, got %d", cfg.Quota.DailyLimit)
	}
	window, err := time.ParseDuration(cfg.Quota.Window)
	if err != nil {
		return fmt.Errorf("invalid quota.window %q: %w", cfg.Quota.Window, err)
	}
	if window <= 0 {
		return fmt.Errorf("quota.window must be positive, got %s", window)
	}
	if cfg.Quota.PruneInterval != "" && cfg.Quota.PruneInterval != "0" {
		if _, err := time.ParseDuration(cfg.Quota.PruneInterval); err != nil {
			return fmt.Errorf("invalid quota.prune_interval %q: %w", cfg.Quota.PruneInterval, err)
		}
	}

	// Storage
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "file"
	}
	switch cfg.Storage.Type {
	case "file", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s storage", cfg.Storage.Type)
		}
		// Ensure storage directory exists
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required for redis storage")
		}
	case "postgres":
		if cfg.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (expected file, bolt, redis or postgres)", cfg.Storage.Type)
	}

	// Providers
	for name, p := range map[string]ProviderConfig{
		"openai":   cfg.Providers.OpenAI,
		"deepseek": cfg.Providers.DeepSeek,
		"gemini":   cfg.Providers.Gemini,
	} {
		if p.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url is required", name)
		}
		if p.Model == "" {
			return fmt.Errorf("providers.%s.model is required", name)
		}
	}

	return nil
}
