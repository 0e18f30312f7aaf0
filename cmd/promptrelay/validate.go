package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/promptrelay/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the promptrelay configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with -dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns every key config.SetDefaults knows about.
func getValidKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}

	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  port", cfg.Server.Port, defaultCfg.Server.Port, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  allowed_origins", cfg.Server.AllowedOrigins, defaultCfg.Server.AllowedOrigins, yellow, green)
	dumpField("  client_ip_header", cfg.Server.ClientIPHeader, defaultCfg.Server.ClientIPHeader, yellow, green)
	dumpField("  read_timeout", cfg.Server.ReadTimeout, defaultCfg.Server.ReadTimeout, yellow, green)
	dumpField("  write_timeout", cfg.Server.WriteTimeout, defaultCfg.Server.WriteTimeout, yellow, green)

	// Quota
	_, _ = cyan.Println("\n[quota]")
	dumpField("  daily_limit", cfg.Quota.DailyLimit, defaultCfg.Quota.DailyLimit, yellow, green)
	dumpField("  window", cfg.Quota.Window, defaultCfg.Quota.Window, yellow, green)
	dumpField("  allow_privileged", cfg.Quota.AllowPrivileged, defaultCfg.Quota.AllowPrivileged, yellow, green)
	dumpField("  prune_interval", cfg.Quota.PruneInterval, defaultCfg.Quota.PruneInterval, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactSecret(cfg.Storage.Redis.Password), redactSecret(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)
	dumpField("    key_prefix", cfg.Storage.Redis.KeyPrefix, defaultCfg.Storage.Redis.KeyPrefix, yellow, green)
	_, _ = cyan.Println("  [storage.postgres]")
	dumpField("    dsn", redactSecret(cfg.Storage.Postgres.DSN), redactSecret(defaultCfg.Storage.Postgres.DSN), yellow, green)
	dumpField("    table", cfg.Storage.Postgres.Table, defaultCfg.Storage.Postgres.Table, yellow, green)
	dumpField("    max_conns", cfg.Storage.Postgres.MaxConns, defaultCfg.Storage.Postgres.MaxConns, yellow, green)
	dumpField("    conn_timeout", cfg.Storage.Postgres.ConnTimeout, defaultCfg.Storage.Postgres.ConnTimeout, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Providers
	_, _ = cyan.Println("\n[providers]")
	dumpField("  timeout", cfg.Providers.Timeout, defaultCfg.Providers.Timeout, yellow, green)
	dumpField("  connect_timeout", cfg.Providers.ConnectTimeout, defaultCfg.Providers.ConnectTimeout, yellow, green)
	dumpField("  env_file", cfg.Providers.EnvFile, defaultCfg.Providers.EnvFile, yellow, green)
	dumpProvider(cyan, "openai", cfg.Providers.OpenAI, defaultCfg.Providers.OpenAI, yellow, green)
	dumpProvider(cyan, "deepseek", cfg.Providers.DeepSeek, defaultCfg.Providers.DeepSeek, yellow, green)
	dumpProvider(cyan, "gemini", cfg.Providers.Gemini, defaultCfg.Providers.Gemini, yellow, green)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

func dumpProvider(header *color.Color, name string, p, def config.ProviderConfig, modifiedColor, defaultColor *color.Color) {
	_, _ = header.Printf("  [providers.%s]\n", name)
	dumpField("    base_url", p.BaseURL, def.BaseURL, modifiedColor, defaultColor)
	dumpField("    model", p.Model, def.Model, modifiedColor, defaultColor)
	dumpField("    api_key_env", p.APIKeyEnv, def.APIKeyEnv, modifiedColor, defaultColor)
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactSecret redacts a secret if not empty
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
