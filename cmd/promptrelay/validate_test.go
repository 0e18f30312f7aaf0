package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 8080
  http_port: 80
quota:
  daily_limit: 5
  daily_limt: 6
storage:
  postgres:
    dsn: postgres://localhost/relay
providers:
  gemini:
    model: gemini-2.0-flash
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	unknown, err := findUnknownKeys(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"quota.daily_limt", "server.http_port"}, unknown)
}

func TestFindUnknownKeys_MissingFile(t *testing.T) {
	_, err := findUnknownKeys(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGetValidKeys(t *testing.T) {
	keys := getValidKeys()
	for _, key := range []string{
		"server.port",
		"quota.window",
		"storage.redis.password",
		"storage.postgres.dsn",
		"providers.deepseek.api_key_env",
	} {
		assert.True(t, keys[key], key)
	}
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "", redactSecret(""))
	assert.Equal(t, "***REDACTED***", redactSecret("hunter2"))
}
