package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
}

// unsetForTest removes key for the duration of the test.
func unsetForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestEnvFile_ReloadAppliesRotatedKey(t *testing.T) {
	unsetForTest(t, "PROMPTRELAY_TEST_OPENAI_KEY")
	path := filepath.Join(t.TempDir(), ".env")

	writeEnv(t, path, "PROMPTRELAY_TEST_OPENAI_KEY=old\n")
	env := newEnvFile(path)
	require.NoError(t, env.Load())
	assert.Equal(t, "old", os.Getenv("PROMPTRELAY_TEST_OPENAI_KEY"))

	writeEnv(t, path, "PROMPTRELAY_TEST_OPENAI_KEY=rotated\n")
	require.NoError(t, env.Load())
	assert.Equal(t, "rotated", os.Getenv("PROMPTRELAY_TEST_OPENAI_KEY"))
}

func TestEnvFile_ProcessEnvironmentWins(t *testing.T) {
	t.Setenv("PROMPTRELAY_TEST_GEMINI_KEY", "from-env")
	path := filepath.Join(t.TempDir(), ".env")

	writeEnv(t, path, "PROMPTRELAY_TEST_GEMINI_KEY=from-file\n")
	env := newEnvFile(path)
	require.NoError(t, env.Load())
	require.NoError(t, env.Load())
	assert.Equal(t, "from-env", os.Getenv("PROMPTRELAY_TEST_GEMINI_KEY"))
}

func TestEnvFile_RemovedKeyIsUnset(t *testing.T) {
	unsetForTest(t, "PROMPTRELAY_TEST_DEEPSEEK_KEY")
	unsetForTest(t, "PROMPTRELAY_TEST_OTHER")
	path := filepath.Join(t.TempDir(), ".env")

	writeEnv(t, path, "PROMPTRELAY_TEST_DEEPSEEK_KEY=abc\n")
	env := newEnvFile(path)
	require.NoError(t, env.Load())

	writeEnv(t, path, "PROMPTRELAY_TEST_OTHER=1\n")
	require.NoError(t, env.Load())

	_, set := os.LookupEnv("PROMPTRELAY_TEST_DEEPSEEK_KEY")
	assert.False(t, set)
}

func TestEnvFile_MissingFile(t *testing.T) {
	env := newEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, env.Load())
	assert.NoError(t, newEnvFile("").Load())
}
