package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
ai:
  provider: ollama
  ollama:
    model: llama3.1
story:
  words_per_minute: 120
  max_turns: 12
database:
  redis:
    enabled: true
    session_ttl: 2h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "ollama", cfg.AI.Provider)
	assert.Equal(t, "llama3.1", cfg.AI.Ollama.Model)
	assert.Equal(t, 120, cfg.Story.WordsPerMinute)
	assert.Equal(t, 12, cfg.Story.MaxTurns)
	assert.Equal(t, 300, cfg.Story.SegmentMaxTokens)
	assert.Equal(t, 0.8, cfg.Story.ConcludeRatio)
	assert.True(t, cfg.Database.Redis.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Database.Redis.SessionTTL)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QDRANT_API_KEY", "qd-test")
	t.Setenv("WORDS_PER_MINUTE", "150")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "story:\n  words_per_minute: 90\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.AI.OpenAI.APIKey)
	assert.Equal(t, "qd-test", cfg.Database.Qdrant.APIKey)
	assert.Equal(t, 150, cfg.Story.WordsPerMinute)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "server: [unclosed"))
	require.Error(t, err)
}

func TestFromEnvUsesDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Story.WordsPerMinute)
	assert.Equal(t, 150, cfg.Story.SummaryMaxTokens)
	assert.Equal(t, 10, cfg.Story.ListTopK)
}
