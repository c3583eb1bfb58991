package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexai/text2sql/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "duckdb", cfg.DatabaseDriver)
	assert.True(t, cfg.RequireReadOnly)
	assert.Equal(t, "inconclusive", cfg.SyntaxPolicy)
	assert.NotContains(t, cfg.PIIKeywords, "pin")
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
port: 9100
database_driver: duckdb
metadata_table: business_meta
sample_rows: 3
require_read_only: false
completion_timeout: 45s
sensitive_columns: [salary]
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("TEXT2SQL_LOG_LEVEL", "debug")
	t.Setenv("TEXT2SQL_API_KEYS", "k1,k2")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "business_meta", cfg.MetadataTable)
	assert.Equal(t, 3, cfg.SampleRows)
	assert.False(t, cfg.RequireReadOnly, "explicit false in the file wins over the default")
	assert.Equal(t, 45*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, []string{"salary"}, cfg.SensitiveColumns)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"k1", "k2"}, cfg.APIKeys)

	// untouched values keep their defaults
	assert.Equal(t, config.DefaultExecutionTimeout, cfg.ExecutionTimeout)
	assert.Equal(t, config.DefaultAPIPrefix, cfg.APIPrefix)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("TEXT2SQL_CONFIG", "")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "sk-test", cfg.LLMAPIKey())
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLMBaseURL())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.DatabaseDriver = "oracle" }},
		{"postgres without dsn", func(c *config.Config) { c.DatabaseDriver = "postgres" }},
		{"bigquery without dataset", func(c *config.Config) { c.DatabaseDriver = "bigquery"; c.GCPProjectID = "p" }},
		{"unknown provider", func(c *config.Config) { c.LLMProvider = "cohere" }},
		{"unknown policy", func(c *config.Config) { c.SyntaxPolicy = "maybe" }},
		{"negative samples", func(c *config.Config) { c.SampleRows = -1 }},
		{"zero timeout", func(c *config.Config) { c.ExecutionTimeout = 0 }},
		{"bad port", func(c *config.Config) { c.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
