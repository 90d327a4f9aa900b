package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noEnv() Option {
	return WithEnvironment(map[string]string{})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", noEnv())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "0.10", cfg.CommissionRate)
	assert.Equal(t, 8, cfg.CodeLength)
	assert.Equal(t, 10, cfg.CodeAttempts)
	assert.Equal(t, 168*time.Hour, cfg.PendingRetention)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryBackoff)

	rate, err := cfg.Rate()
	require.NoError(t, err)
	assert.Equal(t, "0.10", rate.String())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
database: /var/lib/refledger/ledger.db
bot_handle: "@my_bot"
commission_rate: "0.15"
code_length: 10
pending_retention: 72h
retry_backoff: 100ms
`)
	cfg, err := Load(path, noEnv())
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/refledger/ledger.db", cfg.Database)
	assert.Equal(t, "@my_bot", cfg.BotHandle)
	assert.Equal(t, "0.15", cfg.CommissionRate)
	assert.Equal(t, 10, cfg.CodeLength)
	assert.Equal(t, 10, cfg.CodeAttempts, "unset keys keep defaults")
	assert.Equal(t, 72*time.Hour, cfg.PendingRetention)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryPolicy().Backoff)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""), noEnv())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "database: from-file.db\ncode_length: 10\n")
	cfg, err := Load(path, WithEnvironment(map[string]string{
		"REFLEDGER_DB":                "from-env.db",
		"REFLEDGER_COMMISSION_RATE":   "0.2",
		"REFLEDGER_PENDING_RETENTION": "24h",
		"OTHER_DB":                    "ignored.db",
	}))
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database)
	assert.Equal(t, "0.2", cfg.CommissionRate)
	assert.Equal(t, 10, cfg.CodeLength)
	assert.Equal(t, 24*time.Hour, cfg.PendingRetention)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "databse: typo.db\n"), noEnv())
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), noEnv())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database", func(c *Config) { c.Database = "" }},
		{"rate above one", func(c *Config) { c.CommissionRate = "1.5" }},
		{"rate zero", func(c *Config) { c.CommissionRate = "0" }},
		{"rate not decimal", func(c *Config) { c.CommissionRate = "ten" }},
		{"code too short", func(c *Config) { c.CodeLength = 4 }},
		{"code too long", func(c *Config) { c.CodeLength = 17 }},
		{"no attempts", func(c *Config) { c.CodeAttempts = 0 }},
		{"retention too short", func(c *Config) { c.PendingRetention = time.Second }},
		{"backoff too long", func(c *Config) { c.RetryBackoff = time.Minute }},
		{"bad bot handle", func(c *Config) { c.BotHandle = "my bot" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
