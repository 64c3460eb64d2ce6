package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propguard/internal/errors"
	"propguard/internal/models"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, "UTC", cfg.Engine.Timezone)
	assert.Equal(t, models.SeverityWarning, cfg.ConsistencySeverity())
	assert.Equal(t, 500.0, cfg.Engine.DangerThreshold)
	assert.Equal(t, 1000.0, cfg.Engine.CautionThreshold)
	assert.Equal(t, 0.25, cfg.Engine.MaskingRatio)
	assert.Equal(t, filepath.Join(dir, "propguard.db"), cfg.Store.DBPath)
	assert.Equal(t, filepath.Join(dir, "templates"), cfg.Rules.TemplateDir)
	assert.Equal(t, 500, cfg.Store.ImportBatchSize)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestWriteTemplatesThenLoad(t *testing.T) {
	dir := t.TempDir()

	written, err := WriteTemplates(dir, false, []byte("name: two-step-standard\n"))
	require.NoError(t, err)
	assert.Len(t, written, 2)

	again, err := WriteTemplates(dir, false, []byte("name: two-step-standard\n"))
	require.NoError(t, err)
	assert.Empty(t, again)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "two-step-standard", cfg.Rules.DefaultTemplate)
	assert.Equal(t, filepath.Join(dir, "propguard.db"), cfg.Store.DBPath)
	assert.True(t, cfg.Audit.Enabled)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	body := `
[engine]
consistency_severity = "critical"
danger_threshold = 250.0
caution_threshold = 750.0
workers = 4

[store]
db_path = "/tmp/accounts.db"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, cfg.ConsistencySeverity())
	assert.Equal(t, 250.0, cfg.Engine.DangerThreshold)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, "/tmp/accounts.db", cfg.Store.DBPath)

	t.Setenv("PROPGUARD_ENGINE_CONSISTENCY_SEVERITY", "WARNING")
	t.Setenv("PROPGUARD_STORE_DB_PATH", "/tmp/env.db")
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityWarning, cfg.ConsistencySeverity())
	assert.Equal(t, "/tmp/env.db", cfg.Store.DBPath)

	t.Setenv("PROPGUARD_NOTIFY_TELEGRAM_BOT_TOKEN", "secret")
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Notify.Telegram.BotToken)
	assert.Equal(t, "breaches_only", cfg.Notify.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Engine: EngineConfig{Timezone: "UTC", ConsistencySeverity: "WARNING", DangerThreshold: 500, CautionThreshold: 1000, MaskingRatio: 0.25},
			Store:  StoreConfig{DBPath: "x.db", ImportBatchSize: 10},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }},
		{"bad severity", func(c *Config) { c.Engine.ConsistencySeverity = "BLOCKER" }},
		{"negative danger", func(c *Config) { c.Engine.DangerThreshold = -1 }},
		{"non-monotonic thresholds", func(c *Config) { c.Engine.CautionThreshold = 100 }},
		{"masking ratio", func(c *Config) { c.Engine.MaskingRatio = 3 }},
		{"workers", func(c *Config) { c.Engine.Workers = -2 }},
		{"db path", func(c *Config) { c.Store.DBPath = "" }},
		{"batch size", func(c *Config) { c.Store.ImportBatchSize = 0 }},
		{"notify level", func(c *Config) { c.Notify.Level = "loud" }},
		{"webhook url", func(c *Config) { c.Notify.Webhook.Enabled = true }},
		{"telegram chat", func(c *Config) { c.Notify.Telegram = TelegramConfig{Enabled: true, BotToken: "t"} }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
		})
	}
}
