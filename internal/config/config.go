// Package config provides configuration management for the compliance engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"propguard/internal/errors"
	"propguard/internal/models"
)

// EnvPrefix prefixes environment overrides, e.g. PROPGUARD_ENGINE_TIMEZONE.
const EnvPrefix = "PROPGUARD"

// Config holds all application configuration.
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"`
	Rules      RulesConfig      `mapstructure:"rules"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	UI         UIConfig         `mapstructure:"ui"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// EngineConfig holds evaluation policy.
type EngineConfig struct {
	Timezone            string  `mapstructure:"timezone"`
	ConsistencySeverity string  `mapstructure:"consistency_severity"`
	DangerThreshold     float64 `mapstructure:"danger_threshold"`
	CautionThreshold    float64 `mapstructure:"caution_threshold"`
	MaskingRatio        float64 `mapstructure:"masking_ratio"`
	Workers             int     `mapstructure:"workers"`
}

// RulesConfig locates rule templates.
type RulesConfig struct {
	TemplateDir     string `mapstructure:"template_dir"`
	DefaultTemplate string `mapstructure:"default_template"`
}

// StoreConfig holds the account store settings.
type StoreConfig struct {
	DBPath          string `mapstructure:"db_path"`
	ImportBatchSize int    `mapstructure:"import_batch_size"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// MonitoringConfig holds the Prometheus textfile export settings.
type MonitoringConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// AuditConfig holds the verdict audit trail settings.
type AuditConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	FilePath string `mapstructure:"file_path"`
}

// NotifyConfig holds verdict notification settings.
type NotifyConfig struct {
	// Level is "all" or "breaches_only".
	Level    string         `mapstructure:"level"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/propguard"
	}
	return filepath.Join(home, ".config", "propguard")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("engine.consistency_severity", string(models.SeverityWarning))
	v.SetDefault("engine.danger_threshold", 500.0)
	v.SetDefault("engine.caution_threshold", 1000.0)
	v.SetDefault("engine.masking_ratio", 0.25)
	v.SetDefault("engine.workers", 0)

	v.SetDefault("rules.template_dir", filepath.Join(configDir, "templates"))
	v.SetDefault("rules.default_template", "two-step-standard")

	v.SetDefault("store.db_path", filepath.Join(configDir, "propguard.db"))
	v.SetDefault("store.import_batch_size", 500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "propguard.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("monitoring.textfile", "")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.file_path", filepath.Join(configDir, "logs", "audit.log"))

	v.SetDefault("notify.level", "breaches_only")
	v.SetDefault("notify.webhook.enabled", false)
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", "")

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "2006-01-02 15:04")
}

// Load loads config.toml from configDir. A missing file yields the defaults;
// run WriteTemplates to create one. Environment variables prefixed with
// PROPGUARD_ override file values.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Dir = configDir

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if !models.Severity(strings.ToUpper(c.Engine.ConsistencySeverity)).Valid() {
		return errors.NewConfigError("engine.consistency_severity", c.Engine.ConsistencySeverity, "must be INFO, WARNING or CRITICAL")
	}
	if c.Engine.DangerThreshold < 0 {
		return errors.NewConfigError("engine.danger_threshold", c.Engine.DangerThreshold, "must not be negative")
	}
	if c.Engine.CautionThreshold < c.Engine.DangerThreshold {
		return errors.NewConfigError("engine.caution_threshold", c.Engine.CautionThreshold, "must be at least danger_threshold")
	}
	if c.Engine.MaskingRatio < 0 || c.Engine.MaskingRatio > 1 {
		return errors.NewConfigError("engine.masking_ratio", c.Engine.MaskingRatio, "must be between 0 and 1")
	}
	if c.Engine.Workers < 0 {
		return errors.NewConfigError("engine.workers", c.Engine.Workers, "must not be negative")
	}
	if c.Store.DBPath == "" {
		return errors.NewConfigError("store.db_path", c.Store.DBPath, "is required")
	}
	if c.Store.ImportBatchSize <= 0 {
		return errors.NewConfigError("store.import_batch_size", c.Store.ImportBatchSize, "must be positive")
	}
	switch c.Notify.Level {
	case "", "all", "breaches_only":
	default:
		return errors.NewConfigError("notify.level", c.Notify.Level, "must be all or breaches_only")
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return errors.NewConfigError("notify.webhook.url", "", "is required when the webhook is enabled")
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return errors.NewConfigError("notify.telegram", "", "bot_token and chat_id are required when Telegram is enabled")
	}
	return nil
}

// Location returns the IANA location that fixes the trading-day boundary.
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return nil, errors.NewConfigError("engine.timezone", c.Engine.Timezone, err.Error())
	}
	return loc, nil
}

// ConsistencySeverity returns the configured severity of consistency breaches.
func (c *Config) ConsistencySeverity() models.Severity {
	return models.Severity(strings.ToUpper(c.Engine.ConsistencySeverity))
}
