package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# PropGuard Configuration

[engine]
# IANA timezone that fixes the trading-day boundary (e.g. "UTC", "Etc/GMT-2")
timezone = "UTC"
# Severity of consistency rule breaches: WARNING or CRITICAL
consistency_severity = "WARNING"
# True safe capacity at or below this amount is DANGER
danger_threshold = 500.0
# True safe capacity at or below this amount is CAUTION
caution_threshold = 1000.0
# Share of theoretical capacity hidden by open risk before a floating profit
# is reported as masking it
masking_ratio = 0.25
# Concurrent accounts in batch evaluation (0 = number of CPUs)
workers = 0

[rules]
# Directory of *.yaml / *.json rule templates (default: <config dir>/templates)
# template_dir = "/etc/propguard/templates"
# Template used for accounts without one
default_template = "two-step-standard"

[store]
# SQLite database path (default: <config dir>/propguard.db)
# db_path = "/var/lib/propguard/propguard.db"
# Rows per transaction during CSV import
import_batch_size = 500

[logging]
level = "info"
console = true
file = false
# file_path = "/var/log/propguard/propguard.log"
max_size = 100
max_backups = 7
max_age = 30

[monitoring]
# node_exporter textfile collector path (empty = disabled)
textfile = ""

[audit]
# Record every verdict as a JSON line
enabled = true
# file_path = "/var/log/propguard/audit.log"

[notify]
# "all" also reports accounts ready to advance; "breaches_only" reports
# CRITICAL violations and DANGER/CRITICAL risk only
level = "breaches_only"

[notify.webhook]
enabled = false
url = ""

[notify.telegram]
enabled = false
# Prefer PROPGUARD_NOTIFY_TELEGRAM_BOT_TOKEN in the environment or .env
bot_token = ""
chat_id = ""

[ui]
color_enabled = true
date_format = "2006-01-02 15:04"
`

// WriteTemplates creates config.toml and an example rule template in
// configDir. Existing files are left untouched unless force is set.
// It returns the paths written.
func WriteTemplates(configDir string, force bool, exampleTemplate []byte) ([]string, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := os.MkdirAll(filepath.Join(configDir, "templates"), 0755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	files := []struct {
		path string
		body []byte
	}{
		{filepath.Join(configDir, "config.toml"), []byte(configTemplate)},
		{filepath.Join(configDir, "templates", "two-step-standard.yaml"), exampleTemplate},
	}

	var written []string
	for _, f := range files {
		if len(f.body) == 0 {
			continue
		}
		if _, err := os.Stat(f.path); err == nil && !force {
			continue
		}
		if err := os.WriteFile(f.path, f.body, 0644); err != nil {
			return written, fmt.Errorf("writing %s: %w", filepath.Base(f.path), err)
		}
		written = append(written, f.path)
	}

	return written, nil
}
