package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"propguard/internal/audit"
	"propguard/internal/config"
	"propguard/internal/engine"
	"propguard/internal/errors"
	"propguard/internal/logging"
	"propguard/internal/notify"
	"propguard/internal/risk"
	"propguard/internal/rules"
	"propguard/internal/security"
	"propguard/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-03-18"
)

// Exit codes returned by Execute.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitRiskLimit = 2
)

// App holds the application dependencies.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Store   store.AccountStore
	Catalog *rules.Catalog
	Audit   *audit.Logger
	Notify  notify.Notifier

	// configured reports that Config was supplied by the caller rather than
	// loaded from --config.
	configured bool
}

// Execute builds the command tree, runs it and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd, app := newRootCmd(nil, logging.NewLogger())
	defer app.Close()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, errors.ErrRiskLimit) {
			return ExitRiskLimit
		}
		return ExitError
	}
	return ExitOK
}

// NewRootCmd creates the root command for the CLI. A nil cfg is loaded from
// the --config directory before any command runs.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	cmd, _ := newRootCmd(cfg, logger)
	return cmd
}

func newRootCmd(cfg *config.Config, logger zerolog.Logger) (*cobra.Command, *App) {
	app := &App{
		Config:     cfg,
		Logger:     logger,
		configured: cfg != nil,
	}

	rootCmd := &cobra.Command{
		Use:   "propguard",
		Short: "PropGuard - prop-firm challenge compliance and risk engine",
		Long: `PropGuard evaluates funded-trading challenge accounts against their
firm's rule set.

It reports every rule breach, whether the account may advance from
PHASE_1 to PHASE_2 to FUNDED, and how much more it can lose before a
loss limit is breached once every open position runs to its stop.

Use 'propguard init' to write a starter configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/propguard)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newInitCmd(app))
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newEvaluateCmd(app))
	rootCmd.AddCommand(newRiskCmd(app))
	rootCmd.AddCommand(newRulesCmd(app))
	rootCmd.AddCommand(newAccountsCmd(app))
	rootCmd.AddCommand(newImportCmd(app))

	return rootCmd, app
}

// setup loads configuration and the rule catalog for the command about to run.
func (a *App) setup(cmd *cobra.Command) error {
	if !a.configured {
		dir, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(dir)
		if err != nil {
			return err
		}
		a.Config = cfg
		a.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
			Level:      cfg.Logging.Level,
			Console:    cfg.Logging.Console,
			File:       cfg.Logging.File,
			FilePath:   cfg.Logging.FilePath,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
		})
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}

	catalog, err := rules.LoadTemplateDir(a.Config.Rules.TemplateDir)
	if err != nil {
		return err
	}
	a.Catalog = catalog
	a.Logger.Debug().Strs("templates", catalog.Names()).Msg("Rule templates loaded")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, a.Logger))
	return nil
}

// engine builds an engine from configuration. A non-zero asOf pins the
// evaluation instant.
func (a *App) engine(asOf time.Time) (*engine.Engine, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}

	opts := engine.DefaultOptions()
	opts.Location = loc
	opts.ConsistencySeverity = a.Config.ConsistencySeverity()
	opts.Thresholds = risk.Thresholds{
		Danger:  a.Config.Engine.DangerThreshold,
		Caution: a.Config.Engine.CautionThreshold,
	}
	opts.MaskingRatio = a.Config.Engine.MaskingRatio
	opts.Workers = a.Config.Engine.Workers
	opts.Logger = &a.Logger
	if !asOf.IsZero() {
		opts.Clock = func() time.Time { return asOf }
	}
	return engine.New(opts)
}

// store opens the account store on first use.
func (a *App) store() (store.AccountStore, error) {
	if a.Store != nil {
		return a.Store, nil
	}

	start := time.Now()
	if err := os.MkdirAll(filepath.Dir(a.Config.Store.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	s, err := store.NewSQLiteStore(a.Config.Store.DBPath)
	logging.LogStoreCall(a.Logger, "open", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	a.Store = s
	return s, nil
}

// audit returns the audit logger, or nil when auditing is disabled or the
// trail cannot be opened.
func (a *App) audit() *audit.Logger {
	if a.Audit != nil || !a.Config.Audit.Enabled {
		return a.Audit
	}
	l, err := audit.NewLogger(audit.DefaultConfig(a.Config.Audit.FilePath))
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Audit trail unavailable")
		return nil
	}
	a.Audit = l
	return l
}

// notifier returns the configured verdict notifier, or nil when no channel
// is enabled.
func (a *App) notifier() notify.Notifier {
	if a.Notify != nil {
		return a.Notify
	}
	mn := notify.NewMultiNotifier(a.Config.Notify)
	if !mn.Enabled() {
		return nil
	}
	a.Notify = mn
	return mn
}

// Close releases the store and the audit trail.
func (a *App) Close() error {
	var firstErr error
	if a.Store != nil {
		firstErr = a.Store.Close()
		a.Store = nil
	}
	if a.Audit != nil {
		if err := a.Audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.Audit = nil
	}
	return firstErr
}

// ruleSet resolves a template reference: an existing file path is loaded
// directly, anything else is looked up by name. An empty reference selects
// the configured default template.
func (a *App) ruleSet(ref string) (*rules.RuleSet, error) {
	if ref == "" {
		ref = a.Config.Rules.DefaultTemplate
	}
	if _, err := os.Stat(ref); err == nil {
		return rules.LoadTemplate(ref)
	}
	return a.Catalog.Get(ref)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("PropGuard v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newInitCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config.toml and rule template",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			example, err := rules.EncodeTemplate(rules.DefaultTemplate(), ".yaml")
			if err != nil {
				return err
			}
			written, err := config.WriteTemplates(app.Config.Dir, force, example)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if written == nil {
					written = []string{}
				}
				return output.JSON(map[string]interface{}{"dir": app.Config.Dir, "written": written})
			}
			if len(written) == 0 {
				output.Info("Configuration already present in %s (use --force to overwrite)", app.Config.Dir)
				return nil
			}
			for _, path := range written {
				output.Success("✓ Wrote %s", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redactedConfig(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.Config.Dir})
			} else {
				output.Println(app.Config.Dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and rule templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if _, err := app.ruleSet(""); err != nil {
				output.Error("Default template unavailable: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	t := output.NewTable("Configuration", "Setting", "Value")
	t.AddRow("engine.timezone", cfg.Engine.Timezone)
	t.AddRow("engine.consistency_severity", cfg.ConsistencySeverity())
	t.AddRow("engine.danger_threshold", FormatMoney(cfg.Engine.DangerThreshold))
	t.AddRow("engine.caution_threshold", FormatMoney(cfg.Engine.CautionThreshold))
	t.AddRow("engine.masking_ratio", cfg.Engine.MaskingRatio)
	t.AddRow("engine.workers", cfg.Engine.Workers)
	t.AddSeparator()
	t.AddRow("rules.template_dir", cfg.Rules.TemplateDir)
	t.AddRow("rules.default_template", cfg.Rules.DefaultTemplate)
	t.AddRow("store.db_path", cfg.Store.DBPath)
	t.AddRow("store.import_batch_size", cfg.Store.ImportBatchSize)
	t.AddSeparator()
	t.AddRow("logging.level", cfg.Logging.Level)
	t.AddRow("monitoring.textfile", cfg.Monitoring.Textfile)
	t.AddRow("audit.enabled", cfg.Audit.Enabled)
	t.AddRow("audit.file_path", cfg.Audit.FilePath)
	t.AddRow("notify.level", cfg.Notify.Level)
	t.AddRow("notify.webhook.enabled", cfg.Notify.Webhook.Enabled)
	t.AddRow("notify.webhook.url", security.MaskURL(cfg.Notify.Webhook.URL))
	t.AddRow("notify.telegram.enabled", cfg.Notify.Telegram.Enabled)
	t.AddRow("notify.telegram.bot_token", security.MaskField("bot_token", cfg.Notify.Telegram.BotToken))
	t.Render()
}

// redactedConfig returns a copy of cfg safe to print.
func redactedConfig(cfg *config.Config) config.Config {
	c := *cfg
	c.Notify.Webhook.URL = security.MaskURL(c.Notify.Webhook.URL)
	c.Notify.Telegram.BotToken = security.MaskField("bot_token", c.Notify.Telegram.BotToken)
	return c
}
