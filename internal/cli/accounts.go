package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"propguard/internal/errors"
	"propguard/internal/logging"
	"propguard/internal/models"
	"propguard/internal/store"
)

func newAccountsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account", "acct"},
		Short:   "Manage tracked challenge accounts",
		Long: `Add, list and remove challenge accounts and move them between phases.

A phase change starts a new measurement window: trades opened before it no
longer count, and the starting balance can be reset for the new phase.`,
	}

	cmd.AddCommand(newAccountsListCmd(app))
	cmd.AddCommand(newAccountsAddCmd(app))
	cmd.AddCommand(newAccountsSetPhaseCmd(app))
	cmd.AddCommand(newAccountsAdvanceCmd(app))
	cmd.AddCommand(newAccountsDeleteCmd(app))
	cmd.AddCommand(newAccountsHistoryCmd(app))

	return cmd
}

func newAccountsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.store()
			if err != nil {
				return err
			}

			accounts, err := s.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if accounts == nil {
					accounts = []store.Account{}
				}
				return output.JSON(accounts)
			}
			if len(accounts) == 0 {
				output.Info("No accounts. Add one with 'propguard accounts add'.")
				return nil
			}

			t := output.NewTable("Accounts", "ID", "Name", "Phase", "Starting Balance", "Template", "Phase Started")
			for _, a := range accounts {
				template := a.Template
				if template == "" {
					template = output.DimText(app.Config.Rules.DefaultTemplate)
				}
				t.AddRow(a.ID, a.Name, a.Phase, FormatMoney(a.StartingBalance), template,
					FormatDateTime(a.PhaseStartedAt, app.Config.UI.DateFormat, nil))
			}
			t.AlignRight(4)
			t.Render()
			return nil
		},
	}
}

func newAccountsAddCmd(app *App) *cobra.Command {
	var (
		name     string
		balance  float64
		phase    string
		template string
		since    string
	)

	cmd := &cobra.Command{
		Use:   "add <account-id>",
		Short: "Add or update an account",
		Example: `  propguard accounts add 1001 --balance 100000
  propguard accounts add 1002 --balance 50000 --phase 2 --template ftmo-50k`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			p, err := models.ParsePhase(phase)
			if err != nil {
				return err
			}
			if template != "" {
				if _, err := app.ruleSet(template); err != nil {
					return err
				}
			}
			var startedAt time.Time
			if since != "" {
				if startedAt, err = time.Parse(time.RFC3339, since); err != nil {
					return errors.NewConfigError("since", since, "must be an RFC3339 timestamp")
				}
			}

			s, err := app.store()
			if err != nil {
				return err
			}
			account := &store.Account{
				ID:              args[0],
				Name:            name,
				StartingBalance: balance,
				Phase:           p,
				Template:        template,
				PhaseStartedAt:  startedAt,
			}
			if existing, err := s.GetAccount(ctx, account.ID); err == nil {
				account.CreatedAt = existing.CreatedAt
				if since == "" {
					account.PhaseStartedAt = existing.PhaseStartedAt
				}
			}

			start := time.Now()
			err = s.SaveAccount(ctx, account)
			logging.LogStoreCall(app.Logger, "save_account", time.Since(start), err)
			if err != nil {
				return err
			}
			if al := app.audit(); al != nil {
				al.LogAccountSaved(ctx, account.ID, account.Phase, account.StartingBalance)
			}

			if output.IsJSON() {
				return output.JSON(account)
			}
			output.Success("✓ Saved account %s (%s, %s)", account.ID, account.Phase, FormatMoney(account.StartingBalance))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().Float64Var(&balance, "balance", 0, "starting balance of the current phase")
	cmd.Flags().StringVar(&phase, "phase", string(models.Phase1), "current phase")
	cmd.Flags().StringVarP(&template, "template", "t", "", "rule template name or file (default: config rules.default_template)")
	cmd.Flags().StringVar(&since, "since", "", "phase start, RFC3339 (default: now, or unchanged on update)")
	cmd.MarkFlagRequired("balance")
	return cmd
}

func newAccountsSetPhaseCmd(app *App) *cobra.Command {
	var balance float64

	cmd := &cobra.Command{
		Use:   "set-phase <account-id> <phase>",
		Short: "Move an account to a later phase without checking requirements",
		Long: `Move an account to a later phase without checking its requirements,
e.g. when the firm promoted it manually. Phases only move forward; use
'accounts advance' to move only when the requirements are met.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			to, err := models.ParsePhase(args[1])
			if err != nil {
				return err
			}
			s, err := app.store()
			if err != nil {
				return err
			}
			account, err := s.GetAccount(ctx, args[0])
			if err != nil {
				return err
			}
			if phaseIndex(to) <= phaseIndex(account.Phase) {
				return errors.NewDataError("phase", to, fmt.Sprintf("account is already in %s; phases only move forward", account.Phase))
			}

			return app.changePhase(cmd, output, account, to, balance, time.Time{})
		},
	}

	cmd.Flags().Float64Var(&balance, "balance", 0, "new starting balance (default: unchanged)")
	return cmd
}

func newAccountsAdvanceCmd(app *App) *cobra.Command {
	var (
		balance float64
		asOf    string
	)

	cmd := &cobra.Command{
		Use:   "advance <account-id>",
		Short: "Advance an account to its next phase when the requirements are met",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			flags := evalFlags{asOf: asOf}
			instant, err := flags.instant()
			if err != nil {
				return err
			}
			eng, err := app.engine(instant)
			if err != nil {
				return err
			}

			targets, err := app.targets(ctx, args, flags)
			if err != nil {
				return err
			}
			t := targets[0]
			report, err := eng.Run(t.job.Snapshot, t.job.RuleSet)
			if err != nil {
				return err
			}
			app.record(ctx, report)

			progress := report.Evaluation.PhaseProgress
			if !progress.CanAdvance {
				if !output.IsJSON() {
					renderProgress(output, report.Evaluation)
				}
				return errors.NewDataError("phase", report.Evaluation.Phase, "requirements for the next phase are not met")
			}

			s, err := app.store()
			if err != nil {
				return err
			}
			account, err := s.GetAccount(ctx, args[0])
			if err != nil {
				return err
			}
			return app.changePhase(cmd, output, account, progress.NextPhase, balance, instant)
		},
	}

	cmd.Flags().Float64Var(&balance, "balance", 0, "starting balance of the new phase (default: unchanged)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluation instant and new phase start, RFC3339 (default: now)")
	return cmd
}

// changePhase moves account into phase to, starting a new phase window at
// startedAt (zero means now).
func (a *App) changePhase(cmd *cobra.Command, output *Output, account *store.Account, to models.Phase, balance float64, startedAt time.Time) error {
	ctx := cmd.Context()
	s, err := a.store()
	if err != nil {
		return err
	}

	from := account.Phase
	start := time.Now()
	err = s.SetPhase(ctx, account.ID, to, balance, startedAt)
	logging.LogStoreCall(a.Logger, "set_phase", time.Since(start), err)
	if err != nil {
		return err
	}

	newBalance := account.StartingBalance
	if balance > 0 {
		newBalance = balance
	}
	logger := logging.WithAccount(logging.FromContext(ctx), account.ID)
	logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Float64("starting_balance", newBalance).
		Msg("Phase changed")
	if al := a.audit(); al != nil {
		al.LogPhaseChange(ctx, account.ID, from, to, newBalance)
	}

	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"accountId":       account.ID,
			"from":            from,
			"to":              to,
			"startingBalance": newBalance,
		})
	}
	output.Success("✓ %s: %s → %s (starting balance %s)", account.ID, from, to, FormatMoney(newBalance))
	return nil
}

func phaseIndex(p models.Phase) int {
	for i, phase := range models.Phases {
		if phase == p {
			return i
		}
	}
	return -1
}

func newAccountsDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <account-id>",
		Short: "Delete an account with its trades and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.store()
			if err != nil {
				return err
			}

			start := time.Now()
			err = s.DeleteAccount(cmd.Context(), args[0])
			logging.LogStoreCall(app.Logger, "delete_account", time.Since(start), err)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"deleted": args[0]})
			}
			output.Success("✓ Deleted account %s", args[0])
			return nil
		},
	}
}

func newAccountsHistoryCmd(app *App) *cobra.Command {
	var (
		limit int
		days  int
	)

	cmd := &cobra.Command{
		Use:   "history <account-id>",
		Short: "Show recorded evaluations, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			s, err := app.store()
			if err != nil {
				return err
			}
			if _, err := s.GetAccount(ctx, args[0]); err != nil {
				return err
			}

			filter := store.EvaluationFilter{AccountID: args[0], Limit: limit}
			if days > 0 {
				filter.Since = time.Now().AddDate(0, 0, -days)
			}
			records, err := s.ListEvaluations(ctx, filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if records == nil {
					records = []store.EvaluationRecord{}
				}
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Info("No evaluations recorded for %s", args[0])
				return nil
			}

			t := output.NewTable("History "+args[0], "Evaluated", "Phase", "Compliant", "Can Advance", "Violations", "Risk", "True Capacity")
			for _, r := range records {
				t.AddRow(
					FormatDateTime(r.EvaluatedAt, app.Config.UI.DateFormat, nil),
					r.Phase,
					output.Bool(r.Compliant),
					output.Bool(r.CanAdvance),
					r.Violations,
					r.RiskLevel,
					FormatMoney(r.TrueSafeCapacity),
				)
			}
			t.AlignRight(5, 7)
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows (0 = all)")
	cmd.Flags().IntVar(&days, "days", 0, "only the last N days")
	return cmd
}
