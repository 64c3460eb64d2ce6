package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"propguard/internal/compliance"
	"propguard/internal/engine"
	"propguard/internal/errors"
	"propguard/internal/logging"
	"propguard/internal/models"
	"propguard/internal/monitoring"
	"propguard/internal/reporting"
	"propguard/internal/risk"
	"propguard/internal/store"
)

// evalFlags are shared by evaluate and risk.
type evalFlags struct {
	file     string
	template string
	asOf     string
	all      bool
	strict   bool
	noRecord bool
	xlsx     string
}

func (f *evalFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "evaluate a JSON account snapshot instead of a stored account")
	cmd.Flags().StringVarP(&f.template, "template", "t", "", "rule template name or file (default: the account's template)")
	cmd.Flags().StringVar(&f.asOf, "as-of", "", "evaluation instant, RFC3339 (default: now)")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit with status 2 on any CRITICAL finding")
}

func (f *evalFlags) instant() (time.Time, error) {
	if f.asOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, f.asOf)
	if err != nil {
		return time.Time{}, errors.NewConfigError("as-of", f.asOf, "must be an RFC3339 timestamp")
	}
	return t, nil
}

// target is one account to evaluate together with where it came from.
type target struct {
	job    engine.Job
	stored bool
}

func newEvaluateCmd(app *App) *cobra.Command {
	var flags evalFlags

	cmd := &cobra.Command{
		Use:   "evaluate [account-id...]",
		Short: "Evaluate compliance, phase progress and safe capacity",
		Long: `Evaluate one or more accounts against their rule templates.

Stored accounts are evaluated concurrently; each result is recorded in the
account's evaluation history and the audit trail. With --file a JSON
account snapshot is evaluated without touching the store.`,
		Example: `  propguard evaluate 1001
  propguard evaluate --all --strict
  propguard evaluate --all --xlsx reports/today.xlsx
  propguard evaluate --file snapshot.json --template ftmo-100k.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			asOf, err := flags.instant()
			if err != nil {
				return err
			}
			eng, err := app.engine(asOf)
			if err != nil {
				return err
			}

			targets, err := app.targets(ctx, args, flags)
			if err != nil {
				return err
			}

			jobs := make([]engine.Job, len(targets))
			for i, t := range targets {
				jobs[i] = t.job
			}

			logger := logging.WithOperation(logging.FromContext(ctx), "evaluate")
			results := eng.RunBatch(ctx, jobs)

			reports := make([]*engine.Report, 0, len(results))
			failed := 0
			for i, res := range results {
				if res.Err != nil {
					failed++
					logger.Error().Err(res.Err).Str("account", res.AccountID).Msg("Evaluation failed")
					if !output.IsJSON() {
						output.Error("✗ %s: %v", res.AccountID, res.Err)
					}
					continue
				}
				report := res.Report
				reports = append(reports, report)

				ev, rr := report.Evaluation, report.Risk
				logging.LogVerdict(logger, report.AccountID, string(ev.Phase), ev.IsCompliant, ev.PhaseProgress.CanAdvance, len(ev.Violations))
				logging.LogRisk(logger, report.AccountID, string(rr.RiskLevel), rr.TrueSafeCapacity, rr.TheoreticalSafeCapacity, len(rr.Alerts))

				if targets[i].stored && !flags.noRecord {
					app.record(ctx, report)
				}
				alog := logging.WithAccount(logger, report.AccountID)
				if al := app.audit(); al != nil {
					if err := al.LogReport(ctx, report); err != nil {
						alog.Warn().Err(err).Msg("Audit write failed")
					}
				}
				if n := app.notifier(); n != nil {
					if err := n.NotifyReport(ctx, report); err != nil {
						alog.Warn().Err(err).Msg("Notification failed")
					}
				}
			}

			if path := app.Config.Monitoring.Textfile; path != "" {
				if err := monitoring.WriteRiskTextfile(path, reports); err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("Metrics export failed")
				}
			}
			if flags.xlsx != "" {
				if err := reporting.WriteXLSX(flags.xlsx, reports); err != nil {
					return err
				}
				logger.Info().Str("path", flags.xlsx).Int("accounts", len(reports)).Msg("Workbook written")
			}

			if output.IsJSON() {
				if len(reports) == 1 && len(results) == 1 {
					if err := output.JSON(reports[0]); err != nil {
						return err
					}
				} else if err := output.JSON(reports); err != nil {
					return err
				}
			} else {
				if len(reports) > 1 {
					renderSummary(output, reports)
				}
				for _, r := range reports {
					renderReport(output, r, app.Config.UI.DateFormat)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d evaluations failed", failed, len(results))
			}
			if flags.strict {
				return app.strictGate(ctx, reports)
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&flags.all, "all", false, "evaluate every stored account")
	cmd.Flags().BoolVar(&flags.noRecord, "no-record", false, "do not write evaluation history")
	cmd.Flags().StringVar(&flags.xlsx, "xlsx", "", "also write the reports to an Excel workbook")
	return cmd
}

func newRiskCmd(app *App) *cobra.Command {
	var flags evalFlags

	cmd := &cobra.Command{
		Use:   "risk [account-id]",
		Short: "Show safe capacity with the worst-case stop-loss trace",
		Long: `Show how much more an account can lose before breaching a loss limit.

The theoretical capacity is the margin left to the controlling limit. The
true capacity also subtracts the loss realized if every open position runs
to its stop, and is the figure to act on.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			if len(args) == 0 && flags.file == "" {
				return errors.NewConfigError("account", nil, "give an account id or --file")
			}
			asOf, err := flags.instant()
			if err != nil {
				return err
			}
			eng, err := app.engine(asOf)
			if err != nil {
				return err
			}

			targets, err := app.targets(ctx, args, flags)
			if err != nil {
				return err
			}
			t := targets[0]

			report, err := eng.ComputeRisk(t.job.Snapshot, t.job.RuleSet)
			if err != nil {
				return err
			}
			logging.LogRisk(logging.WithOperation(logging.FromContext(ctx), "risk"), t.job.Snapshot.AccountID,
				string(report.RiskLevel), report.TrueSafeCapacity, report.TheoreticalSafeCapacity, len(report.Alerts))

			if output.IsJSON() {
				if err := output.JSON(report); err != nil {
					return err
				}
			} else {
				renderRisk(output, report, true)
			}

			if flags.strict {
				if err := riskError(report); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

// targets resolves the accounts a command should evaluate.
func (a *App) targets(ctx context.Context, ids []string, flags evalFlags) ([]target, error) {
	if flags.file != "" {
		snapshot, err := readSnapshot(flags.file)
		if err != nil {
			return nil, err
		}
		rs, err := a.ruleSet(flags.template)
		if err != nil {
			return nil, err
		}
		return []target{{job: engine.Job{Snapshot: snapshot, RuleSet: rs}}}, nil
	}

	s, err := a.store()
	if err != nil {
		return nil, err
	}

	if flags.all {
		accounts, err := s.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		ids = nil
		for _, acct := range accounts {
			ids = append(ids, acct.ID)
		}
	}
	if len(ids) == 0 {
		return nil, errors.NewConfigError("account", nil, "give at least one account id, --all or --file")
	}

	targets := make([]target, 0, len(ids))
	for _, id := range ids {
		start := time.Now()
		acct, err := s.GetAccount(ctx, id)
		if err != nil {
			logging.LogStoreCall(a.Logger, "get_account", time.Since(start), err)
			return nil, err
		}
		snapshot, err := s.GetSnapshot(ctx, id)
		logging.LogStoreCall(a.Logger, "get_snapshot", time.Since(start), err)
		if err != nil {
			return nil, err
		}

		ref := flags.template
		if ref == "" {
			ref = acct.Template
		}
		rs, err := a.ruleSet(ref)
		if err != nil {
			return nil, errors.Wrapf(err, "account %s", id)
		}
		targets = append(targets, target{
			job:    engine.Job{Snapshot: snapshot, RuleSet: rs},
			stored: true,
		})
	}
	return targets, nil
}

func readSnapshot(path string) (*models.AccountSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snapshot models.AccountSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.NewDataError("snapshot", path, err.Error())
	}
	return &snapshot, nil
}

// record appends the report to the account's evaluation history.
func (a *App) record(ctx context.Context, report *engine.Report) {
	s, err := a.store()
	if err != nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Encoding evaluation failed")
		return
	}

	ev, rr := report.Evaluation, report.Risk
	rec := &store.EvaluationRecord{
		AccountID:           report.AccountID,
		Phase:               ev.Phase,
		Template:            report.Template,
		Compliant:           ev.IsCompliant,
		CanAdvance:          ev.PhaseProgress.CanAdvance,
		Violations:          len(ev.Violations),
		RiskLevel:           string(rr.RiskLevel),
		TrueSafeCapacity:    rr.TrueSafeCapacity,
		TheoreticalCapacity: rr.TheoreticalSafeCapacity,
		EvaluatedAt:         ev.EvaluatedAt,
		Payload:             string(payload),
	}

	start := time.Now()
	err = s.RecordEvaluation(ctx, rec)
	logging.LogStoreCall(a.Logger, "record_evaluation", time.Since(start), err)
}

// strictGate turns the first CRITICAL finding into a RiskError.
func (a *App) strictGate(ctx context.Context, reports []*engine.Report) error {
	for _, r := range reports {
		err := complianceError(r.Evaluation)
		if err == nil {
			err = riskError(r.Risk)
		}
		if err == nil {
			continue
		}
		if al := a.audit(); al != nil {
			var re *errors.RiskError
			rule := ""
			if errors.As(err, &re) {
				rule = re.Rule
			}
			al.LogStrictFailure(ctx, r.AccountID, rule, err)
		}
		return errors.Wrapf(err, "account %s", r.AccountID)
	}
	return nil
}

func complianceError(ev *compliance.Evaluation) error {
	if ev == nil {
		return nil
	}
	for _, v := range ev.Violations {
		if v.Severity == models.SeverityCritical {
			return errors.NewRiskError(string(v.RuleType), v.CurrentValue, v.LimitValue, v.Message)
		}
	}
	return nil
}

func riskError(r *risk.Report) error {
	if r == nil {
		return nil
	}
	for _, al := range r.Alerts {
		if al.Severity == models.SeverityCritical {
			return errors.NewRiskError(string(al.Type), r.TrueSafeCapacity, r.TheoreticalSafeCapacity, al.Message)
		}
	}
	if r.RiskLevel == risk.LevelCritical {
		return errors.NewRiskError("RISK_LEVEL", r.TrueSafeCapacity, r.TheoreticalSafeCapacity, "risk level is CRITICAL")
	}
	return nil
}
