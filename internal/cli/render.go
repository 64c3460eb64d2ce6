package cli

import (
	"fmt"

	"propguard/internal/compliance"
	"propguard/internal/engine"
	"propguard/internal/models"
	"propguard/internal/risk"
)

// renderSummary prints one line per account of a batch.
func renderSummary(output *Output, reports []*engine.Report) {
	t := output.NewTable("Accounts", "Account", "Phase", "Compliant", "Can Advance", "Profit", "True Capacity", "Risk")
	for _, r := range reports {
		ev, rr := r.Evaluation, r.Risk
		t.AddRow(
			r.AccountID,
			ev.Phase,
			output.Bool(ev.IsCompliant),
			output.Bool(ev.PhaseProgress.CanAdvance),
			output.PnL(ev.Metrics.TotalProfit),
			FormatMoney(rr.TrueSafeCapacity),
			output.Level(rr.RiskLevel),
		)
	}
	t.AlignRight(5, 6)
	t.Render()
	output.Println()
}

// renderReport prints the full verdict for one account.
func renderReport(output *Output, r *engine.Report, dateFormat string) {
	ev := r.Evaluation
	title := fmt.Sprintf("%s  %s", r.AccountID, ev.Phase)
	if r.Template != "" {
		title += "  [" + r.Template + "]"
	}
	output.Bold("%s", title)
	output.Dim("Evaluated at %s", FormatDateTime(ev.EvaluatedAt, dateFormat, nil))
	output.Println()

	renderChecks(output, ev)
	renderViolations(output, ev)
	renderMetrics(output, ev)
	renderProgress(output, ev)
	renderRisk(output, r.Risk, false)
	output.Println()
}

func renderChecks(output *Output, ev *compliance.Evaluation) {
	t := output.NewTable("Rules", "Rule", "Status")
	for _, c := range ev.Checks {
		t.AddRow(c.RuleType, output.Status(c.Status))
	}
	t.Render()

	if ev.IsCompliant {
		output.Success("✓ Compliant")
	} else {
		output.Error("✗ Not compliant")
	}
	output.Println()
}

func renderViolations(output *Output, ev *compliance.Evaluation) {
	if len(ev.Violations) == 0 {
		return
	}
	t := output.NewTable("Violations", "Severity", "Rule", "Current", "Limit", "Detail")
	for _, v := range ev.Violations {
		t.AddRow(output.Severity(v.Severity), v.RuleType, fmt.Sprintf("%.2f", v.CurrentValue), fmt.Sprintf("%.2f", v.LimitValue), v.Message)
	}
	t.AlignRight(3, 4)
	t.Render()
	output.Println()
}

func renderMetrics(output *Output, ev *compliance.Evaluation) {
	m := ev.Metrics
	t := output.NewTable("Metrics", "Metric", "Value")
	t.AddRow("Total profit", output.PnL(m.TotalProfit))
	t.AddRow("Realized / floating", fmt.Sprintf("%s / %s", FormatPnL(m.RealizedProfit), FormatPnL(m.UnrealizedProfit)))
	t.AddRow("Today", output.PnL(m.DailyProfit))
	t.AddRow("Best day", FormatMoney(m.BestTradingDay))
	t.AddRow("Best trade", FormatMoney(m.BestSingleTrade))
	t.AddSeparator()
	t.AddRow("Trading days", m.TradingDays)
	t.AddRow("Closed / open trades", fmt.Sprintf("%d / %d", m.ClosedTrades, m.OpenTrades))
	t.AddRow("Win rate", fmt.Sprintf("%.1f%%", m.WinRate))
	t.AddRow("Profit factor", FormatProfitFactor(m.ProfitFactor, m.ProfitFactorCapped))
	t.AddRow("Drawdown", fmt.Sprintf("%.2f%%", m.CurrentDrawdown))
	t.Render()
	output.Println()
}

func renderProgress(output *Output, ev *compliance.Evaluation) {
	p := ev.PhaseProgress
	t := output.NewTable("Phase Progress", "Item", "Value")
	t.AddRow("Profit target", FormatMoney(p.TargetAmount))
	t.AddRow("Progress", FormatProgress(p.ProfitProgressPercent))
	t.AddRow("Target met", output.Bool(p.TargetMet))
	t.AddRow("Trading days met", output.Bool(p.TradingDaysMet))
	if p.NextPhase != "" {
		t.AddRow("Can advance to "+string(p.NextPhase), output.Bool(p.CanAdvance))
	} else {
		t.AddRow("Can advance", output.Bool(p.CanAdvance))
	}
	t.Render()
	output.Println()
}

// renderRisk prints the safe-capacity report. trace adds the per-position
// stop-loss walk.
func renderRisk(output *Output, r *risk.Report, trace bool) {
	t := output.NewTable("Safe Capacity", "Item", "Value")
	t.AddRow("Equity", FormatMoney(r.CurrentEquity))
	t.AddRow("Closed balance", FormatMoney(r.ClosedBalance))
	t.AddRow("Floating P&L", output.PnL(r.FloatingPnL))
	t.AddSeparator()
	t.AddRow("Daily limit / left", fmt.Sprintf("%s / %s", FormatMoney(r.DailyLimit), FormatMoney(r.DailyMarginLeft)))
	t.AddRow("Overall limit / left", fmt.Sprintf("%s / %s", FormatMoney(r.OverallLimit), FormatMoney(r.OverallMarginLeft)))
	t.AddRow("Controlling limit", r.ControllingLimit)
	t.AddSeparator()
	t.AddRow("Theoretical capacity", FormatMoney(r.TheoreticalSafeCapacity))
	t.AddRow("Open risk", FormatMoney(r.OpenRisk))
	t.AddRow("True capacity", FormatMoney(r.TrueSafeCapacity))
	t.AddRow("Risk level", output.Level(r.RiskLevel))
	if r.WouldViolate {
		t.AddRow("Stops breach a limit", output.Red("yes"))
	} else {
		t.AddRow("Stops breach a limit", output.Green("no"))
	}
	t.Render()

	if trace && len(r.Trace) > 0 {
		tt := output.NewTable("Stop-loss Walk", "Ticket", "Symbol", "Loss if stopped", "Equity after")
		for _, step := range r.Trace {
			loss := FormatMoney(step.LossIfStopped)
			if step.Unbounded {
				loss = output.Red("unbounded")
			}
			tt.AddRow(step.Ticket, step.Symbol, loss, FormatMoney(step.EquityAfter))
		}
		tt.AddRow("", "floor", "", FormatMoney(r.EquityFloor))
		tt.AlignRight(3, 4)
		tt.Render()
	}

	for _, a := range r.Alerts {
		switch a.Severity {
		case models.SeverityCritical:
			output.Error("✗ %s: %s", a.Type, a.Message)
		case models.SeverityWarning:
			output.Warning("⚠ %s: %s", a.Type, a.Message)
		default:
			output.Info("• %s: %s", a.Type, a.Message)
		}
	}
}
