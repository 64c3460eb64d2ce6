package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"propguard/internal/models"
	"propguard/internal/rules"
)

func newRulesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule templates",
		Long: `List, show and validate firm rule templates.

Templates are read from the configured template directory; the built-in
two-step-standard template is always available.`,
	}

	cmd.AddCommand(newRulesListCmd(app))
	cmd.AddCommand(newRulesShowCmd(app))
	cmd.AddCommand(newRulesValidateCmd())

	return cmd
}

func newRulesListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available rule templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			names := app.Catalog.Names()

			if output.IsJSON() {
				return output.JSON(names)
			}

			t := output.NewTable("Rule Templates", "Name", "Firm", "Phase 1 Target", "Phase 2 Target", "Daily Loss", "Overall Loss")
			for _, name := range names {
				rs, err := app.Catalog.Get(name)
				if err != nil {
					return err
				}
				label := name
				if name == app.Config.Rules.DefaultTemplate {
					label += " *"
				}
				t.AddRow(label, rs.Firm,
					formatTarget(rs.Phase1), formatTarget(rs.Phase2),
					formatThreshold(dailyLimit(rs)), formatThreshold(overallLimit(rs)))
			}
			t.Render()
			output.Dim("* default template")
			return nil
		},
	}
}

func newRulesShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name|file]",
		Short: "Show a rule template",
		Example: `  propguard rules show
  propguard rules show two-step-standard --json
  propguard rules show ./ftmo-100k.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			rs, err := app.ruleSet(ref)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(rs)
			}

			output.Bold("%s", rs)
			output.Println()
			t := output.NewTable("", "Rule", string(models.Phase1), string(models.Phase2), string(models.Funded))
			t.AddRow("Profit target", formatTarget(rs.Phase1), formatTarget(rs.Phase2), formatTarget(rs.Funded))
			t.AddRow("Daily loss limit", phaseThreshold(rs.Phase1, daily), phaseThreshold(rs.Phase2, daily), phaseThreshold(rs.Funded, daily))
			t.AddRow("Overall loss limit", phaseThreshold(rs.Phase1, overall), phaseThreshold(rs.Phase2, overall), phaseThreshold(rs.Funded, overall))
			t.AddRow("Min trading days", formatDays(rs.Phase1), formatDays(rs.Phase2), formatDays(rs.Funded))
			t.AddRow("Consistency", formatConsistency(rs.Phase1), formatConsistency(rs.Phase2), formatConsistency(rs.Funded))
			t.AddRow("Constraints", formatConstraints(rs.Phase1), formatConstraints(rs.Phase2), formatConstraints(rs.Funded))
			t.Render()
			return nil
		},
	}
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a rule template file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			rs, err := rules.LoadTemplate(args[0])
			if err != nil {
				if !output.IsJSON() {
					output.Error("✗ %s: %v", args[0], err)
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"valid": true, "name": rs.Name})
			}
			output.Success("✓ %s is a valid template (%s)", args[0], rs)
			return nil
		},
	}
}

type thresholdKind int

const (
	daily thresholdKind = iota
	overall
)

func phaseThreshold(pr *rules.PhaseRules, kind thresholdKind) string {
	if pr == nil {
		return "-"
	}
	if kind == daily {
		return formatThreshold(pr.DailyLossLimit)
	}
	return formatThreshold(pr.OverallLossLimit)
}

// dailyLimit returns the first configured daily limit, for summary tables.
func dailyLimit(rs *rules.RuleSet) *rules.Threshold {
	for _, pr := range []*rules.PhaseRules{rs.Phase1, rs.Phase2, rs.Funded} {
		if pr != nil && pr.DailyLossLimit != nil {
			return pr.DailyLossLimit
		}
	}
	return nil
}

func overallLimit(rs *rules.RuleSet) *rules.Threshold {
	for _, pr := range []*rules.PhaseRules{rs.Phase1, rs.Phase2, rs.Funded} {
		if pr != nil && pr.OverallLossLimit != nil {
			return pr.OverallLossLimit
		}
	}
	return nil
}

func formatThreshold(t *rules.Threshold) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	if t.AbsoluteAmount > 0 {
		return FormatMoney(t.AbsoluteAmount)
	}
	return strconv.FormatFloat(t.PercentOfStartingBalance, 'f', -1, 64) + "%"
}

func formatTarget(pr *rules.PhaseRules) string {
	if pr == nil || pr.ProfitTarget == nil {
		return "-"
	}
	s := formatThreshold(&pr.ProfitTarget.Threshold)
	if !pr.ProfitTarget.Required {
		s += " (optional)"
	}
	return s
}

func formatDays(pr *rules.PhaseRules) string {
	if pr == nil || pr.MinTradingDays == 0 {
		return "-"
	}
	return strconv.Itoa(pr.MinTradingDays)
}

func formatConsistency(pr *rules.PhaseRules) string {
	if pr == nil || pr.Consistency == nil || !pr.Consistency.Enabled {
		return "-"
	}
	c := pr.Consistency
	return fmt.Sprintf("day x%g, trade x%g", c.RequiredMultipleOfBestDay, c.RequiredMultipleOfBestTrade)
}

func formatConstraints(pr *rules.PhaseRules) string {
	if pr == nil || pr.SpecialConstraints == nil {
		return "-"
	}
	sc := pr.SpecialConstraints
	var parts []string
	if sc.MaxOpenPositions > 0 {
		parts = append(parts, fmt.Sprintf("max %d open", sc.MaxOpenPositions))
	}
	if sc.MaxPositionVolume > 0 {
		parts = append(parts, fmt.Sprintf("max %g lots", sc.MaxPositionVolume))
	}
	if sc.StopLossRequired {
		parts = append(parts, "stop required")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}
