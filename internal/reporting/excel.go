// Package reporting exports evaluation reports to spreadsheet workbooks.
package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"propguard/internal/compliance"
	"propguard/internal/engine"
	"propguard/internal/models"
)

const (
	SummarySheet    = "Summary"
	ViolationsSheet = "Violations"
	TraceSheet      = "Stop-loss Walk"
)

var (
	summaryHeaders = []interface{}{
		"Account", "Template", "Phase", "Compliant", "Can Advance", "Next Phase",
		"Total Profit", "Target Progress", "Trading Days", "Win Rate", "Drawdown",
		"Risk Level", "Controlling Limit", "Theoretical Capacity", "Open Risk", "True Capacity", "Evaluated",
	}
	violationHeaders = []interface{}{"Account", "Rule", "Severity", "Current", "Limit", "Message"}
	traceHeaders     = []interface{}{"Account", "Step", "Ticket", "Symbol", "Loss If Stopped", "Equity After", "Unprotected"}
)

type styles struct {
	header   int
	currency int
	percent  int
	critical int
}

// WriteXLSX writes reports to a workbook at path with one summary row per
// account, every violation, and the worst-case stop-loss walk.
func WriteXLSX(path string, reports []*engine.Report) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), SummarySheet); err != nil {
		return err
	}
	for _, name := range []string{ViolationsSheet, TraceSheet} {
		if _, err := fx.NewSheet(name); err != nil {
			return err
		}
	}

	st, err := newStyles(fx)
	if err != nil {
		return err
	}

	if err := writeSummary(fx, reports, st); err != nil {
		return err
	}
	if err := writeViolations(fx, reports, st); err != nil {
		return err
	}
	if err := writeTrace(fx, reports, st); err != nil {
		return err
	}

	if err := fx.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func newStyles(fx *excelize.File) (styles, error) {
	var st styles
	var err error

	st.header, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return st, err
	}
	st.currency, err = fx.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return st, err
	}
	st.percent, err = fx.NewStyle(&excelize.Style{NumFmt: 10})
	if err != nil {
		return st, err
	}
	st.critical, err = fx.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Color: "C00000"}})
	if err != nil {
		return st, err
	}
	return st, nil
}

func writeHeader(fx *excelize.File, sheet string, headers []interface{}, st styles) error {
	if err := fx.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := fx.SetCellStyle(sheet, "A1", last, st.header); err != nil {
		return err
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// styleColumns applies style to rows 2..lastRow of the given 1-based columns.
func styleColumns(fx *excelize.File, sheet string, lastRow, style int, columns ...int) error {
	if lastRow < 2 {
		return nil
	}
	for _, col := range columns {
		top, _ := excelize.CoordinatesToCellName(col, 2)
		bottom, _ := excelize.CoordinatesToCellName(col, lastRow)
		if err := fx.SetCellStyle(sheet, top, bottom, style); err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(fx *excelize.File, reports []*engine.Report, st styles) error {
	if err := writeHeader(fx, SummarySheet, summaryHeaders, st); err != nil {
		return err
	}

	row := 2
	for _, r := range reports {
		ev, rr := r.Evaluation, r.Risk
		var progress interface{}
		if p := ev.PhaseProgress.ProfitProgressPercent; p != nil {
			progress = *p / 100
		}
		values := []interface{}{
			r.AccountID,
			r.Template,
			string(ev.Phase),
			yesNo(ev.IsCompliant),
			yesNo(ev.PhaseProgress.CanAdvance),
			string(ev.PhaseProgress.NextPhase),
			ev.Metrics.TotalProfit,
			progress,
			ev.Metrics.TradingDays,
			ev.Metrics.WinRate / 100,
			ev.Metrics.CurrentDrawdown / 100,
			string(rr.RiskLevel),
			string(rr.ControllingLimit),
			rr.TheoreticalSafeCapacity,
			rr.OpenRisk,
			rr.TrueSafeCapacity,
			ev.EvaluatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := fx.SetSheetRow(SummarySheet, cell, &values); err != nil {
			return err
		}
		row++
	}

	last := row - 1
	if err := styleColumns(fx, SummarySheet, last, st.currency, 7, 14, 15, 16); err != nil {
		return err
	}
	if err := styleColumns(fx, SummarySheet, last, st.percent, 8, 10, 11); err != nil {
		return err
	}
	if err := fx.SetColWidth(SummarySheet, "A", "F", 14); err != nil {
		return err
	}
	return fx.SetColWidth(SummarySheet, "G", "Q", 18)
}

func writeViolations(fx *excelize.File, reports []*engine.Report, st styles) error {
	if err := writeHeader(fx, ViolationsSheet, violationHeaders, st); err != nil {
		return err
	}

	row := 2
	for _, r := range reports {
		for _, v := range r.Evaluation.Violations {
			values := []interface{}{r.AccountID, string(v.RuleType), string(v.Severity), v.CurrentValue, v.LimitValue, v.Message}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := fx.SetSheetRow(ViolationsSheet, cell, &values); err != nil {
				return err
			}
			if isCritical(v) {
				sev, _ := excelize.CoordinatesToCellName(3, row)
				if err := fx.SetCellStyle(ViolationsSheet, sev, sev, st.critical); err != nil {
					return err
				}
			}
			row++
		}
	}

	if err := styleColumns(fx, ViolationsSheet, row-1, st.currency, 4, 5); err != nil {
		return err
	}
	if err := fx.SetColWidth(ViolationsSheet, "A", "E", 16); err != nil {
		return err
	}
	return fx.SetColWidth(ViolationsSheet, "F", "F", 70)
}

func writeTrace(fx *excelize.File, reports []*engine.Report, st styles) error {
	if err := writeHeader(fx, TraceSheet, traceHeaders, st); err != nil {
		return err
	}

	row := 2
	for _, r := range reports {
		for i, step := range r.Risk.Trace {
			values := []interface{}{r.AccountID, i + 1, step.Ticket, step.Symbol, step.LossIfStopped, step.EquityAfter, yesNo(step.Unbounded)}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := fx.SetSheetRow(TraceSheet, cell, &values); err != nil {
				return err
			}
			row++
		}
	}

	if err := styleColumns(fx, TraceSheet, row-1, st.currency, 5, 6); err != nil {
		return err
	}
	return fx.SetColWidth(TraceSheet, "A", "G", 16)
}

func isCritical(v compliance.Violation) bool {
	return v.Severity == models.SeverityCritical
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
