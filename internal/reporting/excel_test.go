package reporting

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"propguard/internal/compliance"
	"propguard/internal/engine"
	"propguard/internal/metrics"
	"propguard/internal/models"
	"propguard/internal/risk"
)

func testReport() *engine.Report {
	progress := 55.0
	return &engine.Report{
		AccountID: "2002",
		Template:  "two-step-standard",
		Evaluation: &compliance.Evaluation{
			AccountID:   "2002",
			Phase:       models.Phase1,
			IsCompliant: false,
			Violations: []compliance.Violation{
				{RuleType: compliance.RuleOverallLoss, Severity: models.SeverityCritical, Message: "Overall loss 1500.00 exceeds limit 1000.00", CurrentValue: 1500, LimitValue: 1000},
				{RuleType: compliance.RuleConsistency, Severity: models.SeverityWarning, Message: "Best day too large", CurrentValue: 900, LimitValue: 600},
			},
			PhaseProgress: compliance.PhaseProgress{ProfitProgressPercent: &progress, TargetAmount: 800},
			Metrics:       metrics.Metrics{TotalProfit: -1500, TradingDays: 1, WinRate: 0, CurrentDrawdown: 15},
			EvaluatedAt:   time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC),
		},
		Risk: &risk.Report{
			AccountID:               "2002",
			RiskLevel:               risk.LevelCritical,
			ControllingLimit:        risk.LimitOverall,
			TheoreticalSafeCapacity: 0,
			Trace: []risk.TraceStep{
				{Ticket: "9", Symbol: "XAUUSD", LossIfStopped: 250, EquityAfter: 8250},
			},
		},
	}
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.xlsx")
	require.NoError(t, WriteXLSX(path, []*engine.Report{testReport()}))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{SummarySheet, ViolationsSheet, TraceSheet}, fx.GetSheetList())

	rows, err := fx.GetRows(SummarySheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Account", rows[0][0])
	assert.Equal(t, []string{"2002", "two-step-standard", "PHASE_1", "no", "no"}, rows[1][:5])

	rows, err = fx.GetRows(ViolationsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "OVERALL_LOSS", rows[1][1])
	assert.Equal(t, "CRITICAL", rows[1][2])
	assert.Equal(t, "WARNING", rows[2][2])

	rows, err = fx.GetRows(TraceSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2002", "1", "9", "XAUUSD"}, rows[1][:4])
}

func TestWriteXLSXEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, WriteXLSX(path, nil))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	rows, err := fx.GetRows(SummarySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
