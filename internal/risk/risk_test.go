package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propguard/internal/errors"
	"propguard/internal/models"
	"propguard/internal/rules"
)

var testNow = time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func testOpts() Options {
	return Options{Calendar: models.NewCalendar(time.UTC, testNow)}
}

func closed(id string, open time.Time, net float64) models.Trade {
	close := open.Add(30 * time.Minute)
	return models.Trade{ID: id, Symbol: "EURUSD", Side: models.SideBuy, Volume: 1, OpenTime: open, CloseTime: &close, GrossPnL: net}
}

func dailyOnly(pct float64) *rules.RuleSet {
	return &rules.RuleSet{
		Phase1: &rules.PhaseRules{DailyLossLimit: &rules.Threshold{PercentOfStartingBalance: pct}},
	}
}

func bothLimits() *rules.RuleSet {
	pr := &rules.PhaseRules{
		DailyLossLimit:   &rules.Threshold{PercentOfStartingBalance: 5},
		OverallLossLimit: &rules.Threshold{PercentOfStartingBalance: 10},
	}
	return &rules.RuleSet{Phase1: pr, Phase2: pr, Funded: pr}
}

func TestComputeRiskDailyScenario(t *testing.T) {
	morning := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	snapshot := &models.AccountSnapshot{
		AccountID:       "A-50K",
		StartingBalance: 50000,
		CurrentPhase:    models.Phase1,
		Trades: []models.Trade{
			closed("1", morning, 1000),
			closed("2", morning.Add(time.Hour), -300),
		},
		OpenPositions: []models.OpenPosition{
			{Ticket: "900", Symbol: "XAUUSD", Side: models.SideBuy, StopLossRisk: f(2000)},
		},
	}

	report, err := ComputeRisk(snapshot, dailyOnly(5), testOpts())
	require.NoError(t, err)

	assert.Equal(t, LimitDaily, report.ControllingLimit)
	assert.InDelta(t, 2500.0, report.DailyLimit, 1e-9)
	assert.InDelta(t, 0.0, report.DailyRealizedLoss, 1e-9)
	assert.InDelta(t, 2500.0, report.DailyMarginLeft, 1e-9)
	assert.InDelta(t, 2500.0, report.TheoreticalSafeCapacity, 1e-9)
	assert.InDelta(t, 500.0, report.TrueSafeCapacity, 1e-9)
	assert.Equal(t, LevelDanger, report.RiskLevel)
	assert.InDelta(t, 50700.0, report.ClosedBalance, 1e-9)
	assert.InDelta(t, 48700.0, report.MinEquityTouched, 1e-9)
	assert.InDelta(t, 47500.0, report.EquityFloor, 1e-9)
	assert.False(t, report.WouldViolate)
	require.Len(t, report.Trace, 1)
	assert.InDelta(t, 48700.0, report.Trace[0].EquityAfter, 1e-9)
	assert.False(t, report.HasCritical())
}

func TestComputeRiskPriceBasedStop(t *testing.T) {
	snapshot := &models.AccountSnapshot{
		StartingBalance: 100000,
		CurrentPhase:    models.Funded,
		OpenPositions: []models.OpenPosition{
			// 1 lot EURUSD long, 50 pips above the stop at 100000 per price unit.
			{Ticket: "1", Symbol: "EURUSD", Side: models.SideBuy, Volume: 1, OpenPrice: 1.0850, CurrentPrice: 1.0900, StopLoss: f(1.0850), PointValue: 100000, FloatingPnL: 500},
			// 2 lots XAUUSD short, stop 5.0 above the current price at 100 per price unit.
			{Ticket: "2", Symbol: "XAUUSD", Side: models.SideSell, Volume: 2, OpenPrice: 2000, CurrentPrice: 2003, StopLoss: f(2008), PointValue: 100, FloatingPnL: -600},
		},
	}

	report, err := ComputeRisk(snapshot, bothLimits(), testOpts())
	require.NoError(t, err)

	require.Len(t, report.Trace, 2)
	assert.InDelta(t, 500.0, report.Trace[0].LossIfStopped, 1e-6)
	assert.InDelta(t, 1000.0, report.Trace[1].LossIfStopped, 1e-6)
	assert.InDelta(t, 99900.0, report.CurrentEquity, 1e-6)
	assert.InDelta(t, 98400.0, report.MinEquityTouched, 1e-6)
	// Stop risk 1500 plus the 600 floating loss already on the book.
	assert.InDelta(t, 2100.0, report.OpenRisk, 1e-6)
	assert.Equal(t, LimitDaily, report.ControllingLimit)
	assert.InDelta(t, 5000.0, report.TheoreticalSafeCapacity, 1e-6)
	assert.InDelta(t, 2900.0, report.TrueSafeCapacity, 1e-6)
	assert.Equal(t, LevelSafe, report.RiskLevel)
}

func TestComputeRiskUnprotectedPosition(t *testing.T) {
	snapshot := &models.AccountSnapshot{
		StartingBalance: 50000,
		CurrentPhase:    models.Phase2,
		OpenPositions: []models.OpenPosition{
			{Ticket: "1", Symbol: "EURUSD", StopLossRisk: f(100)},
			{Ticket: "2", Symbol: "NAS100", FloatingPnL: 3000},
			{Ticket: "3", Symbol: "GBPJPY", FloatingPnL: 10},
		},
	}

	report, err := ComputeRisk(snapshot, bothLimits(), testOpts())
	require.NoError(t, err)

	assert.Equal(t, 0.0, report.TrueSafeCapacity)
	assert.Equal(t, LevelCritical, report.RiskLevel)
	assert.True(t, report.WouldViolate)
	assert.Equal(t, 2, report.UnprotectedPositions)
	assert.True(t, report.HasCritical())

	var noStop []string
	for _, a := range report.Alerts {
		if a.Type == AlertNoStopLoss {
			assert.Equal(t, models.SeverityCritical, a.Severity)
			noStop = append(noStop, a.Ticket)
		}
	}
	assert.Equal(t, []string{"2", "3"}, noStop)
	assert.True(t, report.Trace[1].Unbounded)
	assert.True(t, report.Trace[2].Unbounded)
	assert.False(t, report.Trace[0].Unbounded)
}

func TestComputeRiskUnpricedStop(t *testing.T) {
	snapshot := &models.AccountSnapshot{
		StartingBalance: 50000,
		CurrentPhase:    models.Phase1,
		OpenPositions: []models.OpenPosition{
			{Ticket: "1", Symbol: "EURUSD", Side: models.SideBuy, Volume: 5, OpenPrice: 1.1, CurrentPrice: 1.1, StopLoss: f(1.06)},
		},
	}

	report, err := ComputeRisk(snapshot, rules.DefaultTemplate(), testOpts())
	require.NoError(t, err)

	assert.Equal(t, 1, report.UnprotectedPositions)
	assert.True(t, report.Trace[0].Unbounded)
	assert.True(t, report.WouldViolate)
	assert.Equal(t, 0.0, report.TrueSafeCapacity)
	assert.Equal(t, LevelCritical, report.RiskLevel)
	require.Contains(t, alertTypes(report), AlertNoStopLoss)
	assert.Contains(t, report.Alerts[0].Message, "point value")

	snapshot.OpenPositions[0].PointValue = 100000
	snapshot.OpenPositions[0].Volume = -5
	report, err = ComputeRisk(snapshot, rules.DefaultTemplate(), testOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, report.UnprotectedPositions)
	assert.Equal(t, LevelCritical, report.RiskLevel)

	snapshot.OpenPositions[0].Volume = 5
	report, err = ComputeRisk(snapshot, rules.DefaultTemplate(), testOpts())
	require.NoError(t, err)
	assert.Equal(t, 0, report.UnprotectedPositions)
	assert.InDelta(t, 20000.0, report.OpenRisk, 1e-6)
}

func TestComputeRiskFloatingProfitMasking(t *testing.T) {
	snapshot := &models.AccountSnapshot{
		StartingBalance: 50000,
		CurrentPhase:    models.Phase1,
		OpenPositions: []models.OpenPosition{
			{Ticket: "1", Symbol: "US30", FloatingPnL: 4000, StopLossRisk: f(1500)},
		},
	}

	report, err := ComputeRisk(snapshot, bothLimits(), testOpts())
	require.NoError(t, err)

	assert.InDelta(t, 2500.0, report.TheoreticalSafeCapacity, 1e-9)
	assert.InDelta(t, 1000.0, report.TrueSafeCapacity, 1e-9)
	assert.Equal(t, LevelCaution, report.RiskLevel)
	assert.Contains(t, alertTypes(report), AlertFloatingProfitMasking)
}

func TestComputeRiskLimitExhausted(t *testing.T) {
	day := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	snapshot := &models.AccountSnapshot{
		StartingBalance: 50000,
		CurrentPhase:    models.Phase1,
		Trades:          []models.Trade{closed("1", day, -2600)},
		OpenPositions:   []models.OpenPosition{{Ticket: "7", Symbol: "EURUSD", StopLossRisk: f(50)}},
	}

	report, err := ComputeRisk(snapshot, bothLimits(), testOpts())
	require.NoError(t, err)

	assert.Equal(t, LimitDaily, report.ControllingLimit)
	assert.Equal(t, 0.0, report.DailyMarginLeft)
	assert.InDelta(t, 2600.0, report.DailyRealizedLoss, 1e-9)
	assert.InDelta(t, 2400.0, report.OverallMarginLeft, 1e-9)
	assert.Equal(t, 0.0, report.TrueSafeCapacity)
	assert.Equal(t, LevelCritical, report.RiskLevel)
	assert.True(t, report.WouldViolate)
	types := alertTypes(report)
	assert.Contains(t, types, AlertLimitExhausted)
	assert.Contains(t, types, AlertWouldViolate)
}

func TestComputeRiskOverallControls(t *testing.T) {
	yesterday := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	snapshot := &models.AccountSnapshot{
		StartingBalance: 50000,
		CurrentPhase:    models.Funded,
		Trades:          []models.Trade{closed("1", yesterday, -4200)},
	}

	report, err := ComputeRisk(snapshot, bothLimits(), testOpts())
	require.NoError(t, err)
	assert.Equal(t, LimitOverall, report.ControllingLimit)
	assert.InDelta(t, 800.0, report.TheoreticalSafeCapacity, 1e-9)
	assert.InDelta(t, 800.0, report.TrueSafeCapacity, 1e-9)
	assert.Equal(t, LevelCaution, report.RiskLevel)
	assert.InDelta(t, 45000.0, report.EquityFloor, 1e-9)
}

func TestComputeRiskNoLimits(t *testing.T) {
	snapshot := &models.AccountSnapshot{
		StartingBalance: 50000,
		CurrentPhase:    models.Funded,
		OpenPositions:   []models.OpenPosition{{Ticket: "1", Symbol: "EURUSD", StopLossRisk: f(300)}},
	}

	report, err := ComputeRisk(snapshot, &rules.RuleSet{}, testOpts())
	require.NoError(t, err)
	assert.Equal(t, LimitNone, report.ControllingLimit)
	assert.Equal(t, 0.0, report.TheoreticalSafeCapacity)
	assert.Equal(t, 0.0, report.TrueSafeCapacity)
	assert.Equal(t, LevelSafe, report.RiskLevel)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, AlertNoLossLimits, report.Alerts[0].Type)
	assert.Equal(t, models.SeverityInfo, report.Alerts[0].Severity)

	snapshot.OpenPositions = append(snapshot.OpenPositions, models.OpenPosition{Ticket: "2", Symbol: "BTCUSD"})
	report, err = ComputeRisk(snapshot, nil, testOpts())
	require.NoError(t, err)
	assert.Equal(t, LevelCritical, report.RiskLevel)
}

func TestThresholds(t *testing.T) {
	th := DefaultThresholds()
	require.NoError(t, th.Validate())

	tests := []struct {
		capacity float64
		want     Level
	}{
		{-1, LevelCritical},
		{0, LevelCritical},
		{0.01, LevelDanger},
		{500, LevelDanger},
		{500.01, LevelCaution},
		{1000, LevelCaution},
		{1000.01, LevelSafe},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Classify(tt.capacity), "capacity %.2f", tt.capacity)
	}

	assert.True(t, errors.IsConfig(Thresholds{Danger: 1000, Caution: 500}.Validate()))
	assert.True(t, errors.IsConfig(Thresholds{Danger: -1, Caution: 500}.Validate()))
}

func TestComputeRiskCustomThresholds(t *testing.T) {
	snapshot := &models.AccountSnapshot{StartingBalance: 50000, CurrentPhase: models.Phase1}
	opts := testOpts()
	opts.Thresholds = &Thresholds{Danger: 2000, Caution: 3000}

	report, err := ComputeRisk(snapshot, bothLimits(), opts)
	require.NoError(t, err)
	assert.Equal(t, LevelCaution, report.RiskLevel)

	opts.Thresholds = &Thresholds{Danger: 3000, Caution: 2000}
	_, err = ComputeRisk(snapshot, bothLimits(), opts)
	assert.True(t, errors.IsConfig(err))
}

func TestComputeRiskErrors(t *testing.T) {
	_, err := ComputeRisk(&models.AccountSnapshot{StartingBalance: 0, CurrentPhase: models.Phase1}, bothLimits(), testOpts())
	assert.True(t, errors.IsData(err))

	_, err = ComputeRisk(&models.AccountSnapshot{StartingBalance: 1000, CurrentPhase: "TRIAL"}, bothLimits(), testOpts())
	assert.True(t, errors.IsData(err))

	bad := &rules.RuleSet{Phase1: &rules.PhaseRules{OverallLossLimit: &rules.Threshold{AbsoluteAmount: -10}}}
	_, err = ComputeRisk(&models.AccountSnapshot{StartingBalance: 1000, CurrentPhase: models.Phase1}, bad, testOpts())
	assert.True(t, errors.IsConfig(err))

	_, err = ComputeRisk(&models.AccountSnapshot{StartingBalance: 1000, CurrentPhase: models.Phase1}, bothLimits(), Options{MaskingRatio: 2})
	assert.True(t, errors.IsConfig(err))

	nan := &models.AccountSnapshot{
		StartingBalance: 1000,
		CurrentPhase:    models.Phase1,
		Trades:          []models.Trade{{ID: "1", GrossPnL: math.NaN(), OpenTime: testNow}},
	}
	assert.NotPanics(t, func() {
		_, err = ComputeRisk(nan, bothLimits(), testOpts())
	})
	assert.True(t, errors.IsData(err))
}

func alertTypes(r *Report) []AlertType {
	types := make([]AlertType, 0, len(r.Alerts))
	for _, a := range r.Alerts {
		types = append(types, a.Type)
	}
	return types
}
