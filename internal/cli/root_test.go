package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propguard/internal/config"
	"propguard/internal/engine"
	"propguard/internal/errors"
	"propguard/internal/models"
	"propguard/internal/risk"
	"propguard/internal/store"
)

const asOf = "2024-03-08T12:00:00Z"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	return cfg
}

// run executes one command line against cfg and returns its stdout.
func run(t *testing.T, cfg *config.Config, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd, app := newRootCmd(cfg, zerolog.Nop())
	defer app.Close()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestChallengeLifecycle(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "", "accounts", "add", "1001", "--balance", "100000", "--since", "2024-03-01T00:00:00Z")
	require.NoError(t, err)

	trades := `ticket,symbol,type,volume,open_time,close_time,profit,swap,commission
1,EURUSD,buy,1,2024.03.04 09:00:00,2024.03.04 15:00:00,2207,0,-7
2,GBPUSD,sell,1,2024.03.05 09:00:00,2024.03.05 15:00:00,2207,0,-7
3,XAUUSD,buy,0.5,2024.03.06 09:00:00,2024.03.06 15:00:00,2207,0,-7
4,EURUSD,buy,1,2024.03.07 09:00:00,2024.03.07 15:00:00,2207,0,-7
`
	out, err := run(t, cfg, trades, "import", "trades", "1001", "-", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"rows": 4`)

	out, err = run(t, cfg, "", "evaluate", "1001", "--as-of", asOf, "--json")
	require.NoError(t, err)

	var report engine.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "1001", report.AccountID)
	assert.Equal(t, models.Phase1, report.Evaluation.Phase)
	assert.True(t, report.Evaluation.IsCompliant)
	assert.InDelta(t, 8800, report.Evaluation.Metrics.TotalProfit, 1e-6)
	assert.Equal(t, 4, report.Evaluation.Metrics.TradingDays)
	assert.True(t, report.Evaluation.PhaseProgress.CanAdvance)
	assert.Equal(t, models.Phase2, report.Evaluation.PhaseProgress.NextPhase)
	assert.Equal(t, risk.LevelSafe, report.Risk.RiskLevel)

	out, err = run(t, cfg, "", "accounts", "advance", "1001", "--as-of", asOf, "--balance", "100000")
	require.NoError(t, err)
	assert.Contains(t, out, "PHASE_1 → PHASE_2")

	out, err = run(t, cfg, "", "accounts", "list", "--json")
	require.NoError(t, err)
	var accounts []store.Account
	require.NoError(t, json.Unmarshal([]byte(out), &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, models.Phase2, accounts[0].Phase)

	// The new phase starts empty, so it cannot advance again.
	_, err = run(t, cfg, "", "accounts", "advance", "1001", "--as-of", "2024-03-09T12:00:00Z")
	require.Error(t, err)
	assert.True(t, errors.IsData(err))

	out, err = run(t, cfg, "", "accounts", "history", "1001", "--json")
	require.NoError(t, err)
	var history []store.EvaluationRecord
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	assert.Len(t, history, 3)
	assert.Equal(t, models.Phase2, history[0].Phase)

	audit, err := os.ReadFile(cfg.Audit.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(audit), `"event_type":"PHASE_CHANGED"`)
}

func TestEvaluateStrictFailsOnBreach(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "", "accounts", "add", "2002", "--balance", "10000", "--since", "2024-03-01T00:00:00Z")
	require.NoError(t, err)

	trades := `ticket,symbol,type,volume,open_time,close_time,profit,swap,commission
1,XAUUSD,buy,1,2024.03.05 09:00:00,2024.03.05 10:00:00,-1500,0,0
`
	_, err = run(t, cfg, trades, "import", "trades", "2002", "-")
	require.NoError(t, err)

	workbook := filepath.Join(t.TempDir(), "report.xlsx")
	out, err := run(t, cfg, "", "evaluate", "2002", "--as-of", asOf, "--xlsx", workbook)
	require.NoError(t, err)
	assert.Contains(t, out, "OVERALL_LOSS")
	assert.Contains(t, out, "Not compliant")
	assert.FileExists(t, workbook)

	_, err = run(t, cfg, "", "evaluate", "2002", "--as-of", asOf, "--strict")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRiskLimit))

	var re *errors.RiskError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "OVERALL_LOSS", re.Rule)
}

func TestRiskFromSnapshotFile(t *testing.T) {
	cfg := testConfig(t)

	sl := 1.0950
	snapshot := models.AccountSnapshot{
		AccountID:       "file",
		StartingBalance: 100000,
		CurrentPhase:    models.Phase1,
		OpenPositions: []models.OpenPosition{
			{Ticket: "7", Symbol: "EURUSD", Side: models.SideBuy, Volume: 1, OpenPrice: 1.1, CurrentPrice: 1.1, StopLoss: &sl, PointValue: 100000},
		},
	}
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	out, err := run(t, cfg, "", "risk", "--file", path, "--as-of", asOf, "--json")
	require.NoError(t, err)

	var report risk.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.InDelta(t, 5000, report.TheoreticalSafeCapacity, 1e-6)
	assert.InDelta(t, 500, report.OpenRisk, 1e-6)
	assert.InDelta(t, 4500, report.TrueSafeCapacity, 1e-6)
	assert.Equal(t, risk.LevelSafe, report.RiskLevel)

	out, err = run(t, cfg, "", "risk", "--file", path, "--as-of", asOf)
	require.NoError(t, err)
	assert.Contains(t, out, "Stop-loss Walk")
}

func TestRulesAndInit(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "", "rules", "list", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `["two-step-standard"]`, out)

	out, err = run(t, cfg, "", "rules", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "two-step-standard (generic)")
	assert.Contains(t, out, "8%")

	out, err = run(t, cfg, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "config.toml")

	template := filepath.Join(cfg.Dir, "templates", "two-step-standard.yaml")
	out, err = run(t, cfg, "", "rules", "validate", template)
	require.NoError(t, err)
	assert.Contains(t, out, "valid template")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("PHASE_1:\n  dailyLossLimit:\n    percentOfStartingBalance: -5\n"), 0644))
	_, err = run(t, cfg, "", "rules", "validate", bad)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestUnknownAccount(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "", "evaluate", "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAccountNotFound))
}

func TestConfigShowMasksSecrets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Telegram = config.TelegramConfig{Enabled: true, BotToken: "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", ChatID: "42"}

	out, err := run(t, cfg, "", "config", "show", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw")
	assert.Equal(t, "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", cfg.Notify.Telegram.BotToken)

	out, err = run(t, cfg, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "notify.telegram.bot_token")
	assert.NotContains(t, out, "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw")
}

func TestCommandsLogWithAccountContext(t *testing.T) {
	cfg := testConfig(t)

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	exec := func(stdin string, args ...string) {
		t.Helper()
		cmd, app := newRootCmd(cfg, logger)
		defer app.Close()
		cmd.SetArgs(args)
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetIn(strings.NewReader(stdin))
		require.NoError(t, cmd.ExecuteContext(context.Background()))
	}

	exec("", "accounts", "add", "3003", "--balance", "50000")
	exec("ticket,symbol,type,volume,open_price,current_price,profit,sl,point_value\n9,EURUSD,buy,1,1.1,1.1,0,1.09,100000\n",
		"import", "positions", "3003", "-")

	assert.Contains(t, logs.String(), `"account":"3003"`)
	assert.Contains(t, logs.String(), `"message":"Import complete"`)
	assert.Contains(t, logs.String(), `"kind":"positions"`)
}
