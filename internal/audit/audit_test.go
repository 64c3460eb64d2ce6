package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propguard/internal/compliance"
	"propguard/internal/engine"
	"propguard/internal/models"
	"propguard/internal/risk"
)

type bufferCloser struct {
	bytes.Buffer
}

func (b *bufferCloser) Close() error { return nil }

func readEvents(t *testing.T, data []byte) []Event {
	t.Helper()
	var events []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	return events
}

func TestLogReport(t *testing.T) {
	buf := &bufferCloser{}
	l := NewLoggerWithWriter(buf)
	ctx := WithRequestID(context.Background(), "batch-7")

	report := &engine.Report{
		AccountID: "1001",
		Template:  "two-step-standard",
		Evaluation: &compliance.Evaluation{
			AccountID:   "1001",
			Phase:       models.Phase2,
			IsCompliant: false,
			Violations: []compliance.Violation{
				{RuleType: compliance.RuleDailyLoss, Severity: models.SeverityCritical},
			},
		},
		Risk: &risk.Report{RiskLevel: risk.LevelDanger, TrueSafeCapacity: 500},
	}
	require.NoError(t, l.LogReport(ctx, report))
	require.NoError(t, l.LogReport(ctx, nil))

	events := readEvents(t, buf.Bytes())
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, EventEvaluation, e.EventType)
	assert.Equal(t, "1001", e.AccountID)
	assert.Equal(t, models.Phase2, e.Phase)
	assert.False(t, e.Success)
	assert.Equal(t, "batch-7", e.RequestID)
	assert.Equal(t, l.SessionID(), e.SessionID)
	assert.Equal(t, "DANGER", e.Details["risk_level"])
	assert.Equal(t, 500.0, e.Details["true_safe_capacity"])
	assert.Equal(t, 1.0, e.Details["violations"])
}

func TestAccountEvents(t *testing.T) {
	buf := &bufferCloser{}
	l := NewLoggerWithWriter(buf)
	ctx := context.Background()

	require.NoError(t, l.LogAccountSaved(ctx, "1001", models.Phase1, 100000))
	require.NoError(t, l.LogPhaseChange(ctx, "1001", models.Phase1, models.Phase2, 100000))
	require.NoError(t, l.LogImport(ctx, "1001", "trades", 0, errors.New("row 3: bad volume")))
	require.NoError(t, l.LogStrictFailure(ctx, "1001", "DAILY_LOSS", errors.New("breached")))

	events := readEvents(t, buf.Bytes())
	require.Len(t, events, 4)
	assert.Equal(t, EventAccountSaved, events[0].EventType)
	assert.Equal(t, "PHASE_1 -> PHASE_2", events[1].Action)
	assert.False(t, events[2].Success)
	assert.Equal(t, "row 3: bad volume", events[2].ErrorMsg)
	assert.Equal(t, EventStrictFail, events[3].EventType)
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	l, err := NewLogger(DefaultConfig(path))
	require.NoError(t, err)

	require.NoError(t, l.LogAccountSaved(context.Background(), "1001", models.Funded, 50000))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, readEvents(t, data), 1)

	_, err = NewLogger(Config{})
	assert.Error(t, err)
}
