package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propguard/internal/config"
	"propguard/internal/engine"
	"propguard/internal/models"
	"propguard/internal/rules"
	"propguard/pkg/utils"
)

type recorder struct {
	mu       sync.Mutex
	payloads []map[string]interface{}
	paths    []string
}

func (r *recorder) server(t *testing.T, status int) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]interface{}
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		r.mu.Lock()
		r.payloads = append(r.payloads, payload)
		r.paths = append(r.paths, req.URL.Path)
		r.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runReport(t *testing.T, snapshot *models.AccountSnapshot) *engine.Report {
	t.Helper()
	opts := engine.DefaultOptions()
	now := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	opts.Clock = func() time.Time { return now }
	eng, err := engine.New(opts)
	require.NoError(t, err)
	report, err := eng.Run(snapshot, rules.DefaultTemplate())
	require.NoError(t, err)
	return report
}

func closed(id string, day int, pnl float64) models.Trade {
	open := time.Date(2024, 3, day, 9, 0, 0, 0, time.UTC)
	end := open.Add(2 * time.Hour)
	return models.Trade{ID: id, Symbol: "EURUSD", Side: models.SideBuy, Volume: 1, OpenTime: open, CloseTime: &end, GrossPnL: pnl}
}

func TestWebhookReceivesBreach(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t, http.StatusOK)

	mn := NewMultiNotifier(config.NotifyConfig{
		Level:   string(LevelBreachesOnly),
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL},
	})
	require.True(t, mn.Enabled())

	report := runReport(t, &models.AccountSnapshot{
		AccountID:       "2002",
		StartingBalance: 10000,
		CurrentPhase:    models.Phase1,
		Trades:          []models.Trade{closed("1", 5, -1500)},
	})

	require.NoError(t, mn.NotifyReport(context.Background(), report))

	require.NotEmpty(t, rec.payloads)
	first := rec.payloads[0]
	assert.Equal(t, "breach", first["type"])
	assert.Equal(t, "2002", first["account"])
	assert.Contains(t, first["title"], "OVERALL_LOSS")
}

func TestAdvanceFilteredByLevel(t *testing.T) {
	trades := []models.Trade{closed("1", 4, 2200), closed("2", 5, 2200), closed("3", 6, 2200), closed("4", 7, 2200)}
	snapshot := &models.AccountSnapshot{AccountID: "1001", StartingBalance: 100000, CurrentPhase: models.Phase1, Trades: trades}
	report := runReport(t, snapshot)
	require.True(t, report.Evaluation.PhaseProgress.CanAdvance)

	rec := &recorder{}
	srv := rec.server(t, http.StatusOK)

	quiet := NewMultiNotifier(config.NotifyConfig{Level: "breaches_only", Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL}})
	require.NoError(t, quiet.NotifyReport(context.Background(), report))
	assert.Empty(t, rec.payloads)

	chatty := NewMultiNotifier(config.NotifyConfig{Level: "all", Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL}})
	require.NoError(t, chatty.NotifyReport(context.Background(), report))
	require.Len(t, rec.payloads, 1)
	assert.Equal(t, "advance", rec.payloads[0]["type"])
	assert.Contains(t, rec.payloads[0]["title"], "PHASE_2")
}

func TestTelegramAndFailures(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t, http.StatusOK)

	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "tok", ChatID: "42"})
	tg.apiBase = srv.URL
	require.NoError(t, tg.Send(context.Background(), Notification{Title: "a <b>", Message: "x & y"}))
	require.Len(t, rec.payloads, 1)
	assert.Equal(t, "/bottok/sendMessage", rec.paths[0])
	assert.Equal(t, "<b>a &lt;b&gt;</b>\n\nx &amp; y", rec.payloads[0]["text"])

	failing := (&recorder{}).server(t, http.StatusInternalServerError)
	mn := NewMultiNotifier(config.NotifyConfig{Level: "all"})
	assert.False(t, mn.Enabled())
	wh := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: failing.URL})
	wh.retry = utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}
	mn.AddChannel(wh)
	err := mn.Send(context.Background(), Notification{Type: NotificationError, Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook returned status 500")

	rejecting := &recorder{}
	wh = NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: rejecting.server(t, http.StatusBadRequest).URL})
	err = wh.Send(context.Background(), Notification{Title: "x"})
	require.Error(t, err)
	assert.Len(t, rejecting.payloads, 1, "4xx is not retried")

	assert.False(t, NewTelegramNotifier(config.TelegramConfig{Enabled: true}).IsEnabled())
}
