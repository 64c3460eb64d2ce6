// Package notify pushes evaluation verdicts to external channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"propguard/internal/compliance"
	"propguard/internal/config"
	"propguard/internal/engine"
	"propguard/internal/models"
	"propguard/internal/risk"
	"propguard/internal/security"
	"propguard/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	NotifyReport(ctx context.Context, report *engine.Report) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	AccountID string
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationBreach  NotificationType = "breach"
	NotificationRisk    NotificationType = "risk"
	NotificationAdvance NotificationType = "advance"
	NotificationError   NotificationType = "error"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll          NotificationLevel = "all"
	LevelBreachesOnly NotificationLevel = "breaches_only"
)

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier with the channels enabled in cfg.
func NewMultiNotifier(cfg config.NotifyConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}

	if mn.level == "" {
		mn.level = LevelBreachesOnly
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Enabled reports whether any channel would receive notifications.
func (mn *MultiNotifier) Enabled() bool {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			return true
		}
	}
	return false
}

func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	if mn.level == LevelBreachesOnly {
		return notifType != NotificationAdvance
	}
	return true
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// NotifyReport sends one notification per noteworthy finding of report:
// CRITICAL violations, a DANGER or CRITICAL risk level, and an account that
// is ready to advance.
func (mn *MultiNotifier) NotifyReport(ctx context.Context, report *engine.Report) error {
	var notes []Notification
	if n, ok := breachNotification(report); ok {
		notes = append(notes, n)
	}
	if n, ok := riskNotification(report); ok {
		notes = append(notes, n)
	}
	if n, ok := advanceNotification(report); ok {
		notes = append(notes, n)
	}

	var errs []string
	for _, n := range notes {
		if err := mn.Send(ctx, n); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("account %s: %s", report.AccountID, strings.Join(errs, "; "))
	}
	return nil
}

func breachNotification(report *engine.Report) (Notification, bool) {
	ev := report.Evaluation
	if ev == nil || !ev.HasCritical() {
		return Notification{}, false
	}

	var lines []string
	var breached []string
	for _, v := range ev.Violations {
		if v.Severity != models.SeverityCritical {
			continue
		}
		lines = append(lines, v.Message)
		breached = append(breached, string(v.RuleType))
	}

	return Notification{
		Type:      NotificationBreach,
		AccountID: report.AccountID,
		Title:     fmt.Sprintf("🚨 %s breached %s", report.AccountID, strings.Join(breached, ", ")),
		Message:   fmt.Sprintf("Phase: %s\n%s", ev.Phase, strings.Join(lines, "\n")),
		Data: map[string]interface{}{
			"phase":        ev.Phase,
			"rules":        breached,
			"total_profit": ev.Metrics.TotalProfit,
		},
		Timestamp: ev.EvaluatedAt,
	}, true
}

func riskNotification(report *engine.Report) (Notification, bool) {
	rr := report.Risk
	if rr == nil || rr.RiskLevel.Rank() < risk.LevelDanger.Rank() {
		return Notification{}, false
	}

	message := fmt.Sprintf("True safe capacity: %.2f (theoretical %.2f)\nControlling limit: %s",
		rr.TrueSafeCapacity, rr.TheoreticalSafeCapacity, rr.ControllingLimit)
	for _, a := range rr.Alerts {
		if a.Severity == models.SeverityCritical {
			message += "\n" + a.Message
		}
	}

	return Notification{
		Type:      NotificationRisk,
		AccountID: report.AccountID,
		Title:     fmt.Sprintf("⚠️ %s risk %s", report.AccountID, rr.RiskLevel),
		Message:   message,
		Data: map[string]interface{}{
			"risk_level":           rr.RiskLevel,
			"true_capacity":        rr.TrueSafeCapacity,
			"theoretical_capacity": rr.TheoreticalSafeCapacity,
			"unprotected":          rr.UnprotectedPositions,
		},
		Timestamp: rr.ComputedAt,
	}, true
}

func advanceNotification(report *engine.Report) (Notification, bool) {
	ev := report.Evaluation
	if ev == nil || !ev.PhaseProgress.CanAdvance {
		return Notification{}, false
	}
	return Notification{
		Type:      NotificationAdvance,
		AccountID: report.AccountID,
		Title:     fmt.Sprintf("🏁 %s can advance to %s", report.AccountID, ev.PhaseProgress.NextPhase),
		Message:   progressLine(ev),
		Data: map[string]interface{}{
			"phase":        ev.Phase,
			"next_phase":   ev.PhaseProgress.NextPhase,
			"total_profit": ev.Metrics.TotalProfit,
			"trading_days": ev.Metrics.TradingDays,
		},
		Timestamp: ev.EvaluatedAt,
	}, true
}

func progressLine(ev *compliance.Evaluation) string {
	return fmt.Sprintf("Profit %.2f of %.2f target over %d trading days",
		ev.Metrics.TotalProfit, ev.PhaseProgress.TargetAmount, ev.Metrics.TradingDays)
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
	retry   utils.RetryConfig
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: utils.DefaultRetryConfig(),
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"account":   n.AccountID,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.UTC().Format(time.RFC3339),
	}

	return postJSON(ctx, w.client, w.retry, w.url, payload, "webhook")
}

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	apiBase  string
	client   *http.Client
	retry    utils.RetryConfig
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		apiBase:  "https://api.telegram.org",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: utils.DefaultRetryConfig(),
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	return postJSON(ctx, t.client, t.retry, url, payload, "telegram")
}

// postJSON posts payload, retrying network errors and 5xx responses.
// Errors never carry the raw URL, which may embed a secret.
func postJSON(ctx context.Context, client *http.Client, retry utils.RetryConfig, url string, payload interface{}, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", channel, err)
	}

	var rejected error
	err = utils.Retry(ctx, retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("creating %s request: %s", channel, scrub(err, url))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "PropGuard/1.0")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("sending %s: %s", channel, scrub(err, url))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			rejected = fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
			return nil
		default:
			return fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
		}
	})
	if err != nil {
		return err
	}
	return rejected
}

func scrub(err error, url string) string {
	return security.MaskString(strings.ReplaceAll(err.Error(), url, security.MaskURL(url)))
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// NotifyReport does nothing.
func (n *NoOpNotifier) NotifyReport(ctx context.Context, report *engine.Report) error {
	return nil
}
