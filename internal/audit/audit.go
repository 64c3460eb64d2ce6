// Package audit records compliance verdicts and account changes as an
// append-only JSON-lines trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"propguard/internal/engine"
	"propguard/internal/models"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Evaluation events
	EventEvaluation EventType = "EVALUATION"
	EventStrictFail EventType = "STRICT_FAILURE"

	// Account events
	EventAccountSaved EventType = "ACCOUNT_SAVED"
	EventPhaseChanged EventType = "PHASE_CHANGED"
	EventImport       EventType = "IMPORT"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	AccountID string                 `json:"account_id,omitempty"`
	Phase     models.Phase           `json:"phase,omitempty"`
	Template  string                 `json:"template,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	SessionID string                 `json:"session_id"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Logger handles audit logging for engine runs.
type Logger struct {
	writer    io.WriteCloser
	mu        sync.Mutex
	sessionID string
	now       func() time.Time
}

// Config holds audit logger configuration.
type Config struct {
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns the default audit configuration for filePath.
func DefaultConfig(filePath string) Config {
	return Config{
		FilePath:   filePath,
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365, // Keep audit logs for 1 year
		Compress:   true,
	}
}

// NewLogger creates a rotating audit logger.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	// Ensure audit directory exists with restricted permissions
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return NewLoggerWithWriter(writer), nil
}

// NewLoggerWithWriter creates an audit logger writing to w.
func NewLoggerWithWriter(w io.WriteCloser) *Logger {
	return &Logger{
		writer:    w,
		sessionID: ulid.Make().String(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SessionID returns the ID stamped on every event of this logger.
func (l *Logger) SessionID() string {
	return l.sessionID
}

type requestIDKey struct{}

// WithRequestID tags events logged with ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Log logs an audit event.
func (l *Logger) Log(ctx context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = l.now()
	event.SessionID = l.sessionID
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		event.RequestID = reqID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}

	return nil
}

// LogReport logs a combined compliance and risk result.
func (l *Logger) LogReport(ctx context.Context, report *engine.Report) error {
	if report == nil || report.Evaluation == nil {
		return nil
	}
	ev := report.Evaluation

	details := map[string]interface{}{
		"compliant":    ev.IsCompliant,
		"can_advance":  ev.PhaseProgress.CanAdvance,
		"violations":   len(ev.Violations),
		"total_profit": ev.Metrics.TotalProfit,
	}
	if r := report.Risk; r != nil {
		details["risk_level"] = r.RiskLevel
		details["true_safe_capacity"] = r.TrueSafeCapacity
		details["theoretical_safe_capacity"] = r.TheoreticalSafeCapacity
		details["controlling_limit"] = r.ControllingLimit
	}

	return l.Log(ctx, Event{
		EventType: EventEvaluation,
		AccountID: report.AccountID,
		Phase:     ev.Phase,
		Template:  report.Template,
		Success:   ev.IsCompliant,
		Details:   details,
	})
}

// LogStrictFailure logs a run that failed the strict gate.
func (l *Logger) LogStrictFailure(ctx context.Context, accountID, rule string, err error) error {
	return l.Log(ctx, Event{
		EventType: EventStrictFail,
		AccountID: accountID,
		Action:    rule,
		Success:   false,
		ErrorMsg:  err.Error(),
	})
}

// LogPhaseChange logs an account moving between phases.
func (l *Logger) LogPhaseChange(ctx context.Context, accountID string, from, to models.Phase, startingBalance float64) error {
	return l.Log(ctx, Event{
		EventType: EventPhaseChanged,
		AccountID: accountID,
		Phase:     to,
		Action:    fmt.Sprintf("%s -> %s", from, to),
		Success:   true,
		Details: map[string]interface{}{
			"starting_balance": startingBalance,
		},
	})
}

// LogAccountSaved logs an account being created or updated.
func (l *Logger) LogAccountSaved(ctx context.Context, accountID string, phase models.Phase, startingBalance float64) error {
	return l.Log(ctx, Event{
		EventType: EventAccountSaved,
		AccountID: accountID,
		Phase:     phase,
		Success:   true,
		Details: map[string]interface{}{
			"starting_balance": startingBalance,
		},
	})
}

// LogImport logs a CSV import.
func (l *Logger) LogImport(ctx context.Context, accountID, kind string, rows int, err error) error {
	event := Event{
		EventType: EventImport,
		AccountID: accountID,
		Action:    kind,
		Success:   err == nil,
		Details: map[string]interface{}{
			"rows": rows,
		},
	}
	if err != nil {
		event.ErrorMsg = err.Error()
	}
	return l.Log(ctx, event)
}

// Close closes the audit logger.
func (l *Logger) Close() error {
	return l.writer.Close()
}
