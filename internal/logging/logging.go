// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days

	// Out receives console output. Nil means os.Stderr so that command
	// output on stdout stays machine readable.
	Out io.Writer
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(home, ".config", "propguard", "logs", "propguard.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

// LoggerKey is the context key for the logger.
const LoggerKey ContextKey = "logger"

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithAccount adds an account ID to the logger context.
func WithAccount(logger zerolog.Logger, accountID string) zerolog.Logger {
	return logger.With().Str("account", accountID).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogVerdict logs a compliance verdict.
func LogVerdict(logger zerolog.Logger, accountID, phase string, compliant, canAdvance bool, violations int) {
	event := logger.Info()
	if !compliant {
		event = logger.Warn()
	}
	event.
		Str("event", "verdict").
		Str("account", accountID).
		Str("phase", phase).
		Bool("compliant", compliant).
		Bool("can_advance", canAdvance).
		Int("violations", violations).
		Msg("Compliance evaluated")
}

// LogRisk logs a safe-capacity report.
func LogRisk(logger zerolog.Logger, accountID, level string, trueCapacity, theoreticalCapacity float64, alerts int) {
	event := logger.Info()
	if level == "CRITICAL" || level == "DANGER" {
		event = logger.Warn()
	}
	event.
		Str("event", "risk").
		Str("account", accountID).
		Str("risk_level", level).
		Float64("true_capacity", trueCapacity).
		Float64("theoretical_capacity", theoreticalCapacity).
		Int("alerts", alerts).
		Msg("Safe capacity computed")
}

// LogStoreCall logs a store round trip.
func LogStoreCall(logger zerolog.Logger, operation string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "store").
		Str("operation", operation).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("Store call failed")
	} else {
		event.Msg("Store call completed")
	}
}
