// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrInvalidData      = errors.New("invalid data")
	ErrAccountNotFound  = errors.New("account not found")
	ErrTemplateNotFound = errors.New("rule template not found")
	ErrDatabaseError    = errors.New("database error")
	ErrRiskLimit        = errors.New("risk limit breached")
)

// ConfigError reports a rule set or application setting that cannot be used.
// It always unwraps to ErrConfigInvalid.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfigInvalid
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError reports an account snapshot the engine refuses to evaluate.
// It always unwraps to ErrInvalidData.
type DataError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *DataError) Unwrap() error {
	return ErrInvalidData
}

// NewDataError creates a new DataError.
func NewDataError(field string, value interface{}, message string) *DataError {
	return &DataError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RiskError represents a risk management error.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

func (e *RiskError) Unwrap() error {
	return ErrRiskLimit
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// IsConfig reports whether err was caused by bad configuration.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfigInvalid)
}

// IsData reports whether err was caused by bad account data.
func IsData(err error) bool {
	return errors.Is(err, ErrInvalidData)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
