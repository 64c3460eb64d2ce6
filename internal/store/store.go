// Package store provides account persistence for the compliance engine.
package store

import (
	"context"
	"time"

	"propguard/internal/models"
)

// AccountStore defines the persistence the CLI evaluates accounts from.
type AccountStore interface {
	// Accounts
	SaveAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SetPhase(ctx context.Context, accountID string, phase models.Phase, startingBalance float64, startedAt time.Time) error
	DeleteAccount(ctx context.Context, accountID string) error

	// Trades & Positions
	SaveTrades(ctx context.Context, accountID string, trades []models.Trade) error
	SavePositions(ctx context.Context, accountID string, positions []models.OpenPosition) error
	GetSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error)

	// Evaluation history
	RecordEvaluation(ctx context.Context, record *EvaluationRecord) error
	ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]EvaluationRecord, error)

	Close() error
}

// Account is a tracked challenge account.
// Only trades opened at or after PhaseStartedAt belong to the current phase.
type Account struct {
	ID              string       `json:"id"`
	Name            string       `json:"name,omitempty"`
	StartingBalance float64      `json:"startingBalance"`
	Phase           models.Phase `json:"phase"`
	Template        string       `json:"template,omitempty"`
	PhaseStartedAt  time.Time    `json:"phaseStartedAt"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// EvaluationRecord is one row of an account's evaluation history.
type EvaluationRecord struct {
	ID                  string       `json:"id"`
	AccountID           string       `json:"accountId"`
	Phase               models.Phase `json:"phase"`
	Template            string       `json:"template"`
	Compliant           bool         `json:"compliant"`
	CanAdvance          bool         `json:"canAdvance"`
	Violations          int          `json:"violations"`
	RiskLevel           string       `json:"riskLevel"`
	TrueSafeCapacity    float64      `json:"trueSafeCapacity"`
	TheoreticalCapacity float64      `json:"theoreticalSafeCapacity"`
	EvaluatedAt         time.Time    `json:"evaluatedAt"`
	Payload             string       `json:"-"`
}

// EvaluationFilter narrows ListEvaluations.
type EvaluationFilter struct {
	AccountID string
	Since     time.Time
	Limit     int
}
