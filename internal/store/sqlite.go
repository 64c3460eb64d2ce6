package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"propguard/internal/errors"
	"propguard/internal/models"
)

// SQLiteStore implements AccountStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite-based account store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", errors.ErrDatabaseError, err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", errors.ErrDatabaseError, err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Challenge accounts
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT,
		starting_balance REAL NOT NULL,
		phase TEXT NOT NULL,
		template TEXT,
		phase_started_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Deal history, closed and still open
	CREATE TABLE IF NOT EXISTS trades (
		account_id TEXT NOT NULL,
		id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		volume REAL NOT NULL,
		open_time DATETIME NOT NULL,
		close_time DATETIME,
		gross_pnl REAL NOT NULL,
		swap REAL,
		commission REAL,
		PRIMARY KEY (account_id, id),
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	-- Live positions, replaced on every sync
	CREATE TABLE IF NOT EXISTS positions (
		account_id TEXT NOT NULL,
		ticket TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		volume REAL NOT NULL,
		open_price REAL NOT NULL,
		current_price REAL NOT NULL,
		floating_pnl REAL NOT NULL,
		stop_loss REAL,
		point_value REAL,
		loss_if_stopped REAL,
		PRIMARY KEY (account_id, ticket),
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	-- Evaluation history
	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		template TEXT,
		compliant INTEGER NOT NULL,
		can_advance INTEGER NOT NULL,
		violations INTEGER NOT NULL,
		risk_level TEXT,
		true_capacity REAL,
		theoretical_capacity REAL,
		evaluated_at DATETIME NOT NULL,
		payload TEXT,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_trades_open_time ON trades(account_id, open_time);
	CREATE INDEX IF NOT EXISTS idx_evaluations_account ON evaluations(account_id, evaluated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Account Methods
// ============================================================================

// SaveAccount inserts or updates an account. A zero PhaseStartedAt starts the
// phase now.
func (s *SQLiteStore) SaveAccount(ctx context.Context, account *Account) error {
	if account == nil || strings.TrimSpace(account.ID) == "" {
		return errors.NewDataError("id", nil, "account id is required")
	}
	if account.StartingBalance <= 0 {
		return errors.NewDataError("startingBalance", account.StartingBalance, "must be positive")
	}
	if account.Phase == "" {
		account.Phase = models.Phase1
	}
	if !account.Phase.Valid() {
		return errors.NewDataError("phase", account.Phase, "unknown phase")
	}

	now := s.now()
	if account.PhaseStartedAt.IsZero() {
		account.PhaseStartedAt = now
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, starting_balance, phase, template, phase_started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			starting_balance = excluded.starting_balance,
			phase = excluded.phase,
			template = excluded.template,
			phase_started_at = excluded.phase_started_at,
			updated_at = excluded.updated_at
	`, account.ID, account.Name, account.StartingBalance, string(account.Phase), account.Template,
		account.PhaseStartedAt.UTC(), account.CreatedAt.UTC(), account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, starting_balance, phase, template, phase_started_at, created_at, updated_at
		FROM accounts WHERE id = ?
	`, accountID)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrAccountNotFound, "account %s", accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns every account ordered by ID.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, starting_balance, phase, template, phase_started_at, created_at, updated_at
		FROM accounts ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var name, template sql.NullString
	var phase string
	if err := row.Scan(&a.ID, &name, &a.StartingBalance, &phase, &template, &a.PhaseStartedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Name = name.String
	a.Template = template.String
	a.Phase = models.Phase(phase)
	return &a, nil
}

// SetPhase moves an account into phase. A positive startingBalance replaces
// the balance the new phase is measured from; trades opened before startedAt
// no longer count towards the account's snapshot.
func (s *SQLiteStore) SetPhase(ctx context.Context, accountID string, phase models.Phase, startingBalance float64, startedAt time.Time) error {
	if !phase.Valid() {
		return errors.NewDataError("phase", phase, "unknown phase")
	}
	if startedAt.IsZero() {
		startedAt = s.now()
	}

	query := "UPDATE accounts SET phase = ?, phase_started_at = ?, updated_at = ?"
	args := []interface{}{string(phase), startedAt.UTC(), s.now()}
	if startingBalance > 0 {
		query += ", starting_balance = ?"
		args = append(args, startingBalance)
	}
	query += " WHERE id = ?"
	args = append(args, accountID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set phase: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Wrapf(errors.ErrAccountNotFound, "account %s", accountID)
	}
	return nil
}

// DeleteAccount removes an account with its trades, positions and history.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, accountID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Wrapf(errors.ErrAccountNotFound, "account %s", accountID)
	}
	return nil
}

// ============================================================================
// Trades & Positions Methods
// ============================================================================

// SaveTrades upserts trades by ID within one transaction.
func (s *SQLiteStore) SaveTrades(ctx context.Context, accountID string, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO trades (account_id, id, symbol, side, volume, open_time, close_time, gross_pnl, swap, commission)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		var closeTime interface{}
		if t.CloseTime != nil {
			closeTime = t.CloseTime.UTC()
		}
		_, err := stmt.ExecContext(ctx, accountID, t.ID, t.Symbol, string(t.Side), t.Volume,
			t.OpenTime.UTC(), closeTime, t.GrossPnL, nullFloat(t.Swap), nullFloat(t.Commission))
		if err != nil {
			return fmt.Errorf("failed to insert trade %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SavePositions replaces the account's open positions.
func (s *SQLiteStore) SavePositions(ctx context.Context, accountID string, positions []models.OpenPosition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM positions WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions (account_id, ticket, symbol, side, volume, open_price, current_price, floating_pnl, stop_loss, point_value, loss_if_stopped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		_, err := stmt.ExecContext(ctx, accountID, p.Ticket, p.Symbol, string(p.Side), p.Volume, p.OpenPrice,
			p.CurrentPrice, p.FloatingPnL, nullFloat(p.StopLoss), p.PointValue, nullFloat(p.StopLossRisk))
		if err != nil {
			return fmt.Errorf("failed to insert position %s: %w", p.Ticket, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetSnapshot assembles the account snapshot the engine evaluates: the
// account's current phase, its starting balance, the trades opened since the
// phase started and the live positions.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	snapshot := &models.AccountSnapshot{
		AccountID:       account.ID,
		StartingBalance: account.StartingBalance,
		CurrentPhase:    account.Phase,
		Trades:          []models.Trade{},
		OpenPositions:   []models.OpenPosition{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, volume, open_time, close_time, gross_pnl, swap, commission
		FROM trades
		WHERE account_id = ? AND open_time >= ?
		ORDER BY open_time ASC, id ASC
	`, accountID, account.PhaseStartedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Trade
		var side string
		var closeTime sql.NullTime
		var swap, commission sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Volume, &t.OpenTime, &closeTime, &t.GrossPnL, &swap, &commission); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = models.Side(side)
		if closeTime.Valid {
			ct := closeTime.Time
			t.CloseTime = &ct
		}
		t.Swap = floatPtr(swap)
		t.Commission = floatPtr(commission)
		snapshot.Trades = append(snapshot.Trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	posRows, err := s.db.QueryContext(ctx, `
		SELECT ticket, symbol, side, volume, open_price, current_price, floating_pnl, stop_loss, point_value, loss_if_stopped
		FROM positions
		WHERE account_id = ?
		ORDER BY ticket ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer posRows.Close()

	for posRows.Next() {
		var p models.OpenPosition
		var side string
		var stop, pointValue, lossIfStopped sql.NullFloat64
		if err := posRows.Scan(&p.Ticket, &p.Symbol, &side, &p.Volume, &p.OpenPrice, &p.CurrentPrice, &p.FloatingPnL, &stop, &pointValue, &lossIfStopped); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Side = models.Side(side)
		p.StopLoss = floatPtr(stop)
		p.PointValue = pointValue.Float64
		p.StopLossRisk = floatPtr(lossIfStopped)
		snapshot.OpenPositions = append(snapshot.OpenPositions, p)
	}
	if err := posRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return snapshot, nil
}

// ============================================================================
// Evaluation History Methods
// ============================================================================

// RecordEvaluation appends an evaluation to the account's history.
// An empty ID is filled with a new ULID.
func (s *SQLiteStore) RecordEvaluation(ctx context.Context, record *EvaluationRecord) error {
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.EvaluatedAt.IsZero() {
		record.EvaluatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, account_id, phase, template, compliant, can_advance, violations, risk_level, true_capacity, theoretical_capacity, evaluated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.AccountID, string(record.Phase), record.Template, boolToInt(record.Compliant), boolToInt(record.CanAdvance),
		record.Violations, record.RiskLevel, record.TrueSafeCapacity, record.TheoreticalCapacity, record.EvaluatedAt.UTC(), record.Payload)
	if err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	return nil
}

// ListEvaluations retrieves evaluation history, newest first.
func (s *SQLiteStore) ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]EvaluationRecord, error) {
	query := "SELECT id, account_id, phase, template, compliant, can_advance, violations, risk_level, true_capacity, theoretical_capacity, evaluated_at, payload FROM evaluations WHERE 1=1"
	args := []interface{}{}

	if filter.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}
	if !filter.Since.IsZero() {
		query += " AND evaluated_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY evaluated_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	var records []EvaluationRecord
	for rows.Next() {
		var r EvaluationRecord
		var phase string
		var template, riskLevel, payload sql.NullString
		var compliant, canAdvance int
		var trueCap, theoCap sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.AccountID, &phase, &template, &compliant, &canAdvance, &r.Violations,
			&riskLevel, &trueCap, &theoCap, &r.EvaluatedAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		r.Phase = models.Phase(phase)
		r.Template = template.String
		r.Compliant = compliant == 1
		r.CanAdvance = canAdvance == 1
		r.RiskLevel = riskLevel.String
		r.TrueSafeCapacity = trueCap.Float64
		r.TheoreticalCapacity = theoCap.Float64
		r.Payload = payload.String
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}

	return records, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
