package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalx/chartlens/internal/database"
	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/model"
)

// Postgres is the durable Ledger backed by the application database.
type Postgres struct {
	db     *database.DB
	logger zerolog.Logger
}

// NewPostgres creates a Postgres-backed ledger.
func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{
		db:     db,
		logger: log.With().Str("component", "ledger").Logger(),
	}
}

// Grant ensures an active account exists with at least the initial balance.
// Existing accounts are left untouched.
func (p *Postgres) Grant(ctx context.Context, userID string, initial int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, credits, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (id) DO NOTHING
	`, userID, initial)
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// Account returns the user's current balance and active flag.
func (p *Postgres) Account(ctx context.Context, userID string) (*model.CreditAccount, error) {
	acc := &model.CreditAccount{UserID: userID}
	err := p.db.QueryRowContext(ctx, `
		SELECT credits, is_active FROM users WHERE id = $1
	`, userID).Scan(&acc.Balance, &acc.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}
	return acc, nil
}

// DebitForAnalysis stores rec, debits one credit and appends the usage
// transaction atomically. The row lock on the user serializes concurrent
// debits, so two racing analyses against a balance of one produce exactly one
// success.
func (p *Postgres) DebitForAnalysis(ctx context.Context, rec *model.StoredAnalysis) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting debit transaction: %w", err)
	}
	defer tx.Rollback()

	var credits int
	var isActive bool
	err = tx.QueryRowContext(ctx, `
		SELECT credits, is_active FROM users WHERE id = $1 FOR UPDATE
	`, rec.UserID).Scan(&credits, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading balance: %w", err)
	}
	if !isActive {
		return ErrInactiveAccount
	}
	if credits < rec.CreditsUsed {
		return gateway.ErrInsufficientCredits
	}

	analysisJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chart_analyses (id, user_id, symbol, timeframe, analysis, credits_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.UserID, rec.Symbol, rec.Timeframe, analysisJSON, rec.CreditsUsed, rec.CreatedAt); err != nil {
		return fmt.Errorf("storing analysis: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET credits = credits - $1 WHERE id = $2
	`, rec.CreditsUsed, rec.UserID); err != nil {
		return fmt.Errorf("debiting credits: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type, description)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), rec.UserID, -rec.CreditsUsed, model.TxUsed, "Chart analysis"); err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing debit: %w", err)
	}

	p.logger.Info().Str("user_id", rec.UserID).Str("analysis_id", rec.ID).Msg("Debited credit for analysis")
	return nil
}

// Credit increases the balance and appends a transaction of the given type.
func (p *Postgres) Credit(ctx context.Context, userID string, amount int, txType, description string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return p.adjust(ctx, userID, amount, txType, description)
}

// AdminAdjust applies a signed balance change on behalf of an operator,
// recording admin_added or admin_removed. Removal never drives the balance
// below zero.
func (p *Postgres) AdminAdjust(ctx context.Context, userID string, amount int, description string) error {
	txType := model.TxAdminAdded
	if amount < 0 {
		txType = model.TxAdminRemoved
	}
	return p.adjust(ctx, userID, amount, txType, description)
}

func (p *Postgres) adjust(ctx context.Context, userID string, amount int, txType, description string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting adjust transaction: %w", err)
	}
	defer tx.Rollback()

	var credits int
	err = tx.QueryRowContext(ctx, `
		SELECT credits FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading balance: %w", err)
	}

	if credits+amount < 0 {
		amount = -credits
	}
	if amount == 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET credits = credits + $1 WHERE id = $2
	`, amount, userID); err != nil {
		return fmt.Errorf("adjusting credits: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type, description)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), userID, amount, txType, description); err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}

	return tx.Commit()
}

// DeleteAnalysis removes a stored analysis and refunds exactly the credits it
// consumed, appending the refund transaction in the same atomic unit. Returns
// the refunded amount.
func (p *Postgres) DeleteAnalysis(ctx context.Context, userID, analysisID string) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting delete transaction: %w", err)
	}
	defer tx.Rollback()

	var creditsUsed int
	err = tx.QueryRowContext(ctx, `
		DELETE FROM chart_analyses WHERE id = $1 AND user_id = $2
		RETURNING credits_used
	`, analysisID, userID).Scan(&creditsUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("deleting analysis: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET credits = credits + $1 WHERE id = $2
	`, creditsUsed, userID); err != nil {
		return 0, fmt.Errorf("refunding credits: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type, description)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), userID, creditsUsed, model.TxRefund, "Analysis deleted"); err != nil {
		return 0, fmt.Errorf("recording refund: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}

	p.logger.Info().Str("user_id", userID).Str("analysis_id", analysisID).Int("refunded", creditsUsed).Msg("Deleted analysis and refunded credits")
	return creditsUsed, nil
}

// GetAnalysis returns one stored analysis owned by the user.
func (p *Postgres) GetAnalysis(ctx context.Context, userID, analysisID string) (*model.StoredAnalysis, error) {
	rec := &model.StoredAnalysis{}
	var analysisJSON []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, timeframe, analysis, credits_used, created_at
		FROM chart_analyses
		WHERE id = $1 AND user_id = $2
	`, analysisID, userID).Scan(
		&rec.ID, &rec.UserID, &rec.Symbol, &rec.Timeframe, &analysisJSON, &rec.CreditsUsed, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading analysis: %w", err)
	}
	if err := json.Unmarshal(analysisJSON, &rec.Result); err != nil {
		return nil, fmt.Errorf("decoding analysis: %w", err)
	}
	return rec, nil
}

// ListAnalyses returns the user's analysis history, newest first.
func (p *Postgres) ListAnalyses(ctx context.Context, userID string, limit int) ([]model.StoredAnalysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, symbol, timeframe, analysis, credits_used, created_at
		FROM chart_analyses
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	defer rows.Close()

	var out []model.StoredAnalysis
	for rows.Next() {
		var rec model.StoredAnalysis
		var analysisJSON []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Symbol, &rec.Timeframe, &analysisJSON, &rec.CreditsUsed, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		if err := json.Unmarshal(analysisJSON, &rec.Result); err != nil {
			return nil, fmt.Errorf("decoding analysis: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Transactions returns the user's credit log, newest first.
func (p *Postgres) Transactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, amount, type, description, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []model.CreditTransaction
	for rows.Next() {
		var t model.CreditTransaction
		var created time.Time
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Description, &created); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		t.CreatedAt = created
		out = append(out, t)
	}
	return out, rows.Err()
}
