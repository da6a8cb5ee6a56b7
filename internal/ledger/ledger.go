// Package ledger implements atomic credit accounting for chart analyses.
// Every balance mutation appends an immutable CreditTransaction, so the sum
// of a user's transactions always equals their balance minus the initial
// grant.
package ledger

import (
	"context"
	"errors"

	"github.com/signalx/chartlens/internal/model"
)

// ErrNotFound is returned for lookups of unknown users or analyses.
var ErrNotFound = errors.New("ledger: not found")

// ErrInactiveAccount is returned when a debit targets a deactivated account.
var ErrInactiveAccount = errors.New("ledger: account is inactive")

// Ledger meters consumable credits against persisted analyses.
//
// DebitForAnalysis is the one compound operation: inside a single atomic
// transaction it re-reads the balance, aborts with
// gateway.ErrInsufficientCredits when it is below one, and otherwise stores
// the analysis, decrements the balance and appends the usage transaction as
// one all-or-nothing unit.
type Ledger interface {
	Grant(ctx context.Context, userID string, initial int) error
	Account(ctx context.Context, userID string) (*model.CreditAccount, error)
	DebitForAnalysis(ctx context.Context, rec *model.StoredAnalysis) error
	Credit(ctx context.Context, userID string, amount int, txType, description string) error
	AdminAdjust(ctx context.Context, userID string, amount int, description string) error
	DeleteAnalysis(ctx context.Context, userID, analysisID string) (int, error)
	GetAnalysis(ctx context.Context, userID, analysisID string) (*model.StoredAnalysis, error)
	ListAnalyses(ctx context.Context, userID string, limit int) ([]model.StoredAnalysis, error)
	Transactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error)
}
