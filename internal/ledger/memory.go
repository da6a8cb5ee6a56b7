package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/model"
)

// Memory is a mutex-guarded in-process Ledger. It backs tests and runs the
// gateway without a configured database; nothing survives a restart.
type Memory struct {
	mu           sync.Mutex
	accounts     map[string]*model.CreditAccount
	analyses     map[string]*model.StoredAnalysis
	transactions map[string][]model.CreditTransaction
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[string]*model.CreditAccount),
		analyses:     make(map[string]*model.StoredAnalysis),
		transactions: make(map[string][]model.CreditTransaction),
	}
}

func (m *Memory) Grant(_ context.Context, userID string, initial int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; !ok {
		m.accounts[userID] = &model.CreditAccount{UserID: userID, Balance: initial, IsActive: true}
	}
	return nil
}

func (m *Memory) Account(_ context.Context, userID string) (*model.CreditAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *acc
	return &copied, nil
}

func (m *Memory) DebitForAnalysis(_ context.Context, rec *model.StoredAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[rec.UserID]
	if !ok {
		return ErrNotFound
	}
	if !acc.IsActive {
		return ErrInactiveAccount
	}
	if acc.Balance < rec.CreditsUsed {
		return gateway.ErrInsufficientCredits
	}

	stored := *rec
	m.analyses[rec.ID] = &stored
	acc.Balance -= rec.CreditsUsed
	m.appendTx(rec.UserID, -rec.CreditsUsed, model.TxUsed, "Chart analysis")
	return nil
}

func (m *Memory) Credit(_ context.Context, userID string, amount int, txType, description string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	acc.Balance += amount
	m.appendTx(userID, amount, txType, description)
	return nil
}

func (m *Memory) AdminAdjust(_ context.Context, userID string, amount int, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	if acc.Balance+amount < 0 {
		amount = -acc.Balance
	}
	if amount == 0 {
		return nil
	}
	txType := model.TxAdminAdded
	if amount < 0 {
		txType = model.TxAdminRemoved
	}
	acc.Balance += amount
	m.appendTx(userID, amount, txType, description)
	return nil
}

func (m *Memory) DeleteAnalysis(_ context.Context, userID, analysisID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.analyses[analysisID]
	if !ok || rec.UserID != userID {
		return 0, ErrNotFound
	}
	delete(m.analyses, analysisID)

	acc := m.accounts[userID]
	acc.Balance += rec.CreditsUsed
	m.appendTx(userID, rec.CreditsUsed, model.TxRefund, "Analysis deleted")
	return rec.CreditsUsed, nil
}

func (m *Memory) GetAnalysis(_ context.Context, userID, analysisID string) (*model.StoredAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.analyses[analysisID]
	if !ok || rec.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *Memory) ListAnalyses(_ context.Context, userID string, limit int) ([]model.StoredAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.StoredAnalysis
	for _, rec := range m.analyses {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Transactions(_ context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txs := m.transactions[userID]
	out := make([]model.CreditTransaction, len(txs))
	copy(out, txs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) appendTx(userID string, amount int, txType, description string) {
	m.transactions[userID] = append(m.transactions[userID], model.CreditTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   time.Now(),
	})
}
