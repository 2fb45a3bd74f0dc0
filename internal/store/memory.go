package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"RimValidator/internal/model"
)

// BalanceUpdate is one write observed by a MemoryStore.
type BalanceUpdate struct {
	ID      model.AccountID
	Balance float64
}

// MemoryStore keeps accounts in process. It is used for dry runs and tests;
// failures can be injected per call.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  []model.Account
	updates   []BalanceUpdate
	FetchErr  error
	UpdateErr map[model.AccountID]error
}

// NewMemoryStore copies the given accounts, preserving their order.
func NewMemoryStore(accounts ...model.Account) *MemoryStore {
	m := &MemoryStore{UpdateErr: make(map[model.AccountID]error)}
	m.accounts = append(m.accounts, accounts...)
	return m
}

// LoadMemoryStore seeds a MemoryStore from a JSON file holding rows in the
// same shape the REST table returns.
func LoadMemoryStore(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	accounts, err := DecodeAccounts(f)
	if err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return NewMemoryStore(accounts...), nil
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) FetchAll(_ context.Context) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	out := make([]model.Account, len(m.accounts))
	copy(out, m.accounts)
	return out, nil
}

func (m *MemoryStore) UpdateBalance(_ context.Context, id model.AccountID, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.UpdateErr[id]; err != nil {
		return err
	}
	for i := range m.accounts {
		if m.accounts[i].ID == id {
			m.accounts[i].Balance = balance
			m.updates = append(m.updates, BalanceUpdate{ID: id, Balance: balance})
			return nil
		}
	}
	return fmt.Errorf("update %s: %w", id, ErrNotFound)
}

// Balance returns the stored balance of id.
func (m *MemoryStore) Balance(id model.AccountID) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if acc.ID == id {
			return acc.Balance, true
		}
	}
	return 0, false
}

// Updates returns every successful write in order.
func (m *MemoryStore) Updates() []BalanceUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BalanceUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

// Mutate applies fn to the stored account, simulating another writer.
func (m *MemoryStore) Mutate(id model.AccountID, fn func(*model.Account)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.accounts {
		if m.accounts[i].ID == id {
			fn(&m.accounts[i])
			return true
		}
	}
	return false
}
