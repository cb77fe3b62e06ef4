// Package memory provides an in-process account store. It honors the same
// atomicity contract as the database-backed stores and is the default
// backend for tests and single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/motionlabs/meterd/internal/module/ledger"
)

// Store keeps accounts in a map guarded by a RWMutex. Apply holds the
// write lock for the whole read-modify-write, which serializes mutations
// per account (and, cheaply, across accounts).
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*ledger.Account
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{accounts: make(map[string]*ledger.Account)}
}

var _ ledger.Store = (*Store)(nil)

// Get returns a copy of the account by ID.
func (s *Store) Get(_ context.Context, id string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return clone(account), nil
}

// FindByAttribute scans for an account holding the secondary attribute.
func (s *Store) FindByAttribute(_ context.Context, kind ledger.AttributeKind, value string) (*ledger.Account, error) {
	if value == "" {
		return nil, ledger.ErrAccountNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if attributeValue(account, kind) == value {
			return clone(account), nil
		}
	}
	return nil, ledger.ErrAccountNotFound
}

// Create inserts a new account.
func (s *Store) Create(_ context.Context, account *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return ledger.ErrAccountExists
	}
	now := time.Now()
	stored := clone(account)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.accounts[account.ID] = stored
	return nil
}

// Apply runs mutate under the write lock and persists the result.
func (s *Store) Apply(_ context.Context, id string, mutate func(*ledger.Account) error) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}

	next := clone(current)
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()
	s.accounts[id] = next
	return clone(next), nil
}

func attributeValue(a *ledger.Account, kind ledger.AttributeKind) string {
	switch kind {
	case ledger.AttributeIPAddress:
		return a.IPAddress
	case ledger.AttributeExternalID:
		return a.ExternalID
	default:
		return ""
	}
}

func clone(a *ledger.Account) *ledger.Account {
	copied := *a
	return &copied
}
