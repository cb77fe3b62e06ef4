// Package postgres persists accounts in a relational table via GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/motionlabs/meterd/internal/module/ledger"
)

// Store is the GORM-backed account store.
type Store struct {
	db *gorm.DB
}

// New creates the store and ensures the accounts table exists.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ledger.Account{}); err != nil {
		return nil, fmt.Errorf("migrate accounts: %w", err)
	}
	return &Store{db: db}, nil
}

var _ ledger.Store = (*Store)(nil)

// Get returns the account by ID.
func (s *Store) Get(ctx context.Context, id string) (*ledger.Account, error) {
	var account ledger.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// FindByAttribute returns the account holding the secondary attribute.
func (s *Store) FindByAttribute(ctx context.Context, kind ledger.AttributeKind, value string) (*ledger.Account, error) {
	if value == "" {
		return nil, ledger.ErrAccountNotFound
	}

	column, ok := attributeColumn(kind)
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}

	var account ledger.Account
	err := s.db.WithContext(ctx).First(&account, column+" = ?", value).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// Create inserts a new account.
func (s *Store) Create(ctx context.Context, account *ledger.Account) error {
	err := s.db.WithContext(ctx).Create(account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("%w: create account: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// Apply runs mutate inside a transaction holding a row lock on the
// account, so the read-modify-write is atomic per account.
func (s *Store) Apply(ctx context.Context, id string, mutate func(*ledger.Account) error) (*ledger.Account, error) {
	var result *ledger.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account ledger.Account
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&account, "id = ?", id).Error
		if err != nil {
			return translate(err)
		}

		if err := mutate(&account); err != nil {
			return err
		}

		if err := tx.Save(&account).Error; err != nil {
			return fmt.Errorf("%w: save account: %v", ledger.ErrStoreUnavailable, err)
		}
		result = &account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func attributeColumn(kind ledger.AttributeKind) (string, bool) {
	switch kind {
	case ledger.AttributeIPAddress:
		return "ip_address", true
	case ledger.AttributeExternalID:
		return "external_id", true
	default:
		return "", false
	}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.ErrAccountNotFound
	}
	return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
}
