// Package sheet persists accounts as rows of an xlsx workbook. It exists
// for deployments where the balance sheet doubles as the operator's
// spreadsheet; a file-level mutex serializes all mutations.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/motionlabs/meterd/internal/module/ledger"
)

const sheetName = "accounts"

var header = []interface{}{
	"id", "ip_address", "external_id", "used_credits", "max_credits",
	"plan_tier", "subscription_active", "created_at", "updated_at",
}

// Store is the spreadsheet-backed account store. The whole workbook is
// held in memory; every write saves the file.
type Store struct {
	mu   sync.Mutex
	path string
	file *excelize.File
	rows map[string]int // account ID -> 1-based row index
}

// Open loads the workbook at path, creating it when absent.
func Open(path string) (*Store, error) {
	s := &Store{path: path, rows: make(map[string]int)}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.file = excelize.NewFile()
		if _, err := s.file.NewSheet(sheetName); err != nil {
			return nil, fmt.Errorf("create sheet: %w", err)
		}
		if err := s.file.SetSheetRow(sheetName, "A1", &header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		if err := s.file.SaveAs(path); err != nil {
			return nil, fmt.Errorf("save workbook: %w", err)
		}
		return s, nil
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	s.file = file

	rows, err := file.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	for i, row := range rows {
		if i == 0 || len(row) == 0 || row[0] == "" {
			continue
		}
		s.rows[row[0]] = i + 1
	}
	return s, nil
}

var _ ledger.Store = (*Store)(nil)

// Get returns the account by ID.
func (s *Store) Get(_ context.Context, id string) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

// FindByAttribute scans rows for the secondary attribute value.
func (s *Store) FindByAttribute(_ context.Context, kind ledger.AttributeKind, value string) (*ledger.Account, error) {
	if value == "" {
		return nil, ledger.ErrAccountNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.rows {
		account, err := s.get(id)
		if err != nil {
			return nil, err
		}
		switch kind {
		case ledger.AttributeIPAddress:
			if account.IPAddress == value {
				return account, nil
			}
		case ledger.AttributeExternalID:
			if account.ExternalID == value {
				return account, nil
			}
		}
	}
	return nil, ledger.ErrAccountNotFound
}

// Create appends a new account row.
func (s *Store) Create(_ context.Context, account *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[account.ID]; ok {
		return ledger.ErrAccountExists
	}

	now := time.Now()
	stored := *account
	stored.CreatedAt = now
	stored.UpdatedAt = now

	row := len(s.rows) + 2 // header occupies row 1
	if err := s.writeRow(row, &stored); err != nil {
		_ = s.file.RemoveRow(sheetName, row)
		return err
	}
	if err := s.save(); err != nil {
		// Keep the live workbook in step with disk: a failed create must
		// not leave the account readable.
		_ = s.file.RemoveRow(sheetName, row)
		return err
	}
	s.rows[account.ID] = row
	return nil
}

// Apply runs mutate under the file mutex and rewrites the account's row.
func (s *Store) Apply(_ context.Context, id string, mutate func(*ledger.Account) error) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.get(id)
	if err != nil {
		return nil, err
	}

	if err := mutate(account); err != nil {
		return nil, err
	}
	account.UpdatedAt = time.Now()

	row := s.rows[id]
	prior, err := s.rowCells(row)
	if err != nil {
		return nil, err
	}

	if err := s.writeRow(row, account); err != nil {
		s.restoreRow(row, prior)
		return nil, err
	}
	if err := s.save(); err != nil {
		// Disk still holds the old row; put the live workbook back too so
		// reads after a failed mutation see the pre-call state.
		s.restoreRow(row, prior)
		return nil, err
	}
	return account, nil
}

func (s *Store) get(id string) (*ledger.Account, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}

	cells, err := s.rowCells(row)
	if err != nil {
		return nil, err
	}
	return parseAccount(cells)
}

func (s *Store) rowCells(row int) ([]string, error) {
	cells := make([]string, len(header))
	for col := range header {
		name, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
		}
		value, err := s.file.GetCellValue(sheetName, name)
		if err != nil {
			return nil, fmt.Errorf("%w: read cell: %v", ledger.ErrStoreUnavailable, err)
		}
		cells[col] = value
	}
	return cells, nil
}

func (s *Store) writeRow(row int, account *ledger.Account) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	values := []interface{}{
		account.ID,
		account.IPAddress,
		account.ExternalID,
		account.UsedCredits,
		account.MaxCredits,
		string(account.PlanTier),
		strconv.FormatBool(account.SubscriptionActive),
		account.CreatedAt.Format(time.RFC3339),
		account.UpdatedAt.Format(time.RFC3339),
	}
	if err := s.file.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("%w: write row: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// restoreRow rewrites a row from previously captured cell values.
func (s *Store) restoreRow(row int, cells []string) {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return
	}
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	_ = s.file.SetSheetRow(sheetName, cell, &values)
}

func (s *Store) save() error {
	if err := s.file.Save(); err != nil {
		return fmt.Errorf("%w: save workbook: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the underlying workbook.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func parseAccount(cells []string) (*ledger.Account, error) {
	used, err := strconv.Atoi(zeroDefault(cells[3]))
	if err != nil {
		return nil, fmt.Errorf("%w: parse used_credits: %v", ledger.ErrStoreUnavailable, err)
	}
	max, err := strconv.Atoi(zeroDefault(cells[4]))
	if err != nil {
		return nil, fmt.Errorf("%w: parse max_credits: %v", ledger.ErrStoreUnavailable, err)
	}

	account := &ledger.Account{
		ID:                 cells[0],
		IPAddress:          cells[1],
		ExternalID:         cells[2],
		UsedCredits:        used,
		MaxCredits:         max,
		PlanTier:           ledger.PlanTier(cells[5]),
		SubscriptionActive: cells[6] == "true",
	}
	if t, err := time.Parse(time.RFC3339, cells[7]); err == nil {
		account.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, cells[8]); err == nil {
		account.UpdatedAt = t
	}
	return account, nil
}

func zeroDefault(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
