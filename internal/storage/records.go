// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the financial record collections as encrypted
// JSON files, one file per collection, optionally prefixed per user.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/budgetvault/internal/model"
	"github.com/jeranaias/budgetvault/internal/security"
	"github.com/jeranaias/budgetvault/internal/util"
)

// Collection file base names.
const (
	transactionsFile = "transactions.json"
	budgetsFile      = "budgets.json"
	goalsFile        = "goals.json"
)

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordStore reads and writes the record collections. Loads are
// fail-soft: a missing, corrupt, or undecryptable file yields an empty
// collection, never an error, so a damaged data directory degrades to a
// fresh start instead of a crash. Saves are strict: any failure to
// serialize, encrypt, or write is returned to the caller.
type RecordStore struct {
	dataDir string
	cipher  *security.Cipher

	announce func(path string)

	mu       sync.Mutex
	username string
}

// RecordStoreOption configures a RecordStore.
type RecordStoreOption func(*RecordStore)

// WithWriteAnnouncer registers a callback invoked with the target path
// before each save, so a tamper watcher can exempt the application's own
// writes.
func WithWriteAnnouncer(fn func(path string)) RecordStoreOption {
	return func(s *RecordStore) {
		s.announce = fn
	}
}

// NewRecordStore creates a store rooted at dataDir, creating the
// directory if needed.
func NewRecordStore(dataDir string, cipher *security.Cipher, opts ...RecordStoreOption) (*RecordStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &RecordStore{
		dataDir: dataDir,
		cipher:  cipher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetUser scopes subsequent loads and saves to username's files. The
// lowercased username becomes a filename prefix; an empty username
// returns to the shared unprefixed files.
func (s *RecordStore) SetUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = strings.ToLower(strings.TrimSpace(username))
}

// filePath resolves a collection's on-disk location for the bound user.
func (s *RecordStore) filePath(base string) string {
	s.mu.Lock()
	username := s.username
	s.mu.Unlock()

	if username != "" {
		base = username + "_" + base
	}
	return filepath.Join(s.dataDir, base)
}

// =============================================================================
// COLLECTIONS
// =============================================================================

// LoadTransactions returns the bound user's transactions.
func (s *RecordStore) LoadTransactions() []*model.Transaction {
	return loadCollection[model.Transaction](s, transactionsFile)
}

// SaveTransactions persists the bound user's transactions.
func (s *RecordStore) SaveTransactions(items []*model.Transaction) error {
	return saveCollection(s, transactionsFile, items)
}

// LoadBudgets returns the bound user's budgets.
func (s *RecordStore) LoadBudgets() []*model.Budget {
	return loadCollection[model.Budget](s, budgetsFile)
}

// SaveBudgets persists the bound user's budgets.
func (s *RecordStore) SaveBudgets(items []*model.Budget) error {
	return saveCollection(s, budgetsFile, items)
}

// LoadGoals returns the bound user's financial goals.
func (s *RecordStore) LoadGoals() []*model.FinancialGoal {
	return loadCollection[model.FinancialGoal](s, goalsFile)
}

// SaveGoals persists the bound user's financial goals.
func (s *RecordStore) SaveGoals(items []*model.FinancialGoal) error {
	return saveCollection(s, goalsFile, items)
}

// =============================================================================
// LOAD / SAVE MACHINERY
// =============================================================================

// loadCollection reads one collection file. Legacy plaintext files are
// parsed and re-saved encrypted in place. Decode is strict: unknown
// fields mark the file as foreign and the whole collection degrades to
// empty rather than importing half-understood data.
func loadCollection[T any](s *RecordStore, base string) []*T {
	path := s.filePath(base)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	raw := data
	legacy := false
	if security.LooksEncrypted(data) {
		plaintext, err := s.cipher.Decrypt(string(data))
		if err != nil {
			return nil
		}
		raw = plaintext
	} else {
		legacy = true
	}

	var items []*T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&items); err != nil {
		return nil
	}

	if legacy {
		// Best effort: the data is usable either way.
		_ = saveCollection(s, base, items)
	}
	return items
}

// saveCollection writes one collection file: marshal, encrypt, atomic
// whole-file replace.
func saveCollection[T any](s *RecordStore, base string, items []*T) error {
	if items == nil {
		items = []*T{}
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", base, err)
	}
	token, err := s.cipher.Encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", base, err)
	}

	path := s.filePath(base)
	if s.announce != nil {
		s.announce(path)
	}
	return util.AtomicWriteFile(path, []byte(token), 0600)
}
