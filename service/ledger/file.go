package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists the ledger as a single JSON document. Every mutation
// rewrites the whole document through a temp file and rename; if the write
// fails the in-memory state is rolled back so memory and disk never diverge.
type FileStore struct {
	mu   sync.RWMutex
	path string
	doc  *document
}

// OpenFileStore loads the document at path, or starts an empty one if the
// file does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}

	doc := newDocument()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to decode ledger file %s: %w", path, err)
		}
		if doc.Wallets == nil {
			doc.Wallets = []TrackedAccount{}
		}
		if doc.Transactions == nil {
			doc.Transactions = []TransactionRecord{}
		}
		if doc.Holdings == nil {
			doc.Holdings = []Holding{}
		}
	}

	return &FileStore{path: path, doc: doc}, nil
}

// mutate applies fn to a copy of the document and commits it only if the
// document was written to disk.
func (s *FileStore) mutate(fn func(d *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *FileStore) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close ledger temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

func (s *FileStore) ListAccounts(ctx context.Context, subscriberID string) ([]TrackedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.accountsFor(subscriberID), nil
}

func (s *FileStore) ListAllAccounts(ctx context.Context) ([]TrackedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TrackedAccount, len(s.doc.Wallets))
	copy(out, s.doc.Wallets)
	return out, nil
}

func (s *FileStore) AddAccount(ctx context.Context, account TrackedAccount) error {
	return s.mutate(func(d *document) error {
		return d.addAccount(account)
	})
}

func (s *FileStore) RemoveAccount(ctx context.Context, address, subscriberID string) error {
	return s.mutate(func(d *document) error {
		return d.removeAccount(address, subscriberID)
	})
}

func (s *FileStore) HasTransaction(ctx context.Context, address, signature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.hasTransaction(address, signature), nil
}

func (s *FileStore) AppendTransaction(ctx context.Context, record TransactionRecord) error {
	return s.mutate(func(d *document) error {
		return d.appendTransaction(record)
	})
}

func (s *FileStore) RecordTransaction(ctx context.Context, record TransactionRecord, holdings []Holding) error {
	return s.mutate(func(d *document) error {
		if err := d.appendTransaction(record); err != nil {
			return err
		}
		for _, h := range holdings {
			d.putHolding(h)
		}
		return nil
	})
}

func (s *FileStore) ListTransactions(ctx context.Context, address string, limit int) ([]TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.transactions(address, limit), nil
}

func (s *FileStore) CountTransactions(ctx context.Context, address string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.countTransactions(address), nil
}

func (s *FileStore) GetHolding(ctx context.Context, address, token string) (Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.doc.holding(address, token)
	if !ok {
		return Holding{}, ErrHoldingNotFound
	}
	return h, nil
}

func (s *FileStore) PutHolding(ctx context.Context, holding Holding) error {
	return s.mutate(func(d *document) error {
		d.putHolding(holding)
		return nil
	})
}

func (s *FileStore) ListHoldings(ctx context.Context, address string) ([]Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.holdingsFor(address), nil
}
