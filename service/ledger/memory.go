package ledger

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store. It is used in tests and when the
// service runs without persistence.
type MemoryStore struct {
	mu  sync.RWMutex
	doc *document
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: newDocument()}
}

func (s *MemoryStore) ListAccounts(ctx context.Context, subscriberID string) ([]TrackedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.accountsFor(subscriberID), nil
}

func (s *MemoryStore) ListAllAccounts(ctx context.Context) ([]TrackedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TrackedAccount, len(s.doc.Wallets))
	copy(out, s.doc.Wallets)
	return out, nil
}

func (s *MemoryStore) AddAccount(ctx context.Context, account TrackedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.addAccount(account)
}

func (s *MemoryStore) RemoveAccount(ctx context.Context, address, subscriberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.removeAccount(address, subscriberID)
}

func (s *MemoryStore) HasTransaction(ctx context.Context, address, signature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.hasTransaction(address, signature), nil
}

func (s *MemoryStore) AppendTransaction(ctx context.Context, record TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.appendTransaction(record)
}

func (s *MemoryStore) RecordTransaction(ctx context.Context, record TransactionRecord, holdings []Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.doc.appendTransaction(record); err != nil {
		return err
	}
	for _, h := range holdings {
		s.doc.putHolding(h)
	}
	return nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, address string, limit int) ([]TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.transactions(address, limit), nil
}

func (s *MemoryStore) CountTransactions(ctx context.Context, address string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.countTransactions(address), nil
}

func (s *MemoryStore) GetHolding(ctx context.Context, address, token string) (Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.doc.holding(address, token)
	if !ok {
		return Holding{}, ErrHoldingNotFound
	}
	return h, nil
}

func (s *MemoryStore) PutHolding(ctx context.Context, holding Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.putHolding(holding)
	return nil
}

func (s *MemoryStore) ListHoldings(ctx context.Context, address string) ([]Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.holdingsFor(address), nil
}
