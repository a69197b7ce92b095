package credits

import (
	"context"
	"errors"
	"sync"
	"time"

	"norruva.org/internal/ids"
)

// Service grants and reports recycling credits.
type Service interface {
	// Mint credits amount to userID. A repeated idemKey returns the original
	// transaction without crediting again.
	Mint(ctx context.Context, userID string, amount int64, reason, idemKey string) (Transaction, error)
	GetAccount(ctx context.Context, userID string) (Account, error)
	ListTransactions(ctx context.Context, userID string, limit int, afterSeq uint64) ([]Transaction, uint64, error)
}

// Balance returns the credits held by userID; users without an account hold
// none.
func Balance(ctx context.Context, s Service, userID string) (int64, error) {
	acc, err := s.GetAccount(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	accts map[string]*Account
	seq   uint64
	txs   []Transaction
	idem  map[string]Transaction
}

// NewInMemory creates an empty credit ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		accts: make(map[string]*Account),
		idem:  make(map[string]Transaction),
	}
}

func (s *InMemory) Mint(ctx context.Context, userID string, amount int64, reason, idemKey string) (Transaction, error) {
	if userID == "" {
		return Transaction{}, ErrInvalidUser
	}
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idemKey != "" {
		if tx, ok := s.idem[idemKey]; ok {
			return tx, nil
		}
	}

	now := time.Now().UTC()
	acc, ok := s.accts[userID]
	if !ok {
		acc = &Account{UserID: userID, CreatedAt: now}
		s.accts[userID] = acc
	}
	acc.Balance += amount
	acc.UpdatedAt = now

	s.seq++
	tx := Transaction{
		ID:             ids.WithPrefix(ids.PrefixCredit),
		UserID:         userID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idemKey,
		Sequence:       s.seq,
		CreatedAt:      now,
	}
	s.txs = append(s.txs, tx)
	if idemKey != "" {
		s.idem[idemKey] = tx
	}
	return tx, nil
}

func (s *InMemory) GetAccount(ctx context.Context, userID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *acc, nil
}

func (s *InMemory) ListTransactions(ctx context.Context, userID string, limit int, afterSeq uint64) ([]Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Transaction
	var last uint64
	for _, tx := range s.txs {
		if tx.Sequence <= afterSeq {
			continue
		}
		if userID != "" && tx.UserID != userID {
			continue
		}
		res = append(res, tx)
		last = tx.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}
