// Package memory is an in-process storage backend with the same conditional-write
// semantics as the postgres adapter. It backs the "memory" storage driver and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lead-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var errForeignTx = errors.New("memory: transaction was not started by this store")

// Store holds all tables. Transactions are serialized; their writes are buffered
// and applied atomically on Commit, so readers only ever see committed state.
type Store struct {
	sem chan struct{} // one open transaction at a time

	mu            sync.RWMutex
	wallets       map[uuid.UUID]domain.Wallet
	walletByOwner map[uuid.UUID]uuid.UUID
	walletOrder   []uuid.UUID
	transactions  []domain.Transaction
	requests      map[uuid.UUID]domain.LeadRequest
	requestOrder  []uuid.UUID
}

func NewStore() *Store {
	return &Store{
		sem:           make(chan struct{}, 1),
		wallets:       make(map[uuid.UUID]domain.Wallet),
		walletByOwner: make(map[uuid.UUID]uuid.UUID),
		requests:      make(map[uuid.UUID]domain.LeadRequest),
	}
}

// Begin implements ports.DBTransactor. It blocks while another transaction is open.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("memory: begin: %w", ctx.Err())
	}
	return &Tx{
		store:    s,
		wallets:  make(map[uuid.UUID]domain.Wallet),
		requests: make(map[uuid.UUID]domain.LeadRequest),
	}, nil
}

// Tx buffers writes until Commit. Only Commit and Rollback are supported; the
// embedded pgx.Tx is nil and panics on any other call.
type Tx struct {
	pgx.Tx

	store        *Store
	wallets      map[uuid.UUID]domain.Wallet
	transactions []domain.Transaction
	requests     map[uuid.UUID]domain.LeadRequest
	newRequests  []uuid.UUID
	done         bool
}

// Commit applies the buffered writes and releases the store.
func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	defer t.release()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	s.transactions = append(s.transactions, t.transactions...)
	for id, r := range t.requests {
		s.requests[id] = r
	}
	s.requestOrder = append(s.requestOrder, t.newRequests...)
	return nil
}

// Rollback discards the buffered writes. It is a no-op after Commit.
func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.release()
	return nil
}

func (t *Tx) release() {
	<-t.store.sem
}

func asTx(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t == nil {
		return nil, errForeignTx
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// wallet returns the wallet as seen by t: its own pending write, else committed state.
func (t *Tx) wallet(id uuid.UUID) (domain.Wallet, bool) {
	if w, ok := t.wallets[id]; ok {
		return w, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	w, ok := t.store.wallets[id]
	return w, ok
}

func (t *Tx) request(id uuid.UUID) (domain.LeadRequest, bool) {
	if r, ok := t.requests[id]; ok {
		return r, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.requests[id]
	return r, ok
}

// Name lets the store double as a health check for the memory driver.
func (s *Store) Name() string {
	return "memory"
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}
