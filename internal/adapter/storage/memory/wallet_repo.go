package memory

import (
	"context"
	"fmt"
	"time"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	store *Store
}

func NewWalletRepo(store *Store) *WalletRepo {
	return &WalletRepo{store: store}
}

func (r *WalletRepo) Create(_ context.Context, w *domain.Wallet) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.walletByOwner[w.OwnerID]; exists {
		return fmt.Errorf("insert wallet: %w", ports.ErrDuplicate)
	}
	if _, exists := s.wallets[w.ID]; exists {
		return fmt.Errorf("insert wallet: %w", ports.ErrDuplicate)
	}
	s.wallets[w.ID] = *w
	s.walletByOwner[w.OwnerID] = w.ID
	s.walletOrder = append(s.walletOrder, w.ID)
	return nil
}

func (r *WalletRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *WalletRepo) GetByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	r.store.mu.RLock()
	id, ok := r.store.walletByOwner[ownerID]
	r.store.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *WalletRepo) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, len(s.walletOrder))
	copy(ids, s.walletOrder)
	return ids, nil
}

// UpdateBalance buffers a conditional write in tx.
func (r *WalletRepo) UpdateBalance(_ context.Context, tx pgx.Tx, id uuid.UUID, balance, expectedVersion int64) (*domain.Wallet, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}

	w, ok := t.wallet(id)
	if !ok || w.Version != expectedVersion {
		return nil, ports.ErrVersionConflict
	}
	if balance < 0 {
		return nil, fmt.Errorf("update wallet balance: balance would be negative")
	}
	w.Balance = balance
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	t.wallets[id] = w
	return &w, nil
}

// DisableWallet soft-disables a wallet. Used by tests and the memory driver only.
func (r *WalletRepo) DisableWallet(_ context.Context, id uuid.UUID, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[id]
	if !ok {
		return fmt.Errorf("wallet not found: %s", id)
	}
	w.DisabledAt = &at
	s.wallets[id] = w
	return nil
}

// CorruptBalance overwrites a cached balance without a ledger entry, simulating drift
// for reconcile tests.
func (r *WalletRepo) CorruptBalance(id uuid.UUID, balance int64) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.wallets[id]; ok {
		w.Balance = balance
		s.wallets[id] = w
	}
}
