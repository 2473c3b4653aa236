package memory

import (
	"context"
	"fmt"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	store *Store
}

func NewTransactionRepo(store *Store) *TransactionRepo {
	return &TransactionRepo{store: store}
}

func (r *TransactionRepo) Create(_ context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	t, err := asTx(tx)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	if txn.Amount <= 0 || !txn.Direction.Valid() {
		return fmt.Errorf("insert transaction: invalid entry")
	}
	if _, ok := t.wallet(txn.WalletID); !ok {
		return fmt.Errorf("insert transaction: wallet %s does not exist", txn.WalletID)
	}
	t.transactions = append(t.transactions, *txn)
	return nil
}

// List returns a page of a wallet's entries, newest first.
func (r *TransactionRepo) List(_ context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.WalletID != params.WalletID {
			continue
		}
		if params.Direction != nil && t.Direction != *params.Direction {
			continue
		}
		matched = append(matched, t)
	}
	return paginate(matched, params.Page, params.PageSize), int64(len(matched)), nil
}

func (r *TransactionRepo) ListAllByWallet(_ context.Context, walletID uuid.UUID) ([]domain.Transaction, error) {
	return r.filter(func(t *domain.Transaction) bool { return t.WalletID == walletID }), nil
}

func (r *TransactionRepo) ListByReference(_ context.Context, ref domain.Reference) ([]domain.Transaction, error) {
	return r.filter(func(t *domain.Transaction) bool { return t.Reference == ref }), nil
}

func (r *TransactionRepo) filter(keep func(*domain.Transaction) bool) []domain.Transaction {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for i := range s.transactions {
		if keep(&s.transactions[i]) {
			out = append(out, s.transactions[i])
		}
	}
	return out
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
