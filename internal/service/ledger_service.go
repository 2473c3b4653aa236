package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/pkg/apperror"
	"lead-ledger/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const defaultPageSize = 20

// LedgerServiceImpl implements ports.LedgerService with optimistic concurrency
// on the wallet version.
type LedgerServiceImpl struct {
	walletRepo  ports.WalletRepository
	txRepo      ports.TransactionRepository
	transactor  ports.DBTransactor
	notifier    ports.ChangeNotifier
	maxAttempts int
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

// NewLedgerService creates a new LedgerServiceImpl. notifier and m may be nil.
func NewLedgerService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	notifier ports.ChangeNotifier,
	maxAttempts int,
	log zerolog.Logger,
	m *metrics.Metrics,
) *LedgerServiceImpl {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &LedgerServiceImpl{
		walletRepo:  walletRepo,
		txRepo:      txRepo,
		transactor:  transactor,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		log:         log,
		metrics:     m,
	}
}

// OpenWallet returns the owner's wallet, creating it on first use.
func (s *LedgerServiceImpl) OpenWallet(ctx context.Context, actor domain.Actor, ownerID uuid.UUID) (*domain.Wallet, error) {
	if !actor.CanMutateLedger() && actor.ID != ownerID {
		return nil, apperror.ErrForbidden()
	}
	if ownerID == uuid.Nil {
		return nil, apperror.Validation("owner_id is required")
	}

	existing, err := s.walletRepo.GetByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet by owner: %w", err))
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	wallet := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			// Lost a creation race; the winner's wallet is the owner's wallet.
			existing, err := s.walletRepo.GetByOwnerID(ctx, ownerID)
			if err != nil {
				return nil, apperror.InternalError(fmt.Errorf("get wallet by owner: %w", err))
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, apperror.InternalError(fmt.Errorf("create wallet: %w", err))
	}

	publishChange(s.notifier, s.log, domain.TableWallets, domain.OperationInsert, wallet)
	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("owner_id", ownerID.String()).
		Msg("wallet opened")

	return wallet, nil
}

func (s *LedgerServiceImpl) GetWallet(ctx context.Context, actor domain.Actor, walletID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if !actor.CanRead(wallet.OwnerID) {
		return nil, apperror.ErrForbidden()
	}
	return wallet, nil
}

func (s *LedgerServiceImpl) GetWalletByOwner(ctx context.Context, actor domain.Actor, ownerID uuid.UUID) (*domain.Wallet, error) {
	if !actor.CanRead(ownerID) {
		return nil, apperror.ErrForbidden()
	}
	wallet, err := s.walletRepo.GetByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet by owner: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// GetBalance returns the cached balance.
func (s *LedgerServiceImpl) GetBalance(ctx context.Context, actor domain.Actor, walletID uuid.UUID) (int64, error) {
	wallet, err := s.GetWallet(ctx, actor, walletID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

// ApplyTransaction appends an entry and moves the balance in one DB transaction.
// A version conflict is retried until maxAttempts attempts have been made.
func (s *LedgerServiceImpl) ApplyTransaction(ctx context.Context, actor domain.Actor, entry ports.LedgerEntry) (*domain.Transaction, error) {
	if !actor.CanMutateLedger() {
		return nil, apperror.ErrForbidden()
	}
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		wallet, err := s.walletRepo.GetByID(ctx, entry.WalletID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
		}
		if wallet == nil {
			return nil, apperror.ErrNotFound("wallet")
		}

		txn, updated, err := s.applyOnce(ctx, wallet, entry)
		if errors.Is(err, ports.ErrVersionConflict) {
			lastErr = err
			s.metrics.LedgerConflict()
			s.log.Debug().
				Str("wallet_id", wallet.ID.String()).
				Int("attempt", attempt).
				Msg("wallet version conflict, retrying")
			continue
		}
		if err != nil {
			s.metrics.LedgerEntry(string(entry.Direction), outcomeOf(err))
			return nil, err
		}

		s.metrics.LedgerEntry(string(entry.Direction), "ok")
		publishChange(s.notifier, s.log, domain.TableTransactions, domain.OperationInsert, txn)
		publishChange(s.notifier, s.log, domain.TableWallets, domain.OperationUpdate, updated)

		s.log.Info().
			Str("tx_id", txn.ID.String()).
			Str("wallet_id", wallet.ID.String()).
			Str("direction", string(txn.Direction)).
			Int64("amount", txn.Amount).
			Int64("balance_after", txn.BalanceAfter).
			Str("actor_id", actor.ID.String()).
			Msg("ledger entry applied")
		return txn, nil
	}

	s.metrics.LedgerEntry(string(entry.Direction), "conflict")
	return nil, apperror.ErrConcurrentModification(lastErr)
}

func (s *LedgerServiceImpl) applyOnce(ctx context.Context, wallet *domain.Wallet, entry ports.LedgerEntry) (*domain.Transaction, *domain.Wallet, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, updated, err := s.PostInTx(ctx, dbTx, wallet, entry)
	if err != nil {
		return nil, nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return txn, updated, nil
}

// PostInTx makes one conditional write against the wallet snapshot inside tx.
// It returns ports.ErrVersionConflict unwrapped so callers can retry.
func (s *LedgerServiceImpl) PostInTx(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet, entry ports.LedgerEntry) (*domain.Transaction, *domain.Wallet, error) {
	if err := validateEntry(entry); err != nil {
		return nil, nil, err
	}
	if wallet == nil || wallet.ID != entry.WalletID {
		return nil, nil, apperror.InternalError(fmt.Errorf("wallet snapshot does not match entry wallet %s", entry.WalletID))
	}
	if entry.Direction == domain.DirectionDebit && wallet.IsDisabled() {
		return nil, nil, apperror.ErrWalletDisabled()
	}
	if entry.Direction == domain.DirectionCredit && wallet.Balance > math.MaxInt64-entry.Amount {
		return nil, nil, apperror.ErrInvalidAmount()
	}

	newBalance := wallet.Balance + entry.Direction.Signed(entry.Amount)
	if newBalance < 0 {
		return nil, nil, apperror.ErrInsufficientFunds()
	}

	updated, err := s.walletRepo.UpdateBalance(ctx, tx, wallet.ID, newBalance, wallet.Version)
	if err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return nil, nil, ports.ErrVersionConflict
		}
		return nil, nil, apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}

	txn := &domain.Transaction{
		ID:           uuid.New(),
		WalletID:     wallet.ID,
		Amount:       entry.Amount,
		Direction:    entry.Direction,
		Reference:    entry.Reference,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.txRepo.Create(ctx, tx, txn); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	return txn, updated, nil
}

// Reconcile folds the wallet history and repairs the cached balance when it
// diverges. A divergence that survives the repair is escalated.
func (s *LedgerServiceImpl) Reconcile(ctx context.Context, actor domain.Actor, walletID uuid.UUID) (*ports.ReconcileResult, error) {
	if !actor.CanMutateLedger() {
		return nil, apperror.ErrForbidden()
	}

	result := &ports.ReconcileResult{WalletID: walletID}
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		wallet, computed, err := s.snapshot(ctx, walletID)
		if err != nil {
			return nil, err
		}
		if attempt == 1 {
			result.Cached = wallet.Balance
		}
		result.Computed = computed
		if wallet.Balance == computed {
			return result, nil
		}

		s.log.Warn().
			Str("wallet_id", walletID.String()).
			Int64("cached", wallet.Balance).
			Int64("computed", computed).
			Msg("wallet balance diverges from history, repairing")

		repaired, err := s.repair(ctx, wallet, computed)
		if errors.Is(err, ports.ErrVersionConflict) {
			s.metrics.LedgerConflict()
			continue
		}
		if err != nil {
			return nil, err
		}
		result.Repaired = true

		verified, verifiedComputed, err := s.snapshot(ctx, walletID)
		if err != nil {
			return nil, err
		}
		if verified.Balance != verifiedComputed {
			s.log.Error().
				Str("wallet_id", walletID.String()).
				Int64("cached", verified.Balance).
				Int64("computed", verifiedComputed).
				Msg("wallet balance still diverges after repair")
			return nil, apperror.ErrReconcileMismatch(verified.Balance, verifiedComputed)
		}

		publishChange(s.notifier, s.log, domain.TableWallets, domain.OperationUpdate, repaired)
		s.log.Info().
			Str("wallet_id", walletID.String()).
			Int64("balance", repaired.Balance).
			Msg("wallet balance repaired")
		return result, nil
	}

	return nil, apperror.ErrConcurrentModification(ports.ErrVersionConflict)
}

// snapshot reads a wallet and its folded history at one version.
func (s *LedgerServiceImpl) snapshot(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, int64, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		wallet, err := s.walletRepo.GetByID(ctx, walletID)
		if err != nil {
			return nil, 0, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
		}
		if wallet == nil {
			return nil, 0, apperror.ErrNotFound("wallet")
		}

		history, err := s.txRepo.ListAllByWallet(ctx, walletID)
		if err != nil {
			return nil, 0, apperror.InternalError(fmt.Errorf("list wallet history: %w", err))
		}

		again, err := s.walletRepo.GetByID(ctx, walletID)
		if err != nil {
			return nil, 0, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
		}
		if again != nil && again.Version == wallet.Version {
			return wallet, domain.Fold(history), nil
		}
	}
	return nil, 0, apperror.ErrConcurrentModification(ports.ErrVersionConflict)
}

func (s *LedgerServiceImpl) repair(ctx context.Context, wallet *domain.Wallet, balance int64) (*domain.Wallet, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	updated, err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet.ID, balance, wallet.Version)
	if err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return nil, ports.ErrVersionConflict
		}
		return nil, apperror.InternalError(fmt.Errorf("repair balance: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return updated, nil
}

// ListTransactions returns a page of a wallet's entries, newest first.
func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, actor domain.Actor, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if _, err := s.GetWallet(ctx, actor, params.WalletID); err != nil {
		return nil, 0, err
	}
	if params.Direction != nil && !params.Direction.Valid() {
		return nil, 0, apperror.Validation("invalid direction filter")
	}
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize, defaultPageSize)

	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, total, nil
}

func validateEntry(entry ports.LedgerEntry) error {
	if entry.Amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	if !entry.Direction.Valid() {
		return apperror.Validation("invalid direction")
	}
	if entry.Reference.Type == "" || entry.Reference.ID == "" {
		return apperror.Validation("reference type and id are required")
	}
	return nil
}

// outcomeOf labels a failed ledger call for metrics.
func outcomeOf(err error) string {
	switch apperror.Code(err) {
	case apperror.CodeInsufficientFunds:
		return "insufficient_funds"
	case apperror.CodeWalletDisabled:
		return "wallet_disabled"
	case apperror.CodeInvalidAmount:
		return "invalid"
	case apperror.CodeConcurrentModification:
		return "conflict"
	}
	return "error"
}
