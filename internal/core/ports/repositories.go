package ports

import (
	"context"
	"errors"

	"lead-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository sentinel errors. Services translate them into apperror values.
var (
	// ErrVersionConflict is returned when a conditional write observed a different version.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// WalletRepository defines persistence operations for wallets.
// Getters return (nil, nil) when the wallet does not exist.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
	// UpdateBalance writes balance and bumps the version, but only if the stored
	// version still equals expectedVersion. Returns ErrVersionConflict otherwise.
	UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance, expectedVersion int64) (*domain.Wallet, error)
}

// TransactionRepository defines persistence operations for the append-only ledger.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	// ListAllByWallet returns the full history of a wallet in insertion order.
	ListAllByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.Transaction, error)
	ListByReference(ctx context.Context, ref domain.Reference) ([]domain.Transaction, error)
}

// TransactionListParams holds filter + pagination for listing a wallet's transactions.
type TransactionListParams struct {
	WalletID  uuid.UUID
	Direction *domain.Direction
	Page      int
	PageSize  int
}

// LeadRequestRepository defines persistence operations for lead requests.
type LeadRequestRepository interface {
	// Create returns ErrDuplicate when the requester already has a pending request for the project.
	Create(ctx context.Context, tx pgx.Tx, request *domain.LeadRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LeadRequest, error)
	List(ctx context.Context, params LeadRequestListParams) ([]domain.LeadRequest, int64, error)
	// UpdateState persists status, payment status and admin notes of request if the
	// stored version equals expectedVersion. Returns ErrVersionConflict otherwise.
	UpdateState(ctx context.Context, tx pgx.Tx, request *domain.LeadRequest, expectedVersion int64) (*domain.LeadRequest, error)
}

// LeadRequestListParams holds filter + pagination for listing lead requests.
type LeadRequestListParams struct {
	RequesterID *uuid.UUID
	ProjectID   *uuid.UUID
	Status      *domain.RequestStatus
	Page        int
	PageSize    int
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
