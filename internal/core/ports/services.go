package ports

import (
	"context"
	"time"

	"lead-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(actor domain.Actor) (string, time.Time, error)
	Validate(tokenString string) (*domain.Actor, error)
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// --- Service Ports (Business Logic) ---

// LedgerService owns wallet balances and the immutable transaction log.
type LedgerService interface {
	OpenWallet(ctx context.Context, actor domain.Actor, ownerID uuid.UUID) (*domain.Wallet, error)
	GetWallet(ctx context.Context, actor domain.Actor, walletID uuid.UUID) (*domain.Wallet, error)
	GetWalletByOwner(ctx context.Context, actor domain.Actor, ownerID uuid.UUID) (*domain.Wallet, error)
	ApplyTransaction(ctx context.Context, actor domain.Actor, entry LedgerEntry) (*domain.Transaction, error)
	GetBalance(ctx context.Context, actor domain.Actor, walletID uuid.UUID) (int64, error)
	Reconcile(ctx context.Context, actor domain.Actor, walletID uuid.UUID) (*ReconcileResult, error)
	ListTransactions(ctx context.Context, actor domain.Actor, params TransactionListParams) ([]domain.Transaction, int64, error)
	// PostInTx makes a single conditional write against wallet inside a caller-owned
	// transaction. A stale wallet snapshot yields ErrVersionConflict; the caller retries.
	PostInTx(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet, entry LedgerEntry) (*domain.Transaction, *domain.Wallet, error)
}

// LedgerEntry is a validated request to move funds on one wallet.
type LedgerEntry struct {
	WalletID  uuid.UUID
	Amount    int64
	Direction domain.Direction
	Reference domain.Reference
}

// ReconcileResult reports one integrity audit of a wallet.
type ReconcileResult struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Cached   int64     `json:"cached"`
	Computed int64     `json:"computed"`
	Repaired bool      `json:"repaired"`
}

// WorkflowService drives lead requests through their approval state machine.
type WorkflowService interface {
	Submit(ctx context.Context, actor domain.Actor, req SubmitRequest) (*domain.LeadRequest, error)
	Approve(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.LeadRequest, error)
	Reject(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.LeadRequest, error)
	Complete(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.LeadRequest, error)
	Refund(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.LeadRequest, error)
	Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.LeadRequest, error)
	List(ctx context.Context, actor domain.Actor, params LeadRequestListParams) ([]domain.LeadRequest, int64, error)
}

// SubmitRequest holds validated input for a new lead request.
type SubmitRequest struct {
	ProjectID uuid.UUID
	Quantity  int64
	UnitPrice int64
	Notes     *string
}

// --- Change stream ---

// ChangeNotifier hands committed changes to the realtime pipeline. Notify must not block.
type ChangeNotifier interface {
	Notify(event domain.ChangeEvent)
}

// ChangePublisher delivers a change event to a broker topic.
type ChangePublisher interface {
	Publish(ctx context.Context, topic string, event domain.ChangeEvent) error
}

// StreamSink receives what a change stream connection observes.
type StreamSink interface {
	// OnStatus reports a raw transport status such as "SUBSCRIBED" or "CHANNEL_ERROR".
	OnStatus(status string)
	OnEvent(event domain.ChangeEvent)
}

// ChangeStream is a transport the realtime layer subscribes through.
type ChangeStream interface {
	// Stream connects to topic and blocks until the connection ends or ctx is done.
	Stream(ctx context.Context, topic string, sink StreamSink) error
	Name() string
}
