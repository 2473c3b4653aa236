package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/pkg/apperror"
	"lead-ledger/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WorkflowServiceImpl implements ports.WorkflowService. Every transition writes the
// request state and its ledger effect in one DB transaction.
type WorkflowServiceImpl struct {
	requestRepo ports.LeadRequestRepository
	walletRepo  ports.WalletRepository
	ledger      ports.LedgerService
	transactor  ports.DBTransactor
	notifier    ports.ChangeNotifier
	maxAttempts int
	maxQuantity int64
	pageSize    int
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

// WorkflowOptions holds the tunables of the workflow service.
type WorkflowOptions struct {
	MaxAttempts int
	MaxQuantity int64 // 0 = no limit
	PageSize    int
}

// NewWorkflowService creates a new WorkflowServiceImpl. notifier and m may be nil.
func NewWorkflowService(
	requestRepo ports.LeadRequestRepository,
	walletRepo ports.WalletRepository,
	ledger ports.LedgerService,
	transactor ports.DBTransactor,
	notifier ports.ChangeNotifier,
	opts WorkflowOptions,
	log zerolog.Logger,
	m *metrics.Metrics,
) *WorkflowServiceImpl {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}
	return &WorkflowServiceImpl{
		requestRepo: requestRepo,
		walletRepo:  walletRepo,
		ledger:      ledger,
		transactor:  transactor,
		notifier:    notifier,
		maxAttempts: opts.MaxAttempts,
		maxQuantity: opts.MaxQuantity,
		pageSize:    opts.PageSize,
		log:         log,
		metrics:     m,
	}
}

// Submit creates a pending request for the actor and places a hold on their wallet.
func (s *WorkflowServiceImpl) Submit(ctx context.Context, actor domain.Actor, req ports.SubmitRequest) (*domain.LeadRequest, error) {
	lr, err := s.submit(ctx, actor, req)
	s.metrics.Transition(string(domain.ActionSubmit), transitionOutcome(err))
	return lr, err
}

func (s *WorkflowServiceImpl) submit(ctx context.Context, actor domain.Actor, req ports.SubmitRequest) (*domain.LeadRequest, error) {
	if actor.Role == domain.RoleSystem || actor.ID == uuid.Nil {
		return nil, apperror.ErrForbidden()
	}
	if req.ProjectID == uuid.Nil {
		return nil, apperror.Validation("project_id is required")
	}
	if s.maxQuantity > 0 && req.Quantity > s.maxQuantity {
		return nil, apperror.Validation(fmt.Sprintf("quantity must not exceed %d", s.maxQuantity))
	}
	total, ok := domain.TotalAmount(req.Quantity, req.UnitPrice)
	if !ok {
		return nil, apperror.Validation("quantity and unit_price must be positive and their product must fit in int64")
	}

	wallet, err := s.walletRepo.GetByOwnerID(ctx, actor.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet by owner: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if wallet.IsDisabled() {
		return nil, apperror.ErrWalletDisabled()
	}

	now := time.Now().UTC()
	lr := &domain.LeadRequest{
		ID:            uuid.New(),
		RequesterID:   actor.ID,
		WalletID:      wallet.ID,
		ProjectID:     req.ProjectID,
		Quantity:      req.Quantity,
		UnitPrice:     req.UnitPrice,
		TotalAmount:   total,
		Status:        domain.RequestStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		AdminNotes:    req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	direction, ref, _ := lr.LedgerEffect(domain.ActionSubmit)
	entry := ports.LedgerEntry{WalletID: wallet.ID, Amount: total, Direction: direction, Reference: ref}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		txn, updated, err := s.submitOnce(ctx, lr, wallet, entry)
		if errors.Is(err, ports.ErrVersionConflict) {
			s.metrics.LedgerConflict()
			if wallet, err = s.reloadWallet(ctx, wallet.ID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		publishChange(s.notifier, s.log, domain.TableLeadRequests, domain.OperationInsert, lr)
		publishChange(s.notifier, s.log, domain.TableTransactions, domain.OperationInsert, txn)
		publishChange(s.notifier, s.log, domain.TableWallets, domain.OperationUpdate, updated)

		s.log.Info().
			Str("request_id", lr.ID.String()).
			Str("requester_id", actor.ID.String()).
			Str("project_id", lr.ProjectID.String()).
			Int64("total_amount", total).
			Msg("lead request submitted")
		return lr, nil
	}

	return nil, apperror.ErrConcurrentModification(ports.ErrVersionConflict)
}

func (s *WorkflowServiceImpl) submitOnce(ctx context.Context, lr *domain.LeadRequest, wallet *domain.Wallet, entry ports.LedgerEntry) (*domain.Transaction, *domain.Wallet, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.requestRepo.Create(ctx, dbTx, lr); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return nil, nil, apperror.ErrDuplicateRequest()
		}
		return nil, nil, apperror.InternalError(fmt.Errorf("create lead request: %w", err))
	}

	txn, updated, err := s.ledger.PostInTx(ctx, dbTx, wallet, entry)
	if err != nil {
		return nil, nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return txn, updated, nil
}

// Approve settles the hold: pending -> approved, payment pending -> paid.
func (s *WorkflowServiceImpl) Approve(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.LeadRequest, error) {
	return s.transition(ctx, actor, id, domain.ActionApprove, notes)
}

// Reject releases the hold back to the wallet: pending -> rejected, payment -> refunded.
func (s *WorkflowServiceImpl) Reject(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.LeadRequest, error) {
	return s.transition(ctx, actor, id, domain.ActionReject, notes)
}

// Complete marks an approved request fulfilled. It has no ledger effect.
func (s *WorkflowServiceImpl) Complete(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.LeadRequest, error) {
	return s.transition(ctx, actor, id, domain.ActionComplete, nil)
}

// Refund credits a paid request back to the wallet. Status is left as is.
func (s *WorkflowServiceImpl) Refund(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.LeadRequest, error) {
	return s.transition(ctx, actor, id, domain.ActionRefund, notes)
}

func (s *WorkflowServiceImpl) transition(ctx context.Context, actor domain.Actor, id uuid.UUID, action domain.Action, notes *string) (*domain.LeadRequest, error) {
	lr, err := s.doTransition(ctx, actor, id, action, notes)
	s.metrics.Transition(string(action), transitionOutcome(err))
	return lr, err
}

func (s *WorkflowServiceImpl) doTransition(ctx context.Context, actor domain.Actor, id uuid.UUID, action domain.Action, notes *string) (*domain.LeadRequest, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}

	current, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get lead request: %w", err))
	}
	if current == nil {
		return nil, apperror.ErrNotFound("lead request")
	}

	status, payment, ok := current.Next(action)
	if !ok {
		return nil, apperror.ErrInvalidTransition(
			fmt.Sprintf("%s/%s", current.Status, current.PaymentStatus), string(action))
	}

	// All writes are conditional on the version observed here.
	observed := current.Version
	next := *current
	next.Status = status
	next.PaymentStatus = payment
	if notes != nil {
		next.AdminNotes = notes
	}

	var wallet *domain.Wallet
	var entry *ports.LedgerEntry
	if direction, ref, ok := current.LedgerEffect(action); ok {
		entry = &ports.LedgerEntry{WalletID: current.WalletID, Amount: current.TotalAmount, Direction: direction, Reference: ref}
		if wallet, err = s.reloadWallet(ctx, current.WalletID); err != nil {
			return nil, err
		}
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		updated, txn, updatedWallet, err := s.transitionOnce(ctx, &next, observed, wallet, entry)
		if errors.Is(err, ports.ErrVersionConflict) {
			s.metrics.LedgerConflict()
			if wallet, err = s.reloadWallet(ctx, current.WalletID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		publishChange(s.notifier, s.log, domain.TableLeadRequests, domain.OperationUpdate, updated)
		if txn != nil {
			publishChange(s.notifier, s.log, domain.TableTransactions, domain.OperationInsert, txn)
			publishChange(s.notifier, s.log, domain.TableWallets, domain.OperationUpdate, updatedWallet)
		}

		s.log.Info().
			Str("request_id", id.String()).
			Str("action", string(action)).
			Str("status", string(updated.Status)).
			Str("payment_status", string(updated.PaymentStatus)).
			Str("actor_id", actor.ID.String()).
			Msg("lead request transitioned")
		return updated, nil
	}

	return nil, apperror.ErrConcurrentModification(ports.ErrVersionConflict)
}

// transitionOnce returns ports.ErrVersionConflict only for wallet conflicts;
// a request conflict is final and maps to StaleState.
func (s *WorkflowServiceImpl) transitionOnce(
	ctx context.Context,
	next *domain.LeadRequest,
	observed int64,
	wallet *domain.Wallet,
	entry *ports.LedgerEntry,
) (*domain.LeadRequest, *domain.Transaction, *domain.Wallet, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	updated, err := s.requestRepo.UpdateState(ctx, dbTx, next, observed)
	if err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return nil, nil, nil, apperror.ErrStaleState()
		}
		return nil, nil, nil, apperror.InternalError(fmt.Errorf("update lead request: %w", err))
	}

	var txn *domain.Transaction
	var updatedWallet *domain.Wallet
	if entry != nil {
		txn, updatedWallet, err = s.ledger.PostInTx(ctx, dbTx, wallet, *entry)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return updated, txn, updatedWallet, nil
}

func (s *WorkflowServiceImpl) reloadWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

func (s *WorkflowServiceImpl) Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.LeadRequest, error) {
	lr, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get lead request: %w", err))
	}
	if lr == nil {
		return nil, apperror.ErrNotFound("lead request")
	}
	if !actor.CanRead(lr.RequesterID) {
		return nil, apperror.ErrForbidden()
	}
	return lr, nil
}

// List returns requests newest first. Requesters only ever see their own.
func (s *WorkflowServiceImpl) List(ctx context.Context, actor domain.Actor, params ports.LeadRequestListParams) ([]domain.LeadRequest, int64, error) {
	if !actor.IsAdmin() && actor.Role != domain.RoleSystem {
		params.RequesterID = &actor.ID
	}
	if params.Status != nil && !params.Status.Valid() {
		return nil, 0, apperror.Validation("invalid status filter")
	}
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize, s.pageSize)

	requests, total, err := s.requestRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list lead requests: %w", err))
	}
	return requests, total, nil
}

func transitionOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperror.Code(err) {
	case apperror.CodeInvalidTransition:
		return "invalid_transition"
	case apperror.CodeStaleState:
		return "stale"
	case apperror.CodeDuplicateRequest:
		return "duplicate"
	case apperror.CodeForbidden:
		return "forbidden"
	}
	return outcomeOf(err)
}
