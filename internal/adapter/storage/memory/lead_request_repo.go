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

// LeadRequestRepo implements ports.LeadRequestRepository.
type LeadRequestRepo struct {
	store *Store
}

func NewLeadRequestRepo(store *Store) *LeadRequestRepo {
	return &LeadRequestRepo{store: store}
}

// Create buffers an insert in tx. At most one pending request may exist per
// (requester, project).
func (r *LeadRequestRepo) Create(_ context.Context, tx pgx.Tx, lr *domain.LeadRequest) error {
	t, err := asTx(tx)
	if err != nil {
		return fmt.Errorf("insert lead request: %w", err)
	}
	if _, exists := t.request(lr.ID); exists {
		return fmt.Errorf("insert lead request: %w", ports.ErrDuplicate)
	}
	if lr.Status == domain.RequestStatusPending && r.pendingExists(t, lr.RequesterID, lr.ProjectID) {
		return fmt.Errorf("insert lead request: %w", ports.ErrDuplicate)
	}
	t.requests[lr.ID] = *lr
	t.newRequests = append(t.newRequests, lr.ID)
	return nil
}

func (r *LeadRequestRepo) pendingExists(t *Tx, requesterID, projectID uuid.UUID) bool {
	match := func(x domain.LeadRequest) bool {
		return x.Status == domain.RequestStatusPending && x.RequesterID == requesterID && x.ProjectID == projectID
	}
	for _, x := range t.requests {
		if match(x) {
			return true
		}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for id, x := range r.store.requests {
		if _, shadowed := t.requests[id]; shadowed {
			continue
		}
		if match(x) {
			return true
		}
	}
	return false
}

func (r *LeadRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.LeadRequest, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	lr, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	return &lr, nil
}

// List returns requests newest first.
func (r *LeadRequestRepo) List(_ context.Context, params ports.LeadRequestListParams) ([]domain.LeadRequest, int64, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.LeadRequest
	for i := len(s.requestOrder) - 1; i >= 0; i-- {
		lr := s.requests[s.requestOrder[i]]
		if params.RequesterID != nil && lr.RequesterID != *params.RequesterID {
			continue
		}
		if params.ProjectID != nil && lr.ProjectID != *params.ProjectID {
			continue
		}
		if params.Status != nil && lr.Status != *params.Status {
			continue
		}
		matched = append(matched, lr)
	}
	return paginate(matched, params.Page, params.PageSize), int64(len(matched)), nil
}

// UpdateState buffers a conditional state write in tx.
func (r *LeadRequestRepo) UpdateState(_ context.Context, tx pgx.Tx, lr *domain.LeadRequest, expectedVersion int64) (*domain.LeadRequest, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, fmt.Errorf("update lead request state: %w", err)
	}

	current, ok := t.request(lr.ID)
	if !ok || current.Version != expectedVersion {
		return nil, ports.ErrVersionConflict
	}
	current.Status = lr.Status
	current.PaymentStatus = lr.PaymentStatus
	current.AdminNotes = lr.AdminNotes
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	t.requests[lr.ID] = current
	return &current, nil
}
