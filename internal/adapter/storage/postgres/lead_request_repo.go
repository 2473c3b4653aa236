package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const leadRequestColumns = `id, requester_id, wallet_id, project_id, quantity, unit_price, total_amount,
	status, payment_status, admin_notes, version, created_at, updated_at`

// LeadRequestRepo implements ports.LeadRequestRepository.
type LeadRequestRepo struct {
	pool Pool
}

// NewLeadRequestRepo creates a new LeadRequestRepo.
func NewLeadRequestRepo(pool Pool) *LeadRequestRepo {
	return &LeadRequestRepo{pool: pool}
}

// Create inserts a request within a database transaction. The partial unique index
// on (requester_id, project_id) WHERE status = 'pending' surfaces as ports.ErrDuplicate.
func (r *LeadRequestRepo) Create(ctx context.Context, tx pgx.Tx, lr *domain.LeadRequest) error {
	query := `INSERT INTO lead_requests (id, requester_id, wallet_id, project_id, quantity, unit_price, total_amount,
		status, payment_status, admin_notes, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		lr.ID, lr.RequesterID, lr.WalletID, lr.ProjectID,
		lr.Quantity, lr.UnitPrice, lr.TotalAmount,
		lr.Status, lr.PaymentStatus, lr.AdminNotes, lr.Version,
		lr.CreatedAt, lr.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert lead request: %w", ports.ErrDuplicate)
		}
		return fmt.Errorf("insert lead request: %w", err)
	}
	return nil
}

// GetByID fetches a request by UUID. Returns (nil, nil) if it does not exist.
func (r *LeadRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LeadRequest, error) {
	query := `SELECT ` + leadRequestColumns + ` FROM lead_requests WHERE id = $1`

	lr, err := scanLeadRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get lead request by id: %w", err)
	}
	return lr, nil
}

// List fetches requests with filtering and pagination, newest first.
func (r *LeadRequestRepo) List(ctx context.Context, params ports.LeadRequestListParams) ([]domain.LeadRequest, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.RequesterID != nil {
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", argIdx))
		args = append(args, *params.RequesterID)
		argIdx++
	}
	if params.ProjectID != nil {
		conditions = append(conditions, fmt.Sprintf("project_id = $%d", argIdx))
		args = append(args, *params.ProjectID)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM lead_requests %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count lead requests: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM lead_requests %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		leadRequestColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list lead requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.LeadRequest
	for rows.Next() {
		lr, err := scanLeadRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan lead request row: %w", err)
		}
		requests = append(requests, *lr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate lead request rows: %w", err)
	}
	return requests, total, nil
}

// UpdateState is a compare-and-swap on the request version. Quantity, prices and
// total are never rewritten.
func (r *LeadRequestRepo) UpdateState(ctx context.Context, tx pgx.Tx, lr *domain.LeadRequest, expectedVersion int64) (*domain.LeadRequest, error) {
	query := `UPDATE lead_requests
		SET status = $1, payment_status = $2, admin_notes = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5
		RETURNING ` + leadRequestColumns

	updated, err := scanLeadRequest(tx.QueryRow(ctx, query,
		lr.Status, lr.PaymentStatus, lr.AdminNotes, lr.ID, expectedVersion,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrVersionConflict
		}
		return nil, fmt.Errorf("update lead request state: %w", err)
	}
	return updated, nil
}

func scanLeadRequest(row pgx.Row) (*domain.LeadRequest, error) {
	lr := &domain.LeadRequest{}
	err := row.Scan(
		&lr.ID, &lr.RequesterID, &lr.WalletID, &lr.ProjectID,
		&lr.Quantity, &lr.UnitPrice, &lr.TotalAmount,
		&lr.Status, &lr.PaymentStatus, &lr.AdminNotes, &lr.Version,
		&lr.CreatedAt, &lr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return lr, nil
}
