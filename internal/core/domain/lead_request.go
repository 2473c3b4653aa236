package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the approval state of a lead request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusApproved  RequestStatus = "approved"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusCompleted RequestStatus = "completed"
)

// IsTerminal returns true if no further status transition is permitted.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusRejected || s == RequestStatusCompleted
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected, RequestStatusCompleted:
		return true
	}
	return false
}

// PaymentStatus tracks the funds side of a lead request independently of its status.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Action names a workflow transition.
type Action string

const (
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
	ActionRefund   Action = "refund"
)

// LeadRequest is a requester's purchase of project leads, gated by admin approval.
type LeadRequest struct {
	ID            uuid.UUID     `json:"id"`
	RequesterID   uuid.UUID     `json:"requester_id"`
	WalletID      uuid.UUID     `json:"wallet_id"`
	ProjectID     uuid.UUID     `json:"project_id"`
	Quantity      int64         `json:"quantity"`
	UnitPrice     int64         `json:"unit_price"`
	TotalAmount   int64         `json:"total_amount"`
	Status        RequestStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	AdminNotes    *string       `json:"admin_notes,omitempty"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TotalAmount returns quantity*unitPrice, or false when the inputs are not
// positive or the product overflows int64.
func TotalAmount(quantity, unitPrice int64) (int64, bool) {
	if quantity <= 0 || unitPrice <= 0 {
		return 0, false
	}
	if quantity > math.MaxInt64/unitPrice {
		return 0, false
	}
	return quantity * unitPrice, true
}

// Next returns the state the request moves to under action, and false when the
// action is not permitted from the current state.
func (r *LeadRequest) Next(action Action) (RequestStatus, PaymentStatus, bool) {
	switch action {
	case ActionApprove:
		if r.Status == RequestStatusPending && r.PaymentStatus == PaymentStatusPending {
			return RequestStatusApproved, PaymentStatusPaid, true
		}
	case ActionReject:
		if r.Status == RequestStatusPending && r.PaymentStatus == PaymentStatusPending {
			return RequestStatusRejected, PaymentStatusRefunded, true
		}
	case ActionComplete:
		if r.Status == RequestStatusApproved {
			return RequestStatusCompleted, r.PaymentStatus, true
		}
	case ActionRefund:
		if r.PaymentStatus == PaymentStatusPaid {
			return r.Status, PaymentStatusRefunded, true
		}
	}
	return r.Status, r.PaymentStatus, false
}

// LedgerEffect describes the entry a transition posts to the requester wallet.
// ok is false for transitions without a ledger effect.
func (r *LeadRequest) LedgerEffect(action Action) (dir Direction, ref Reference, ok bool) {
	id := r.ID.String()
	switch action {
	case ActionSubmit:
		return DirectionDebit, Reference{Type: ReferenceHold, ID: id}, true
	case ActionApprove:
		return DirectionSettle, Reference{Type: ReferenceSettlement, ID: id}, true
	case ActionReject:
		return DirectionCredit, Reference{Type: ReferenceRelease, ID: id}, true
	case ActionRefund:
		return DirectionCredit, Reference{Type: ReferenceRefund, ID: id}, true
	}
	return "", Reference{}, false
}
