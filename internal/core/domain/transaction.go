package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the effect a ledger entry has on the balance.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
	// DirectionSettle records the conversion of a hold into a final charge.
	// It contributes nothing to the balance.
	DirectionSettle Direction = "settle"
)

func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit || d == DirectionSettle
}

// Signed returns the balance delta of an entry of amount in direction d.
func (d Direction) Signed(amount int64) int64 {
	switch d {
	case DirectionCredit:
		return amount
	case DirectionDebit:
		return -amount
	default:
		return 0
	}
}

// ReferenceType tags what caused a ledger entry.
type ReferenceType string

const (
	ReferenceHold       ReferenceType = "lead_request_hold"
	ReferenceSettlement ReferenceType = "lead_request_settlement"
	ReferenceRelease    ReferenceType = "lead_request_release"
	ReferenceRefund     ReferenceType = "lead_request_refund"
	ReferenceManual     ReferenceType = "manual_adjustment"
)

// Reference links a ledger entry to its cause.
type Reference struct {
	Type ReferenceType `json:"type"`
	ID   string        `json:"id"`
}

// Transaction is an immutable ledger entry. Amount is always a positive magnitude.
type Transaction struct {
	ID           uuid.UUID `json:"id"`
	WalletID     uuid.UUID `json:"wallet_id"`
	Amount       int64     `json:"amount"` // In smallest currency unit
	Direction    Direction `json:"direction"`
	Reference    Reference `json:"reference"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// SignedAmount returns the entry's contribution to the balance.
func (t *Transaction) SignedAmount() int64 {
	return t.Direction.Signed(t.Amount)
}

// Fold recomputes a balance from a transaction history.
func Fold(history []Transaction) int64 {
	var balance int64
	for i := range history {
		balance += history[i].SignedAmount()
	}
	return balance
}
