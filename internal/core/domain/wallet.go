package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a per-owner account. Balance is a cache of the transaction log and
// Version increments on every successful mutation.
type Wallet struct {
	ID         uuid.UUID  `json:"id"`
	OwnerID    uuid.UUID  `json:"owner_id"`
	Balance    int64      `json:"balance"` // In smallest currency unit
	Version    int64      `json:"version"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsDisabled returns true if the wallet was soft-disabled.
func (w *Wallet) IsDisabled() bool {
	return w.DisabledAt != nil
}
