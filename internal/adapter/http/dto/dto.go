package dto

// SubmitLeadRequest is the request body for a new lead request.
type SubmitLeadRequest struct {
	ProjectID string  `json:"project_id" binding:"required,uuid"`
	Quantity  int64   `json:"quantity" binding:"required"`
	UnitPrice int64   `json:"unit_price" binding:"required"`
	Notes     *string `json:"notes,omitempty" binding:"omitempty,max=1000"`
}

// TransitionRequest is the optional body of approve, reject and refund.
type TransitionRequest struct {
	Notes *string `json:"notes,omitempty" binding:"omitempty,max=1000"`
}

// OpenWalletRequest is the request body for opening a wallet on behalf of an owner.
type OpenWalletRequest struct {
	OwnerID string `json:"owner_id" binding:"required,uuid"`
}

// LedgerEntryRequest is the request body for a manual ledger adjustment.
// Amount is validated by the ledger so non-positive values map to LED_002.
type LedgerEntryRequest struct {
	Amount    int64  `json:"amount"`
	Direction string `json:"direction" binding:"required,oneof=credit debit"`
	Reference string `json:"reference" binding:"required,max=100,safe_id"`
}

// ListQuery holds pagination and filter query parameters.
type ListQuery struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Status    string `form:"status" binding:"omitempty,oneof=pending approved rejected completed"`
	ProjectID string `form:"project_id" binding:"omitempty,uuid"`
	Direction string `form:"direction" binding:"omitempty,oneof=credit debit settle"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	WalletID string `json:"wallet_id"`
	Balance  int64  `json:"balance"`
}
