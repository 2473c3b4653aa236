package handler

import (
	"lead-ledger/internal/adapter/http/dto"
	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/pkg/apperror"
	"lead-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler serves wallet reads for owners and ledger operations for admins.
type WalletHandler struct {
	ledger   ports.LedgerService
	pageSize int
}

func NewWalletHandler(ledger ports.LedgerService, pageSize int) *WalletHandler {
	return &WalletHandler{ledger: ledger, pageSize: pageSize}
}

// OpenMine handles POST /api/v1/wallets/me.
func (h *WalletHandler) OpenMine(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	wallet, err := h.ledger.OpenWallet(c.Request.Context(), actor, actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, wallet)
}

// GetMine handles GET /api/v1/wallets/me.
func (h *WalletHandler) GetMine(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	wallet, err := h.ledger.GetWalletByOwner(c.Request.Context(), actor, actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, wallet)
}

// ListMine handles GET /api/v1/wallets/me/transactions.
func (h *WalletHandler) ListMine(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	wallet, err := h.ledger.GetWalletByOwner(c.Request.Context(), actor, actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.listTransactions(c, actor, wallet.ID)
}

// Open handles POST /api/v1/admin/wallets.
func (h *WalletHandler) Open(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var req dto.OpenWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	wallet, err := h.ledger.OpenWallet(c.Request.Context(), actor, uuid.MustParse(req.OwnerID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, wallet)
}

// Get handles GET /api/v1/admin/wallets/:id.
func (h *WalletHandler) Get(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	wallet, err := h.ledger.GetWallet(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, wallet)
}

// Balance handles GET /api/v1/admin/wallets/:id/balance.
func (h *WalletHandler) Balance(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.BalanceResponse{WalletID: id.String(), Balance: balance})
}

// ListTransactions handles GET /api/v1/admin/wallets/:id/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	h.listTransactions(c, actor, id)
}

func (h *WalletHandler) listTransactions(c *gin.Context, actor domain.Actor, walletID uuid.UUID) {
	q, ok := bindQuery(c, h.pageSize)
	if !ok {
		return
	}

	params := ports.TransactionListParams{WalletID: walletID, Page: q.Page, PageSize: q.PageSize}
	if q.Direction != "" {
		dir := domain.Direction(q.Direction)
		params.Direction = &dir
	}

	items, total, err := h.ledger.ListTransactions(c.Request.Context(), actor, params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, response.NewPage(items, total, q.Page, q.PageSize))
}

// PostTransaction handles POST /api/v1/admin/wallets/:id/transactions.
func (h *WalletHandler) PostTransaction(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req dto.LedgerEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.ledger.ApplyTransaction(c.Request.Context(), actor, ports.LedgerEntry{
		WalletID:  id,
		Amount:    req.Amount,
		Direction: domain.Direction(req.Direction),
		Reference: domain.Reference{Type: domain.ReferenceManual, ID: req.Reference},
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, txn)
}

// Reconcile handles POST /api/v1/admin/wallets/:id/reconcile.
func (h *WalletHandler) Reconcile(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	result, err := h.ledger.Reconcile(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
