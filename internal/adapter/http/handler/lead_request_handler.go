package handler

import (
	"context"

	"lead-ledger/internal/adapter/http/dto"
	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/pkg/apperror"
	"lead-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LeadRequestHandler exposes the lead request workflow.
type LeadRequestHandler struct {
	workflow ports.WorkflowService
	pageSize int
}

func NewLeadRequestHandler(workflow ports.WorkflowService, pageSize int) *LeadRequestHandler {
	return &LeadRequestHandler{workflow: workflow, pageSize: pageSize}
}

// Submit handles POST /api/v1/lead-requests.
func (h *LeadRequestHandler) Submit(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var req dto.SubmitLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	lr, err := h.workflow.Submit(c.Request.Context(), actor, ports.SubmitRequest{
		ProjectID: uuid.MustParse(req.ProjectID),
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Notes:     req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lr)
}

// List handles GET /api/v1/lead-requests.
func (h *LeadRequestHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	q, ok := bindQuery(c, h.pageSize)
	if !ok {
		return
	}

	params := ports.LeadRequestListParams{Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		status := domain.RequestStatus(q.Status)
		params.Status = &status
	}
	if q.ProjectID != "" {
		projectID := uuid.MustParse(q.ProjectID)
		params.ProjectID = &projectID
	}

	items, total, err := h.workflow.List(c.Request.Context(), actor, params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, response.NewPage(items, total, q.Page, q.PageSize))
}

// Get handles GET /api/v1/lead-requests/:id.
func (h *LeadRequestHandler) Get(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	lr, err := h.workflow.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, lr)
}

// Approve handles POST /api/v1/lead-requests/:id/approve.
func (h *LeadRequestHandler) Approve(c *gin.Context) {
	h.transition(c, h.workflow.Approve)
}

// Reject handles POST /api/v1/lead-requests/:id/reject.
func (h *LeadRequestHandler) Reject(c *gin.Context) {
	h.transition(c, h.workflow.Reject)
}

// Refund handles POST /api/v1/lead-requests/:id/refund.
func (h *LeadRequestHandler) Refund(c *gin.Context) {
	h.transition(c, h.workflow.Refund)
}

// Complete handles POST /api/v1/lead-requests/:id/complete.
func (h *LeadRequestHandler) Complete(c *gin.Context) {
	h.transition(c, func(ctx context.Context, actor domain.Actor, id uuid.UUID, _ *string) (*domain.LeadRequest, error) {
		return h.workflow.Complete(ctx, actor, id)
	})
}

type transitionFunc func(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.LeadRequest, error)

func (h *LeadRequestHandler) transition(c *gin.Context, apply transitionFunc) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	// The body is optional.
	var req dto.TransitionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}

	lr, err := apply(c.Request.Context(), actor, id, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, lr)
}
