package handlers

import (
	"github.com/gin-gonic/gin"

	"osiris/internal/domain/documents/purchase"
	"osiris/internal/infrastructure/http/v1/dto"
)

// PurchaseHandler exposes purchase registration.
type PurchaseHandler struct {
	*BaseHandler
	service *purchase.Service
}

func NewPurchaseHandler(base *BaseHandler, service *purchase.Service) *PurchaseHandler {
	return &PurchaseHandler{BaseHandler: base, service: service}
}

// POST /purchases
func (h *PurchaseHandler) Create(c *gin.Context) {
	var req dto.CreatePurchaseRequest
	if !h.BindJSON(c, &req) {
		return
	}
	p, err := req.ToEntity(h.ActorID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := h.service.Create(c.Request.Context(), p); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, p)
}

// POST /purchases/:id/register
func (h *PurchaseHandler) Register(c *gin.Context) {
	purchaseID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.VersionRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	p, err := h.service.Register(c.Request.Context(), purchaseID, req.ExpectedVersion)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, p)
}

// POST /purchases/:id/void
func (h *PurchaseHandler) Void(c *gin.Context) {
	purchaseID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.VoidRequest
	if !h.BindJSON(c, &req) {
		return
	}
	p, err := h.service.Void(c.Request.Context(), purchase.VoidRequest{
		PurchaseID:      purchaseID,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, p)
}

// GET /purchases/:id
func (h *PurchaseHandler) Get(c *gin.Context) {
	purchaseID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	p, err := h.service.Get(c.Request.Context(), purchaseID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, p)
}

// GET /purchases
func (h *PurchaseHandler) List(c *gin.Context) {
	var q dto.PurchaseListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	result, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(result))
}
