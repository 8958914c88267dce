package handlers

import (
	"github.com/gin-gonic/gin"

	"osiris/internal/domain/documents/sale"
	"osiris/internal/infrastructure/http/v1/dto"
)

// SaleHandler exposes the sales invoice lifecycle.
type SaleHandler struct {
	*BaseHandler
	service *sale.Service
}

func NewSaleHandler(base *BaseHandler, service *sale.Service) *SaleHandler {
	return &SaleHandler{BaseHandler: base, service: service}
}

// Create stores a draft sale.
// POST /sales
func (h *SaleHandler) Create(c *gin.Context) {
	var req dto.CreateSaleRequest
	if !h.BindJSON(c, &req) {
		return
	}
	doc, err := req.ToEntity(h.ActorID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := h.service.Create(c.Request.Context(), doc); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, doc)
}

// Emit issues a draft sale.
// POST /sales/:id/emit
func (h *SaleHandler) Emit(c *gin.Context) {
	saleID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.VersionRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	doc, err := h.service.Emit(c.Request.Context(), saleID, req.ExpectedVersion)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Void annuls a sale.
// POST /sales/:id/void
func (h *SaleHandler) Void(c *gin.Context) {
	saleID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.VoidRequest
	if !h.BindJSON(c, &req) {
		return
	}
	doc, err := h.service.Void(c.Request.Context(), sale.VoidRequest{
		SaleID:          saleID,
		Reason:          req.Reason,
		PortalConfirmed: req.PortalConfirmed,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Get returns one sale with its lines.
// GET /sales/:id
func (h *SaleHandler) Get(c *gin.Context) {
	saleID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	doc, err := h.service.Get(c.Request.Context(), saleID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// List returns sales page by page.
// GET /sales
func (h *SaleHandler) List(c *gin.Context) {
	var q dto.SaleListQuery
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
