package handlers

import (
	"github.com/gin-gonic/gin"

	"osiris/internal/domain/documents/withholding"
	"osiris/internal/infrastructure/http/v1/dto"
)

// WithholdingHandler exposes withholding receipts.
type WithholdingHandler struct {
	*BaseHandler
	service *withholding.Service
}

func NewWithholdingHandler(base *BaseHandler, service *withholding.Service) *WithholdingHandler {
	return &WithholdingHandler{BaseHandler: base, service: service}
}

// POST /withholdings
func (h *WithholdingHandler) Create(c *gin.Context) {
	var req dto.CreateWithholdingRequest
	if !h.BindJSON(c, &req) {
		return
	}
	w, err := req.ToEntity(h.ActorID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := h.service.Create(c.Request.Context(), w); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, w)
}

// Emit issues the receipt; electronic receipts end up ENCOLADA until
// the authority answers.
// POST /withholdings/:id/emit
func (h *WithholdingHandler) Emit(c *gin.Context) {
	withholdingID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.VersionRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	w, err := h.service.Emit(c.Request.Context(), withholdingID, req.ExpectedVersion)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, w)
}

// POST /withholdings/:id/void
func (h *WithholdingHandler) Void(c *gin.Context) {
	withholdingID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.VoidRequest
	if !h.BindJSON(c, &req) {
		return
	}
	w, err := h.service.Void(c.Request.Context(), withholding.VoidRequest{
		WithholdingID:   withholdingID,
		Reason:          req.Reason,
		PortalConfirmed: req.PortalConfirmed,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, w)
}

// GET /withholdings/:id
func (h *WithholdingHandler) Get(c *gin.Context) {
	withholdingID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	w, err := h.service.Get(c.Request.Context(), withholdingID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, w)
}

// GET /withholdings
func (h *WithholdingHandler) List(c *gin.Context) {
	var q dto.WithholdingListQuery
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
