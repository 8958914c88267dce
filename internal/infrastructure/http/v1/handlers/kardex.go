package handlers

import (
	"github.com/gin-gonic/gin"

	"osiris/internal/domain/kardex"
	"osiris/internal/infrastructure/http/v1/dto"
)

// KardexHandler exposes stock cards, valuation and manual movements.
type KardexHandler struct {
	*BaseHandler
	service *kardex.Service
}

func NewKardexHandler(base *BaseHandler, service *kardex.Service) *KardexHandler {
	return &KardexHandler{BaseHandler: base, service: service}
}

// Card returns the stock level and the movements of one product.
// GET /kardex/:warehouse/:product
func (h *KardexHandler) Card(c *gin.Context) {
	warehouseID, ok := h.PathID(c, "warehouse")
	if !ok {
		return
	}
	productID, ok := h.PathID(c, "product")
	if !ok {
		return
	}
	var q dto.KardexQuery
	if !h.BindQuery(c, &q) {
		return
	}

	ctx := c.Request.Context()
	stock, err := h.service.Stock(ctx, warehouseID, productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	movements, err := h.service.Ledger(ctx, kardex.LedgerFilter{
		WarehouseID: warehouseID,
		ProductID:   productID,
		From:        q.From,
		To:          q.To,
		Limit:       q.Limit,
		Offset:      q.Offset,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.KardexResponse{Stock: stock, Movements: movements}
	if resp.Movements == nil {
		resp.Movements = []kardex.Movement{}
	}
	if q.Verify {
		if resp.Verification, err = h.service.Verify(ctx, warehouseID, productID); err != nil {
			h.Error(c, err)
			return
		}
	}
	h.OK(c, resp)
}

// GET /kardex/:warehouse/valuation
func (h *KardexHandler) Valuation(c *gin.Context) {
	warehouseID, ok := h.PathID(c, "warehouse")
	if !ok {
		return
	}
	v, err := h.service.Valuation(c.Request.Context(), warehouseID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, v)
}

// POST /kardex/transfers
func (h *KardexHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !h.BindJSON(c, &req) {
		return
	}
	tr, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}
	cost, err := h.service.Transfer(c.Request.Context(), tr)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.NewCostResponse(cost))
}

// POST /kardex/adjustments
func (h *KardexHandler) Adjust(c *gin.Context) {
	var req dto.AdjustmentRequest
	if !h.BindJSON(c, &req) {
		return
	}
	adj, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}
	avg, err := h.service.Adjust(c.Request.Context(), adj)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.NewCostResponse(avg))
}
