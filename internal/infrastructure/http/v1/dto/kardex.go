package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"osiris/internal/core/types"
	"osiris/internal/domain/kardex"
)

type TransferRequest struct {
	FromWarehouseID string `json:"fromWarehouseId" binding:"required"`
	ToWarehouseID   string `json:"toWarehouseId" binding:"required"`
	ProductID       string `json:"productId" binding:"required"`
	Quantity        string `json:"quantity" binding:"required"`
	Reference       string `json:"reference" binding:"required"`
}

func (r *TransferRequest) ToDomain() (kardex.TransferRequest, error) {
	var req kardex.TransferRequest
	var err error
	if req.FromWarehouseID, err = ParseID("fromWarehouseId", r.FromWarehouseID); err != nil {
		return req, err
	}
	if req.ToWarehouseID, err = ParseID("toWarehouseId", r.ToWarehouseID); err != nil {
		return req, err
	}
	if req.ProductID, err = ParseID("productId", r.ProductID); err != nil {
		return req, err
	}
	if req.Quantity, err = ParseAmount("quantity", r.Quantity); err != nil {
		return req, err
	}
	req.Reference = r.Reference
	return req, nil
}

type AdjustmentRequest struct {
	WarehouseID string `json:"warehouseId" binding:"required"`
	ProductID   string `json:"productId" binding:"required"`
	Quantity    string `json:"quantity" binding:"required"`
	UnitCost    string `json:"unitCost" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
	Reference   string `json:"reference,omitempty"`
}

func (r *AdjustmentRequest) ToDomain() (kardex.AdjustRequest, error) {
	var req kardex.AdjustRequest
	var err error
	if req.WarehouseID, err = ParseID("warehouseId", r.WarehouseID); err != nil {
		return req, err
	}
	if req.ProductID, err = ParseID("productId", r.ProductID); err != nil {
		return req, err
	}
	if req.Quantity, err = ParseAmount("quantity", r.Quantity); err != nil {
		return req, err
	}
	if req.UnitCost, err = ParseAmount("unitCost", r.UnitCost); err != nil {
		return req, err
	}
	req.Reason = r.Reason
	req.Reference = r.Reference
	return req, nil
}

// CostResponse returns the unit cost a movement was booked at.
type CostResponse struct {
	UnitCost string `json:"unitCost"`
}

func NewCostResponse(d decimal.Decimal) CostResponse {
	return CostResponse{UnitCost: types.Fixed4(d)}
}

type KardexQuery struct {
	From   *time.Time `form:"from" time_format:"2006-01-02"`
	To     *time.Time `form:"to" time_format:"2006-01-02"`
	Limit  int        `form:"limit"`
	Offset int        `form:"offset"`
	// Verify replays the movements and compares them with the stock row.
	Verify bool `form:"verify"`
}

// KardexResponse is the stock card of one product in one warehouse.
type KardexResponse struct {
	Stock        *kardex.StockLevel   `json:"stock"`
	Movements    []kardex.Movement    `json:"movements"`
	Verification *kardex.Verification `json:"verification,omitempty"`
}
