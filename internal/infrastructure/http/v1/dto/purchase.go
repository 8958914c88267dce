package dto

import (
	"fmt"

	"osiris/internal/core/types"
	"osiris/internal/domain/documents/purchase"
)

type CreatePurchaseRequest struct {
	EmissionPointID string `json:"emissionPointId" binding:"required"`
	WarehouseID     string `json:"warehouseId" binding:"required"`
	SupplierID      string `json:"supplierId" binding:"required"`
	// SelfIssued marks a liquidacion de compra numbered by this company.
	SelfIssued             bool                  `json:"selfIssued"`
	SupplierDocumentNumber string                `json:"supplierDocumentNumber,omitempty"`
	Lines                  []PurchaseLineRequest `json:"lines" binding:"required,min=1,dive"`
}

type PurchaseLineRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  string `json:"quantity" binding:"required"`
	UnitCost  string `json:"unitCost" binding:"required"`
	TaxRate   string `json:"taxRate,omitempty"`
}

func (r *CreatePurchaseRequest) ToEntity(actorID string) (*purchase.Purchase, error) {
	pointID, err := ParseID("emissionPointId", r.EmissionPointID)
	if err != nil {
		return nil, err
	}
	warehouseID, err := ParseID("warehouseId", r.WarehouseID)
	if err != nil {
		return nil, err
	}
	supplierID, err := ParseID("supplierId", r.SupplierID)
	if err != nil {
		return nil, err
	}

	p := purchase.NewPurchase(pointID, warehouseID, supplierID, r.SelfIssued, actorID)
	p.SupplierDocumentNumber = r.SupplierDocumentNumber
	for i, line := range r.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		productID, err := ParseID(field+".productId", line.ProductID)
		if err != nil {
			return nil, err
		}
		qty, err := ParseAmount(field+".quantity", line.Quantity)
		if err != nil {
			return nil, err
		}
		cost, err := ParseAmount(field+".unitCost", line.UnitCost)
		if err != nil {
			return nil, err
		}
		rate, err := ParseOptionalAmount(field+".taxRate", line.TaxRate, types.MustDecimal(DefaultTaxRate))
		if err != nil {
			return nil, err
		}
		p.AddLine(productID, qty, cost, rate)
	}
	return p, nil
}

type PurchaseListQuery struct {
	ListQuery
	SupplierID string `form:"supplierId"`
	State      string `form:"state"`
}

func (q PurchaseListQuery) ToFilter() (purchase.ListFilter, error) {
	f := purchase.ListFilter{ListFilter: q.ListQuery.ToFilter(), State: purchase.State(q.State)}
	var err error
	f.SupplierID, err = ParseOptionalID("supplierId", q.SupplierID)
	return f, err
}
