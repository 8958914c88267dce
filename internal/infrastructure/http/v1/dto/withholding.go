package dto

import (
	"fmt"

	"osiris/internal/core/apperror"
	"osiris/internal/domain/documents/withholding"
)

type CreateWithholdingRequest struct {
	EmissionPointID string                   `json:"emissionPointId" binding:"required"`
	PurchaseID      string                   `json:"purchaseId" binding:"required"`
	SupplierID      string                   `json:"supplierId" binding:"required"`
	Electronic      bool                     `json:"electronic"`
	Lines           []WithholdingLineRequest `json:"lines" binding:"required,min=1,dive"`
}

type WithholdingLineRequest struct {
	// TaxKind is RENTA or IVA.
	TaxKind    string `json:"taxKind" binding:"required"`
	Code       string `json:"code" binding:"required"`
	Base       string `json:"base" binding:"required"`
	Percentage string `json:"percentage" binding:"required"`
}

func (r *CreateWithholdingRequest) ToEntity(actorID string) (*withholding.Withholding, error) {
	pointID, err := ParseID("emissionPointId", r.EmissionPointID)
	if err != nil {
		return nil, err
	}
	purchaseID, err := ParseID("purchaseId", r.PurchaseID)
	if err != nil {
		return nil, err
	}
	supplierID, err := ParseID("supplierId", r.SupplierID)
	if err != nil {
		return nil, err
	}

	w := withholding.NewWithholding(pointID, purchaseID, supplierID, r.Electronic, actorID)
	for i, line := range r.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		kind := withholding.TaxKind(line.TaxKind)
		if kind != withholding.TaxIncome && kind != withholding.TaxVAT {
			return nil, apperror.NewValidation("unknown tax kind").
				WithDetail("field", field+".taxKind").
				WithDetail("value", line.TaxKind)
		}
		base, err := ParseAmount(field+".base", line.Base)
		if err != nil {
			return nil, err
		}
		pct, err := ParseAmount(field+".percentage", line.Percentage)
		if err != nil {
			return nil, err
		}
		w.AddLine(kind, line.Code, base, pct)
	}
	return w, nil
}

type WithholdingListQuery struct {
	ListQuery
	PurchaseID string `form:"purchaseId"`
	SupplierID string `form:"supplierId"`
	State      string `form:"state"`
}

func (q WithholdingListQuery) ToFilter() (withholding.ListFilter, error) {
	f := withholding.ListFilter{ListFilter: q.ListQuery.ToFilter(), State: withholding.State(q.State)}
	var err error
	if f.PurchaseID, err = ParseOptionalID("purchaseId", q.PurchaseID); err != nil {
		return f, err
	}
	if f.SupplierID, err = ParseOptionalID("supplierId", q.SupplierID); err != nil {
		return f, err
	}
	return f, nil
}
