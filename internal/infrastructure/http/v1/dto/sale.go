package dto

import (
	"fmt"

	"osiris/internal/core/types"
	"osiris/internal/domain/documents/sale"
)

// DefaultTaxRate is the IVA rate applied when a line omits taxRate.
const DefaultTaxRate = "15"

type CreateSaleRequest struct {
	EmissionPointID string            `json:"emissionPointId" binding:"required"`
	WarehouseID     string            `json:"warehouseId" binding:"required"`
	CustomerID      string            `json:"customerId" binding:"required"`
	Electronic      bool              `json:"electronic"`
	// PaymentMethod is a formaPago code; cash when omitted.
	PaymentMethod   string            `json:"paymentMethod,omitempty"`
	Lines           []SaleLineRequest `json:"lines" binding:"required,min=1,dive"`
}

type SaleLineRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  string `json:"quantity" binding:"required"`
	UnitPrice string `json:"unitPrice" binding:"required"`
	TaxRate   string `json:"taxRate,omitempty"`
}

// ToEntity builds a draft sale. actorID becomes its creator.
func (r *CreateSaleRequest) ToEntity(actorID string) (*sale.Sale, error) {
	pointID, err := ParseID("emissionPointId", r.EmissionPointID)
	if err != nil {
		return nil, err
	}
	warehouseID, err := ParseID("warehouseId", r.WarehouseID)
	if err != nil {
		return nil, err
	}
	customerID, err := ParseID("customerId", r.CustomerID)
	if err != nil {
		return nil, err
	}

	doc := sale.NewSale(pointID, warehouseID, customerID, r.Electronic, actorID)
	if r.PaymentMethod != "" {
		doc.PaymentMethod = r.PaymentMethod
	}
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
		price, err := ParseAmount(field+".unitPrice", line.UnitPrice)
		if err != nil {
			return nil, err
		}
		rate, err := ParseOptionalAmount(field+".taxRate", line.TaxRate, types.MustDecimal(DefaultTaxRate))
		if err != nil {
			return nil, err
		}
		doc.AddLine(productID, qty, price, rate)
	}
	return doc, nil
}

type SaleListQuery struct {
	ListQuery
	CustomerID      string `form:"customerId"`
	EmissionPointID string `form:"emissionPointId"`
	State           string `form:"state"`
}

func (q SaleListQuery) ToFilter() (sale.ListFilter, error) {
	f := sale.ListFilter{ListFilter: q.ListQuery.ToFilter(), State: sale.State(q.State)}
	var err error
	if f.CustomerID, err = ParseOptionalID("customerId", q.CustomerID); err != nil {
		return f, err
	}
	if f.EmissionPointID, err = ParseOptionalID("emissionPointId", q.EmissionPointID); err != nil {
		return f, err
	}
	return f, nil
}
