// Package purchase provides the Purchase document, either a supplier's
// invoice or a self-issued purchase settlement (liquidacion de compra).
package purchase

import (
	"context"
	"regexp"

	"github.com/shopspring/decimal"

	"osiris/internal/core/apperror"
	"osiris/internal/core/entity"
	"osiris/internal/core/id"
	"osiris/internal/core/types"
	"osiris/internal/domain/documents"
	"osiris/internal/domain/reference"
)

// State of a purchase.
type State string

const (
	StateDraft      State = "BORRADOR"
	StateRegistered State = "REGISTRADA"
	StateVoided     State = "ANULADA"
)

// Action drives the purchase machine.
type Action string

const (
	ActionRegister Action = "registrar"
	ActionVoid     Action = "anular"
)

var supplierNumberPattern = regexp.MustCompile(`^\d{3}-\d{3}-\d{9}$`)

// Purchase represents goods bought from a supplier.
type Purchase struct {
	entity.FiscalDocument

	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`
	SupplierID  id.ID `db:"supplier_id" json:"supplierId"`
	State       State `db:"state" json:"state"`

	// SelfIssued purchases are numbered by us as LIQUIDACION_COMPRA.
	SelfIssued bool `db:"self_issued" json:"selfIssued"`
	// SupplierDocumentNumber is the supplier's invoice number, EEE-PPP-NNNNNNNNN.
	SupplierDocumentNumber string `db:"supplier_document_number" json:"supplierDocumentNumber,omitempty"`

	Subtotal decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax      decimal.Decimal `db:"tax" json:"tax"`
	Total    decimal.Decimal `db:"total" json:"total"`

	Lines []Line `db:"-" json:"lines"`
}

// Line is one purchased product at its acquisition cost.
type Line struct {
	LineID    id.ID           `db:"line_id" json:"lineId"`
	LineNo    int             `db:"line_no" json:"lineNo"`
	ProductID id.ID           `db:"product_id" json:"productId"`
	Quantity  decimal.Decimal `db:"quantity" json:"quantity"`
	UnitCost  decimal.Decimal `db:"unit_cost" json:"unitCost"`
	TaxRate   decimal.Decimal `db:"tax_rate" json:"taxRate"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxAmount decimal.Decimal `db:"tax_amount" json:"taxAmount"`
}

// NewPurchase creates a draft purchase. emissionPointID is only used by
// self-issued settlements and may be nil otherwise.
func NewPurchase(emissionPointID, warehouseID, supplierID id.ID, selfIssued bool, actorID string) *Purchase {
	return &Purchase{
		FiscalDocument: entity.NewFiscalDocument(emissionPointID, actorID),
		WarehouseID:    warehouseID,
		SupplierID:     supplierID,
		State:          StateDraft,
		SelfIssued:     selfIssued,
		Lines:          make([]Line, 0),
	}
}

// AddLine appends a line and recalculates totals.
func (p *Purchase) AddLine(productID id.ID, quantity, unitCost, taxRate decimal.Decimal) {
	subtotal, tax := documents.LineAmounts(quantity, unitCost, taxRate)
	p.Lines = append(p.Lines, Line{
		LineID:    id.New(),
		LineNo:    len(p.Lines) + 1,
		ProductID: productID,
		Quantity:  types.Q4(quantity),
		UnitCost:  types.Q4(unitCost),
		TaxRate:   taxRate,
		Subtotal:  subtotal,
		TaxAmount: tax,
	})
	p.Subtotal, p.Tax = decimal.Zero, decimal.Zero
	for _, l := range p.Lines {
		p.Subtotal = p.Subtotal.Add(l.Subtotal)
		p.Tax = p.Tax.Add(l.TaxAmount)
	}
	p.Total = p.Subtotal.Add(p.Tax)
}

// Validate implements entity.Validatable.
func (p *Purchase) Validate(ctx context.Context) error {
	if p.SelfIssued {
		if err := p.FiscalDocument.Validate(ctx); err != nil {
			return err
		}
	} else if p.IssueDate.IsZero() {
		return apperror.NewValidation("issue date is required").WithDetail("field", "issueDate")
	}
	if id.IsNil(p.SupplierID) {
		return apperror.NewValidation("supplier is required").WithDetail("field", "supplierId")
	}
	if id.IsNil(p.WarehouseID) {
		return apperror.NewValidation("warehouse is required").WithDetail("field", "warehouseId")
	}
	if p.SupplierDocumentNumber != "" && !supplierNumberPattern.MatchString(p.SupplierDocumentNumber) {
		return apperror.NewValidation("supplier document number must look like 001-001-000000001").
			WithDetail("field", "supplierDocumentNumber")
	}
	if len(p.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").WithDetail("field", "lines")
	}
	for _, l := range p.Lines {
		if err := documents.ValidateLine(l.LineNo, l.ProductID, l.Quantity, l.UnitCost, l.TaxRate); err != nil {
			return err
		}
	}
	return nil
}

// References lists what the purchase points to.
func (p *Purchase) References() documents.References {
	products := make([]id.ID, len(p.Lines))
	for i, l := range p.Lines {
		products[i] = l.ProductID
	}
	refs := documents.References{
		WarehouseID:      p.WarehouseID,
		CounterpartyKind: reference.KindSupplier,
		CounterpartyID:   p.SupplierID,
		ProductIDs:       products,
	}
	if p.SelfIssued {
		point := p.EmissionPointID
		refs.EmissionPointID = &point
	}
	return refs
}

// InventoryReference tags the kardex movements of this purchase.
func (p *Purchase) InventoryReference() string {
	return "COMPRA:" + p.ID.String()
}

func (p *Purchase) EntityID() id.ID { return p.ID }
func (p *Purchase) CurrentState() State { return p.State }
func (p *Purchase) SetState(s State) { p.State = s }
func (p *Purchase) CurrentVersion() int { return p.Version }

// Snapshot implements entity.Snapshotter.
func (p *Purchase) Snapshot() map[string]any {
	snap := p.DocumentSnapshot()
	snap["warehouse_id"] = p.WarehouseID.String()
	snap["supplier_id"] = p.SupplierID.String()
	snap["state"] = string(p.State)
	snap["self_issued"] = p.SelfIssued
	snap["supplier_document_number"] = p.SupplierDocumentNumber
	snap["subtotal"] = types.Fixed2(p.Subtotal)
	snap["tax"] = types.Fixed2(p.Tax)
	snap["total"] = types.Fixed2(p.Total)
	lines := make([]map[string]any, len(p.Lines))
	for i, l := range p.Lines {
		lines[i] = map[string]any{
			"line_no":    l.LineNo,
			"product_id": l.ProductID.String(),
			"quantity":   types.Fixed4(l.Quantity),
			"unit_cost":  types.Fixed4(l.UnitCost),
			"tax_rate":   l.TaxRate.String(),
			"subtotal":   types.Fixed2(l.Subtotal),
			"tax_amount": types.Fixed2(l.TaxAmount),
		}
	}
	snap["lines"] = lines
	return snap
}
