// Package sale provides the Sale document (factura).
package sale

import (
	"context"

	"github.com/shopspring/decimal"

	"osiris/internal/core/apperror"
	"osiris/internal/core/entity"
	"osiris/internal/core/id"
	"osiris/internal/core/types"
	"osiris/internal/domain/documents"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/reference"
)

// State of a sale.
type State string

const (
	StateDraft  State = "BORRADOR"
	StateIssued State = "EMITIDA"
	StateVoided State = "ANULADA"
)

// Action drives the sale machine.
type Action string

const (
	ActionEmit Action = "emitir"
	ActionVoid Action = "anular"
)

// Sale represents a sales invoice.
type Sale struct {
	entity.FiscalDocument

	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`
	CustomerID  id.ID `db:"customer_id" json:"customerId"`
	State       State `db:"state" json:"state"`
	// Electronic sales are submitted to the tax authority once issued.
	Electronic bool `db:"electronic" json:"electronic"`
	// PaymentMethod is the formaPago code, 01 for cash.
	PaymentMethod string `db:"payment_method" json:"paymentMethod"`

	Subtotal decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax      decimal.Decimal `db:"tax" json:"tax"`
	Total    decimal.Decimal `db:"total" json:"total"`

	Lines []Line `db:"-" json:"lines"`
}

// Line is one sold product. UnitCost is frozen from the kardex when the sale is issued.
type Line struct {
	LineID    id.ID           `db:"line_id" json:"lineId"`
	LineNo    int             `db:"line_no" json:"lineNo"`
	ProductID id.ID           `db:"product_id" json:"productId"`
	Quantity  decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unitPrice"`
	TaxRate   decimal.Decimal `db:"tax_rate" json:"taxRate"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxAmount decimal.Decimal `db:"tax_amount" json:"taxAmount"`
	UnitCost  decimal.Decimal `db:"unit_cost" json:"unitCost"`
}

// NewSale creates a draft sale.
func NewSale(emissionPointID, warehouseID, customerID id.ID, electronicEmission bool, actorID string) *Sale {
	return &Sale{
		FiscalDocument: entity.NewFiscalDocument(emissionPointID, actorID),
		WarehouseID:    warehouseID,
		CustomerID:     customerID,
		State:          StateDraft,
		Electronic:     electronicEmission,
		PaymentMethod:  electronic.PaymentCash,
		Lines:          make([]Line, 0),
	}
}

// AddLine appends a line and recalculates totals.
func (s *Sale) AddLine(productID id.ID, quantity, unitPrice, taxRate decimal.Decimal) {
	subtotal, tax := documents.LineAmounts(quantity, unitPrice, taxRate)
	s.Lines = append(s.Lines, Line{
		LineID:    id.New(),
		LineNo:    len(s.Lines) + 1,
		ProductID: productID,
		Quantity:  types.Q4(quantity),
		UnitPrice: types.Q4(unitPrice),
		TaxRate:   taxRate,
		Subtotal:  subtotal,
		TaxAmount: tax,
		UnitCost:  decimal.Zero,
	})
	s.recalculateTotals()
}

func (s *Sale) recalculateTotals() {
	s.Subtotal, s.Tax = decimal.Zero, decimal.Zero
	for _, l := range s.Lines {
		s.Subtotal = s.Subtotal.Add(l.Subtotal)
		s.Tax = s.Tax.Add(l.TaxAmount)
	}
	s.Total = s.Subtotal.Add(s.Tax)
}

// Validate implements entity.Validatable.
func (s *Sale) Validate(ctx context.Context) error {
	if err := s.FiscalDocument.Validate(ctx); err != nil {
		return err
	}
	if id.IsNil(s.CustomerID) {
		return apperror.NewValidation("customer is required").
			WithDetail("field", "customerId")
	}
	if id.IsNil(s.WarehouseID) {
		return apperror.NewValidation("warehouse is required").
			WithDetail("field", "warehouseId")
	}
	if !electronic.ValidPaymentMethod(s.PaymentMethod) {
		return apperror.NewValidation("unknown payment method").
			WithDetail("field", "paymentMethod").
			WithDetail("value", s.PaymentMethod)
	}
	if len(s.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}
	for _, l := range s.Lines {
		if err := documents.ValidateLine(l.LineNo, l.ProductID, l.Quantity, l.UnitPrice, l.TaxRate); err != nil {
			return err
		}
		if _, ok := electronic.VATRateCode(l.TaxRate); !ok {
			return apperror.NewValidation("tax rate is not an IVA rate").
				WithDetail("line", l.LineNo).
				WithDetail("taxRate", l.TaxRate.String())
		}
	}
	return nil
}

// References lists what the sale points to.
func (s *Sale) References() documents.References {
	point := s.EmissionPointID
	products := make([]id.ID, len(s.Lines))
	for i, l := range s.Lines {
		products[i] = l.ProductID
	}
	return documents.References{
		EmissionPointID:  &point,
		WarehouseID:      s.WarehouseID,
		CounterpartyKind: reference.KindCustomer,
		CounterpartyID:   s.CustomerID,
		ProductIDs:       products,
	}
}

// InventoryReference tags the kardex movements of this sale.
func (s *Sale) InventoryReference() string {
	return "VENTA:" + s.ID.String()
}

func (s *Sale) EntityID() id.ID { return s.ID }
func (s *Sale) CurrentState() State { return s.State }
func (s *Sale) SetState(st State) { s.State = st }
func (s *Sale) CurrentVersion() int { return s.Version }

// Snapshot implements entity.Snapshotter.
func (s *Sale) Snapshot() map[string]any {
	snap := s.DocumentSnapshot()
	snap["warehouse_id"] = s.WarehouseID.String()
	snap["customer_id"] = s.CustomerID.String()
	snap["state"] = string(s.State)
	snap["electronic"] = s.Electronic
	snap["payment_method"] = s.PaymentMethod
	snap["subtotal"] = types.Fixed2(s.Subtotal)
	snap["tax"] = types.Fixed2(s.Tax)
	snap["total"] = types.Fixed2(s.Total)
	lines := make([]map[string]any, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = map[string]any{
			"line_no":    l.LineNo,
			"product_id": l.ProductID.String(),
			"quantity":   types.Fixed4(l.Quantity),
			"unit_price": types.Fixed4(l.UnitPrice),
			"tax_rate":   l.TaxRate.String(),
			"subtotal":   types.Fixed2(l.Subtotal),
			"tax_amount": types.Fixed2(l.TaxAmount),
			"unit_cost":  types.Fixed4(l.UnitCost),
		}
	}
	snap["lines"] = lines
	return snap
}

// Voucher maps the sale into the factura XML body. buyer is the customer
// record and products holds the record of every line's product.
func (s *Sale) Voucher(buyer reference.Party, products map[id.ID]reference.Product) electronic.Voucher {
	type taxKey struct{ code, rate string }
	totals := make(map[taxKey][2]decimal.Decimal)
	var order []taxKey

	details := make([]electronic.Section, len(s.Lines))
	for i, l := range s.Lines {
		rateCode, _ := electronic.VATRateCode(l.TaxRate)
		key := taxKey{code: rateCode, rate: l.TaxRate.StringFixed(2)}
		t, seen := totals[key]
		if !seen {
			order = append(order, key)
		}
		totals[key] = [2]decimal.Decimal{t[0].Add(l.Subtotal), t[1].Add(l.TaxAmount)}

		product := products[l.ProductID]
		details[i] = electronic.Section{
			Name: "detalle",
			Fields: []electronic.Field{
				{Name: "codigoPrincipal", Value: product.Code},
				{Name: "descripcion", Value: product.Name},
				{Name: "cantidad", Value: types.Fixed4(l.Quantity)},
				{Name: "precioUnitario", Value: types.Fixed4(l.UnitPrice)},
				{Name: "descuento", Value: "0.00"},
				{Name: "precioTotalSinImpuesto", Value: types.Fixed2(l.Subtotal)},
			},
			Children: []electronic.Section{{
				Name: "impuestos",
				Children: []electronic.Section{{
					Name: "impuesto",
					Fields: []electronic.Field{
						{Name: "codigo", Value: electronic.TaxCodeVAT},
						{Name: "codigoPorcentaje", Value: rateCode},
						{Name: "tarifa", Value: key.rate},
						{Name: "baseImponible", Value: types.Fixed2(l.Subtotal)},
						{Name: "valor", Value: types.Fixed2(l.TaxAmount)},
					},
				}},
			}},
		}
	}

	taxTotals := make([]electronic.Section, len(order))
	for i, key := range order {
		t := totals[key]
		taxTotals[i] = electronic.Section{
			Name: "totalImpuesto",
			Fields: []electronic.Field{
				{Name: "codigo", Value: electronic.TaxCodeVAT},
				{Name: "codigoPorcentaje", Value: key.code},
				{Name: "baseImponible", Value: types.Fixed2(t[0])},
				{Name: "valor", Value: types.Fixed2(t[1])},
			},
		}
	}

	return electronic.Voucher{
		Root:    "factura",
		Version: "1.1.0",
		Body: []electronic.Section{
			{
				Name: "infoFactura",
				Fields: []electronic.Field{
					{Name: "fechaEmision", Value: s.IssueDate.Format("02/01/2006")},
					{Name: "tipoIdentificacionComprador", Value: buyer.IdentificationType()},
					{Name: "razonSocialComprador", Value: buyer.Name},
					{Name: "identificacionComprador", Value: buyer.Identification},
					{Name: "totalSinImpuestos", Value: types.Fixed2(s.Subtotal)},
					{Name: "totalDescuento", Value: "0.00"},
				},
				Children: []electronic.Section{
					{Name: "totalConImpuestos", Children: taxTotals},
					{Name: "propina", Text: "0.00"},
					{Name: "importeTotal", Text: types.Fixed2(s.Total)},
					{Name: "moneda", Text: "DOLAR"},
					{Name: "pagos", Children: []electronic.Section{{
						Name: "pago",
						Fields: []electronic.Field{
							{Name: "formaPago", Value: s.PaymentMethod},
							{Name: "total", Value: types.Fixed2(s.Total)},
						},
					}}},
				},
			},
			{Name: "detalles", Children: details},
		},
	}
}
