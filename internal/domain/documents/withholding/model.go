// Package withholding provides the withholding receipt (comprobante de
// retencion) issued against a registered purchase.
package withholding

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"osiris/internal/core/apperror"
	"osiris/internal/core/entity"
	"osiris/internal/core/id"
	"osiris/internal/core/types"
	"osiris/internal/domain/documents"
	"osiris/internal/domain/documents/purchase"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/reference"
)

// State of a withholding receipt.
type State string

const (
	StateDraft  State = "BORRADOR"
	StateIssued State = "EMITIDA"
	StateQueued State = "ENCOLADA"
	StateVoided State = "ANULADA"
)

// Action drives the withholding machine.
type Action string

const (
	ActionEmit      Action = "emitir"
	ActionEnqueue   Action = "encolar"
	ActionAuthorize Action = "autorizar"
	ActionVoid      Action = "anular"
)

// TaxKind is the tax a line withholds.
type TaxKind string

const (
	TaxIncome TaxKind = "RENTA"
	TaxVAT    TaxKind = "IVA"
)

// authorityCode is the impuesto code of the tax in the electronic voucher.
func (k TaxKind) authorityCode() string {
	if k == TaxVAT {
		return "2"
	}
	return "1"
}

// Withholding is a receipt of taxes withheld from a supplier.
type Withholding struct {
	entity.FiscalDocument

	PurchaseID id.ID `db:"purchase_id" json:"purchaseId"`
	SupplierID id.ID `db:"supplier_id" json:"supplierId"`
	State      State `db:"state" json:"state"`
	Electronic bool  `db:"electronic" json:"electronic"`

	TotalWithheld decimal.Decimal `db:"total_withheld" json:"totalWithheld"`

	Lines []Line `db:"-" json:"lines"`
}

// Line withholds Percentage of Base for one tax code.
type Line struct {
	LineID     id.ID           `db:"line_id" json:"lineId"`
	LineNo     int             `db:"line_no" json:"lineNo"`
	TaxKind    TaxKind         `db:"tax_kind" json:"taxKind"`
	Code       string          `db:"code" json:"code"`
	Base       decimal.Decimal `db:"base" json:"base"`
	Percentage decimal.Decimal `db:"percentage" json:"percentage"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
}

// NewWithholding creates a draft receipt for a purchase.
func NewWithholding(emissionPointID, purchaseID, supplierID id.ID, electronicEmission bool, actorID string) *Withholding {
	return &Withholding{
		FiscalDocument: entity.NewFiscalDocument(emissionPointID, actorID),
		PurchaseID:     purchaseID,
		SupplierID:     supplierID,
		State:          StateDraft,
		Electronic:     electronicEmission,
		Lines:          make([]Line, 0),
	}
}

// AddLine appends a line; Amount = Q2(base * percentage / 100).
func (w *Withholding) AddLine(kind TaxKind, code string, base, percentage decimal.Decimal) {
	w.Lines = append(w.Lines, Line{
		LineID:     id.New(),
		LineNo:     len(w.Lines) + 1,
		TaxKind:    kind,
		Code:       strings.TrimSpace(code),
		Base:       types.Q2(base),
		Percentage: percentage,
		Amount:     types.Percentage(base, percentage),
	})
	w.TotalWithheld = decimal.Zero
	for _, l := range w.Lines {
		w.TotalWithheld = w.TotalWithheld.Add(l.Amount)
	}
}

var hundred = decimal.NewFromInt(100)

// Validate implements entity.Validatable.
func (w *Withholding) Validate(ctx context.Context) error {
	if err := w.FiscalDocument.Validate(ctx); err != nil {
		return err
	}
	if id.IsNil(w.PurchaseID) {
		return apperror.NewValidation("purchase is required").WithDetail("field", "purchaseId")
	}
	if id.IsNil(w.SupplierID) {
		return apperror.NewValidation("supplier is required").WithDetail("field", "supplierId")
	}
	if len(w.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").WithDetail("field", "lines")
	}
	for _, l := range w.Lines {
		if l.TaxKind != TaxIncome && l.TaxKind != TaxVAT {
			return apperror.NewValidation("unknown tax kind").
				WithDetail("line", l.LineNo).WithDetail("taxKind", string(l.TaxKind))
		}
		if l.Code == "" {
			return apperror.NewValidation("withholding code is required").WithDetail("line", l.LineNo)
		}
		if !l.Base.IsPositive() {
			return apperror.NewValidation("base must be positive").WithDetail("line", l.LineNo)
		}
		if !l.Percentage.IsPositive() || l.Percentage.GreaterThan(hundred) {
			return apperror.NewValidation("percentage must be in (0, 100]").WithDetail("line", l.LineNo)
		}
	}
	return nil
}

// CheckAgainst verifies the receipt fits the purchase it withholds from:
// same supplier, income bases within the subtotal and VAT bases within the tax.
func (w *Withholding) CheckAgainst(p *purchase.Purchase) error {
	if p.State != purchase.StateRegistered {
		return apperror.NewPreconditionFailed("purchase", p.ID, "purchase is not registered").
			WithDetail("state", string(p.State))
	}
	if p.SupplierID != w.SupplierID {
		return apperror.NewValidation("supplier does not match the purchase").WithDetail("field", "supplierId")
	}
	income, vat := decimal.Zero, decimal.Zero
	for _, l := range w.Lines {
		if l.TaxKind == TaxVAT {
			vat = vat.Add(l.Base)
		} else {
			income = income.Add(l.Base)
		}
	}
	if income.GreaterThan(p.Subtotal) {
		return apperror.NewValidation("income tax base exceeds the purchase subtotal").
			WithDetail("base", types.Fixed2(income)).WithDetail("subtotal", types.Fixed2(p.Subtotal))
	}
	if vat.GreaterThan(p.Tax) {
		return apperror.NewValidation("VAT base exceeds the purchase VAT").
			WithDetail("base", types.Fixed2(vat)).WithDetail("tax", types.Fixed2(p.Tax))
	}
	return nil
}

// References lists what the receipt points to.
func (w *Withholding) References() documents.References {
	point := w.EmissionPointID
	return documents.References{
		EmissionPointID:  &point,
		CounterpartyKind: reference.KindSupplier,
		CounterpartyID:   w.SupplierID,
	}
}

// Withholds reports whether the receipt still withholds taxes.
func (w *Withholding) Withholds() bool { return w.State != StateVoided }

func (w *Withholding) EntityID() id.ID { return w.ID }
func (w *Withholding) CurrentState() State { return w.State }
func (w *Withholding) SetState(s State) { w.State = s }
func (w *Withholding) CurrentVersion() int { return w.Version }

// Snapshot implements entity.Snapshotter.
func (w *Withholding) Snapshot() map[string]any {
	snap := w.DocumentSnapshot()
	snap["purchase_id"] = w.PurchaseID.String()
	snap["supplier_id"] = w.SupplierID.String()
	snap["state"] = string(w.State)
	snap["electronic"] = w.Electronic
	snap["total_withheld"] = types.Fixed2(w.TotalWithheld)
	lines := make([]map[string]any, len(w.Lines))
	for i, l := range w.Lines {
		lines[i] = map[string]any{
			"line_no":    l.LineNo,
			"tax_kind":   string(l.TaxKind),
			"code":       l.Code,
			"base":       types.Fixed2(l.Base),
			"percentage": l.Percentage.String(),
			"amount":     types.Fixed2(l.Amount),
		}
	}
	snap["lines"] = lines
	return snap
}

// Voucher renders the comprobanteRetencion body for the electronic document.
// subject is the supplier record the taxes were withheld from.
func (w *Withholding) Voucher(p *purchase.Purchase, subject reference.Party) electronic.Voucher {
	taxes := make([]electronic.Section, len(w.Lines))
	for i, l := range w.Lines {
		taxes[i] = electronic.Section{
			Name: "impuesto",
			Fields: []electronic.Field{
				{Name: "codigo", Value: l.TaxKind.authorityCode()},
				{Name: "codigoRetencion", Value: l.Code},
				{Name: "baseImponible", Value: types.Fixed2(l.Base)},
				{Name: "porcentajeRetener", Value: l.Percentage.StringFixed(2)},
				{Name: "valorRetenido", Value: types.Fixed2(l.Amount)},
				{Name: "codDocSustento", Value: "01"},
				{Name: "numDocSustento", Value: strings.ReplaceAll(p.SupplierDocumentNumber, "-", "")},
				{Name: "fechaEmisionDocSustento", Value: p.IssueDate.Format("02/01/2006")},
			},
		}
	}
	return electronic.Voucher{
		Root:    "comprobanteRetencion",
		Version: "1.0.0",
		Body: []electronic.Section{
			{
				Name: "infoCompRetencion",
				Fields: []electronic.Field{
					{Name: "fechaEmision", Value: w.IssueDate.Format("02/01/2006")},
					{Name: "tipoIdentificacionSujetoRetenido", Value: subject.IdentificationType()},
					{Name: "razonSocialSujetoRetenido", Value: subject.Name},
					{Name: "identificacionSujetoRetenido", Value: subject.Identification},
					{Name: "periodoFiscal", Value: w.IssueDate.Format("01/2006")},
				},
			},
			{Name: "impuestos", Children: taxes},
		},
	}
}
