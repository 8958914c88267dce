// Package sequence issues per (emission point, document type) fiscal numbers.
package sequence

import (
	"fmt"
	"time"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

// DocumentType is a fiscal document kind with its own numbering.
type DocumentType string

const (
	TypeInvoice            DocumentType = "FACTURA"
	TypePurchaseSettlement DocumentType = "LIQUIDACION_COMPRA"
	TypeCreditNote         DocumentType = "NOTA_CREDITO"
	TypeDebitNote          DocumentType = "NOTA_DEBITO"
	TypeDeliveryGuide      DocumentType = "GUIA_REMISION"
	TypeWithholding        DocumentType = "RETENCION"
)

var codes = map[DocumentType]string{
	TypeInvoice:            "01",
	TypePurchaseSettlement: "03",
	TypeCreditNote:         "04",
	TypeDebitNote:          "05",
	TypeDeliveryGuide:      "06",
	TypeWithholding:        "07",
}

// Code returns the two-digit authority code of the type.
func (t DocumentType) Code() string {
	return codes[t]
}

// Validate rejects unknown document types.
func (t DocumentType) Validate() error {
	if _, ok := codes[t]; !ok {
		return apperror.NewValidation("unknown document type").WithDetail("document_type", string(t))
	}
	return nil
}

// NumberWidth is the fixed width of the sequential part of a fiscal number.
const NumberWidth = 9

// MaxValue is the largest number representable in NumberWidth digits.
const MaxValue int64 = 999_999_999

// Format renders EEE-PPP-NNNNNNNNN.
func Format(establishment, point string, value int64) string {
	return fmt.Sprintf("%s-%s-%s", establishment, point, Pad(value))
}

// Pad zero-pads value to NumberWidth digits.
func Pad(value int64) string {
	return fmt.Sprintf("%0*d", NumberWidth, value)
}

// Allocation binds one issued number to the entity that requested it.
// EntityID is the idempotency key; a retried request gets the same number.
type Allocation struct {
	EntityID        id.ID        `db:"entity_id" json:"entityId"`
	EmissionPointID id.ID        `db:"emission_point_id" json:"emissionPointId"`
	DocumentType    DocumentType `db:"document_type" json:"documentType"`
	Value           int64        `db:"value" json:"value"`
	Formatted       string       `db:"formatted" json:"formatted"`
	AllocatedAt     time.Time    `db:"allocated_at" json:"allocatedAt"`
	// ConsumedAt is set when the owning document commits with the number.
	// A nil value on an old allocation marks a gap left by an aborted flow.
	ConsumedAt *time.Time `db:"consumed_at" json:"consumedAt,omitempty"`
}

// AllocateRequest asks for the next number of a counter.
type AllocateRequest struct {
	EmissionPointID id.ID
	DocumentType    DocumentType
	EntityID        id.ID
}

// AdjustRequest moves a counter forward by hand.
type AdjustRequest struct {
	EmissionPointID id.ID
	DocumentType    DocumentType
	NewValue        int64
	Justification   string
}

// GapFilter narrows the gap report.
type GapFilter struct {
	EmissionPointID *id.ID
	DocumentType    DocumentType
	// OlderThan ignores allocations younger than this, which may still be committing.
	OlderThan time.Duration
	Limit     int
}

// GapReport lists numbers that never reached a committed document.
type GapReport struct {
	Unconsumed []Allocation `json:"unconsumed"`
	// Missing are counter values with no allocation at all (manual jumps).
	Missing []MissingRange `json:"missing"`
}

// MissingRange is an inclusive run of values skipped by the counter.
type MissingRange struct {
	EmissionPointID id.ID        `db:"emission_point_id" json:"emissionPointId"`
	DocumentType    DocumentType `db:"document_type" json:"documentType"`
	From            int64        `db:"gap_from" json:"from"`
	To              int64        `db:"gap_to" json:"to"`
}
