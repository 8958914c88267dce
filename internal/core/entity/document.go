package entity

import (
	"context"
	"time"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

// FiscalDocument is the common part of sales, purchases and withholding receipts.
type FiscalDocument struct {
	BaseEntity

	EmissionPointID id.ID     `db:"emission_point_id" json:"emissionPointId"`
	IssueDate       time.Time `db:"issue_date" json:"issueDate"`

	// SequenceNumber is nil until the document is issued.
	SequenceNumber  *int64 `db:"sequence_number" json:"sequenceNumber,omitempty"`
	FormattedNumber string `db:"formatted_number" json:"formattedNumber,omitempty"`

	VoidReason string `db:"void_reason" json:"voidReason,omitempty"`
}

// NewFiscalDocument creates a document header dated today.
func NewFiscalDocument(emissionPointID id.ID, actorID string) FiscalDocument {
	return FiscalDocument{
		BaseEntity:      NewBaseEntity(actorID),
		EmissionPointID: emissionPointID,
		IssueDate:       time.Now().UTC().Truncate(24 * time.Hour),
	}
}

// Validate implements Validatable.
func (d *FiscalDocument) Validate(ctx context.Context) error {
	if id.IsNil(d.EmissionPointID) {
		return apperror.NewValidation("emission point is required").
			WithDetail("field", "emissionPointId")
	}
	if d.IssueDate.IsZero() {
		return apperror.NewValidation("issue date is required").
			WithDetail("field", "issueDate")
	}
	return nil
}

// AssignNumber stores the allocated sequence.
func (d *FiscalDocument) AssignNumber(value int64, formatted string) {
	d.SequenceNumber = &value
	d.FormattedNumber = formatted
}

// HasNumber reports whether a sequence number was already assigned.
func (d *FiscalDocument) HasNumber() bool {
	return d.SequenceNumber != nil
}

// DocumentSnapshot extends BaseSnapshot with header fields.
func (d *FiscalDocument) DocumentSnapshot() map[string]any {
	s := d.BaseSnapshot()
	s["emission_point_id"] = d.EmissionPointID.String()
	s["issue_date"] = d.IssueDate.Format("2006-01-02")
	if d.SequenceNumber != nil {
		s["sequence_number"] = *d.SequenceNumber
	} else {
		s["sequence_number"] = nil
	}
	s["formatted_number"] = d.FormattedNumber
	s["void_reason"] = d.VoidReason
	return s
}
