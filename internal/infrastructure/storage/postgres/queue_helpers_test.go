package postgres_test

import (
	"osiris/internal/core/id"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/sequence"
)

func sriSubmission(docID id.ID) electronic.Submission {
	return electronic.Submission{EntityID: docID, DocumentType: sequence.TypeInvoice, Payload: "<factura/>"}
}
