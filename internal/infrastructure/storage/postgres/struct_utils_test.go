package postgres

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/entity"
	"osiris/internal/core/id"
)

type testDocument struct {
	entity.FiscalDocument
	CustomerID id.ID           `db:"customer_id"`
	Total      decimal.Decimal `db:"total"`
	Lines      []string        `db:"-"`
	scratch    string
}

func TestDBColumns_IncludesEmbedded(t *testing.T) {
	cols := DBColumns[testDocument]()

	for _, want := range []string{
		"id", "active", "version", "created_at", "updated_by",
		"emission_point_id", "sequence_number", "formatted_number", "void_reason",
		"customer_id", "total",
	} {
		assert.Contains(t, cols, want)
	}
	assert.NotContains(t, cols, "-")
	assert.NotContains(t, cols, "lines")
}

func TestColumnValues(t *testing.T) {
	n := int64(42)
	doc := testDocument{
		FiscalDocument: entity.NewFiscalDocument(id.New(), "clerk"),
		CustomerID:     id.New(),
		Total:          decimal.RequireFromString("10.50"),
		Lines:          []string{"ignored"},
		scratch:        "ignored",
	}
	doc.SequenceNumber = &n

	m := ColumnValues(&doc)
	require.NotNil(t, m)
	assert.Equal(t, doc.ID, m["id"])
	assert.Equal(t, doc.CustomerID, m["customer_id"])
	assert.Equal(t, &n, m["sequence_number"])
	assert.True(t, doc.Total.Equal(m["total"].(decimal.Decimal)))
	assert.Equal(t, "clerk", m["created_by"])
	_, hasLines := m["lines"]
	assert.False(t, hasLines)
}
