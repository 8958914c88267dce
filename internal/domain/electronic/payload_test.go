package electronic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPayload(t *testing.T) {
	xml, err := BuildPayload(TaxInfo{
		Environment: "1", EmissionType: "1", BusinessName: "ACME & Hijos", RUC: "1790011674001",
		AccessKey: "2110201101179214673900110020010000000011234567813", DocumentCode: "01",
		Establishment: "001", Point: "002", Sequential: "000000001", Address: "Quito",
	}, Voucher{
		Root:    "factura",
		Version: "1.1.0",
		Body: []Section{
			{Name: "infoFactura", Fields: []Field{{"fechaEmision", "21/10/2011"}, {"importeTotal", "11.20"}}},
			{Name: "detalles", Children: []Section{
				{Name: "detalle", Fields: []Field{{"cantidad", "1.0000"}}},
				{Name: "detalle", Fields: []Field{{"cantidad", "2.0000"}}},
			}},
		},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(xml, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, xml, `<factura id="comprobante" version="1.1.0">`)
	assert.Contains(t, xml, `<razonSocial>ACME &amp; Hijos</razonSocial>`)
	assert.Equal(t, 2, strings.Count(xml, "<detalle>"))
	assert.Less(t, strings.Index(xml, "infoTributaria"), strings.Index(xml, "infoFactura"))

	key, err := AccessKeyOf(xml)
	require.NoError(t, err)
	assert.Equal(t, "2110201101179214673900110020010000000011234567813", key)
}

func TestBuildPayload_RequiresRoot(t *testing.T) {
	_, err := BuildPayload(TaxInfo{}, Voucher{})
	assert.Error(t, err)
}
