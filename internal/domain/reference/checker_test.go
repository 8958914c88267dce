package reference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

func TestRequireEmissionPoint(t *testing.T) {
	c := NewStaticChecker(Settings{})
	ep := EmissionPoint{ID: id.New(), EstablishmentCode: "001", PointCode: "002", Active: true}
	c.AddEmissionPoint(ep)

	got, err := RequireEmissionPoint(context.Background(), c, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "001002", got.Series())

	c.SetEmissionPointActive(ep.ID, false)
	_, err = RequireEmissionPoint(context.Background(), c, ep.ID)
	assert.True(t, apperror.IsPreconditionFailed(err))

	_, err = RequireEmissionPoint(context.Background(), c, id.New())
	assert.True(t, apperror.IsPreconditionFailed(err))
}

func TestRequireActive(t *testing.T) {
	c := NewStaticChecker(Settings{})
	p1, p2, gone := id.New(), id.New(), id.New()
	c.Add(KindProduct, true, p1)
	c.Add(KindProduct, false, p2)

	require.NoError(t, RequireActive(context.Background(), c, KindProduct, p1, p1))

	err := RequireActive(context.Background(), c, KindProduct, p1, p2)
	assert.True(t, apperror.IsPreconditionFailed(err))

	err = RequireActive(context.Background(), c, KindProduct, gone)
	assert.True(t, apperror.IsPreconditionFailed(err))
}

func TestParty_IdentificationType(t *testing.T) {
	cases := map[string]string{
		"1790011674001": IDTypeRUC,
		"0912345678":    IDTypeCedula,
		"9999999999999": IDTypeFinalConsumer,
		"AB123456":      IDTypePassport,
		"1790011674002": IDTypePassport,
		"091234567X":    IDTypePassport,
	}
	for identification, want := range cases {
		assert.Equal(t, want, Party{Identification: identification}.IdentificationType(), identification)
	}
}

func TestStaticChecker_PartyIsScopedByKind(t *testing.T) {
	c := NewStaticChecker(Settings{})
	customer := Party{ID: id.New(), Identification: "0912345678", Name: "Maria Loor"}
	c.AddParty(KindCustomer, customer)

	got, err := c.Party(context.Background(), KindCustomer, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, customer, got)

	_, err = c.Party(context.Background(), KindSupplier, customer.ID)
	assert.True(t, apperror.IsNotFound(err))
}
