package kardex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/apperror"
	"osiris/internal/core/types"
)

var d = types.MustDecimal

func TestWeightedAverage(t *testing.T) {
	cases := []struct {
		name           string
		q, c, qIn, cIn string
		want           string
	}{
		{"first ingress takes incoming cost", "0", "0", "100", "10", "10.0000"},
		{"blend", "100", "10", "50", "13", "11.0000"},
		{"repeating decimal rounds half up", "3", "1", "3", "2.0001", "1.5001"},
		{"three way", "10", "2.5", "20", "3.3333", "3.0555"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := WeightedAverage(d(c.q), d(c.c), d(c.qIn), d(c.cIn))
			require.NoError(t, err)
			assert.Equal(t, c.want, types.Fixed4(got))
		})
	}
}

func TestWeightedAverage_NonPositiveDenominator(t *testing.T) {
	_, err := WeightedAverage(d("0"), d("0"), d("0"), d("5"))
	assert.True(t, apperror.IsInvalidQuantity(err))

	_, err = WeightedAverage(d("5"), d("1"), d("-5"), d("1"))
	assert.True(t, apperror.IsInvalidQuantity(err))
}

func TestReplay(t *testing.T) {
	moves := []Movement{
		{Direction: DirectionIn, Quantity: d("100"), UnitCost: d("10")},
		{Direction: DirectionIn, Quantity: d("50"), UnitCost: d("13")},
		{Direction: DirectionOut, Quantity: d("30"), UnitCost: d("11")},
	}
	q, c, err := Replay(moves)
	require.NoError(t, err)
	assert.Equal(t, "120.0000", types.Fixed4(q))
	assert.Equal(t, "11.0000", types.Fixed4(c))

	_, _, err = Replay(append(moves, Movement{Direction: DirectionOut, Quantity: d("500")}))
	assert.True(t, apperror.IsNegativeStock(err))
}

func TestReversalType(t *testing.T) {
	typ, dir := reversalType(Movement{Type: TypeAdjustment, Direction: DirectionIn})
	assert.Equal(t, TypeEgress, typ)
	assert.Equal(t, DirectionOut, dir)

	typ, dir = reversalType(Movement{Type: TypeTransfer, Direction: DirectionOut})
	assert.Equal(t, TypeIngress, typ)
	assert.Equal(t, DirectionIn, dir)
}
