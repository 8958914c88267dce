package kardex

import (
	"github.com/shopspring/decimal"

	"osiris/internal/core/apperror"
	"osiris/internal/core/types"
)

// WeightedAverage returns round4((q*c + qIn*cIn) / (q + qIn)), every operand
// quantized to 4 places first. A non-positive denominator is InvalidQuantity.
func WeightedAverage(q, c, qIn, cIn decimal.Decimal) (decimal.Decimal, error) {
	q, c, qIn, cIn = types.Q4(q), types.Q4(c), types.Q4(qIn), types.Q4(cIn)

	denominator := types.Q4(q.Add(qIn))
	if !denominator.IsPositive() {
		return decimal.Zero, apperror.NewInvalidQuantity("resulting quantity must be positive").
			WithDetail("current_quantity", types.Fixed4(q)).
			WithDetail("incoming_quantity", types.Fixed4(qIn))
	}

	numerator := q.Mul(c).Add(qIn.Mul(cIn))
	return types.Q4(numerator.Div(denominator)), nil
}

// Freeze returns the unit cost applied to an egress: the current average,
// quantized and never recomputed.
func Freeze(averageCost decimal.Decimal) decimal.Decimal {
	return types.Q4(averageCost)
}

// Replay recomputes a balance from movements in ledger order.
func Replay(movements []Movement) (quantity, averageCost decimal.Decimal, err error) {
	quantity, averageCost = decimal.Zero, decimal.Zero
	for _, m := range movements {
		switch m.Direction {
		case DirectionIn:
			averageCost, err = WeightedAverage(quantity, averageCost, m.Quantity, m.UnitCost)
			if err != nil {
				return quantity, averageCost, err
			}
			quantity = types.Q4(quantity.Add(m.Quantity))
		case DirectionOut:
			quantity = types.Q4(quantity.Sub(m.Quantity))
			if quantity.IsNegative() {
				return quantity, averageCost, apperror.NewNegativeStock(m.WarehouseID, m.ProductID,
					types.Fixed4(m.Quantity), types.Fixed4(quantity.Add(m.Quantity)))
			}
		}
	}
	return quantity, averageCost, nil
}

// reversalType maps a movement to the type of the row that undoes it.
func reversalType(m Movement) (MovementType, Direction) {
	if m.Direction == DirectionIn {
		return TypeEgress, DirectionOut
	}
	return TypeIngress, DirectionIn
}
