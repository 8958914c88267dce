// Package kardex is the perpetual inventory ledger with weighted-average costing.
//
// Ingress blends the incoming cost into the average; egress takes goods out at
// the average current at that moment and never recomputes it.
package kardex

import (
	"time"

	"github.com/shopspring/decimal"

	"osiris/internal/core/id"
)

// MovementType classifies a ledger row.
type MovementType string

const (
	TypeIngress    MovementType = "INGRESO"
	TypeEgress     MovementType = "EGRESO"
	TypeTransfer   MovementType = "TRANSFERENCIA"
	TypeAdjustment MovementType = "AJUSTE"
)

// Direction tells whether a movement adds or removes stock.
// Transfers produce one row of each direction.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// StockLevel is the materialized balance of a (warehouse, product) pair.
type StockLevel struct {
	WarehouseID id.ID           `db:"warehouse_id" json:"warehouseId"`
	ProductID   id.ID           `db:"product_id" json:"productId"`
	Quantity    decimal.Decimal `db:"current_quantity" json:"quantity"`
	AverageCost decimal.Decimal `db:"current_average_cost" json:"averageCost"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// Value is the stock valued at its average cost.
func (s StockLevel) Value() decimal.Decimal {
	return s.Quantity.Mul(s.AverageCost)
}

// Movement is one append-only ledger row. The balance columns hold the
// StockLevel right after the movement, which makes the kardex report a plain read.
type Movement struct {
	ID                 id.ID           `db:"id" json:"id"`
	Seq                int64           `db:"seq" json:"seq"`
	WarehouseID        id.ID           `db:"warehouse_id" json:"warehouseId"`
	ProductID          id.ID           `db:"product_id" json:"productId"`
	Type               MovementType    `db:"movement_type" json:"type"`
	Direction          Direction       `db:"direction" json:"direction"`
	Quantity           decimal.Decimal `db:"quantity" json:"quantity"`
	UnitCost           decimal.Decimal `db:"unit_cost" json:"unitCost"`
	TotalCost          decimal.Decimal `db:"total_cost" json:"totalCost"`
	BalanceQuantity    decimal.Decimal `db:"balance_quantity" json:"balanceQuantity"`
	BalanceAverageCost decimal.Decimal `db:"balance_average_cost" json:"balanceAverageCost"`
	DocumentReference  string          `db:"document_reference" json:"documentReference"`
	Reason             string          `db:"reason" json:"reason,omitempty"`
	ReversalOf         *id.ID          `db:"reversal_of" json:"reversalOf,omitempty"`
	ActorID            string          `db:"actor_id" json:"actorId"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`
}

// IngressRequest adds stock at a unit cost.
type IngressRequest struct {
	WarehouseID id.ID
	ProductID   id.ID
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	Reference   string
	// Type defaults to INGRESO.
	Type   MovementType
	Reason string
}

// EgressRequest removes stock at the current average.
type EgressRequest struct {
	WarehouseID id.ID
	ProductID   id.ID
	Quantity    decimal.Decimal
	Reference   string
	// Type defaults to EGRESO.
	Type   MovementType
	Reason string
}

// TransferRequest moves stock between warehouses at the source's average.
type TransferRequest struct {
	FromWarehouseID id.ID
	ToWarehouseID   id.ID
	ProductID       id.ID
	Quantity        decimal.Decimal
	Reference       string
}

// AdjustRequest enters a correcting ingress, for example after a physical count.
type AdjustRequest struct {
	WarehouseID id.ID
	ProductID   id.ID
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	Reason      string
	Reference   string
}

// LedgerFilter selects movements for the kardex report.
type LedgerFilter struct {
	WarehouseID id.ID
	ProductID   id.ID
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// ValuationLine is one product in the valuation report.
type ValuationLine struct {
	ProductID   id.ID           `json:"productId"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"averageCost"`
	Value       decimal.Decimal `json:"value"`
}

// Valuation is the inventory value of a warehouse.
type Valuation struct {
	WarehouseID id.ID           `json:"warehouseId"`
	Lines       []ValuationLine `json:"lines"`
	Total       decimal.Decimal `json:"total"`
}

// Verification compares StockLevel against a replay of its movements.
type Verification struct {
	WarehouseID      id.ID           `json:"warehouseId"`
	ProductID        id.ID           `json:"productId"`
	Movements        int             `json:"movements"`
	StoredQuantity   decimal.Decimal `json:"storedQuantity"`
	StoredCost       decimal.Decimal `json:"storedAverageCost"`
	ReplayedQuantity decimal.Decimal `json:"replayedQuantity"`
	ReplayedCost     decimal.Decimal `json:"replayedAverageCost"`
	Consistent       bool            `json:"consistent"`
}
