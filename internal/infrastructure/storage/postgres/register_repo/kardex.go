// Package register_repo provides PostgreSQL implementations for ledger registers.
package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain/kardex"
	"osiris/internal/infrastructure/storage/postgres"
)

const (
	stockLevelTable = "stock_level"
	movementTable   = "inventory_movement"
)

var stockColumns = []string{"warehouse_id", "product_id", "current_quantity", "current_average_cost", "updated_at"}

var movementColumns = []string{
	"id", "seq", "warehouse_id", "product_id", "movement_type", "direction",
	"quantity", "unit_cost", "total_cost", "balance_quantity", "balance_average_cost",
	"document_reference", "reason", "reversal_of", "actor_id", "created_at",
}

// seq is assigned by the database.
func movementInsertColumns() []string {
	cols := make([]string, 0, len(movementColumns)-1)
	for _, c := range movementColumns {
		if c != "seq" {
			cols = append(cols, c)
		}
	}
	return cols
}

var _ kardex.Repository = (*KardexRepo)(nil)

// KardexRepo implements kardex.Repository. Stock rows are locked FOR UPDATE
// for the rest of the caller's transaction, which serializes costing per pair.
type KardexRepo struct {
	txManager *postgres.TxManager
}

func NewKardexRepo(txManager *postgres.TxManager) *KardexRepo {
	return &KardexRepo{txManager: txManager}
}

func (r *KardexRepo) selectStock() squirrel.SelectBuilder {
	return postgres.Builder().Select(stockColumns...).From(stockLevelTable)
}

func (r *KardexRepo) LockStock(ctx context.Context, warehouseID, productID id.ID) (*kardex.StockLevel, error) {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return nil, err
	}
	var s kardex.StockLevel
	err = postgres.GetOne(ctx, q, &s, r.selectStock().
		Where(squirrel.Eq{"warehouse_id": warehouseID, "product_id": productID}).
		Suffix("FOR UPDATE"))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock level", productID)
		}
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	return &s, nil
}

func (r *KardexRepo) LockOrCreateStock(ctx context.Context, warehouseID, productID id.ID) (*kardex.StockLevel, error) {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return nil, err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO stock_level (warehouse_id, product_id, current_quantity, current_average_cost, updated_at)
		VALUES ($1, $2, 0, 0, NOW())
		ON CONFLICT (warehouse_id, product_id) DO NOTHING`, warehouseID, productID)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return nil, apperror.NewPreconditionFailed("warehouse/product", productID, "does not exist")
		}
		return nil, fmt.Errorf("create stock: %w", err)
	}
	return r.LockStock(ctx, warehouseID, productID)
}

func (r *KardexRepo) SaveStock(ctx context.Context, s *kardex.StockLevel) error {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return err
	}
	n, err := postgres.Exec(ctx, q, postgres.Builder().
		Update(stockLevelTable).
		Set("current_quantity", s.Quantity).
		Set("current_average_cost", s.AverageCost).
		Set("updated_at", s.UpdatedAt).
		Where(squirrel.Eq{"warehouse_id": s.WarehouseID, "product_id": s.ProductID}))
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return apperror.NewNegativeStock(s.WarehouseID, s.ProductID, s.Quantity.Neg().String(), "0")
		}
		return fmt.Errorf("save stock: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("stock level", s.ProductID)
	}
	return nil
}

func (r *KardexRepo) GetStock(ctx context.Context, warehouseID, productID id.ID) (*kardex.StockLevel, error) {
	var s kardex.StockLevel
	err := postgres.GetOne(ctx, r.txManager.GetQuerier(ctx), &s, r.selectStock().
		Where(squirrel.Eq{"warehouse_id": warehouseID, "product_id": productID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock level", productID)
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return &s, nil
}

func (r *KardexRepo) ListStock(ctx context.Context, warehouseID id.ID) ([]kardex.StockLevel, error) {
	var out []kardex.StockLevel
	err := postgres.SelectAll(ctx, r.txManager.GetQuerier(ctx), &out, r.selectStock().
		Where(squirrel.Eq{"warehouse_id": warehouseID}).
		OrderBy("product_id"))
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}
	return out, nil
}

// AppendMovement inserts m and fills m.Seq from the ledger sequence.
func (r *KardexRepo) AppendMovement(ctx context.Context, m *kardex.Movement) error {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return err
	}
	sql, args, err := postgres.Builder().
		Insert(movementTable).
		Columns(movementInsertColumns()...).
		Values(m.ID, m.WarehouseID, m.ProductID, string(m.Type), string(m.Direction),
			m.Quantity, m.UnitCost, m.TotalCost, m.BalanceQuantity, m.BalanceAverageCost,
			m.DocumentReference, m.Reason, m.ReversalOf, m.ActorID, m.CreatedAt).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if err := q.QueryRow(ctx, sql, args...).Scan(&m.Seq); err != nil {
		if constraint, dup := postgres.IsUniqueViolation(err); dup {
			return apperror.NewConflict("movement already reversed").
				WithDetail("constraint", constraint).
				WithCause(err)
		}
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (r *KardexRepo) selectMovements() squirrel.SelectBuilder {
	cols := make([]string, len(movementColumns))
	for i, c := range movementColumns {
		cols[i] = "m." + c
	}
	return postgres.Builder().Select(cols...).From(movementTable + " m")
}

func (r *KardexRepo) MovementsByReference(ctx context.Context, reference string) ([]kardex.Movement, error) {
	var out []kardex.Movement
	err := postgres.SelectAll(ctx, r.txManager.GetQuerier(ctx), &out, r.selectMovements().
		Where(squirrel.Eq{"m.document_reference": reference}).
		Where("NOT EXISTS (SELECT 1 FROM inventory_movement rv WHERE rv.reversal_of = m.id)").
		OrderBy("m.seq"))
	if err != nil {
		return nil, fmt.Errorf("movements of %s: %w", reference, err)
	}
	return out, nil
}

func (r *KardexRepo) ListMovements(ctx context.Context, f kardex.LedgerFilter) ([]kardex.Movement, error) {
	q := r.selectMovements().
		Where(squirrel.Eq{"m.warehouse_id": f.WarehouseID, "m.product_id": f.ProductID})
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{"m.created_at": *f.From})
	}
	if f.To != nil {
		q = q.Where(squirrel.LtOrEq{"m.created_at": *f.To})
	}
	q = q.OrderBy("m.seq")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	var out []kardex.Movement
	if err := postgres.SelectAll(ctx, r.txManager.GetQuerier(ctx), &out, q); err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return out, nil
}

func (r *KardexRepo) AllMovements(ctx context.Context, warehouseID, productID id.ID) ([]kardex.Movement, error) {
	return r.ListMovements(ctx, kardex.LedgerFilter{WarehouseID: warehouseID, ProductID: productID})
}
