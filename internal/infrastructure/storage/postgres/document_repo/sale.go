package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"osiris/internal/core/id"
	"osiris/internal/domain"
	"osiris/internal/domain/documents/sale"
	"osiris/internal/infrastructure/storage/postgres"
)

const (
	salesTable     = "sale"
	saleLinesTable = "sale_line"
)

var saleLineColumns = []string{
	"line_id", "line_no", "product_id", "quantity", "unit_price", "tax_rate", "subtotal", "tax_amount", "unit_cost",
}

var _ sale.Repository = (*SaleRepo)(nil)

// SaleRepo implements sale.Repository.
type SaleRepo struct {
	*BaseDocumentRepo[*sale.Sale]
	batch *postgres.BatchInserter
}

func NewSaleRepo(txManager *postgres.TxManager) *SaleRepo {
	return &SaleRepo{
		BaseDocumentRepo: NewBaseDocumentRepo(
			txManager, salesTable, "sale",
			postgres.DBColumns[sale.Sale](),
			func() *sale.Sale { return &sale.Sale{} },
		),
		batch: postgres.NewBatchInserter(txManager),
	}
}

func (r *SaleRepo) Create(ctx context.Context, s *sale.Sale) error {
	if err := r.insertHeader(ctx, s); err != nil {
		return err
	}
	rows := make([][]any, 0, len(s.Lines))
	for _, l := range s.Lines {
		rows = append(rows, []any{
			l.LineID, s.ID, l.LineNo, l.ProductID, l.Quantity, l.UnitPrice, l.TaxRate, l.Subtotal, l.TaxAmount, l.UnitCost,
		})
	}
	columns := append([]string{"line_id", "sale_id"}, saleLineColumns[1:]...)
	if _, err := r.batch.CopyFromSlice(ctx, saleLinesTable, columns, rows); err != nil {
		return fmt.Errorf("insert sale lines: %w", err)
	}
	return nil
}

func (r *SaleRepo) GetByID(ctx context.Context, saleID id.ID) (*sale.Sale, error) {
	return r.load(ctx, saleID, false)
}

func (r *SaleRepo) GetForUpdate(ctx context.Context, saleID id.ID) (*sale.Sale, error) {
	return r.load(ctx, saleID, true)
}

func (r *SaleRepo) load(ctx context.Context, saleID id.ID, forUpdate bool) (*sale.Sale, error) {
	s, err := r.getHeader(ctx, saleID, forUpdate)
	if err != nil {
		return nil, err
	}
	s.Lines, err = selectLines[sale.Line](ctx, r.querier(ctx), saleLinesTable, "sale_id", saleLineColumns, saleID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Update saves the header and the unit costs frozen on issue; other line
// fields never change after creation.
func (r *SaleRepo) Update(ctx context.Context, s *sale.Sale) error {
	if err := r.updateHeader(ctx, s); err != nil {
		return err
	}
	if len(s.Lines) == 0 {
		return nil
	}
	queries := make([]postgres.BatchQuery, 0, len(s.Lines))
	for _, l := range s.Lines {
		queries = append(queries, postgres.BatchQuery{
			SQL:  "UPDATE sale_line SET unit_cost = $1 WHERE line_id = $2 AND sale_id = $3",
			Args: []any{l.UnitCost, l.LineID, s.ID},
		})
	}
	if err := r.batch.ExecuteBatch(ctx, queries); err != nil {
		return fmt.Errorf("update sale line costs: %w", err)
	}
	return nil
}

// List returns headers only; callers load lines through GetByID.
func (r *SaleRepo) List(ctx context.Context, f sale.ListFilter) (domain.ListResult[*sale.Sale], error) {
	where := squirrel.And{}
	if f.State != "" {
		where = append(where, squirrel.Eq{"state": string(f.State)})
	}
	if f.CustomerID != nil {
		where = append(where, squirrel.Eq{"customer_id": *f.CustomerID})
	}
	if f.EmissionPointID != nil {
		where = append(where, squirrel.Eq{"emission_point_id": *f.EmissionPointID})
	}
	return r.listHeaders(ctx, where, f.ListFilter, "issue_date")
}
