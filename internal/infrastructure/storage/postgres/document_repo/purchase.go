package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"osiris/internal/core/id"
	"osiris/internal/domain"
	"osiris/internal/domain/documents/purchase"
	"osiris/internal/infrastructure/storage/postgres"
)

const (
	purchasesTable     = "purchase"
	purchaseLinesTable = "purchase_line"
)

var purchaseLineColumns = []string{
	"line_id", "line_no", "product_id", "quantity", "unit_cost", "tax_rate", "subtotal", "tax_amount",
}

var _ purchase.Repository = (*PurchaseRepo)(nil)

// PurchaseRepo implements purchase.Repository.
type PurchaseRepo struct {
	*BaseDocumentRepo[*purchase.Purchase]
	batch *postgres.BatchInserter
}

func NewPurchaseRepo(txManager *postgres.TxManager) *PurchaseRepo {
	return &PurchaseRepo{
		BaseDocumentRepo: NewBaseDocumentRepo(
			txManager, purchasesTable, "purchase",
			postgres.DBColumns[purchase.Purchase](),
			func() *purchase.Purchase { return &purchase.Purchase{} },
		),
		batch: postgres.NewBatchInserter(txManager),
	}
}

func (r *PurchaseRepo) Create(ctx context.Context, p *purchase.Purchase) error {
	if err := r.insertHeader(ctx, p); err != nil {
		return err
	}
	rows := make([][]any, 0, len(p.Lines))
	for _, l := range p.Lines {
		rows = append(rows, []any{
			l.LineID, p.ID, l.LineNo, l.ProductID, l.Quantity, l.UnitCost, l.TaxRate, l.Subtotal, l.TaxAmount,
		})
	}
	columns := append([]string{"line_id", "purchase_id"}, purchaseLineColumns[1:]...)
	if _, err := r.batch.CopyFromSlice(ctx, purchaseLinesTable, columns, rows); err != nil {
		return fmt.Errorf("insert purchase lines: %w", err)
	}
	return nil
}

func (r *PurchaseRepo) GetByID(ctx context.Context, purchaseID id.ID) (*purchase.Purchase, error) {
	return r.load(ctx, purchaseID, false)
}

func (r *PurchaseRepo) GetForUpdate(ctx context.Context, purchaseID id.ID) (*purchase.Purchase, error) {
	return r.load(ctx, purchaseID, true)
}

func (r *PurchaseRepo) load(ctx context.Context, purchaseID id.ID, forUpdate bool) (*purchase.Purchase, error) {
	p, err := r.getHeader(ctx, purchaseID, forUpdate)
	if err != nil {
		return nil, err
	}
	p.Lines, err = selectLines[purchase.Line](ctx, r.querier(ctx), purchaseLinesTable, "purchase_id", purchaseLineColumns, purchaseID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Update saves the header; purchase lines are immutable once created.
func (r *PurchaseRepo) Update(ctx context.Context, p *purchase.Purchase) error {
	return r.updateHeader(ctx, p)
}

func (r *PurchaseRepo) List(ctx context.Context, f purchase.ListFilter) (domain.ListResult[*purchase.Purchase], error) {
	where := squirrel.And{}
	if f.State != "" {
		where = append(where, squirrel.Eq{"state": string(f.State)})
	}
	if f.SupplierID != nil {
		where = append(where, squirrel.Eq{"supplier_id": *f.SupplierID})
	}
	return r.listHeaders(ctx, where, f.ListFilter, "issue_date")
}
