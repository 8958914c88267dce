package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"osiris/internal/core/id"
	"osiris/internal/domain"
	"osiris/internal/domain/documents/withholding"
	"osiris/internal/infrastructure/storage/postgres"
)

const (
	withholdingsTable     = "withholding"
	withholdingLinesTable = "withholding_line"
)

var withholdingLineColumns = []string{
	"line_id", "line_no", "tax_kind", "code", "base", "percentage", "amount",
}

var _ withholding.Repository = (*WithholdingRepo)(nil)

// WithholdingRepo implements withholding.Repository.
type WithholdingRepo struct {
	*BaseDocumentRepo[*withholding.Withholding]
	batch *postgres.BatchInserter
}

func NewWithholdingRepo(txManager *postgres.TxManager) *WithholdingRepo {
	return &WithholdingRepo{
		BaseDocumentRepo: NewBaseDocumentRepo(
			txManager, withholdingsTable, "withholding",
			postgres.DBColumns[withholding.Withholding](),
			func() *withholding.Withholding { return &withholding.Withholding{} },
		),
		batch: postgres.NewBatchInserter(txManager),
	}
}

func (r *WithholdingRepo) Create(ctx context.Context, w *withholding.Withholding) error {
	if err := r.insertHeader(ctx, w); err != nil {
		return err
	}
	rows := make([][]any, 0, len(w.Lines))
	for _, l := range w.Lines {
		rows = append(rows, []any{
			l.LineID, w.ID, l.LineNo, string(l.TaxKind), l.Code, l.Base, l.Percentage, l.Amount,
		})
	}
	columns := append([]string{"line_id", "withholding_id"}, withholdingLineColumns[1:]...)
	if _, err := r.batch.CopyFromSlice(ctx, withholdingLinesTable, columns, rows); err != nil {
		return fmt.Errorf("insert withholding lines: %w", err)
	}
	return nil
}

func (r *WithholdingRepo) GetByID(ctx context.Context, withholdingID id.ID) (*withholding.Withholding, error) {
	return r.load(ctx, withholdingID, false)
}

func (r *WithholdingRepo) GetForUpdate(ctx context.Context, withholdingID id.ID) (*withholding.Withholding, error) {
	return r.load(ctx, withholdingID, true)
}

func (r *WithholdingRepo) load(ctx context.Context, withholdingID id.ID, forUpdate bool) (*withholding.Withholding, error) {
	w, err := r.getHeader(ctx, withholdingID, forUpdate)
	if err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *WithholdingRepo) attachLines(ctx context.Context, w *withholding.Withholding) error {
	lines, err := selectLines[withholding.Line](ctx, r.querier(ctx), withholdingLinesTable, "withholding_id", withholdingLineColumns, w.ID)
	if err != nil {
		return err
	}
	w.Lines = lines
	return nil
}

func (r *WithholdingRepo) Update(ctx context.Context, w *withholding.Withholding) error {
	return r.updateHeader(ctx, w)
}

func (r *WithholdingRepo) List(ctx context.Context, f withholding.ListFilter) (domain.ListResult[*withholding.Withholding], error) {
	where := squirrel.And{}
	if f.State != "" {
		where = append(where, squirrel.Eq{"state": string(f.State)})
	}
	if f.PurchaseID != nil {
		where = append(where, squirrel.Eq{"purchase_id": *f.PurchaseID})
	}
	if f.SupplierID != nil {
		where = append(where, squirrel.Eq{"supplier_id": *f.SupplierID})
	}
	return r.listHeaders(ctx, where, f.ListFilter, "issue_date")
}

// ListByPurchase returns every receipt of a purchase with its lines, voided ones included.
func (r *WithholdingRepo) ListByPurchase(ctx context.Context, purchaseID id.ID) ([]*withholding.Withholding, error) {
	out := []*withholding.Withholding{}
	err := postgres.SelectAll(ctx, r.querier(ctx), &out, r.baseSelect().
		Where(squirrel.Eq{"purchase_id": purchaseID}).
		OrderBy("created_at"))
	if err != nil {
		return nil, fmt.Errorf("withholdings of purchase: %w", err)
	}
	for _, w := range out {
		if err := r.attachLines(ctx, w); err != nil {
			return nil, err
		}
	}
	return out, nil
}
