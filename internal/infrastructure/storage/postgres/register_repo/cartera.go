package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain"
	"osiris/internal/domain/cartera"
	"osiris/internal/infrastructure/storage/postgres"
)

const (
	accountTable       = "account"
	paymentTable       = "account_payment"
	receivedTable      = "received_withholding"
	receivedLinesTable = "received_withholding_line"
)

var accountColumns = []string{
	"id", "kind", "document_id", "party_id", "total", "withheld", "paid", "balance",
	"state", "created_at", "updated_at", "updated_by",
}

var paymentColumns = []string{"id", "account_id", "amount", "paid_on", "method", "actor_id", "created_at"}

var receivedColumns = []string{
	"id", "sale_id", "customer_id", "number", "access_key", "issue_date", "state", "total",
	"void_reason", "created_at", "updated_at", "created_by", "updated_by",
}

var receivedLineColumns = []string{"line_no", "tax_code", "percentage", "base", "amount"}

var _ cartera.Repository = (*CarteraRepo)(nil)

// CarteraRepo implements cartera.Repository. Account rows are locked FOR
// UPDATE; the balance CHECK backs the never-negative rule.
type CarteraRepo struct {
	txManager *postgres.TxManager
	batch     *postgres.BatchInserter
}

func NewCarteraRepo(txManager *postgres.TxManager) *CarteraRepo {
	return &CarteraRepo{txManager: txManager, batch: postgres.NewBatchInserter(txManager)}
}

func (r *CarteraRepo) selectAccounts() squirrel.SelectBuilder {
	return postgres.Builder().Select(accountColumns...).From(accountTable)
}

func (r *CarteraRepo) CreateAccount(ctx context.Context, a *cartera.Account) error {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return err
	}
	_, err = postgres.Exec(ctx, q, postgres.Builder().
		Insert(accountTable).
		Columns(accountColumns...).
		Values(a.ID, string(a.Kind), a.DocumentID, a.PartyID, a.Total, a.Withheld, a.Paid, a.Balance,
			string(a.State), a.CreatedAt, a.UpdatedAt, a.UpdatedBy))
	if err != nil {
		if constraint, dup := postgres.IsUniqueViolation(err); dup {
			return apperror.NewDuplicate("account", constraint, a.DocumentID.String()).WithCause(err)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *CarteraRepo) UpdateAccount(ctx context.Context, a *cartera.Account) error {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return err
	}
	n, err := postgres.Exec(ctx, q, postgres.Builder().
		Update(accountTable).
		Set("withheld", a.Withheld).
		Set("paid", a.Paid).
		Set("balance", a.Balance).
		Set("state", string(a.State)).
		Set("updated_at", a.UpdatedAt).
		Set("updated_by", a.UpdatedBy).
		Where(squirrel.Eq{"id": a.ID}))
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return apperror.NewValidation("account balance cannot be negative").WithCause(err)
		}
		return fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("account", a.ID)
	}
	return nil
}

func (r *CarteraRepo) getAccount(ctx context.Context, q postgres.Querier, where squirrel.Eq, forUpdate bool, notFound func() error) (*cartera.Account, error) {
	sb := r.selectAccounts().Where(where)
	if forUpdate {
		sb = sb.Suffix("FOR UPDATE")
	}
	var a cartera.Account
	if err := postgres.GetOne(ctx, q, &a, sb); err != nil {
		if pgxscan.NotFound(err) {
			return nil, notFound()
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (r *CarteraRepo) GetAccount(ctx context.Context, accountID id.ID) (*cartera.Account, error) {
	return r.getAccount(ctx, r.txManager.GetQuerier(ctx), squirrel.Eq{"id": accountID}, false,
		func() error { return apperror.NewNotFound("account", accountID) })
}

func (r *CarteraRepo) LockAccount(ctx context.Context, accountID id.ID) (*cartera.Account, error) {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return nil, err
	}
	return r.getAccount(ctx, q, squirrel.Eq{"id": accountID}, true,
		func() error { return apperror.NewNotFound("account", accountID) })
}

func (r *CarteraRepo) GetAccountByDocument(ctx context.Context, kind cartera.Kind, documentID id.ID) (*cartera.Account, error) {
	return r.getAccount(ctx, r.txManager.GetQuerier(ctx),
		squirrel.Eq{"kind": string(kind), "document_id": documentID}, false,
		func() error { return apperror.NewNotFound(string(kind), documentID) })
}

func (r *CarteraRepo) LockAccountByDocument(ctx context.Context, kind cartera.Kind, documentID id.ID) (*cartera.Account, error) {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return nil, err
	}
	return r.getAccount(ctx, q,
		squirrel.Eq{"kind": string(kind), "document_id": documentID}, true,
		func() error { return apperror.NewNotFound(string(kind), documentID) })
}

func (r *CarteraRepo) ListAccounts(ctx context.Context, f cartera.AccountFilter) (domain.ListResult[*cartera.Account], error) {
	where := squirrel.And{}
	if f.Kind != "" {
		where = append(where, squirrel.Eq{"kind": string(f.Kind)})
	}
	if f.State != "" {
		where = append(where, squirrel.Eq{"state": string(f.State)})
	}
	if f.PartyID != nil {
		where = append(where, squirrel.Eq{"party_id": *f.PartyID})
	}
	return listPage[*cartera.Account](ctx, r.txManager.GetQuerier(ctx), accountTable, accountColumns, where, f.ListFilter)
}

func (r *CarteraRepo) AddPayment(ctx context.Context, p *cartera.Payment) error {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return err
	}
	_, err = postgres.Exec(ctx, q, postgres.Builder().
		Insert(paymentTable).
		Columns(paymentColumns...).
		Values(p.ID, p.AccountID, p.Amount, p.PaidOn, p.Method, p.ActorID, p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *CarteraRepo) ListPayments(ctx context.Context, accountID id.ID) ([]cartera.Payment, error) {
	out := []cartera.Payment{}
	err := postgres.SelectAll(ctx, r.txManager.GetQuerier(ctx), &out, postgres.Builder().
		Select(paymentColumns...).
		From(paymentTable).
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out, nil
}

func (r *CarteraRepo) CreateReceived(ctx context.Context, rw *cartera.ReceivedWithholding) error {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return err
	}
	_, err = postgres.Exec(ctx, q, postgres.Builder().
		Insert(receivedTable).
		Columns(receivedColumns...).
		Values(rw.ID, rw.SaleID, rw.CustomerID, rw.Number, rw.AccessKey, rw.IssueDate, string(rw.State), rw.Total,
			rw.VoidReason, rw.CreatedAt, rw.UpdatedAt, rw.CreatedBy, rw.UpdatedBy))
	if err != nil {
		if _, dup := postgres.IsUniqueViolation(err); dup {
			return apperror.NewDuplicate("received withholding", "number", rw.Number).WithCause(err)
		}
		if postgres.IsForeignKeyViolation(err) {
			return apperror.NewPreconditionFailed("received withholding", rw.ID, "references a missing record").WithCause(err)
		}
		return fmt.Errorf("insert received withholding: %w", err)
	}

	rows := make([][]any, 0, len(rw.Lines))
	for _, l := range rw.Lines {
		rows = append(rows, []any{rw.ID, l.LineNo, l.TaxCode, l.Percentage, l.Base, l.Amount})
	}
	columns := append([]string{"received_withholding_id"}, receivedLineColumns...)
	if _, err := r.batch.CopyFromSlice(ctx, receivedLinesTable, columns, rows); err != nil {
		return fmt.Errorf("insert received withholding lines: %w", err)
	}
	return nil
}

// UpdateReceived writes the mutable header columns; lines never change.
func (r *CarteraRepo) UpdateReceived(ctx context.Context, rw *cartera.ReceivedWithholding) error {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return err
	}
	n, err := postgres.Exec(ctx, q, postgres.Builder().
		Update(receivedTable).
		Set("state", string(rw.State)).
		Set("void_reason", rw.VoidReason).
		Set("updated_at", rw.UpdatedAt).
		Set("updated_by", rw.UpdatedBy).
		Where(squirrel.Eq{"id": rw.ID}))
	if err != nil {
		return fmt.Errorf("update received withholding: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("received withholding", rw.ID)
	}
	return nil
}

func (r *CarteraRepo) GetReceived(ctx context.Context, receivedID id.ID) (*cartera.ReceivedWithholding, error) {
	return r.loadReceived(ctx, r.txManager.GetQuerier(ctx), receivedID, false)
}

func (r *CarteraRepo) LockReceived(ctx context.Context, receivedID id.ID) (*cartera.ReceivedWithholding, error) {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return nil, err
	}
	return r.loadReceived(ctx, q, receivedID, true)
}

func (r *CarteraRepo) loadReceived(ctx context.Context, q postgres.Querier, receivedID id.ID, forUpdate bool) (*cartera.ReceivedWithholding, error) {
	sb := postgres.Builder().Select(receivedColumns...).From(receivedTable).Where(squirrel.Eq{"id": receivedID})
	if forUpdate {
		sb = sb.Suffix("FOR UPDATE")
	}
	var rw cartera.ReceivedWithholding
	if err := postgres.GetOne(ctx, q, &rw, sb); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("received withholding", receivedID)
		}
		return nil, fmt.Errorf("get received withholding: %w", err)
	}
	if err := r.attachReceivedLines(ctx, q, &rw); err != nil {
		return nil, err
	}
	return &rw, nil
}

func (r *CarteraRepo) attachReceivedLines(ctx context.Context, q postgres.Querier, rw *cartera.ReceivedWithholding) error {
	lines := []cartera.ReceivedLine{}
	err := postgres.SelectAll(ctx, q, &lines, postgres.Builder().
		Select(receivedLineColumns...).
		From(receivedLinesTable).
		Where(squirrel.Eq{"received_withholding_id": rw.ID}).
		OrderBy("line_no"))
	if err != nil {
		return fmt.Errorf("lines of received withholding: %w", err)
	}
	rw.Lines = lines
	return nil
}

func (r *CarteraRepo) ReceivedNumberTaken(ctx context.Context, customerID id.ID, number string) (bool, error) {
	var taken bool
	err := r.txManager.GetQuerier(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM received_withholding
			WHERE customer_id = $1 AND number = $2 AND state <> $3)`,
		customerID, number, string(cartera.ReceivedVoided)).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check received withholding number: %w", err)
	}
	return taken, nil
}

func (r *CarteraRepo) ListReceived(ctx context.Context, f cartera.ReceivedFilter) (domain.ListResult[*cartera.ReceivedWithholding], error) {
	where := squirrel.And{}
	if f.SaleID != nil {
		where = append(where, squirrel.Eq{"sale_id": *f.SaleID})
	}
	if f.State != "" {
		where = append(where, squirrel.Eq{"state": string(f.State)})
	}
	q := r.txManager.GetQuerier(ctx)
	res, err := listPage[*cartera.ReceivedWithholding](ctx, q, receivedTable, receivedColumns, where, f.ListFilter)
	if err != nil {
		return res, err
	}
	for _, rw := range res.Items {
		if err := r.attachReceivedLines(ctx, q, rw); err != nil {
			return res, err
		}
	}
	return res, nil
}

// listPage counts and pages rows of table, newest first.
func listPage[T any](ctx context.Context, q postgres.Querier, table string, columns []string, where squirrel.And, f domain.ListFilter) (domain.ListResult[T], error) {
	result := domain.ListResult[T]{Limit: f.Limit, Offset: f.Offset, Items: []T{}}

	countSQL, countArgs, err := postgres.Builder().Select("COUNT(*)").From(table).Where(where).ToSql()
	if err != nil {
		return result, fmt.Errorf("build count: %w", err)
	}
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count %s: %w", table, err)
	}

	sb := postgres.Builder().Select(columns...).From(table).Where(where).OrderBy("created_at DESC", "id")
	if f.Limit > 0 {
		sb = sb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		sb = sb.Offset(uint64(f.Offset))
	}
	if err := postgres.SelectAll(ctx, q, &result.Items, sb); err != nil {
		return result, fmt.Errorf("list %s: %w", table, err)
	}
	return result, nil
}
