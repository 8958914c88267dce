package document_repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/types"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/cartera"
	"osiris/internal/domain/documents/sale"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/history"
	"osiris/internal/domain/kardex"
	"osiris/internal/domain/sequence"
	"osiris/internal/domain/sriqueue"
	"osiris/internal/infrastructure/storage/postgres"
	"osiris/internal/infrastructure/storage/postgres/document_repo"
	"osiris/internal/infrastructure/storage/postgres/pgtest"
	"osiris/internal/infrastructure/storage/postgres/register_repo"
)

var d = types.MustDecimal

type stack struct {
	db         *pgtest.DB
	seed       pgtest.Seed
	sales      *sale.Service
	kardex     *kardex.Service
	accounts   *cartera.Service
	electronic *electronic.Service
	queue      *postgres.SRIQueueRepo
	history    *postgres.HistoryRepo
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := pgtest.New(t)
	seed := db.SeedMaster(t)

	auditRepo, err := postgres.NewAuditRepo(db.TxM)
	require.NoError(t, err)
	auditSvc := audit.NewService(auditRepo)
	refs := postgres.NewReferenceRepo(db.TxM)
	historyRepo := postgres.NewHistoryRepo(db.TxM)
	recorder := history.NewRecorder(historyRepo, auditSvc)
	queueRepo := postgres.NewSRIQueueRepo(db.TxM)

	seqSvc := sequence.NewService(postgres.NewSequenceRepo(db.TxM), refs, db.TxM, auditSvc)
	kardexSvc := kardex.NewService(register_repo.NewKardexRepo(db.TxM), refs, db.TxM, auditSvc)
	accountSvc := cartera.NewService(register_repo.NewCarteraRepo(db.TxM), db.TxM, auditSvc)
	electronicSvc := electronic.NewService(document_repo.NewElectronicRepo(db.TxM), refs, db.TxM, recorder, auditSvc,
		sriqueue.NewQueue(queueRepo, nil, 3))

	return &stack{
		db:   db,
		seed: seed,
		sales: sale.NewService(sale.ServiceConfig{
			Repo:       document_repo.NewSaleRepo(db.TxM),
			Refs:       refs,
			TxManager:  db.TxM,
			Sequences:  seqSvc,
			Kardex:     kardexSvc,
			Electronic: electronicSvc,
			Recorder:   recorder,
			Audit:      auditSvc,
			Accounts:   accountSvc,
		}),
		kardex:     kardexSvc,
		accounts:   accountSvc,
		electronic: electronicSvc,
		queue:      queueRepo,
		history:    historyRepo,
	}
}

func clerk() context.Context {
	return appctx.WithActor(context.Background(), &appctx.Actor{ActorID: "cajero-1"})
}

func (s *stack) draft(t *testing.T, ctx context.Context, electronicEmission bool) *sale.Sale {
	t.Helper()
	doc := sale.NewSale(s.seed.EmissionPointID, s.seed.WarehouseID, s.seed.CustomerID, electronicEmission, "cajero-1")
	doc.AddLine(s.seed.ProductID, d("4"), d("2.50"), d("15"))
	require.NoError(t, s.sales.Create(ctx, doc))
	return doc
}

func TestSaleRepo_EmitAndVoidRoundTrip(t *testing.T) {
	s := newStack(t)
	ctx := clerk()

	_, err := s.kardex.RecordIngress(ctx, kardex.IngressRequest{
		WarehouseID: s.seed.WarehouseID, ProductID: s.seed.ProductID,
		Quantity: d("10"), UnitCost: d("1.20"), Reference: "SALDO_INICIAL",
	})
	require.NoError(t, err)

	doc := s.draft(t, ctx, true)

	loaded, err := s.sales.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, "10.00", types.Fixed2(loaded.Subtotal))
	assert.Equal(t, "11.50", types.Fixed2(loaded.Total))
	assert.Equal(t, 1, loaded.Version)

	issued, err := s.sales.Emit(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, sale.StateIssued, issued.State)
	assert.Equal(t, "001-002-000000001", issued.FormattedNumber)

	loaded, err = s.sales.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	assert.Equal(t, "1.2000", types.Fixed4(loaded.Lines[0].UnitCost))

	ed, err := s.electronic.GetByParent(ctx, electronic.ParentSale, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, electronic.StateQueued, ed.State)
	assert.Len(t, ed.AccessKey, 49)

	items, total, err := s.queue.List(ctx, sriqueue.Filter{EntityID: &ed.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, sriqueue.StatePending, items[0].State)

	// Still in the queue: voiding must wait for the authority.
	_, err = s.sales.Void(ctx, sale.VoidRequest{SaleID: doc.ID, Reason: "error de digitación"})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	stock, err := s.kardex.Stock(ctx, s.seed.WarehouseID, s.seed.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "6.0000", types.Fixed4(stock.Quantity))

	entries, err := s.history.List(ctx, history.KindSale, history.Filter{EntityID: &doc.ID})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"BORRADOR", "EMITIDA"}}, history.Path(entries))
}

func TestSaleRepo_VoidRestoresStock(t *testing.T) {
	s := newStack(t)
	ctx := clerk()

	_, err := s.kardex.RecordIngress(ctx, kardex.IngressRequest{
		WarehouseID: s.seed.WarehouseID, ProductID: s.seed.ProductID,
		Quantity: d("10"), UnitCost: d("1.20"), Reference: "SALDO_INICIAL",
	})
	require.NoError(t, err)

	doc := s.draft(t, ctx, false)
	_, err = s.sales.Emit(ctx, doc.ID, 0)
	require.NoError(t, err)

	voided, err := s.sales.Void(ctx, sale.VoidRequest{SaleID: doc.ID, Reason: "cliente desistió", ExpectedVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, sale.StateVoided, voided.State)
	assert.Equal(t, "cliente desistió", voided.VoidReason)

	stock, err := s.kardex.Stock(ctx, s.seed.WarehouseID, s.seed.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "10.0000", types.Fixed4(stock.Quantity))
	assert.Equal(t, "1.2000", types.Fixed4(stock.AverageCost))

	ok, err := s.sales.VerifyHistory(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaleRepo_StaleVersionRejected(t *testing.T) {
	s := newStack(t)
	ctx := clerk()
	doc := s.draft(t, ctx, false)

	_, err := s.sales.Void(ctx, sale.VoidRequest{SaleID: doc.ID, Reason: "duplicada", ExpectedVersion: 1})
	require.NoError(t, err)

	_, err = s.sales.Void(ctx, sale.VoidRequest{SaleID: doc.ID, Reason: "otra vez", ExpectedVersion: 1})
	assert.True(t, apperror.IsConcurrentModification(err))
}

func TestSaleRepo_EmitWithoutStockLeavesDraft(t *testing.T) {
	s := newStack(t)
	ctx := clerk()
	doc := s.draft(t, ctx, true)

	_, err := s.sales.Emit(ctx, doc.ID, 0)
	assert.True(t, apperror.IsNegativeStock(err))

	loaded, err := s.sales.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StateDraft, loaded.State)
	assert.False(t, loaded.HasNumber())

	_, err = s.electronic.GetByParent(ctx, electronic.ParentSale, doc.ID)
	assert.True(t, apperror.IsNotFound(err))

	list, err := s.sales.List(ctx, sale.ListFilter{State: sale.StateDraft})
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.TotalCount)
}

func TestSaleRepo_ReceivableFollowsPaymentsAndWithholdings(t *testing.T) {
	s := newStack(t)
	ctx := clerk()

	_, err := s.kardex.RecordIngress(ctx, kardex.IngressRequest{
		WarehouseID: s.seed.WarehouseID, ProductID: s.seed.ProductID,
		Quantity: d("10"), UnitCost: d("1.20"), Reference: "SALDO_INICIAL",
	})
	require.NoError(t, err)

	doc := s.draft(t, ctx, false)
	_, err = s.sales.Emit(ctx, doc.ID, 0)
	require.NoError(t, err)

	account, err := s.accounts.ForDocument(ctx, cartera.KindReceivable, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "11.50", types.Fixed2(account.Balance))
	assert.Equal(t, cartera.AccountPending, account.State)

	_, account, err = s.accounts.RegisterPayment(ctx, cartera.PaymentRequest{AccountID: account.ID, Amount: d("5.00")})
	require.NoError(t, err)
	assert.Equal(t, "6.50", types.Fixed2(account.Balance))

	_, _, err = s.accounts.RegisterPayment(ctx, cartera.PaymentRequest{AccountID: account.ID, Amount: d("7.00")})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	rw := cartera.NewReceivedWithholding(doc.ID, s.seed.CustomerID, "001-001-000000123", "", doc.IssueDate)
	rw.AddLine("2", d("1.50"), d("30"))
	require.NoError(t, s.accounts.RegisterReceived(ctx, rw))
	_, err = s.accounts.ApplyReceived(ctx, rw.ID)
	require.NoError(t, err)

	dup := cartera.NewReceivedWithholding(doc.ID, s.seed.CustomerID, "001-001-000000123", "", doc.IssueDate)
	dup.AddLine("2", d("1.50"), d("30"))
	assert.True(t, apperror.HasCode(s.accounts.RegisterReceived(ctx, dup), apperror.CodeDuplicate))

	loaded, payments, err := s.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "0.45", types.Fixed2(loaded.Withheld))
	assert.Equal(t, "6.05", types.Fixed2(loaded.Balance))
	assert.Equal(t, cartera.AccountPartial, loaded.State)

	_, err = s.sales.Void(ctx, sale.VoidRequest{SaleID: doc.ID, Reason: "cliente desistió"})
	assert.True(t, apperror.IsPreconditionFailed(err))

	stored, err := s.accounts.GetReceived(ctx, rw.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, cartera.ReceivedApplied, stored.State)
}
