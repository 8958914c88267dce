package withholding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/core/types"
	"osiris/internal/domain/cartera"
	"osiris/internal/domain/documents/doctest"
	"osiris/internal/domain/documents/purchase"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/history"
)

var d = types.MustDecimal

type fixture struct {
	h         *doctest.Harness
	purchases *purchase.Service
	svc       *Service
	purchase  *purchase.Purchase
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	h := doctest.New()
	purchases := purchase.NewService(purchase.ServiceConfig{
		Repo:      purchase.NewMemoryRepository(),
		Refs:      h.Refs,
		TxManager: h.Tx,
		Sequences: h.Sequences,
		Kardex:    h.Kardex,
		Recorder:  h.Recorder,
		Audit:     h.Audit,
		Accounts:  h.Accounts,
	})
	svc := NewService(ServiceConfig{
		Repo:       NewMemoryRepository(),
		Purchases:  purchases,
		Refs:       h.Refs,
		TxManager:  h.Tx,
		Sequences:  h.Sequences,
		Electronic: h.Electronic,
		Recorder:   h.Recorder,
		Audit:      h.Audit,
		Accounts:   h.Accounts,
	})
	purchases.SetWithholdingLookup(svc)
	h.Electronic.Subscribe(electronic.ParentWithholding, svc)

	p := purchase.NewPurchase(id.ID{}, h.Warehouse, h.Supplier, false, "u1")
	p.SupplierDocumentNumber = "001-001-000004512"
	p.AddLine(h.Products[0], d("10"), d("100"), d("15"))
	require.NoError(t, purchases.Create(ctx, p))
	p, err := purchases.Register(ctx, p.ID, 0)
	require.NoError(t, err)

	return &fixture{h: h, purchases: purchases, svc: svc, purchase: p}
}

func (f *fixture) draft(t *testing.T, electronicEmission bool) *Withholding {
	t.Helper()
	w := NewWithholding(f.h.EmissionPoint, f.purchase.ID, f.h.Supplier, electronicEmission, "u1")
	w.AddLine(TaxIncome, "312", d("1000"), d("1.75"))
	w.AddLine(TaxVAT, "725", d("150"), d("30"))
	require.NoError(t, f.svc.Create(context.Background(), w))
	return w
}

func TestCreate_ComputesAmounts(t *testing.T) {
	f := setup(t)
	w := f.draft(t, false)

	assert.Equal(t, "17.50", types.Fixed2(w.Lines[0].Amount))
	assert.Equal(t, "45.00", types.Fixed2(w.Lines[1].Amount))
	assert.Equal(t, "62.50", types.Fixed2(w.TotalWithheld))
}

func TestCreate_BaseExceedsPurchase(t *testing.T) {
	f := setup(t)
	w := NewWithholding(f.h.EmissionPoint, f.purchase.ID, f.h.Supplier, false, "u1")
	w.AddLine(TaxVAT, "725", d("150.01"), d("30"))

	err := f.svc.Create(context.Background(), w)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestCreate_PurchaseMustBeRegistered(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	draft := purchase.NewPurchase(id.ID{}, f.h.Warehouse, f.h.Supplier, false, "u1")
	draft.AddLine(f.h.Products[1], d("1"), d("10"), d("0"))
	require.NoError(t, f.purchases.Create(ctx, draft))

	w := NewWithholding(f.h.EmissionPoint, draft.ID, f.h.Supplier, false, "u1")
	w.AddLine(TaxIncome, "312", d("10"), d("1"))
	err := f.svc.Create(ctx, w)
	assert.True(t, apperror.IsPreconditionFailed(err))
}

func TestEmit_PhysicalIssuesDirectly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.draft(t, false)

	issued, err := f.svc.Emit(ctx, w.ID, w.Version)
	require.NoError(t, err)
	assert.Equal(t, StateIssued, issued.State)
	assert.Equal(t, "001-002-000000001", issued.FormattedNumber)
	assert.Zero(t, f.h.Queue.Len())
}

func TestEmit_ElectronicWaitsForAuthorization(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.draft(t, true)

	queued, err := f.svc.Emit(ctx, w.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, queued.State)
	require.Equal(t, 1, f.h.Queue.Len())
	payload := f.h.Queue.Submissions[0].Payload
	assert.Contains(t, payload, "<comprobanteRetencion")
	assert.Contains(t, payload, "<tipoIdentificacionSujetoRetenido>04</tipoIdentificacionSujetoRetenido>")
	assert.Contains(t, payload, "<identificacionSujetoRetenido>0990012345001</identificacionSujetoRetenido>")
	assert.NotContains(t, payload, f.h.Supplier.String())

	again, err := f.svc.Emit(ctx, w.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, queued.Version, again.Version)
	assert.Equal(t, 1, f.h.Queue.Len())

	ed, err := f.h.Electronic.GetByParent(ctx, electronic.ParentWithholding, w.ID)
	require.NoError(t, err)
	_, err = f.h.Electronic.MarkSigned(ctx, ed.ID, "<signed/>")
	require.NoError(t, err)
	_, err = f.h.Electronic.MarkSent(ctx, ed.ID)
	require.NoError(t, err)
	_, err = f.h.Electronic.MarkAuthorized(ctx, ed.ID, electronic.Authorization{Number: ed.AccessKey, At: time.Now()})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIssued, got.State)

	entries, err := f.h.Transitions(ctx, history.KindWithholding, w.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ENCOLADA", entries[1].PreviousState)
	assert.Equal(t, "EMITIDA", entries[1].NewState)

	ok, err := f.svc.VerifyHistory(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVoid_InFlightElectronicIsBlocked(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.draft(t, true)
	_, err := f.svc.Emit(ctx, w.ID, 0)
	require.NoError(t, err)

	_, err = f.svc.Void(ctx, VoidRequest{WithholdingID: w.ID, Reason: "error"})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	ed, err := f.h.Electronic.GetByParent(ctx, electronic.ParentWithholding, w.ID)
	require.NoError(t, err)
	_, err = f.h.Electronic.MarkSigned(ctx, ed.ID, "<signed/>")
	require.NoError(t, err)
	_, err = f.h.Electronic.MarkSent(ctx, ed.ID)
	require.NoError(t, err)
	_, err = f.h.Electronic.MarkRejected(ctx, ed.ID, "RUC no valido")
	require.NoError(t, err)

	voided, err := f.svc.Void(ctx, VoidRequest{WithholdingID: w.ID, Reason: "rechazada"})
	require.NoError(t, err)
	assert.Equal(t, StateVoided, voided.State)
}

func TestPurchaseVoid_BlockedUntilWithholdingVoided(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.draft(t, false)
	_, err := f.svc.Emit(ctx, w.ID, 0)
	require.NoError(t, err)

	_, err = f.purchases.Void(ctx, purchase.VoidRequest{PurchaseID: f.purchase.ID, Reason: "error"})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	_, err = f.svc.Void(ctx, VoidRequest{WithholdingID: w.ID, Reason: "error de digitacion"})
	require.NoError(t, err)

	voided, err := f.purchases.Void(ctx, purchase.VoidRequest{PurchaseID: f.purchase.ID, Reason: "error"})
	require.NoError(t, err)
	assert.Equal(t, purchase.StateVoided, voided.State)
}

// staleReader serves the snapshot taken before the purchase was voided,
// while Lock sees the current row.
type staleReader struct {
	*purchase.Service
	snapshot *purchase.Purchase
}

func (r staleReader) Get(context.Context, id.ID) (*purchase.Purchase, error) {
	return r.snapshot, nil
}

func TestEmit_RechecksPurchaseUnderLock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.draft(t, false)

	snapshot, err := f.purchases.Get(ctx, f.purchase.ID)
	require.NoError(t, err)
	_, err = f.purchases.Void(ctx, purchase.VoidRequest{PurchaseID: f.purchase.ID, Reason: "proveedor anuló la factura"})
	require.NoError(t, err)

	f.svc.purchases = staleReader{Service: f.purchases, snapshot: snapshot}
	_, err = f.svc.Emit(ctx, w.ID, 0)
	require.Error(t, err)
	assert.True(t, apperror.IsPreconditionFailed(err))

	got, err := f.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, got.State)
}

func TestEmit_LowersPayableAndVoidGivesItBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.draft(t, false)

	_, err := f.svc.Emit(ctx, w.ID, 0)
	require.NoError(t, err)

	account, err := f.h.Accounts.ForDocument(ctx, cartera.KindPayable, f.purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, "62.50", types.Fixed2(account.Withheld))
	assert.Equal(t, "1087.50", types.Fixed2(account.Balance))
	assert.Equal(t, cartera.AccountPartial, account.State)

	_, err = f.svc.Void(ctx, VoidRequest{WithholdingID: w.ID, Reason: "error de digitacion"})
	require.NoError(t, err)

	account, err = f.h.Accounts.ForDocument(ctx, cartera.KindPayable, f.purchase.ID)
	require.NoError(t, err)
	assert.True(t, account.Withheld.IsZero())
	assert.Equal(t, "1150.00", types.Fixed2(account.Balance))
	assert.Equal(t, cartera.AccountPending, account.State)
}

func TestEmit_WithholdingAboveUnpaidBalanceFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account, err := f.h.Accounts.ForDocument(ctx, cartera.KindPayable, f.purchase.ID)
	require.NoError(t, err)
	_, _, err = f.h.Accounts.RegisterPayment(ctx, cartera.PaymentRequest{AccountID: account.ID, Amount: d("1100")})
	require.NoError(t, err)

	w := f.draft(t, false)
	_, err = f.svc.Emit(ctx, w.ID, 0)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}
