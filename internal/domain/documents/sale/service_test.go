package sale

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/core/types"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/cartera"
	"osiris/internal/domain/documents/doctest"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/history"
	"osiris/internal/domain/reference"
	"osiris/internal/domain/sequence"
)

var d = types.MustDecimal

func newService(h *doctest.Harness) *Service {
	return NewService(ServiceConfig{
		Repo:       NewMemoryRepository(),
		Refs:       h.Refs,
		TxManager:  h.Tx,
		Sequences:  h.Sequences,
		Kardex:     h.Kardex,
		Electronic: h.Electronic,
		Recorder:   h.Recorder,
		Audit:      h.Audit,
		Accounts:   h.Accounts,
	})
}

func draft(t *testing.T, h *doctest.Harness, svc *Service, electronicEmission bool) *Sale {
	t.Helper()
	s := NewSale(h.EmissionPoint, h.Warehouse, h.Customer, electronicEmission, "u1")
	s.AddLine(h.Products[0], d("3"), d("10.50"), d("15"))
	s.AddLine(h.Products[1], d("1.5"), d("2"), d("0"))
	require.NoError(t, svc.Create(context.Background(), s))
	return s
}

func TestCreate_ComputesTotals(t *testing.T) {
	h := doctest.New()
	svc := newService(h)
	s := draft(t, h, svc, false)

	assert.Equal(t, "34.50", types.Fixed2(s.Subtotal))
	assert.Equal(t, "4.73", types.Fixed2(s.Tax))
	assert.Equal(t, "39.23", types.Fixed2(s.Total))
	assert.Equal(t, StateDraft, s.State)
	assert.False(t, s.HasNumber())

	entries := h.AuditRepo.All()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCreate, entries[0].Action)
}

func TestCreate_InactiveCustomerFails(t *testing.T) {
	h := doctest.New()
	svc := newService(h)
	h.Refs.Add(reference.KindCustomer, false, h.Customer)

	s := NewSale(h.EmissionPoint, h.Warehouse, h.Customer, false, "u1")
	s.AddLine(h.Products[0], d("1"), d("1"), d("0"))
	err := svc.Create(context.Background(), s)
	assert.True(t, apperror.IsPreconditionFailed(err))
}

func TestEmit_AllocatesFreezesAndRecords(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "100", "10"))
	require.NoError(t, h.Stock(ctx, h.Products[0], "50", "13"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "10", "0.3333"))

	s := draft(t, h, svc, false)
	emitted, err := svc.Emit(ctx, s.ID, s.Version)
	require.NoError(t, err)

	assert.Equal(t, StateIssued, emitted.State)
	assert.Equal(t, "001-002-000000001", emitted.FormattedNumber)
	assert.Equal(t, "11.0000", types.Fixed4(emitted.Lines[0].UnitCost))
	assert.Equal(t, "0.3333", types.Fixed4(emitted.Lines[1].UnitCost))

	stock, err := h.Kardex.Stock(ctx, h.Warehouse, h.Products[0])
	require.NoError(t, err)
	assert.Equal(t, "147.0000", types.Fixed4(stock.Quantity))

	entries, err := h.Transitions(ctx, history.KindSale, s.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BORRADOR", entries[0].PreviousState)
	assert.Equal(t, "EMITIDA", entries[0].NewState)

	ok, err := svc.VerifyHistory(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	gaps, err := h.Sequences.Gaps(ctx, sequence.GapFilter{})
	require.NoError(t, err)
	assert.Empty(t, gaps.Unconsumed)
}

func TestEmit_FacturaPayloadPrintsBuyerTaxesAndPayment(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "10", "1"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "10", "1"))

	s := NewSale(h.EmissionPoint, h.Warehouse, h.Customer, true, "u1")
	s.PaymentMethod = electronic.PaymentCreditCard
	s.AddLine(h.Products[0], d("3"), d("10.50"), d("15"))
	s.AddLine(h.Products[1], d("1.5"), d("2"), d("0"))
	require.NoError(t, svc.Create(ctx, s))
	_, err := svc.Emit(ctx, s.ID, 0)
	require.NoError(t, err)

	ed, err := h.Electronic.GetByParent(ctx, electronic.ParentSale, s.ID)
	require.NoError(t, err)
	assert.NotContains(t, ed.Payload, h.Customer.String())
	assert.NotContains(t, ed.Payload, h.Products[0].String())

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(ed.Payload))
	text := func(path string) string {
		el := doc.FindElement(path)
		require.NotNil(t, el, path)
		return el.Text()
	}
	assert.Equal(t, "05", text("//infoFactura/tipoIdentificacionComprador"))
	assert.Equal(t, "0912345678", text("//infoFactura/identificacionComprador"))
	assert.Equal(t, "Maria Loor", text("//infoFactura/razonSocialComprador"))
	assert.Equal(t, "39.23", text("//infoFactura/importeTotal"))
	assert.Equal(t, "19", text("//infoFactura/pagos/pago/formaPago"))
	assert.Equal(t, "39.23", text("//infoFactura/pagos/pago/total"))

	totals := doc.FindElements("//infoFactura/totalConImpuestos/totalImpuesto")
	require.Len(t, totals, 2)
	assert.Equal(t, "4", totals[0].SelectElement("codigoPorcentaje").Text())
	assert.Equal(t, "31.50", totals[0].SelectElement("baseImponible").Text())
	assert.Equal(t, "4.73", totals[0].SelectElement("valor").Text())
	assert.Equal(t, "0", totals[1].SelectElement("codigoPorcentaje").Text())
	assert.Equal(t, "3.00", totals[1].SelectElement("baseImponible").Text())

	details := doc.FindElements("//detalles/detalle")
	require.Len(t, details, 2)
	assert.Equal(t, doctest.ProductCode(0), details[0].SelectElement("codigoPrincipal").Text())
	assert.Equal(t, "4", details[0].FindElement("impuestos/impuesto/codigoPorcentaje").Text())

	// schema order: totals, then importeTotal, then pagos
	info := doc.FindElement("//infoFactura")
	var order []string
	for _, el := range info.ChildElements() {
		order = append(order, el.Tag)
	}
	assert.Less(t, indexOf(order, "totalConImpuestos"), indexOf(order, "importeTotal"))
	assert.Less(t, indexOf(order, "importeTotal"), indexOf(order, "pagos"))
}

func indexOf(tags []string, tag string) int {
	for i, v := range tags {
		if v == tag {
			return i
		}
	}
	return -1
}

func TestCreate_RejectsUnknownPaymentMethodAndRate(t *testing.T) {
	h := doctest.New()
	svc := newService(h)

	s := NewSale(h.EmissionPoint, h.Warehouse, h.Customer, false, "u1")
	s.PaymentMethod = "EFECTIVO"
	s.AddLine(h.Products[0], d("1"), d("1"), d("15"))
	err := svc.Create(context.Background(), s)
	require.True(t, apperror.HasCode(err, apperror.CodeValidation))

	s = NewSale(h.EmissionPoint, h.Warehouse, h.Customer, false, "u1")
	s.AddLine(h.Products[0], d("1"), d("1"), d("7"))
	err = svc.Create(context.Background(), s)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestEmit_TwiceAllocatesOnce(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "10", "1"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "10", "1"))
	s := draft(t, h, svc, true)

	first, err := svc.Emit(ctx, s.ID, 0)
	require.NoError(t, err)
	second, err := svc.Emit(ctx, s.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, first.FormattedNumber, second.FormattedNumber)
	current, err := h.Sequences.Current(ctx, h.EmissionPoint, sequence.TypeInvoice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
	assert.Equal(t, 1, h.Queue.Len())

	entries, err := h.Transitions(ctx, history.KindSale, s.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEmit_ConcurrentRetriesShareOneNumber(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "100", "1"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "100", "1"))
	s := draft(t, h, svc, false)

	var wg sync.WaitGroup
	numbers := make([]string, 8)
	for i := range numbers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			alloc, err := h.Sequences.Allocate(ctx, sequence.AllocateRequest{
				EmissionPointID: h.EmissionPoint, DocumentType: sequence.TypeInvoice, EntityID: s.ID,
			})
			if err == nil {
				numbers[i] = alloc.Formatted
			}
		}(i)
	}
	wg.Wait()
	for _, n := range numbers {
		assert.Equal(t, numbers[0], n)
	}
}

func TestEmit_NegativeStockLeavesDraft(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "1", "1"))
	s := draft(t, h, svc, false)

	_, err := svc.Emit(ctx, s.ID, 0)
	assert.True(t, apperror.IsNegativeStock(err))

	got, err := svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, got.State)
	assert.False(t, got.HasNumber())

	entries, err := h.Transitions(ctx, history.KindSale, s.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEmit_DeactivatedPointKeepsCounter(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	s := draft(t, h, svc, false)
	h.Refs.SetEmissionPointActive(h.EmissionPoint, false)

	_, err := svc.Emit(ctx, s.ID, 0)
	assert.True(t, apperror.IsPreconditionFailed(err))

	current, err := h.Sequences.Current(ctx, h.EmissionPoint, sequence.TypeInvoice)
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestEmit_StaleVersion(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "10", "1"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "10", "1"))
	s := draft(t, h, svc, false)

	_, err := svc.Emit(ctx, s.ID, s.Version+1)
	assert.True(t, apperror.IsConcurrentModification(err))
}

func TestVoid_IssuedSaleReturnsGoods(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "10", "4"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "10", "1"))
	s := draft(t, h, svc, false)
	_, err := svc.Emit(ctx, s.ID, 0)
	require.NoError(t, err)

	_, err = svc.Void(ctx, VoidRequest{SaleID: s.ID})
	assert.Error(t, err, "void requires a reason")

	voided, err := svc.Void(ctx, VoidRequest{SaleID: s.ID, Reason: "cliente desistio"})
	require.NoError(t, err)
	assert.Equal(t, StateVoided, voided.State)
	assert.Equal(t, "cliente desistio", voided.VoidReason)
	assert.Equal(t, "001-002-000000001", voided.FormattedNumber, "voided sales keep their number")

	stock, err := h.Kardex.Stock(ctx, h.Warehouse, h.Products[0])
	require.NoError(t, err)
	assert.Equal(t, "10.0000", types.Fixed4(stock.Quantity))
	assert.Equal(t, "4.0000", types.Fixed4(stock.AverageCost))

	_, err = svc.Void(ctx, VoidRequest{SaleID: s.ID, Reason: "otra vez"})
	assert.True(t, apperror.IsInvalidStateTransition(err))

	_, err = svc.Emit(ctx, s.ID, 0)
	assert.True(t, apperror.IsInvalidStateTransition(err))

	var actions []audit.Action
	for _, e := range h.AuditRepo.All() {
		if e.EntityType == string(history.KindSale) {
			actions = append(actions, e.Action)
		}
	}
	assert.Equal(t, []audit.Action{audit.ActionCreate, audit.ActionTransition, audit.ActionVoid}, actions)

	ok, err := svc.VerifyHistory(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	next := draft(t, h, svc, false)
	emitted, err := svc.Emit(ctx, next.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "001-002-000000002", emitted.FormattedNumber, "voided numbers are never reused")
}

func TestVoid_ElectronicSaleGuards(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "10", "1"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "10", "1"))
	s := draft(t, h, svc, true)
	_, err := svc.Emit(ctx, s.ID, 0)
	require.NoError(t, err)

	_, err = svc.Void(ctx, VoidRequest{SaleID: s.ID, Reason: "error"})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict), "in flight")

	ed, err := h.Electronic.GetByParent(ctx, electronic.ParentSale, s.ID)
	require.NoError(t, err)
	_, err = h.Electronic.MarkSigned(ctx, ed.ID, "<factura/>")
	require.NoError(t, err)
	_, err = h.Electronic.MarkSent(ctx, ed.ID)
	require.NoError(t, err)
	_, err = h.Electronic.MarkAuthorized(ctx, ed.ID, electronic.Authorization{Number: ed.AccessKey, At: time.Now()})
	require.NoError(t, err)

	_, err = svc.Void(ctx, VoidRequest{SaleID: s.ID, Reason: "error"})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict), "portal confirmation missing")

	voided, err := svc.Void(ctx, VoidRequest{SaleID: s.ID, Reason: "error", PortalConfirmed: true})
	require.NoError(t, err)
	assert.Equal(t, StateVoided, voided.State)
}

func TestVoid_DraftSkipsInventory(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	s := draft(t, h, svc, false)

	voided, err := svc.Void(ctx, VoidRequest{SaleID: s.ID, Reason: "duplicado"})
	require.NoError(t, err)
	assert.Equal(t, StateVoided, voided.State)
	assert.False(t, voided.HasNumber())
}

func TestGet_NotFound(t *testing.T) {
	svc := newService(doctest.New())
	_, err := svc.Get(context.Background(), id.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestEmit_OpensReceivableForCustomer(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "10", "4"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "10", "1"))
	s := draft(t, h, svc, false)

	_, err := svc.Emit(ctx, s.ID, 0)
	require.NoError(t, err)

	account, err := h.Accounts.ForDocument(ctx, cartera.KindReceivable, s.ID)
	require.NoError(t, err)
	assert.Equal(t, h.Customer, account.PartyID)
	assert.Equal(t, "39.23", types.Fixed2(account.Total))
	assert.Equal(t, "39.23", types.Fixed2(account.Balance))
}

func TestVoid_CollectedSaleStaysIssued(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "10", "4"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "10", "1"))
	s := draft(t, h, svc, false)
	_, err := svc.Emit(ctx, s.ID, 0)
	require.NoError(t, err)

	account, err := h.Accounts.ForDocument(ctx, cartera.KindReceivable, s.ID)
	require.NoError(t, err)
	_, _, err = h.Accounts.RegisterPayment(ctx, cartera.PaymentRequest{AccountID: account.ID, Amount: d("10")})
	require.NoError(t, err)

	_, err = svc.Void(ctx, VoidRequest{SaleID: s.ID, Reason: "cliente desistio"})
	assert.True(t, apperror.IsPreconditionFailed(err))

	loaded, err := svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIssued, loaded.State)
}

func TestVoid_UncollectedSaleVoidsReceivable(t *testing.T) {
	h := doctest.New()
	ctx := context.Background()
	svc := newService(h)
	require.NoError(t, h.Stock(ctx, h.Products[0], "10", "4"))
	require.NoError(t, h.Stock(ctx, h.Products[1], "10", "1"))
	s := draft(t, h, svc, false)
	_, err := svc.Emit(ctx, s.ID, 0)
	require.NoError(t, err)

	_, err = svc.Void(ctx, VoidRequest{SaleID: s.ID, Reason: "cliente desistio"})
	require.NoError(t, err)

	account, err := h.Accounts.ForDocument(ctx, cartera.KindReceivable, s.ID)
	require.NoError(t, err)
	assert.Equal(t, cartera.AccountVoided, account.State)
	assert.True(t, account.Balance.IsZero())
}
