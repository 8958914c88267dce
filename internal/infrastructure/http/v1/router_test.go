package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/types"
	"osiris/internal/domain/documents/doctest"
	"osiris/internal/domain/documents/purchase"
	"osiris/internal/domain/documents/sale"
	"osiris/internal/domain/documents/withholding"
	"osiris/internal/domain/sriqueue"
	"osiris/internal/infrastructure/http/v1/handlers"
	"osiris/internal/infrastructure/notify"
	"osiris/internal/infrastructure/storage/postgres"
	"osiris/pkg/logger"
)

type apiFixture struct {
	h      *doctest.Harness
	router http.Handler
}

func newAPI(t *testing.T, store *memoryIdempotency) *apiFixture {
	t.Helper()
	return newAPIWith(t, store, nil)
}

func newAPIWith(t *testing.T, store *memoryIdempotency, adjust func(*RouterConfig)) *apiFixture {
	t.Helper()
	h := doctest.New()

	sales := sale.NewService(sale.ServiceConfig{
		Repo:       sale.NewMemoryRepository(),
		Refs:       h.Refs,
		TxManager:  h.Tx,
		Sequences:  h.Sequences,
		Kardex:     h.Kardex,
		Electronic: h.Electronic,
		Recorder:   h.Recorder,
		Audit:      h.Audit,
		Accounts:   h.Accounts,
	})
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
	withholdings := withholding.NewService(withholding.ServiceConfig{
		Repo:       withholding.NewMemoryRepository(),
		Purchases:  purchases,
		Refs:       h.Refs,
		TxManager:  h.Tx,
		Sequences:  h.Sequences,
		Electronic: h.Electronic,
		Recorder:   h.Recorder,
		Audit:      h.Audit,
		Accounts:   h.Accounts,
	})
	purchases.SetWithholdingLookup(withholdings)
	queue := sriqueue.NewService(sriqueue.ServiceConfig{
		Repo:       sriqueue.NewMemoryRepository(),
		TxManager:  h.Tx,
		Electronic: h.Electronic,
		Audit:      h.Audit,
	})

	cfg := RouterConfig{
		Services: Services{
			Sales:        sales,
			Purchases:    purchases,
			Withholdings: withholdings,
			Accounts:     h.Accounts,
			Kardex:       h.Kardex,
			Sequences:    h.Sequences,
			Queue:        queue,
			Audit:        h.Audit,
			Recorder:     h.Recorder,
		},
		Logger: logger.Nop(),
		HealthChecks: map[string]handlers.Pinger{
			"database": handlers.PingFunc(func(context.Context) error { return nil }),
		},
	}
	if store != nil {
		cfg.Idempotency = store
	}
	if adjust != nil {
		adjust(&cfg)
	}
	return &apiFixture{h: h, router: NewRouter(cfg)}
}

type call struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func (f *apiFixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	switch b := c.body.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case string:
		body = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "cajero-1")
	for k, v := range c.headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return payload["code"].(string)
}

func assertDecimal(t *testing.T, want string, got any) {
	t.Helper()
	s, ok := got.(string)
	require.True(t, ok, "decimal must be a JSON string, got %T", got)
	assert.True(t, types.MustDecimal(want).Equal(types.MustDecimal(s)), "want %s, got %s", want, s)
}

func (f *apiFixture) saleBody(quantity string) map[string]any {
	return map[string]any{
		"emissionPointId": f.h.EmissionPoint.String(),
		"warehouseId":     f.h.Warehouse.String(),
		"customerId":      f.h.Customer.String(),
		"lines": []map[string]any{{
			"productId": f.h.Products[0].String(),
			"quantity":  quantity,
			"unitPrice": "2.50",
		}},
	}
}

func (f *apiFixture) createSale(t *testing.T, quantity string) string {
	t.Helper()
	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales", body: f.saleBody(quantity)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["id"].(string)
}

func TestHealth_NoActorNeeded(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(t, call{method: http.MethodGet, path: "/health/live", headers: map[string]string{"X-Actor-ID": ""}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, call{method: http.MethodGet, path: "/health/ready", headers: map[string]string{"X-Actor-ID": ""}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["checks"].(map[string]any)["database"])
}

func TestHealth_ReadyReportsFailingDependency(t *testing.T) {
	router := NewRouter(RouterConfig{
		Logger: logger.Nop(),
		HealthChecks: map[string]handlers.Pinger{
			"redis": handlers.PingFunc(func(context.Context) error { return assert.AnError }),
		},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestAPI_MissingActorIsForbidden(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/sales", headers: map[string]string{"X-Actor-ID": ""}})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))
}

func TestSales_CreateEmitGet(t *testing.T) {
	f := newAPI(t, nil)
	ctx := context.Background()
	require.NoError(t, f.h.Stock(ctx, f.h.Products[0], "10", "1.20"))

	saleID := f.createSale(t, "4")

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales/" + saleID + "/emit", body: map[string]any{"expectedVersion": 1}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	emitted := decode(t, rec)
	assert.Equal(t, "EMITIDA", emitted["state"])
	assert.Equal(t, "001-002-000000001", emitted["formattedNumber"])

	rec = f.do(t, call{method: http.MethodGet, path: "/api/v1/sales/" + saleID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EMITIDA", decode(t, rec)["state"])

	rec = f.do(t, call{method: http.MethodGet, path: "/api/v1/history/sale?entityId=" + saleID})
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "EMITIDA", items[0].(map[string]any)["newState"])
}

func TestSales_EmitWithoutStock(t *testing.T) {
	f := newAPI(t, nil)
	saleID := f.createSale(t, "4")

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales/" + saleID + "/emit"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "NEGATIVE_STOCK", errorCode(t, rec))
}

func TestSales_StaleVersion(t *testing.T) {
	f := newAPI(t, nil)
	require.NoError(t, f.h.Stock(context.Background(), f.h.Products[0], "10", "1.20"))
	saleID := f.createSale(t, "1")

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales/" + saleID + "/emit", body: map[string]any{"expectedVersion": 7}})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONCURRENT_MODIFICATION", errorCode(t, rec))
}

func TestSales_RejectsFloatAmounts(t *testing.T) {
	f := newAPI(t, nil)
	body := f.saleBody("1")
	body["lines"] = []map[string]any{{
		"productId": f.h.Products[0].String(),
		"quantity":  2.5,
		"unitPrice": "1.00",
	}}

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales", body: body})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestSales_VoidRequiresReason(t *testing.T) {
	f := newAPI(t, nil)
	saleID := f.createSale(t, "1")

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales/" + saleID + "/void", body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/sales/" + saleID + "/void", body: map[string]any{"reason": "cliente desiste"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ANULADA", decode(t, rec)["state"])
}

func TestSales_MalformedID(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/sales/not-a-uuid"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestPurchases_RegisterPutsGoodsInStock(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/purchases", body: map[string]any{
		"emissionPointId":        f.h.EmissionPoint.String(),
		"warehouseId":            f.h.Warehouse.String(),
		"supplierId":             f.h.Supplier.String(),
		"supplierDocumentNumber": "001-001-000004512",
		"lines": []map[string]any{{
			"productId": f.h.Products[1].String(),
			"quantity":  "5",
			"unitCost":  "3.00",
		}},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	purchaseID := decode(t, rec)["id"].(string)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/purchases/" + purchaseID + "/register"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "REGISTRADA", decode(t, rec)["state"])

	rec = f.do(t, call{method: http.MethodGet, path: "/api/v1/kardex/" + f.h.Warehouse.String() + "/" + f.h.Products[1].String() + "?verify=true"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	card := decode(t, rec)
	assertDecimal(t, "5", card["stock"].(map[string]any)["quantity"])
	assert.Len(t, card["movements"], 1)
	assert.NotNil(t, card["verification"])
}

func (f *apiFixture) issueSale(t *testing.T) string {
	t.Helper()
	require.NoError(t, f.h.Stock(context.Background(), f.h.Products[0], "10", "1.20"))
	saleID := f.createSale(t, "4")
	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales/" + saleID + "/emit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return saleID
}

func (f *apiFixture) receivableOf(t *testing.T, saleID string) map[string]any {
	t.Helper()
	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/accounts?kind=CXC"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, item := range decode(t, rec)["items"].([]any) {
		a := item.(map[string]any)
		if a["documentId"] == saleID {
			return a
		}
	}
	require.FailNow(t, "no receivable for sale", saleID)
	return nil
}

func TestAccounts_PaymentLowersBalanceAndBlocksVoid(t *testing.T) {
	f := newAPI(t, nil)
	saleID := f.issueSale(t)
	account := f.receivableOf(t, saleID)
	assertDecimal(t, "11.50", account["balance"])
	assert.Equal(t, "PENDIENTE", account["state"])
	accountID := account["id"].(string)

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/accounts/" + accountID + "/payments", body: map[string]any{
		"amount": "4.00",
		"method": "19",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "19", body["payment"].(map[string]any)["method"])
	assertDecimal(t, "7.50", body["account"].(map[string]any)["balance"])
	assert.Equal(t, "PARCIAL", body["account"].(map[string]any)["state"])

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/accounts/" + accountID + "/payments", body: map[string]any{"amount": "8.00"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = f.do(t, call{method: http.MethodGet, path: "/api/v1/accounts/" + accountID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["payments"], 1)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/sales/" + saleID + "/void", body: map[string]any{"reason": "cliente desiste"}})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code, rec.Body.String())
}

func TestReceivedWithholdings_ApplyAndVoid(t *testing.T) {
	f := newAPI(t, nil)
	saleID := f.issueSale(t)

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/received-withholdings", body: map[string]any{
		"saleId":    saleID,
		"number":    "001-001-000000321",
		"issueDate": "2026-10-01",
		"lines": []map[string]any{
			{"taxCode": "1", "base": "10.00", "percentage": "1.75"},
			{"taxCode": "2", "base": "1.50", "percentage": "30"},
		},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, "BORRADOR", created["state"])
	assertDecimal(t, "0.63", created["total"])
	receivedID := created["id"].(string)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/received-withholdings/" + receivedID + "/apply"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "APLICADA", decode(t, rec)["state"])
	assertDecimal(t, "10.87", f.receivableOf(t, saleID)["balance"])

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/received-withholdings/" + receivedID + "/void", body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/received-withholdings/" + receivedID + "/void", body: map[string]any{"reason": "retención mal emitida"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ANULADA", decode(t, rec)["state"])
	assertDecimal(t, "11.50", f.receivableOf(t, saleID)["balance"])
}

func TestKardex_TransferAndValuation(t *testing.T) {
	f := newAPI(t, nil)
	require.NoError(t, f.h.Stock(context.Background(), f.h.Products[0], "10", "2.00"))

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/kardex/adjustments", body: map[string]any{
		"warehouseId": f.h.Warehouse.String(),
		"productId":   f.h.Products[0].String(),
		"quantity":    "10",
		"unitCost":    "4.00",
		"reason":      "conteo fisico",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "3.0000", decode(t, rec)["unitCost"])

	rec = f.do(t, call{method: http.MethodGet, path: "/api/v1/kardex/" + f.h.Warehouse.String() + "/valuation"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDecimal(t, "60", decode(t, rec)["total"])
}

func TestLedgers_UnknownHistoryKind(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/history/invoices"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLedgers_AuditListsCreations(t *testing.T) {
	f := newAPI(t, nil)
	saleID := f.createSale(t, "1")

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/audit?entityId=" + saleID})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "CREATE", items[0].(map[string]any)["action"])
}

func TestSequences_AdjustNeedsAdmin(t *testing.T) {
	f := newAPI(t, nil)
	body := map[string]any{
		"emissionPointId": f.h.EmissionPoint.String(),
		"documentType":    "FACTURA",
		"newValue":        120,
		"justification":   "migracion desde sistema anterior",
	}

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sequences/adjust", body: body})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/sequences/adjust", body: body,
		headers: map[string]string{"X-Actor-Admin": "true"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 120, decode(t, rec)["currentValue"])

	rec = f.do(t, call{method: http.MethodGet, path: "/api/v1/sequences/gaps?documentType=FACTURA"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestQueue_ListAndRequeueUnknown(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/sri-queue"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode(t, rec)["items"])

	rec = f.do(t, call{method: http.MethodGet, path: "/api/v1/sri-queue?state=PERDIDO"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/sri-queue/0192f000-0000-7000-8000-000000000000/requeue",
		body: map[string]any{"reason": "reintento manual"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeDeadLetters struct {
	entries []notify.DeadLetterEntry
	err     error
}

func (f *fakeDeadLetters) DeadLetters(_ context.Context, limit int64) ([]notify.DeadLetterEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if int64(len(f.entries)) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeDeadLetters) DeadLetterLength(context.Context) (int64, error) {
	return int64(len(f.entries)), f.err
}

func TestQueue_ListIncludesDeadLetters(t *testing.T) {
	dl := &fakeDeadLetters{entries: []notify.DeadLetterEntry{
		{ItemID: "item-1", DocumentType: "FACTURA", Attempts: 8, LastError: "sri unavailable"},
		{ItemID: "item-2", DocumentType: "COMPROBANTE_RETENCION", Attempts: 8, LastError: "timeout"},
	}}
	f := newAPIWith(t, nil, func(cfg *RouterConfig) { cfg.Services.DeadLetters = dl })

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/sri-queue"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	summary, ok := body["deadLetters"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	assert.EqualValues(t, 2, summary["count"])
	recent := summary["recent"].([]any)
	require.Len(t, recent, 2)
	assert.Equal(t, "item-1", recent[0].(map[string]any)["itemId"])
}

func TestQueue_DeadLetterReadFailureIsReported(t *testing.T) {
	dl := &fakeDeadLetters{err: errors.New("redis: connection refused")}
	f := newAPIWith(t, nil, func(cfg *RouterConfig) { cfg.Services.DeadLetters = dl })

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/sri-queue"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestQueue_NoDeadLetterStoreOmitsField(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/sri-queue"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decode(t, rec), "deadLetters")
}

// memoryIdempotency keeps settled responses in a map.
type memoryIdempotency struct {
	mu      sync.Mutex
	settled map[string]*postgres.IdempotencyReplay
	hashes  map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{
		settled: make(map[string]*postgres.IdempotencyReplay),
		hashes:  make(map[string]string),
	}
}

func (m *memoryIdempotency) AcquireKey(_ context.Context, key, _, _, requestHash string) (*postgres.IdempotencyReplay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[key] = requestHash
	return m.settled[key], nil
}

func (m *memoryIdempotency) Settle(_ context.Context, key string, statusCode int, contentType string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled[key] = &postgres.IdempotencyReplay{
		StatusCode:  statusCode,
		ContentType: contentType,
		Body:        append([]byte(nil), body...),
	}
	return nil
}

func TestIdempotency_ReplaysFirstResponse(t *testing.T) {
	store := newMemoryIdempotency()
	f := newAPI(t, store)
	headers := map[string]string{"Idempotency-Key": "caja-7-venta-0001"}

	first := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales", body: f.saleBody("1"), headers: headers})
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales", body: f.saleBody("1"), headers: headers})
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/sales"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["totalCount"])
}

func TestIdempotency_StoresRenderedError(t *testing.T) {
	store := newMemoryIdempotency()
	f := newAPI(t, store)

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sales", body: `{"lines":[]}`,
		headers: map[string]string{"Idempotency-Key": "k-err"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	stored := store.settled["k-err"]
	require.NotNil(t, stored)
	assert.Equal(t, http.StatusBadRequest, stored.StatusCode)
	assert.True(t, strings.Contains(string(stored.Body), "VALIDATION_ERROR"))
	assert.JSONEq(t, rec.Body.String(), string(stored.Body))
}
