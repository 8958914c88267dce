package sriqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/core/tx"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/history"
	"osiris/internal/domain/reference"
	"osiris/internal/domain/sequence"
)

type fakeAuthority struct {
	mu         sync.Mutex
	signErr    error
	reception  *Reception
	submitErr  error
	authorize  []*AuthorizationResult
	signed     int
	submitted  int
	authorized int
}

func (a *fakeAuthority) Sign(_ context.Context, payload string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signed++
	if a.signErr != nil {
		return "", a.signErr
	}
	return "<signed>" + payload + "</signed>", nil
}

func (a *fakeAuthority) Submit(context.Context, string) (*Reception, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitted++
	if a.submitErr != nil {
		return nil, a.submitErr
	}
	if a.reception != nil {
		return a.reception, nil
	}
	return &Reception{Status: ReceptionReceived}, nil
}

func (a *fakeAuthority) Authorize(context.Context, string) (*AuthorizationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authorized++
	if len(a.authorize) == 0 {
		return &AuthorizationResult{Status: AuthorizationGranted, Number: "AUT-1", AuthorizedAt: time.Now()}, nil
	}
	next := a.authorize[0]
	if len(a.authorize) > 1 {
		a.authorize = a.authorize[1:]
	}
	return next, nil
}

type recorder struct {
	mu    sync.Mutex
	woken []id.ID
	dead  []id.ID
}

func (r *recorder) Wake(_ context.Context, itemID id.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.woken = append(r.woken, itemID)
	return nil
}

func (r *recorder) Push(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dead = append(r.dead, item.ID)
	return nil
}

type fixture struct {
	repo       *MemoryRepository
	queue      *Queue
	svc        *Service
	electronic *electronic.Service
	authority  *fakeAuthority
	signals    *recorder
	audit      *audit.MemoryRepository
	point      id.ID
}

func newFixture(maxAttempts int) *fixture {
	refs := reference.NewStaticChecker(reference.Settings{
		RUC: "1790011674001", BusinessName: "ACME", Address: "Quito", Environment: "1", EmissionType: "1",
	})
	point := id.New()
	refs.AddEmissionPoint(reference.EmissionPoint{ID: point, EstablishmentCode: "001", PointCode: "001", Active: true})

	txm := &tx.MockManager{}
	auditRepo := audit.NewMemoryRepository()
	auditSvc := audit.NewService(auditRepo)
	recorderSvc := history.NewRecorder(history.NewMemoryRepository(), auditSvc)
	signals := &recorder{}
	repo := NewMemoryRepository()
	queue := NewQueue(repo, signals, maxAttempts)
	electronicSvc := electronic.NewService(electronic.NewMemoryRepository(), refs, txm, recorderSvc, auditSvc, queue)
	authority := &fakeAuthority{}

	svc := NewService(ServiceConfig{
		Repo:       repo,
		TxManager:  txm,
		Electronic: electronicSvc,
		Authority:  authority,
		Audit:      auditSvc,
		DeadLetter: signals,
		Notifier:   signals,
		Config: Config{
			BatchSize:   10,
			BaseBackoff: time.Minute,
			MaxBackoff:  10 * time.Minute,
			Lease:       2 * time.Minute,
			ItemTimeout: 30 * time.Second,
			Environment: "1",
		},
	})
	return &fixture{
		repo: repo, queue: queue, svc: svc, electronic: electronicSvc,
		authority: authority, signals: signals, audit: auditRepo, point: point,
	}
}

func (f *fixture) issue(t *testing.T) (*electronic.Document, *Item) {
	t.Helper()
	ctx := context.Background()
	doc, err := f.electronic.Issue(ctx, electronic.IssueRequest{
		ParentKind:      electronic.ParentSale,
		ParentID:        id.New(),
		DocumentType:    sequence.TypeInvoice,
		EmissionPointID: f.point,
		Sequential:      7,
		IssueDate:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Voucher:         electronic.Voucher{Root: "factura", Version: "1.1.0"},
	})
	require.NoError(t, err)
	items, _, err := f.svc.List(ctx, Filter{EntityID: &doc.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	return doc, items[0]
}

func (f *fixture) docState(t *testing.T, docID id.ID) electronic.State {
	t.Helper()
	doc, err := f.electronic.Get(context.Background(), docID)
	require.NoError(t, err)
	return doc.State
}

func TestEnqueue_PendingAndWakesAfterCommit(t *testing.T) {
	f := newFixture(3)
	_, item := f.issue(t)

	assert.Equal(t, StatePending, item.State)
	assert.Equal(t, 3, item.MaxAttempts)
	assert.Zero(t, item.AttemptsMade)
	assert.Contains(t, item.Payload, "<claveAcceso>")
	assert.Equal(t, []id.ID{item.ID}, f.signals.woken)
}

func TestProcessDue_AuthorizesInOnePass(t *testing.T) {
	f := newFixture(3)
	doc, item := f.issue(t)

	res, err := f.svc.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Claimed: 1, Completed: 1}, res)

	assert.Equal(t, electronic.StateAuthorized, f.docState(t, doc.ID))
	got, err := f.svc.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 1, f.authority.submitted)
}

func TestProcessDue_FailsAfterMaxAttempts(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	f.authority.submitErr = errors.New("connection refused")
	doc, item := f.issue(t)

	now := time.Now()
	for attempt := 1; attempt <= 3; attempt++ {
		res, err := f.svc.ProcessDue(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, res.Claimed, "attempt %d", attempt)

		got, err := f.svc.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, got.AttemptsMade)
		if attempt < 3 {
			assert.Equal(t, StateRetry, got.State)
			assert.Equal(t, now.Add(Backoff(time.Minute, 10*time.Minute, attempt)), got.NextAttemptAt)
			now = got.NextAttemptAt
		} else {
			assert.Equal(t, StateFailed, got.State)
			assert.Contains(t, got.LastError, "connection refused")
		}
	}

	res, err := f.svc.ProcessDue(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	assert.Equal(t, 3, f.authority.submitted)

	// signed once, then stuck before reception
	assert.Equal(t, electronic.StateSigned, f.docState(t, doc.ID))
	assert.Equal(t, 1, f.authority.signed)
	assert.Equal(t, []id.ID{item.ID}, f.signals.dead)

	var failedAudit int
	for _, e := range f.audit.All() {
		if e.EntityType == auditEntity {
			failedAudit++
		}
	}
	assert.Equal(t, 1, failedAudit)
}

func TestProcessDue_WrongEnvironmentIsNeverSent(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	// test keys, production endpoints
	f.svc.cfg.Environment = "2"
	doc, item := f.issue(t)
	require.Equal(t, "1", electronic.AccessKeyEnvironment(doc.AccessKey))

	res, err := f.svc.ProcessDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	got, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRetry, got.State)
	assert.Contains(t, got.LastError, "environment")
	assert.Zero(t, f.authority.signed)
	assert.Zero(t, f.authority.submitted)
	assert.Equal(t, electronic.StateQueued, f.docState(t, doc.ID))
}

func TestProcessDue_PayloadOfAnotherDocumentIsNeverSent(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	doc, item := f.issue(t)
	other, _ := f.issue(t)
	require.NotEqual(t, doc.AccessKey, other.AccessKey)

	stored, err := f.repo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	stored.Payload = other.Payload
	require.NoError(t, f.repo.Update(ctx, stored))

	res, err := f.svc.ProcessDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, res.Completed)

	got, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRetry, got.State)
	assert.Contains(t, got.LastError, "access key")
	assert.Equal(t, electronic.StateQueued, f.docState(t, doc.ID))
	assert.Equal(t, 1, f.authority.signed, "only the untouched document is signed")
}

func TestProcessDue_NotDueYet(t *testing.T) {
	f := newFixture(3)
	f.authority.submitErr = errors.New("timeout")
	f.issue(t)
	now := time.Now()

	_, err := f.svc.ProcessDue(context.Background(), now)
	require.NoError(t, err)
	res, err := f.svc.ProcessDue(context.Background(), now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

func TestProcessDue_SentDocumentIsNeverResubmitted(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	doc, _ := f.issue(t)
	f.authority.authorize = []*AuthorizationResult{{Status: AuthorizationInProgress}}

	res, err := f.svc.ProcessDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, electronic.StateSent, f.docState(t, doc.ID))

	f.authority.authorize = []*AuthorizationResult{{
		Status: AuthorizationDenied, Messages: []Message{{Identifier: "39", Text: "FIRMA INVALIDA"}},
	}}
	res, err = f.svc.ProcessDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	assert.Equal(t, 1, f.authority.submitted)
	assert.Equal(t, 2, f.authority.authorized)
	got, err := f.electronic.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, electronic.StateRejected, got.State)
	assert.Contains(t, got.Messages, "FIRMA INVALIDA")
}

func TestProcessDue_AlreadyReceivedCountsAsSent(t *testing.T) {
	f := newFixture(3)
	doc, _ := f.issue(t)
	f.authority.reception = &Reception{
		Status:   ReceptionReturned,
		Messages: []Message{{Identifier: "43", Text: "CLAVE ACCESO REGISTRADA"}},
	}

	_, err := f.svc.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, electronic.StateAuthorized, f.docState(t, doc.ID))
}

func TestRequeue_ReturnedDocument(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	doc, item := f.issue(t)
	f.authority.reception = &Reception{
		Status:   ReceptionReturned,
		Messages: []Message{{Identifier: "35", Text: "ARCHIVO NO CUMPLE ESTRUCTURA XML"}},
	}

	res, err := f.svc.ProcessDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, electronic.StateReturned, f.docState(t, doc.ID))

	_, err = f.svc.Requeue(ctx, item.ID, "")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	requeued, err := f.svc.Requeue(ctx, item.ID, "estructura corregida")
	require.NoError(t, err)
	assert.Equal(t, StatePending, requeued.State)
	assert.Zero(t, requeued.AttemptsMade)
	assert.Equal(t, electronic.StateQueued, f.docState(t, doc.ID))

	f.authority.reception = nil
	_, err = f.svc.ProcessDue(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, electronic.StateAuthorized, f.docState(t, doc.ID))
}

func TestRequeue_PendingItemIsRejected(t *testing.T) {
	f := newFixture(3)
	_, item := f.issue(t)

	_, err := f.svc.Requeue(context.Background(), item.ID, "again")
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
}

func TestRecoverExpired_ReschedulesOrFails(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()
	_, item := f.issue(t)

	now := time.Now()
	claimed, err := f.repo.ClaimDue(ctx, now, 10, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := f.svc.RecoverExpired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.Contains(t, got.LastError, "lease expired")
}

func TestStats_CountsPerState(t *testing.T) {
	f := newFixture(3)
	f.issue(t)
	f.issue(t)
	_, err := f.svc.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	f.issue(t)

	stats, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats[StateCompleted])
	assert.Equal(t, 1, stats[StatePending])
}
