package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
	"osiris/internal/core/tx"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/reference"
)

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	refs  *reference.StaticChecker
	txm   *tx.MockManager
	audit *audit.MemoryRepository
	point reference.EmissionPoint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  NewMemoryRepository(),
		refs:  reference.NewStaticChecker(reference.Settings{}),
		txm:   &tx.MockManager{},
		audit: audit.NewMemoryRepository(),
		point: reference.EmissionPoint{ID: id.New(), EstablishmentCode: "001", PointCode: "001", Active: true},
	}
	f.refs.AddEmissionPoint(f.point)
	f.svc = NewService(f.repo, f.refs, f.txm, audit.NewService(f.audit))
	return f
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "001-002-000000123", Format("001", "002", 123))
	assert.Equal(t, "07", TypeWithholding.Code())
	assert.Error(t, DocumentType("RECIBO").Validate())
}

func TestAllocate_IncrementsInIndependentTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a1, err := f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: id.New()})
	require.NoError(t, err)
	a2, err := f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: id.New()})
	require.NoError(t, err)

	assert.Equal(t, int64(1), a1.Value)
	assert.Equal(t, "001-001-000000001", a1.Formatted)
	assert.Equal(t, int64(2), a2.Value)
	assert.Equal(t, int64(2), f.txm.IndependentCalls.Load())
}

func TestAllocate_SameEntityIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	saleID := id.New()
	req := AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: saleID}

	first, err := f.svc.Allocate(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Allocate(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Value, second.Value)
	current, err := f.svc.Current(ctx, f.point.ID, TypeInvoice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
}

func TestAllocate_SameEntityOtherCounterConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entity := id.New()

	_, err := f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: entity})
	require.NoError(t, err)
	_, err = f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeWithholding, EntityID: entity})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
}

func TestAllocate_DeactivatedPointLeavesCounterUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: id.New()})
	require.NoError(t, err)

	f.refs.SetEmissionPointActive(f.point.ID, false)
	_, err = f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: id.New()})
	require.Error(t, err)
	assert.True(t, apperror.IsPreconditionFailed(err))

	current, err := f.svc.Current(ctx, f.point.ID, TypeInvoice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
}

func TestAllocate_StaleActiveReadStillRejectedByCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the checker still reports the point active, the store knows better
	f.repo.Deactivate(f.point.ID)
	owner := id.New()
	_, err := f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: owner})
	require.Error(t, err)
	assert.True(t, apperror.IsPreconditionFailed(err))

	current, err := f.svc.Current(ctx, f.point.ID, TypeInvoice)
	require.NoError(t, err)
	assert.Zero(t, current)
	_, err = f.repo.FindAllocation(ctx, owner)
	assert.True(t, apperror.IsNotFound(err))
}

func TestAllocate_ConcurrentCallersGetDistinctIncreasingNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 64

	var wg sync.WaitGroup
	values := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: id.New()})
			if assert.NoError(t, err) {
				values <- a.Value
			}
		}()
	}
	wg.Wait()
	close(values)

	seen := make(map[int64]bool)
	for v := range values {
		assert.False(t, seen[v], "duplicate number %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
	for v := int64(1); v <= n; v++ {
		assert.True(t, seen[v])
	}
}

func TestAdjustManual(t *testing.T) {
	f := newFixture(t)
	admin := appctx.WithActor(context.Background(), &appctx.Actor{ActorID: "admin", IsAdmin: true})
	clerk := appctx.WithActor(context.Background(), &appctx.Actor{ActorID: "clerk"})
	req := AdjustRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, NewValue: 500, Justification: "migracion desde sistema anterior"}

	_, err := f.svc.AdjustManual(clerk, req)
	assert.True(t, apperror.HasCode(err, apperror.CodeForbidden))

	noReason := req
	noReason.Justification = ""
	_, err = f.svc.AdjustManual(admin, noReason)
	assert.Error(t, err)

	prev, err := f.svc.AdjustManual(admin, req)
	require.NoError(t, err)
	assert.Equal(t, int64(0), prev)

	entries := f.audit.All()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionManualAdjust, entries[0].Action)
	assert.Equal(t, int64(500), entries[0].After["delta"])

	a, err := f.svc.Allocate(admin, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: id.New()})
	require.NoError(t, err)
	assert.Equal(t, int64(501), a.Value)

	back := req
	back.NewValue = 10
	_, err = f.svc.AdjustManual(admin, back)
	assert.Error(t, err)
}

func TestGaps_ReportsUnconsumedAndSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := appctx.WithActor(context.Background(), &appctx.Actor{ActorID: "admin", IsAdmin: true})
	past := time.Now().UTC().Add(-time.Hour)
	f.svc.now = func() time.Time { return past }

	used, err := f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: id.New()})
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkConsumed(ctx, used.EntityID))

	aborted, err := f.svc.Allocate(ctx, AllocateRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, EntityID: id.New()})
	require.NoError(t, err)

	_, err = f.svc.AdjustManual(ctx, AdjustRequest{EmissionPointID: f.point.ID, DocumentType: TypeInvoice, NewValue: 5, Justification: "salto autorizado"})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().UTC() }
	report, err := f.svc.Gaps(ctx, GapFilter{EmissionPointID: &f.point.ID})
	require.NoError(t, err)

	require.Len(t, report.Unconsumed, 1)
	assert.Equal(t, aborted.Value, report.Unconsumed[0].Value)
	require.Len(t, report.Missing, 1)
	assert.Equal(t, int64(3), report.Missing[0].From)
	assert.Equal(t, int64(5), report.Missing[0].To)
}
