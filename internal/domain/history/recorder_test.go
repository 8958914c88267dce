package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
	"osiris/internal/domain/audit"
)

func newRecorder() (*Recorder, *MemoryRepository, *audit.MemoryRepository) {
	hist := NewMemoryRepository()
	aud := audit.NewMemoryRepository()
	return NewRecorder(hist, audit.NewService(aud)), hist, aud
}

func TestRecord_WritesHistoryAndAudit(t *testing.T) {
	rec, _, aud := newRecorder()
	ctx := appctx.WithActor(context.Background(), &appctx.Actor{ActorID: "u1"})
	saleID := id.New()

	err := rec.Record(ctx, Transition{
		Kind: KindSale, EntityID: saleID, From: "EMITIDA", To: "ANULADA",
		Reason: "error en datos del cliente", Void: true,
		Before: map[string]any{"state": "EMITIDA"}, After: map[string]any{"state": "ANULADA"},
	})
	require.NoError(t, err)

	entries, err := rec.List(ctx, KindSale, Filter{EntityID: &saleID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].ActorID)
	assert.Equal(t, "error en datos del cliente", entries[0].Reason)

	audits := aud.All()
	require.Len(t, audits, 1)
	assert.Equal(t, audit.ActionVoid, audits[0].Action)
	assert.Equal(t, "sale", audits[0].EntityType)
}

func TestRecord_RejectsEmptyReasonAndNoop(t *testing.T) {
	rec, hist, aud := newRecorder()
	ctx := context.Background()

	err := rec.Record(ctx, Transition{Kind: KindSale, EntityID: id.New(), From: "BORRADOR", To: "EMITIDA", Reason: " "})
	assert.Error(t, err)

	err = rec.Record(ctx, Transition{Kind: KindSale, EntityID: id.New(), From: "EMITIDA", To: "EMITIDA", Reason: "x"})
	assert.Error(t, err)

	rows, _ := hist.List(ctx, KindSale, Filter{})
	assert.Empty(t, rows)
	assert.Empty(t, aud.All())
}

func TestKind_Table(t *testing.T) {
	table, err := KindElectronic.Table()
	require.NoError(t, err)
	assert.Equal(t, "electronic_document_state_history", table)

	_, err = ParseKind("sale; DROP TABLE x")
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	p := Path([]Entry{{PreviousState: "A", NewState: "B"}, {PreviousState: "B", NewState: "C"}})
	assert.Equal(t, [][2]string{{"A", "B"}, {"B", "C"}}, p)
}
