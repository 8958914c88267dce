package postgres_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/apperror"
	"osiris/internal/infrastructure/storage/postgres"
	"osiris/internal/infrastructure/storage/postgres/pgtest"
)

func TestIdempotencyStore_ReplaysSettledResponse(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()
	store := postgres.NewIdempotencyStore(db.TxM, time.Hour)

	replay, err := store.AcquireKey(ctx, "k-1", "clerk-7", "POST /api/v1/sales", "h1")
	require.NoError(t, err)
	assert.Nil(t, replay)

	_, err = store.AcquireKey(ctx, "k-1", "clerk-7", "POST /api/v1/sales", "h1")
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict), "in-flight key must be rejected")

	require.NoError(t, store.Settle(ctx, "k-1", http.StatusCreated, "application/json", []byte(`{"id":"x"}`)))

	replay, err = store.AcquireKey(ctx, "k-1", "clerk-7", "POST /api/v1/sales", "h1")
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, http.StatusCreated, replay.StatusCode)
	assert.JSONEq(t, `{"id":"x"}`, string(replay.Body))

	_, err = store.AcquireKey(ctx, "k-1", "clerk-7", "POST /api/v1/sales", "other-body")
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
}

func TestIdempotencyStore_ServerErrorReleasesKey(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()
	store := postgres.NewIdempotencyStore(db.TxM, time.Hour)

	_, err := store.AcquireKey(ctx, "k-2", "clerk-7", "POST /api/v1/sales/:id/emit", "h")
	require.NoError(t, err)
	require.NoError(t, store.Settle(ctx, "k-2", http.StatusBadGateway, "application/json", nil))

	_, err = store.Get(ctx, "k-2")
	assert.True(t, apperror.IsNotFound(err))

	replay, err := store.AcquireKey(ctx, "k-2", "clerk-7", "POST /api/v1/sales/:id/emit", "h")
	require.NoError(t, err)
	assert.Nil(t, replay)
}
