package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osiris/internal/core/id"
	"osiris/internal/domain/reference"
)

type countingChecker struct {
	*reference.StaticChecker
	pointLoads    int
	settingsLoads int
}

func (c *countingChecker) EmissionPoint(ctx context.Context, pointID id.ID) (reference.EmissionPoint, error) {
	c.pointLoads++
	return c.StaticChecker.EmissionPoint(ctx, pointID)
}

func (c *countingChecker) Settings(ctx context.Context) (reference.Settings, error) {
	c.settingsLoads++
	return c.StaticChecker.Settings(ctx)
}

func newFixture() (*countingChecker, *ReferenceCache, reference.EmissionPoint) {
	static := reference.NewStaticChecker(reference.Settings{RUC: "1790012345001", Environment: "1", EmissionType: "1"})
	ep := reference.EmissionPoint{ID: id.New(), EstablishmentCode: "001", PointCode: "002", Active: true}
	static.AddEmissionPoint(ep)
	next := &countingChecker{StaticChecker: static}
	return next, NewReferenceCache(next, nil), ep
}

func TestReferenceCache_MemoizesEmissionPoint(t *testing.T) {
	ctx := context.Background()
	next, c, ep := newFixture()

	for i := 0; i < 3; i++ {
		got, err := c.EmissionPoint(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, "001002", got.Series())
	}
	assert.Equal(t, 1, next.pointLoads)

	exists, active, err := c.IsActive(ctx, reference.KindEmissionPoint, ep.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, active)
	assert.Equal(t, 1, next.pointLoads)
}

func TestReferenceCache_InvalidateSinglePoint(t *testing.T) {
	ctx := context.Background()
	next, c, ep := newFixture()

	_, err := c.EmissionPoint(ctx, ep.ID)
	require.NoError(t, err)

	next.SetEmissionPointActive(ep.ID, false)
	c.Invalidate("emission_point:" + ep.ID.String())

	got, err := c.EmissionPoint(ctx, ep.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 2, next.pointLoads)
}

func TestReferenceCache_SettingsInvalidation(t *testing.T) {
	ctx := context.Background()
	next, c, _ := newFixture()

	_, err := c.Settings(ctx)
	require.NoError(t, err)
	_, err = c.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, next.settingsLoads)

	c.Invalidate("issuer_settings")
	_, err = c.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, next.settingsLoads)
}

func TestReferenceCache_UnknownPointIsNotCached(t *testing.T) {
	ctx := context.Background()
	next, c, _ := newFixture()

	missing := id.New()
	exists, _, err := c.IsActive(ctx, reference.KindEmissionPoint, missing)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = c.EmissionPoint(ctx, missing)
	require.Error(t, err)
	assert.Equal(t, 2, next.pointLoads)
}

// pausingChecker blocks the first emission point load after it has read
// the record, until release is closed.
type pausingChecker struct {
	*reference.StaticChecker
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (c *pausingChecker) EmissionPoint(ctx context.Context, pointID id.ID) (reference.EmissionPoint, error) {
	ep, err := c.StaticChecker.EmissionPoint(ctx, pointID)
	c.once.Do(func() {
		close(c.loaded)
		<-c.release
	})
	return ep, err
}

func TestReferenceCache_LoadRacingInvalidateIsNotStored(t *testing.T) {
	ctx := context.Background()
	static := reference.NewStaticChecker(reference.Settings{})
	ep := reference.EmissionPoint{ID: id.New(), EstablishmentCode: "001", PointCode: "002", Active: true}
	static.AddEmissionPoint(ep)
	next := &pausingChecker{StaticChecker: static, loaded: make(chan struct{}), release: make(chan struct{})}
	c := NewReferenceCache(next, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = c.IsActive(ctx, reference.KindEmissionPoint, ep.ID)
	}()

	<-next.loaded
	static.SetEmissionPointActive(ep.ID, false)
	c.Invalidate("emission_point:" + ep.ID.String())
	close(next.release)
	<-done

	exists, active, err := c.IsActive(ctx, reference.KindEmissionPoint, ep.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.False(t, active)
}
