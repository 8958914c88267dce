package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterCommit_RunsOnceOuterCommits(t *testing.T) {
	m := &MockManager{}
	var ran []string

	err := m.RunInTransaction(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func(context.Context) { ran = append(ran, "outer") })
		return m.RunInTransaction(ctx, func(ctx context.Context) error {
			AfterCommit(ctx, func(context.Context) { ran = append(ran, "inner") })
			assert.Empty(t, ran)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, ran)
}

func TestAfterCommit_SkippedOnRollback(t *testing.T) {
	m := &MockManager{}
	ran := false

	err := m.RunInTransaction(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func(context.Context) { ran = true })
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, ran)
}

func TestAfterCommit_ImmediateWithoutTransaction(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	assert.True(t, ran)
}
