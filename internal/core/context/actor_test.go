package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetActorID_FallsBackToSystem(t *testing.T) {
	assert.Equal(t, SystemActor, GetActorID(context.Background()))

	ctx := WithActor(context.Background(), &Actor{ActorID: "cajero-7", Roles: []string{"ventas"}})
	assert.Equal(t, "cajero-7", GetActorID(ctx))
	assert.True(t, HasRole(ctx, "ventas"))
	assert.False(t, IsAdmin(ctx))
}

func TestNewTraceContext_KeepsUpstreamRequestID(t *testing.T) {
	tc := NewTraceContext("req-1")
	assert.Equal(t, "req-1", tc.RequestID)
	assert.NotEmpty(t, tc.TraceID)

	assert.NotEmpty(t, NewTraceContext("").RequestID)
}
