package notify

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"osiris/internal/config"
	"osiris/internal/core/id"
	"osiris/internal/domain/sequence"
	"osiris/internal/domain/sriqueue"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis integration test skipped in -short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client, err := NewClient(ctx, config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNotifier_WakeReachesSubscriber(t *testing.T) {
	n := NewNotifier(startRedis(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake, err := n.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, n.Wake(ctx, id.New()))
	require.NoError(t, n.Wake(ctx, id.New()))

	select {
	case <-wake:
	case <-time.After(5 * time.Second):
		t.Fatal("no wake-up received")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-wake:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNotifier_DeadLettersNewestFirst(t *testing.T) {
	n := NewNotifier(startRedis(t))
	ctx := context.Background()

	for i, msg := range []string{"timeout", "soap fault"} {
		require.NoError(t, n.Push(ctx, &sriqueue.Item{
			ID:           id.New(),
			EntityID:     id.New(),
			DocumentType: sequence.TypeInvoice,
			AttemptsMade: 3 + i,
			MaxAttempts:  3 + i,
			LastError:    msg,
			UpdatedAt:    time.Now(),
		}))
	}

	length, err := n.DeadLetterLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	entries, err := n.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "soap fault", entries[0].LastError)
	assert.Equal(t, 4, entries[0].Attempts)
	assert.Equal(t, "FACTURA", entries[1].DocumentType)
}
