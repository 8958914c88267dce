// Package notify carries best-effort signals between the API and the queue
// worker over Redis: wake-ups on new submissions and a dead-letter list.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"osiris/internal/config"
	"osiris/internal/core/id"
	"osiris/internal/domain/sriqueue"
	"osiris/pkg/logger"
)

const (
	// WakeChannel carries the id of every newly committed queue item.
	WakeChannel = "osiris:sri-queue:wake"
	// DeadLetterKey is the list of items that exhausted their attempts.
	DeadLetterKey = "dlq:sri-queue"
)

// NewClient connects to Redis and checks the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Notifier publishes wake-ups and dead letters. It implements
// sriqueue.Notifier and sriqueue.DeadLetter.
type Notifier struct {
	client *redis.Client
}

var (
	_ sriqueue.Notifier   = (*Notifier)(nil)
	_ sriqueue.DeadLetter = (*Notifier)(nil)
)

func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

// Wake publishes itemID on WakeChannel.
func (n *Notifier) Wake(ctx context.Context, itemID id.ID) error {
	if err := n.client.Publish(ctx, WakeChannel, itemID.String()).Err(); err != nil {
		return fmt.Errorf("publish wake-up: %w", err)
	}
	return nil
}

// DeadLetterEntry is one failed item as stored in the dead-letter list.
type DeadLetterEntry struct {
	ItemID       string `json:"itemId"`
	EntityID     string `json:"entityId"`
	DocumentType string `json:"documentType"`
	Attempts     int    `json:"attempts"`
	LastError    string `json:"lastError"`
	FailedAt     string `json:"failedAt"`
}

// Push prepends a failed item to DeadLetterKey.
func (n *Notifier) Push(ctx context.Context, item *sriqueue.Item) error {
	data, err := json.Marshal(DeadLetterEntry{
		ItemID:       item.ID.String(),
		EntityID:     item.EntityID.String(),
		DocumentType: string(item.DocumentType),
		Attempts:     item.AttemptsMade,
		LastError:    item.LastError,
		FailedAt:     item.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := n.client.LPush(ctx, DeadLetterKey, data).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	logger.Warn(ctx, "queue item moved to dead letter list",
		"item_id", item.ID, "entity_id", item.EntityID, "attempts", item.AttemptsMade)
	return nil
}

// DeadLetters returns up to limit entries, newest first.
func (n *Notifier) DeadLetters(ctx context.Context, limit int64) ([]DeadLetterEntry, error) {
	raw, err := n.client.LRange(ctx, DeadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]DeadLetterEntry, 0, len(raw))
	for _, r := range raw {
		var e DeadLetterEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// DeadLetterLength returns the size of the dead-letter list.
func (n *Notifier) DeadLetterLength(ctx context.Context) (int64, error) {
	return n.client.LLen(ctx, DeadLetterKey).Result()
}

// Subscribe delivers wake-ups on the returned channel until ctx is done.
// Bursts are coalesced: the channel holds at most one pending signal.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	pubsub := n.client.Subscribe(ctx, WakeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", WakeChannel, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					logger.Warn(ctx, "wake-up channel closed")
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake, nil
}
