package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"osiris/internal/core/apperror"
)

// IdempotencyStatus represents the state of an idempotent request.
type IdempotencyStatus string

const (
	IdempotencyStatusPending IdempotencyStatus = "pending"
	IdempotencyStatusSuccess IdempotencyStatus = "success"
	IdempotencyStatusFailed  IdempotencyStatus = "failed"
)

// staleAfter is how long a pending key may sit before a retry may take it over.
const staleAfter = time.Minute

// IdempotencyRecord is one row of sys_idempotency.
type IdempotencyRecord struct {
	Key         string            `db:"idempotency_key"`
	ActorID     string            `db:"actor_id"`
	Operation   string            `db:"operation"`
	Status      IdempotencyStatus `db:"status"`
	RequestHash string            `db:"request_hash"`
	Response    []byte            `db:"response"`
	StatusCode  int               `db:"response_status"`
	ContentType string            `db:"response_content_type"`
	CreatedAt   time.Time         `db:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
	ExpiresAt   time.Time         `db:"expires_at"`
	// Inserted is true when this call created the row.
	Inserted bool `db:"inserted"`
}

// IdempotencyReplay is a stored HTTP response.
type IdempotencyReplay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IdempotencyStore keeps Idempotency-Key records for mutating HTTP requests.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
	now       func() time.Time
}

// NewIdempotencyStore creates a store whose keys live for ttl.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		txManager: txManager,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AcquireKey claims key for one request.
// Returns:
//   - (nil, nil) when the caller owns the key and must run the request
//   - (replay, nil) when the request already finished
//   - (nil, error) when the key is in use or bound to a different request
func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, actorID, operation, requestHash string) (*IdempotencyReplay, error) {
	now := s.now()
	q := s.txManager.GetQuerier(ctx)

	var record IdempotencyRecord
	err := q.QueryRow(ctx, `
		INSERT INTO sys_idempotency (idempotency_key, actor_id, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key) DO UPDATE SET expires_at = GREATEST(sys_idempotency.expires_at, EXCLUDED.expires_at)
		RETURNING idempotency_key, actor_id, operation, status, request_hash, response, response_status,
			response_content_type, created_at, updated_at, expires_at, (xmax = 0) AS inserted
	`, key, actorID, operation, IdempotencyStatusPending, requestHash, now, now.Add(s.ttl)).Scan(
		&record.Key, &record.ActorID, &record.Operation, &record.Status, &record.RequestHash,
		&record.Response, &record.StatusCode, &record.ContentType,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt, &record.Inserted,
	)
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if record.Inserted {
		return nil, nil
	}

	if record.ActorID != actorID || record.Operation != operation || record.RequestHash != requestHash {
		return nil, apperror.NewConflict("idempotency key was used for a different request").
			WithDetail("idempotency_key", key).
			WithDetail("stored_operation", record.Operation).
			WithDetail("request_operation", operation)
	}

	switch record.Status {
	case IdempotencyStatusSuccess, IdempotencyStatusFailed:
		return &IdempotencyReplay{
			StatusCode:  normalizeReplayStatus(record.StatusCode),
			ContentType: normalizeReplayContentType(record.ContentType),
			Body:        record.Response,
		}, nil
	}

	if now.Sub(record.UpdatedAt) <= staleAfter {
		return nil, apperror.NewConflict("request with this idempotency key is still in progress").
			WithDetail("idempotency_key", key)
	}

	// The previous owner crashed; take the key over if nobody beat us to it.
	n, err := Exec(ctx, q, Builder().
		Update("sys_idempotency").
		Set("updated_at", now).
		Where(squirrel.Eq{"idempotency_key": key, "status": IdempotencyStatusPending, "updated_at": record.UpdatedAt}))
	if err != nil {
		return nil, fmt.Errorf("reclaim stale idempotency key: %w", err)
	}
	if n == 0 {
		return nil, apperror.NewConflict("request with this idempotency key is still in progress").
			WithDetail("idempotency_key", key)
	}
	return nil, nil
}

// Settle stores the response of the request owning key. Server errors
// release the key instead, so the client may retry.
func (s *IdempotencyStore) Settle(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	q := s.txManager.GetQuerier(ctx)
	if statusCode >= http.StatusInternalServerError {
		_, err := Exec(ctx, q, Builder().
			Delete("sys_idempotency").
			Where(squirrel.Eq{"idempotency_key": key, "status": IdempotencyStatusPending}))
		return err
	}

	status := IdempotencyStatusSuccess
	if statusCode >= http.StatusBadRequest {
		status = IdempotencyStatusFailed
	}
	_, err := Exec(ctx, q, Builder().
		Update("sys_idempotency").
		SetMap(map[string]any{
			"status":                status,
			"response":              body,
			"response_status":       statusCode,
			"response_content_type": contentType,
			"updated_at":            s.now(),
		}).
		Where(squirrel.Eq{"idempotency_key": key}))
	return err
}

// Get returns the record of key.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, `
		SELECT idempotency_key, actor_id, operation, status, request_hash, response, response_status,
			response_content_type, created_at, updated_at, expires_at
		FROM sys_idempotency WHERE idempotency_key = $1
	`, key).Scan(
		&record.Key, &record.ActorID, &record.Operation, &record.Status, &record.RequestHash,
		&record.Response, &record.StatusCode, &record.ContentType,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NewNotFound("idempotency key", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return &record, nil
}

func normalizeReplayStatus(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

func normalizeReplayContentType(ct string) string {
	if ct == "" {
		return "application/json"
	}
	return ct
}

// CleanupExpired removes expired records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	return Exec(ctx, s.txManager.GetQuerier(ctx), Builder().
		Delete("sys_idempotency").
		Where(squirrel.Lt{"expires_at": s.now()}))
}
