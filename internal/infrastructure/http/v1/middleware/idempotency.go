package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/infrastructure/storage/postgres"
	"osiris/pkg/logger"
)

const (
	HeaderIdempotencyKey    = "Idempotency-Key"
	maxIdempotencyBodyBytes = 1 << 20 // 1 MiB
)

// IdempotencyStore keeps the first response of each Idempotency-Key.
// Implemented by postgres.IdempotencyStore.
type IdempotencyStore interface {
	AcquireKey(ctx context.Context, key, actorID, operation, requestHash string) (*postgres.IdempotencyReplay, error)
	Settle(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
}

// captureWriter copies the response body so it can be stored for replay.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response of a POST carrying an
// Idempotency-Key, and stores the response of the first one. Requests
// without the header pass through.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1))
		if err != nil {
			_ = c.Error(apperror.NewValidation("unreadable request body"))
			c.Abort()
			return
		}
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)

		ctx := c.Request.Context()
		operation := c.Request.Method + " " + c.Request.URL.Path
		replay, err := store.AcquireKey(ctx, key, appctx.GetActorID(ctx), operation, hex.EncodeToString(hash[:]))
		if err != nil {
			if _, ok := apperror.AsAppError(err); !ok {
				err = apperror.NewInternal(err).WithDetail("component", "idempotency")
			}
			_ = c.Error(err)
			c.Abort()
			return
		}
		if replay != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		// Render here so the stored body is exactly what the client receives.
		if !w.Written() && len(c.Errors) > 0 {
			WriteError(c, c.Errors.Last().Err)
		}

		settleCtx := context.WithoutCancel(ctx)
		if err := store.Settle(settleCtx, key, w.Status(), w.Header().Get("Content-Type"), w.body.Bytes()); err != nil {
			logger.Warn(settleCtx, "settle idempotency key failed", "key", key, "error", err)
		}
	}
}
