// Package postgres provides PostgreSQL infrastructure components.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/klauspost/compress/zstd"

	"osiris/internal/core/id"
	"osiris/internal/domain/audit"
)

// CompressionAlgo records how an audit payload is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the snapshot size above which payloads are compressed.
const DefaultCompressThreshold = 10 * 1024

var _ audit.Repository = (*AuditRepo)(nil)

// AuditRepo stores audit entries in audit_log. Snapshots larger than the
// threshold go to payload_compressed as one zstd frame holding both sides.
type AuditRepo struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

func NewAuditRepo(txManager *TxManager) (*AuditRepo, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &AuditRepo{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: DefaultCompressThreshold,
	}, nil
}

// WithCompressThreshold overrides the compression threshold. Tests use it.
func (r *AuditRepo) WithCompressThreshold(bytes int) *AuditRepo {
	r.compressThreshold = bytes
	return r
}

type auditPayload struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
}

type auditRow struct {
	ID                id.ID           `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityID          id.ID           `db:"entity_id"`
	Action            string          `db:"action"`
	BeforeState       json.RawMessage `db:"before_state"`
	AfterState        json.RawMessage `db:"after_state"`
	PayloadCompressed []byte          `db:"payload_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	ActorID           string          `db:"actor_id"`
	CreatedAt         time.Time       `db:"created_at"`
}

var auditColumns = []string{
	"id", "entity_type", "entity_id", "action", "before_state", "after_state",
	"payload_compressed", "compression_algo", "actor_id", "created_at",
}

// Append inserts e in the caller's transaction; an audit row never outlives
// the change it describes.
func (r *AuditRepo) Append(ctx context.Context, e *audit.Entry) error {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return err
	}

	row := auditRow{
		ID:              e.ID,
		EntityType:      e.EntityType,
		EntityID:        e.EntityID,
		Action:          string(e.Action),
		ActorID:         e.ActorID,
		CreatedAt:       e.CreatedAt,
		CompressionAlgo: CompressionNone,
	}
	if id.IsNil(row.ID) {
		row.ID = id.New()
	}

	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return fmt.Errorf("marshal before: %w", err)
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return fmt.Errorf("marshal after: %w", err)
	}

	if len(before)+len(after) > r.compressThreshold {
		raw, err := json.Marshal(auditPayload{Before: e.Before, After: e.After})
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		row.PayloadCompressed = r.encoder.EncodeAll(raw, nil)
		row.CompressionAlgo = CompressionZstd
	} else {
		row.BeforeState = before
		row.AfterState = after
	}

	sql, args, err := Builder().
		Insert("audit_log").
		Columns(auditColumns...).
		Values(row.ID, row.EntityType, row.EntityID, row.Action, row.BeforeState, row.AfterState,
			row.PayloadCompressed, row.CompressionAlgo, row.ActorID, row.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns matching entries oldest first, decompressing payloads as needed.
func (r *AuditRepo) List(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	q := Builder().Select(auditColumns...).From("audit_log")
	if f.EntityType != "" {
		q = q.Where(squirrel.Eq{"entity_type": f.EntityType})
	}
	if f.EntityID != nil {
		q = q.Where(squirrel.Eq{"entity_id": *f.EntityID})
	}
	if f.ActorID != "" {
		q = q.Where(squirrel.Eq{"actor_id": f.ActorID})
	}
	if f.Action != "" {
		q = q.Where(squirrel.Eq{"action": string(f.Action)})
	}
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *f.From})
	}
	if f.To != nil {
		q = q.Where(squirrel.LtOrEq{"created_at": *f.To})
	}
	q = q.OrderBy("created_at", "id").Limit(uint64(f.Limit)).Offset(uint64(f.Offset))

	var rows []auditRow
	if err := SelectAll(ctx, r.txManager.GetQuerier(ctx), &rows, q); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}

	out := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		e := audit.Entry{
			ID:         row.ID,
			EntityType: row.EntityType,
			EntityID:   row.EntityID,
			Action:     audit.Action(row.Action),
			ActorID:    row.ActorID,
			CreatedAt:  row.CreatedAt,
		}
		if row.CompressionAlgo == CompressionZstd {
			raw, err := r.decoder.DecodeAll(row.PayloadCompressed, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress audit %s: %w", row.ID, err)
			}
			var p auditPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("decode audit %s: %w", row.ID, err)
			}
			e.Before, e.After = p.Before, p.After
		} else {
			if err := unmarshalSnapshot(row.BeforeState, &e.Before); err != nil {
				return nil, fmt.Errorf("decode audit %s: %w", row.ID, err)
			}
			if err := unmarshalSnapshot(row.AfterState, &e.After); err != nil {
				return nil, fmt.Errorf("decode audit %s: %w", row.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func marshalSnapshot(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalSnapshot(raw json.RawMessage, dst *map[string]any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
