package history

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process ledger for service tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[Kind][]Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[Kind][]Entry)}
}

func (r *MemoryRepository) Append(_ context.Context, kind Kind, e *Entry) error {
	if _, err := kind.Table(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[kind] = append(r.rows[kind], *e)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, kind Kind, f Filter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for _, e := range r.rows[kind] {
		if f.EntityID != nil && e.EntityID != *f.EntityID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
