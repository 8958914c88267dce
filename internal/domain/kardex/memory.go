package kardex

import (
	"context"
	"sort"
	"sync"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

type pair struct{ warehouse, product id.ID }

// MemoryRepository is an in-process Repository for service tests.
// Locks are no-ops; callers serialize through the service under test.
type MemoryRepository struct {
	mu        sync.Mutex
	stock     map[pair]StockLevel
	movements []Movement
	seq       int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{stock: make(map[pair]StockLevel)}
}

func (r *MemoryRepository) LockStock(_ context.Context, w, p id.ID) (*StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stock[pair{w, p}]
	if !ok {
		return nil, apperror.NewNotFound("stock level", p)
	}
	return &s, nil
}

func (r *MemoryRepository) LockOrCreateStock(_ context.Context, w, p id.ID) (*StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stock[pair{w, p}]
	if !ok {
		s = StockLevel{WarehouseID: w, ProductID: p}
		r.stock[pair{w, p}] = s
	}
	return &s, nil
}

func (r *MemoryRepository) SaveStock(_ context.Context, s *StockLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[pair{s.WarehouseID, s.ProductID}] = *s
	return nil
}

func (r *MemoryRepository) GetStock(ctx context.Context, w, p id.ID) (*StockLevel, error) {
	return r.LockStock(ctx, w, p)
}

func (r *MemoryRepository) ListStock(_ context.Context, w id.ID) ([]StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StockLevel
	for k, s := range r.stock {
		if k.warehouse == w {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID.String() < out[j].ProductID.String() })
	return out, nil
}

func (r *MemoryRepository) AppendMovement(_ context.Context, m *Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	m.Seq = r.seq
	r.movements = append(r.movements, *m)
	return nil
}

func (r *MemoryRepository) MovementsByReference(_ context.Context, ref string) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reversed := make(map[id.ID]bool)
	for _, m := range r.movements {
		if m.ReversalOf != nil {
			reversed[*m.ReversalOf] = true
		}
	}
	var out []Movement
	for _, m := range r.movements {
		if m.DocumentReference == ref && !reversed[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListMovements(_ context.Context, f LedgerFilter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Movement
	for _, m := range r.movements {
		if m.WarehouseID != f.WarehouseID || m.ProductID != f.ProductID {
			continue
		}
		if f.From != nil && m.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && m.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, m)
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

func (r *MemoryRepository) AllMovements(ctx context.Context, w, p id.ID) ([]Movement, error) {
	return r.ListMovements(ctx, LedgerFilter{WarehouseID: w, ProductID: p})
}

// Tamper overwrites a stock row without a movement. Tests use it to simulate
// a divergence that Verify must detect.
func (r *MemoryRepository) Tamper(s StockLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[pair{s.WarehouseID, s.ProductID}] = s
}
