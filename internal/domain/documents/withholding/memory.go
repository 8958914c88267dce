package withholding

import (
	"context"
	"sort"
	"sync"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain"
)

// MemoryRepository is an in-process Repository for service tests.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[id.ID]Withholding
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[id.ID]Withholding)}
}

func clone(w Withholding) *Withholding {
	w.Lines = append([]Line(nil), w.Lines...)
	return &w
}

func (r *MemoryRepository) Create(_ context.Context, w *Withholding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[w.ID]; ok {
		return apperror.NewDuplicate("withholding", "id", w.ID.String())
	}
	r.items[w.ID] = *clone(*w)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, withholdingID id.ID) (*Withholding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.items[withholdingID]
	if !ok {
		return nil, apperror.NewNotFound("withholding", withholdingID)
	}
	return clone(w), nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, withholdingID id.ID) (*Withholding, error) {
	return r.GetByID(ctx, withholdingID)
}

func (r *MemoryRepository) Update(_ context.Context, w *Withholding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[w.ID]
	if !ok {
		return apperror.NewNotFound("withholding", w.ID)
	}
	if cur.Version != w.Version-1 {
		return apperror.NewConcurrentModification("withholding", w.ID)
	}
	r.items[w.ID] = *clone(*w)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) (domain.ListResult[*Withholding], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Withholding
	for _, w := range r.items {
		if !f.IncludeInactive && !w.Active {
			continue
		}
		if f.State != "" && w.State != f.State {
			continue
		}
		if f.PurchaseID != nil && w.PurchaseID != *f.PurchaseID {
			continue
		}
		if f.SupplierID != nil && w.SupplierID != *f.SupplierID {
			continue
		}
		out = append(out, clone(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return domain.Page(out, f.ListFilter), nil
}

func (r *MemoryRepository) ListByPurchase(_ context.Context, purchaseID id.ID) ([]*Withholding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Withholding
	for _, w := range r.items {
		if w.PurchaseID == purchaseID {
			out = append(out, clone(w))
		}
	}
	return out, nil
}
