package sale

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
	sales map[id.ID]Sale
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sales: make(map[id.ID]Sale)}
}

func clone(s Sale) *Sale {
	s.Lines = append([]Line(nil), s.Lines...)
	return &s
}

func (r *MemoryRepository) Create(_ context.Context, s *Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sales[s.ID]; ok {
		return apperror.NewDuplicate("sale", "id", s.ID.String())
	}
	r.sales[s.ID] = *clone(*s)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, saleID id.ID) (*Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[saleID]
	if !ok {
		return nil, apperror.NewNotFound("sale", saleID)
	}
	return clone(s), nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, saleID id.ID) (*Sale, error) {
	return r.GetByID(ctx, saleID)
}

func (r *MemoryRepository) Update(_ context.Context, s *Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sales[s.ID]
	if !ok {
		return apperror.NewNotFound("sale", s.ID)
	}
	if cur.Version != s.Version-1 {
		return apperror.NewConcurrentModification("sale", s.ID)
	}
	r.sales[s.ID] = *clone(*s)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) (domain.ListResult[*Sale], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Sale
	for _, s := range r.sales {
		if !f.IncludeInactive && !s.Active {
			continue
		}
		if f.State != "" && s.State != f.State {
			continue
		}
		if f.CustomerID != nil && s.CustomerID != *f.CustomerID {
			continue
		}
		if f.EmissionPointID != nil && s.EmissionPointID != *f.EmissionPointID {
			continue
		}
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return domain.Page(out, f.ListFilter), nil
}
