package sequence

import (
	"context"
	"sort"
	"sync"
	"time"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

type counterKey struct {
	point   id.ID
	docType DocumentType
}

// MemoryRepository is an in-process Repository for service tests.
// It has no transactions: an increment is kept even if SaveAllocation fails.
type MemoryRepository struct {
	mu          sync.Mutex
	counters    map[counterKey]int64
	allocations map[id.ID]*Allocation
	inactive    map[id.ID]bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		counters:    make(map[counterKey]int64),
		allocations: make(map[id.ID]*Allocation),
		inactive:    make(map[id.ID]bool),
	}
}

// Deactivate makes Increment refuse pointID, like the database does for an
// inactive emission point.
func (r *MemoryRepository) Deactivate(pointID id.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inactive[pointID] = true
}

func (r *MemoryRepository) FindAllocation(_ context.Context, entityID id.ID) (*Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.allocations[entityID]
	if !ok {
		return nil, apperror.NewNotFound("allocation", entityID)
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) Increment(_ context.Context, pointID id.ID, docType DocumentType) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inactive[pointID] {
		return 0, apperror.NewPreconditionFailed("emission point", pointID, "is not active")
	}
	k := counterKey{pointID, docType}
	r.counters[k]++
	return r.counters[k], nil
}

func (r *MemoryRepository) SaveAllocation(_ context.Context, a *Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.allocations[a.EntityID]; dup {
		return apperror.NewDuplicate("allocation", "entity_id", a.EntityID.String())
	}
	cp := *a
	r.allocations[a.EntityID] = &cp
	return nil
}

func (r *MemoryRepository) MarkConsumed(_ context.Context, entityID id.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.allocations[entityID]
	if !ok {
		return apperror.NewNotFound("allocation", entityID)
	}
	if a.ConsumedAt == nil {
		a.ConsumedAt = &at
	}
	return nil
}

func (r *MemoryRepository) Current(_ context.Context, pointID id.ID, docType DocumentType) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[counterKey{pointID, docType}], nil
}

func (r *MemoryRepository) SetForward(_ context.Context, pointID id.ID, docType DocumentType, value int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inactive[pointID] {
		return 0, apperror.NewPreconditionFailed("emission point", pointID, "is not active")
	}
	k := counterKey{pointID, docType}
	prev := r.counters[k]
	if value > prev {
		r.counters[k] = value
	}
	return prev, nil
}

func (r *MemoryRepository) Unconsumed(_ context.Context, f GapFilter, before time.Time) ([]Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Allocation
	for _, a := range r.allocations {
		if a.ConsumedAt != nil || !a.AllocatedAt.Before(before) {
			continue
		}
		if f.EmissionPointID != nil && a.EmissionPointID != *f.EmissionPointID {
			continue
		}
		if f.DocumentType != "" && a.DocumentType != f.DocumentType {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

func (r *MemoryRepository) Missing(_ context.Context, f GapFilter) ([]MissingRange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []MissingRange
	for k, current := range r.counters {
		if f.EmissionPointID != nil && k.point != *f.EmissionPointID {
			continue
		}
		if f.DocumentType != "" && k.docType != f.DocumentType {
			continue
		}
		used := make(map[int64]bool)
		for _, a := range r.allocations {
			if a.EmissionPointID == k.point && a.DocumentType == k.docType {
				used[a.Value] = true
			}
		}
		var open *MissingRange
		for v := int64(1); v <= current; v++ {
			if used[v] {
				open = nil
				continue
			}
			if open == nil {
				out = append(out, MissingRange{EmissionPointID: k.point, DocumentType: k.docType, From: v, To: v})
				open = &out[len(out)-1]
			} else {
				open.To = v
			}
		}
	}
	return out, nil
}
