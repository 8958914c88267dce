package sriqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

// MemoryRepository is an in-process Repository for tests.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[id.ID]Item
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[id.ID]Item)}
}

func (r *MemoryRepository) Insert(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; ok {
		return apperror.NewDuplicate("queue item", "id", item.ID.String())
	}
	r.items[item.ID] = *item
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, itemID id.ID) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return nil, apperror.NewNotFound("queue item", itemID)
	}
	return &item, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, itemID id.ID) (*Item, error) {
	return r.GetByID(ctx, itemID)
}

func (r *MemoryRepository) ClaimDue(_ context.Context, now time.Time, limit int, leaseUntil time.Time) ([]*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Item
	for _, item := range r.items {
		if item.Due(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*Item, 0, len(due))
	for _, item := range due {
		lease := leaseUntil
		item.State = StateProcessing
		item.AttemptsMade++
		item.LeaseUntil = &lease
		item.UpdatedAt = now
		r.items[item.ID] = item
		claimed := item
		out = append(out, &claimed)
	}
	return out, nil
}

func (r *MemoryRepository) ExpiredLeases(_ context.Context, now time.Time, limit int) ([]*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Item
	for _, item := range r.items {
		if item.State == StateProcessing && item.LeaseUntil != nil && item.LeaseUntil.Before(now) {
			expired := item
			out = append(out, &expired)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; !ok {
		return apperror.NewNotFound("queue item", item.ID)
	}
	r.items[item.ID] = *item
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*Item, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*Item
	for _, item := range r.items {
		if f.State != "" && item.State != f.State {
			continue
		}
		if f.EntityID != nil && item.EntityID != *f.EntityID {
			continue
		}
		copied := item
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if f.Offset >= total {
		return []*Item{}, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (r *MemoryRepository) CountByState(context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{}
	for _, item := range r.items {
		stats[item.State]++
	}
	return stats, nil
}
