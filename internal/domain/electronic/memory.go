package electronic

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
	mu   sync.Mutex
	docs map[id.ID]Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[id.ID]Document)}
}

func (r *MemoryRepository) Create(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.AccessKey == doc.AccessKey {
			return apperror.NewDuplicate("electronic document", "access_key", doc.AccessKey)
		}
		if d.ParentKind == doc.ParentKind && d.ParentID == doc.ParentID {
			return apperror.NewDuplicate("electronic document", "parent_id", doc.ParentID.String())
		}
	}
	r.docs[doc.ID] = *doc
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, docID id.ID) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docID]
	if !ok {
		return nil, apperror.NewNotFound("electronic document", docID)
	}
	return &d, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, docID id.ID) (*Document, error) {
	return r.GetByID(ctx, docID)
}

func (r *MemoryRepository) GetByParent(_ context.Context, kind ParentKind, parentID id.ID) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.ParentKind == kind && d.ParentID == parentID {
			return &d, nil
		}
	}
	return nil, apperror.NewNotFound("electronic document", parentID)
}

func (r *MemoryRepository) Update(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.docs[doc.ID]
	if !ok {
		return apperror.NewNotFound("electronic document", doc.ID)
	}
	if cur.Version != doc.Version-1 {
		return apperror.NewConcurrentModification("electronic document", doc.ID)
	}
	r.docs[doc.ID] = *doc
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) (domain.ListResult[*Document], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Document
	for _, d := range r.docs {
		if f.State != "" && d.State != f.State {
			continue
		}
		if f.ParentKind != "" && d.ParentKind != f.ParentKind {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return domain.Page(out, f.ListFilter), nil
}
