package cartera

import (
	"context"
	"sort"
	"sync"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain"
)

type documentKey struct {
	kind Kind
	id   id.ID
}

// MemoryRepository is an in-process Repository for service tests. It hands
// out copies, so a change is only visible after the matching Update.
type MemoryRepository struct {
	mu         sync.Mutex
	accounts   map[id.ID]Account
	byDocument map[documentKey]id.ID
	payments   map[id.ID][]Payment
	received   map[id.ID]ReceivedWithholding
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:   make(map[id.ID]Account),
		byDocument: make(map[documentKey]id.ID),
		payments:   make(map[id.ID][]Payment),
		received:   make(map[id.ID]ReceivedWithholding),
	}
}

func (r *MemoryRepository) CreateAccount(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := documentKey{a.Kind, a.DocumentID}
	if _, ok := r.byDocument[key]; ok {
		return apperror.NewDuplicate("account", "document_id", a.DocumentID.String())
	}
	r.accounts[a.ID] = *a
	r.byDocument[key] = a.ID
	return nil
}

func (r *MemoryRepository) UpdateAccount(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; !ok {
		return apperror.NewNotFound("account", a.ID)
	}
	r.accounts[a.ID] = *a
	return nil
}

func (r *MemoryRepository) GetAccount(_ context.Context, accountID id.ID) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, apperror.NewNotFound("account", accountID)
	}
	return &a, nil
}

func (r *MemoryRepository) LockAccount(ctx context.Context, accountID id.ID) (*Account, error) {
	return r.GetAccount(ctx, accountID)
}

func (r *MemoryRepository) GetAccountByDocument(ctx context.Context, kind Kind, documentID id.ID) (*Account, error) {
	r.mu.Lock()
	accountID, ok := r.byDocument[documentKey{kind, documentID}]
	r.mu.Unlock()
	if !ok {
		return nil, apperror.NewNotFound(string(kind), documentID)
	}
	return r.GetAccount(ctx, accountID)
}

func (r *MemoryRepository) LockAccountByDocument(ctx context.Context, kind Kind, documentID id.ID) (*Account, error) {
	return r.GetAccountByDocument(ctx, kind, documentID)
}

func (r *MemoryRepository) ListAccounts(_ context.Context, f AccountFilter) (domain.ListResult[*Account], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Account
	for _, a := range r.accounts {
		if f.Kind != "" && a.Kind != f.Kind {
			continue
		}
		if f.State != "" && a.State != f.State {
			continue
		}
		if f.PartyID != nil && a.PartyID != *f.PartyID {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return domain.Page(out, f.ListFilter), nil
}

func (r *MemoryRepository) AddPayment(_ context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[p.AccountID] = append(r.payments[p.AccountID], *p)
	return nil
}

func (r *MemoryRepository) ListPayments(_ context.Context, accountID id.ID) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Payment(nil), r.payments[accountID]...), nil
}

func (r *MemoryRepository) CreateReceived(_ context.Context, rw *ReceivedWithholding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received[rw.ID] = copyReceived(rw)
	return nil
}

func (r *MemoryRepository) UpdateReceived(_ context.Context, rw *ReceivedWithholding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.received[rw.ID]; !ok {
		return apperror.NewNotFound("received withholding", rw.ID)
	}
	r.received[rw.ID] = copyReceived(rw)
	return nil
}

func (r *MemoryRepository) GetReceived(_ context.Context, receivedID id.ID) (*ReceivedWithholding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw, ok := r.received[receivedID]
	if !ok {
		return nil, apperror.NewNotFound("received withholding", receivedID)
	}
	out := copyReceived(&rw)
	return &out, nil
}

func (r *MemoryRepository) LockReceived(ctx context.Context, receivedID id.ID) (*ReceivedWithholding, error) {
	return r.GetReceived(ctx, receivedID)
}

func (r *MemoryRepository) ReceivedNumberTaken(_ context.Context, customerID id.ID, number string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rw := range r.received {
		if rw.CustomerID == customerID && rw.Number == number && rw.State != ReceivedVoided {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) ListReceived(_ context.Context, f ReceivedFilter) (domain.ListResult[*ReceivedWithholding], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ReceivedWithholding
	for _, rw := range r.received {
		if f.SaleID != nil && rw.SaleID != *f.SaleID {
			continue
		}
		if f.State != "" && rw.State != f.State {
			continue
		}
		c := copyReceived(&rw)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return domain.Page(out, f.ListFilter), nil
}

func copyReceived(rw *ReceivedWithholding) ReceivedWithholding {
	c := *rw
	c.Lines = append([]ReceivedLine(nil), rw.Lines...)
	return c
}
