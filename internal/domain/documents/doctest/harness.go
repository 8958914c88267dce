// Package doctest wires the document services on in-memory repositories.
package doctest

import (
	"context"
	"fmt"
	"sync"

	"osiris/internal/core/id"
	"osiris/internal/core/tx"
	"osiris/internal/core/types"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/cartera"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/history"
	"osiris/internal/domain/kardex"
	"osiris/internal/domain/reference"
	"osiris/internal/domain/sequence"
)

// Queue records submissions instead of persisting them.
type Queue struct {
	mu          sync.Mutex
	Submissions []electronic.Submission
}

func (q *Queue) Enqueue(_ context.Context, s electronic.Submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Submissions = append(q.Submissions, s)
	return nil
}

// Len returns the number of recorded submissions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.Submissions)
}

// Harness holds one set of collaborators with known master data.
type Harness struct {
	Refs       *reference.StaticChecker
	Tx         *tx.MockManager
	Audit      *audit.Service
	AuditRepo  *audit.MemoryRepository
	History    *history.MemoryRepository
	Recorder   *history.Recorder
	SeqRepo    *sequence.MemoryRepository
	Sequences  *sequence.Service
	StockRepo  *kardex.MemoryRepository
	Kardex     *kardex.Service
	Electronic *electronic.Service
	Queue      *Queue
	Accounts   *cartera.Service

	EmissionPoint id.ID
	Warehouse     id.ID
	Customer      id.ID
	Supplier      id.ID
	Products      []id.ID
}

// New builds a harness with one active emission point 001-002, one
// warehouse, one customer, one supplier and three products.
func New() *Harness {
	h := &Harness{
		Refs: reference.NewStaticChecker(reference.Settings{
			RUC:          "1790011674001",
			BusinessName: "Comercial Osiris",
			Address:      "Av. Amazonas, Quito",
			Environment:  "1",
			EmissionType: "1",
		}),
		Tx:            &tx.MockManager{},
		AuditRepo:     audit.NewMemoryRepository(),
		History:       history.NewMemoryRepository(),
		SeqRepo:       sequence.NewMemoryRepository(),
		StockRepo:     kardex.NewMemoryRepository(),
		Queue:         &Queue{},
		EmissionPoint: id.New(),
		Warehouse:     id.New(),
		Customer:      id.New(),
		Supplier:      id.New(),
		Products:      []id.ID{id.New(), id.New(), id.New()},
	}
	h.Refs.AddEmissionPoint(reference.EmissionPoint{ID: h.EmissionPoint, EstablishmentCode: "001", PointCode: "002", Active: true})
	h.Refs.Add(reference.KindWarehouse, true, h.Warehouse)
	h.Refs.AddParty(reference.KindCustomer, reference.Party{ID: h.Customer, Identification: "0912345678", Name: "Maria Loor"})
	h.Refs.AddParty(reference.KindSupplier, reference.Party{ID: h.Supplier, Identification: "0990012345001", Name: "Distribuidora Costa"})
	for i, p := range h.Products {
		h.Refs.AddProduct(reference.Product{ID: p, Code: ProductCode(i), Name: "Producto " + ProductCode(i)})
	}

	h.Audit = audit.NewService(h.AuditRepo)
	h.Recorder = history.NewRecorder(h.History, h.Audit)
	h.Sequences = sequence.NewService(h.SeqRepo, h.Refs, h.Tx, h.Audit)
	h.Kardex = kardex.NewService(h.StockRepo, h.Refs, h.Tx, h.Audit)
	h.Accounts = cartera.NewService(cartera.NewMemoryRepository(), h.Tx, h.Audit)
	h.Electronic = electronic.NewService(electronic.NewMemoryRepository(), h.Refs, h.Tx, h.Recorder, h.Audit, h.Queue)
	return h
}

// ProductCode is the code the harness gives its i-th product.
func ProductCode(i int) string {
	return fmt.Sprintf("P-%03d", i+1)
}

// Stock puts quantity of product into the harness warehouse at unitCost.
func (h *Harness) Stock(ctx context.Context, product id.ID, quantity, unitCost string) error {
	_, err := h.Kardex.RecordIngress(ctx, kardex.IngressRequest{
		WarehouseID: h.Warehouse,
		ProductID:   product,
		Quantity:    types.MustDecimal(quantity),
		UnitCost:    types.MustDecimal(unitCost),
		Reference:   "SALDO_INICIAL",
	})
	return err
}

// Transitions returns the history rows of one entity.
func (h *Harness) Transitions(ctx context.Context, kind history.Kind, entityID id.ID) ([]history.Entry, error) {
	return h.History.List(ctx, kind, history.Filter{EntityID: &entityID})
}
