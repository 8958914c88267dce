package kardex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
	"osiris/internal/core/tx"
	"osiris/internal/core/types"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/reference"
)

// Repository is the persistence contract of the engine.
type Repository interface {
	// LockStock returns the row locked FOR UPDATE, or a NotFound error.
	LockStock(ctx context.Context, warehouseID, productID id.ID) (*StockLevel, error)
	// LockOrCreateStock creates a zero row if missing, then locks it.
	LockOrCreateStock(ctx context.Context, warehouseID, productID id.ID) (*StockLevel, error)
	SaveStock(ctx context.Context, s *StockLevel) error
	GetStock(ctx context.Context, warehouseID, productID id.ID) (*StockLevel, error)
	ListStock(ctx context.Context, warehouseID id.ID) ([]StockLevel, error)

	AppendMovement(ctx context.Context, m *Movement) error
	// MovementsByReference returns movements of a document not yet reversed, in ledger order.
	MovementsByReference(ctx context.Context, reference string) ([]Movement, error)
	ListMovements(ctx context.Context, f LedgerFilter) ([]Movement, error)
	// AllMovements returns every movement of the pair in ledger order.
	AllMovements(ctx context.Context, warehouseID, productID id.ID) ([]Movement, error)
}

// Service is the Kardex Costing Engine.
type Service struct {
	repo  Repository
	refs  reference.Checker
	txm   tx.Manager
	audit *audit.Service
	now   func() time.Time
}

func NewService(repo Repository, refs reference.Checker, txm tx.Manager, auditSvc *audit.Service) *Service {
	return &Service{
		repo:  repo,
		refs:  refs,
		txm:   txm,
		audit: auditSvc,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RecordIngress adds stock and returns the new average cost.
func (s *Service) RecordIngress(ctx context.Context, req IngressRequest) (decimal.Decimal, error) {
	if req.Type == "" {
		req.Type = TypeIngress
	}
	if err := validateQuantity(req.Quantity); err != nil {
		return decimal.Zero, err
	}
	if req.UnitCost.IsNegative() {
		return decimal.Zero, apperror.NewInvalidQuantity("unit cost must not be negative").
			WithDetail("unit_cost", req.UnitCost.String())
	}

	var avg decimal.Decimal
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		avg, _, err = s.ingress(ctx, req, nil)
		return err
	})
	return avg, err
}

// RecordEgress removes stock and returns the unit cost frozen for it.
func (s *Service) RecordEgress(ctx context.Context, req EgressRequest) (decimal.Decimal, error) {
	if req.Type == "" {
		req.Type = TypeEgress
	}
	if err := validateQuantity(req.Quantity); err != nil {
		return decimal.Zero, err
	}

	var cost decimal.Decimal
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		cost, _, err = s.egress(ctx, req, nil)
		return err
	})
	return cost, err
}

// Transfer moves stock between warehouses. The destination receives the goods
// at the cost frozen at the source. Returns that cost.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (decimal.Decimal, error) {
	if req.FromWarehouseID == req.ToWarehouseID {
		return decimal.Zero, apperror.NewValidation("source and destination warehouse must differ")
	}
	if err := validateQuantity(req.Quantity); err != nil {
		return decimal.Zero, err
	}
	if err := reference.RequireActive(ctx, s.refs, reference.KindWarehouse, req.FromWarehouseID, req.ToWarehouseID); err != nil {
		return decimal.Zero, err
	}
	if err := reference.RequireActive(ctx, s.refs, reference.KindProduct, req.ProductID); err != nil {
		return decimal.Zero, err
	}
	if req.Reference == "" {
		req.Reference = "TRANSFERENCIA:" + id.New().String()
	}

	var cost decimal.Decimal
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		cost, _, err = s.egress(ctx, EgressRequest{
			WarehouseID: req.FromWarehouseID,
			ProductID:   req.ProductID,
			Quantity:    req.Quantity,
			Reference:   req.Reference,
			Type:        TypeTransfer,
		}, nil)
		if err != nil {
			return err
		}
		_, _, err = s.ingress(ctx, IngressRequest{
			WarehouseID: req.ToWarehouseID,
			ProductID:   req.ProductID,
			Quantity:    req.Quantity,
			UnitCost:    cost,
			Reference:   req.Reference,
			Type:        TypeTransfer,
		}, nil)
		return err
	})
	return cost, err
}

// Adjust enters a correcting ingress and audits it. Returns the new average.
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (decimal.Decimal, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return decimal.Zero, apperror.NewValidation("adjustment reason is required").WithDetail("field", "reason")
	}
	if err := reference.RequireActive(ctx, s.refs, reference.KindWarehouse, req.WarehouseID); err != nil {
		return decimal.Zero, err
	}
	if err := reference.RequireActive(ctx, s.refs, reference.KindProduct, req.ProductID); err != nil {
		return decimal.Zero, err
	}
	if req.Reference == "" {
		req.Reference = "AJUSTE:" + id.New().String()
	}

	var avg decimal.Decimal
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		before, err := s.repo.GetStock(ctx, req.WarehouseID, req.ProductID)
		if err != nil && !apperror.IsNotFound(err) {
			return err
		}
		avg, err = s.RecordIngress(ctx, IngressRequest{
			WarehouseID: req.WarehouseID,
			ProductID:   req.ProductID,
			Quantity:    req.Quantity,
			UnitCost:    req.UnitCost,
			Reference:   req.Reference,
			Type:        TypeAdjustment,
			Reason:      req.Reason,
		})
		if err != nil {
			return err
		}
		after, err := s.repo.GetStock(ctx, req.WarehouseID, req.ProductID)
		if err != nil {
			return err
		}
		return s.audit.Record(ctx, "stock_level", stockEntityID(req.WarehouseID, req.ProductID), audit.ActionAdjustment,
			stockSnapshot(before), withReason(stockSnapshot(after), req.Reason))
	})
	return avg, err
}

// Reverse writes compensating movements for every live movement of a document.
// Goods that left are re-entered at the cost frozen when they left; goods that
// entered leave at the current average. It fails with NegativeStock if goods
// that entered were already consumed.
func (s *Service) Reverse(ctx context.Context, documentReference, reason string) ([]Movement, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperror.NewValidation("reversal reason is required")
	}

	var out []Movement
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		moves, err := s.repo.MovementsByReference(ctx, documentReference)
		if err != nil {
			return fmt.Errorf("load movements of %s: %w", documentReference, err)
		}
		ref := "REVERSO:" + documentReference
		for _, m := range moves {
			original := m.ID
			typ, dir := reversalType(m)
			var created *Movement
			if dir == DirectionIn {
				_, created, err = s.ingress(ctx, IngressRequest{
					WarehouseID: m.WarehouseID, ProductID: m.ProductID,
					Quantity: m.Quantity, UnitCost: m.UnitCost,
					Reference: ref, Type: typ, Reason: reason,
				}, &original)
			} else {
				_, created, err = s.egress(ctx, EgressRequest{
					WarehouseID: m.WarehouseID, ProductID: m.ProductID,
					Quantity:  m.Quantity,
					Reference: ref, Type: typ, Reason: reason,
				}, &original)
			}
			if err != nil {
				return err
			}
			out = append(out, *created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ingress(ctx context.Context, req IngressRequest, reversalOf *id.ID) (decimal.Decimal, *Movement, error) {
	stock, err := s.repo.LockOrCreateStock(ctx, req.WarehouseID, req.ProductID)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("lock stock: %w", err)
	}

	qty, cost := types.Q4(req.Quantity), types.Q4(req.UnitCost)
	avg, err := WeightedAverage(stock.Quantity, stock.AverageCost, qty, cost)
	if err != nil {
		return decimal.Zero, nil, err
	}
	stock.Quantity = types.Q4(stock.Quantity.Add(qty))
	stock.AverageCost = avg
	stock.UpdatedAt = s.now()

	m := s.newMovement(ctx, stock, req.Type, DirectionIn, qty, cost, req.Reference, req.Reason, reversalOf)
	if err := s.repo.AppendMovement(ctx, m); err != nil {
		return decimal.Zero, nil, fmt.Errorf("append movement: %w", err)
	}
	if err := s.repo.SaveStock(ctx, stock); err != nil {
		return decimal.Zero, nil, fmt.Errorf("save stock: %w", err)
	}
	return avg, m, nil
}

func (s *Service) egress(ctx context.Context, req EgressRequest, reversalOf *id.ID) (decimal.Decimal, *Movement, error) {
	qty := types.Q4(req.Quantity)

	stock, err := s.repo.LockStock(ctx, req.WarehouseID, req.ProductID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return decimal.Zero, nil, apperror.NewNegativeStock(req.WarehouseID, req.ProductID, types.Fixed4(qty), types.Fixed4(decimal.Zero))
		}
		return decimal.Zero, nil, fmt.Errorf("lock stock: %w", err)
	}
	if stock.Quantity.LessThan(qty) {
		return decimal.Zero, nil, apperror.NewNegativeStock(req.WarehouseID, req.ProductID, types.Fixed4(qty), types.Fixed4(stock.Quantity))
	}

	frozen := Freeze(stock.AverageCost)
	stock.Quantity = types.Q4(stock.Quantity.Sub(qty))
	stock.UpdatedAt = s.now()

	m := s.newMovement(ctx, stock, req.Type, DirectionOut, qty, frozen, req.Reference, req.Reason, reversalOf)
	if err := s.repo.AppendMovement(ctx, m); err != nil {
		return decimal.Zero, nil, fmt.Errorf("append movement: %w", err)
	}
	if err := s.repo.SaveStock(ctx, stock); err != nil {
		return decimal.Zero, nil, fmt.Errorf("save stock: %w", err)
	}
	return frozen, m, nil
}

func (s *Service) newMovement(ctx context.Context, after *StockLevel, typ MovementType, dir Direction,
	qty, unitCost decimal.Decimal, ref, reason string, reversalOf *id.ID) *Movement {
	return &Movement{
		ID:                 id.New(),
		WarehouseID:        after.WarehouseID,
		ProductID:          after.ProductID,
		Type:               typ,
		Direction:          dir,
		Quantity:           qty,
		UnitCost:           unitCost,
		TotalCost:          types.Q4(qty.Mul(unitCost)),
		BalanceQuantity:    after.Quantity,
		BalanceAverageCost: after.AverageCost,
		DocumentReference:  ref,
		Reason:             reason,
		ReversalOf:         reversalOf,
		ActorID:            appctx.GetActorID(ctx),
		CreatedAt:          s.now(),
	}
}

// Stock returns the current level, zero when the pair never moved.
func (s *Service) Stock(ctx context.Context, warehouseID, productID id.ID) (*StockLevel, error) {
	st, err := s.repo.GetStock(ctx, warehouseID, productID)
	if apperror.IsNotFound(err) {
		return &StockLevel{WarehouseID: warehouseID, ProductID: productID}, nil
	}
	return st, err
}

// Ledger returns the kardex report rows of a pair.
func (s *Service) Ledger(ctx context.Context, f LedgerFilter) ([]Movement, error) {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, apperror.NewValidation("from must not be after to")
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 1000
	}
	return s.repo.ListMovements(ctx, f)
}

// Valuation values the stock of a warehouse at average cost.
func (s *Service) Valuation(ctx context.Context, warehouseID id.ID) (*Valuation, error) {
	levels, err := s.repo.ListStock(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	v := &Valuation{WarehouseID: warehouseID, Total: decimal.Zero}
	for _, l := range levels {
		if l.Quantity.IsZero() {
			continue
		}
		value := types.Q2(l.Value())
		v.Lines = append(v.Lines, ValuationLine{
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			AverageCost: l.AverageCost,
			Value:       value,
		})
		v.Total = v.Total.Add(value)
	}
	return v, nil
}

// Verify replays the movements of a pair and compares them with StockLevel.
func (s *Service) Verify(ctx context.Context, warehouseID, productID id.ID) (*Verification, error) {
	var res *Verification
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		stock, err := s.Stock(ctx, warehouseID, productID)
		if err != nil {
			return err
		}
		moves, err := s.repo.AllMovements(ctx, warehouseID, productID)
		if err != nil {
			return err
		}
		q, c, err := Replay(moves)
		if err != nil {
			return err
		}
		res = &Verification{
			WarehouseID:      warehouseID,
			ProductID:        productID,
			Movements:        len(moves),
			StoredQuantity:   stock.Quantity,
			StoredCost:       stock.AverageCost,
			ReplayedQuantity: q,
			ReplayedCost:     c,
			Consistent:       q.Equal(stock.Quantity) && (q.IsZero() || c.Equal(stock.AverageCost)),
		}
		return nil
	})
	return res, err
}

func validateQuantity(q decimal.Decimal) error {
	if !types.Q4(q).IsPositive() {
		return apperror.NewInvalidQuantity("quantity must be positive").WithDetail("quantity", q.String())
	}
	return nil
}

// stockEntityID derives a stable audit id for a (warehouse, product) pair.
func stockEntityID(warehouseID, productID id.ID) id.ID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(warehouseID.String()+":"+productID.String()))
}

func stockSnapshot(s *StockLevel) map[string]any {
	if s == nil {
		return map[string]any{"current_quantity": "0.0000", "current_average_cost": "0.0000"}
	}
	return map[string]any{
		"warehouse_id":         s.WarehouseID.String(),
		"product_id":           s.ProductID.String(),
		"current_quantity":     types.Fixed4(s.Quantity),
		"current_average_cost": types.Fixed4(s.AverageCost),
	}
}

func withReason(m map[string]any, reason string) map[string]any {
	m["reason"] = reason
	return m
}
