package reference

import (
	"context"
	"sync"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

// StaticChecker is an in-memory Checker for tests and local tooling.
type StaticChecker struct {
	mu       sync.RWMutex
	points   map[id.ID]EmissionPoint
	records  map[Kind]map[id.ID]bool
	parties  map[id.ID]Party
	products map[id.ID]Product
	settings Settings
}

func NewStaticChecker(settings Settings) *StaticChecker {
	return &StaticChecker{
		points:   make(map[id.ID]EmissionPoint),
		records:  make(map[Kind]map[id.ID]bool),
		parties:  make(map[id.ID]Party),
		products: make(map[id.ID]Product),
		settings: settings,
	}
}

func (c *StaticChecker) AddEmissionPoint(ep EmissionPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points[ep.ID] = ep
}

// SetEmissionPointActive toggles an existing point.
func (c *StaticChecker) SetEmissionPointActive(pointID id.ID, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep := c.points[pointID]
	ep.Active = active
	c.points[pointID] = ep
}

// Add registers records of a kind with the given activity.
func (c *StaticChecker) Add(kind Kind, active bool, ids ...id.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.records[kind] == nil {
		c.records[kind] = make(map[id.ID]bool)
	}
	for _, v := range ids {
		c.records[kind][v] = active
	}
}

func (c *StaticChecker) EmissionPoint(_ context.Context, pointID id.ID) (EmissionPoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep, ok := c.points[pointID]
	if !ok {
		return EmissionPoint{}, apperror.NewNotFound("emission point", pointID)
	}
	return ep, nil
}

func (c *StaticChecker) IsActive(_ context.Context, kind Kind, recordID id.ID) (bool, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	active, ok := c.records[kind][recordID]
	return ok, active, nil
}

func (c *StaticChecker) Settings(context.Context) (Settings, error) {
	return c.settings, nil
}

// AddParty registers an active customer or supplier with its identification.
func (c *StaticChecker) AddParty(kind Kind, p Party) {
	c.Add(kind, true, p.ID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parties[p.ID] = p
}

// AddProduct registers an active product with its code.
func (c *StaticChecker) AddProduct(p Product) {
	c.Add(KindProduct, true, p.ID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *StaticChecker) Party(_ context.Context, kind Kind, partyID id.ID) (Party, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.parties[partyID]
	if _, known := c.records[kind][partyID]; !ok || !known {
		return Party{}, apperror.NewNotFound(string(kind), partyID)
	}
	return p, nil
}

func (c *StaticChecker) Product(_ context.Context, productID id.ID) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	if !ok {
		return Product{}, apperror.NewNotFound("product", productID)
	}
	return p, nil
}
