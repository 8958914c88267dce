// Package cache keeps rarely changing master data in memory, invalidated by
// PostgreSQL LISTEN/NOTIFY instead of TTL polling.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain/reference"
	"osiris/pkg/logger"
)

// ChannelMasterData is raised by triggers on emission_point and issuer_settings.
const ChannelMasterData = "master_data_changed"

// ReferenceCache wraps a reference.Checker and memoizes emission points and
// issuer settings. Activity checks of other master records pass through.
type ReferenceCache struct {
	next reference.Checker
	pool *pgxpool.Pool

	mu       sync.RWMutex
	points   map[id.ID]reference.EmissionPoint
	settings *reference.Settings
	// gen is bumped by every Invalidate. A load that started under an older
	// generation may have read data the notification was about and is not stored.
	gen uint64

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

var _ reference.Checker = (*ReferenceCache)(nil)

// NewReferenceCache creates the cache. pool may be nil, in which case the
// cache never invalidates and Start is a no-op; use that only in tests.
func NewReferenceCache(next reference.Checker, pool *pgxpool.Pool) *ReferenceCache {
	return &ReferenceCache{
		next:   next,
		pool:   pool,
		points: make(map[id.ID]reference.EmissionPoint),
	}
}

func (c *ReferenceCache) EmissionPoint(ctx context.Context, pointID id.ID) (reference.EmissionPoint, error) {
	c.mu.RLock()
	ep, ok := c.points[pointID]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		return ep, nil
	}

	ep, err := c.next.EmissionPoint(ctx, pointID)
	if err != nil {
		return ep, err
	}
	c.mu.Lock()
	if c.gen == gen {
		c.points[pointID] = ep
	}
	c.mu.Unlock()
	return ep, nil
}

func (c *ReferenceCache) IsActive(ctx context.Context, kind reference.Kind, recordID id.ID) (bool, bool, error) {
	if kind == reference.KindEmissionPoint {
		ep, err := c.EmissionPoint(ctx, recordID)
		if err != nil {
			if apperror.IsNotFound(err) {
				return false, false, nil
			}
			return false, false, err
		}
		return true, ep.Active, nil
	}
	return c.next.IsActive(ctx, kind, recordID)
}

func (c *ReferenceCache) Settings(ctx context.Context) (reference.Settings, error) {
	c.mu.RLock()
	s := c.settings
	gen := c.gen
	c.mu.RUnlock()
	if s != nil {
		return *s, nil
	}

	loaded, err := c.next.Settings(ctx)
	if err != nil {
		return loaded, err
	}
	c.mu.Lock()
	if c.gen == gen {
		c.settings = &loaded
	}
	c.mu.Unlock()
	return loaded, nil
}

// Party is not cached: it is read once per electronic emission.
func (c *ReferenceCache) Party(ctx context.Context, kind reference.Kind, partyID id.ID) (reference.Party, error) {
	return c.next.Party(ctx, kind, partyID)
}

func (c *ReferenceCache) Product(ctx context.Context, productID id.ID) (reference.Product, error) {
	return c.next.Product(ctx, productID)
}

// Start begins listening for invalidation notifications.
func (c *ReferenceCache) Start(ctx context.Context) {
	if c.pool == nil {
		return
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(c.ctx, "reference cache started")
}

// Stop ends the listener and waits for it to exit.
func (c *ReferenceCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	cancel()
	c.wg.Wait()
	logger.Info(context.Background(), "reference cache stopped")
}

func (c *ReferenceCache) listenLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "acquire connection for LISTEN failed", "error", err)
			c.sleep(time.Second)
			continue
		}
		if _, err := conn.Exec(c.ctx, "LISTEN "+ChannelMasterData); err != nil {
			logger.Error(c.ctx, "LISTEN failed", "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Anything cached before LISTEN may already be stale.
		c.Invalidate("")
		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *ReferenceCache) waitForNotifications(conn *pgxpool.Conn) {
	for c.ctx.Err() == nil {
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		n, err := conn.Conn().WaitForNotification(ctx)
		cancel()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if ctx.Err() != nil {
				continue
			}
			// Connection broken; reacquire.
			logger.Warn(c.ctx, "notification wait failed", "error", err)
			return
		}
		logger.Debug(c.ctx, "master data changed", "payload", n.Payload)
		c.Invalidate(n.Payload)
	}
}

// Invalidate drops cached entries named by a notification payload:
// "emission_point:<id>", "issuer_settings", or "" for everything.
func (c *ReferenceCache) Invalidate(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++

	switch {
	case strings.HasPrefix(payload, "emission_point:"):
		if pointID, err := id.Parse("emission_point", strings.TrimPrefix(payload, "emission_point:")); err == nil {
			delete(c.points, pointID)
			return
		}
		c.points = make(map[id.ID]reference.EmissionPoint)
	case payload == "issuer_settings":
		c.settings = nil
	default:
		c.points = make(map[id.ID]reference.EmissionPoint)
		c.settings = nil
	}
}

func (c *ReferenceCache) sleep(d time.Duration) {
	select {
	case <-c.ctx.Done():
	case <-time.After(d):
	}
}
