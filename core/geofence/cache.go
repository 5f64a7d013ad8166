package geofence

import (
	"context"
	"sync"
	"time"

	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/store"
)

// ZoneCache serves the active zone set with a short TTL so ingestion does not
// hit the store on every sample. Zones are read-mostly.
type ZoneCache struct {
	store store.ZoneStore
	ttl   time.Duration

	mu      sync.Mutex
	zones   []model.GeofenceZone
	fetched time.Time
}

// NewZoneCache creates a cache over the given store. A non-positive ttl
// defaults to 30 seconds.
func NewZoneCache(s store.ZoneStore, ttl time.Duration) *ZoneCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ZoneCache{store: s, ttl: ttl}
}

// Zones returns the cached active zone set, refreshing it when expired. A
// refresh failure serves the previous snapshot rather than failing the caller.
func (c *ZoneCache) Zones(ctx context.Context) ([]model.GeofenceZone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.fetched) < c.ttl && c.zones != nil {
		return c.zones, nil
	}
	zones, err := c.store.ActiveZones(ctx)
	if err != nil {
		if c.zones != nil {
			return c.zones, nil
		}
		return nil, err
	}
	c.zones = zones
	c.fetched = time.Now()
	return zones, nil
}

// Invalidate drops the cached snapshot.
func (c *ZoneCache) Invalidate() {
	c.mu.Lock()
	c.zones = nil
	c.fetched = time.Time{}
	c.mu.Unlock()
}
