package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"daladala.dev/tracker/model"
	"daladala.dev/tracker/storage"
)

const (
	// Operators publish sublines infrequently; a stale cache
	// degrades matching accuracy for a few minutes at worst.
	DefaultCatalogTTL = 5 * time.Minute

	// Catalog queries ride the hot path, so they carry a bounded
	// deadline. A timeout surfaces as a storage error and the
	// current pipeline pass proceeds without matcher output.
	DefaultQueryTimeout = 2 * time.Second
)

// Catalog is a read-through cache over the subline/stop tables. Per
// main route it holds the ordered stop list of every subline, plus
// the subline -> main route ownership map the broadcaster needs.
type Catalog struct {
	TTL          time.Duration
	QueryTimeout time.Duration

	storage storage.Storage

	mu     sync.Mutex
	routes map[int64]routeEntry
	owners map[int64]int64
}

type routeEntry struct {
	sublines  map[int64][]model.Stop
	fetchedAt time.Time
}

func NewCatalog(s storage.Storage) *Catalog {
	return &Catalog{
		TTL:          DefaultCatalogTTL,
		QueryTimeout: DefaultQueryTimeout,
		storage:      s,
		routes:       map[int64]routeEntry{},
		owners:       map[int64]int64{},
	}
}

// SublinesForRoute returns the ordered stop list of every subline of
// a main route, keyed by subline id. An empty map means the route has
// no sublines.
func (c *Catalog) SublinesForRoute(mainRouteID int64) (map[int64][]model.Stop, error) {
	c.mu.Lock()
	entry, found := c.routes[mainRouteID]
	c.mu.Unlock()
	if found && time.Since(entry.fetchedAt) < c.TTL {
		return entry.sublines, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.QueryTimeout)
	defer cancel()

	sublines, err := c.storage.SublineStops(ctx, mainRouteID)
	if err != nil {
		return nil, fmt.Errorf("loading sublines for route %d: %w", mainRouteID, err)
	}

	c.mu.Lock()
	c.routes[mainRouteID] = routeEntry{sublines: sublines, fetchedAt: time.Now()}
	for sublineID := range sublines {
		c.owners[sublineID] = mainRouteID
	}
	c.mu.Unlock()

	return sublines, nil
}

// RouteOfSubline resolves the owning main route of a subline.
// Ownership never changes within a catalog's lifetime, so hits are
// cached without a TTL.
func (c *Catalog) RouteOfSubline(sublineID int64) (int64, error) {
	c.mu.Lock()
	routeID, found := c.owners[sublineID]
	c.mu.Unlock()
	if found {
		return routeID, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.QueryTimeout)
	defer cancel()

	routeID, err := c.storage.RouteOfSubline(ctx, sublineID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.owners[sublineID] = routeID
	c.mu.Unlock()

	return routeID, nil
}

// StopsOfSubline returns the ordered stop list of a single subline.
func (c *Catalog) StopsOfSubline(sublineID int64) ([]model.Stop, error) {
	routeID, err := c.RouteOfSubline(sublineID)
	if err != nil {
		return nil, err
	}

	sublines, err := c.SublinesForRoute(routeID)
	if err != nil {
		return nil, err
	}

	stops, found := sublines[sublineID]
	if !found {
		return nil, storage.ErrNotFound
	}
	return stops, nil
}

// SublinesServingStop lists the sublines whose sequence includes a
// stop. Uncached; only the station query path uses it.
func (c *Catalog) SublinesServingStop(stopID int64) ([]int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.QueryTimeout)
	defer cancel()

	return c.storage.SublinesServingStop(ctx, stopID)
}
