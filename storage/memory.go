package storage

import (
	"context"
	"sort"
	"sync"

	"daladala.dev/tracker/model"
)

// In memory implementation of Storage below. Used in tests and for
// running without a database.

type MemoryStorage struct {
	mu       sync.RWMutex
	routes   map[int64]model.MainRoute
	stops    map[int64]model.Stop
	sublines map[int64]model.Subline
	seqs     map[int64][]int64 // subline id -> stop ids in drive order
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		routes:   map[int64]model.MainRoute{},
		stops:    map[int64]model.Stop{},
		sublines: map[int64]model.Subline{},
		seqs:     map[int64][]int64{},
	}
}

func (s *MemoryStorage) SublineStops(ctx context.Context, mainRouteID int64) (map[int64][]model.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := map[int64][]model.Stop{}
	for id, sl := range s.sublines {
		if sl.MainRouteID != mainRouteID {
			continue
		}
		stops := make([]model.Stop, 0, len(s.seqs[id]))
		for _, stopID := range s.seqs[id] {
			if stop, found := s.stops[stopID]; found {
				stops = append(stops, stop)
			}
		}
		result[id] = stops
	}
	return result, nil
}

func (s *MemoryStorage) RouteOfSubline(ctx context.Context, sublineID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, found := s.sublines[sublineID]
	if !found {
		return 0, ErrNotFound
	}
	return sl.MainRouteID, nil
}

func (s *MemoryStorage) SublinesServingStop(ctx context.Context, stopID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []int64{}
	for sublineID, seq := range s.seqs {
		for _, sid := range seq {
			if sid == stopID {
				ids = append(ids, sublineID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStorage) Routes(ctx context.Context) ([]model.MainRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	routes := make([]model.MainRoute, 0, len(s.routes))
	for _, r := range s.routes {
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes, nil
}

func (s *MemoryStorage) Sublines(ctx context.Context, mainRouteID int64) ([]model.Subline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sublines := []model.Subline{}
	for _, sl := range s.sublines {
		if sl.MainRouteID == mainRouteID {
			sublines = append(sublines, sl)
		}
	}
	sort.Slice(sublines, func(i, j int) bool { return sublines[i].ID < sublines[j].ID })
	return sublines, nil
}

func (s *MemoryStorage) Stops(ctx context.Context) ([]model.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stops := make([]model.Stop, 0, len(s.stops))
	for _, stop := range s.stops {
		stops = append(stops, stop)
	}
	sort.Slice(stops, func(i, j int) bool { return stops[i].ID < stops[j].ID })
	return stops, nil
}

func (s *MemoryStorage) Stop(ctx context.Context, stopID int64) (model.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stop, found := s.stops[stopID]
	if !found {
		return model.Stop{}, ErrNotFound
	}
	return stop, nil
}

func (s *MemoryStorage) WriteRoute(ctx context.Context, route model.MainRoute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[route.ID] = route
	return nil
}

func (s *MemoryStorage) WriteStop(ctx context.Context, stop model.Stop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops[stop.ID] = stop
	return nil
}

func (s *MemoryStorage) WriteSubline(ctx context.Context, subline model.Subline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sublines[subline.ID] = subline
	return nil
}

func (s *MemoryStorage) WriteSublineStops(ctx context.Context, sublineID int64, stopIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[sublineID] = append([]int64{}, stopIDs...)
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
