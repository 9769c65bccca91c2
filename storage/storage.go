package storage

import (
	"context"
	"errors"

	"daladala.dev/tracker/model"
)

// Raised when a looked-up route, subline or stop does not exist.
var ErrNotFound = errors.New("not found")

// Storage holds the transit catalog: main routes, their directional
// sublines, and the ordered stop sequence of each subline.
//
// The realtime pipeline only ever reads; the write path exists for
// the catalog importer and for tests. Catalog queries carry a
// context so callers can bound them with a deadline.
type Storage interface {
	// Ordered stop lists for every subline of a main route,
	// keyed by subline id. Returns an empty map when the route
	// has no sublines.
	SublineStops(ctx context.Context, mainRouteID int64) (map[int64][]model.Stop, error)

	// The main route a subline belongs to. ErrNotFound when the
	// subline is unknown.
	RouteOfSubline(ctx context.Context, sublineID int64) (int64, error)

	// IDs of all sublines whose stop sequence includes the given
	// stop, ascending.
	SublinesServingStop(ctx context.Context, stopID int64) ([]int64, error)

	Routes(ctx context.Context) ([]model.MainRoute, error)
	Sublines(ctx context.Context, mainRouteID int64) ([]model.Subline, error)
	Stops(ctx context.Context) ([]model.Stop, error)
	Stop(ctx context.Context, stopID int64) (model.Stop, error)

	WriteRoute(ctx context.Context, route model.MainRoute) error
	WriteStop(ctx context.Context, stop model.Stop) error
	WriteSubline(ctx context.Context, subline model.Subline) error

	// Replaces the stop sequence of a subline. Order of stopIDs
	// is the drive order.
	WriteSublineStops(ctx context.Context, sublineID int64, stopIDs []int64) error

	Close() error
}
