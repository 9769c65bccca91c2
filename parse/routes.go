package parse

import (
	"context"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"daladala.dev/tracker/model"
	"daladala.dev/tracker/storage"
)

type RouteCSV struct {
	ID   int64  `csv:"route_id"`
	Name string `csv:"route_name"`
}

func ParseRoutes(writer storage.Storage, data io.Reader) (map[int64]bool, error) {
	routeCsv := []*RouteCSV{}
	if err := gocsv.Unmarshal(data, &routeCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling routes csv: %w", err)
	}

	routeIDs := map[int64]bool{}
	for _, r := range routeCsv {
		if r.ID == 0 {
			return nil, fmt.Errorf("missing route_id")
		}
		if routeIDs[r.ID] {
			return nil, fmt.Errorf("repeated route_id '%d'", r.ID)
		}
		routeIDs[r.ID] = true

		err := writer.WriteRoute(context.Background(), model.MainRoute{
			ID:   r.ID,
			Name: r.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("writing route: %w", err)
		}
	}

	return routeIDs, nil
}
