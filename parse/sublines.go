package parse

import (
	"context"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"daladala.dev/tracker/model"
	"daladala.dev/tracker/storage"
)

type SublineCSV struct {
	ID        int64  `csv:"subline_id"`
	RouteID   int64  `csv:"route_id"`
	Name      string `csv:"subline_name"`
	Direction string `csv:"direction"`
}

func ParseSublines(writer storage.Storage, data io.Reader, routes map[int64]bool) (map[int64]bool, error) {
	sublineCsv := []*SublineCSV{}
	if err := gocsv.Unmarshal(data, &sublineCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling sublines csv: %w", err)
	}

	sublineIDs := map[int64]bool{}
	for _, sl := range sublineCsv {
		if sl.ID == 0 {
			return nil, fmt.Errorf("missing subline_id")
		}
		if sublineIDs[sl.ID] {
			return nil, fmt.Errorf("repeated subline_id '%d'", sl.ID)
		}
		sublineIDs[sl.ID] = true

		if !routes[sl.RouteID] {
			return nil, fmt.Errorf("subline '%d' references unknown route_id '%d'", sl.ID, sl.RouteID)
		}

		err := writer.WriteSubline(context.Background(), model.Subline{
			ID:          sl.ID,
			MainRouteID: sl.RouteID,
			Name:        sl.Name,
			Direction:   sl.Direction,
		})
		if err != nil {
			return nil, fmt.Errorf("writing subline: %w", err)
		}
	}

	return sublineIDs, nil
}
