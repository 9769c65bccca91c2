package parse

import (
	"context"
	"io"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"daladala.dev/tracker/storage"
)

type SublineStopCSV struct {
	SublineID int64 `csv:"subline_id"`
	Seq       int   `csv:"seq"`
	StopID    int64 `csv:"stop_id"`
}

// Parses the subline -> stop sequence file. Rows for a subline may
// appear in any order; seq decides the drive order. Returns the
// number of rows written.
func ParseSublineStops(
	writer storage.Storage,
	data io.Reader,
	sublines map[int64]bool,
	stops map[int64]bool,
) (int, error) {

	rowCsv := []*SublineStopCSV{}
	if err := gocsv.Unmarshal(data, &rowCsv); err != nil {
		return 0, errors.Wrap(err, "unmarshaling subline_stops csv")
	}

	bySubline := map[int64][]*SublineStopCSV{}
	for i, row := range rowCsv {
		if !sublines[row.SublineID] {
			return 0, errors.Errorf("unknown subline_id '%d' (row %d)", row.SublineID, i+1)
		}
		if !stops[row.StopID] {
			return 0, errors.Errorf("unknown stop_id '%d' (row %d)", row.StopID, i+1)
		}
		bySubline[row.SublineID] = append(bySubline[row.SublineID], row)
	}

	written := 0
	for sublineID, rows := range bySubline {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })

		for i := 1; i < len(rows); i++ {
			if rows[i].Seq == rows[i-1].Seq {
				return 0, errors.Errorf(
					"repeated seq '%d' for subline_id '%d'", rows[i].Seq, sublineID)
			}
		}

		stopIDs := make([]int64, len(rows))
		for i, row := range rows {
			stopIDs[i] = row.StopID
		}

		err := writer.WriteSublineStops(context.Background(), sublineID, stopIDs)
		if err != nil {
			return 0, errors.Wrapf(err, "writing stops for subline '%d'", sublineID)
		}
		written += len(stopIDs)
	}

	return written, nil
}
