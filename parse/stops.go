package parse

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/gocarina/gocsv"

	"daladala.dev/tracker/model"
	"daladala.dev/tracker/storage"
)

type StopCSV struct {
	ID   int64   `csv:"stop_id"`
	Code string  `csv:"stop_code"`
	Name string  `csv:"stop_name"`
	Ref  string  `csv:"stop_ref"`
	Lat  float64 `csv:"stop_lat"`
	Lng  float64 `csv:"stop_lng"`
}

func ParseStops(writer storage.Storage, data io.Reader) (map[int64]bool, error) {
	stopCsv := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &stopCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling stops csv: %w", err)
	}

	stopIDs := map[int64]bool{}
	for _, st := range stopCsv {
		if st.ID == 0 {
			return nil, fmt.Errorf("missing stop_id")
		}
		if stopIDs[st.ID] {
			return nil, fmt.Errorf("repeated stop_id '%d'", st.ID)
		}
		stopIDs[st.ID] = true

		if st.Name == "" {
			return nil, fmt.Errorf("empty stop_name for stop_id '%d'", st.ID)
		}
		if st.Lat == 0 || st.Lng == 0 {
			return nil, fmt.Errorf("empty stop_lat or stop_lng for stop_id '%d'", st.ID)
		}
		if math.IsNaN(st.Lat) || math.IsNaN(st.Lng) {
			return nil, fmt.Errorf("bad stop_lat or stop_lng for stop_id '%d'", st.ID)
		}

		err := writer.WriteStop(context.Background(), model.Stop{
			ID:   st.ID,
			Code: st.Code,
			Name: st.Name,
			Ref:  st.Ref,
			Lat:  st.Lat,
			Lng:  st.Lng,
		})
		if err != nil {
			return nil, fmt.Errorf("writing stop: %w", err)
		}
	}

	return stopIDs, nil
}
