package tracker

import (
	"fmt"
	"math"
	"sort"

	"daladala.dev/tracker/geo"
	"daladala.dev/tracker/model"
)

// Below this speed a bus is treated as stationary for arrival
// estimation; the hint is kept but sorted to the tail.
const minEstimationVelocity = 0.5 // m/s

// A DepartureHint describes one bus approaching a station.
// EstimatedSeconds is -1 when the bus is too slow to estimate; such
// hints sort after all estimable ones.
type DepartureHint struct {
	SublineID        int64   `json:"subline_id"`
	BusID            string  `json:"bus_id"`
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	Velocity         float64 `json:"velocity"` // m/s
	EstimatedSeconds float64 `json:"estimated_seconds"`
	DistanceMeters   float64 `json:"distance_meters"`

	eta float64 // sort key, +Inf when unknown
}

// DeparturesForStation answers "which buses are approaching station
// X, next n". It snapshots the live bus states and keeps every bus
// whose tracked subline serves the station and which hasn't passed it
// yet, ordered by estimated time of arrival. Buses too slow to
// estimate sort to the tail.
func (t *Tracker) DeparturesForStation(stationID int64, n int) ([]DepartureHint, error) {
	sublineIDs, err := t.catalog.SublinesServingStop(stationID)
	if err != nil {
		return nil, fmt.Errorf("finding sublines serving stop %d: %w", stationID, err)
	}
	if len(sublineIDs) == 0 {
		return []DepartureHint{}, nil
	}

	stopsBySubline := map[int64][]model.Stop{}
	for _, id := range sublineIDs {
		stops, err := t.catalog.StopsOfSubline(id)
		if err != nil {
			return nil, fmt.Errorf("loading stops for subline %d: %w", id, err)
		}
		stopsBySubline[id] = stops
	}

	hints := []DepartureHint{}
	for _, st := range t.states.Snapshot() {
		stops, serving := stopsBySubline[st.CurrentSublineID]
		if !serving || len(st.History) == 0 {
			continue
		}

		pos := st.History[len(st.History)-1].Coordinate

		closest := -1
		closestDist := math.Inf(1)
		stationIdx := -1
		for i, stop := range stops {
			if stop.ID == stationID {
				stationIdx = i
			}
			d, err := geo.Distance(pos, stop.Position())
			if err != nil {
				continue
			}
			if d < closestDist {
				closestDist = d
				closest = i
			}
		}

		// Past the station already, or station not actually in
		// this sequence.
		if stationIdx < 0 || closest < 0 || stationIdx <= closest {
			continue
		}

		d, err := geo.Distance(pos, stops[stationIdx].Position())
		if err != nil {
			continue
		}

		velocity := st.LastVelocity
		eta := math.Inf(1)
		if velocity > minEstimationVelocity {
			eta = d / velocity
		}

		hint := DepartureHint{
			SublineID:        st.CurrentSublineID,
			BusID:            st.BusID,
			Lat:              pos.Lat,
			Lng:              pos.Lng,
			Velocity:         velocity,
			EstimatedSeconds: -1,
			DistanceMeters:   d,
			eta:              eta,
		}
		if !math.IsInf(eta, 1) {
			hint.EstimatedSeconds = eta
		}
		hints = append(hints, hint)
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return hints[i].eta < hints[j].eta
	})
	if n > 0 && len(hints) > n {
		hints = hints[:n]
	}

	return hints, nil
}
