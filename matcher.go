package tracker

import (
	"sort"

	"daladala.dev/tracker/geo"
	"daladala.dev/tracker/model"
)

const (
	// Samples retained per bus.
	HistorySize = 5

	// Minimum history size before the matcher runs.
	MinSignalsForDirection = 3

	// A segment bearing within this many degrees of the bus's
	// mean heading counts as a match. Wide enough to tolerate GPS
	// jitter and street-grid deviations, narrow enough to
	// discriminate the outbound and return variants.
	DirectionMatchThresholdDegrees = 45.0
)

// matchSubline infers which directional variant a bus is driving, by
// comparing its mean heading against the bearing of every adjacent
// stop pair of every subline. The best-scoring subline wins; ties go
// to the first encountered, iterating sublines by ascending id and
// segments in stop order.
//
// Returns false when the history is below quorum, carries no usable
// heading, or no segment falls within the threshold.
func matchSubline(history []model.Sample, sublines map[int64][]model.Stop) (int64, bool) {
	if len(history) < MinSignalsForDirection {
		return model.SublineUnknown, false
	}

	heading, ok := geo.AverageBearing(history)
	if !ok {
		return model.SublineUnknown, false
	}

	ids := make([]int64, 0, len(sublines))
	for id := range sublines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	bestID := model.SublineUnknown
	bestScore := -1.0

	for _, id := range ids {
		stops := sublines[id]
		if len(stops) < 2 {
			continue
		}
		for i := 0; i+1 < len(stops); i++ {
			segment, ok := geo.Bearing(stops[i].Position(), stops[i+1].Position())
			if !ok {
				continue
			}
			delta := geo.AngularDistance(heading, segment)
			if delta > DirectionMatchThresholdDegrees {
				continue
			}
			score := DirectionMatchThresholdDegrees - delta
			if score > bestScore {
				bestScore = score
				bestID = id
			}
		}
	}

	if bestID == model.SublineUnknown {
		return model.SublineUnknown, false
	}
	return bestID, true
}
