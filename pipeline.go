package tracker

import (
	"errors"
	"fmt"
	"math"
	"time"

	"daladala.dev/tracker/geo"
	"daladala.dev/tracker/model"
)

const (
	// Upcoming stops included in an esta-info message.
	UpcomingStopCount = 5

	// Dwell time added to an estimated arrival to produce the
	// estimated departure.
	StopDepartureOffset = 30 * time.Second
)

// ErrBadInput marks frames the pipeline rejects outright: malformed
// JSON, missing busId, non-finite coordinates. The ingress endpoint
// reports these back to the offending driver.
var ErrBadInput = errors.New("bad input")

// Broadcaster receives every message the pipeline produces. The
// implementation must not block; slow subscribers are its problem,
// not the pipeline's.
type Broadcaster interface {
	Broadcast(msg Message)
}

// Tracker runs the per-frame pipeline: history update, direction
// inference, arrival estimation, broadcast. One synchronous pass per
// inbound driver frame; frames for distinct buses run concurrently,
// frames for the same bus serialize.
type Tracker struct {
	catalog     *Catalog
	states      *StateStore
	broadcaster Broadcaster
}

func NewTracker(catalog *Catalog, broadcaster Broadcaster) *Tracker {
	return &Tracker{
		catalog:     catalog,
		states:      NewStateStore(),
		broadcaster: broadcaster,
	}
}

func (t *Tracker) States() *StateStore { return t.states }
func (t *Tracker) Catalog() *Catalog   { return t.catalog }

// HandleFrame processes one inbound driver frame. Errors wrapping
// ErrBadInput are client-visible; anything else has already been
// handled (logged, degraded) internally.
func (t *Tracker) HandleFrame(frame model.DriverFrame) error {
	if frame.BusID == "" {
		return fmt.Errorf("%w: missing busId", ErrBadInput)
	}

	pos := model.Coordinate{Lat: frame.Lat, Lng: frame.Lng}
	if !pos.Finite() {
		return fmt.Errorf("%w: coordinates are not finite", ErrBadInput)
	}

	ts, err := frameTime(frame.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadInput, err)
	}

	// The whole pass runs under the per-bus lock, including the
	// broadcast handoff. That keeps output per bus strictly FIFO
	// even if a bus id shows up on two connections.
	t.states.Update(frame.BusID, func(st *BusState) {
		t.processFrame(st, frame, pos, ts)
	})

	return nil
}

func (t *Tracker) processFrame(st *BusState, frame model.DriverFrame, pos model.Coordinate, ts time.Time) {
	// Step 1: history update
	st.pushSample(model.Sample{Coordinate: pos, Time: ts})

	// Step 2: route change reset
	routeChanged := st.MainRouteID != 0 && st.MainRouteID != frame.RouteID
	if routeChanged {
		st.resetRoute(frame.RouteID)
	}
	st.MainRouteID = frame.RouteID

	// Step 3: subline inference. Skipped right after a route
	// change; the history still describes the old route's
	// driving.
	storageDown := false
	if len(st.History) >= MinSignalsForDirection && !routeChanged {
		sublines, err := t.catalog.SublinesForRoute(frame.RouteID)
		if err != nil {
			// Transient: keep the history commit, retry
			// inference on the next frame.
			storageDown = true
			Logf("bus %s: loading sublines for route %d: %v", frame.BusID, frame.RouteID, err)
		} else if newID, ok := matchSubline(st.History, sublines); ok {
			st.CurrentSublineID = newID
		}
	}

	// Step 4: close emission on subline transition. The close
	// carries the previous frame's position, not the current one.
	if st.PreviousSublineID != model.SublineUnknown &&
		st.CurrentSublineID != model.SublineUnknown &&
		st.PreviousSublineID != st.CurrentSublineID {

		prev := st.History[len(st.History)-1]
		if len(st.History) >= 2 {
			prev = st.History[len(st.History)-2]
		}
		t.broadcaster.Broadcast(NewCloseMessage(st.PreviousSublineID, prev.Coordinate, prev.Time))
	}

	// Step 5: position emission
	if st.CurrentSublineID != model.SublineUnknown {
		t.broadcaster.Broadcast(NewPositionMessage(st.CurrentSublineID, pos, frame.Velocity, ts))
	}

	// Step 6: esta-info emission
	if st.CurrentSublineID != model.SublineUnknown && !storageDown {
		if st.CachedStops.SublineID != st.CurrentSublineID {
			stops, err := t.catalog.StopsOfSubline(st.CurrentSublineID)
			if err != nil {
				storageDown = true
				Logf("bus %s: loading stops for subline %d: %v", frame.BusID, st.CurrentSublineID, err)
			} else {
				st.CachedStops = CachedStops{SublineID: st.CurrentSublineID, Stops: stops}
			}
		}

		if !storageDown {
			stops := upcomingStops(st.CachedStops.Stops, pos, frame.Velocity, ts)
			t.broadcaster.Broadcast(NewEstaInfoMessage(st.CurrentSublineID, stops, pos, frame.Velocity, ts))
		}
	}

	// Step 7: commit
	st.PreviousSublineID = st.CurrentSublineID
	st.LastVelocity = frame.Velocity
	st.LastSeen = ts
}

// upcomingStops finds the stop closest to the bus and estimates
// arrival at the next few stops after it. With no forward velocity
// the stops are still listed, but arrival stays unknown.
func upcomingStops(stops []model.Stop, pos model.Coordinate, velocity float64, now time.Time) []EstaStop {
	closest := -1
	closestDist := math.Inf(1)
	for i, stop := range stops {
		d, err := geo.Distance(pos, stop.Position())
		if err != nil {
			continue
		}
		if d < closestDist {
			closestDist = d
			closest = i
		}
	}
	if closest < 0 {
		return []EstaStop{}
	}

	end := closest + 1 + UpcomingStopCount
	if end > len(stops) {
		end = len(stops)
	}

	upcoming := []EstaStop{}
	for _, stop := range stops[closest+1 : end] {
		d, err := geo.Distance(pos, stop.Position())
		if err != nil {
			continue
		}

		es := EstaStop{
			StopID:   stop.ID,
			StopCode: stop.Code,
			StopName: stop.Name,
			ArrT:     timeUnknown,
			DepT:     timeUnknown,
			EstaDist: d,
			EstaTime: timeUnknown,
		}

		if velocity > 0 {
			arrival := now.Add(time.Duration(d / velocity * float64(time.Second)))
			departure := arrival.Add(StopDepartureOffset)
			es.ArrT = model.ClockTime(arrival)
			es.DepT = model.ClockTime(departure)
			es.EstaTime = model.CompactTime(arrival)
		}

		upcoming = append(upcoming, es)
	}

	return upcoming
}

// EvictIdle drops state for buses silent longer than idleFor.
func (t *Tracker) EvictIdle(idleFor time.Duration) int {
	return t.states.EvictIdle(time.Now().Add(-idleFor))
}

// frameTime parses the ISO-8601 timestamp of a driver frame. A blank
// timestamp falls back to the server clock; drivers in the field
// sometimes omit it.
func frameTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
