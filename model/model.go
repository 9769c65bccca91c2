package model

import (
	"math"
	"time"
)

// Holds all external facing types and constants.

// SublineUnknown marks a bus whose directional variant has not been
// inferred yet.
const SublineUnknown int64 = 0

type Coordinate struct {
	Lat float64
	Lng float64
}

// Finite reports whether both components are real numbers. Tuples
// containing NaN or Inf are rejected at parse and never enter the
// pipeline.
func (c Coordinate) Finite() bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) &&
		!math.IsNaN(c.Lng) && !math.IsInf(c.Lng, 0)
}

type Stop struct {
	ID   int64
	Code string
	Name string
	Ref  string
	Lat  float64
	Lng  float64
}

func (s Stop) Position() Coordinate {
	return Coordinate{Lat: s.Lat, Lng: s.Lng}
}

// A Subline is one directional variant (outbound, return, express) of
// a main route. Its stop sequence is totally ordered: stop N+1 is the
// immediate successor of stop N along the drive path.
type Subline struct {
	ID          int64
	MainRouteID int64
	Name        string
	Direction   string
}

type MainRoute struct {
	ID   int64
	Name string
}

// A Sample is one GPS reading from a driver client.
type Sample struct {
	Coordinate
	Time time.Time
}

// A DriverFrame is the JSON payload of a single inbound driver
// websocket message. Velocity is meters per second on the wire.
type DriverFrame struct {
	RouteID   int64   `json:"routeId"`
	BusID     string  `json:"busId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp string  `json:"timestamp"`
	Velocity  float64 `json:"velocity"`
}

// CompactTime renders t in the compact "YYYYMMDDHHMMSS" UTC form used
// in outbound upd/date fields.
func CompactTime(t time.Time) string {
	return t.UTC().Format("20060102150405")
}

// ClockTime renders t as "HHMMSS" UTC, the form used for arrival and
// departure times in esta-info stop entries.
func ClockTime(t time.Time) string {
	return t.UTC().Format("150405")
}
