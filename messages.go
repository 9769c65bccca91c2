package tracker

import (
	"time"

	"daladala.dev/tracker/model"
)

// Outbound messages form a closed union: position, close and
// esta-info. The rt_id on the wire is always a subline id; the
// broadcaster resolves it to the owning main route to find the
// subscriber set.

const (
	// Placeholder value for unknown arrival/departure times
	// (stationary bus).
	timeUnknown = "-"

	// Static capacity placeholders, kept as a forward-compatible
	// shape until drivers report passenger counts.
	busCapacity         = 50
	busCapacitySeated   = 30
	busCapacityStanding = 20
)

type Message interface {
	// The subline the message concerns.
	MessageSubline() int64
}

type PositionMessage struct {
	Type string  `json:"type"`
	RtID int64   `json:"rt_id"`
	Upd  string  `json:"upd"`
	Date string  `json:"date"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Vel  float64 `json:"vel"` // km/h
}

func (m *PositionMessage) MessageSubline() int64 { return m.RtID }

// NewPositionMessage builds a position update. velocity is meters per
// second as received from the driver; the wire carries km/h.
func NewPositionMessage(sublineID int64, pos model.Coordinate, velocity float64, ts time.Time) *PositionMessage {
	compact := model.CompactTime(ts)
	return &PositionMessage{
		Type: "position",
		RtID: sublineID,
		Upd:  compact,
		Date: compact,
		Lat:  pos.Lat,
		Lng:  pos.Lng,
		Vel:  velocity * 3.6,
	}
}

// A CloseMessage signals that a bus has departed from a
// previously-tracked subline. Passenger clients use it to retire
// stale trajectories.
type CloseMessage struct {
	Type     string  `json:"type"`
	RtID     int64   `json:"rt_id"`
	Upd      string  `json:"upd"`
	Date     string  `json:"date"`
	Del      int     `json:"del"`
	Pass     string  `json:"pass"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	StopID   int64   `json:"stop_id"`
	StopCode string  `json:"stop_code"`
	StopName string  `json:"stop_nam"`
}

func (m *CloseMessage) MessageSubline() int64 { return m.RtID }

func NewCloseMessage(previousSublineID int64, pos model.Coordinate, ts time.Time) *CloseMessage {
	compact := model.CompactTime(ts)
	return &CloseMessage{
		Type:     "close",
		RtID:     previousSublineID,
		Upd:      compact,
		Date:     compact,
		Del:      0,
		Pass:     "0",
		Lat:      pos.Lat,
		Lng:      pos.Lng,
		StopID:   0,
		StopCode: "-",
		StopName: "-",
	}
}

type EstaStop struct {
	StopID   int64   `json:"stop_id"`
	StopCode string  `json:"stop_code"`
	StopName string  `json:"stop_nam"`
	ArrT     string  `json:"arr_t"`
	DepT     string  `json:"dep_t"`
	EstaDist float64 `json:"esta_dist"`
	EstaTime string  `json:"esta_time"`
}

type PositionBlock struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Vel  float64 `json:"vel"` // km/h
	Time string  `json:"time"`
}

type CapacityBlock struct {
	Passengers  int `json:"pas"`
	Capacity    int `json:"cap"`
	CapSeated   int `json:"cap_seated"`
	CapStanding int `json:"cap_standing"`
}

// An EstaInfoMessage carries arrival estimates for the stops a bus is
// approaching, along with its current position and a capacity block.
type EstaInfoMessage struct {
	Type  string        `json:"type"`
	RtID  int64         `json:"rt_id"`
	Upd   string        `json:"upd"`
	Date  string        `json:"date"`
	Stops []EstaStop    `json:"stops"`
	Pos   PositionBlock `json:"pos"`
	Bus   CapacityBlock `json:"bus"`
}

func (m *EstaInfoMessage) MessageSubline() int64 { return m.RtID }

func NewEstaInfoMessage(
	sublineID int64,
	stops []EstaStop,
	pos model.Coordinate,
	velocity float64,
	ts time.Time,
) *EstaInfoMessage {

	compact := model.CompactTime(ts)
	return &EstaInfoMessage{
		Type:  "esta-info",
		RtID:  sublineID,
		Upd:   compact,
		Date:  compact,
		Stops: stops,
		Pos: PositionBlock{
			Lat:  pos.Lat,
			Lng:  pos.Lng,
			Vel:  velocity * 3.6,
			Time: compact,
		},
		Bus: CapacityBlock{
			Passengers:  0,
			Capacity:    busCapacity,
			CapSeated:   busCapacitySeated,
			CapStanding: busCapacityStanding,
		},
	}
}
