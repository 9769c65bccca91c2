package server

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"daladala.dev/tracker"
)

// Egress endpoint for passenger clients. A connection binds to one
// main route for its whole lifetime; everything the pipeline emits
// for that route's sublines is fanned out to it.

var passengerPath = regexp.MustCompile(`^/api/passenger-realtime-ws/(\d+)$`)

type passengerWelcome struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) passengerRealtimeWS(w http.ResponseWriter, r *http.Request) {
	m := passengerPath.FindStringSubmatch(r.URL.Path)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		tracker.Logf("passenger upgrade: %v", err)
		return
	}
	defer conn.Close()

	if m == nil {
		// Bad route id in the path: policy violation.
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "route id required"))
		return
	}

	routeID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "route id required"))
		return
	}

	err = conn.WriteJSON(passengerWelcome{
		Type:      "connection",
		Message:   fmt.Sprintf("Connected to real-time feed for route %d", routeID),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	sub := s.hub.Subscribe(routeID, conn)
	defer s.hub.Unsubscribe(sub)

	// Inbound traffic is ignored, but the read loop has to run to
	// notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
