package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"daladala.dev/tracker"
	"daladala.dev/tracker/model"
)

// Ingress endpoint for driver clients. Each text frame is one
// DriverFrame; each frame triggers one pipeline pass. Authentication
// is handled upstream, the upgrade itself is unconditional.

type driverAck struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) driverLocationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		tracker.Logf("driver upgrade: %v", err)
		return
	}
	defer conn.Close()

	conn.WriteJSON(driverAck{
		Type:    "connected",
		Message: "Connected to driver location service",
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		frame := model.DriverFrame{}
		if err := json.Unmarshal(payload, &frame); err != nil {
			conn.WriteJSON(driverAck{Type: "error", Message: "malformed frame: " + err.Error()})
			continue
		}

		if err := s.tracker.HandleFrame(frame); err != nil {
			if errors.Is(err, tracker.ErrBadInput) {
				conn.WriteJSON(driverAck{Type: "error", Message: err.Error()})
				continue
			}
			tracker.Logf("bus %s: handling frame: %v", frame.BusID, err)
		}
	}
}
