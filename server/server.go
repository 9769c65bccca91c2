package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"daladala.dev/tracker"
	"daladala.dev/tracker/storage"
)

// Server is the HTTP front of the tracking backend: the two websocket
// endpoints plus a handful of read-only catalog and query routes.
type Server struct {
	tracker  *tracker.Tracker
	storage  storage.Storage
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewServer(t *tracker.Tracker, s storage.Storage, hub *Hub) *Server {
	return &Server{
		tracker: t,
		storage: s,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks are the gateway's job.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/driver-location-ws", s.driverLocationWS)
	mux.HandleFunc("/api/passenger-realtime-ws/", s.passengerRealtimeWS)
	mux.HandleFunc("/api/stops", s.listStops)
	mux.HandleFunc("/api/routes", s.listRoutes)
	mux.HandleFunc("/api/routes/", s.listSublines)
	mux.HandleFunc("/api/stations/", s.stationDepartures)
	return mux
}

func (s *Server) listStops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stops, err := s.storage.Stops(r.Context())
	if err != nil {
		http.Error(w, "Failed to list stops", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stops)
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	routes, err := s.storage.Routes(r.Context())
	if err != nil {
		http.Error(w, "Failed to list routes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, routes)
}

// GET /api/routes/{id}/sublines
func (s *Server) listSublines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/routes/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "sublines" {
		http.NotFound(w, r)
		return
	}
	routeID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "Invalid route id", http.StatusBadRequest)
		return
	}

	sublines, err := s.storage.Sublines(r.Context(), routeID)
	if err != nil {
		http.Error(w, "Failed to list sublines", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sublines)
}

// GET /api/stations/{id}/departures?n=10
func (s *Server) stationDepartures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/stations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "departures" {
		http.NotFound(w, r)
		return
	}
	stationID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "Invalid station id", http.StatusBadRequest)
		return
	}

	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		n, err = strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid n", http.StatusBadRequest)
			return
		}
	}

	hints, err := s.tracker.DeparturesForStation(stationID, n)
	if err != nil {
		http.Error(w, "Failed to compute departures", http.StatusInternalServerError)
		return
	}
	writeJSON(w, hints)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		tracker.Logf("writing response: %v", err)
	}
}
