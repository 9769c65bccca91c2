package server

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"daladala.dev/tracker"
)

// Per-subscriber outbound queue depth. A subscriber that falls this
// far behind is evicted rather than allowed to stall the pipeline.
const subscriberQueueSize = 32

// Hub is the route-partitioned subscription registry and the
// broadcaster feeding it. Subscribers register under a main route id;
// pipeline messages carry a subline id, which the hub resolves to the
// owning route via the catalog.
type Hub struct {
	catalog *tracker.Catalog

	mu     sync.RWMutex
	routes map[int64]map[*subscriber]bool

	// Sublines we already complained about; UnknownSubline is
	// logged once per id.
	unknownMu sync.Mutex
	unknown   map[int64]bool
}

type subscriber struct {
	id      string
	routeID int64
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
}

func NewHub(catalog *tracker.Catalog) *Hub {
	return &Hub{
		catalog: catalog,
		routes:  map[int64]map[*subscriber]bool{},
		unknown: map[int64]bool{},
	}
}

// Subscribe registers conn for all messages on a main route. The
// returned subscriber owns a writer goroutine; the caller must call
// Unsubscribe when the connection ends.
func (h *Hub) Subscribe(routeID int64, conn *websocket.Conn) *subscriber {
	sub := &subscriber{
		id:      uuid.NewString(),
		routeID: routeID,
		conn:    conn,
		send:    make(chan []byte, subscriberQueueSize),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	set, found := h.routes[routeID]
	if !found {
		set = map[*subscriber]bool{}
		h.routes[routeID] = set
	}
	set[sub] = true
	h.mu.Unlock()

	go sub.writePump(h)

	return sub
}

// Unsubscribe removes a subscriber and reclaims its route's set when
// it empties. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if set, found := h.routes[sub.routeID]; found {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.routes, sub.routeID)
		}
	}
	h.mu.Unlock()

	sub.close()
}

// Broadcast implements tracker.Broadcaster. It resolves the message's
// subline to its main route, serializes once, and hands the frame to
// every subscriber's queue. Never blocks: a subscriber with a full
// queue is dropped.
func (h *Hub) Broadcast(msg tracker.Message) {
	sublineID := msg.MessageSubline()

	routeID, err := h.catalog.RouteOfSubline(sublineID)
	if err != nil {
		h.unknownMu.Lock()
		complained := h.unknown[sublineID]
		h.unknown[sublineID] = true
		h.unknownMu.Unlock()
		if !complained {
			tracker.Logf("dropping message for unresolvable subline %d: %v", sublineID, err)
		}
		return
	}

	h.mu.RLock()
	set := h.routes[routeID]
	if len(set) == 0 {
		h.mu.RUnlock()
		return
	}
	subs := make([]*subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		tracker.Logf("marshaling %T: %v", msg, err)
		return
	}

	for _, sub := range subs {
		select {
		case <-sub.done:
		case sub.send <- payload:
		default:
			// Queue full: backpressure resolves to
			// eviction, not head-of-line blocking.
			tracker.Logf("subscriber %s on route %d too slow, dropping", sub.id, routeID)
			go h.Unsubscribe(sub)
		}
	}
}

// SubscriberCount reports the number of open subscriptions for a
// route.
func (h *Hub) SubscriberCount(routeID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.routes[routeID])
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// writePump drains the send queue onto the socket. A failed write
// means the client is gone; the subscriber is removed and anything
// still queued is discarded.
func (s *subscriber) writePump(h *Hub) {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.Unsubscribe(s)
				return
			}
		}
	}
}
