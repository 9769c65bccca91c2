package server

import (
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daladala.dev/tracker"
	"daladala.dev/tracker/model"
	"daladala.dev/tracker/testutil"
)

func seededHub(t *testing.T) *Hub {
	s := testutil.BuildStorage(t, "memory")
	testutil.SeedCatalog(t, s)
	return NewHub(tracker.NewCatalog(s))
}

// wsPair opens a real websocket connection against a throwaway server
// and hands back both ends.
func wsPair(t *testing.T) (serverConn, clientConn *websocket.Conn) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	accepted := make(chan *websocket.Conn, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		accepted <- conn
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server := <-accepted
	t.Cleanup(func() { server.Close() })
	return server, client
}

func TestHubSubscribeUnsubscribe(t *testing.T) {
	h := seededHub(t)

	assert.Equal(t, 0, h.SubscriberCount(101))

	sc1, _ := wsPair(t)
	sc2, _ := wsPair(t)
	sub1 := h.Subscribe(101, sc1)
	sub2 := h.Subscribe(101, sc2)
	assert.Equal(t, 2, h.SubscriberCount(101))

	h.Unsubscribe(sub1)
	assert.Equal(t, 1, h.SubscriberCount(101))

	// Idempotent.
	h.Unsubscribe(sub1)
	assert.Equal(t, 1, h.SubscriberCount(101))

	h.Unsubscribe(sub2)
	assert.Equal(t, 0, h.SubscriberCount(101))
}

func TestHubBroadcastRoutesBySublineOwner(t *testing.T) {
	h := seededHub(t)

	sc101, cc101 := wsPair(t)
	sc202, cc202 := wsPair(t)
	sub101 := h.Subscribe(101, sc101)
	sub202 := h.Subscribe(202, sc202)
	defer h.Unsubscribe(sub101)
	defer h.Unsubscribe(sub202)

	// Subline 1011 belongs to route 101; only that subscriber
	// hears it.
	h.Broadcast(tracker.NewPositionMessage(1011, model.Coordinate{Lat: 0, Lng: 0.002}, 10, time.Now()))

	cc101.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := cc101.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"rt_id":1011`)
	assert.Contains(t, string(payload), `"type":"position"`)

	cc202.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = cc202.ReadMessage()
	assert.Error(t, err)
}

func TestHubBroadcastFanOut(t *testing.T) {
	h := seededHub(t)

	conns := []*websocket.Conn{}
	for i := 0; i < 3; i++ {
		sc, cc := wsPair(t)
		sub := h.Subscribe(101, sc)
		defer h.Unsubscribe(sub)
		conns = append(conns, cc)
	}

	h.Broadcast(tracker.NewCloseMessage(1012, model.Coordinate{}, time.Now()))

	for _, cc := range conns {
		cc.SetReadDeadline(time.Now().Add(time.Second))
		_, payload, err := cc.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(payload), `"type":"close"`)
	}
}

func TestHubBroadcastUnknownSubline(t *testing.T) {
	tracker.SetLogger(nil)
	defer tracker.SetLogger(log.Printf)

	h := seededHub(t)
	sc, cc := wsPair(t)
	sub := h.Subscribe(101, sc)
	defer h.Unsubscribe(sub)

	// No catalog entry for subline 777: the message is dropped, the
	// subscriber stays.
	h.Broadcast(tracker.NewPositionMessage(777, model.Coordinate{}, 10, time.Now()))
	assert.Equal(t, 1, h.SubscriberCount(101))

	cc.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := cc.ReadMessage()
	assert.Error(t, err)
}

func TestHubEvictsSlowSubscriber(t *testing.T) {
	tracker.SetLogger(nil)
	defer tracker.SetLogger(log.Printf)

	h := seededHub(t)

	// A subscriber with a tiny queue and no writer draining it.
	sub := &subscriber{
		id:      "stalled",
		routeID: 101,
		send:    make(chan []byte, 1),
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.routes[101] = map[*subscriber]bool{sub: true}
	h.mu.Unlock()

	msg := tracker.NewPositionMessage(1011, model.Coordinate{}, 10, time.Now())
	h.Broadcast(msg) // fills the queue
	h.Broadcast(msg) // overflows it

	require.Eventually(t, func() bool {
		return h.SubscriberCount(101) == 0
	}, time.Second, 10*time.Millisecond)

	// Further broadcasts are no-ops for the evicted subscriber.
	h.Broadcast(msg)
	select {
	case <-sub.done:
	default:
		t.Fatal("evicted subscriber not closed")
	}
}

func TestHubBroadcastNoSubscribers(t *testing.T) {
	h := seededHub(t)

	// No one listening on the owning route: nothing to do, nothing
	// to serialize.
	h.Broadcast(tracker.NewPositionMessage(1011, model.Coordinate{}, 10, time.Now()))
	assert.Equal(t, 0, h.SubscriberCount(101))
}
