package tracker

import (
	"fmt"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daladala.dev/tracker/model"
	"daladala.dev/tracker/testutil"
)

// Collects everything the pipeline broadcasts, in order.
type captureBroadcaster struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *captureBroadcaster) Broadcast(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *captureBroadcaster) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message{}, c.msgs...)
}

func (c *captureBroadcaster) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

var testBase = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

type pipelineFixture struct {
	tracker *Tracker
	capture *captureBroadcaster
	flaky   *flakyStorage
	seq     int
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	s := testutil.BuildStorage(t, "memory")
	testutil.SeedCatalog(t, s)
	flaky := &flakyStorage{Storage: s}
	capture := &captureBroadcaster{}
	return &pipelineFixture{
		tracker: NewTracker(NewCatalog(flaky), capture),
		capture: capture,
		flaky:   flaky,
	}
}

// frame sends one driver frame with an auto-advancing timestamp (10s
// apart) and requires it to be accepted.
func (f *pipelineFixture) frame(t *testing.T, busID string, routeID int64, lat, lng, vel float64) {
	ts := testBase.Add(time.Duration(f.seq) * 10 * time.Second)
	f.seq++
	err := f.tracker.HandleFrame(model.DriverFrame{
		RouteID:   routeID,
		BusID:     busID,
		Lat:       lat,
		Lng:       lng,
		Timestamp: ts.Format(time.RFC3339),
		Velocity:  vel,
	})
	require.NoError(t, err)
}

func TestPipelineRejectsBadInput(t *testing.T) {
	f := newPipelineFixture(t)

	err := f.tracker.HandleFrame(model.DriverFrame{RouteID: 101, Lat: 0, Lng: 0})
	assert.ErrorIs(t, err, ErrBadInput)

	err = f.tracker.HandleFrame(model.DriverFrame{
		RouteID: 101, BusID: "B1", Lat: math.NaN(), Lng: 0,
	})
	assert.ErrorIs(t, err, ErrBadInput)

	err = f.tracker.HandleFrame(model.DriverFrame{
		RouteID: 101, BusID: "B1", Lat: 0, Lng: math.Inf(1),
	})
	assert.ErrorIs(t, err, ErrBadInput)

	err = f.tracker.HandleFrame(model.DriverFrame{
		RouteID: 101, BusID: "B1", Lat: 0, Lng: 0, Timestamp: "yesterday-ish",
	})
	assert.ErrorIs(t, err, ErrBadInput)

	// Rejected frames leave no state behind.
	_, found := f.tracker.States().Get("B1")
	assert.False(t, found)
	assert.Empty(t, f.capture.messages())
}

func TestPipelineSubQuorum(t *testing.T) {
	f := newPipelineFixture(t)

	// Two frames along a straight eastward path: below quorum,
	// nothing broadcast.
	f.frame(t, "B1", 101, 0, 0, 10)
	f.frame(t, "B1", 101, 0, 0.001, 10)

	assert.Empty(t, f.capture.messages())

	st, found := f.tracker.States().Get("B1")
	require.True(t, found)
	assert.Len(t, st.History, 2)
	assert.Equal(t, model.SublineUnknown, st.CurrentSublineID)
}

func TestPipelineFirstInference(t *testing.T) {
	f := newPipelineFixture(t)

	f.frame(t, "B1", 101, 0, 0, 10)
	f.frame(t, "B1", 101, 0, 0.001, 10)
	f.frame(t, "B1", 101, 0, 0.002, 10)

	msgs := f.capture.messages()
	require.Len(t, msgs, 2)

	pos, ok := msgs[0].(*PositionMessage)
	require.True(t, ok)
	assert.Equal(t, int64(1011), pos.RtID)
	assert.Equal(t, 0.002, pos.Lng)
	assert.Equal(t, 36.0, pos.Vel) // 10 m/s on the wire
	assert.Equal(t, "20240315080020", pos.Upd)
	assert.Equal(t, pos.Upd, pos.Date)

	esta, ok := msgs[1].(*EstaInfoMessage)
	require.True(t, ok)
	assert.Equal(t, int64(1011), esta.RtID)
	assert.Equal(t, 36.0, esta.Pos.Vel)
	assert.Equal(t, 50, esta.Bus.Capacity)
	assert.Equal(t, 30, esta.Bus.CapSeated)
	assert.Equal(t, 20, esta.Bus.CapStanding)
	assert.Equal(t, 0, esta.Bus.Passengers)

	// Bus sits exactly on the third stop; the next five stops
	// follow.
	require.Len(t, esta.Stops, 5)
	assert.Equal(t, int64(4), esta.Stops[0].StopID)
	assert.Equal(t, int64(8), esta.Stops[4].StopID)

	// ~111m to the next stop at 10 m/s.
	first := esta.Stops[0]
	assert.InDelta(t, 111.2, first.EstaDist, 0.5)
	assert.Equal(t, "080031", first.ArrT)
	assert.Equal(t, "080101", first.DepT)
	assert.Equal(t, "20240315080031", first.EstaTime)

	st, _ := f.tracker.States().Get("B1")
	assert.Equal(t, int64(1011), st.CurrentSublineID)
	assert.Equal(t, int64(1011), st.PreviousSublineID)
	assert.Equal(t, int64(1011), st.CachedStops.SublineID)
	assert.Len(t, st.CachedStops.Stops, 8)
}

func TestPipelineDirectionReversal(t *testing.T) {
	f := newPipelineFixture(t)

	f.frame(t, "B1", 101, 0, 0, 10)
	f.frame(t, "B1", 101, 0, 0.001, 10)
	f.frame(t, "B1", 101, 0, 0.002, 10)
	f.capture.clear()

	// Turn around, head west.
	f.frame(t, "B1", 101, 0, 0.0015, 10)
	f.frame(t, "B1", 101, 0, 0.0005, 10)
	f.frame(t, "B1", 101, 0, -0.0005, 10)

	msgs := f.capture.messages()

	// The reversal must surface as close{1011} immediately
	// followed by position{1012} and esta-info{1012}.
	closeIdx := -1
	for i, msg := range msgs {
		if _, ok := msg.(*CloseMessage); ok {
			closeIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, closeIdx, 0, "no close message broadcast")

	cl := msgs[closeIdx].(*CloseMessage)
	assert.Equal(t, int64(1011), cl.RtID)
	assert.Equal(t, 0, cl.Del)
	assert.Equal(t, "0", cl.Pass)
	assert.Equal(t, "-", cl.StopCode)
	assert.Equal(t, "-", cl.StopName)

	// The close carries the previous frame's position and
	// timestamp, not the current one.
	assert.Equal(t, 0.0005, cl.Lng)
	assert.Equal(t, "20240315080040", cl.Upd)

	require.Greater(t, len(msgs), closeIdx+2)
	pos := msgs[closeIdx+1].(*PositionMessage)
	assert.Equal(t, int64(1012), pos.RtID)
	esta := msgs[closeIdx+2].(*EstaInfoMessage)
	assert.Equal(t, int64(1012), esta.RtID)

	// Heading west past the end of the return variant: closest
	// stop is the terminal, nothing upcoming.
	assert.Empty(t, esta.Stops)

	// Exactly one close for a single reversal.
	for _, msg := range msgs[closeIdx+1:] {
		_, isClose := msg.(*CloseMessage)
		assert.False(t, isClose)
	}
}

func TestPipelineMatcherNoneRetainsSubline(t *testing.T) {
	f := newPipelineFixture(t)

	f.frame(t, "B1", 101, 0, 0, 10)
	f.frame(t, "B1", 101, 0, 0.001, 10)
	f.frame(t, "B1", 101, 0, 0.002, 10)
	f.capture.clear()

	// Bus stops dead: no usable heading, matcher returns none,
	// the tracked subline is retained.
	f.frame(t, "B1", 101, 0, 0.002, 0)

	msgs := f.capture.messages()
	require.Len(t, msgs, 2)

	pos := msgs[0].(*PositionMessage)
	assert.Equal(t, int64(1011), pos.RtID)
	assert.Equal(t, 0.0, pos.Vel)

	// Stationary: esta-info still emitted, arrivals unknown.
	esta := msgs[1].(*EstaInfoMessage)
	require.Len(t, esta.Stops, 5)
	for _, stop := range esta.Stops {
		assert.Equal(t, "-", stop.ArrT)
		assert.Equal(t, "-", stop.DepT)
		assert.Equal(t, "-", stop.EstaTime)
		assert.Greater(t, stop.EstaDist, 0.0)
	}
}

func TestPipelineRouteChange(t *testing.T) {
	f := newPipelineFixture(t)

	f.frame(t, "B1", 101, 0, 0, 10)
	f.frame(t, "B1", 101, 0, 0.001, 10)
	f.frame(t, "B1", 101, 0, 0.002, 10)
	require.Len(t, f.capture.messages(), 2)
	f.capture.clear()

	// Driver flips to route 202. Direction state resets and the
	// frame right after the change never runs the matcher.
	f.frame(t, "B1", 202, 0, 0.003, 10)

	assert.Empty(t, f.capture.messages())

	st, _ := f.tracker.States().Get("B1")
	assert.Equal(t, int64(202), st.MainRouteID)
	assert.Equal(t, model.SublineUnknown, st.CurrentSublineID)
	assert.Equal(t, model.SublineUnknown, st.PreviousSublineID)
	assert.Empty(t, st.CachedStops.Stops)

	// Still driving east against a north/south route: no match,
	// no messages.
	f.frame(t, "B1", 202, 0, 0.004, 10)
	assert.Empty(t, f.capture.messages())

	// The bus turns onto the new corridor and heads north;
	// eventually the northbound variant is adopted.
	f.frame(t, "B1", 202, 0.001, 0.004, 10)
	f.frame(t, "B1", 202, 0.002, 0.004, 10)
	f.frame(t, "B1", 202, 0.003, 0.004, 10)
	f.frame(t, "B1", 202, 0.004, 0.004, 10)

	msgs := f.capture.messages()
	require.NotEmpty(t, msgs)
	pos, ok := msgs[0].(*PositionMessage)
	require.True(t, ok)
	assert.Equal(t, int64(2021), pos.RtID)

	// No close: the previous subline was cleared by the route
	// change, not abandoned mid-route.
	for _, msg := range msgs {
		_, isClose := msg.(*CloseMessage)
		assert.False(t, isClose)
	}
}

func TestPipelineStorageFailure(t *testing.T) {
	SetLogger(nil)
	defer SetLogger(log.Printf)

	f := newPipelineFixture(t)
	f.flaky.down = true

	f.frame(t, "B1", 101, 0, 0, 10)
	f.frame(t, "B1", 101, 0, 0.001, 10)
	f.frame(t, "B1", 101, 0, 0.002, 10)

	// Matcher and estimator skipped, but history still commits.
	assert.Empty(t, f.capture.messages())
	st, found := f.tracker.States().Get("B1")
	require.True(t, found)
	assert.Len(t, st.History, 3)
	assert.Equal(t, model.SublineUnknown, st.CurrentSublineID)

	// Storage recovers: the very next frame infers and emits.
	f.flaky.down = false
	f.frame(t, "B1", 101, 0, 0.003, 10)

	msgs := f.capture.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1011), msgs[0].(*PositionMessage).RtID)
}

func TestPipelineBusIsolation(t *testing.T) {
	f := newPipelineFixture(t)

	// Interleave two buses on the same route, opposite
	// directions. Each gets its own state and subline.
	for i := 0; i < 4; i++ {
		f.frame(t, "EAST", 101, 0, float64(i)*0.001, 10)
		f.frame(t, "WEST", 101, 0, 0.01-float64(i)*0.001, 10)
	}

	east, _ := f.tracker.States().Get("EAST")
	west, _ := f.tracker.States().Get("WEST")
	assert.Equal(t, int64(1011), east.CurrentSublineID)
	assert.Equal(t, int64(1012), west.CurrentSublineID)

	// Per-bus FIFO: for each bus, every position precedes its
	// esta-info within a frame and rt_ids never interleave
	// incorrectly.
	for _, msg := range f.capture.messages() {
		switch m := msg.(type) {
		case *PositionMessage:
			assert.Contains(t, []int64{1011, 1012}, m.RtID)
		case *EstaInfoMessage:
			assert.Contains(t, []int64{1011, 1012}, m.RtID)
		}
	}
}

func TestPipelineEvictIdle(t *testing.T) {
	f := newPipelineFixture(t)

	f.frame(t, "B1", 101, 0, 0, 10)
	require.Equal(t, 1, len(f.tracker.States().Snapshot()))

	// Frame timestamps are in the past relative to the wall
	// clock, so a tight idle window evicts immediately.
	evicted := f.tracker.EvictIdle(time.Minute)
	assert.Equal(t, 1, evicted)
	assert.Empty(t, f.tracker.States().Snapshot())
}

func TestPipelineBlankTimestamp(t *testing.T) {
	f := newPipelineFixture(t)

	err := f.tracker.HandleFrame(model.DriverFrame{
		RouteID: 101, BusID: "B1", Lat: 0, Lng: 0, Velocity: 10,
	})
	require.NoError(t, err)

	st, found := f.tracker.States().Get("B1")
	require.True(t, found)
	require.Len(t, st.History, 1)
	assert.WithinDuration(t, time.Now(), st.History[0].Time, time.Minute)
}

func TestPipelineManyBusesConcurrently(t *testing.T) {
	f := newPipelineFixture(t)

	var wg sync.WaitGroup
	for b := 0; b < 6; b++ {
		busID := fmt.Sprintf("B%d", b)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				err := f.tracker.HandleFrame(model.DriverFrame{
					RouteID:   101,
					BusID:     busID,
					Lat:       0,
					Lng:       float64(i) * 0.001,
					Timestamp: testBase.Add(time.Duration(i) * 10 * time.Second).Format(time.RFC3339),
					Velocity:  10,
				})
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	states := f.tracker.States().Snapshot()
	require.Len(t, states, 6)
	for _, st := range states {
		assert.Equal(t, int64(1011), st.CurrentSublineID)
		assert.Len(t, st.History, HistorySize)
	}
}
