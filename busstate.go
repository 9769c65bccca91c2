package tracker

import (
	"sync"
	"time"

	"daladala.dev/tracker/model"
)

// CachedStops pins the ordered stop list of the subline a bus is
// currently tracked on, so the estimator doesn't hit the catalog on
// every frame. Invariant: SublineID matches the bus's current subline
// whenever Stops is populated.
type CachedStops struct {
	SublineID int64
	Stops     []model.Stop
}

// BusState is everything the pipeline remembers about one bus. State
// is in-memory and ephemeral; it is rebuilt from scratch after a
// restart.
type BusState struct {
	BusID             string
	MainRouteID       int64
	CurrentSublineID  int64
	PreviousSublineID int64
	History           []model.Sample // newest last, at most HistorySize
	LastVelocity      float64        // m/s, as reported by the driver
	CachedStops       CachedStops
	LastSeen          time.Time
}

// pushSample appends a sample to the history ring, dropping the
// oldest entries beyond HistorySize.
func (st *BusState) pushSample(s model.Sample) {
	st.History = append(st.History, s)
	if len(st.History) > HistorySize {
		st.History = st.History[len(st.History)-HistorySize:]
	}
}

// resetRoute clears all inferred direction state when the driver
// switches main route. History is kept; it still describes where the
// bus physically is.
func (st *BusState) resetRoute(mainRouteID int64) {
	st.MainRouteID = mainRouteID
	st.CurrentSublineID = model.SublineUnknown
	st.PreviousSublineID = model.SublineUnknown
	st.CachedStops = CachedStops{}
}

// StateStore maps bus id to state. Mutations run under a per-bus
// lock, so two frames for the same bus serialize while distinct buses
// proceed in parallel.
type StateStore struct {
	mu    sync.RWMutex
	slots map[string]*busSlot
}

type busSlot struct {
	mu    sync.Mutex
	state BusState
}

func NewStateStore() *StateStore {
	return &StateStore{slots: map[string]*busSlot{}}
}

func (s *StateStore) slot(busID string) *busSlot {
	s.mu.RLock()
	sl, found := s.slots[busID]
	s.mu.RUnlock()
	if found {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, found = s.slots[busID]; found {
		return sl
	}
	sl = &busSlot{state: BusState{BusID: busID}}
	s.slots[busID] = sl
	return sl
}

// Update runs fn on the bus's state under its per-bus lock, creating
// the state on first use. fn sees and mutates the authoritative
// state.
func (s *StateStore) Update(busID string, fn func(*BusState)) {
	sl := s.slot(busID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	fn(&sl.state)
}

// Get returns a copy of a bus's state.
func (s *StateStore) Get(busID string) (BusState, bool) {
	s.mu.RLock()
	sl, found := s.slots[busID]
	s.mu.RUnlock()
	if !found {
		return BusState{}, false
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return copyState(&sl.state), true
}

// Snapshot returns a copy of every tracked bus state. Each state is
// copied under its own lock, so no field tearing is observable, but
// the snapshot as a whole is not a point-in-time view across buses.
func (s *StateStore) Snapshot() []BusState {
	s.mu.RLock()
	slots := make([]*busSlot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	states := make([]BusState, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		states = append(states, copyState(&sl.state))
		sl.mu.Unlock()
	}
	return states
}

// EvictIdle drops buses not seen since the cutoff. A bus mid-frame
// holds its slot lock and cannot be evicted until the pass completes.
// Returns the number of evicted states.
func (s *StateStore) EvictIdle(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for busID, sl := range s.slots {
		sl.mu.Lock()
		idle := sl.state.LastSeen.Before(cutoff)
		sl.mu.Unlock()
		if idle {
			delete(s.slots, busID)
			evicted++
		}
	}
	return evicted
}

func copyState(st *BusState) BusState {
	out := *st
	out.History = append([]model.Sample{}, st.History...)
	out.CachedStops.Stops = append([]model.Stop{}, st.CachedStops.Stops...)
	return out
}
