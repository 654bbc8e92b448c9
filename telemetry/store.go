package telemetry

import (
	"sync"
	"time"

	"github.com/alexandrut83/minerstats/clock"
)

// GPURecord is the latest hash rate reported for one device
type GPURecord struct {
	Name       string
	HashrateMH float64
}

// Snapshot is a point-in-time copy of the store contents
type Snapshot struct {
	TotalMH    *float64
	GPUs       map[int]GPURecord
	LastUpdate time.Time // zero until the first recognized line
}

// Store holds the latest telemetry parsed from the miner log. It has a
// single writer (the Follower) and any number of readers.
type Store struct {
	mu         sync.RWMutex
	clock      clock.Clock
	totalMH    *float64
	gpus       map[int]GPURecord
	lastUpdate time.Time

	subMu       sync.Mutex
	subscribers map[int]chan struct{}
	nextSubID   int
}

// NewStore creates an empty store
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		clock:       clk,
		gpus:        make(map[int]GPURecord),
		subscribers: make(map[int]chan struct{}),
	}
}

// Apply records a parsed event. A TotalUpdate replaces the aggregate
// rate and drops every per-GPU record, since the miner reports devices
// again after each total.
func (s *Store) Apply(ev Event) {
	s.mu.Lock()
	switch e := ev.(type) {
	case TotalUpdate:
		rate := e.RateMH
		s.totalMH = &rate
		s.gpus = make(map[int]GPURecord)
	case GPUUpdate:
		s.gpus[e.ID] = GPURecord{Name: e.Name, HashrateMH: e.RateMH}
	default:
		s.mu.Unlock()
		return
	}
	s.lastUpdate = s.clock.Now()
	s.mu.Unlock()

	s.notify()
}

// ApplyLine parses line and applies the resulting event, if any. It
// reports whether the line was recognized.
func (s *Store) ApplyLine(line string) bool {
	ev, ok := ParseLine(line)
	if !ok {
		return false
	}
	s.Apply(ev)
	return true
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		GPUs:       make(map[int]GPURecord, len(s.gpus)),
		LastUpdate: s.lastUpdate,
	}
	if s.totalMH != nil {
		total := *s.totalMH
		snap.TotalMH = &total
	}
	for id, rec := range s.gpus {
		snap.GPUs[id] = rec
	}
	return snap
}

// Subscribe returns a channel that receives a signal after each applied
// event. Signals are coalesced: a slow reader sees one pending signal,
// not one per event. The returned func releases the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan struct{}, 1)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
