package presence

import (
	"sort"
	"sync"
	"time"
)

// Store holds the last-known state of every device that has reported.
//
// Records are created lazily on the first status or data event and are
// never removed. A coarse RWMutex guards the device map; each record has
// its own mutex so writes for one device do not block reads of another.
//
// The Event Router is the only writer. Everything else reads snapshots.
type Store struct {
	mu      sync.RWMutex
	devices map[string]*record

	historySize int
	ttl         time.Duration
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithHistorySize bounds the number of readings kept per device.
func WithHistorySize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithTTL sets the default online window used by Get and GetAll.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock, for tests that simulate time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		devices:     make(map[string]*record),
		historySize: DefaultHistorySize,
		ttl:         DefaultTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the default online window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// RecordStatus replaces the device's last status and refreshes LastSeen.
// The store takes ownership of status.
func (s *Store) RecordStatus(deviceID string, status map[string]any) {
	rec := s.getOrCreate(deviceID)
	now := s.now()

	rec.mu.Lock()
	rec.lastStatus = status
	rec.lastSeen = now
	rec.mu.Unlock()
}

// RecordReading appends a reading to the device's history, evicting the
// oldest entry once the history is full, and refreshes LastSeen.
// The store takes ownership of values.
func (s *Store) RecordReading(deviceID string, values map[string]any) SensorReading {
	rec := s.getOrCreate(deviceID)
	reading := SensorReading{ReceivedAt: s.now(), Values: values}

	rec.mu.Lock()
	rec.history.push(reading)
	rec.lastSeen = reading.ReceivedAt
	rec.mu.Unlock()

	return reading
}

// Get returns a snapshot of one device, with Online evaluated against the
// store's default TTL.
func (s *Store) Get(deviceID string) (DeviceState, bool) {
	s.mu.RLock()
	rec, ok := s.devices[deviceID]
	s.mu.RUnlock()
	if !ok {
		return DeviceState{}, false
	}
	return rec.snapshot(s.now(), s.ttl), true
}

// GetAll returns snapshots of every known device keyed by id.
func (s *Store) GetAll() map[string]DeviceState {
	return s.collect(s.ttl, false)
}

// GetOnline returns snapshots of devices seen within ttl.
// A non-positive ttl uses the store default.
func (s *Store) GetOnline(ttl time.Duration) map[string]DeviceState {
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.collect(ttl, true)
}

// IsOnline reports whether the device has been seen within ttl.
// Unknown devices are offline. A non-positive ttl uses the store default.
func (s *Store) IsOnline(deviceID string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.ttl
	}
	s.mu.RLock()
	rec, ok := s.devices[deviceID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	rec.mu.Lock()
	lastSeen := rec.lastSeen
	rec.mu.Unlock()
	return isOnline(lastSeen, s.now(), ttl)
}

// Known reports whether the device has ever reported.
func (s *Store) Known(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[deviceID]
	return ok
}

// Count returns the number of known devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// DeviceIDs returns all known device ids in sorted order.
func (s *Store) DeviceIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (s *Store) collect(ttl time.Duration, onlineOnly bool) map[string]DeviceState {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.devices))
	for _, rec := range s.devices {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	now := s.now()
	out := make(map[string]DeviceState, len(recs))
	for _, rec := range recs {
		snap := rec.snapshot(now, ttl)
		if onlineOnly && !snap.Online {
			continue
		}
		out[snap.DeviceID] = snap
	}
	return out
}

func (s *Store) getOrCreate(deviceID string) *record {
	s.mu.RLock()
	rec, ok := s.devices[deviceID]
	s.mu.RUnlock()
	if ok {
		return rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok = s.devices[deviceID]; ok {
		return rec
	}
	rec = &record{
		deviceID: deviceID,
		history:  newRing(s.historySize),
	}
	s.devices[deviceID] = rec
	return rec
}

// isOnline applies the presence rule: now - lastSeen <= ttl.
func isOnline(lastSeen, now time.Time, ttl time.Duration) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) <= ttl
}

// record is the mutable per-device state.
type record struct {
	mu         sync.Mutex
	deviceID   string
	lastStatus map[string]any
	history    *ring
	lastSeen   time.Time
}

func (r *record) snapshot(now time.Time, ttl time.Duration) DeviceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	readings := r.history.items()
	for i := range readings {
		readings[i].Values = deepCopyMap(readings[i].Values)
	}

	return DeviceState{
		DeviceID:      r.deviceID,
		LastStatus:    deepCopyMap(r.lastStatus),
		SensorHistory: readings,
		LastSeen:      r.lastSeen,
		Online:        isOnline(r.lastSeen, now, ttl),
	}
}

// ring is a fixed-capacity FIFO of readings; pushing onto a full ring
// overwrites the oldest entry.
type ring struct {
	buf   []SensorReading
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]SensorReading, capacity)}
}

func (r *ring) push(v SensorReading) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// items returns the contents oldest first.
func (r *ring) items() []SensorReading {
	out := make([]SensorReading, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
