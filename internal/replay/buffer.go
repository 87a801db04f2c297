package replay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/streamweaver-io/streamweaver/internal/events"
)

// Buffer is a fixed-capacity ring of the most recent events for one session,
// indexed by event ID so a reconnecting client can resume from its
// Last-Event-ID in O(1).
type Buffer struct {
	mu      sync.Mutex
	entries []entry
	start   int
	count   int
	index   map[string]uint64 // event ID -> logical position
	nextPos uint64
}

type entry struct {
	ev  events.Event
	pos uint64
}

// NewBuffer creates a buffer retaining at most capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		entries: make([]entry, capacity),
		index:   make(map[string]uint64),
	}
}

// Add appends an event, evicting the oldest event and its index entry
// together once the ring is full. Positions are assigned from a counter that
// is never reset, so a stale ID can never collide with a future one.
func (b *Buffer) Add(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.entries) {
		oldest := b.entries[b.start]
		delete(b.index, oldest.ev.ID)
		b.entries[b.start] = entry{ev: ev, pos: b.nextPos}
		b.start = (b.start + 1) % len(b.entries)
	} else {
		b.entries[(b.start+b.count)%len(b.entries)] = entry{ev: ev, pos: b.nextPos}
		b.count++
	}
	b.index[ev.ID] = b.nextPos
	b.nextPos++
}

// EventsAfter returns the buffered events strictly newer than lastEventID in
// insertion order. An unknown ID (evicted, cleared, or never seen) yields
// nil.
func (b *Buffer) EventsAfter(lastEventID string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	target, ok := b.index[lastEventID]
	if !ok {
		return nil
	}

	out := []events.Event{}
	for i := 0; i < b.count; i++ {
		e := b.entries[(b.start+i)%len(b.entries)]
		if e.pos > target {
			out = append(out, e.ev)
		}
	}
	return out
}

// All returns every buffered event in insertion order.
func (b *Buffer) All() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]events.Event, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.entries[(b.start+i)%len(b.entries)].ev)
	}
	return out
}

// LatestEventID returns the ID of the most recent event, or "" when empty.
func (b *Buffer) LatestEventID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return ""
	}
	return b.entries[(b.start+b.count-1)%len(b.entries)].ev.ID
}

// Clear drops all buffered events and index entries, returning how many were
// dropped. The position counter is deliberately left intact.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	b.start = 0
	b.count = 0
	b.index = make(map[string]uint64)
	return n
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the maximum number of retained events.
func (b *Buffer) Capacity() int { return len(b.entries) }

// SessionBuffers holds one replay Buffer per session behind a single mutex;
// only creation and removal contend on it.
type SessionBuffers struct {
	mu         sync.Mutex
	buffers    map[string]*Buffer
	bufferSize int
	logger     *zap.Logger
}

// NewSessionBuffers creates the per-session buffer collection.
func NewSessionBuffers(bufferSize int, logger *zap.Logger) *SessionBuffers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionBuffers{
		buffers:    make(map[string]*Buffer),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

func (s *SessionBuffers) getOrCreate(sessionID string) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[sessionID]
	if !ok {
		b = NewBuffer(s.bufferSize)
		s.buffers[sessionID] = b
		s.logger.Debug("Created event buffer", zap.String("session_id", sessionID))
	}
	return b
}

// Add records an event into the session's buffer, creating it on first use.
func (s *SessionBuffers) Add(sessionID string, ev events.Event) {
	s.getOrCreate(sessionID).Add(ev)
}

// EventsAfter returns the session's events newer than lastEventID, or nil if
// the session has no buffer or the ID is unknown.
func (s *SessionBuffers) EventsAfter(sessionID, lastEventID string) []events.Event {
	s.mu.Lock()
	b := s.buffers[sessionID]
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	evs := b.EventsAfter(lastEventID)
	if evs == nil {
		s.logger.Warn("Last-Event-ID not in buffer",
			zap.String("session_id", sessionID),
			zap.String("last_event_id", lastEventID))
	}
	return evs
}

// LatestEventID returns the most recent buffered event ID for the session.
func (s *SessionBuffers) LatestEventID(sessionID string) string {
	s.mu.Lock()
	b := s.buffers[sessionID]
	s.mu.Unlock()
	if b == nil {
		return ""
	}
	return b.LatestEventID()
}

// ClearSession removes the session's buffer entirely, returning how many
// events it held.
func (s *SessionBuffers) ClearSession(sessionID string) int {
	s.mu.Lock()
	b := s.buffers[sessionID]
	delete(s.buffers, sessionID)
	s.mu.Unlock()
	if b == nil {
		return 0
	}
	return b.Clear()
}

// Stats reports the session buffer's size and capacity.
func (s *SessionBuffers) Stats(sessionID string) (size, maxSize int) {
	s.mu.Lock()
	b := s.buffers[sessionID]
	s.mu.Unlock()
	if b == nil {
		return 0, s.bufferSize
	}
	return b.Len(), b.Capacity()
}

// SessionCount returns the number of sessions with a live buffer.
func (s *SessionBuffers) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}
