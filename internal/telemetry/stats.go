// Package telemetry holds the engine's optional counters and recent-event
// ring, kept separate from internal/engine so a caller who never asks for
// telemetry pays nothing for it beyond a nil check.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/kelindar/binary"
)

// Stats mirrors the original engine's counter set: messages and bytes sent
// and received, updated with relaxed atomics from the completion loop.
type Stats struct {
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
}

// New returns a zeroed Stats ready to be passed into engine.Config.
func New() *Stats {
	return &Stats{}
}

// RecordSend accounts for one completed write of the given size.
func (s *Stats) RecordSend(bytes uint64) {
	s.messagesSent.Add(1)
	s.bytesSent.Add(bytes)
}

// RecordReceive accounts for one completed read of the given size.
func (s *Stats) RecordReceive(bytes uint64) {
	s.messagesReceived.Add(1)
	s.bytesReceived.Add(bytes)
}

// Snapshot is a point-in-time copy of Stats suitable for logging or export.
type Snapshot struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		MessagesSent:     s.messagesSent.Load(),
		MessagesReceived: s.messagesReceived.Load(),
		BytesSent:        s.bytesSent.Load(),
		BytesReceived:    s.bytesReceived.Load(),
	}
}

// Marshal encodes a snapshot compactly for export or logging.
func (sn Snapshot) Marshal() ([]byte, error) {
	return binary.Marshal(sn)
}

// UnmarshalSnapshot decodes a snapshot previously produced by Marshal.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var sn Snapshot
	if err := binary.Unmarshal(data, &sn); err != nil {
		return Snapshot{}, err
	}
	return sn, nil
}

// Event is one recorded read, write, or error, kept for the recent-events
// ring so diagnostics tooling can show what the engine has been doing
// without wiring up a full log sink.
type Event struct {
	Kind      string
	Bytes     int
	Errno     int
	Timestamp time.Time
}

// Recent is a bounded ring of the most recent I/O events, backed by
// eapache/queue the same way a reactor batches pending work items.
type Recent struct {
	mu    sync.Mutex
	cap   int
	items *queue.Queue
}

// NewRecent returns a ring that retains at most capacity events.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = 64
	}
	return &Recent{
		cap:   capacity,
		items: queue.New(),
	}
}

// Push records an event, evicting the oldest once the ring is at capacity.
func (r *Recent) Push(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items.Add(ev)
	for r.items.Length() > r.cap {
		r.items.Remove()
	}
}

// Snapshot returns the currently retained events, oldest first.
func (r *Recent) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, r.items.Length())
	for i := range out {
		out[i] = r.items.Get(i).(Event)
	}
	return out
}
