// Package telemetry implements the Telemetry Bus (spec §4.9): an
// in-process, single-producer-multi-consumer fan-out of structured
// events with a bounded buffer that drops the oldest event on overflow.
package telemetry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/AlfredDev/aigw/backend"
)

// Kind enumerates the telemetry event kinds (spec §6.4).
type Kind string

const (
	KindDispatchStarted   Kind = "DispatchStarted"
	KindDispatchCompleted Kind = "DispatchCompleted"
	KindFallbackTaken     Kind = "FallbackTaken"
	KindCircuitTripped    Kind = "CircuitTripped"
	KindQuotaExhausted    Kind = "QuotaExhausted"
	KindSnapshotTaken     Kind = "SnapshotTaken"
)

// Event is the tagged record published on the bus. Kind-specific fields
// are optional depending on Kind; unused fields stay zero-valued.
type Event struct {
	Kind             Kind
	BackendID        string
	Category         backend.TaskCategory
	TimestampMillis  int64

	RequestID      string
	Priority       int
	Success        bool
	InputUnits     int64
	OutputUnits    int64
	Cost           float64
	ResponseTimeMs float64
	UsedFreeQuota  bool

	FromBackend string
	ErrorKind   backend.FailureKind

	FromState     string
	ToState       string
	Reason        string

	Window         string
	NextResetMillis int64

	SchemaVersion uint32
	SizeBytes     int
}

// NewRequestID generates a request identifier for correlating the events
// of one Submit call.
func NewRequestID() string {
	return uuid.NewString()
}

// Subscriber receives published events in publication order. It must
// treat Event as read-only and must not block for long; the bus calls
// subscribers synchronously during Publish.
type Subscriber func(Event)

// Bus is a bounded-buffer event fan-out. The zero value is not usable;
// construct with New.
type Bus struct {
	mu          sync.Mutex
	buf         []Event
	capacity    int
	head        int
	count       int
	dropped     int64
	subscribers []Subscriber
}

// New creates a Bus with the given bounded capacity (spec §6.5
// telemetry_buffer, default 1024).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Bus{buf: make([]Event, capacity), capacity: capacity}
}

// Subscribe attaches a consumer. Subscribers should be attached at
// startup; a subscriber added after events have been published only
// sees subsequent events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish appends ev to the bounded buffer, dropping the oldest
// buffered event if full, then fans it out to every subscriber in
// publication order. Publish never waits for buffer space; it returns once
// every subscriber has run.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.count == b.capacity {
		b.head = (b.head + 1) % b.capacity
		b.dropped++
	} else {
		b.count++
	}
	idx := (b.head + b.count - 1) % b.capacity
	b.buf[idx] = ev
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, s := range subs {
		s(ev)
	}
}

// Dropped returns the count of events evicted due to overflow.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Buffered returns a value-copy of every event currently held in the
// ring buffer, oldest first.
func (b *Bus) Buffered() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.buf[(b.head+i)%b.capacity]
	}
	return out
}
