// Package events is an in-memory pub/sub for job lifecycle notifications,
// with a small ring buffer so late subscribers can catch up.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher, scheduler and manager.
const (
	JobEnqueued      = "job.enqueued"
	JobStarted       = "job.started"
	JobSucceeded     = "job.succeeded"
	JobFailed        = "job.failed"
	JobRejected      = "job.rejected"
	WorkerRegistered = "worker.registered"
	ConstraintReset  = "constraint.reset"
	SchedulerTick    = "scheduler.tick"
)

const (
	defaultCapacity   = 100
	subscriberBacklog = 128
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type Hub struct {
	nextID atomic.Int64

	mu   sync.Mutex
	ring []Event
	head int
	size int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event and fans it out. A nil Hub drops the event, so
// components can run without one.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}

	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.push(ev)
	for _, ch := range h.subs {
		// Slow subscribers miss events rather than stall the dispatcher.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of new events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, subscriberBacklog)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.head+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// push must be called with mu held; it overwrites the oldest event when full.
func (h *Hub) push(ev Event) {
	n := len(h.ring)
	if h.size < n {
		h.ring[(h.head+h.size)%n] = ev
		h.size++
		return
	}
	h.ring[h.head] = ev
	h.head = (h.head + 1) % n
}
