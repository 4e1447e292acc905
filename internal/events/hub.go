// Package events is the in-process feed of delivery activity behind the SSE
// stream and the monitor.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the data plane.
const (
	TypeDeliveryQueued    = "delivery.queued"
	TypeDeliveryAttempted = "delivery.attempted"
	TypeDeliveryAbandoned = "delivery.abandoned"
	TypeWebhookDisabled   = "webhook.auto_disabled"
)

type Event struct {
	ID     int64           `json:"id"`
	Tenant string          `json:"tenant"`
	Type   string          `json:"type"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}

// Sink receives every published event after subscribers. Forward must not block.
type Sink interface {
	Forward(Event)
}

type subscriber struct {
	tenant string
	ch     chan Event
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]subscriber
	nextSubID int
	sinks     []Sink
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscriber),
	}
}

// AddSink registers s to receive all events.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
}

func (h *Hub) Publish(tenant, eventType string, data any) {
	id := h.nextID.Add(1)

	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:     id,
		Tenant: tenant,
		Type:   eventType,
		At:     time.Now().UTC(),
		Data:   payload,
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, sub := range h.subs {
		if sub.tenant != "" && sub.tenant != tenant {
			continue
		}
		// Don't let slow clients block producers.
		select {
		case sub.ch <- ev:
		default:
		}
	}
	sinks := h.sinks
	h.mu.Unlock()

	for _, s := range sinks {
		s.Forward(ev)
	}
}

// Subscribe returns a channel of events for tenant. An empty tenant sees
// every tenant's events.
func (h *Hub) Subscribe(tenant string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = subscriber{tenant: tenant, ch: ch}

	cancel := func() {
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events for tenant with ID > lastID,
// oldest-first. If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(tenant string, lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if tenant != "" && ev.Tenant != tenant {
			continue
		}
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
