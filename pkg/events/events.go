package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type identifies the kind of event published by the core.
type Type string

const (
	TypeConnectionStateChanged Type = "connection_state_changed"
	TypeJobProgress            Type = "job_progress"
	TypeJobCompleted           Type = "job_completed"
	TypeJobFailed              Type = "job_failed"
	TypeDiskSpaceWarning       Type = "disk_space_warning"
)

// Event is one notification from the core to the front end.
type Event struct {
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event. Progress consumers must treat the
// stream as best-effort and read snapshots for authoritative state.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given buffer size. The
// returned cancel func must be called to release the subscription.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers evt to every subscriber that has buffer room.
func (b *Bus) Publish(eventType Type, payload any) {
	evt := Event{Type: eventType, Time: time.Now(), Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			zap.S().Debugw("event dropped for slow subscriber", "subscriber", id, "type", eventType)
		}
	}
}
