package store

import "sync"

// EventType defines the type of event
type EventType string

const (
	EventGraphLoaded       EventType = "graph_loaded"
	EventNodeCreated       EventType = "node_created"
	EventNodeUpdated       EventType = "node_updated"
	EventNodeDeleted       EventType = "node_deleted"
	EventConnectionCreated EventType = "connection_created"
	EventConnectionDeleted EventType = "connection_deleted"
	EventInputsResolved    EventType = "inputs_resolved"
	EventJobFinished       EventType = "job_finished"
	EventPresenceChanged   EventType = "presence_changed"
	EventChannelState      EventType = "channel_state"
)

// Event is a change notification published after the store is mutated
type Event struct {
	Type    EventType `json:"type"`
	NodeID  string    `json:"node_id,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// EventBus fans events out to subscribers without blocking the publisher
type EventBus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]chan Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[int]chan Event)}
}

// Subscribe returns a channel receiving events and a cancel func that
// closes it. Slow subscribers miss events rather than stall the store.
func (eb *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan Event, buffer)
	eb.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.subscribers, id)
			eb.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
