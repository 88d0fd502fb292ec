// Package hub streams store events to local renderers over Server-Sent Events.
//
// Every message carries an increasing id and is named after its event type,
// so a renderer can attach one listener per type. A client that connects
// after the graph is loaded receives a graph_loaded message with the current
// snapshot first, then the live stream.
package hub

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"reelgraph/internal/store"
)

// KeepAliveInterval is how often idle streams receive a comment line
const KeepAliveInterval = 30 * time.Second

// SnapshotFunc returns the payload of the greeting sent to new clients
type SnapshotFunc func() any

type client struct {
	id     string
	events chan []byte
}

// Hub fans store events out to SSE clients
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	seq     uint64

	join     chan *client
	leave    chan *client
	outgoing chan store.Event
	done     chan struct{}

	snapshot SnapshotFunc
	log      zerolog.Logger
}

// New creates a new Hub. snapshot may be nil, in which case new clients
// only receive live events.
func New(logger zerolog.Logger, snapshot SnapshotFunc) *Hub {
	return &Hub{
		clients:  make(map[string]*client),
		join:     make(chan *client),
		leave:    make(chan *client),
		outgoing: make(chan store.Event, 256),
		done:     make(chan struct{}),
		snapshot: snapshot,
		log:      logger.With().Str("component", "hub").Logger(),
	}
}

// Run owns the client set until ctx is cancelled, then closes every
// open stream.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.join:
			h.mu.Lock()
			h.clients[c.id] = c
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Str("client", c.id).Int("total", total).Msg("SSE client connected")
		case c := <-h.leave:
			h.drop(c)
		case ev := <-h.outgoing:
			h.deliver(ev)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.events)
	}
	h.mu.Unlock()
	close(h.done)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.events)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("client", c.id).Int("total", total).Msg("SSE client disconnected")
}

func (h *Hub) deliver(ev store.Event) {
	h.seq++
	msg, err := encode(h.seq, ev)
	if err != nil {
		h.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.events <- msg:
		default:
			h.log.Debug().Str("client", c.id).Str("type", string(ev.Type)).Msg("SSE client is slow, skipping message")
		}
	}
}

// Forward broadcasts every event from a store subscription until the
// channel closes or ctx is cancelled.
func (h *Hub) Forward(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// Broadcast queues an event for all connected clients
func (h *Hub) Broadcast(ev store.Event) {
	select {
	case h.outgoing <- ev:
	default:
		h.log.Warn().Str("type", string(ev.Type)).Msg("Broadcast queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// encode renders one SSE message. An id of zero is omitted.
func encode(id uint64, ev store.Event) ([]byte, error) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, data)), nil
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, ev.Type, data)), nil
}

// ServeHTTP streams events to one client until it disconnects or the hub stops
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	c := &client{id: uuid.NewString(), events: make(chan []byte, 64)}
	select {
	case h.join <- c:
	case <-h.done:
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}
	defer func() {
		select {
		case h.leave <- c:
		case <-h.done:
		}
	}()

	fmt.Fprint(w, ": connected\n\n")
	if h.snapshot != nil {
		greeting, err := encode(0, store.Event{Type: store.EventGraphLoaded, Payload: h.snapshot()})
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to marshal snapshot")
		} else if _, err := w.Write(greeting); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case msg, ok := <-c.events:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
		flusher.Flush()
	}
}
