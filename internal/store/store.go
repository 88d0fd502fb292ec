// Package store holds the canonical local mirror of a project graph.
//
// Store is the single mutation point for nodes and connections. Local
// edits, job results and remote broadcasts all go through its methods,
// which serialise on one lock and publish an Event after each change.
// Reads always copy the current state at call time, so derived values
// (propagation, readiness) never come from a snapshot captured before an
// intervening mutation.
package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reelgraph/internal/domain"
)

// Store is the in-memory graph for one project
type Store struct {
	mu          sync.RWMutex
	projectID   string
	nodes       []*domain.Node
	index       map[string]*domain.Node
	connections []domain.Connection
	loaded      bool

	bus *EventBus
	log zerolog.Logger
	now func() time.Time
}

// New creates an empty store for a project
func New(projectID string, logger zerolog.Logger) *Store {
	return &Store{
		projectID: projectID,
		index:     make(map[string]*domain.Node),
		bus:       NewEventBus(),
		log:       logger.With().Str("component", "store").Logger(),
		now:       time.Now,
	}
}

// ProjectID returns the project this store mirrors
func (s *Store) ProjectID() string {
	return s.projectID
}

// Subscribe registers for change events
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	return s.bus.Subscribe(buffer)
}

// Notify publishes an event that did not originate from a graph mutation,
// such as resolved inputs or presence changes.
func (s *Store) Notify(event Event) {
	s.bus.Publish(event)
}

// Load replaces the whole graph. Connections whose endpoints are missing
// or whose input slot is already taken are dropped.
func (s *Store) Load(nodes []domain.Node, conns []domain.Connection) {
	s.mu.Lock()
	s.nodes = make([]*domain.Node, 0, len(nodes))
	s.index = make(map[string]*domain.Node, len(nodes))
	for _, n := range nodes {
		c := n.Clone()
		if c.Status == "" {
			c.Status = domain.NodeStatusIdle
		}
		s.nodes = append(s.nodes, &c)
		s.index[c.ID] = &c
	}

	s.connections = make([]domain.Connection, 0, len(conns))
	for _, c := range conns {
		if reason := s.rejectConnection(c); reason != "" {
			s.log.Warn().Str("connection_id", c.ID).Str("reason", reason).Msg("Dropping connection on load")
			continue
		}
		s.connections = append(s.connections, c)
	}
	s.loaded = true
	counts := map[string]int{"nodes": len(s.nodes), "connections": len(s.connections)}
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventGraphLoaded, Payload: counts})
}

// Loaded reports whether Load has been called
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Snapshot returns a deep copy of the current graph
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		ProjectID:   s.projectID,
		Nodes:       make([]domain.Node, len(s.nodes)),
		Connections: make([]domain.Connection, len(s.connections)),
	}
	for i, n := range s.nodes {
		snap.Nodes[i] = n.Clone()
	}
	copy(snap.Connections, s.connections)
	return snap
}

// Node returns a copy of a single node
func (s *Store) Node(id string) (domain.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.index[id]
	if !ok {
		return domain.Node{}, false
	}
	return n.Clone(), true
}

// Connection returns a single connection
func (s *Store) Connection(id string) (domain.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.connections {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Connection{}, false
}

// NodesWithStatus returns copies of nodes currently in the given status
func (s *Store) NodesWithStatus(status domain.NodeStatus) []domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Node
	for _, n := range s.nodes {
		if n.Status == status {
			out = append(out, n.Clone())
		}
	}
	return out
}

// BranchGroups derives the explicit branch groups from the current nodes
func (s *Store) BranchGroups() []domain.BranchGroup {
	return domain.DeriveBranchGroups(s.Snapshot().Nodes)
}

// ApplyLocalNodeCreate inserts a node, or replaces it if a remote
// broadcast already delivered it.
func (s *Store) ApplyLocalNodeCreate(node domain.Node) {
	s.upsertNode(node)
}

// ApplyLocalNodeUpdate runs fn against the live node under the store lock.
// It returns false, without calling fn, if the node no longer exists.
func (s *Store) ApplyLocalNodeUpdate(id string, fn func(n *domain.Node)) bool {
	s.mu.Lock()
	n, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(n)
	n.UpdatedAt = s.now()
	out := n.Clone()
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventNodeUpdated, NodeID: id, Payload: out})
	return true
}

// ApplyLocalNodeDelete removes a node and every connection touching it
func (s *Store) ApplyLocalNodeDelete(id string) bool {
	return s.deleteNode(id)
}

// MergeNodeData shallow-merges patch into a node's data
func (s *Store) MergeNodeData(id string, patch map[string]any) bool {
	return s.ApplyLocalNodeUpdate(id, func(n *domain.Node) {
		n.MergeData(patch)
	})
}

// SetNodePosition moves a node
func (s *Store) SetNodePosition(id string, pos domain.Position) bool {
	return s.ApplyLocalNodeUpdate(id, func(n *domain.Node) {
		n.Position = pos
	})
}

// SetNodeStatus sets the status and error message of a node
func (s *Store) SetNodeStatus(id string, status domain.NodeStatus, message string) bool {
	return s.ApplyLocalNodeUpdate(id, func(n *domain.Node) {
		n.Status = status
		n.ErrorMessage = message
	})
}

// ApplyLocalConnectionCreate appends a connection. It refuses connections
// whose endpoints are missing, whose ID already exists or whose input
// slot is occupied, returning false.
func (s *Store) ApplyLocalConnectionCreate(conn domain.Connection) bool {
	s.mu.Lock()
	if reason := s.rejectConnection(conn); reason != "" {
		s.mu.Unlock()
		s.log.Debug().Str("connection_id", conn.ID).Str("reason", reason).Msg("Connection not applied")
		return false
	}
	s.connections = append(s.connections, conn)
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventConnectionCreated, NodeID: conn.TargetNodeID, Payload: conn})
	return true
}

// ApplyLocalConnectionDelete removes a connection by ID
func (s *Store) ApplyLocalConnectionDelete(id string) (domain.Connection, bool) {
	s.mu.Lock()
	idx := -1
	for i, c := range s.connections {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return domain.Connection{}, false
	}
	removed := s.connections[idx]
	s.connections = append(s.connections[:idx], s.connections[idx+1:]...)
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventConnectionDeleted, NodeID: removed.TargetNodeID, Payload: removed})
	return removed, true
}

func (s *Store) upsertNode(node domain.Node) {
	c := node.Clone()
	if c.Status == "" {
		c.Status = domain.NodeStatusIdle
	}

	s.mu.Lock()
	eventType := EventNodeCreated
	if existing, ok := s.index[c.ID]; ok {
		*existing = c
		eventType = EventNodeUpdated
	} else {
		s.nodes = append(s.nodes, &c)
		s.index[c.ID] = &c
	}
	s.mu.Unlock()

	s.bus.Publish(Event{Type: eventType, NodeID: c.ID, Payload: c.Clone()})
}

func (s *Store) deleteNode(id string) bool {
	s.mu.Lock()
	if _, ok := s.index[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.index, id)
	for i, n := range s.nodes {
		if n.ID == id {
			s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
			break
		}
	}

	var removed []domain.Connection
	kept := s.connections[:0]
	for _, c := range s.connections {
		if c.Involves(id) {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	s.connections = kept
	s.mu.Unlock()

	for _, c := range removed {
		s.bus.Publish(Event{Type: EventConnectionDeleted, NodeID: c.TargetNodeID, Payload: c})
	}
	s.bus.Publish(Event{Type: EventNodeDeleted, NodeID: id})
	return true
}

// rejectConnection returns a non-empty reason if conn cannot be added.
// Callers must hold the write lock.
func (s *Store) rejectConnection(conn domain.Connection) string {
	if conn.SourceNodeID == conn.TargetNodeID {
		return domain.MsgSelfLoop
	}
	if _, ok := s.index[conn.SourceNodeID]; !ok {
		return domain.MsgMissingEndpoint
	}
	if _, ok := s.index[conn.TargetNodeID]; !ok {
		return domain.MsgMissingEndpoint
	}
	for _, c := range s.connections {
		if c.ID == conn.ID {
			return domain.MsgDuplicate
		}
		if c.Slot() == conn.Slot() {
			return domain.MsgHandleOccupied
		}
	}
	return ""
}
