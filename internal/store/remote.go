package store

import (
	"reelgraph/internal/domain"
)

// RemoteKind is the update_type carried by a node_update broadcast
type RemoteKind string

const (
	RemoteCreated RemoteKind = "created"
	RemoteUpdated RemoteKind = "updated"
	RemoteDeleted RemoteKind = "deleted"
)

// NodePatch is the subset of node fields present in a broadcast. Nil
// fields were not sent and leave the local value untouched.
type NodePatch struct {
	Type         *domain.NodeType
	Position     *domain.Position
	Data         map[string]any
	Status       *domain.NodeStatus
	ErrorMessage *string
}

// RemoteNodeEvent is an authoritative node change made by another session
// or by the backend itself.
type RemoteNodeEvent struct {
	Kind   RemoteKind
	NodeID string
	Patch  NodePatch
}

// RemoteConnectionEvent is an authoritative connection change. Created
// events may arrive without the connection body.
type RemoteConnectionEvent struct {
	Created      bool
	ConnectionID string
	Connection   *domain.Connection
}

// ApplyRemoteNodeEvent applies a broadcast node change. Deletes remove the
// node and every touching connection; updates shallow-merge data and take
// any other field that was sent. Updates for unknown nodes are ignored.
func (s *Store) ApplyRemoteNodeEvent(ev RemoteNodeEvent) bool {
	switch ev.Kind {
	case RemoteDeleted:
		return s.deleteNode(ev.NodeID)

	case RemoteCreated:
		s.applyRemoteCreate(ev.NodeID, ev.Patch)
		return true

	case RemoteUpdated:
		return s.applyPatch(ev.NodeID, ev.Patch)
	}

	s.log.Warn().Str("kind", string(ev.Kind)).Str("node_id", ev.NodeID).Msg("Unknown node update type")
	return false
}

// ApplyRemoteConnectionEvent applies a broadcast connection change. It
// returns false when a created event has no body; the caller should then
// refetch connections from the backend.
func (s *Store) ApplyRemoteConnectionEvent(ev RemoteConnectionEvent) bool {
	if !ev.Created {
		_, ok := s.ApplyLocalConnectionDelete(ev.ConnectionID)
		return ok
	}
	if ev.Connection == nil {
		return false
	}
	if _, exists := s.Connection(ev.Connection.ID); exists {
		return true
	}
	return s.ApplyLocalConnectionCreate(*ev.Connection)
}

// ReplaceConnections swaps in a freshly fetched connection list
func (s *Store) ReplaceConnections(conns []domain.Connection) {
	s.mu.Lock()
	s.connections = s.connections[:0]
	for _, c := range conns {
		if reason := s.rejectConnection(c); reason != "" {
			continue
		}
		s.connections = append(s.connections, c)
	}
	n := len(s.connections)
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventGraphLoaded, Payload: map[string]int{"connections": n}})
}

// applyRemoteCreate inserts the broadcast node, or merges the patch into
// the node when a local create got there first. Lookup and insert share
// one critical section.
func (s *Store) applyRemoteCreate(id string, p NodePatch) {
	s.mu.Lock()
	eventType := EventNodeUpdated
	n, exists := s.index[id]
	if exists {
		patchNode(n, p)
		n.UpdatedAt = s.now()
	} else {
		n = domain.NewNode(id, "", domain.Position{})
		patchNode(n, p)
		s.nodes = append(s.nodes, n)
		s.index[id] = n
		eventType = EventNodeCreated
	}
	out := n.Clone()
	s.mu.Unlock()

	s.bus.Publish(Event{Type: eventType, NodeID: id, Payload: out})
}

func (s *Store) applyPatch(id string, p NodePatch) bool {
	return s.ApplyLocalNodeUpdate(id, func(n *domain.Node) {
		patchNode(n, p)
	})
}

func patchNode(n *domain.Node, p NodePatch) {
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Position != nil {
		n.Position = *p.Position
	}
	if p.Data != nil {
		n.MergeData(p.Data)
	}
	if p.Status != nil {
		n.Status = *p.Status
	}
	if p.ErrorMessage != nil {
		n.ErrorMessage = *p.ErrorMessage
	}
}
