package service

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reelgraph/internal/backend"
	"reelgraph/internal/debounce"
	"reelgraph/internal/domain"
	"reelgraph/internal/propagation"
	"reelgraph/internal/store"
)

// DefaultWriteTimeout bounds a debounced position write
const DefaultWriteTimeout = 10 * time.Second

// Backend is the subset of the REST client the gateway persists through
type Backend interface {
	CreateNode(ctx context.Context, req backend.NodeCreate) (domain.Node, error)
	UpdateNode(ctx context.Context, id string, req backend.NodeUpdate) (domain.Node, error)
	DeleteNode(ctx context.Context, id string) error
	CreateConnection(ctx context.Context, req backend.ConnectionCreate) (domain.Connection, error)
	DeleteConnection(ctx context.Context, id string) error
}

// ConnectionRequest describes a connection the user wants to draw
type ConnectionRequest struct {
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// Resolution is the outcome of propagating inputs into one node
type Resolution struct {
	NodeID    string                `json:"node_id"`
	Inputs    propagation.Inputs    `json:"inputs"`
	Readiness propagation.Readiness `json:"readiness"`
}

// GraphService provides validated, persisted graph mutations
type GraphService struct {
	backend   Backend
	store     *store.Store
	positions *debounce.Debouncer
	log       zerolog.Logger

	// connMu serialises connection creation so a validation and the
	// backend create it guards cannot interleave with another create.
	connMu sync.Mutex

	WriteTimeout time.Duration

	// OnNodeDeleted runs after a node was removed from the store
	OnNodeDeleted func(id string)
}

// NewGraphService creates a new graph service
func NewGraphService(b Backend, st *store.Store, positions *debounce.Debouncer, logger zerolog.Logger) *GraphService {
	return &GraphService{
		backend:      b,
		store:        st,
		positions:    positions,
		log:          logger.With().Str("component", "graph").Logger(),
		WriteTimeout: DefaultWriteTimeout,
	}
}

// CreateNode persists a new node and adds it to the store
func (s *GraphService) CreateNode(ctx context.Context, typ domain.NodeType, pos domain.Position, data map[string]any) (domain.Node, error) {
	if !typ.Valid() {
		return domain.Node{}, domain.Invalid("unknown node type %q", typ)
	}

	node, err := s.backend.CreateNode(ctx, backend.NodeCreate{
		Type:      typ,
		PositionX: pos.X,
		PositionY: pos.Y,
		Data:      data,
	})
	if err != nil {
		s.log.Error().Err(err).Str("type", string(typ)).Msg("Failed to create node")
		return domain.Node{}, fmt.Errorf("create node: %w", err)
	}

	s.store.ApplyLocalNodeCreate(node)
	s.log.Debug().Str("node_id", node.ID).Str("type", string(typ)).Msg("Node created")
	return node, nil
}

// UpdateNodeData shallow-merges patch into a node's data, persists the
// merged map and re-propagates inputs to the node's dependents.
func (s *GraphService) UpdateNodeData(ctx context.Context, id string, patch map[string]any) error {
	node, ok := s.store.Node(id)
	if !ok {
		s.log.Debug().Str("node_id", id).Msg("Update for unknown node ignored")
		return nil
	}

	merged := maps.Clone(node.Data)
	if merged == nil {
		merged = make(map[string]any, len(patch))
	}
	maps.Copy(merged, patch)

	if _, err := s.backend.UpdateNode(ctx, id, backend.NodeUpdate{Data: merged}); err != nil {
		if backend.IsNotFound(err) {
			s.log.Debug().Str("node_id", id).Msg("Node deleted remotely before update")
			return nil
		}
		s.log.Error().Err(err).Str("node_id", id).Msg("Failed to update node data")
		return fmt.Errorf("update node %s: %w", id, err)
	}

	if !s.store.MergeNodeData(id, patch) {
		return nil
	}
	s.PropagateFrom(id)
	return nil
}

// DeleteNode deletes a node and every connection touching it
func (s *GraphService) DeleteNode(ctx context.Context, id string) error {
	if _, ok := s.store.Node(id); !ok {
		return nil
	}
	s.positions.Cancel(id)

	if err := s.backend.DeleteNode(ctx, id); err != nil && !backend.IsNotFound(err) {
		s.log.Error().Err(err).Str("node_id", id).Msg("Failed to delete node")
		return fmt.Errorf("delete node %s: %w", id, err)
	}

	dependents := domain.Dependents(s.store.Snapshot().Connections, id)
	if s.store.ApplyLocalNodeDelete(id) && s.OnNodeDeleted != nil {
		s.OnNodeDeleted(id)
	}
	for _, dep := range dependents {
		s.Propagate(dep)
	}
	return nil
}

// MoveNode applies a position locally and schedules its persistence
func (s *GraphService) MoveNode(id string, pos domain.Position) bool {
	if !s.store.SetNodePosition(id, pos) {
		return false
	}
	s.positions.Schedule(id, func() { s.persistPosition(id) })
	return true
}

// FlushPositions writes every pending position immediately
func (s *GraphService) FlushPositions() {
	s.positions.Flush()
}

func (s *GraphService) persistPosition(id string) {
	node, ok := s.store.Node(id)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.WriteTimeout)
	defer cancel()

	if _, err := s.backend.UpdateNode(ctx, id, backend.PositionUpdate(node.Position)); err != nil {
		s.log.Warn().Err(err).Str("node_id", id).Msg("Failed to persist node position")
		return
	}
	s.log.Debug().Str("node_id", id).Float64("x", node.Position.X).Float64("y", node.Position.Y).Msg("Position persisted")
}

// CreateConnection validates, persists and applies a connection. Creation
// is serialised: the local edge list only changes after the backend has
// acknowledged the create.
func (s *GraphService) CreateConnection(ctx context.Context, req ConnectionRequest) (domain.Connection, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := validateConnection(s.store.Snapshot(), req); err != nil {
		return domain.Connection{}, err
	}

	conn, err := s.backend.CreateConnection(ctx, backend.ConnectionCreate(req))
	if err != nil {
		s.log.Error().Err(err).
			Str("source", req.SourceNodeID).
			Str("target", req.TargetNodeID).
			Msg("Failed to create connection")
		return domain.Connection{}, fmt.Errorf("create connection: %w", err)
	}

	if !s.store.ApplyLocalConnectionCreate(conn) {
		s.log.Debug().Str("connection_id", conn.ID).Msg("Connection already applied")
	}

	if target, ok := s.store.Node(conn.TargetNodeID); ok && target.Type.IsVideoClass() {
		s.Propagate(conn.TargetNodeID)
	}
	return conn, nil
}

// DeleteConnection removes a connection and re-propagates its target
func (s *GraphService) DeleteConnection(ctx context.Context, id string) error {
	conn, ok := s.store.Connection(id)
	if !ok {
		return nil
	}

	if err := s.backend.DeleteConnection(ctx, id); err != nil && !backend.IsNotFound(err) {
		s.log.Error().Err(err).Str("connection_id", id).Msg("Failed to delete connection")
		return fmt.Errorf("delete connection %s: %w", id, err)
	}

	s.store.ApplyLocalConnectionDelete(id)
	s.Propagate(conn.TargetNodeID)
	return nil
}

// Resolve computes a node's inputs and readiness from the current snapshot
func (s *GraphService) Resolve(nodeID string) (Resolution, bool) {
	snap := s.store.Snapshot()
	if _, ok := snap.Node(nodeID); !ok {
		return Resolution{}, false
	}
	return Resolution{
		NodeID:    nodeID,
		Inputs:    propagation.Resolve(nodeID, snap.Nodes, snap.Connections),
		Readiness: propagation.Evaluate(nodeID, snap.Nodes, snap.Connections),
	}, true
}

// Propagate recomputes one node's inputs and notifies observers
func (s *GraphService) Propagate(nodeID string) (Resolution, bool) {
	res, ok := s.Resolve(nodeID)
	if !ok {
		return Resolution{}, false
	}
	s.store.Notify(store.Event{Type: store.EventInputsResolved, NodeID: nodeID, Payload: res})
	return res, true
}

// PropagateFrom re-propagates a node and each of its direct dependents
func (s *GraphService) PropagateFrom(nodeID string) []Resolution {
	var out []Resolution
	for _, id := range propagation.Affected(nodeID, s.store.Snapshot().Connections) {
		if res, ok := s.Propagate(id); ok {
			out = append(out, res)
		}
	}
	return out
}

// validateConnection applies the topology rules to a proposed connection
func validateConnection(snap domain.Snapshot, req ConnectionRequest) error {
	if req.SourceNodeID == "" || req.TargetNodeID == "" {
		return domain.Invalid(domain.MsgMissingEndpoint)
	}
	if req.SourceNodeID == req.TargetNodeID {
		return domain.Invalid(domain.MsgSelfLoop)
	}
	if _, ok := snap.Node(req.SourceNodeID); !ok {
		return domain.Invalid(domain.MsgMissingEndpoint)
	}
	if _, ok := snap.Node(req.TargetNodeID); !ok {
		return domain.Invalid(domain.MsgMissingEndpoint)
	}

	key := domain.ConnectionKey(req)
	slot := domain.InputSlot{NodeID: req.TargetNodeID, Handle: req.TargetHandle}
	for _, c := range snap.Connections {
		if c.Key() == key {
			return domain.Invalid(domain.MsgDuplicate)
		}
		if c.Slot() == slot {
			return domain.Invalid(domain.MsgHandleOccupied)
		}
	}
	return nil
}
