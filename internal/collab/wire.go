package collab

import (
	"reelgraph/internal/domain"
	"reelgraph/internal/store"
)

// Message types on the collaboration channel
const (
	TypeConnected         = "connected"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeNodeUpdate        = "node_update"
	TypeConnectionCreated = "connection_created"
	TypeConnectionDeleted = "connection_deleted"
	TypeJobProgress       = "job_progress"
	TypeCursorMove        = "cursor_move"
	TypeNodeSelect        = "node_select"
	TypeUserDisconnected  = "user_disconnected"
)

type connectedMsg struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	IsGuest   bool   `json:"is_guest"`
}

type nodeUpdateMsg struct {
	NodeID     string         `json:"node_id"`
	UpdateType string         `json:"update_type"`
	Data       *nodeFieldsMsg `json:"data"`
}

// nodeFieldsMsg is the partial node carried in node_update broadcasts.
// Absent fields decode to nil and leave the local value alone.
type nodeFieldsMsg struct {
	Type         *domain.NodeType   `json:"type"`
	PositionX    *float64           `json:"position_x"`
	PositionY    *float64           `json:"position_y"`
	Data         map[string]any     `json:"data"`
	Status       *domain.NodeStatus `json:"status"`
	ErrorMessage *string            `json:"error_message"`
}

func (m nodeUpdateMsg) event() store.RemoteNodeEvent {
	ev := store.RemoteNodeEvent{
		Kind:   store.RemoteKind(m.UpdateType),
		NodeID: m.NodeID,
	}
	if f := m.Data; f != nil {
		ev.Patch = store.NodePatch{
			Type:         f.Type,
			Data:         f.Data,
			Status:       f.Status,
			ErrorMessage: f.ErrorMessage,
		}
		if f.PositionX != nil && f.PositionY != nil {
			ev.Patch.Position = &domain.Position{X: *f.PositionX, Y: *f.PositionY}
		}
	}
	return ev
}

type connectionMsg struct {
	Type         string             `json:"type"`
	ConnectionID string             `json:"connection_id"`
	Data         *domain.Connection `json:"data"`
}

func (m connectionMsg) event() store.RemoteConnectionEvent {
	ev := store.RemoteConnectionEvent{
		Created:      m.Type == TypeConnectionCreated,
		ConnectionID: m.ConnectionID,
		Connection:   m.Data,
	}
	if ev.Connection != nil && ev.Connection.ID == "" {
		ev.Connection.ID = m.ConnectionID
	}
	if ev.ConnectionID == "" && ev.Connection != nil {
		ev.ConnectionID = ev.Connection.ID
	}
	return ev
}

type presenceMsg struct {
	UserID string   `json:"user_id"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	NodeID *string  `json:"node_id"`
}

// Outbound messages

type pingMsg struct {
	Type string `json:"type"`
}

type cursorMsg struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// selectMsg sends node_id as null when nothing is selected
type selectMsg struct {
	Type   string  `json:"type"`
	NodeID *string `json:"node_id"`
}
