package domain

import "time"

// Handle names used by the node renderers
const (
	HandleOutput      = "output"
	HandlePromptInput = "prompt-input"
	HandleImageInput  = "image-input"
	HandleVideoInput  = "video-input"
	HandleVideoOutput = "video-output"
)

// Connection is a directed edge from a source handle to a target handle
type Connection struct {
	ID           string    `json:"id"`
	SourceNodeID string    `json:"source_node_id"`
	TargetNodeID string    `json:"target_node_id"`
	SourceHandle string    `json:"source_handle,omitempty"`
	TargetHandle string    `json:"target_handle,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// ConnectionKey identifies a connection by its endpoints and handles
type ConnectionKey struct {
	SourceNodeID string
	TargetNodeID string
	SourceHandle string
	TargetHandle string
}

// InputSlot identifies a single input port; at most one connection may
// terminate at a slot.
type InputSlot struct {
	NodeID string
	Handle string
}

// Key returns the endpoint/handle tuple used for duplicate detection
func (c *Connection) Key() ConnectionKey {
	return ConnectionKey{
		SourceNodeID: c.SourceNodeID,
		TargetNodeID: c.TargetNodeID,
		SourceHandle: c.SourceHandle,
		TargetHandle: c.TargetHandle,
	}
}

// Slot returns the input slot this connection occupies
func (c *Connection) Slot() InputSlot {
	return InputSlot{NodeID: c.TargetNodeID, Handle: c.TargetHandle}
}

// Involves checks if this connection touches the given node
func (c *Connection) Involves(nodeID string) bool {
	return c.SourceNodeID == nodeID || c.TargetNodeID == nodeID
}

// IsVideoChain reports whether the connection links a video output to a
// video input, the handle pair used to chain extension nodes.
func (c *Connection) IsVideoChain() bool {
	return c.SourceHandle == HandleVideoOutput && c.TargetHandle == HandleVideoInput
}
