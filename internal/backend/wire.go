package backend

import (
	"time"

	"reelgraph/internal/domain"
)

// nodeWire is the REST representation of a node. Positions travel as
// two flat fields rather than a nested object.
type nodeWire struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id,omitempty"`
	Type         domain.NodeType   `json:"type"`
	PositionX    float64           `json:"position_x"`
	PositionY    float64           `json:"position_y"`
	Data         map[string]any    `json:"data"`
	Status       domain.NodeStatus `json:"status"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (w nodeWire) toDomain() domain.Node {
	n := domain.Node{
		ID:        w.ID,
		Type:      w.Type,
		Position:  domain.Position{X: w.PositionX, Y: w.PositionY},
		Data:      w.Data,
		Status:    w.Status,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	if n.Data == nil {
		n.Data = make(map[string]any)
	}
	if w.ErrorMessage != nil {
		n.ErrorMessage = *w.ErrorMessage
	}
	return n
}

// NodeCreate is the body of POST /projects/{id}/nodes
type NodeCreate struct {
	Type      domain.NodeType `json:"type"`
	PositionX float64         `json:"position_x"`
	PositionY float64         `json:"position_y"`
	Data      map[string]any  `json:"data"`
}

// NodeUpdate is the body of PUT /projects/{id}/nodes/{nodeId}. Only the
// fields that are set are sent.
type NodeUpdate struct {
	PositionX *float64       `json:"position_x,omitempty"`
	PositionY *float64       `json:"position_y,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// PositionUpdate builds a NodeUpdate that only moves the node
func PositionUpdate(pos domain.Position) NodeUpdate {
	x, y := pos.X, pos.Y
	return NodeUpdate{PositionX: &x, PositionY: &y}
}

// ConnectionCreate is the body of POST /projects/{id}/connections
type ConnectionCreate struct {
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// GenerateRequest is the body of POST /ai/generate-video
type GenerateRequest struct {
	NodeID         string `json:"node_id"`
	Prompt         string `json:"prompt"`
	ImageURL       string `json:"image_url,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// ExtendRequest is the body of POST /ai/extend-video
type ExtendRequest struct {
	NodeID         string `json:"node_id"`
	VideoURL       string `json:"video_url"`
	VeoVideoURI    string `json:"veo_video_uri,omitempty"`
	Prompt         string `json:"prompt"`
	ExtensionCount int    `json:"extension_count"`
}

// StitchRequest is the body of POST /ai/stitch-videos
type StitchRequest struct {
	NodeID      string   `json:"node_id"`
	VideoURLs   []string `json:"video_urls"`
	Transitions []string `json:"transitions,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
}
