package domain

import (
	"maps"
	"time"
)

// NodeType is the kind of creative unit a node represents
type NodeType string

const (
	NodeTypePrompt    NodeType = "prompt"
	NodeTypeImage     NodeType = "image"
	NodeTypeVideo     NodeType = "video"
	NodeTypeCharacter NodeType = "character"
	NodeTypeProduct   NodeType = "product"
	NodeTypeSetting   NodeType = "setting"
	NodeTypeExtension NodeType = "extension"
	NodeTypeStitch    NodeType = "stitch"
	NodeTypeScene     NodeType = "scene"
	NodeTypeContainer NodeType = "container"
	NodeTypeRatio     NodeType = "ratio"
)

var nodeTypes = map[NodeType]struct{}{
	NodeTypePrompt:    {},
	NodeTypeImage:     {},
	NodeTypeVideo:     {},
	NodeTypeCharacter: {},
	NodeTypeProduct:   {},
	NodeTypeSetting:   {},
	NodeTypeExtension: {},
	NodeTypeStitch:    {},
	NodeTypeScene:     {},
	NodeTypeContainer: {},
	NodeTypeRatio:     {},
}

// Valid reports whether t is one of the known node types
func (t NodeType) Valid() bool {
	_, ok := nodeTypes[t]
	return ok
}

// IsVideoClass reports whether nodes of this type produce a video output
func (t NodeType) IsVideoClass() bool {
	return t == NodeTypeVideo || t == NodeTypeExtension || t == NodeTypeStitch
}

// NodeStatus is the generation status of a node
type NodeStatus string

const (
	NodeStatusIdle       NodeStatus = "idle"
	NodeStatusProcessing NodeStatus = "processing"
	NodeStatusCompleted  NodeStatus = "completed"
	NodeStatusFailed     NodeStatus = "failed"
)

// Well-known keys inside Node.Data
const (
	DataPrompt          = "prompt"
	DataEnhancedPrompt  = "enhanced_prompt"
	DataImageURL        = "image_url"
	DataVideoURL        = "video_url"
	DataVeoVideoURI     = "veo_video_uri"
	DataVeoVideoName    = "veo_video_name"
	DataExtensionCount  = "extension_count"
	DataProgress        = "progress"
	DataStage           = "stage"
	DataProgressMessage = "progress_message"
	DataJobID           = "job_id"
	DataBranchGroupID   = "branch_group_id"
	DataBranchSourceID  = "branch_source_node_id"
)

// Node is a vertex in the project graph
type Node struct {
	ID           string         `json:"id"`
	Type         NodeType       `json:"type"`
	Position     Position       `json:"position"`
	Data         map[string]any `json:"data"`
	Status       NodeStatus     `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewNode creates an idle node with an empty data map
func NewNode(id string, nodeType NodeType, pos Position) *Node {
	now := time.Now()
	return &Node{
		ID:        id,
		Type:      nodeType,
		Position:  pos,
		Data:      make(map[string]any),
		Status:    NodeStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy whose data map can be modified independently.
// Nested values are shared.
func (n Node) Clone() Node {
	out := n
	out.Data = maps.Clone(n.Data)
	if out.Data == nil {
		out.Data = make(map[string]any)
	}
	return out
}

// MergeData shallow-merges patch into the node data
func (n *Node) MergeData(patch map[string]any) {
	if n.Data == nil {
		n.Data = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		n.Data[k] = v
	}
}

// DataString returns a string value from data, or "" if absent or not a string
func (n *Node) DataString(key string) string {
	if n.Data == nil {
		return ""
	}
	if s, ok := n.Data[key].(string); ok {
		return s
	}
	return ""
}

// DataInt returns an integer value from data. JSON numbers decode as
// float64, so both integer and float representations are accepted.
func (n *Node) DataInt(key string) int {
	if n.Data == nil {
		return 0
	}
	switch v := n.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	}
	return 0
}
