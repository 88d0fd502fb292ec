// Package propagation derives a node's effective inputs from its incoming
// connections. Every function here is pure: it reads the node and
// connection lists it is given and never mutates them.
package propagation

import (
	"strings"

	"reelgraph/internal/domain"
)

// VideoRef is the bundle needed to extend or stitch a video
type VideoRef struct {
	SourceNodeID   string `json:"source_node_id"`
	URL            string `json:"video_url,omitempty"`
	VeoURI         string `json:"veo_video_uri,omitempty"`
	VeoName        string `json:"veo_video_name,omitempty"`
	ExtensionCount int    `json:"extension_count"`
	Completed      bool   `json:"completed"`
}

// Extendable reports whether the reference points at a finished video the
// generation backend can continue.
func (v *VideoRef) Extendable() bool {
	return v != nil && v.Completed && (v.VeoURI != "" || v.URL != "")
}

// Inputs are the effective inputs of a node
type Inputs struct {
	Prompt   string    `json:"prompt,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	Video    *VideoRef `json:"video,omitempty"`
}

// Resolve computes the inputs of targetID from its immediate predecessors.
// Connections are visited in list order and the first non-empty value per
// field wins. Video references are only taken from video-class sources,
// which is what lets extension nodes chain through the
// video-output/video-input handles.
func Resolve(targetID string, nodes []domain.Node, conns []domain.Connection) Inputs {
	var in Inputs
	for _, c := range conns {
		if c.TargetNodeID != targetID {
			continue
		}
		src, ok := domain.FindNode(nodes, c.SourceNodeID)
		if !ok {
			continue
		}

		if in.Prompt == "" && acceptsPrompt(c) {
			in.Prompt = promptOf(&src)
		}
		if in.ImageURL == "" && acceptsImage(c) {
			in.ImageURL = src.DataString(domain.DataImageURL)
		}
		if in.Video == nil && acceptsVideo(c) {
			in.Video = videoOf(&src)
		}
	}
	return in
}

// VideoSources returns the completed video references feeding targetID, in
// connection order. Stitch nodes consume every one of them.
func VideoSources(targetID string, nodes []domain.Node, conns []domain.Connection) []VideoRef {
	var out []VideoRef
	for _, c := range conns {
		if c.TargetNodeID != targetID || !acceptsVideo(c) {
			continue
		}
		src, ok := domain.FindNode(nodes, c.SourceNodeID)
		if !ok {
			continue
		}
		if ref := videoOf(&src); ref != nil && ref.Completed && ref.URL != "" {
			out = append(out, *ref)
		}
	}
	return out
}

// Affected returns the node IDs whose inputs may change when nodeID's data
// changes: nodeID itself followed by its direct dependents.
func Affected(nodeID string, conns []domain.Connection) []string {
	return append([]string{nodeID}, domain.Dependents(conns, nodeID)...)
}

func acceptsPrompt(c domain.Connection) bool {
	return c.TargetHandle == "" || c.TargetHandle == domain.HandlePromptInput
}

func acceptsImage(c domain.Connection) bool {
	return c.TargetHandle == "" || c.TargetHandle == domain.HandleImageInput
}

// acceptsVideo also matches numbered handles such as video-input-2, which
// stitch nodes expose one per clip.
func acceptsVideo(c domain.Connection) bool {
	return c.TargetHandle == "" || strings.HasPrefix(c.TargetHandle, domain.HandleVideoInput)
}

func promptOf(n *domain.Node) string {
	if p := n.DataString(domain.DataPrompt); p != "" {
		return p
	}
	return n.DataString(domain.DataEnhancedPrompt)
}

func videoOf(n *domain.Node) *VideoRef {
	if !n.Type.IsVideoClass() {
		return nil
	}
	ref := &VideoRef{
		SourceNodeID:   n.ID,
		URL:            n.DataString(domain.DataVideoURL),
		VeoURI:         n.DataString(domain.DataVeoVideoURI),
		VeoName:        n.DataString(domain.DataVeoVideoName),
		ExtensionCount: n.DataInt(domain.DataExtensionCount),
		Completed:      n.Status == domain.NodeStatusCompleted,
	}
	if ref.URL == "" && ref.VeoURI == "" {
		return nil
	}
	return ref
}
