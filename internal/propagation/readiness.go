package propagation

import (
	"reelgraph/internal/domain"
)

// Readiness is the per-action availability shown next to a node
type Readiness struct {
	NodeID      string `json:"node_id"`
	CanGenerate bool   `json:"can_generate"`
	CanExtend   bool   `json:"can_extend"`
	CanStitch   bool   `json:"can_stitch"`
	Reason      string `json:"reason,omitempty"`
}

// CheckGenerate validates that a generation has a connected prompt
func CheckGenerate(in Inputs) error {
	if in.Prompt == "" {
		return domain.Invalid(domain.MsgConnectPrompt)
	}
	return nil
}

// ExtensionPrompt is the prompt an extension submits: the node's own
// prompt when set, otherwise the resolved one.
func ExtensionPrompt(node domain.Node, in Inputs) string {
	if p := node.DataString(domain.DataPrompt); p != "" {
		return p
	}
	return in.Prompt
}

// CheckExtend validates an extension request and returns the extension
// count the new video will carry.
func CheckExtend(node domain.Node, in Inputs) (int, error) {
	if !in.Video.Extendable() {
		return 0, domain.Invalid(domain.MsgConnectVideo)
	}
	if ExtensionPrompt(node, in) == "" {
		return 0, domain.Invalid(domain.MsgConnectPrompt)
	}
	next := in.Video.ExtensionCount + 1
	if next > domain.MaxExtensions {
		return 0, domain.Invalid(domain.MsgMaxExtensions)
	}
	return next, nil
}

// CheckStitch validates that at least two finished videos feed the node
func CheckStitch(sources []VideoRef) error {
	if len(sources) < 2 {
		return domain.Invalid(domain.MsgStitchNeedsVideos)
	}
	return nil
}

// Evaluate computes the readiness of targetID against the given graph
func Evaluate(targetID string, nodes []domain.Node, conns []domain.Connection) Readiness {
	r := Readiness{NodeID: targetID}
	node, ok := domain.FindNode(nodes, targetID)
	if !ok {
		r.Reason = domain.ErrStaleReference.Error()
		return r
	}

	in := Resolve(targetID, nodes, conns)
	var reason error
	switch node.Type {
	case domain.NodeTypeVideo:
		reason = CheckGenerate(in)
		r.CanGenerate = reason == nil
	case domain.NodeTypeExtension:
		_, reason = CheckExtend(node, in)
		r.CanExtend = reason == nil
	case domain.NodeTypeStitch:
		reason = CheckStitch(VideoSources(targetID, nodes, conns))
		r.CanStitch = reason == nil
	}
	if reason != nil {
		r.Reason = reason.Error()
	}
	return r
}
