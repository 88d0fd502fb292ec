package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeTypeValid(t *testing.T) {
	tests := []struct {
		nodeType NodeType
		valid    bool
	}{
		{NodeTypePrompt, true},
		{NodeTypeExtension, true},
		{NodeTypeStitch, true},
		{NodeTypeRatio, true},
		{NodeType("server"), false},
		{NodeType(""), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.nodeType.Valid(), "NodeType(%q).Valid()", tt.nodeType)
	}
}

func TestNodeTypeIsVideoClass(t *testing.T) {
	assert.True(t, NodeTypeVideo.IsVideoClass())
	assert.True(t, NodeTypeExtension.IsVideoClass())
	assert.True(t, NodeTypeStitch.IsVideoClass())
	assert.False(t, NodeTypePrompt.IsVideoClass())
	assert.False(t, NodeTypeImage.IsVideoClass())
}

func TestNodeCloneIsolatesData(t *testing.T) {
	n := NewNode("n1", NodeTypePrompt, Position{X: 1, Y: 2})
	n.Data[DataPrompt] = "cat"

	c := n.Clone()
	c.Data[DataPrompt] = "dog"

	assert.Equal(t, "cat", n.DataString(DataPrompt))
	assert.Equal(t, "dog", c.DataString(DataPrompt))
}

func TestNodeCloneNilData(t *testing.T) {
	n := Node{ID: "n1"}
	c := n.Clone()
	assert.NotNil(t, c.Data)
}

func TestNodeMergeData(t *testing.T) {
	n := Node{ID: "n1"}
	n.MergeData(map[string]any{"a": 1})
	n.MergeData(map[string]any{"b": "x", "a": 2})

	assert.Equal(t, map[string]any{"a": 2, "b": "x"}, n.Data)
}

func TestNodeDataInt(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"int", 3, 3},
		{"int64", int64(4), 4},
		{"float64 from json", float64(20), 20},
		{"string ignored", "5", 0},
		{"missing", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Node{Data: map[string]any{}}
			if tt.value != nil {
				n.Data[DataExtensionCount] = tt.value
			}
			assert.Equal(t, tt.want, n.DataInt(DataExtensionCount))
		})
	}
}

func TestDependents(t *testing.T) {
	conns := []Connection{
		{ID: "c1", SourceNodeID: "p", TargetNodeID: "v1"},
		{ID: "c2", SourceNodeID: "p", TargetNodeID: "v2"},
		{ID: "c3", SourceNodeID: "p", TargetNodeID: "v1", TargetHandle: HandleImageInput},
		{ID: "c4", SourceNodeID: "x", TargetNodeID: "v3"},
	}

	assert.Equal(t, []string{"v1", "v2"}, Dependents(conns, "p"))
	assert.Len(t, Incoming(conns, "v1"), 2)
	assert.Empty(t, Dependents(conns, "v3"))
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	s := Snapshot{
		ProjectID:   "proj",
		Nodes:       []Node{{ID: "a", Data: map[string]any{"k": "v"}}},
		Connections: []Connection{{ID: "c", SourceNodeID: "a", TargetNodeID: "b"}},
	}

	c := s.Clone()
	c.Nodes[0].Data["k"] = "changed"
	c.Connections[0].TargetNodeID = "z"

	assert.Equal(t, "v", s.Nodes[0].Data["k"])
	assert.Equal(t, "b", s.Connections[0].TargetNodeID)
}
