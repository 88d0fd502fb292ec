package propagation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelgraph/internal/domain"
)

func node(id string, t domain.NodeType, status domain.NodeStatus, data map[string]any) domain.Node {
	if data == nil {
		data = map[string]any{}
	}
	return domain.Node{ID: id, Type: t, Status: status, Data: data}
}

func conn(id, src, dst, srcHandle, dstHandle string) domain.Connection {
	return domain.Connection{ID: id, SourceNodeID: src, TargetNodeID: dst, SourceHandle: srcHandle, TargetHandle: dstHandle}
}

func TestResolvePromptFromConnectedPromptNode(t *testing.T) {
	nodes := []domain.Node{
		node("P", domain.NodeTypePrompt, domain.NodeStatusIdle, map[string]any{"prompt": "cat"}),
		node("V", domain.NodeTypeVideo, domain.NodeStatusIdle, nil),
	}
	conns := []domain.Connection{conn("c1", "P", "V", domain.HandleOutput, domain.HandlePromptInput)}

	in := Resolve("V", nodes, conns)
	assert.Equal(t, "cat", in.Prompt)
	assert.NoError(t, CheckGenerate(in))
	assert.True(t, Evaluate("V", nodes, conns).CanGenerate)
}

func TestResolveFirstNonEmptyInConnectionOrder(t *testing.T) {
	nodes := []domain.Node{
		node("empty", domain.NodeTypePrompt, domain.NodeStatusIdle, nil),
		node("first", domain.NodeTypePrompt, domain.NodeStatusIdle, map[string]any{"prompt": "first"}),
		node("second", domain.NodeTypePrompt, domain.NodeStatusIdle, map[string]any{"prompt": "second"}),
		node("img", domain.NodeTypeImage, domain.NodeStatusIdle, map[string]any{"image_url": "https://x/1.png"}),
		node("V", domain.NodeTypeVideo, domain.NodeStatusIdle, nil),
	}
	conns := []domain.Connection{
		conn("c0", "empty", "V", "", ""),
		conn("c1", "first", "V", "", ""),
		conn("c2", "second", "V", "", ""),
		conn("c3", "img", "V", "", domain.HandleImageInput),
	}

	in := Resolve("V", nodes, conns)
	assert.Equal(t, "first", in.Prompt)
	assert.Equal(t, "https://x/1.png", in.ImageURL)
	assert.Nil(t, in.Video)
}

func TestResolveIsSingleHop(t *testing.T) {
	nodes := []domain.Node{
		node("P", domain.NodeTypePrompt, domain.NodeStatusIdle, map[string]any{"prompt": "cat"}),
		node("S", domain.NodeTypeScene, domain.NodeStatusIdle, nil),
		node("V", domain.NodeTypeVideo, domain.NodeStatusIdle, nil),
	}
	conns := []domain.Connection{
		conn("c1", "P", "S", "", ""),
		conn("c2", "S", "V", "", ""),
	}

	in := Resolve("V", nodes, conns)
	assert.Empty(t, in.Prompt)
	assert.EqualError(t, CheckGenerate(in), domain.MsgConnectPrompt)
}

func TestResolveIgnoresMismatchedHandles(t *testing.T) {
	nodes := []domain.Node{
		node("P", domain.NodeTypePrompt, domain.NodeStatusIdle, map[string]any{"prompt": "cat"}),
		node("V", domain.NodeTypeVideo, domain.NodeStatusIdle, nil),
	}
	conns := []domain.Connection{conn("c1", "P", "V", "", domain.HandleImageInput)}

	assert.Empty(t, Resolve("V", nodes, conns).Prompt)
}

func TestResolveVideoChain(t *testing.T) {
	nodes := []domain.Node{
		node("V", domain.NodeTypeVideo, domain.NodeStatusCompleted, map[string]any{
			"prompt":        "a cat walks",
			"video_url":     "https://cdn/v.mp4",
			"veo_video_uri": "veo://v",
		}),
		node("E1", domain.NodeTypeExtension, domain.NodeStatusCompleted, map[string]any{
			"video_url":       "https://cdn/e1.mp4",
			"veo_video_uri":   "veo://e1",
			"extension_count": float64(1),
		}),
		node("E2", domain.NodeTypeExtension, domain.NodeStatusIdle, map[string]any{"prompt": "keeps walking"}),
	}
	conns := []domain.Connection{
		conn("c1", "V", "E1", domain.HandleVideoOutput, domain.HandleVideoInput),
		conn("c2", "E1", "E2", domain.HandleVideoOutput, domain.HandleVideoInput),
	}

	in := Resolve("E2", nodes, conns)
	require.NotNil(t, in.Video)
	assert.Equal(t, "E1", in.Video.SourceNodeID)
	assert.Equal(t, 1, in.Video.ExtensionCount)

	next, err := CheckExtend(nodes[2], in)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}

func TestResolveIsPure(t *testing.T) {
	nodes := []domain.Node{
		node("P", domain.NodeTypePrompt, domain.NodeStatusIdle, map[string]any{"prompt": "cat"}),
		node("V", domain.NodeTypeVideo, domain.NodeStatusCompleted, map[string]any{"video_url": "u", "extension_count": 3}),
		node("E", domain.NodeTypeExtension, domain.NodeStatusIdle, nil),
	}
	conns := []domain.Connection{
		conn("c1", "P", "E", "", domain.HandlePromptInput),
		conn("c2", "V", "E", domain.HandleVideoOutput, domain.HandleVideoInput),
	}
	before := domain.Snapshot{Nodes: nodes, Connections: conns}.Clone()

	first := Resolve("E", nodes, conns)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Resolve("E", nodes, conns)); diff != "" {
			t.Fatalf("Resolve changed between calls (-first +again):\n%s", diff)
		}
	}
	if diff := cmp.Diff(before, domain.Snapshot{Nodes: nodes, Connections: conns}); diff != "" {
		t.Fatalf("Resolve mutated its input (-before +after):\n%s", diff)
	}
}
