package propagation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelgraph/internal/domain"
)

func TestCheckExtend(t *testing.T) {
	completed := func(count int) *VideoRef {
		return &VideoRef{SourceNodeID: "src", URL: "u", VeoURI: "veo://u", ExtensionCount: count, Completed: true}
	}
	ext := domain.Node{ID: "E", Type: domain.NodeTypeExtension, Data: map[string]any{}}

	tests := []struct {
		name    string
		node    domain.Node
		in      Inputs
		want    int
		wantErr string
	}{
		{
			name: "first extension of a generated video",
			in:   Inputs{Prompt: "go on", Video: completed(0)},
			want: 1,
		},
		{
			name: "nineteenth predecessor reaches the limit",
			in:   Inputs{Prompt: "go on", Video: completed(19)},
			want: 20,
		},
		{
			name:    "predecessor at the limit is rejected",
			in:      Inputs{Prompt: "go on", Video: completed(20)},
			wantErr: domain.MsgMaxExtensions,
		},
		{
			name:    "no video connected",
			in:      Inputs{Prompt: "go on"},
			wantErr: domain.MsgConnectVideo,
		},
		{
			name:    "video still processing",
			in:      Inputs{Prompt: "go on", Video: &VideoRef{URL: "u", Completed: false}},
			wantErr: domain.MsgConnectVideo,
		},
		{
			name:    "no prompt anywhere",
			in:      Inputs{Video: completed(2)},
			wantErr: domain.MsgConnectPrompt,
		},
		{
			name: "own prompt is enough",
			node: domain.Node{ID: "E", Type: domain.NodeTypeExtension, Data: map[string]any{"prompt": "mine"}},
			in:   Inputs{Video: completed(2)},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tt.node
			if n.ID == "" {
				n = ext
			}
			got, err := CheckExtend(n, tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, domain.IsValidation(err))
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtensionPromptPrefersOwn(t *testing.T) {
	n := domain.Node{Data: map[string]any{"prompt": "own"}}
	assert.Equal(t, "own", ExtensionPrompt(n, Inputs{Prompt: "resolved"}))
	assert.Equal(t, "resolved", ExtensionPrompt(domain.Node{}, Inputs{Prompt: "resolved"}))
}

func TestEvaluateStitch(t *testing.T) {
	nodes := []domain.Node{
		node("A", domain.NodeTypeVideo, domain.NodeStatusCompleted, map[string]any{"video_url": "a.mp4"}),
		node("B", domain.NodeTypeExtension, domain.NodeStatusCompleted, map[string]any{"video_url": "b.mp4"}),
		node("C", domain.NodeTypeVideo, domain.NodeStatusProcessing, map[string]any{"video_url": "c.mp4"}),
		node("S", domain.NodeTypeStitch, domain.NodeStatusIdle, nil),
	}
	conns := []domain.Connection{
		conn("c1", "A", "S", domain.HandleVideoOutput, ""),
		conn("c2", "C", "S", domain.HandleVideoOutput, ""),
	}

	r := Evaluate("S", nodes, conns)
	assert.False(t, r.CanStitch)
	assert.Equal(t, domain.MsgStitchNeedsVideos, r.Reason)

	conns = append(conns, conn("c3", "B", "S", domain.HandleVideoOutput, ""))
	r = Evaluate("S", nodes, conns)
	assert.True(t, r.CanStitch)

	srcs := VideoSources("S", nodes, conns)
	require.Len(t, srcs, 2)
	assert.Equal(t, "a.mp4", srcs[0].URL)
	assert.Equal(t, "b.mp4", srcs[1].URL)
}

func TestEvaluateMissingNode(t *testing.T) {
	r := Evaluate("gone", nil, nil)
	assert.False(t, r.CanGenerate)
	assert.Equal(t, domain.ErrStaleReference.Error(), r.Reason)
}

func TestAffected(t *testing.T) {
	conns := []domain.Connection{conn("c1", "P", "V", "", ""), conn("c2", "P", "W", "", "")}
	assert.Equal(t, []string{"P", "V", "W"}, Affected("P", conns))
}
