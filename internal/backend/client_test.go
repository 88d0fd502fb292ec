package backend_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelgraph/internal/backend"
	"reelgraph/internal/backend/backendtest"
	"reelgraph/internal/domain"
)

func newClient(t *testing.T) (*backend.Client, *backendtest.Server) {
	t.Helper()
	srv := backendtest.New(t, "proj-1")
	c := backend.New(backend.Config{
		BaseURL:   srv.URL,
		Token:     "secret",
		ProjectID: "proj-1",
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestNodeRoundTripUsesFlatPosition(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()

	created, err := c.CreateNode(ctx, backend.NodeCreate{
		Type:      domain.NodeTypePrompt,
		PositionX: 10,
		PositionY: 20,
		Data:      map[string]any{"prompt": "cat"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.Position{X: 10, Y: 20}, created.Position)
	assert.Equal(t, domain.NodeStatusIdle, created.Status)

	calls := srv.Calls(http.MethodPost, "/projects/proj-1/nodes")
	require.Len(t, calls, 1)
	assert.Equal(t, float64(10), calls[0].Body["position_x"])
	assert.Equal(t, float64(20), calls[0].Body["position_y"])

	moved, err := c.UpdateNode(ctx, created.ID, backend.PositionUpdate(domain.Position{X: 20, Y: 20}))
	require.NoError(t, err)
	assert.Equal(t, domain.Position{X: 20, Y: 20}, moved.Position)
	assert.Equal(t, "cat", moved.DataString(domain.DataPrompt), "position update leaves data alone")

	nodes, err := c.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, created.ID, nodes[0].ID)

	require.NoError(t, c.DeleteNode(ctx, created.ID))
	_, err = c.GetNode(ctx, created.ID)
	assert.True(t, backend.IsNotFound(err))
}

func TestConnections(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()
	srv.SeedNode(domain.Node{ID: "a", Type: domain.NodeTypePrompt})
	srv.SeedNode(domain.Node{ID: "b", Type: domain.NodeTypeVideo})

	conn, err := c.CreateConnection(ctx, backend.ConnectionCreate{
		SourceNodeID: "a",
		TargetNodeID: "b",
		SourceHandle: domain.HandleOutput,
		TargetHandle: domain.HandlePromptInput,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)

	conns, err := c.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, domain.HandlePromptInput, conns[0].TargetHandle)

	require.NoError(t, c.DeleteConnection(ctx, conn.ID))
	err = c.DeleteConnection(ctx, conn.ID)
	assert.True(t, backend.IsNotFound(err))
}

func TestJobEndpoints(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()

	job, err := c.GenerateVideo(ctx, backend.GenerateRequest{NodeID: "v", Prompt: "cat"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.JobTypeVideoGeneration, job.Type)

	srv.SetJob(domain.Job{
		ID:       job.ID,
		NodeID:   "v",
		Type:     domain.JobTypeVideoGeneration,
		Status:   domain.JobStatusCompleted,
		Progress: 100,
		Result:   map[string]any{"video_url": "https://cdn/v.mp4"},
	})

	got, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, "https://cdn/v.mp4", got.Result["video_url"])

	latest, err := c.LatestJobForNode(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, job.ID, latest.ID)

	_, err = c.LatestJobForNode(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stitch, err := c.StitchVideos(ctx, backend.StitchRequest{NodeID: "s", VideoURLs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, domain.JobTypeVideoStitch, stitch.Type)
}

func TestErrorCarriesStatus(t *testing.T) {
	c, srv := newClient(t)
	srv.Fail(http.MethodGet, "/ai/jobs/j1", http.StatusBadGateway)

	_, err := c.GetJob(context.Background(), "j1")
	require.Error(t, err)

	var be *backend.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusBadGateway, be.StatusCode)
	assert.Equal(t, http.StatusBadGateway, backend.StatusCode(err))
	assert.False(t, backend.IsNotFound(err))
}

func TestBearerTokenIsSent(t *testing.T) {
	var auth string
	srv := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
	ts := newRawServer(t, srv)

	c := backend.New(backend.Config{BaseURL: ts, Token: "tok", ProjectID: "p", Logger: zerolog.Nop()})
	defer c.Close()

	_, err := c.ListNodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
}
