package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelgraph/internal/domain"
)

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

func sampleSnapshot() domain.Snapshot {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Snapshot{
		ProjectID: "proj",
		Nodes: []domain.Node{
			{
				ID:        "p1",
				Type:      domain.NodeTypePrompt,
				Position:  domain.Position{X: 10, Y: 20.5},
				Data:      map[string]any{"prompt": "a cat", "tags": []any{"x", "y"}},
				Status:    domain.NodeStatusIdle,
				CreatedAt: created,
				UpdatedAt: created,
			},
			{
				ID:           "v1",
				Type:         domain.NodeTypeVideo,
				Position:     domain.Position{X: 300, Y: 20},
				Data:         map[string]any{"extension_count": float64(2)},
				Status:       domain.NodeStatusFailed,
				ErrorMessage: "boom",
				CreatedAt:    created,
				UpdatedAt:    created.Add(time.Minute),
			},
		},
		Connections: []domain.Connection{
			{ID: "c1", SourceNodeID: "p1", TargetNodeID: "v1", TargetHandle: "prompt-input", CreatedAt: created},
		},
	}
}

// ============================================================================
// Helper Function Tests
// ============================================================================

func TestNullToString(t *testing.T) {
	tests := []struct {
		name     string
		input    sql.NullString
		expected string
	}{
		{"valid", sql.NullString{String: "x", Valid: true}, "x"},
		{"null", sql.NullString{}, ""},
		{"invalid with value", sql.NullString{String: "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, nullToString(tt.input))
		})
	}
}

func TestMarshalToNull(t *testing.T) {
	tests := []struct {
		name  string
		input any
		valid bool
	}{
		{"nil", nil, false},
		{"empty map", map[string]any{}, false},
		{"map", map[string]any{"a": 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := marshalToNull(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, got.Valid)
		})
	}
}

func TestTimeToNullRoundTrip(t *testing.T) {
	assert.False(t, timeToNull(time.Time{}).Valid)
	assert.True(t, nullToTime(sql.NullInt64{}).IsZero())

	ts := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	assert.True(t, ts.Equal(nullToTime(timeToNull(ts))))
}

// ============================================================================
// Snapshot Tests
// ============================================================================

func TestSaveAndLoadSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	saved := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return saved }

	want := sampleSnapshot()
	require.NoError(t, repo.SaveSnapshot(ctx, want))

	got, at, err := repo.LoadSnapshot(ctx, "proj")
	require.NoError(t, err)
	assert.True(t, saved.Equal(at))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveSnapshotReplacesPrevious(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, sampleSnapshot()))

	next := sampleSnapshot()
	next.Nodes = next.Nodes[:1]
	next.Connections = nil
	require.NoError(t, repo.SaveSnapshot(ctx, next))

	got, _, err := repo.LoadSnapshot(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "p1", got.Nodes[0].ID)
	assert.Empty(t, got.Connections)
}

func TestSnapshotsAreScopedByProject(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := sampleSnapshot()
	b := sampleSnapshot()
	b.ProjectID = "other"
	b.Nodes = b.Nodes[1:]
	b.Connections = nil
	require.NoError(t, repo.SaveSnapshot(ctx, a))
	require.NoError(t, repo.SaveSnapshot(ctx, b))

	got, _, err := repo.LoadSnapshot(ctx, "proj")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)

	got, _, err = repo.LoadSnapshot(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)

	require.NoError(t, repo.DeleteSnapshot(ctx, "other"))
	_, _, err = repo.LoadSnapshot(ctx, "other")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadMissingSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	_, _, err := repo.LoadSnapshot(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEmptyDataLoadsAsEmptyMap(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	snap := domain.Snapshot{
		ProjectID: "proj",
		Nodes:     []domain.Node{{ID: "n", Type: domain.NodeTypeImage}},
	}
	require.NoError(t, repo.SaveSnapshot(ctx, snap))

	got, _, err := repo.LoadSnapshot(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, got.Nodes, 1)
	assert.NotNil(t, got.Nodes[0].Data)
	assert.Equal(t, domain.NodeStatusIdle, got.Nodes[0].Status)
}

func TestSaveSnapshotRequiresProject(t *testing.T) {
	repo := newTestRepo(t)
	assert.Error(t, repo.SaveSnapshot(context.Background(), domain.Snapshot{}))
}
