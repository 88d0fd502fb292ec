package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelgraph/internal/backend"
	"reelgraph/internal/clock"
	"reelgraph/internal/domain"
	"reelgraph/internal/store"
)

// fakeBackend is an in-memory job backend
type fakeBackend struct {
	mu        sync.Mutex
	seq       int
	jobs      map[string]domain.Job
	latest    map[string]string
	submits   []any
	gets      int
	getErrs   []error
	onSubmit  func(job domain.Job)
	submitErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{jobs: map[string]domain.Job{}, latest: map[string]string{}}
}

func (f *fakeBackend) create(nodeID string, typ domain.JobType, req any) (domain.Job, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	if f.submitErr != nil {
		err := f.submitErr
		f.mu.Unlock()
		return domain.Job{}, err
	}
	f.seq++
	job := domain.Job{ID: fmt.Sprintf("job-%d", f.seq), NodeID: nodeID, Type: typ, Status: domain.JobStatusPending}
	f.jobs[job.ID] = job
	f.latest[nodeID] = job.ID
	hook := f.onSubmit
	f.mu.Unlock()

	if hook != nil {
		hook(job)
	}
	return job, nil
}

func (f *fakeBackend) GenerateVideo(_ context.Context, req backend.GenerateRequest) (domain.Job, error) {
	return f.create(req.NodeID, domain.JobTypeVideoGeneration, req)
}

func (f *fakeBackend) ExtendVideo(_ context.Context, req backend.ExtendRequest) (domain.Job, error) {
	return f.create(req.NodeID, domain.JobTypeVideoExtension, req)
}

func (f *fakeBackend) StitchVideos(_ context.Context, req backend.StitchRequest) (domain.Job, error) {
	return f.create(req.NodeID, domain.JobTypeVideoStitch, req)
}

func (f *fakeBackend) GetJob(_ context.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		return domain.Job{}, err
	}
	job, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, &backend.Error{Method: "GET", Path: "/ai/jobs/" + id, StatusCode: 404}
	}
	return job, nil
}

func (f *fakeBackend) LatestJobForNode(_ context.Context, nodeID string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[f.latest[nodeID]]
	if !ok {
		return domain.Job{}, &backend.Error{Method: "GET", Path: "/ai/nodes/" + nodeID + "/jobs/latest", StatusCode: 404}
	}
	return job, nil
}

func (f *fakeBackend) set(job domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	f.latest[job.NodeID] = job.ID
}

func (f *fakeBackend) drop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeBackend) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type harness struct {
	orch     *Orchestrator
	store    *store.Store
	backend  *fakeBackend
	clock    *clock.Fake
	finished []domain.Job
	changed  []string
}

func newHarness(t *testing.T, nodes []domain.Node, conns []domain.Connection) *harness {
	t.Helper()
	h := &harness{
		store:   store.New("proj", zerolog.Nop()),
		backend: newFakeBackend(),
		clock:   clock.NewFake(time.Unix(0, 0)),
	}
	h.store.Load(nodes, conns)
	h.orch = New(h.backend, h.store, Options{
		Clock:         h.clock,
		Logger:        zerolog.Nop(),
		OnJobFinished: func(job domain.Job) { h.finished = append(h.finished, job) },
		OnNodeChanged: func(id string) { h.changed = append(h.changed, id) },
	})
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) node(t *testing.T, id string) domain.Node {
	t.Helper()
	n, ok := h.store.Node(id)
	require.True(t, ok, "node %s", id)
	return n
}

func promptToVideo() ([]domain.Node, []domain.Connection) {
	return []domain.Node{
			{ID: "P", Type: domain.NodeTypePrompt, Data: map[string]any{"prompt": "cat"}},
			{ID: "V", Type: domain.NodeTypeVideo, Data: map[string]any{}},
		}, []domain.Connection{
			{ID: "c1", SourceNodeID: "P", TargetNodeID: "V", SourceHandle: "output", TargetHandle: "prompt-input"},
		}
}

func TestGenerateWithoutPromptMakesNoCall(t *testing.T) {
	h := newHarness(t, []domain.Node{{ID: "V", Type: domain.NodeTypeVideo}}, nil)

	_, err := h.orch.Generate(context.Background(), "V")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, domain.MsgConnectPrompt, err.Error())
	assert.Zero(t, h.backend.submitCount())
	assert.Equal(t, domain.NodeStatusIdle, h.node(t, "V").Status)
}

func TestPollingDrivesJobToCompletion(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)

	job, err := h.orch.Generate(context.Background(), "V")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusProcessing, h.node(t, "V").Status)
	got := h.node(t, "V")
	assert.Equal(t, job.ID, got.DataString(domain.DataJobID))

	h.clock.Advance(1999 * time.Millisecond)
	assert.Zero(t, h.backend.getCount(), "first poll waits two seconds")

	h.backend.set(domain.Job{ID: job.ID, NodeID: "V", Status: domain.JobStatusProcessing, Progress: 40, Stage: "rendering"})
	h.clock.Advance(time.Millisecond)
	assert.Equal(t, 1, h.backend.getCount())
	got = h.node(t, "V")
	assert.Equal(t, 40, got.DataInt(domain.DataProgress))
	got = h.node(t, "V")
	assert.Equal(t, "rendering", got.DataString(domain.DataStage))

	h.backend.set(domain.Job{
		ID: job.ID, NodeID: "V", Status: domain.JobStatusCompleted, Progress: 100,
		Result: map[string]any{"video_url": "https://cdn/v.mp4", "veo_video_uri": "veo://1"},
	})
	h.clock.Advance(3 * time.Second)
	assert.Equal(t, 2, h.backend.getCount())

	n := h.node(t, "V")
	assert.Equal(t, domain.NodeStatusCompleted, n.Status)
	assert.Equal(t, "https://cdn/v.mp4", n.DataString(domain.DataVideoURL))
	assert.Empty(t, n.ErrorMessage)
	require.Len(t, h.finished, 1)
	assert.Equal(t, domain.JobStatusCompleted, h.finished[0].Status)
	assert.Zero(t, h.clock.Pending(), "no poll timer remains after a terminal state")
	assert.False(t, h.orch.Tracking("V"))
}

func TestPushBeforeFirstPollSettlesOnce(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)

	job, err := h.orch.Generate(context.Background(), "V")
	require.NoError(t, err)
	h.backend.set(domain.Job{ID: job.ID, NodeID: "V", Status: domain.JobStatusCompleted, Result: map[string]any{"video_url": "u"}})

	h.orch.HandleProgress(domain.JobProgress{NodeID: "V", Progress: 100, Status: domain.JobStatusCompleted})
	h.orch.wg.Wait()

	assert.Equal(t, domain.NodeStatusCompleted, h.node(t, "V").Status)
	got := h.node(t, "V")
	assert.Equal(t, "u", got.DataString(domain.DataVideoURL), "result fetched once after the push")
	assert.Zero(t, h.clock.Pending())

	h.clock.Advance(10 * time.Second)
	h.orch.HandleProgress(domain.JobProgress{NodeID: "V", Progress: 100, Status: domain.JobStatusCompleted})
	h.orch.wg.Wait()

	assert.Len(t, h.finished, 1, "terminal state applied exactly once")
	assert.Equal(t, 1, h.backend.getCount(), "only the result fetch, no poll")
}

func TestPushDuringSubmissionIsHeldUntilJobKnown(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)
	h.backend.onSubmit = func(job domain.Job) {
		h.orch.HandleProgress(domain.JobProgress{NodeID: "V", Status: domain.JobStatusFailed, Message: "quota exceeded"})
	}

	_, err := h.orch.Generate(context.Background(), "V")
	require.NoError(t, err)
	h.orch.wg.Wait()

	n := h.node(t, "V")
	assert.Equal(t, domain.NodeStatusFailed, n.Status)
	assert.Equal(t, "quota exceeded", n.ErrorMessage)
	assert.Len(t, h.finished, 1)
	assert.Zero(t, h.clock.Pending())
}

func TestNonTerminalPushReschedulesPoll(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)
	job, err := h.orch.Generate(context.Background(), "V")
	require.NoError(t, err)
	h.backend.set(domain.Job{ID: job.ID, NodeID: "V", Status: domain.JobStatusProcessing})

	h.clock.Advance(time.Second)
	h.orch.HandleProgress(domain.JobProgress{NodeID: "V", Progress: 55, Status: domain.JobStatusProcessing, Message: "upscaling"})
	got := h.node(t, "V")
	assert.Equal(t, 55, got.DataInt(domain.DataProgress))
	got = h.node(t, "V")
	assert.Equal(t, "upscaling", got.DataString(domain.DataProgressMessage))
	assert.Equal(t, 1, h.clock.Pending())

	h.clock.Advance(2 * time.Second)
	assert.Zero(t, h.backend.getCount(), "original first poll was cancelled")
	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.backend.getCount())
}

func TestPollErrorBacksOff(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)
	job, err := h.orch.Generate(context.Background(), "V")
	require.NoError(t, err)
	h.backend.getErrs = []error{errors.New("connection reset")}

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, h.backend.getCount())
	assert.Equal(t, domain.NodeStatusProcessing, h.node(t, "V").Status)

	h.clock.Advance(9 * time.Second)
	assert.Equal(t, 1, h.backend.getCount(), "waits out the ten second backoff")

	h.backend.set(domain.Job{ID: job.ID, NodeID: "V", Status: domain.JobStatusFailed, Error: "safety filter"})
	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.backend.getCount())
	assert.Equal(t, domain.NodeStatusFailed, h.node(t, "V").Status)
	assert.Equal(t, "safety filter", h.node(t, "V").ErrorMessage)
}

func TestPollNotFoundResetsNode(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)
	job, err := h.orch.Generate(context.Background(), "V")
	require.NoError(t, err)
	h.backend.drop(job.ID)

	h.clock.Advance(2 * time.Second)

	n := h.node(t, "V")
	assert.Equal(t, domain.NodeStatusIdle, n.Status)
	assert.Equal(t, domain.MsgJobNotFound, n.ErrorMessage)
	assert.Zero(t, h.clock.Pending())
	assert.Empty(t, h.finished)
	assert.Contains(t, h.changed, "V")
}

func TestSubmissionFailureMarksNodeFailed(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)
	h.backend.submitErr = errors.New("insufficient credits")

	_, err := h.orch.Generate(context.Background(), "V")
	require.Error(t, err)
	assert.Equal(t, domain.NodeStatusFailed, h.node(t, "V").Status)
	assert.Contains(t, h.node(t, "V").ErrorMessage, "insufficient credits")
	assert.False(t, h.orch.Tracking("V"))
}

func TestSecondSubmitWhileRunningIsRejected(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)
	_, err := h.orch.Generate(context.Background(), "V")
	require.NoError(t, err)

	_, err = h.orch.Generate(context.Background(), "V")
	require.Error(t, err)
	assert.Equal(t, domain.MsgJobRunning, err.Error())
	assert.Equal(t, 1, h.backend.submitCount())
}

func extensionChain(count int) ([]domain.Node, []domain.Connection) {
	return []domain.Node{
			{ID: "V", Type: domain.NodeTypeVideo, Status: domain.NodeStatusCompleted, Data: map[string]any{
				"video_url": "https://cdn/v.mp4", "veo_video_uri": "veo://v", "extension_count": count,
			}},
			{ID: "E", Type: domain.NodeTypeExtension, Data: map[string]any{"prompt": "keep walking"}},
		}, []domain.Connection{
			{ID: "c1", SourceNodeID: "V", TargetNodeID: "E", SourceHandle: "video-output", TargetHandle: "video-input"},
		}
}

func TestExtendAtLimitIsRejected(t *testing.T) {
	nodes, conns := extensionChain(20)
	h := newHarness(t, nodes, conns)

	_, err := h.orch.Extend(context.Background(), "E")
	require.Error(t, err)
	assert.Equal(t, domain.MsgMaxExtensions, err.Error())
	assert.Zero(t, h.backend.submitCount(), "no job created")
	assert.Equal(t, domain.NodeStatusIdle, h.node(t, "E").Status)
}

func TestExtendCarriesNextCount(t *testing.T) {
	nodes, conns := extensionChain(3)
	h := newHarness(t, nodes, conns)

	job, err := h.orch.Extend(context.Background(), "E")
	require.NoError(t, err)
	require.Equal(t, 1, h.backend.submitCount())
	req := h.backend.submits[0].(backend.ExtendRequest)
	assert.Equal(t, 4, req.ExtensionCount)
	assert.Equal(t, "veo://v", req.VeoVideoURI)
	assert.Equal(t, "keep walking", req.Prompt)

	h.backend.set(domain.Job{ID: job.ID, NodeID: "E", Status: domain.JobStatusCompleted, Result: map[string]any{"video_url": "e.mp4"}})
	h.clock.Advance(2 * time.Second)

	n := h.node(t, "E")
	assert.Equal(t, domain.NodeStatusCompleted, n.Status)
	assert.Equal(t, 4, n.DataInt(domain.DataExtensionCount))
}

func TestStitchNeedsTwoVideos(t *testing.T) {
	nodes := []domain.Node{
		{ID: "A", Type: domain.NodeTypeVideo, Status: domain.NodeStatusCompleted, Data: map[string]any{"video_url": "a.mp4"}},
		{ID: "B", Type: domain.NodeTypeVideo, Status: domain.NodeStatusCompleted, Data: map[string]any{"video_url": "b.mp4"}},
		{ID: "S", Type: domain.NodeTypeStitch, Data: map[string]any{}},
	}
	one := []domain.Connection{{ID: "c1", SourceNodeID: "A", TargetNodeID: "S", TargetHandle: "video-input-1"}}
	h := newHarness(t, nodes, one)

	_, err := h.orch.Stitch(context.Background(), "S")
	assert.Equal(t, domain.MsgStitchNeedsVideos, err.Error())

	h.store.ApplyLocalConnectionCreate(domain.Connection{ID: "c2", SourceNodeID: "B", TargetNodeID: "S", TargetHandle: "video-input-2"})
	_, err = h.orch.Stitch(context.Background(), "S")
	require.NoError(t, err)
	req := h.backend.submits[0].(backend.StitchRequest)
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, req.VideoURLs)
}

func TestResume(t *testing.T) {
	nodes := []domain.Node{
		{ID: "done", Type: domain.NodeTypeVideo, Status: domain.NodeStatusProcessing, Data: map[string]any{}},
		{ID: "running", Type: domain.NodeTypeVideo, Status: domain.NodeStatusProcessing, Data: map[string]any{}},
		{ID: "orphan", Type: domain.NodeTypeVideo, Status: domain.NodeStatusProcessing, Data: map[string]any{}},
		{ID: "idle", Type: domain.NodeTypeVideo, Data: map[string]any{}},
	}
	h := newHarness(t, nodes, nil)
	h.backend.set(domain.Job{ID: "j1", NodeID: "done", Status: domain.JobStatusCompleted, Result: map[string]any{"video_url": "d.mp4"}})
	h.backend.set(domain.Job{ID: "j2", NodeID: "running", Status: domain.JobStatusProcessing, Progress: 30})

	n, err := h.orch.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, domain.NodeStatusCompleted, h.node(t, "done").Status)
	got := h.node(t, "done")
	assert.Equal(t, "d.mp4", got.DataString(domain.DataVideoURL))
	assert.Equal(t, domain.NodeStatusIdle, h.node(t, "orphan").Status)
	assert.Equal(t, domain.MsgNoActiveJob, h.node(t, "orphan").ErrorMessage)
	assert.Equal(t, domain.NodeStatusProcessing, h.node(t, "running").Status)
	got = h.node(t, "running")
	assert.Equal(t, 30, got.DataInt(domain.DataProgress))

	active := h.orch.ActiveJobs()
	require.Len(t, active, 1)
	assert.Equal(t, "j2", active[0].JobID)

	h.backend.set(domain.Job{ID: "j2", NodeID: "running", Status: domain.JobStatusCompleted})
	h.clock.Advance(3 * time.Second)
	assert.Equal(t, domain.NodeStatusCompleted, h.node(t, "running").Status)
	assert.Zero(t, h.clock.Pending())
}

func TestUntrackedPushOnlySettlesProcessingNodes(t *testing.T) {
	nodes := []domain.Node{
		{ID: "remote", Type: domain.NodeTypeVideo, Status: domain.NodeStatusProcessing, Data: map[string]any{"job_id": "jr"}},
		{ID: "done", Type: domain.NodeTypeVideo, Status: domain.NodeStatusCompleted, Data: map[string]any{}},
	}
	h := newHarness(t, nodes, nil)
	h.backend.set(domain.Job{ID: "jr", NodeID: "remote", Status: domain.JobStatusCompleted, Result: map[string]any{"video_url": "r.mp4"}})

	h.orch.HandleProgress(domain.JobProgress{NodeID: "remote", Status: domain.JobStatusCompleted, Progress: 100})
	h.orch.HandleProgress(domain.JobProgress{NodeID: "done", Status: domain.JobStatusFailed, Message: "late"})
	h.orch.wg.Wait()

	assert.Equal(t, domain.NodeStatusCompleted, h.node(t, "remote").Status)
	got := h.node(t, "remote")
	assert.Equal(t, "r.mp4", got.DataString(domain.DataVideoURL))
	assert.Equal(t, domain.NodeStatusCompleted, h.node(t, "done").Status)
	assert.Len(t, h.finished, 1)
}

func TestCloseSweepsTimers(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)
	_, err := h.orch.Generate(context.Background(), "V")
	require.NoError(t, err)
	require.Equal(t, 1, h.clock.Pending())

	h.orch.Close()
	assert.Zero(t, h.clock.Pending())
	h.clock.Advance(time.Minute)
	assert.Zero(t, h.backend.getCount())
}

func TestForgetStopsPollingDeletedNode(t *testing.T) {
	nodes, conns := promptToVideo()
	h := newHarness(t, nodes, conns)

	_, err := h.orch.Generate(context.Background(), "V")
	require.NoError(t, err)
	require.True(t, h.orch.Tracking("V"))

	h.store.ApplyLocalNodeDelete("V")
	assert.True(t, h.orch.Forget("V"))
	assert.False(t, h.orch.Tracking("V"))
	assert.Empty(t, h.orch.ActiveJobs())
	assert.Zero(t, h.clock.Pending(), "poll timer swept")

	h.clock.Advance(time.Minute)
	assert.Zero(t, h.backend.getCount())
	assert.Empty(t, h.finished)
	assert.False(t, h.orch.Forget("V"), "nothing left to forget")
}
