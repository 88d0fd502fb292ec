// Package jobs tracks asynchronous generation jobs and mirrors their state
// onto the owning nodes.
//
// A job moves pending -> processing -> completed|failed. Two channels can
// advance it: polling the backend on a timer, and job_progress pushes from
// the collaboration channel. Both are reconciled through a single tracked
// entry per node; whichever channel observes the terminal state first
// removes the entry, so the terminal state is applied exactly once and a
// late poll callback finds nothing to do.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reelgraph/internal/backend"
	"reelgraph/internal/clock"
	"reelgraph/internal/domain"
	"reelgraph/internal/store"
)

// Backend is the subset of the REST client used for jobs
type Backend interface {
	GenerateVideo(ctx context.Context, req backend.GenerateRequest) (domain.Job, error)
	ExtendVideo(ctx context.Context, req backend.ExtendRequest) (domain.Job, error)
	StitchVideos(ctx context.Context, req backend.StitchRequest) (domain.Job, error)
	GetJob(ctx context.Context, jobID string) (domain.Job, error)
	LatestJobForNode(ctx context.Context, nodeID string) (domain.Job, error)
}

// Timing holds the polling schedule
type Timing struct {
	FirstPoll      time.Duration
	PollInterval   time.Duration
	ErrorBackoff   time.Duration
	RequestTimeout time.Duration
}

// DefaultTiming returns the standard polling schedule
func DefaultTiming() Timing {
	return Timing{
		FirstPoll:      2 * time.Second,
		PollInterval:   3 * time.Second,
		ErrorBackoff:   10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Options configures an Orchestrator
type Options struct {
	Timing Timing
	Clock  clock.Clock
	Logger zerolog.Logger

	// OnNodeChanged runs after a job result or reset changed a node, so
	// that inputs can be re-propagated to its dependents.
	OnNodeChanged func(nodeID string)

	// OnJobFinished runs exactly once per job that reaches a terminal state
	OnJobFinished func(job domain.Job)
}

// ActiveJob describes a job the orchestrator is currently tracking
type ActiveJob struct {
	NodeID string           `json:"node_id"`
	JobID  string           `json:"job_id,omitempty"`
	Type   domain.JobType   `json:"type,omitempty"`
	Status domain.JobStatus `json:"status"`
}

// tracked is the orchestrator's view of one node's running job. An empty
// jobID means the job is still being looked up after a reload.
type tracked struct {
	nodeID         string
	jobID          string
	typ            domain.JobType
	status         domain.JobStatus
	extensionCount int
	timer          clock.Timer
}

// Orchestrator manages job lifecycles for one project
type Orchestrator struct {
	backend Backend
	store   *store.Store
	clock   clock.Clock
	timing  Timing
	log     zerolog.Logger

	onNodeChanged func(string)
	onJobFinished func(domain.Job)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	byNode     map[string]*tracked
	submitting map[string]bool
	early      map[string]domain.JobProgress
	closed     bool
}

// New creates an orchestrator
func New(b Backend, st *store.Store, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		backend:       b,
		store:         st,
		clock:         opts.Clock,
		timing:        opts.Timing,
		log:           opts.Logger.With().Str("component", "jobs").Logger(),
		onNodeChanged: opts.OnNodeChanged,
		onJobFinished: opts.OnJobFinished,
		ctx:           ctx,
		cancel:        cancel,
		byNode:        make(map[string]*tracked),
		submitting:    make(map[string]bool),
		early:         make(map[string]domain.JobProgress),
	}
}

// ActiveJobs lists the jobs currently being tracked
func (o *Orchestrator) ActiveJobs() []ActiveJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ActiveJob, 0, len(o.byNode))
	for _, t := range o.byNode {
		out = append(out, ActiveJob{NodeID: t.nodeID, JobID: t.jobID, Type: t.typ, Status: t.status})
	}
	return out
}

// Tracking reports whether a job is being tracked for nodeID
func (o *Orchestrator) Tracking(nodeID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.byNode[nodeID]
	return ok
}

// Forget stops tracking the job of a node that no longer exists. The
// backend job is left to finish on its own; nothing is written back.
func (o *Orchestrator) Forget(nodeID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.early, nodeID)
	t, ok := o.byNode[nodeID]
	if !ok {
		return false
	}
	o.log.Debug().Str("node_id", nodeID).Str("job_id", t.jobID).Msg("Node deleted, job no longer tracked")
	return o.release(t)
}

// Close stops every poll timer and waits for in-flight requests
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for id, t := range o.byNode {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(o.byNode, id)
	}
	clear(o.early)
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.log.Debug().Msg("Job orchestrator stopped")
}

// schedule arms the next poll for t. Callers must hold o.mu.
func (o *Orchestrator) schedule(t *tracked, d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = o.clock.AfterFunc(d, func() { o.poll(t) })
}

// release removes t if it is still the tracked entry for its node and
// stops its timer. It reports whether the caller now owns the terminal
// transition. Callers must hold o.mu.
func (o *Orchestrator) release(t *tracked) bool {
	if o.byNode[t.nodeID] != t {
		return false
	}
	delete(o.byNode, t.nodeID)
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return true
}

func (o *Orchestrator) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(o.ctx, o.timing.RequestTimeout)
}

func (o *Orchestrator) nodeChanged(nodeID string) {
	if o.onNodeChanged != nil {
		o.onNodeChanged(nodeID)
	}
}
