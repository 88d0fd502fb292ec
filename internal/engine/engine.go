// Package engine composes the sync components for one project.
//
// An Engine owns the store and wires the mutation gateway, job
// orchestrator, position debouncer and, when configured, the
// collaboration channel and snapshot cache around it. Optional modules
// are enabled by setting their field in Options; nothing else changes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"reelgraph/internal/clock"
	"reelgraph/internal/collab"
	"reelgraph/internal/debounce"
	"reelgraph/internal/domain"
	"reelgraph/internal/jobs"
	"reelgraph/internal/repository"
	"reelgraph/internal/service"
	"reelgraph/internal/store"
)

const (
	// DefaultCacheDelay is how long the graph must be quiet before the
	// snapshot cache is rewritten.
	DefaultCacheDelay = 2 * time.Second

	// DefaultLoadTimeout bounds the initial and resync fetches
	DefaultLoadTimeout = 30 * time.Second

	// DefaultRecoveryInterval is the first retry delay of a reload after
	// starting from the cache. Later retries back off up to
	// maxRecoveryInterval.
	DefaultRecoveryInterval = 5 * time.Second
	maxRecoveryInterval     = 2 * time.Minute

	cacheKey = "snapshot"
)

// Backend is everything the engine and its components call on the REST API
type Backend interface {
	service.Backend
	jobs.Backend
	ListNodes(ctx context.Context) ([]domain.Node, error)
	ListConnections(ctx context.Context) ([]domain.Connection, error)
}

// Options configures an Engine
type Options struct {
	ProjectID string
	Clock     clock.Clock
	Logger    zerolog.Logger

	PositionDebounce time.Duration
	JobTiming        jobs.Timing

	// Collaboration enables the real-time channel. URL and token are
	// required; ProjectID, Clock and Logger are filled in from Options.
	Collaboration *collab.Config

	// Cache enables offline start from the last known snapshot
	Cache      repository.SnapshotCache
	CacheDelay time.Duration

	LoadTimeout time.Duration

	// RecoveryInterval is the first delay between reload attempts while
	// the graph is stale
	RecoveryInterval time.Duration
}

// Status summarises the engine for health checks
type Status struct {
	ProjectID  string           `json:"project_id"`
	Loaded     bool             `json:"loaded"`
	Stale      bool             `json:"stale"`
	CachedAt   *time.Time       `json:"cached_at,omitempty"`
	Channel    string           `json:"channel"`
	UserID     string           `json:"user_id,omitempty"`
	Guest      bool             `json:"guest,omitempty"`
	ActiveJobs []jobs.ActiveJob `json:"active_jobs"`
}

// Engine keeps one project's graph in sync
type Engine struct {
	opts    Options
	backend Backend
	log     zerolog.Logger

	store     *store.Store
	positions *debounce.Debouncer
	graph     *service.GraphService
	jobs      *jobs.Orchestrator
	collab    *collab.Transport

	cache       repository.SnapshotCache
	cacheWrites *debounce.Debouncer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	stale     bool
	cachedAt  time.Time
	wasOnline bool
	closed    bool
	recovery  backoff.BackOff
	retry     clock.Timer
}

// New builds an engine. Nothing touches the network until Start.
func New(b Backend, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.CacheDelay <= 0 {
		opts.CacheDelay = DefaultCacheDelay
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.RecoveryInterval <= 0 {
		opts.RecoveryInterval = DefaultRecoveryInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		opts:    opts,
		backend: b,
		log:     opts.Logger.With().Str("component", "engine").Str("project_id", opts.ProjectID).Logger(),
		cache:   opts.Cache,
		ctx:     ctx,
		cancel:  cancel,
	}

	e.store = store.New(opts.ProjectID, opts.Logger)
	e.positions = debounce.New(opts.Clock, opts.PositionDebounce)
	e.graph = service.NewGraphService(b, e.store, e.positions, opts.Logger)
	e.jobs = jobs.New(b, e.store, jobs.Options{
		Timing:        opts.JobTiming,
		Clock:         opts.Clock,
		Logger:        opts.Logger,
		OnNodeChanged: func(nodeID string) { e.graph.PropagateFrom(nodeID) },
		OnJobFinished: e.jobFinished,
	})
	e.graph.OnNodeDeleted = func(id string) { e.jobs.Forget(id) }

	if cfg := opts.Collaboration; cfg != nil {
		c := *cfg
		c.ProjectID = opts.ProjectID
		if c.Clock == nil {
			c.Clock = opts.Clock
		}
		c.Logger = opts.Logger
		e.collab = collab.New(c, e)
	}
	if e.cache != nil {
		e.cacheWrites = debounce.New(opts.Clock, opts.CacheDelay)
	}

	return e
}

// Store returns the project graph
func (e *Engine) Store() *store.Store { return e.store }

// Graph returns the mutation gateway
func (e *Engine) Graph() *service.GraphService { return e.graph }

// Jobs returns the job orchestrator
func (e *Engine) Jobs() *jobs.Orchestrator { return e.jobs }

// Collab returns the collaboration channel, or nil when disabled
func (e *Engine) Collab() *collab.Transport { return e.collab }

// Start loads the graph, resumes interrupted jobs and opens the
// collaboration channel. A channel that cannot connect yet does not fail
// Start; it keeps retrying in the background.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Load(ctx); err != nil {
		return err
	}

	if e.cache != nil {
		events, unsubscribe := e.store.Subscribe(256)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer unsubscribe()
			e.watchForCache(events)
		}()
	}

	if e.collab != nil {
		if err := e.collab.Start(ctx); err != nil {
			e.log.Warn().Err(err).Msg("Collaboration channel unavailable, retrying in background")
		}
	}
	return nil
}

// Load fetches nodes and connections in parallel, replaces the store and
// resumes the jobs of nodes persisted as processing. When the backend is
// unreachable and a cached snapshot exists, the cache is loaded instead,
// the engine reports itself stale and keeps retrying in the background.
func (e *Engine) Load(ctx context.Context) error {
	nodes, conns, err := e.fetch(ctx)
	if err != nil {
		if cached := e.loadFromCache(ctx, err); cached {
			e.scheduleRecovery()
			return nil
		}
		return fmt.Errorf("load project %s: %w", e.opts.ProjectID, err)
	}

	e.replace(ctx, nodes, conns)
	e.log.Info().Int("nodes", len(nodes)).Int("connections", len(conns)).Msg("Graph loaded")
	return nil
}

// replace installs a fetched graph. Resume skips nodes already tracked,
// so it is safe after every fetch and picks up jobs whose pushes were
// missed.
func (e *Engine) replace(ctx context.Context, nodes []domain.Node, conns []domain.Connection) {
	e.store.Load(nodes, conns)
	e.mu.Lock()
	e.stale = false
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	e.recovery = nil
	e.mu.Unlock()

	e.propagateAll()
	e.saveSnapshot()

	if n, err := e.jobs.Resume(ctx); err != nil {
		e.log.Warn().Err(err).Msg("Job resume interrupted")
	} else if n > 0 {
		e.log.Info().Int("jobs", n).Msg("Resumed jobs")
	}
}

// scheduleRecovery arms the next reload attempt while the graph is stale
func (e *Engine) scheduleRecovery() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.stale {
		return
	}
	if e.recovery == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = e.opts.RecoveryInterval
		b.MaxInterval = maxRecoveryInterval
		b.MaxElapsedTime = 0
		b.Reset()
		e.recovery = b
	}
	delay := e.recovery.NextBackOff()
	e.retry = e.opts.Clock.AfterFunc(delay, func() {
		e.background(func(ctx context.Context) {
			if err := e.Resync(ctx); err != nil {
				e.log.Debug().Err(err).Msg("Backend still unreachable")
				e.scheduleRecovery()
				return
			}
			e.log.Info().Msg("Backend reachable again, graph reloaded")
		})
	})
}

func (e *Engine) fetch(ctx context.Context) ([]domain.Node, []domain.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.LoadTimeout)
	defer cancel()

	var (
		nodes []domain.Node
		conns []domain.Connection
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = e.backend.ListNodes(gctx)
		if err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		conns, err = e.backend.ListConnections(gctx)
		if err != nil {
			return fmt.Errorf("list connections: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return nodes, conns, nil
}

func (e *Engine) loadFromCache(ctx context.Context, cause error) bool {
	if e.cache == nil {
		return false
	}
	snap, savedAt, err := e.cache.LoadSnapshot(ctx, e.opts.ProjectID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.log.Warn().Err(err).Msg("Failed to read snapshot cache")
		}
		return false
	}

	e.store.Load(snap.Nodes, snap.Connections)
	e.mu.Lock()
	e.stale = true
	e.cachedAt = savedAt
	e.mu.Unlock()
	e.log.Warn().Err(cause).Time("cached_at", savedAt).Msg("Backend unreachable, serving cached snapshot")

	e.propagateAll()
	return true
}

func (e *Engine) propagateAll() {
	for _, n := range e.store.Snapshot().Nodes {
		e.graph.Propagate(n.ID)
	}
}

// Stale reports whether the graph came from the cache rather than the backend
func (e *Engine) Stale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stale
}

// Status reports the engine's current state
func (e *Engine) Status() Status {
	st := Status{
		ProjectID:  e.opts.ProjectID,
		Loaded:     e.store.Loaded(),
		Channel:    "disabled",
		ActiveJobs: e.jobs.ActiveJobs(),
	}
	e.mu.Lock()
	st.Stale = e.stale
	if e.stale {
		at := e.cachedAt
		st.CachedAt = &at
	}
	e.mu.Unlock()

	if e.collab != nil {
		st.Channel = string(e.collab.State())
		st.UserID = e.collab.UserID()
		st.Guest = e.collab.IsGuest()
	}
	return st
}

// Resync refetches the whole graph and resumes jobs. It runs after the
// channel comes back online, since broadcasts sent while offline were
// missed, and while recovering from a cache start.
func (e *Engine) Resync(ctx context.Context) error {
	nodes, conns, err := e.fetch(ctx)
	if err != nil {
		return err
	}
	e.replace(ctx, nodes, conns)
	return nil
}

// Close flushes pending position writes and stops every component
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	e.mu.Unlock()

	if e.collab != nil {
		e.collab.Close()
	}
	e.graph.FlushPositions()
	e.positions.Stop()
	e.jobs.Close()

	e.cancel()
	e.wg.Wait()

	if e.cacheWrites != nil {
		e.cacheWrites.Stop()
		e.saveSnapshot()
	}
	e.log.Info().Msg("Engine stopped")
}

func (e *Engine) jobFinished(job domain.Job) {
	e.store.Notify(store.Event{Type: store.EventJobFinished, NodeID: job.NodeID, Payload: job})
}
