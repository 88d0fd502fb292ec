package engine

import (
	"context"

	"reelgraph/internal/collab"
	"reelgraph/internal/domain"
	"reelgraph/internal/propagation"
	"reelgraph/internal/store"
)

// HandleNodeUpdate applies a broadcast node change and re-propagates the
// node's dependents.
func (e *Engine) HandleNodeUpdate(ev store.RemoteNodeEvent) {
	if ev.Kind == store.RemoteDeleted {
		dependents := propagation.Affected(ev.NodeID, e.store.Snapshot().Connections)
		if !e.store.ApplyRemoteNodeEvent(ev) {
			return
		}
		e.jobs.Forget(ev.NodeID)
		for _, id := range dependents {
			e.graph.Propagate(id)
		}
		return
	}

	if e.store.ApplyRemoteNodeEvent(ev) {
		e.graph.PropagateFrom(ev.NodeID)
	}
}

// HandleConnectionEvent applies a broadcast connection change. A created
// event without its body triggers a refetch of the connection list.
func (e *Engine) HandleConnectionEvent(ev store.RemoteConnectionEvent) {
	if !ev.Created {
		conn, known := e.store.Connection(ev.ConnectionID)
		if e.store.ApplyRemoteConnectionEvent(ev) && known {
			e.graph.Propagate(conn.TargetNodeID)
		}
		return
	}

	if ev.Connection == nil {
		e.refetchConnections()
		return
	}
	if e.store.ApplyRemoteConnectionEvent(ev) {
		e.graph.Propagate(ev.Connection.TargetNodeID)
	}
}

// HandleJobProgress forwards a job_progress push to the orchestrator
func (e *Engine) HandleJobProgress(p domain.JobProgress) {
	e.jobs.HandleProgress(p)
}

// HandlePresence publishes the current collaborators
func (e *Engine) HandlePresence(collaborators []domain.Collaborator) {
	e.store.Notify(store.Event{Type: store.EventPresenceChanged, Payload: collaborators})
}

// HandleState publishes channel state changes. Coming back online after
// an outage triggers a resync.
func (e *Engine) HandleState(state collab.State) {
	e.store.Notify(store.Event{Type: store.EventChannelState, Payload: state})
	if state != collab.StateOnline {
		return
	}

	e.mu.Lock()
	reconnected := e.wasOnline && !e.closed
	e.wasOnline = true
	e.mu.Unlock()
	if !reconnected {
		return
	}

	e.background(func(ctx context.Context) {
		if err := e.Resync(ctx); err != nil {
			e.log.Warn().Err(err).Msg("Resync after reconnect failed")
			return
		}
		e.log.Info().Msg("Resynced after reconnect")
	})
}

func (e *Engine) refetchConnections() {
	e.background(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, e.opts.LoadTimeout)
		defer cancel()

		conns, err := e.backend.ListConnections(ctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("Failed to refetch connections")
			return
		}
		e.store.ReplaceConnections(conns)
		e.propagateAll()
	})
}

// background runs fn on its own goroutine, bound to the engine lifetime
func (e *Engine) background(fn func(ctx context.Context)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

// watchForCache schedules a snapshot write after graph changes settle
func (e *Engine) watchForCache(events <-chan store.Event) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case store.EventGraphLoaded, store.EventNodeCreated, store.EventNodeUpdated,
				store.EventNodeDeleted, store.EventConnectionCreated, store.EventConnectionDeleted:
				e.cacheWrites.Schedule(cacheKey, e.saveSnapshot)
			}
		}
	}
}

// saveSnapshot writes the current graph to the cache. A graph that itself
// came from the cache is not written back.
func (e *Engine) saveSnapshot() {
	if e.cache == nil || e.Stale() || !e.store.Loaded() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.LoadTimeout)
	defer cancel()
	if err := e.cache.SaveSnapshot(ctx, e.store.Snapshot()); err != nil {
		e.log.Warn().Err(err).Msg("Failed to write snapshot cache")
	}
}
