package jobs

import (
	"context"
	"maps"

	"golang.org/x/sync/errgroup"

	"reelgraph/internal/backend"
	"reelgraph/internal/domain"
)

const resumeConcurrency = 4

// HandleProgress applies a pushed job_progress notification. A terminal
// push settles the tracked job immediately and cancels its pending poll;
// any other push records progress and pushes the next poll back.
func (o *Orchestrator) HandleProgress(p domain.JobProgress) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	t := o.byNode[p.NodeID]
	switch {
	case t == nil && o.submitting[p.NodeID]:
		if p.Status.IsTerminal() {
			o.early[p.NodeID] = p
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
		o.applyProgress(p.NodeID, p.Progress, "", p.Message)

	case t == nil:
		o.mu.Unlock()
		o.handleUntracked(p)

	case p.Status.IsTerminal():
		o.release(t)
		o.mu.Unlock()
		o.settleFromPush(t, p)

	default:
		if p.Status != "" {
			t.status = p.Status
		}
		o.schedule(t, o.timing.PollInterval)
		o.mu.Unlock()
		o.applyProgress(p.NodeID, p.Progress, "", p.Message)
	}
}

// Resume reconciles every node persisted as processing with the latest
// job the backend knows for it. Active jobs resume polling, finished jobs
// are applied now and nodes without a job fall back to idle.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	nodes := o.store.NodesWithStatus(domain.NodeStatusProcessing)

	var entries []*tracked
	o.mu.Lock()
	for _, n := range nodes {
		if o.closed || o.byNode[n.ID] != nil || o.submitting[n.ID] {
			continue
		}
		t := &tracked{nodeID: n.ID, status: domain.JobStatusProcessing}
		o.byNode[n.ID] = t
		entries = append(entries, t)
	}
	o.mu.Unlock()

	if len(entries) == 0 {
		return 0, nil
	}
	o.log.Info().Int("nodes", len(entries)).Msg("Resuming jobs for processing nodes")

	var g errgroup.Group
	g.SetLimit(resumeConcurrency)
	for _, t := range entries {
		t := t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				o.mu.Lock()
				o.release(t)
				o.mu.Unlock()
				return err
			}
			o.poll(t)
			return nil
		})
	}
	return len(entries), g.Wait()
}

// poll queries the backend for t and schedules the next poll, or settles
// the job. Results for an entry that was settled while the request was in
// flight are discarded.
func (o *Orchestrator) poll(t *tracked) {
	o.mu.Lock()
	if o.closed || o.byNode[t.nodeID] != t {
		o.mu.Unlock()
		return
	}
	t.timer = nil
	jobID := t.jobID
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	ctx, cancel := o.requestContext()
	defer cancel()

	var (
		job domain.Job
		err error
	)
	if jobID == "" {
		job, err = o.backend.LatestJobForNode(ctx, t.nodeID)
	} else {
		job, err = o.backend.GetJob(ctx, jobID)
	}

	o.mu.Lock()
	if o.closed || o.byNode[t.nodeID] != t {
		o.mu.Unlock()
		o.log.Debug().Str("node_id", t.nodeID).Str("job_id", jobID).Msg("Discarding poll result for settled job")
		return
	}

	switch {
	case backend.IsNotFound(err):
		o.release(t)
		o.mu.Unlock()
		msg := domain.MsgJobNotFound
		if jobID == "" {
			msg = domain.MsgNoActiveJob
		}
		o.log.Warn().Str("node_id", t.nodeID).Str("job_id", jobID).Msg("Job not found, resetting node")
		o.reset(t.nodeID, msg)

	case err != nil:
		o.schedule(t, o.timing.ErrorBackoff)
		o.mu.Unlock()
		o.log.Warn().Err(err).Str("node_id", t.nodeID).Str("job_id", jobID).Dur("retry_in", o.timing.ErrorBackoff).Msg("Job poll failed")

	case job.Status.IsTerminal():
		if t.jobID == "" {
			t.jobID, t.typ = job.ID, job.Type
		}
		o.release(t)
		o.mu.Unlock()
		o.settle(t, job)

	default:
		if t.jobID == "" {
			t.jobID, t.typ = job.ID, job.Type
		}
		t.status = job.Status
		o.schedule(t, o.timing.PollInterval)
		o.mu.Unlock()
		o.applyProgress(t.nodeID, job.Progress, job.Stage, job.ProgressMessage)
	}
}

// settle applies a terminal job state to its node. It runs exactly once
// per job: only the caller that removed the tracked entry reaches it.
func (o *Orchestrator) settle(t *tracked, job domain.Job) {
	if job.ID == "" {
		job.ID = t.jobID
	}
	if job.Type == "" {
		job.Type = t.typ
	}
	job.NodeID = t.nodeID

	switch job.Status {
	case domain.JobStatusCompleted:
		result := maps.Clone(job.Result)
		if result == nil {
			result = make(map[string]any)
		}
		if t.extensionCount > 0 {
			if _, ok := result[domain.DataExtensionCount]; !ok {
				result[domain.DataExtensionCount] = t.extensionCount
			}
		}
		result[domain.DataProgress] = 100
		o.store.ApplyLocalNodeUpdate(t.nodeID, func(n *domain.Node) {
			n.Status = domain.NodeStatusCompleted
			n.ErrorMessage = ""
			n.MergeData(result)
		})
		o.log.Info().Str("node_id", t.nodeID).Str("job_id", job.ID).Msg("Job completed")

	case domain.JobStatusFailed:
		msg := job.Error
		if msg == "" {
			msg = domain.MsgJobFailed
		}
		o.store.SetNodeStatus(t.nodeID, domain.NodeStatusFailed, msg)
		o.log.Warn().Str("node_id", t.nodeID).Str("job_id", job.ID).Str("error", msg).Msg("Job failed")
	}

	if o.onJobFinished != nil {
		o.onJobFinished(job)
	}
	o.nodeChanged(t.nodeID)
}

// settleFromPush settles a job from a terminal push. Pushes carry no
// result payload, so a completed job is fetched once more for its result.
func (o *Orchestrator) settleFromPush(t *tracked, p domain.JobProgress) {
	job := domain.Job{
		ID:       t.jobID,
		NodeID:   t.nodeID,
		Type:     t.typ,
		Status:   p.Status,
		Progress: p.Progress,
	}
	if p.Status == domain.JobStatusFailed {
		job.Error = p.Message
	}
	o.settle(t, job)

	if p.Status == domain.JobStatusCompleted {
		o.fetchResult(t.nodeID, t.jobID)
	}
}

// handleUntracked applies a push for a job this session did not submit,
// typically one started by another collaborator. Terminal states only
// apply to nodes that are still processing.
func (o *Orchestrator) handleUntracked(p domain.JobProgress) {
	node, ok := o.store.Node(p.NodeID)
	if !ok || node.Status != domain.NodeStatusProcessing {
		o.log.Debug().Str("node_id", p.NodeID).Str("status", string(p.Status)).Msg("Ignoring progress for idle node")
		return
	}
	if !p.Status.IsTerminal() {
		o.applyProgress(p.NodeID, p.Progress, "", p.Message)
		return
	}
	o.settleFromPush(&tracked{nodeID: p.NodeID, jobID: node.DataString(domain.DataJobID)}, p)
}

// fetchResult merges the result of a completed job into its node without
// touching the node's status.
func (o *Orchestrator) fetchResult(nodeID, jobID string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		ctx, cancel := o.requestContext()
		defer cancel()

		var (
			job domain.Job
			err error
		)
		if jobID == "" {
			job, err = o.backend.LatestJobForNode(ctx, nodeID)
		} else {
			job, err = o.backend.GetJob(ctx, jobID)
		}
		if err != nil {
			o.log.Warn().Err(err).Str("node_id", nodeID).Str("job_id", jobID).Msg("Failed to fetch job result")
			return
		}
		if len(job.Result) == 0 {
			return
		}
		if o.store.MergeNodeData(nodeID, job.Result) {
			o.nodeChanged(nodeID)
		}
	}()
}

func (o *Orchestrator) reset(nodeID, msg string) {
	if o.store.SetNodeStatus(nodeID, domain.NodeStatusIdle, msg) {
		o.nodeChanged(nodeID)
	}
}

func (o *Orchestrator) applyProgress(nodeID string, progress int, stage, message string) {
	patch := map[string]any{domain.DataProgress: progress}
	if stage != "" {
		patch[domain.DataStage] = stage
	}
	if message != "" {
		patch[domain.DataProgressMessage] = message
	}
	o.store.MergeNodeData(nodeID, patch)
}
