package jobs

import (
	"context"
	"fmt"

	"reelgraph/internal/backend"
	"reelgraph/internal/domain"
	"reelgraph/internal/propagation"
)

// Generate submits a video generation for nodeID. The node must have a
// prompt among its resolved inputs.
func (o *Orchestrator) Generate(ctx context.Context, nodeID string) (domain.Job, error) {
	snap := o.store.Snapshot()
	node, ok := snap.Node(nodeID)
	if !ok {
		return domain.Job{}, fmt.Errorf("generate %s: %w", nodeID, domain.ErrStaleReference)
	}
	in := propagation.Resolve(nodeID, snap.Nodes, snap.Connections)
	if err := propagation.CheckGenerate(in); err != nil {
		return domain.Job{}, err
	}

	req := backend.GenerateRequest{
		NodeID:         nodeID,
		Prompt:         in.Prompt,
		ImageURL:       in.ImageURL,
		Resolution:     node.DataString("resolution"),
		AspectRatio:    node.DataString("aspect_ratio"),
		Duration:       node.DataInt("duration"),
		NegativePrompt: node.DataString("negative_prompt"),
	}
	return o.submit(nodeID, domain.JobTypeVideoGeneration, 0, func() (domain.Job, error) {
		return o.backend.GenerateVideo(ctx, req)
	})
}

// Extend submits a continuation of the video connected to nodeID. The
// resulting chain length is checked before anything is sent.
func (o *Orchestrator) Extend(ctx context.Context, nodeID string) (domain.Job, error) {
	snap := o.store.Snapshot()
	node, ok := snap.Node(nodeID)
	if !ok {
		return domain.Job{}, fmt.Errorf("extend %s: %w", nodeID, domain.ErrStaleReference)
	}
	in := propagation.Resolve(nodeID, snap.Nodes, snap.Connections)
	next, err := propagation.CheckExtend(node, in)
	if err != nil {
		return domain.Job{}, err
	}

	req := backend.ExtendRequest{
		NodeID:         nodeID,
		VideoURL:       in.Video.URL,
		VeoVideoURI:    in.Video.VeoURI,
		Prompt:         propagation.ExtensionPrompt(node, in),
		ExtensionCount: next,
	}
	return o.submit(nodeID, domain.JobTypeVideoExtension, next, func() (domain.Job, error) {
		return o.backend.ExtendVideo(ctx, req)
	})
}

// Stitch submits a job joining every completed video connected to nodeID
func (o *Orchestrator) Stitch(ctx context.Context, nodeID string) (domain.Job, error) {
	snap := o.store.Snapshot()
	node, ok := snap.Node(nodeID)
	if !ok {
		return domain.Job{}, fmt.Errorf("stitch %s: %w", nodeID, domain.ErrStaleReference)
	}
	sources := propagation.VideoSources(nodeID, snap.Nodes, snap.Connections)
	if err := propagation.CheckStitch(sources); err != nil {
		return domain.Job{}, err
	}

	urls := make([]string, len(sources))
	for i, src := range sources {
		urls[i] = src.URL
	}
	req := backend.StitchRequest{
		NodeID:      nodeID,
		VideoURLs:   urls,
		AspectRatio: node.DataString("aspect_ratio"),
	}
	return o.submit(nodeID, domain.JobTypeVideoStitch, 0, func() (domain.Job, error) {
		return o.backend.StitchVideos(ctx, req)
	})
}

// submit marks the node as processing, sends the request and starts
// tracking the returned job. A terminal push that arrives before the
// backend answered is held and applied as soon as the job is known.
func (o *Orchestrator) submit(nodeID string, typ domain.JobType, extensionCount int, send func() (domain.Job, error)) (domain.Job, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.Job{}, fmt.Errorf("submit %s: orchestrator closed", typ)
	}
	if o.submitting[nodeID] || o.byNode[nodeID] != nil {
		o.mu.Unlock()
		return domain.Job{}, domain.Invalid(domain.MsgJobRunning)
	}
	o.submitting[nodeID] = true
	o.mu.Unlock()

	o.store.ApplyLocalNodeUpdate(nodeID, func(n *domain.Node) {
		n.Status = domain.NodeStatusProcessing
		n.ErrorMessage = ""
		n.MergeData(map[string]any{
			domain.DataProgress:        0,
			domain.DataStage:           "",
			domain.DataProgressMessage: "",
		})
	})

	job, err := send()

	o.mu.Lock()
	delete(o.submitting, nodeID)
	early, hasEarly := o.early[nodeID]
	delete(o.early, nodeID)

	if err != nil {
		o.mu.Unlock()
		o.log.Error().Err(err).Str("node_id", nodeID).Str("type", string(typ)).Msg("Job submission failed")
		o.store.SetNodeStatus(nodeID, domain.NodeStatusFailed, err.Error())
		o.nodeChanged(nodeID)
		return domain.Job{}, fmt.Errorf("submit %s: %w", typ, err)
	}
	if job.NodeID == "" {
		job.NodeID = nodeID
	}
	if job.Type == "" {
		job.Type = typ
	}

	t := &tracked{
		nodeID:         nodeID,
		jobID:          job.ID,
		typ:            job.Type,
		status:         job.Status,
		extensionCount: extensionCount,
	}
	if o.closed {
		o.mu.Unlock()
		return job, nil
	}
	o.byNode[nodeID] = t
	if !hasEarly {
		o.schedule(t, o.timing.FirstPoll)
	}
	o.mu.Unlock()

	o.store.MergeNodeData(nodeID, map[string]any{domain.DataJobID: job.ID})
	o.log.Info().Str("node_id", nodeID).Str("job_id", job.ID).Str("type", string(job.Type)).Msg("Job submitted")

	if hasEarly {
		o.HandleProgress(early)
	}
	return job, nil
}
