// Package backend is the REST client for the authoritative project store
// and the AI job endpoints.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"reelgraph/internal/domain"
)

// DefaultTimeout bounds a single REST call
const DefaultTimeout = 30 * time.Second

// Config configures a Client
type Config struct {
	BaseURL   string
	Token     string
	ProjectID string
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// Client talks to the backend REST API for one project
type Client struct {
	rc        *resty.Client
	projectID string
	log       zerolog.Logger
}

// New creates a client. The bearer token is attached to every request.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
	}

	return &Client{
		rc:        rc,
		projectID: cfg.ProjectID,
		log:       cfg.Logger.With().Str("component", "backend").Logger(),
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.rc.Close()
}

// ProjectID returns the project this client is bound to
func (c *Client) ProjectID() string {
	return c.projectID
}

// ListNodes fetches every node in the project
func (c *Client) ListNodes(ctx context.Context) ([]domain.Node, error) {
	var wire []nodeWire
	if err := c.do(ctx, http.MethodGet, c.projectPath("nodes"), nil, &wire); err != nil {
		return nil, err
	}
	nodes := make([]domain.Node, len(wire))
	for i, w := range wire {
		nodes[i] = w.toDomain()
	}
	return nodes, nil
}

// GetNode fetches a single node
func (c *Client) GetNode(ctx context.Context, id string) (domain.Node, error) {
	var w nodeWire
	if err := c.do(ctx, http.MethodGet, c.projectPath("nodes", id), nil, &w); err != nil {
		return domain.Node{}, err
	}
	return w.toDomain(), nil
}

// CreateNode creates a node; the backend assigns its ID
func (c *Client) CreateNode(ctx context.Context, req NodeCreate) (domain.Node, error) {
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	var w nodeWire
	if err := c.do(ctx, http.MethodPost, c.projectPath("nodes"), req, &w); err != nil {
		return domain.Node{}, err
	}
	return w.toDomain(), nil
}

// UpdateNode sends a partial update for a node
func (c *Client) UpdateNode(ctx context.Context, id string, req NodeUpdate) (domain.Node, error) {
	var w nodeWire
	if err := c.do(ctx, http.MethodPut, c.projectPath("nodes", id), req, &w); err != nil {
		return domain.Node{}, err
	}
	return w.toDomain(), nil
}

// DeleteNode deletes a node. The backend cascades to its connections.
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.projectPath("nodes", id), nil, nil)
}

// ListConnections fetches every connection in the project
func (c *Client) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	var conns []domain.Connection
	if err := c.do(ctx, http.MethodGet, c.projectPath("connections"), nil, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// CreateConnection creates a connection; the backend assigns its ID
func (c *Client) CreateConnection(ctx context.Context, req ConnectionCreate) (domain.Connection, error) {
	var conn domain.Connection
	if err := c.do(ctx, http.MethodPost, c.projectPath("connections"), req, &conn); err != nil {
		return domain.Connection{}, err
	}
	return conn, nil
}

// DeleteConnection deletes a connection
func (c *Client) DeleteConnection(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.projectPath("connections", id), nil, nil)
}

// GenerateVideo submits a video generation job
func (c *Client) GenerateVideo(ctx context.Context, req GenerateRequest) (domain.Job, error) {
	return c.submit(ctx, "/ai/generate-video", req)
}

// ExtendVideo submits a video extension job
func (c *Client) ExtendVideo(ctx context.Context, req ExtendRequest) (domain.Job, error) {
	return c.submit(ctx, "/ai/extend-video", req)
}

// StitchVideos submits a stitch job combining several videos
func (c *Client) StitchVideos(ctx context.Context, req StitchRequest) (domain.Job, error) {
	return c.submit(ctx, "/ai/stitch-videos", req)
}

// GetJob fetches the current state of a job
func (c *Client) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodGet, "/ai/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// LatestJobForNode fetches the most recent job submitted for a node
func (c *Client) LatestJobForNode(ctx context.Context, nodeID string) (domain.Job, error) {
	var job domain.Job
	path := "/ai/nodes/" + url.PathEscape(nodeID) + "/jobs/latest"
	if err := c.do(ctx, http.MethodGet, path, nil, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (c *Client) submit(ctx context.Context, path string, body any) (domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodPost, path, body, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (c *Client) projectPath(parts ...string) string {
	p := "/projects/" + url.PathEscape(c.projectID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	reqID := uuid.NewString()
	req := c.rc.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", reqID)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	start := time.Now()
	res, err := req.Execute(method, path)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Str("request_id", reqID).Msg("Request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", res.StatusCode()).
		Dur("elapsed", time.Since(start)).
		Str("request_id", reqID).
		Msg("Backend call")

	if res.IsError() {
		return &Error{
			Method:     method,
			Path:       path,
			StatusCode: res.StatusCode(),
			Body:       res.String(),
		}
	}
	return nil
}
