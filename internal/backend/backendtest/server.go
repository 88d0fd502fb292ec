// Package backendtest provides an in-memory fake of the backend REST API
// for tests.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reelgraph/internal/domain"
)

// Call is one request received by the fake
type Call struct {
	Method string
	Path   string
	Body   map[string]any
}

// Server is a fake backend serving one project
type Server struct {
	*httptest.Server

	ProjectID string

	mu       sync.Mutex
	nodes    []domain.Node
	conns    []domain.Connection
	jobs     map[string]domain.Job
	latest   map[string]string
	calls    []Call
	failures map[string][]int
}

// New starts a fake backend and registers its shutdown with t
func New(t testing.TB, projectID string) *Server {
	s := &Server{
		ProjectID: projectID,
		jobs:      make(map[string]domain.Job),
		latest:    make(map[string]string),
		failures:  make(map[string][]int),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Get("/nodes", s.listNodes)
		r.Post("/nodes", s.createNode)
		r.Get("/nodes/{nodeID}", s.getNode)
		r.Put("/nodes/{nodeID}", s.updateNode)
		r.Delete("/nodes/{nodeID}", s.deleteNode)
		r.Get("/connections", s.listConnections)
		r.Post("/connections", s.createConnection)
		r.Delete("/connections/{connID}", s.deleteConnection)
	})

	r.Route("/ai", func(r chi.Router) {
		r.Post("/generate-video", s.submit(domain.JobTypeVideoGeneration))
		r.Post("/extend-video", s.submit(domain.JobTypeVideoExtension))
		r.Post("/stitch-videos", s.submit(domain.JobTypeVideoStitch))
		r.Get("/jobs/{jobID}", s.getJob)
		r.Get("/nodes/{nodeID}/jobs/latest", s.latestJob)
	})
	return r
}

// SeedNode stores a node without recording a call
func (s *Server) SeedNode(n domain.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	if n.Status == "" {
		n.Status = domain.NodeStatusIdle
	}
	s.nodes = append(s.nodes, n)
}

// SeedConnection stores a connection without recording a call
func (s *Server) SeedConnection(c domain.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = append(s.conns, c)
}

// SetJob stores or replaces a job and makes it the latest for its node
func (s *Server) SetJob(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	s.latest[job.NodeID] = job.ID
}

// DropJob forgets a job so that polls for it return 404
func (s *Server) DropJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// LatestJob returns the last job submitted for a node
func (s *Server) LatestJob(nodeID string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[s.latest[nodeID]]
	return job, ok
}

// Node returns the stored node
func (s *Server) Node(id string) (domain.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return domain.Node{}, false
}

// Connections returns the stored connections
func (s *Server) Connections() []domain.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Connection(nil), s.conns...)
}

// Fail makes the next len(statuses) requests for method and path answer
// with the given statuses, in order.
func (s *Server) Fail(method, path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.failures[key] = append(s.failures[key], statuses...)
}

// Calls returns recorded calls matching method whose path starts with prefix
func (s *Server) Calls(method, prefix string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Method == method && strings.HasPrefix(c.Path, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns the number of requests received
func (s *Server) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// NodePath returns the REST path of a node in the served project
func (s *Server) NodePath(id string) string {
	return "/projects/" + s.ProjectID + "/nodes/" + id
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &body)
			r.Body = io.NopCloser(strings.NewReader(string(raw)))
		}

		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Body: body})
		key := r.Method + " " + r.URL.Path
		status := 0
		if q := s.failures[key]; len(q) > 0 {
			status = q[0]
			s.failures[key] = q[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]map[string]any, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = nodeJSON(n)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.Node(chi.URLParam(r, "nodeID"))
	if !ok {
		http.Error(w, "Node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, nodeJSON(n))
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type      domain.NodeType `json:"type"`
		PositionX float64         `json:"position_x"`
		PositionY float64         `json:"position_y"`
		Data      map[string]any  `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	now := time.Now().UTC()
	n := domain.Node{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Position:  domain.Position{X: req.PositionX, Y: req.PositionY},
		Data:      req.Data,
		Status:    domain.NodeStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	s.SeedNode(n)
	writeJSON(w, http.StatusCreated, nodeJSON(n))
}

func (s *Server) updateNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionX *float64       `json:"position_x"`
		PositionY *float64       `json:"position_y"`
		Data      map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	id := chi.URLParam(r, "nodeID")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.nodes {
		n := &s.nodes[i]
		if n.ID != id {
			continue
		}
		if req.PositionX != nil {
			n.Position.X = *req.PositionX
		}
		if req.PositionY != nil {
			n.Position.Y = *req.PositionY
		}
		if req.Data != nil {
			n.Data = req.Data
		}
		n.UpdatedAt = time.Now().UTC()
		writeJSON(w, http.StatusOK, nodeJSON(*n))
		return
	}
	http.Error(w, "Node not found", http.StatusNotFound)
}

func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.nodes {
		if n.ID != id {
			continue
		}
		s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
		kept := s.conns[:0]
		for _, c := range s.conns {
			if !c.Involves(id) {
				kept = append(kept, c)
			}
		}
		s.conns = kept
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Error(w, "Node not found", http.StatusNotFound)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Connections())
}

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var c domain.Connection
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	for _, existing := range s.conns {
		if existing.Key() == c.Key() {
			s.mu.Unlock()
			http.Error(w, "Connection already exists", http.StatusBadRequest)
			return
		}
	}
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connID")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c.ID == id {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "Connection not found", http.StatusNotFound)
}

func (s *Server) submit(typ domain.JobType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			NodeID string `json:"node_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		job := domain.Job{
			ID:     uuid.NewString(),
			NodeID: req.NodeID,
			Type:   typ,
			Status: domain.JobStatusPending,
		}
		s.SetJob(job)
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.jobs[chi.URLParam(r, "jobID")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) latestJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.LatestJob(chi.URLParam(r, "nodeID"))
	if !ok {
		http.Error(w, "No job for node", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func nodeJSON(n domain.Node) map[string]any {
	out := map[string]any{
		"id":         n.ID,
		"type":       n.Type,
		"position_x": n.Position.X,
		"position_y": n.Position.Y,
		"data":       n.Data,
		"status":     n.Status,
		"created_at": n.CreatedAt,
		"updated_at": n.UpdatedAt,
	}
	if n.ErrorMessage != "" {
		out["error_message"] = n.ErrorMessage
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
