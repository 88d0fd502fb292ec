package handler

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"reelgraph/internal/backend"
	"reelgraph/internal/collab"
	"reelgraph/internal/domain"
	"reelgraph/internal/engine"
	"reelgraph/internal/service"
)

// GraphHandler serves the local observer API for one engine
type GraphHandler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(e *engine.Engine, logger zerolog.Logger) *GraphHandler {
	return &GraphHandler{
		engine: e,
		log:    logger.With().Str("component", "handler").Logger(),
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CreateNodeRequest is the body of POST /api/nodes
type CreateNodeRequest struct {
	Type     domain.NodeType `json:"type"`
	Position domain.Position `json:"position"`
	Data     map[string]any  `json:"data"`
}

// SelectRequest is the body of POST /api/collab/select. A null or empty
// node_id clears the selection.
type SelectRequest struct {
	NodeID string `json:"node_id"`
}

// Health reports engine status
func (h *GraphHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.engine.Status(), http.StatusOK)
}

// GetGraph returns the current snapshot
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.engine.Store().Snapshot(), http.StatusOK)
}

// GetInputs returns a node's resolved inputs and readiness
func (h *GraphHandler) GetInputs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok := h.engine.Graph().Resolve(id)
	if !ok {
		h.writeError(w, "Node not found", id, http.StatusNotFound)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}

// GetBranches returns the branch groups derived from node data
func (h *GraphHandler) GetBranches(w http.ResponseWriter, r *http.Request) {
	groups := h.engine.Store().BranchGroups()
	if groups == nil {
		groups = []domain.BranchGroup{}
	}
	h.writeJSON(w, groups, http.StatusOK)
}

// GetJobs lists the jobs currently being tracked
func (h *GraphHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.engine.Jobs().ActiveJobs(), http.StatusOK)
}

// GetCollaborators lists the other users present in the project
func (h *GraphHandler) GetCollaborators(w http.ResponseWriter, r *http.Request) {
	c := h.engine.Collab()
	if c == nil {
		h.writeJSON(w, []domain.Collaborator{}, http.StatusOK)
		return
	}
	h.writeJSON(w, c.Collaborators(), http.StatusOK)
}

// CreateNode creates a node through the backend
func (h *GraphHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	node, err := h.engine.Graph().CreateNode(r.Context(), req.Type, req.Position, req.Data)
	if err != nil {
		h.fail(w, "Failed to create node", err)
		return
	}
	h.writeJSON(w, node, http.StatusCreated)
}

// UpdateNodeData merges the request body into a node's data
func (h *GraphHandler) UpdateNodeData(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch map[string]any
	if !h.decode(w, r, &patch) {
		return
	}
	if !h.nodeExists(w, id) {
		return
	}

	if err := h.engine.Graph().UpdateNodeData(r.Context(), id, patch); err != nil {
		h.fail(w, "Failed to update node", err)
		return
	}
	node, _ := h.engine.Store().Node(id)
	h.writeJSON(w, node, http.StatusOK)
}

// MoveNode applies a position; persistence is debounced
func (h *GraphHandler) MoveNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var pos domain.Position
	if !h.decode(w, r, &pos) {
		return
	}

	if !h.engine.Graph().MoveNode(id, pos) {
		h.writeError(w, "Node not found", id, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DeleteNode deletes a node and its connections
func (h *GraphHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.nodeExists(w, id) {
		return
	}
	if err := h.engine.Graph().DeleteNode(r.Context(), id); err != nil {
		h.fail(w, "Failed to delete node", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateConnection validates and creates a connection
func (h *GraphHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req service.ConnectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	conn, err := h.engine.Graph().CreateConnection(r.Context(), req)
	if err != nil {
		h.fail(w, "Failed to create connection", err)
		return
	}
	h.writeJSON(w, conn, http.StatusCreated)
}

// DeleteConnection removes a connection
func (h *GraphHandler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.engine.Store().Connection(id); !ok {
		h.writeError(w, "Connection not found", id, http.StatusNotFound)
		return
	}
	if err := h.engine.Graph().DeleteConnection(r.Context(), id); err != nil {
		h.fail(w, "Failed to delete connection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Generate submits a video generation for a node
func (h *GraphHandler) Generate(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.Jobs().Generate(r.Context(), chi.URLParam(r, "id"))
	h.submitted(w, job, err)
}

// Extend submits a video extension for a node
func (h *GraphHandler) Extend(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.Jobs().Extend(r.Context(), chi.URLParam(r, "id"))
	h.submitted(w, job, err)
}

// Stitch submits a stitch of the videos connected to a node
func (h *GraphHandler) Stitch(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.Jobs().Stitch(r.Context(), chi.URLParam(r, "id"))
	h.submitted(w, job, err)
}

func (h *GraphHandler) submitted(w http.ResponseWriter, job domain.Job, err error) {
	if err != nil {
		h.fail(w, "Failed to submit job", err)
		return
	}
	h.writeJSON(w, job, http.StatusAccepted)
}

// Reconnect redials the collaboration channel with a fresh retry budget
func (h *GraphHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	c := h.collab(w)
	if c == nil {
		return
	}
	if err := c.Reconnect(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Manual reconnect failed")
		h.writeError(w, "Reconnect failed", err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, map[string]string{"state": string(c.State())}, http.StatusOK)
}

// SendCursor relays the local cursor position
func (h *GraphHandler) SendCursor(w http.ResponseWriter, r *http.Request) {
	c := h.collab(w)
	if c == nil {
		return
	}
	var pos domain.Position
	if !h.decode(w, r, &pos) {
		return
	}
	if err := c.SendCursor(pos); err != nil {
		h.fail(w, "Failed to send cursor", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SelectNode relays the local selection
func (h *GraphHandler) SelectNode(w http.ResponseWriter, r *http.Request) {
	c := h.collab(w)
	if c == nil {
		return
	}
	var req SelectRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := c.SelectNode(req.NodeID); err != nil {
		h.fail(w, "Failed to send selection", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *GraphHandler) collab(w http.ResponseWriter) *collab.Transport {
	c := h.engine.Collab()
	if c == nil {
		h.writeError(w, "Collaboration disabled", "", http.StatusNotFound)
	}
	return c
}

func (h *GraphHandler) nodeExists(w http.ResponseWriter, id string) bool {
	if _, ok := h.engine.Store().Node(id); !ok {
		h.writeError(w, "Node not found", id, http.StatusNotFound)
		return false
	}
	return true
}

func (h *GraphHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps an error to its HTTP status
func (h *GraphHandler) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	}
	h.writeError(w, msg, err.Error(), status)
}

func statusFor(err error) int {
	var ve *domain.ValidationError
	var be *backend.Error
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStaleReference), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, collab.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.As(err, &be):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *GraphHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode JSON")
	}
}

func (h *GraphHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}
