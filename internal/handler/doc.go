// Package handler implements the local observer API of the reelsync sidecar.
//
// Renderers running next to the sidecar read the synced graph and drive
// edits through it instead of talking to the backend themselves, so every
// edit goes through the same validation, persistence and propagation path.
//
// # Endpoints
//
// GET /health reports engine status: whether the graph is loaded, whether
// it came from the snapshot cache, the collaboration channel state and the
// jobs being tracked.
//
// GET /api/graph, /api/nodes/{id}/inputs, /api/branches, /api/jobs and
// /api/collaborators are read-only views of the store.
//
// Node and connection mutations mirror the backend REST surface. Job
// submission goes through /api/nodes/{id}/generate, /extend and /stitch.
// Gating failures answer 422 with the user-facing message.
//
// # Response Format
//
// Success responses return JSON data with appropriate status codes (200,
// 201, 202). Error responses return JSON with {error, details} structure.
//
// # Server-Sent Events
//
// The /events endpoint streams every store event (node and connection
// changes, resolved inputs, presence, channel state, finished jobs).
package handler
