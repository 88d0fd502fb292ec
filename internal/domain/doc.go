// Package domain defines the core types shared by the reelgraph sync engine.
//
// # Core Types
//
// Node is a creative unit (prompt, image, video, extension, stitch, ...)
// placed on the canvas, with an open data map and a generation status.
//
// Connection links a source node's output handle to a target node's input
// handle. At most one connection may terminate at a given input slot.
//
// Job is an asynchronous generation unit. Jobs are never stored in the
// graph; their progress and results are mirrored onto the owning node.
//
// Collaborator is another session on the same project, with a color
// derived from its user ID.
//
// BranchGroup is the explicit aggregate behind the branch tags that nodes
// carry in their data for A/B variations.
//
// # Errors
//
// ValidationError is returned for requests rejected before any network
// call. ErrNotFound and ErrStaleReference are sentinels tested with
// errors.Is.
package domain
