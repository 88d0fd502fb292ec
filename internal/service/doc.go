// Package service implements the mutation gateway for the project graph.
//
// GraphService is the only path through which the local user changes
// nodes and connections. Each operation validates against the current
// store snapshot, persists to the backend, applies the result to the
// store and then re-runs input propagation for the nodes whose inputs
// may have changed.
//
// # Failure model
//
// Validation failures are returned as *domain.ValidationError before any
// network call is made. Backend failures are logged and returned; local
// state is left exactly as it was. Operations on nodes or connections that
// no longer exist locally are silent no-ops.
//
// # Positions
//
// Node moves are applied to the store immediately and persisted through a
// per-node debouncer, so a drag produces one write for its final
// position. Failed position writes are logged and never surfaced.
package service
