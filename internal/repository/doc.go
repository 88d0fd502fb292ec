// Package repository defines local persistence for reelgraph.
//
// The backend is the source of truth. Locally the engine only keeps the
// last snapshot it saw per project, so that a sidecar restarted while the
// backend is down can still serve a (possibly stale) graph to renderers.
//
// # SQLite Implementation
//
// The sqlite subpackage implements SnapshotCache on modernc.org/sqlite.
// Node data is stored as JSON. Each save replaces the project's rows in a
// single transaction, and row order is kept so a reload matches the
// snapshot it came from.
package repository
