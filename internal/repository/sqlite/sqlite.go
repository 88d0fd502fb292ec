package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"reelgraph/internal/domain"
)

// Repository implements repository.SnapshotCache using SQLite
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the cache database at dbPath and migrates it
func New(dbPath string) (*Repository, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is its own database
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db, now: time.Now}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		project_id TEXT PRIMARY KEY,
		saved_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		project_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		position_x REAL NOT NULL DEFAULT 0,
		position_y REAL NOT NULL DEFAULT 0,
		data JSON,
		status TEXT,
		error_message TEXT,
		created_at INTEGER,
		updated_at INTEGER,
		PRIMARY KEY (project_id, id)
	);

	CREATE TABLE IF NOT EXISTS connections (
		project_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		source_node_id TEXT NOT NULL,
		target_node_id TEXT NOT NULL,
		source_handle TEXT,
		target_handle TEXT,
		created_at INTEGER,
		PRIMARY KEY (project_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_project ON nodes(project_id, seq);
	CREATE INDEX IF NOT EXISTS idx_connections_project ON connections(project_id, seq);
	`

	_, err := r.db.Exec(schema)
	return err
}

// SaveSnapshot replaces the cached graph for the snapshot's project
func (r *Repository) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if snap.ProjectID == "" {
		return fmt.Errorf("snapshot has no project id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"nodes", "connections", "snapshots"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE project_id = ?", snap.ProjectID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (project_id, seq, `+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare node insert: %w", err)
	}
	defer nodeStmt.Close()

	for i, n := range snap.Nodes {
		args, err := nodeInsertArgs(snap.ProjectID, i, n)
		if err != nil {
			return err
		}
		if _, err := nodeStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}

	connStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO connections (project_id, seq, `+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare connection insert: %w", err)
	}
	defer connStmt.Close()

	for i, c := range snap.Connections {
		if _, err := connStmt.ExecContext(ctx, connectionInsertArgs(snap.ProjectID, i, c)...); err != nil {
			return fmt.Errorf("insert connection %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (project_id, saved_at) VALUES (?, ?)",
		snap.ProjectID, r.now().UnixNano()); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}

	return tx.Commit()
}

// LoadSnapshot returns the cached graph for a project and when it was saved.
// It returns domain.ErrNotFound when nothing has been cached.
func (r *Repository) LoadSnapshot(ctx context.Context, projectID string) (domain.Snapshot, time.Time, error) {
	var savedAt int64
	err := r.db.QueryRowContext(ctx,
		"SELECT saved_at FROM snapshots WHERE project_id = ?", projectID).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, time.Time{}, fmt.Errorf("snapshot for project %s: %w", projectID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Snapshot{}, time.Time{}, fmt.Errorf("query snapshot: %w", err)
	}

	snap := domain.Snapshot{ProjectID: projectID}

	snap.Nodes, err = r.loadNodes(ctx, projectID)
	if err != nil {
		return domain.Snapshot{}, time.Time{}, err
	}
	snap.Connections, err = r.loadConnections(ctx, projectID)
	if err != nil {
		return domain.Snapshot{}, time.Time{}, err
	}

	return snap, time.Unix(0, savedAt).UTC(), nil
}

func (r *Repository) loadNodes(ctx context.Context, projectID string) ([]domain.Node, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+nodeColumns+" FROM nodes WHERE project_id = ? ORDER BY seq", projectID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []domain.Node{}
	for rows.Next() {
		var row nodeRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		node, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func (r *Repository) loadConnections(ctx context.Context, projectID string) ([]domain.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+connectionColumns+" FROM connections WHERE project_id = ? ORDER BY seq", projectID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	conns := []domain.Connection{}
	for rows.Next() {
		var row connectionRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, row.toDomain())
	}
	return conns, rows.Err()
}

// DeleteSnapshot drops the cached graph for a project
func (r *Repository) DeleteSnapshot(ctx context.Context, projectID string) error {
	for _, table := range []string{"nodes", "connections", "snapshots"} {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE project_id = ?", projectID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
