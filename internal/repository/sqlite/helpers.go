package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"reelgraph/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeToNull stores a time as unix nanoseconds. Zero times are NULL.
func timeToNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// nullToTime converts a nullable unix nanosecond column back to a time
func nullToTime(ni sql.NullInt64) time.Time {
	if !ni.Valid {
		return time.Time{}
	}
	return time.Unix(0, ni.Int64).UTC()
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return sonic.UnmarshalString(ns.String, target)
}

// marshalToNull marshals a value to a nullable JSON string.
// Nil and empty maps are stored as NULL.
func marshalToNull(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return sql.NullString{}, nil
	}

	data, err := sonic.MarshalString(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: data, Valid: true}, nil
}

// ============================================================================
// Schema Evolution Guide
// ============================================================================
//
// To add a column to the nodes table:
// 1. Add the field to nodeRow
// 2. APPEND it to scanArgs() and nodeColumns
// 3. Map it in toDomain() and nodeInsertArgs()
// 4. Add a migration in migrate()
//
// Column order must match between nodeColumns, scanArgs() and the
// INSERT placeholders. Same pattern applies to connections.

// ============================================================================
// Node Row Scanner
// ============================================================================

// nodeRow holds all columns from a node query for scanning
type nodeRow struct {
	ID           string
	Type         string
	PositionX    float64
	PositionY    float64
	DataJSON     sql.NullString
	Status       sql.NullString
	ErrorMessage sql.NullString
	CreatedAt    sql.NullInt64
	UpdatedAt    sql.NullInt64
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match nodeColumns order exactly.
func (r *nodeRow) scanArgs() []any {
	return []any{
		&r.ID,           // 1
		&r.Type,         // 2
		&r.PositionX,    // 3
		&r.PositionY,    // 4
		&r.DataJSON,     // 5
		&r.Status,       // 6
		&r.ErrorMessage, // 7
		&r.CreatedAt,    // 8
		&r.UpdatedAt,    // 9
	}
}

// toDomain converts the scanned row to a domain.Node
func (r *nodeRow) toDomain() (domain.Node, error) {
	node := domain.Node{
		ID:           r.ID,
		Type:         domain.NodeType(r.Type),
		Position:     domain.Position{X: r.PositionX, Y: r.PositionY},
		Status:       domain.NodeStatus(nullToString(r.Status)),
		ErrorMessage: nullToString(r.ErrorMessage),
		CreatedAt:    nullToTime(r.CreatedAt),
		UpdatedAt:    nullToTime(r.UpdatedAt),
	}
	if node.Status == "" {
		node.Status = domain.NodeStatusIdle
	}

	if err := unmarshalJSONField(r.DataJSON, &node.Data); err != nil {
		return domain.Node{}, fmt.Errorf("unmarshal data for node %s: %w", r.ID, err)
	}
	if node.Data == nil {
		node.Data = make(map[string]any)
	}
	return node, nil
}

// nodeColumns is the SELECT column list for node queries
const nodeColumns = `id, type, position_x, position_y, data, status,
	error_message, created_at, updated_at`

// nodeInsertArgs returns the values for an INSERT in nodeColumns order,
// prefixed with the project id and sequence number.
func nodeInsertArgs(projectID string, seq int, n domain.Node) ([]any, error) {
	data, err := marshalToNull(n.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal data for node %s: %w", n.ID, err)
	}
	return []any{
		projectID,
		seq,
		n.ID,
		string(n.Type),
		n.Position.X,
		n.Position.Y,
		data,
		stringToNull(string(n.Status)),
		stringToNull(n.ErrorMessage),
		timeToNull(n.CreatedAt),
		timeToNull(n.UpdatedAt),
	}, nil
}

// ============================================================================
// Connection Row Scanner
// ============================================================================

// connectionRow holds all columns from a connection query for scanning
type connectionRow struct {
	ID           string
	SourceNodeID string
	TargetNodeID string
	SourceHandle sql.NullString
	TargetHandle sql.NullString
	CreatedAt    sql.NullInt64
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match connectionColumns order exactly.
func (r *connectionRow) scanArgs() []any {
	return []any{
		&r.ID,
		&r.SourceNodeID,
		&r.TargetNodeID,
		&r.SourceHandle,
		&r.TargetHandle,
		&r.CreatedAt,
	}
}

// toDomain converts the scanned row to a domain.Connection
func (r *connectionRow) toDomain() domain.Connection {
	return domain.Connection{
		ID:           r.ID,
		SourceNodeID: r.SourceNodeID,
		TargetNodeID: r.TargetNodeID,
		SourceHandle: nullToString(r.SourceHandle),
		TargetHandle: nullToString(r.TargetHandle),
		CreatedAt:    nullToTime(r.CreatedAt),
	}
}

// connectionColumns is the SELECT column list for connection queries
const connectionColumns = `id, source_node_id, target_node_id, source_handle,
	target_handle, created_at`

func connectionInsertArgs(projectID string, seq int, c domain.Connection) []any {
	return []any{
		projectID,
		seq,
		c.ID,
		c.SourceNodeID,
		c.TargetNodeID,
		stringToNull(c.SourceHandle),
		stringToNull(c.TargetHandle),
		timeToNull(c.CreatedAt),
	}
}
