package domain

// Snapshot is a point-in-time copy of a project graph. Nodes and
// connections keep the order in which they were loaded or created;
// propagation depends on connection order.
type Snapshot struct {
	ProjectID   string       `json:"project_id"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		ProjectID:   s.ProjectID,
		Nodes:       make([]Node, len(s.Nodes)),
		Connections: make([]Connection, len(s.Connections)),
	}
	for i, n := range s.Nodes {
		out.Nodes[i] = n.Clone()
	}
	copy(out.Connections, s.Connections)
	return out
}

// Node looks up a node by ID
func (s Snapshot) Node(id string) (Node, bool) {
	return FindNode(s.Nodes, id)
}

// FindNode looks up a node by ID in a node list
func FindNode(nodes []Node, id string) (Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Incoming returns the connections terminating at nodeID, in list order
func Incoming(conns []Connection, nodeID string) []Connection {
	var out []Connection
	for _, c := range conns {
		if c.TargetNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Dependents returns the distinct target node IDs fed by nodeID, in
// connection order.
func Dependents(conns []Connection, nodeID string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range conns {
		if c.SourceNodeID != nodeID {
			continue
		}
		if _, ok := seen[c.TargetNodeID]; ok {
			continue
		}
		seen[c.TargetNodeID] = struct{}{}
		out = append(out, c.TargetNodeID)
	}
	return out
}
