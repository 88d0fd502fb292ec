package domain

import "sort"

// BranchGroup is a set of variation nodes used for A/B comparison. The
// origin arm carries no branch source; every derived arm points back at
// the node it was branched from.
type BranchGroup struct {
	ID      string   `json:"id"`
	Origin  string   `json:"origin,omitempty"`
	Derived []string `json:"derived"`
}

// Size returns the number of arms in the group
func (g BranchGroup) Size() int {
	n := len(g.Derived)
	if g.Origin != "" {
		n++
	}
	return n
}

// Contains reports whether nodeID belongs to the group
func (g BranchGroup) Contains(nodeID string) bool {
	if g.Origin == nodeID {
		return true
	}
	for _, id := range g.Derived {
		if id == nodeID {
			return true
		}
	}
	return false
}

// DeriveBranchGroups builds the explicit groups from the branch tags on
// node data. Groups are sorted by ID; derived arms keep node order. When
// several untagged-source nodes share a group, the first is the origin and
// the rest are treated as derived.
func DeriveBranchGroups(nodes []Node) []BranchGroup {
	groups := make(map[string]*BranchGroup)
	for i := range nodes {
		n := &nodes[i]
		gid := n.DataString(DataBranchGroupID)
		if gid == "" {
			continue
		}
		g, ok := groups[gid]
		if !ok {
			g = &BranchGroup{ID: gid, Derived: []string{}}
			groups[gid] = g
		}
		if n.DataString(DataBranchSourceID) == "" && g.Origin == "" {
			g.Origin = n.ID
			continue
		}
		g.Derived = append(g.Derived, n.ID)
	}

	out := make([]BranchGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
