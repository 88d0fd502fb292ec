package domain

import (
	"encoding/binary"
	"time"

	"golang.org/x/crypto/blake2b"
)

// collaboratorPalette holds the cursor colors handed out to collaborators
var collaboratorPalette = []string{
	"#ef4444", "#f97316", "#f59e0b", "#84cc16",
	"#10b981", "#06b6d4", "#3b82f6", "#6366f1",
	"#8b5cf6", "#d946ef", "#ec4899", "#14b8a6",
}

// Collaborator is another session editing the same project
type Collaborator struct {
	UserID         string    `json:"user_id"`
	Color          string    `json:"color"`
	Cursor         *Position `json:"cursor,omitempty"`
	SelectedNodeID string    `json:"selected_node_id,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
}

// NewCollaborator creates a collaborator with its deterministic color
func NewCollaborator(userID string) *Collaborator {
	return &Collaborator{
		UserID: userID,
		Color:  ColorFor(userID),
	}
}

// ColorFor maps a user ID to a stable palette color
func ColorFor(userID string) string {
	sum := blake2b.Sum256([]byte(userID))
	idx := binary.BigEndian.Uint32(sum[:4]) % uint32(len(collaboratorPalette))
	return collaboratorPalette[idx]
}
