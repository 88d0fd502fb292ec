package collab

import (
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"

	"reelgraph/internal/domain"
)

// Dispatch decodes one inbound message and routes it by its type field.
// Unknown types are logged and ignored.
func (t *Transport) Dispatch(raw []byte) error {
	typ := gjson.GetBytes(raw, "type")
	if !typ.Exists() {
		return fmt.Errorf("message without type")
	}

	switch typ.String() {
	case TypeConnected:
		var m connectedMsg
		if err := sonic.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode %s: %w", TypeConnected, err)
		}
		t.mu.Lock()
		t.userID = m.UserID
		t.isGuest = m.IsGuest
		t.mu.Unlock()
		t.log.Debug().Str("user_id", m.UserID).Bool("guest", m.IsGuest).Msg("Session identified")

	case TypePong:

	case TypeNodeUpdate:
		var m nodeUpdateMsg
		if err := sonic.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode %s: %w", TypeNodeUpdate, err)
		}
		t.handler.HandleNodeUpdate(m.event())

	case TypeConnectionCreated, TypeConnectionDeleted:
		var m connectionMsg
		if err := sonic.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode %s: %w", typ.String(), err)
		}
		t.handler.HandleConnectionEvent(m.event())

	case TypeJobProgress:
		var p domain.JobProgress
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s: %w", TypeJobProgress, err)
		}
		t.handler.HandleJobProgress(p)

	case TypeCursorMove, TypeNodeSelect:
		var m presenceMsg
		if err := sonic.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode %s: %w", typ.String(), err)
		}
		if t.updatePresence(typ.String(), m) {
			t.handler.HandlePresence(t.Collaborators())
		}

	case TypeUserDisconnected:
		userID := gjson.GetBytes(raw, "user_id").String()
		t.mu.Lock()
		_, known := t.collaborators[userID]
		delete(t.collaborators, userID)
		t.mu.Unlock()
		if known {
			t.handler.HandlePresence(t.Collaborators())
		}

	default:
		t.log.Debug().Str("type", typ.String()).Msg("Ignoring unknown message type")
	}
	return nil
}

// Collaborators returns the other users currently present, by user ID
func (t *Transport) Collaborators() []domain.Collaborator {
	t.mu.Lock()
	out := make([]domain.Collaborator, 0, len(t.collaborators))
	for _, c := range t.collaborators {
		cp := *c
		if c.Cursor != nil {
			pos := *c.Cursor
			cp.Cursor = &pos
		}
		out = append(out, cp)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// updatePresence records a cursor or selection from another user. Echoes
// of the local user are ignored.
func (t *Transport) updatePresence(typ string, m presenceMsg) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.UserID == "" || m.UserID == t.userID {
		return false
	}
	c, ok := t.collaborators[m.UserID]
	if !ok {
		c = domain.NewCollaborator(m.UserID)
		t.collaborators[m.UserID] = c
	}
	c.LastSeen = t.clock.Now()

	switch typ {
	case TypeCursorMove:
		if m.X != nil && m.Y != nil {
			c.Cursor = &domain.Position{X: *m.X, Y: *m.Y}
		}
	case TypeNodeSelect:
		c.SelectedNodeID = ""
		if m.NodeID != nil {
			c.SelectedNodeID = *m.NodeID
		}
	}
	return true
}

func (t *Transport) clearPresence() {
	t.mu.Lock()
	had := len(t.collaborators) > 0
	clear(t.collaborators)
	t.mu.Unlock()
	if had {
		t.handler.HandlePresence(nil)
	}
}
