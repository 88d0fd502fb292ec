// Package collab maintains the real-time collaboration channel for a
// project: presence of other users and relayed node, connection and job
// events.
package collab

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"reelgraph/internal/clock"
	"reelgraph/internal/domain"
	"reelgraph/internal/store"
)

// State is the observable health of the channel
type State string

const (
	StateConnecting State = "connecting"
	StateOnline     State = "online"
	StateOffline    State = "offline"
)

// Close codes the server uses to refuse a session. Retrying would only be
// refused again.
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

// ErrOffline is returned when sending without a live connection
var ErrOffline = errors.New("collaboration channel offline")

// Handler receives the events relayed by the channel
type Handler interface {
	HandleNodeUpdate(ev store.RemoteNodeEvent)
	HandleConnectionEvent(ev store.RemoteConnectionEvent)
	HandleJobProgress(p domain.JobProgress)
	HandlePresence(collaborators []domain.Collaborator)
	HandleState(state State)
}

// Config configures a Transport
type Config struct {
	URL       string
	ProjectID string
	Token     string

	PingInterval     time.Duration
	CursorInterval   time.Duration
	ReconnectDelay   time.Duration
	MaxReconnects    uint64
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	Clock  clock.Clock
	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.CursorInterval <= 0 {
		c.CursorInterval = 50 * time.Millisecond
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
}

// Transport is one WebSocket session per project and user
type Transport struct {
	cfg     Config
	handler Handler
	clock   clock.Clock
	log     zerolog.Logger
	dialer  *websocket.Dialer

	mu             sync.Mutex
	conn           *websocket.Conn
	generation     int
	state          State
	userID         string
	isGuest        bool
	collaborators  map[string]*domain.Collaborator
	policy         backoff.BackOff
	reconnectTimer clock.Timer
	pingTimer      clock.Timer
	closed         bool

	lastCursor    time.Time
	pendingCursor *domain.Position
	cursorTimer   clock.Timer

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a transport. Nothing is dialled until Start.
func New(cfg Config, h Handler) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg:           cfg,
		handler:       h,
		clock:         cfg.Clock,
		log:           cfg.Logger.With().Str("component", "collab").Logger(),
		dialer:        &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		state:         StateOffline,
		collaborators: make(map[string]*domain.Collaborator),
		policy:        backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.ReconnectDelay), cfg.MaxReconnects),
	}
}

// Start dials the channel. A failed first dial is retried in the
// background on the reconnect schedule; the error is still returned so
// the caller can report that it started offline.
func (t *Transport) Start(ctx context.Context) error {
	if err := t.connect(ctx); err != nil {
		t.scheduleReconnect()
		return err
	}
	return nil
}

// Reconnect drops any current session and dials again immediately, with a
// fresh retry budget.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrOffline
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.policy.Reset()
	old := t.detachLocked()
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	t.clearPresence()

	if err := t.connect(ctx); err != nil {
		t.scheduleReconnect()
		return err
	}
	return nil
}

// Close tears the session down and clears presence
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.detachLocked()
	t.state = StateOffline
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
	t.wg.Wait()

	t.clearPresence()
	t.handler.HandleState(StateOffline)
	t.log.Debug().Msg("Collaboration channel closed")
}

// State returns the current channel state
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// UserID returns the ID the server assigned to this session
func (t *Transport) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

// IsGuest reports whether the server flagged this session as a guest
func (t *Transport) IsGuest() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isGuest
}

// SelectNode announces the local selection. An empty ID clears it.
func (t *Transport) SelectNode(nodeID string) error {
	msg := selectMsg{Type: TypeNodeSelect}
	if nodeID != "" {
		msg.NodeID = &nodeID
	}
	return t.send(msg)
}

// SendCursor announces the local cursor position, at most once per
// CursorInterval. Positions arriving faster are coalesced and the latest
// one is sent when the interval elapses.
func (t *Transport) SendCursor(pos domain.Position) error {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return ErrOffline
	}
	if t.cursorTimer != nil {
		t.pendingCursor = &pos
		t.mu.Unlock()
		return nil
	}
	now := t.clock.Now()
	if elapsed := now.Sub(t.lastCursor); !t.lastCursor.IsZero() && elapsed < t.cfg.CursorInterval {
		t.pendingCursor = &pos
		t.cursorTimer = t.clock.AfterFunc(t.cfg.CursorInterval-elapsed, t.flushCursor)
		t.mu.Unlock()
		return nil
	}
	t.lastCursor = now
	t.mu.Unlock()

	return t.send(cursorMsg{Type: TypeCursorMove, X: pos.X, Y: pos.Y})
}

func (t *Transport) flushCursor() {
	t.mu.Lock()
	pos := t.pendingCursor
	t.pendingCursor = nil
	t.cursorTimer = nil
	t.lastCursor = t.clock.Now()
	t.mu.Unlock()

	if pos == nil {
		return
	}
	if err := t.send(cursorMsg{Type: TypeCursorMove, X: pos.X, Y: pos.Y}); err != nil {
		t.log.Debug().Err(err).Msg("Dropped trailing cursor position")
	}
}

func (t *Transport) endpoint() (string, error) {
	base := strings.TrimRight(t.cfg.URL, "/")
	u, err := url.Parse(base + "/projects/" + url.PathEscape(t.cfg.ProjectID))
	if err != nil {
		return "", fmt.Errorf("collaboration url: %w", err)
	}
	q := u.Query()
	q.Set("token", t.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *Transport) connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrOffline
	}
	t.state = StateConnecting
	t.mu.Unlock()
	t.handler.HandleState(StateConnecting)

	endpoint, err := t.endpoint()
	if err != nil {
		t.setOffline()
		return err
	}

	conn, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		t.setOffline()
		return fmt.Errorf("dial collaboration channel: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrOffline
	}
	t.conn = conn
	t.generation++
	gen := t.generation
	t.state = StateOnline
	t.policy.Reset()
	t.schedulePingLocked(gen)
	t.wg.Add(1)
	t.mu.Unlock()

	go t.readLoop(conn, gen)

	t.log.Info().Str("project_id", t.cfg.ProjectID).Msg("Collaboration channel online")
	t.handler.HandleState(StateOnline)
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	defer t.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleDisconnect(gen, err)
			return
		}
		if err := t.Dispatch(data); err != nil {
			t.log.Warn().Err(err).Msg("Dropping malformed message")
		}
	}
}

// handleDisconnect tears down presence for a lost session and retries
// unless the server closed it deliberately.
func (t *Transport) handleDisconnect(gen int, err error) {
	t.mu.Lock()
	if t.closed || gen != t.generation || t.conn == nil {
		t.mu.Unlock()
		return
	}
	conn := t.detachLocked()
	t.state = StateOffline
	t.mu.Unlock()
	_ = conn.Close()

	t.clearPresence()
	t.handler.HandleState(StateOffline)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, CloseUnauthorized, CloseForbidden) {
		t.log.Info().Err(err).Msg("Collaboration channel closed by server")
		return
	}
	t.log.Warn().Err(err).Msg("Collaboration channel lost")
	t.scheduleReconnect()
}

func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.conn != nil {
		return
	}
	d := t.policy.NextBackOff()
	if d == backoff.Stop {
		t.log.Error().Msg("Giving up on collaboration channel; editing continues offline")
		return
	}
	t.log.Debug().Dur("delay", d).Msg("Scheduling reconnect")
	t.reconnectTimer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HandshakeTimeout)
		defer cancel()
		if err := t.connect(ctx); err != nil {
			t.log.Warn().Err(err).Msg("Reconnect attempt failed")
			t.scheduleReconnect()
		}
	})
}

// schedulePingLocked arms the keepalive for connection generation gen.
// Callers must hold t.mu.
func (t *Transport) schedulePingLocked(gen int) {
	t.pingTimer = t.clock.AfterFunc(t.cfg.PingInterval, func() {
		t.mu.Lock()
		if t.closed || gen != t.generation || t.conn == nil {
			t.mu.Unlock()
			return
		}
		t.schedulePingLocked(gen)
		t.mu.Unlock()

		if err := t.send(pingMsg{Type: TypePing}); err != nil {
			t.log.Debug().Err(err).Msg("Ping failed")
		}
	})
}

// detachLocked forgets the current connection and its timers and returns
// it for closing. Callers must hold t.mu.
func (t *Transport) detachLocked() *websocket.Conn {
	conn := t.conn
	t.conn = nil
	t.generation++
	if t.pingTimer != nil {
		t.pingTimer.Stop()
		t.pingTimer = nil
	}
	if t.cursorTimer != nil {
		t.cursorTimer.Stop()
		t.cursorTimer = nil
	}
	t.pendingCursor = nil
	return conn
}

func (t *Transport) setOffline() {
	t.mu.Lock()
	t.state = StateOffline
	t.mu.Unlock()
	t.handler.HandleState(StateOffline)
}

func (t *Transport) send(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrOffline
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", gjson.GetBytes(data, "type").String(), err)
	}
	return nil
}
