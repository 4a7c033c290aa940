// Package collab implements the client side of the schemahub real-time
// collaboration core: one persistent connection per client, the presence
// roster, content sync, typing indicators, workspace chat and the block
// attribution engine.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/schemahub/pkg/attribution"
	"github.com/mahaj/schemahub/pkg/model"
	"github.com/mahaj/schemahub/pkg/protocol"
)

type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	// maxReconnectAttempts bounds automatic reconnection after a transport
	// drop. Join/auth failures are terminal and never retried.
	maxReconnectAttempts = 5
	reconnectBaseDelay   = 500 * time.Millisecond

	joinTimeout = 10 * time.Second

	// Pump timings, from the gateway's websocket settings.
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrJoinFailed is the terminal error for a rejected join or auth failure.
var ErrJoinFailed = errors.New("collab: join rejected")

// Config wires a Session to the host application. Only URL, WorkspaceID,
// Token and Surface are required; nil callbacks are skipped.
type Config struct {
	URL         string
	WorkspaceID string
	Token       string
	Surface     EditorSurface
	Notifier    Notifier
	Dialer      *websocket.Dialer

	OnState    func(ConnState)
	OnPresence func([]model.CollaborativeUser)
	OnTyping   func(names []string)
	OnChat     func([]model.ChatMessage)
	OnLabels   func([]attribution.Label)
	OnCursor   func(protocol.Cursor)
	OnReadOnly func(readOnly bool)
	OnVersion  func(protocol.VersionSaved)
	OnError    func(error)
}

// Session owns the persistent connection to a workspace and routes events
// between the gateway and the local components. One Session per client.
type Session struct {
	cfg Config

	userID   string
	username string

	state   atomic.Int32
	canEdit atomic.Bool
	closed  atomic.Bool

	mu   sync.Mutex
	role model.Role
	conn *websocket.Conn

	presence *Presence
	typing   *TypingIndicator
	chat     *ChatChannel
	content  *ContentSync
	engine   *attribution.Engine

	outbound chan protocol.Envelope
	done     chan struct{}
}

// Connect dials the gateway, performs the join handshake and starts the
// event pumps. A failure to authenticate or join is returned to the caller
// and is not retried; transport drops after a successful join reconnect
// automatically up to the retry budget.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.URL == "" || cfg.WorkspaceID == "" || cfg.Token == "" {
		return nil, errors.New("collab: url, workspace id and token are required")
	}
	if cfg.Surface == nil {
		return nil, errors.New("collab: editor surface is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	s := &Session{
		cfg:      cfg,
		outbound: make(chan protocol.Envelope, 256),
		done:     make(chan struct{}),
	}
	s.setState(StateConnecting)

	conn, ack, err := s.dialAndJoin(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return nil, err
	}

	s.userID = ack.UserID
	s.username = ack.Username

	s.presence = NewPresence(cfg.OnPresence)
	s.typing = NewTypingIndicator(s.sendTyping, cfg.OnTyping)
	s.chat = NewChatChannel(s.userID, s.Role, s.sendChat, s.sendPromote, cfg.Notifier, cfg.OnChat)
	s.content = NewContentSync(s.userID, cfg.Surface, s.CanEdit, s.sendChange)
	s.engine = attribution.NewEngine(cfg.Surface.Lines, s.publishLabels)

	s.applyJoinAck(ack)
	s.typing.Start()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateConnected)
	go s.runConn(conn)

	return s, nil
}

func (s *Session) dialAndJoin(ctx context.Context) (*websocket.Conn, *protocol.JoinAck, error) {
	conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("collab: dial %s: %w", s.cfg.URL, err)
	}

	join, err := protocol.NewEnvelope(protocol.EventJoin, s.cfg.WorkspaceID, protocol.Join{
		WorkspaceID: s.cfg.WorkspaceID,
		Token:       s.cfg.Token,
	})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("collab: send join: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(joinTimeout))
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("collab: await join ack: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	payload, err := protocol.DecodePayload(env)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	switch p := payload.(type) {
	case protocol.JoinAck:
		return conn, &p, nil
	case protocol.ErrorInfo:
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrJoinFailed, p.Message)
	default:
		conn.Close()
		return nil, nil, fmt.Errorf("collab: unexpected %s frame before join ack", env.Type)
	}
}

// applyJoinAck installs an authoritative workspace snapshot. Used on the
// initial join and on every rejoin after a reconnect.
func (s *Session) applyJoinAck(ack *protocol.JoinAck) {
	s.mu.Lock()
	s.role = ack.Role
	s.mu.Unlock()
	wasEditable := s.canEdit.Swap(ack.CanEdit)

	s.presence.Sync(ack.Users)
	s.engine.ReplaceAll(ack.Attributions)
	s.chat.HandleHistory(ack.Messages)

	if wasEditable != ack.CanEdit && s.cfg.OnReadOnly != nil {
		s.cfg.OnReadOnly(!ack.CanEdit)
	}
}

func (s *Session) runConn(conn *websocket.Conn) {
	connDone := make(chan struct{})
	go s.writePump(conn, connDone)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			close(connDone)
			conn.Close()
			if s.closed.Load() {
				return
			}
			s.reconnect()
			return
		}
		s.dispatch(raw)
	}
}

func (s *Session) writePump(conn *websocket.Conn, connDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-s.outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-connDone:
			return
		case <-s.done:
			return
		}
	}
}

// reconnect re-dials and re-joins after a transport drop, with backoff,
// until the retry budget is spent. The rejoin ack re-syncs every component,
// so no state survives from the broken connection.
func (s *Session) reconnect() {
	s.setState(StateReconnecting)

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := reconnectBaseDelay << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-s.done:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		conn, ack, err := s.dialAndJoin(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, ErrJoinFailed) {
				// Auth/join rejection is terminal even mid-reconnect.
				s.fail(err)
				return
			}
			log.Printf("reconnect attempt %d/%d failed: %v", attempt, maxReconnectAttempts, err)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.applyJoinAck(ack)
		s.setState(StateConnected)
		go s.runConn(conn)
		return
	}

	s.fail(fmt.Errorf("collab: gave up after %d reconnect attempts", maxReconnectAttempts))
}

func (s *Session) fail(err error) {
	s.setState(StateDisconnected)
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

func (s *Session) dispatch(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		log.Printf("dropping malformed frame: %v", err)
		return
	}
	payload, err := protocol.DecodePayload(env)
	if err != nil {
		log.Printf("dropping %s frame: %v", env.Type, err)
		return
	}

	switch p := payload.(type) {
	case protocol.PresenceSync:
		s.presence.Sync(p.Users)
	case protocol.Change:
		s.content.HandleRemote(p)
		s.engine.DocumentChanged()
	case protocol.Typing:
		if p.UserID != s.userID {
			s.typing.Handle(p)
		}
	case protocol.Cursor:
		if p.UserID != s.userID && s.cfg.OnCursor != nil {
			s.cfg.OnCursor(p)
		}
	case model.ChatMessage:
		s.chat.HandleMessage(p)
	case protocol.ChatHistory:
		s.chat.HandleHistory(p.Messages)
	case protocol.Promoted:
		s.chat.HandlePromoted(p)
	case model.BlockAttribution:
		s.engine.Apply(p)
	case protocol.VersionSaved:
		if s.cfg.OnVersion != nil {
			s.cfg.OnVersion(p)
		}
	case protocol.ErrorInfo:
		// Permission denials are gated client-side already; a server-side
		// denial means the gates disagree, which is worth logging only.
		log.Printf("server error event: %s: %s", p.Code, p.Message)
	default:
		log.Printf("ignoring unexpected %s frame", env.Type)
	}
}

func (s *Session) publishLabels(labels []attribution.Label) {
	if s.cfg.OnLabels != nil {
		s.cfg.OnLabels(labels)
	}
}

func (s *Session) enqueue(t protocol.EventType, payload any) {
	if s.closed.Load() {
		return
	}
	env, err := protocol.NewEnvelope(t, s.cfg.WorkspaceID, payload)
	if err != nil {
		log.Printf("drop outbound %s: %v", t, err)
		return
	}
	select {
	case s.outbound <- env:
	case <-s.done:
	}
}

func (s *Session) sendTyping(isTyping bool) {
	if !s.CanEdit() {
		return
	}
	s.enqueue(protocol.EventTyping, protocol.Typing{
		UserID:   s.userID,
		Username: s.username,
		IsTyping: isTyping,
	})
}

func (s *Session) sendChange(ch protocol.Change) {
	s.enqueue(protocol.EventChange, ch)
}

func (s *Session) sendChat(msg protocol.ChatSend) {
	s.enqueue(protocol.EventChatSend, msg)
}

func (s *Session) sendPromote(p protocol.Promote) {
	s.enqueue(protocol.EventPromote, p)
}

// SendChange relays a local edit. Inert while the session is read-only or a
// remote change is being applied.
func (s *Session) SendChange(edits []protocol.Edit, content string) {
	s.content.SendChange(edits, content)
	s.engine.DocumentChanged()
}

// Keystroke notes local typing for the debounced indicator.
func (s *Session) Keystroke() {
	if s.CanEdit() {
		s.typing.Keystroke()
	}
}

// SendCursor relays the local caret position.
func (s *Session) SendCursor(line, col int) {
	s.enqueue(protocol.EventCursor, protocol.Cursor{
		UserID:   s.userID,
		Username: s.username,
		Color:    model.ColorFor(s.username),
		Line:     line,
		Col:      col,
	})
}

// SendChat sends a chat message. Chat has no role gate.
func (s *Session) SendChat(text string) {
	s.chat.Send(text)
}

// PromoteMessage promotes a chat message to an intent (owner/admin only).
func (s *Session) PromoteMessage(messageID int64) error {
	return s.chat.Promote(messageID)
}

// CommitAttribution records the local user as the last editor of a block.
// Called on explicit user action, never per keystroke.
func (s *Session) CommitAttribution(blockID string, startLine, endLine int) {
	if !s.CanEdit() {
		return
	}
	s.enqueue(protocol.EventCommit, protocol.CommitAttribution{
		BlockID:   blockID,
		StartLine: startLine,
		EndLine:   endLine,
	})
}

// SaveVersion emits a save-version intent with the full current content.
func (s *Session) SaveVersion(content, note string) {
	if !s.CanEdit() {
		return
	}
	s.enqueue(protocol.EventSaveVersion, protocol.SaveVersion{Content: content, Note: note})
}

// SetStatus updates the local user's presence status.
func (s *Session) SetStatus(status model.UserStatus) {
	s.enqueue(protocol.EventStatus, protocol.Status{Status: status})
}

// DocumentChanged schedules a debounced attribution relocation pass. The
// editor surface calls this on any buffer change it does not route through
// SendChange.
func (s *Session) DocumentChanged() {
	s.engine.DocumentChanged()
}

func (s *Session) State() ConnState { return ConnState(s.state.Load()) }

func (s *Session) setState(st ConnState) {
	if ConnState(s.state.Swap(int32(st))) == st {
		return
	}
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

func (s *Session) UserID() string { return s.userID }
func (s *Session) Username() string { return s.username }

func (s *Session) Role() model.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) CanEdit() bool { return s.canEdit.Load() }

func (s *Session) Presence() *Presence { return s.presence }
func (s *Session) Chat() *ChatChannel { return s.chat }
func (s *Session) Typing() *TypingIndicator { return s.typing }
func (s *Session) Engine() *attribution.Engine { return s.engine }

// Close tears the session down: the connection is closed, debounce timers
// and the typing sweep are cancelled, and no further events are delivered.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)
	s.typing.Stop()
	s.engine.Close()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	s.setState(StateDisconnected)
}
