package collab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/schemahub/pkg/attribution"
	"github.com/mahaj/schemahub/pkg/document"
	"github.com/mahaj/schemahub/pkg/model"
	"github.com/mahaj/schemahub/pkg/protocol"
	"github.com/mahaj/schemahub/pkg/snowflake"
	"github.com/mahaj/schemahub/pkg/workspace"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type gatewayIdentity struct {
	userID   string
	username string
	role     model.Role
}

// fakeGateway is a single-room gateway speaking the real wire protocol,
// backed by the same authoritative state the production hub uses.
type fakeGateway struct {
	server *httptest.Server
	state  *workspace.State
	tokens map[string]gatewayIdentity

	mu    sync.Mutex
	conns map[string]*gatewayConn
}

type gatewayConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *gatewayConn) write(env protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteJSON(env)
}

func newFakeGateway(t *testing.T, tokens map[string]gatewayIdentity) *fakeGateway {
	t.Helper()
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	g := &fakeGateway{
		state:  workspace.NewState("ws1", node),
		tokens: tokens,
		conns:  make(map[string]*gatewayConn),
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	gc := &gatewayConn{conn: conn}

	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return
	}
	payload, err := protocol.DecodePayload(env)
	if err != nil {
		conn.Close()
		return
	}
	join, ok := payload.(protocol.Join)
	if !ok {
		conn.Close()
		return
	}

	id, ok := g.tokens[join.Token]
	if !ok {
		rejection, _ := protocol.NewEnvelope(protocol.EventError, join.WorkspaceID, protocol.ErrorInfo{
			Code:    protocol.ErrCodeJoinFailed,
			Message: "invalid token",
		})
		gc.write(rejection)
		conn.Close()
		return
	}

	g.mu.Lock()
	g.conns[id.userID] = gc
	g.mu.Unlock()
	roster := g.state.Join(id.userID, id.username, "", id.role)

	ack, _ := protocol.NewEnvelope(protocol.EventJoinAck, join.WorkspaceID, protocol.JoinAck{
		UserID:       id.userID,
		Username:     id.username,
		Role:         id.role,
		CanEdit:      id.role.CanEdit(),
		Users:        roster,
		Attributions: g.state.Attributions(),
		Messages:     g.state.ChatHistory(),
	})
	gc.write(ack)
	g.broadcastPresence(roster)

	for {
		var in protocol.Envelope
		if err := conn.ReadJSON(&in); err != nil {
			break
		}
		g.handle(id, in)
	}

	g.mu.Lock()
	delete(g.conns, id.userID)
	g.mu.Unlock()
	g.broadcastPresence(g.state.Leave(id.userID))
	conn.Close()
}

func (g *fakeGateway) handle(sender gatewayIdentity, env protocol.Envelope) {
	payload, err := protocol.DecodePayload(env)
	if err != nil {
		return
	}

	switch p := payload.(type) {
	case protocol.Change:
		if !g.state.CanEdit(sender.userID) {
			return
		}
		p.UserID = sender.userID
		p.Username = sender.username
		g.sendAll(protocol.EventChange, p, sender.userID)

	case protocol.Typing:
		p.UserID = sender.userID
		p.Username = sender.username
		g.sendAll(protocol.EventTyping, p, sender.userID)

	case protocol.Cursor:
		p.UserID = sender.userID
		p.Username = sender.username
		g.sendAll(protocol.EventCursor, p, sender.userID)

	case protocol.ChatSend:
		if msg, err := g.state.AppendChat(sender.userID, p.Content); err == nil {
			g.sendAll(protocol.EventChat, msg, "")
		}

	case protocol.Promote:
		if msg, changed, err := g.state.Promote(sender.userID, p.MessageID); err == nil && changed {
			g.sendAll(protocol.EventPromoted, protocol.Promoted{MessageID: msg.ID, PromotedBy: sender.userID}, "")
		}

	case protocol.CommitAttribution:
		if attr, err := g.state.CommitAttribution(sender.userID, p); err == nil {
			g.sendAll(protocol.EventAttribution, attr, "")
		}

	case protocol.SaveVersion:
		if v, err := g.state.NewVersion(sender.userID, p); err == nil {
			g.sendAll(protocol.EventVersionSaved, protocol.VersionSaved{VersionID: v.ID, UserID: sender.userID}, "")
		}

	case protocol.Status:
		if roster, ok := g.state.SetStatus(sender.userID, p.Status); ok {
			g.broadcastPresence(roster)
		}
	}
}

func (g *fakeGateway) broadcastPresence(roster []model.CollaborativeUser) {
	g.sendAll(protocol.EventPresence, protocol.PresenceSync{Users: roster}, "")
}

func (g *fakeGateway) sendAll(t protocol.EventType, payload any, excludeUserID string) {
	env, err := protocol.NewEnvelope(t, g.state.ID, payload)
	if err != nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for userID, gc := range g.conns {
		if userID == excludeUserID {
			continue
		}
		gc.write(env)
	}
}

type labelHolder struct {
	mu     sync.Mutex
	labels []attribution.Label
}

func (h *labelHolder) set(labels []attribution.Label) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.labels = labels
}

func (h *labelHolder) get() []attribution.Label {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.labels
}

func testTokens() map[string]gatewayIdentity {
	return map[string]gatewayIdentity{
		"tok-owner":  {userID: "u1", username: "alice", role: model.RoleOwner},
		"tok-viewer": {userID: "u2", username: "vic", role: model.RoleViewer},
	}
}

func TestSessionEndToEnd(t *testing.T) {
	gw := newFakeGateway(t, testTokens())

	ownerBuf := document.NewBuffer("model User {\n}")
	ownerLabels := &labelHolder{}
	owner, err := Connect(context.Background(), Config{
		URL:         gw.url(),
		WorkspaceID: "ws1",
		Token:       "tok-owner",
		Surface:     ownerBuf,
		OnLabels:    ownerLabels.set,
	})
	require.NoError(t, err)
	defer owner.Close()
	owner.Engine().SetDelay(20 * time.Millisecond)

	assert.Equal(t, "u1", owner.UserID())
	assert.Equal(t, "alice", owner.Username())
	assert.Equal(t, model.RoleOwner, owner.Role())
	assert.True(t, owner.CanEdit())
	assert.Equal(t, StateConnected, owner.State())

	viewerBuf := document.NewBuffer("model User {\n}")
	viewerLabels := &labelHolder{}
	var gotVersion protocol.VersionSaved
	var versionMu sync.Mutex
	viewer, err := Connect(context.Background(), Config{
		URL:         gw.url(),
		WorkspaceID: "ws1",
		Token:       "tok-viewer",
		Surface:     viewerBuf,
		OnLabels:    viewerLabels.set,
		OnVersion: func(v protocol.VersionSaved) {
			versionMu.Lock()
			gotVersion = v
			versionMu.Unlock()
		},
	})
	require.NoError(t, err)
	defer viewer.Close()
	viewer.Engine().SetDelay(20 * time.Millisecond)
	assert.False(t, viewer.CanEdit())

	// Both sides converge on the two-user roster.
	require.Eventually(t, func() bool {
		return len(owner.Presence().Users()) == 2 && len(viewer.Presence().Users()) == 2
	}, waitFor, tick)

	// The owner edits; the viewer's buffer follows and the viewer's cursor,
	// parked below the edit, shifts with the inserted line.
	viewerBuf.SetCursor(document.Position{Line: 2, Col: 1})
	edits := []protocol.Edit{{
		Range: protocol.Range{StartLine: 1, StartCol: 13, EndLine: 1, EndCol: 13},
		Text:  "\n  id Int",
	}}
	ownerBuf.ApplyEdits(edits)
	owner.SendChange(edits, ownerBuf.Content())

	require.Eventually(t, func() bool {
		return viewerBuf.Content() == "model User {\n  id Int\n}"
	}, waitFor, tick)
	assert.Equal(t, document.Position{Line: 3, Col: 1}, viewerBuf.Cursor())

	// Read-only sessions cannot emit changes; the call is simply inert.
	viewer.SendChange(nil, "sabotage")

	// Typing propagates to the peer, never back to the typist.
	owner.Keystroke()
	require.Eventually(t, func() bool {
		users := viewer.Typing().ActiveUsers()
		return len(users) == 1 && users[0] == "alice"
	}, waitFor, tick)
	assert.Empty(t, owner.Typing().ActiveUsers())

	// Chat appears on both sides only via the server echo.
	owner.SendChat("shall we split the User model?")
	require.Eventually(t, func() bool {
		return len(owner.Chat().Messages()) == 1 && len(viewer.Chat().Messages()) == 1
	}, waitFor, tick)
	msg := viewer.Chat().Messages()[0]
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "shall we split the User model?", msg.Content)

	// The sabotage change above never reached anyone.
	assert.Equal(t, "model User {\n  id Int\n}", ownerBuf.Content())

	// Viewers cannot promote; owners can, and both sides converge.
	assert.ErrorIs(t, viewer.PromoteMessage(msg.ID), ErrNotPermitted)
	require.NoError(t, owner.PromoteMessage(msg.ID))
	require.Eventually(t, func() bool {
		return owner.Chat().Messages()[0].IsPromoted && viewer.Chat().Messages()[0].IsPromoted
	}, waitFor, tick)

	// An attribution commit renders an anchored label on both sides.
	owner.CommitAttribution("model:User", 1, 3)
	require.Eventually(t, func() bool {
		ol, vl := ownerLabels.get(), viewerLabels.get()
		return len(ol) == 1 && len(vl) == 1
	}, waitFor, tick)
	label := viewerLabels.get()[0]
	assert.Equal(t, "edited by alice", label.Text)
	assert.Equal(t, 3, label.Line, "anchored to the block's closing brace")

	// A saved version is announced to every participant.
	owner.SaveVersion(ownerBuf.Content(), "added id")
	require.Eventually(t, func() bool {
		versionMu.Lock()
		defer versionMu.Unlock()
		return gotVersion.VersionID != 0 && gotVersion.UserID == "u1"
	}, waitFor, tick)

	// Status changes flow through the presence snapshot.
	owner.SetStatus(model.StatusIdle)
	require.Eventually(t, func() bool {
		u, ok := viewer.Presence().Get("u1")
		return ok && u.Status == model.StatusIdle
	}, waitFor, tick)
}

func TestSessionLateJoinerGetsSnapshot(t *testing.T) {
	gw := newFakeGateway(t, testTokens())

	ownerBuf := document.NewBuffer("model User {\n}")
	owner, err := Connect(context.Background(), Config{
		URL:         gw.url(),
		WorkspaceID: "ws1",
		Token:       "tok-owner",
		Surface:     ownerBuf,
	})
	require.NoError(t, err)
	defer owner.Close()

	owner.SendChat("before you arrived")
	owner.CommitAttribution("model:User", 1, 2)
	require.Eventually(t, func() bool {
		return len(owner.Chat().Messages()) == 1 && len(owner.Engine().Attributions()) == 1
	}, waitFor, tick)

	viewer, err := Connect(context.Background(), Config{
		URL:         gw.url(),
		WorkspaceID: "ws1",
		Token:       "tok-viewer",
		Surface:     document.NewBuffer(""),
	})
	require.NoError(t, err)
	defer viewer.Close()

	// The join ack alone carries the chat log and attribution set.
	require.Len(t, viewer.Chat().Messages(), 1)
	require.Len(t, viewer.Engine().Attributions(), 1)
	assert.Equal(t, "u1", viewer.Engine().Attributions()[0].LastEditorID)
}

func TestConnectRejectedJoinIsTerminal(t *testing.T) {
	gw := newFakeGateway(t, testTokens())

	_, err := Connect(context.Background(), Config{
		URL:         gw.url(),
		WorkspaceID: "ws1",
		Token:       "tok-forged",
		Surface:     document.NewBuffer(""),
	})
	require.ErrorIs(t, err, ErrJoinFailed)
}

func TestConnectValidatesConfig(t *testing.T) {
	_, err := Connect(context.Background(), Config{WorkspaceID: "ws1", Token: "t"})
	assert.Error(t, err)

	_, err = Connect(context.Background(), Config{URL: "ws://x", WorkspaceID: "ws1", Token: "t"})
	assert.Error(t, err, "a session without an editor surface is useless")
}
