package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/schemahub/pkg/auth"
	"github.com/mahaj/schemahub/pkg/model"
	"github.com/mahaj/schemahub/pkg/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the join frame to arrive after the upgrade.
	joinWait = 10 * time.Second

	// Maximum message size allowed from peer. Change frames carry the full
	// document content as fallback, so this is much larger than a chat cap.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Identity and role granted by the join handshake.
	userID   string
	username string
	role     model.Role

	workspaceID string
}

// readPump pumps decoded frames from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("read error for %s: %v", c.userID, err)
			}
			break
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			c.sendError(protocol.ErrCodeBadEvent, err.Error())
			continue
		}
		c.hub.inbound <- inboundEvent{client: c, env: env}
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError queues an error frame, dropping it if the client is backed up.
func (c *Client) sendError(code, message string) {
	env, err := protocol.NewEnvelope(protocol.EventError, c.workspaceID, protocol.ErrorInfo{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// serveWs upgrades the connection and runs the join handshake: the first
// frame must be a join carrying the workspace id and auth token. The join
// response (role, canEdit, roster, attributions, chat log) is sent by the
// hub once the client is registered.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(joinWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	join, err := decodeJoin(raw)
	if err != nil {
		rejectJoin(conn, err.Error())
		return
	}

	claims, err := auth.ValidateToken(join.Token)
	if err != nil {
		log.Printf("join rejected: invalid token: %v", err)
		rejectJoin(conn, "invalid token")
		return
	}
	if join.WorkspaceID == "" {
		rejectJoin(conn, "workspace id is required")
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		userID:      claims.UserID,
		username:    claims.Username,
		role:        claims.Role,
		workspaceID: join.WorkspaceID,
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func decodeJoin(raw []byte) (*protocol.Join, error) {
	env, err := protocol.Decode(raw)
	if err != nil {
		return nil, err
	}
	payload, err := protocol.DecodePayload(env)
	if err != nil {
		return nil, err
	}
	join, ok := payload.(protocol.Join)
	if !ok {
		return nil, fmt.Errorf("expected join frame, got %s", env.Type)
	}
	return &join, nil
}

func rejectJoin(conn *websocket.Conn, message string) {
	env, err := protocol.NewEnvelope(protocol.EventError, "", protocol.ErrorInfo{
		Code:    protocol.ErrCodeJoinFailed,
		Message: message,
	})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(env)
	}
	conn.Close()
}
