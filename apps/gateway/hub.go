package main

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/schemahub/pkg/db"
	"github.com/mahaj/schemahub/pkg/model"
	"github.com/mahaj/schemahub/pkg/protocol"
	"github.com/mahaj/schemahub/pkg/snowflake"
	"github.com/mahaj/schemahub/pkg/workspace"
)

// relayMessage wraps an envelope on the broker so a gateway can skip frames
// it published itself and the persistence service can pick out the durable
// event kinds.
type relayMessage struct {
	Origin      string            `json:"origin"`
	WorkspaceID string            `json:"workspace_id"`
	Envelope    protocol.Envelope `json:"envelope"`
}

type inboundEvent struct {
	client *Client
	env    protocol.Envelope
}

type room struct {
	state   *workspace.State
	clients map[*Client]bool
}

type Hub struct {
	id string // unique per gateway instance, for relay origin checks

	rooms map[string]*room // workspace_id -> room
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent

	producer *kafka.Writer
	redis    *redis.Client
	node     *snowflake.Node
	store    *db.Session // nil when ScyllaDB is unavailable
}

func NewHub(gatewayID string, kafkaBrokers []string, topic string, redisAddr string, store *db.Session) *Hub {
	producer := &kafka.Writer{
		Addr:     kafka.TCP(kafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Consumer for cross-gateway fanout: unique group per instance so every
	// gateway sees every relayed frame.
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkaBrokers,
		Topic:       topic,
		GroupID:     "gateway-group-" + gatewayID,
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatalf("Failed to initialize snowflake node: %v", err)
	}

	h := &Hub{
		id:         gatewayID,
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		producer:   producer,
		redis:      rdb,
		node:       node,
		store:      store,
	}

	go func() {
		defer consumer.Close()
		for {
			m, err := consumer.ReadMessage(context.Background())
			if err != nil {
				log.Printf("Gateway consumer error: %v", err)
				break
			}
			var relay relayMessage
			if err := json.Unmarshal(m.Value, &relay); err != nil {
				log.Printf("Failed to unmarshal relay from Kafka: %v", err)
				continue
			}
			if relay.Origin == h.id {
				continue
			}
			h.deliverRelayed(relay)
		}
	}()

	return h
}

func (h *Hub) Run() {
	defer h.producer.Close()
	defer h.redis.Close()

	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case ev := <-h.inbound:
			h.handleEvent(ev.client, ev.env)
		}
	}
}

// handleRegister adds the client to its workspace room, answers the join
// handshake with the authoritative snapshot, and broadcasts the new roster.
func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	rm, ok := h.rooms[c.workspaceID]
	if !ok {
		rm = &room{
			state:   workspace.NewState(c.workspaceID, h.node),
			clients: make(map[*Client]bool),
		}
		h.rooms[c.workspaceID] = rm
		h.seedRoom(rm)
	}
	rm.clients[c] = true
	roster := rm.state.Join(c.userID, c.username, "", c.role)
	user, _ := rm.state.User(c.userID)
	h.mu.Unlock()

	h.storeRosterEntry(c.workspaceID, user)
	log.Printf("Client registered: %s in workspace %s (role=%s)", c.userID, c.workspaceID, c.role)

	ack := protocol.JoinAck{
		UserID:       c.userID,
		Username:     c.username,
		Role:         c.role,
		CanEdit:      c.role.CanEdit(),
		Users:        roster,
		Attributions: rm.state.Attributions(),
		Messages:     rm.state.ChatHistory(),
	}
	h.sendTo(c, protocol.EventJoinAck, ack)

	h.broadcastPresence(rm, c.workspaceID, roster)
	h.relay(c.workspaceID, protocol.EventRosterUpdate, user)
}

// seedRoom loads persisted attributions and the cross-gateway roster when a
// workspace room is opened, so the first local joiner still sees users homed
// on other gateways. Callers hold the hub lock.
func (h *Hub) seedRoom(rm *room) {
	if h.redis != nil {
		entries, err := h.redis.HGetAll(context.Background(), rosterKey(rm.state.ID)).Result()
		if err != nil {
			log.Printf("Failed to load roster for %s: %v", rm.state.ID, err)
		}
		for _, raw := range entries {
			var u model.CollaborativeUser
			if err := json.Unmarshal([]byte(raw), &u); err != nil {
				log.Printf("Failed to decode roster entry for %s: %v", rm.state.ID, err)
				continue
			}
			rm.state.Upsert(u)
		}
	}

	if h.store == nil {
		return
	}
	attrs, err := h.store.Attributions(rm.state.ID)
	if err != nil {
		log.Printf("Failed to load attributions for %s: %v", rm.state.ID, err)
		return
	}
	rm.state.SeedAttributions(attrs)
}

func rosterKey(workspaceID string) string {
	return "workspace:" + workspaceID + ":roster"
}

func (h *Hub) storeRosterEntry(workspaceID string, u model.CollaborativeUser) {
	if h.redis == nil {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := h.redis.HSet(context.Background(), rosterKey(workspaceID), u.ID, data).Err(); err != nil {
		log.Printf("Failed to store roster entry for %s: %v", u.ID, err)
	}
}

func (h *Hub) dropRosterEntry(workspaceID, userID string) {
	if h.redis == nil {
		return
	}
	if err := h.redis.HDel(context.Background(), rosterKey(workspaceID), userID).Err(); err != nil {
		log.Printf("Failed to drop roster entry for %s: %v", userID, err)
	}
}

func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	rm, ok := h.rooms[c.workspaceID]
	if !ok || !rm.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(rm.clients, c)
	close(c.send)
	roster := rm.state.Leave(c.userID)
	// Remote users merged from relays keep the roster non-empty, so the
	// room is dropped when the last local connection goes away.
	lastLocal := len(rm.clients) == 0
	if lastLocal {
		delete(h.rooms, c.workspaceID)
	}
	h.mu.Unlock()

	h.dropRosterEntry(c.workspaceID, c.userID)
	log.Printf("Client unregistered: %s from workspace %s", c.userID, c.workspaceID)

	if !lastLocal {
		h.broadcastPresence(rm, c.workspaceID, roster)
	}
	h.relay(c.workspaceID, protocol.EventRosterRemove, protocol.RosterRemove{UserID: c.userID})
}

// handleEvent routes one client frame. Every mutating path re-checks the
// sender's role server-side; client-side gating is convenience, not trust.
func (h *Hub) handleEvent(c *Client, env protocol.Envelope) {
	h.mu.RLock()
	rm, ok := h.rooms[c.workspaceID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := protocol.DecodePayload(env)
	if err != nil {
		c.sendError(protocol.ErrCodeBadEvent, err.Error())
		return
	}

	switch p := payload.(type) {
	case protocol.Change:
		if !rm.state.CanEdit(c.userID) {
			c.sendError(protocol.ErrCodePermissionDenied, "read-only role")
			return
		}
		// Stamp the origin; never trust the payload's identity fields.
		p.UserID = c.userID
		p.Username = c.username
		h.broadcast(rm, c.workspaceID, protocol.EventChange, p, c)

	case protocol.Typing:
		p.UserID = c.userID
		p.Username = c.username
		h.broadcast(rm, c.workspaceID, protocol.EventTyping, p, c)

	case protocol.Cursor:
		p.UserID = c.userID
		p.Username = c.username
		if p.Color == "" {
			p.Color = model.ColorFor(c.username)
		}
		h.broadcast(rm, c.workspaceID, protocol.EventCursor, p, c)

	case protocol.ChatSend:
		msg, err := rm.state.AppendChat(c.userID, p.Content)
		if err != nil {
			c.sendError(protocol.ErrCodeBadEvent, err.Error())
			return
		}
		// Echo to everyone including the sender; the sender's client only
		// appends on this echo.
		h.broadcast(rm, c.workspaceID, protocol.EventChat, msg, nil)

	case protocol.Promote:
		msg, changed, err := rm.state.Promote(c.userID, p.MessageID)
		if err != nil {
			c.sendError(protocol.ErrCodePermissionDenied, err.Error())
			return
		}
		if !changed {
			return
		}
		h.broadcast(rm, c.workspaceID, protocol.EventPromoted, protocol.Promoted{
			MessageID:  msg.ID,
			PromotedBy: c.userID,
		}, nil)

	case protocol.CommitAttribution:
		attr, err := rm.state.CommitAttribution(c.userID, p)
		if err != nil {
			c.sendError(protocol.ErrCodePermissionDenied, err.Error())
			return
		}
		h.broadcast(rm, c.workspaceID, protocol.EventAttribution, attr, nil)

	case protocol.SaveVersion:
		version, err := rm.state.NewVersion(c.userID, p)
		if err != nil {
			c.sendError(protocol.ErrCodePermissionDenied, err.Error())
			return
		}
		h.broadcast(rm, c.workspaceID, protocol.EventVersionSaved, protocol.VersionSaved{
			VersionID: version.ID,
			UserID:    c.userID,
		}, nil)
		h.relay(c.workspaceID, protocol.EventVersionRecord, version)

	case protocol.Status:
		roster, ok := rm.state.SetStatus(c.userID, p.Status)
		if ok {
			h.broadcastPresence(rm, c.workspaceID, roster)
			if user, ok := rm.state.User(c.userID); ok {
				h.storeRosterEntry(c.workspaceID, user)
				h.relay(c.workspaceID, protocol.EventRosterUpdate, user)
			}
		}

	default:
		c.sendError(protocol.ErrCodeBadEvent, "unsupported event type")
	}
}

// broadcast fans an event out to the room (skipping exclude if non-nil) and
// relays it to the broker for other gateways and the persistence service.
func (h *Hub) broadcast(rm *room, workspaceID string, t protocol.EventType, payload any, exclude *Client) {
	env, err := protocol.NewEnvelope(t, workspaceID, payload)
	if err != nil {
		log.Printf("Failed to build %s envelope: %v", t, err)
		return
	}
	h.deliverLocal(rm, env, exclude)
	h.relayEnvelope(workspaceID, env)
}

// broadcastPresence is local-only. Presence frames carry the full roster and
// clients replace theirs wholesale, so forwarding one gateway's snapshot to
// another would erase the users homed there. Cross-gateway presence travels
// as roster_update/roster_remove deltas instead; each gateway merges them
// and rebuilds the full roster for its own clients.
func (h *Hub) broadcastPresence(rm *room, workspaceID string, roster []model.CollaborativeUser) {
	env, err := protocol.NewEnvelope(protocol.EventPresence, workspaceID, protocol.PresenceSync{Users: roster})
	if err != nil {
		log.Printf("Failed to build presence envelope: %v", err)
		return
	}
	h.deliverLocal(rm, env, nil)
}

func (h *Hub) deliverLocal(rm *room, env protocol.Envelope, exclude *Client) {
	frame, err := protocol.Encode(env)
	if err != nil {
		log.Printf("Failed to encode %s frame: %v", env.Type, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range rm.clients {
		if client == exclude {
			continue
		}
		select {
		case client.send <- frame:
		default:
			// Slow consumer; drop the frame rather than stall the room.
			log.Printf("Dropping %s frame for slow client %s", env.Type, client.userID)
		}
	}
}

func (h *Hub) sendTo(c *Client, t protocol.EventType, payload any) {
	env, err := protocol.NewEnvelope(t, c.workspaceID, payload)
	if err != nil {
		log.Printf("Failed to build %s envelope: %v", t, err)
		return
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Printf("Dropping %s frame for slow client %s", t, c.userID)
	}
}

func (h *Hub) relay(workspaceID string, t protocol.EventType, payload any) {
	env, err := protocol.NewEnvelope(t, workspaceID, payload)
	if err != nil {
		log.Printf("Failed to build %s relay: %v", t, err)
		return
	}
	h.relayEnvelope(workspaceID, env)
}

func (h *Hub) relayEnvelope(workspaceID string, env protocol.Envelope) {
	if h.producer == nil {
		return
	}
	value, err := json.Marshal(relayMessage{
		Origin:      h.id,
		WorkspaceID: workspaceID,
		Envelope:    env,
	})
	if err != nil {
		log.Printf("Failed to marshal relay message: %v", err)
		return
	}
	err = h.producer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(workspaceID),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		log.Printf("Failed to write relay to Kafka: %v", err)
	}
}

// deliverRelayed handles a frame published by another gateway. Stateful
// events are merged into the local room state before fanout so late joiners
// on this gateway get a complete snapshot; roster deltas are folded into the
// roster and re-broadcast as a full presence frame.
func (h *Hub) deliverRelayed(relay relayMessage) {
	if relay.Envelope.Type == protocol.EventVersionRecord {
		return // persistence-only
	}

	h.mu.RLock()
	rm, ok := h.rooms[relay.WorkspaceID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := protocol.DecodePayload(relay.Envelope)
	if err != nil {
		log.Printf("Failed to decode relayed %s frame: %v", relay.Envelope.Type, err)
		return
	}

	switch p := payload.(type) {
	case model.CollaborativeUser:
		h.broadcastPresence(rm, relay.WorkspaceID, rm.state.Upsert(p))

	case protocol.RosterRemove:
		h.broadcastPresence(rm, relay.WorkspaceID, rm.state.Leave(p.UserID))

	case protocol.PresenceSync:
		// A peer's presence snapshot covers only its own users; the roster
		// deltas above carry this information instead.

	case model.ChatMessage:
		rm.state.MergeChat(p)
		h.deliverLocal(rm, relay.Envelope, nil)

	case protocol.Promoted:
		rm.state.MergePromoted(p.MessageID)
		h.deliverLocal(rm, relay.Envelope, nil)

	case model.BlockAttribution:
		rm.state.ApplyAttribution(p)
		h.deliverLocal(rm, relay.Envelope, nil)

	default:
		h.deliverLocal(rm, relay.Envelope, nil)
	}
}
