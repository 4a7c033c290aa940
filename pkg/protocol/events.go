// Package protocol defines the wire contract between clients and the
// gateway. Every frame is an Envelope carrying a tagged payload; payloads
// are decoded and validated once at the boundary so internal components
// never handle untyped data.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mahaj/schemahub/pkg/model"
)

type EventType string

const (
	EventJoin         EventType = "join"
	EventJoinAck      EventType = "join_ack"
	EventPresence     EventType = "presence"
	EventChange       EventType = "change"
	EventTyping       EventType = "typing"
	EventCursor       EventType = "cursor"
	EventChatSend     EventType = "chat_send"
	EventChat         EventType = "chat"
	EventChatHistory  EventType = "chat_history"
	EventPromote      EventType = "promote"
	EventPromoted     EventType = "promoted"
	EventCommit       EventType = "commit_attribution"
	EventAttribution  EventType = "attribution"
	EventSaveVersion  EventType = "save_version"
	EventVersionSaved EventType = "version_saved"
	EventStatus       EventType = "status"
	EventError        EventType = "error"

	// Broker-only event types; never sent to clients. EventVersionRecord
	// carries a stamped version snapshot for the persistence service.
	// EventRosterUpdate and EventRosterRemove carry roster deltas between
	// gateways: each gateway merges them into its own room state and
	// broadcasts the merged roster, because a peer's presence snapshot
	// covers only the users homed on that peer.
	EventVersionRecord EventType = "version_record"
	EventRosterUpdate  EventType = "roster_update"
	EventRosterRemove  EventType = "roster_remove"
)

type Envelope struct {
	Type        EventType       `json:"type"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Join is the first client frame after the connection opens.
type Join struct {
	WorkspaceID string `json:"workspace_id"`
	Token       string `json:"token"`
}

// JoinAck carries the authoritative workspace snapshot: granted role,
// current roster, the full attribution set and the session chat log.
type JoinAck struct {
	UserID       string                    `json:"user_id"`
	Username     string                    `json:"username"`
	Role         model.Role                `json:"role"`
	CanEdit      bool                      `json:"can_edit"`
	Users        []model.CollaborativeUser `json:"users"`
	Attributions []model.BlockAttribution  `json:"attributions"`
	Messages     []model.ChatMessage       `json:"messages"`
}

// PresenceSync always carries the full authoritative roster; clients replace
// their copy wholesale and never merge.
type PresenceSync struct {
	Users []model.CollaborativeUser `json:"users"`
}

// Range addresses a span of the document. Lines and columns are 1-based;
// the end position is exclusive.
type Range struct {
	StartLine int `json:"start_line"`
	StartCol  int `json:"start_col"`
	EndLine   int `json:"end_line"`
	EndCol    int `json:"end_col"`
}

// Edit replaces the text inside Range with Text.
type Edit struct {
	Range Range  `json:"range"`
	Text  string `json:"text"`
}

// Change carries an ordered set of edits plus the full resulting content as
// a fallback for clients that cannot apply granular diffs.
type Change struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Edits    []Edit `json:"edits,omitempty"`
	Content  string `json:"content"`
}

type Typing struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// Cursor relays a user's caret and selection so peers can render remote
// cursor decorations. Never persisted.
type Cursor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Color    string `json:"color,omitempty"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
}

// ChatSend is the chat frame clients send. The server assigns the id and
// sender fields and echoes a full ChatMessage on EventChat.
type ChatSend struct {
	Content string `json:"content"`
}

type Promote struct {
	MessageID int64 `json:"message_id"`
}

// Promoted is the server broadcast confirming a promotion.
type Promoted struct {
	MessageID  int64  `json:"message_id"`
	PromotedBy string `json:"promoted_by"`
}

// CommitAttribution asks the server to record the acting user as the last
// editor of a block. The server stamps updated_at and broadcasts the
// resulting attribution.
type CommitAttribution struct {
	BlockID   string `json:"block_id"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

type SaveVersion struct {
	Content string `json:"content"`
	Note    string `json:"note,omitempty"`
}

type VersionSaved struct {
	VersionID int64  `json:"version_id"`
	UserID    string `json:"user_id"`
}

type Status struct {
	UserID string           `json:"user_id,omitempty"`
	Status model.UserStatus `json:"status"`
}

// RosterRemove drops a departed user from peer gateways' rosters.
type RosterRemove struct {
	UserID string `json:"user_id"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by EventError frames. ErrCodeJoinFailed is terminal:
// the client must not retry the connection.
const (
	ErrCodeJoinFailed       = "join_failed"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeBadEvent         = "bad_event"
)

var ErrUnknownEvent = errors.New("protocol: unknown event type")

// NewEnvelope marshals payload into an Envelope. Marshaling a payload built
// from our own types cannot fail; an error here is a programming bug.
func NewEnvelope(t EventType, workspaceID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, WorkspaceID: workspaceID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("protocol: marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Encode marshals a complete frame.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses a raw frame into an Envelope without touching the payload.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("protocol: frame missing type")
	}
	return env, nil
}

// DecodePayload resolves the envelope's payload into its typed variant. This
// is the single point where untyped wire data becomes internal types.
func DecodePayload(env Envelope) (any, error) {
	switch env.Type {
	case EventJoin:
		return decodeInto[Join](env)
	case EventJoinAck:
		return decodeInto[JoinAck](env)
	case EventPresence:
		return decodeInto[PresenceSync](env)
	case EventChange:
		return decodeInto[Change](env)
	case EventTyping:
		return decodeInto[Typing](env)
	case EventCursor:
		return decodeInto[Cursor](env)
	case EventChatSend:
		return decodeInto[ChatSend](env)
	case EventChat:
		return decodeInto[model.ChatMessage](env)
	case EventChatHistory:
		return decodeInto[ChatHistory](env)
	case EventPromote:
		return decodeInto[Promote](env)
	case EventPromoted:
		return decodeInto[Promoted](env)
	case EventCommit:
		return decodeInto[CommitAttribution](env)
	case EventAttribution:
		return decodeInto[model.BlockAttribution](env)
	case EventSaveVersion:
		return decodeInto[SaveVersion](env)
	case EventVersionSaved:
		return decodeInto[VersionSaved](env)
	case EventVersionRecord:
		return decodeInto[model.SchemaVersion](env)
	case EventRosterUpdate:
		return decodeInto[model.CollaborativeUser](env)
	case EventRosterRemove:
		return decodeInto[RosterRemove](env)
	case EventStatus:
		return decodeInto[Status](env)
	case EventError:
		return decodeInto[ErrorInfo](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

type ChatHistory struct {
	Messages []model.ChatMessage `json:"messages"`
}

func decodeInto[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("protocol: %s frame missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("protocol: decode %s payload: %w", env.Type, err)
	}
	return v, nil
}
