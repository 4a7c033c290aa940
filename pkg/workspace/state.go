// Package workspace holds the server-side authoritative state of one
// collaboration workspace: the presence roster, the session-lifetime chat
// log and the block attribution map. The gateway is the only writer; every
// mutation returns the data to broadcast so clients only ever see
// server-confirmed snapshots.
package workspace

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mahaj/schemahub/pkg/attribution"
	"github.com/mahaj/schemahub/pkg/model"
	"github.com/mahaj/schemahub/pkg/protocol"
	"github.com/mahaj/schemahub/pkg/snowflake"
)

// maxChatLog caps the in-memory chat log. Chat is session-lifetime only, so
// trimming the oldest entries is acceptable.
const maxChatLog = 1000

var (
	ErrPermissionDenied = errors.New("workspace: permission denied")
	ErrUnknownMessage   = errors.New("workspace: unknown message")
	ErrUnknownUser      = errors.New("workspace: unknown user")
)

type State struct {
	ID string

	mu    sync.Mutex
	users map[string]*model.CollaborativeUser
	chat  []model.ChatMessage
	attrs *attribution.Store
	node  *snowflake.Node
}

func NewState(id string, node *snowflake.Node) *State {
	return &State{
		ID:    id,
		users: make(map[string]*model.CollaborativeUser),
		attrs: attribution.NewStore(),
		node:  node,
	}
}

// Join adds a user to the roster (or refreshes the existing entry on
// reconnect) and returns the new authoritative roster.
func (s *State) Join(userID, username, email string, role model.Role) []model.CollaborativeUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = &model.CollaborativeUser{
		ID:       userID,
		Username: username,
		Email:    email,
		Role:     role,
		Color:    model.ColorFor(username),
		Status:   model.StatusActive,
	}
	return s.rosterLocked()
}

// Leave removes a user and returns the remaining roster.
func (s *State) Leave(userID string) []model.CollaborativeUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return s.rosterLocked()
}

// SetStatus updates a user's status. The bool result is false when the user
// is not in the roster.
func (s *State) SetStatus(userID string, status model.UserStatus) ([]model.CollaborativeUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, false
	}
	u.Status = status
	return s.rosterLocked(), true
}

func (s *State) Roster() []model.CollaborativeUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

func (s *State) rosterLocked() []model.CollaborativeUser {
	out := make([]model.CollaborativeUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Upsert installs a roster entry relayed from another gateway as-is,
// filling the color if missing, and returns the merged roster. Unlike Join
// it preserves the relayed status instead of resetting it.
func (s *State) Upsert(u model.CollaborativeUser) []model.CollaborativeUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Color == "" {
		u.Color = model.ColorFor(u.Username)
	}
	entry := u
	s.users[u.ID] = &entry
	return s.rosterLocked()
}

// User looks up a roster entry.
func (s *State) User(userID string) (model.CollaborativeUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.CollaborativeUser{}, false
	}
	return *u, true
}

// AppendChat assigns an id and timestamp and appends the message to the
// session log. The returned message is broadcast to all participants,
// including the sender, which is the sender's only append path.
func (s *State) AppendChat(senderID, content string) (model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.users[senderID]
	if !ok {
		return model.ChatMessage{}, ErrUnknownUser
	}

	msg := model.ChatMessage{
		ID:          s.node.Generate(),
		SenderID:    sender.ID,
		SenderName:  sender.Username,
		SenderColor: sender.Color,
		SenderRole:  sender.Role,
		Kind:        model.KindText,
		Content:     model.TruncateContent(content),
		Timestamp:   time.Now(),
	}
	s.chat = append(s.chat, msg)
	if len(s.chat) > maxChatLog {
		s.chat = s.chat[len(s.chat)-maxChatLog:]
	}
	return msg, nil
}

// Promote marks a message as promoted. Only owners and admins may promote;
// promotion is one-way and idempotent. Promoting an already promoted
// message reports changed=false and must not be re-broadcast.
func (s *State) Promote(actorID string, messageID int64) (model.ChatMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actor, ok := s.users[actorID]
	if !ok {
		return model.ChatMessage{}, false, ErrUnknownUser
	}
	if !actor.Role.CanPromote() {
		return model.ChatMessage{}, false, ErrPermissionDenied
	}
	for i := range s.chat {
		if s.chat[i].ID != messageID {
			continue
		}
		if s.chat[i].IsPromoted {
			return s.chat[i], false, nil
		}
		s.chat[i].IsPromoted = true
		return s.chat[i], true, nil
	}
	return model.ChatMessage{}, false, ErrUnknownMessage
}

// MergeChat appends an already-stamped message relayed from another
// gateway, so join snapshots served here carry the full session log.
func (s *State) MergeChat(msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = append(s.chat, msg)
	if len(s.chat) > maxChatLog {
		s.chat = s.chat[len(s.chat)-maxChatLog:]
	}
}

// MergePromoted marks a relayed promotion in the local log. Re-delivery is
// a no-op.
func (s *State) MergePromoted(messageID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chat {
		if s.chat[i].ID == messageID && !s.chat[i].IsPromoted {
			s.chat[i].IsPromoted = true
			return true
		}
	}
	return false
}

// ChatHistory returns a copy of the session chat log.
func (s *State) ChatHistory() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

// CommitAttribution stamps a commit request with a snowflake updated_at and
// the acting user's display name snapshot, then upserts it. The returned
// record is broadcast and fed to the persistence pipeline.
func (s *State) CommitAttribution(editorID string, req protocol.CommitAttribution) (model.BlockAttribution, error) {
	s.mu.Lock()
	editor, ok := s.users[editorID]
	if !ok {
		s.mu.Unlock()
		return model.BlockAttribution{}, ErrUnknownUser
	}
	if !editor.Role.CanEdit() {
		s.mu.Unlock()
		return model.BlockAttribution{}, ErrPermissionDenied
	}
	name := editor.Username
	s.mu.Unlock()

	attr := model.BlockAttribution{
		BlockID:        req.BlockID,
		StartLine:      req.StartLine,
		EndLine:        req.EndLine,
		LastEditorID:   editorID,
		LastEditorName: name,
		UpdatedAt:      s.node.Generate(),
	}
	s.attrs.Apply(attr)
	return attr, nil
}

// Attributions returns the visible attribution set for join snapshots.
func (s *State) Attributions() []model.BlockAttribution {
	return s.attrs.All()
}

// SeedAttributions loads previously persisted attributions when a room is
// opened. Records older than ones already committed are ignored.
func (s *State) SeedAttributions(list []model.BlockAttribution) {
	for _, a := range list {
		s.attrs.Apply(a)
	}
}

// ApplyAttribution upserts an attribution relayed from another gateway.
func (s *State) ApplyAttribution(a model.BlockAttribution) bool {
	return s.attrs.Apply(a)
}

// NewVersion stamps a save-version intent.
func (s *State) NewVersion(userID string, req protocol.SaveVersion) (model.SchemaVersion, error) {
	s.mu.Lock()
	user, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return model.SchemaVersion{}, ErrUnknownUser
	}
	if !user.Role.CanEdit() {
		s.mu.Unlock()
		return model.SchemaVersion{}, ErrPermissionDenied
	}
	username := user.Username
	s.mu.Unlock()

	return model.SchemaVersion{
		ID:        s.node.Generate(),
		UserID:    userID,
		Username:  username,
		Note:      req.Note,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}, nil
}

// CanEdit reports whether the user currently holds an editing role in this
// workspace. Used by the gateway to gate change relays server-side.
func (s *State) CanEdit(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	return ok && u.Role.CanEdit()
}
