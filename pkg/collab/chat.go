package collab

import (
	"errors"
	"log"
	"sync"

	"github.com/mahaj/schemahub/pkg/model"
	"github.com/mahaj/schemahub/pkg/protocol"
)

var (
	ErrNotPermitted    = errors.New("collab: role not permitted")
	ErrAlreadyPromoted = errors.New("collab: message already promoted")
	ErrNoSuchMessage   = errors.New("collab: no such message")
)

// Notifier plays a cue when a message from another user arrives. Playback
// is best-effort: failures are logged and swallowed.
type Notifier interface {
	Notify() error
}

// ChatChannel is the client side of the ephemeral workspace chat. Sends are
// not appended optimistically; the log grows only from server echoes, so a
// message can never appear twice and then need reconciling.
type ChatChannel struct {
	localUserID string
	role        func() model.Role
	send        func(protocol.ChatSend)
	promote     func(protocol.Promote)
	notifier    Notifier
	onUpdate    func([]model.ChatMessage)

	mu       sync.Mutex
	messages []model.ChatMessage
}

func NewChatChannel(localUserID string, role func() model.Role, send func(protocol.ChatSend), promote func(protocol.Promote), notifier Notifier, onUpdate func([]model.ChatMessage)) *ChatChannel {
	return &ChatChannel{
		localUserID: localUserID,
		role:        role,
		send:        send,
		promote:     promote,
		notifier:    notifier,
		onUpdate:    onUpdate,
	}
}

// Send relays a text message, truncated to the content cap. Empty input is
// dropped.
func (c *ChatChannel) Send(text string) {
	text = model.TruncateContent(text)
	if text == "" {
		return
	}
	c.send(protocol.ChatSend{Content: text})
}

// Promote requests promotion of a message to an intent. Gated client-side
// on role and current promotion state; the server re-checks both.
func (c *ChatChannel) Promote(messageID int64) error {
	if !c.role().CanPromote() {
		return ErrNotPermitted
	}
	c.mu.Lock()
	found := false
	for _, m := range c.messages {
		if m.ID == messageID {
			found = true
			if m.IsPromoted {
				c.mu.Unlock()
				return ErrAlreadyPromoted
			}
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return ErrNoSuchMessage
	}
	c.promote(protocol.Promote{MessageID: messageID})
	return nil
}

// HandleHistory replaces the full log, once, on join.
func (c *ChatChannel) HandleHistory(messages []model.ChatMessage) {
	copied := make([]model.ChatMessage, len(messages))
	copy(copied, messages)

	c.mu.Lock()
	c.messages = copied
	c.mu.Unlock()
	c.changed()
}

// HandleMessage appends a broadcast message and plays the notification cue
// for messages authored by someone else.
func (c *ChatChannel) HandleMessage(m model.ChatMessage) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
	c.changed()

	if m.SenderID != c.localUserID && c.notifier != nil {
		if err := c.notifier.Notify(); err != nil {
			log.Printf("chat notification cue failed: %v", err)
		}
	}
}

// HandlePromoted marks a message promoted. Idempotent: re-delivery of the
// broadcast leaves the log unchanged.
func (c *ChatChannel) HandlePromoted(ev protocol.Promoted) {
	c.mu.Lock()
	changed := false
	for i := range c.messages {
		if c.messages[i].ID == ev.MessageID && !c.messages[i].IsPromoted {
			c.messages[i].IsPromoted = true
			changed = true
			break
		}
	}
	c.mu.Unlock()
	if changed {
		c.changed()
	}
}

// Messages returns a copy of the chat log.
func (c *ChatChannel) Messages() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *ChatChannel) changed() {
	if c.onUpdate != nil {
		c.onUpdate(c.Messages())
	}
}
