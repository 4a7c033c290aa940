package collab

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/schemahub/pkg/model"
	"github.com/mahaj/schemahub/pkg/protocol"
)

type chatRecorder struct {
	sends    []protocol.ChatSend
	promotes []protocol.Promote
}

func (r *chatRecorder) send(s protocol.ChatSend)   { r.sends = append(r.sends, s) }
func (r *chatRecorder) promote(p protocol.Promote) { r.promotes = append(r.promotes, p) }

type fakeNotifier struct {
	calls int
	err   error
}

func (n *fakeNotifier) Notify() error {
	n.calls++
	return n.err
}

func newTestChat(role model.Role, rec *chatRecorder, n Notifier) *ChatChannel {
	return NewChatChannel("me", func() model.Role { return role }, rec.send, rec.promote, n, nil)
}

// Sending must not touch the local log: the message appears only when the
// server echoes it back.
func TestSendWaitsForEcho(t *testing.T) {
	rec := &chatRecorder{}
	c := newTestChat(model.RoleEditor, rec, nil)

	c.Send("hello")
	require.Len(t, rec.sends, 1)
	assert.Empty(t, c.Messages(), "no optimistic append")

	c.HandleMessage(model.ChatMessage{ID: 1, SenderID: "me", Content: "hello"})
	assert.Len(t, c.Messages(), 1)
}

func TestSendTruncatesAndDropsEmpty(t *testing.T) {
	rec := &chatRecorder{}
	c := newTestChat(model.RoleEditor, rec, nil)

	c.Send("")
	assert.Empty(t, rec.sends)

	c.Send(strings.Repeat("a", 600))
	require.Len(t, rec.sends, 1)
	assert.Len(t, rec.sends[0].Content, model.MaxChatContentLen)
}

func TestPromoteGating(t *testing.T) {
	rec := &chatRecorder{}
	c := newTestChat(model.RoleViewer, rec, nil)
	c.HandleHistory([]model.ChatMessage{{ID: 7}})

	err := c.Promote(7)
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.Empty(t, rec.promotes)
}

func TestPromoteChecksLocalState(t *testing.T) {
	rec := &chatRecorder{}
	c := newTestChat(model.RoleAdmin, rec, nil)
	c.HandleHistory([]model.ChatMessage{
		{ID: 7},
		{ID: 8, IsPromoted: true},
	})

	require.NoError(t, c.Promote(7))
	require.Len(t, rec.promotes, 1)
	assert.Equal(t, int64(7), rec.promotes[0].MessageID)

	err := c.Promote(8)
	assert.ErrorIs(t, err, ErrAlreadyPromoted)

	err = c.Promote(999)
	assert.True(t, errors.Is(err, ErrNoSuchMessage))
}

func TestHandleMessageNotifiesForPeers(t *testing.T) {
	rec := &chatRecorder{}
	n := &fakeNotifier{}
	c := newTestChat(model.RoleEditor, rec, n)

	c.HandleMessage(model.ChatMessage{ID: 1, SenderID: "me"})
	assert.Zero(t, n.calls, "own messages play no cue")

	c.HandleMessage(model.ChatMessage{ID: 2, SenderID: "peer"})
	assert.Equal(t, 1, n.calls)
}

func TestHandleMessageSwallowsNotifierError(t *testing.T) {
	rec := &chatRecorder{}
	n := &fakeNotifier{err: errors.New("no audio device")}
	c := newTestChat(model.RoleEditor, rec, n)

	c.HandleMessage(model.ChatMessage{ID: 2, SenderID: "peer", Content: "hi"})
	// Message still lands even when the cue fails.
	require.Len(t, c.Messages(), 1)
}

func TestHandlePromotedIdempotent(t *testing.T) {
	rec := &chatRecorder{}
	updates := 0
	c := NewChatChannel("me", func() model.Role { return model.RoleEditor }, rec.send, rec.promote, nil,
		func([]model.ChatMessage) { updates++ })
	c.HandleHistory([]model.ChatMessage{{ID: 7}})
	updates = 0

	c.HandlePromoted(protocol.Promoted{MessageID: 7})
	assert.Equal(t, 1, updates)
	assert.True(t, c.Messages()[0].IsPromoted)

	c.HandlePromoted(protocol.Promoted{MessageID: 7})
	assert.Equal(t, 1, updates, "redelivery must not re-notify")

	c.HandlePromoted(protocol.Promoted{MessageID: 404})
	assert.Equal(t, 1, updates)
}

func TestMessagesReturnsCopy(t *testing.T) {
	rec := &chatRecorder{}
	c := newTestChat(model.RoleEditor, rec, nil)
	c.HandleHistory([]model.ChatMessage{{ID: 1, Content: "a"}})

	got := c.Messages()
	got[0].Content = "mutated"
	assert.Equal(t, "a", c.Messages()[0].Content)
}
