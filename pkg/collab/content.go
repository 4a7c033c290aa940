package collab

import (
	"sync/atomic"

	"github.com/mahaj/schemahub/pkg/protocol"
)

// EditorSurface is the live document buffer owned by the external editor.
// document.Buffer is the reference implementation.
type EditorSurface interface {
	Content() string
	Lines() []string
	SetContent(content string)
	ApplyEdits(edits []protocol.Edit)
}

// ContentSync propagates local edits to peers and applies remote edits to
// the local buffer. No merge or rebase of concurrent edits is attempted:
// changes apply in arrival order and the last write observed wins. A
// stronger consistency model would have to live behind the same
// HandleRemote interface.
type ContentSync struct {
	localUserID string
	surface     EditorSurface
	canEdit     func() bool
	send        func(protocol.Change)

	// applying suppresses the local change callback while remote edits are
	// applied to the buffer, breaking the echo feedback loop.
	applying atomic.Bool
}

func NewContentSync(localUserID string, surface EditorSurface, canEdit func() bool, send func(protocol.Change)) *ContentSync {
	return &ContentSync{
		localUserID: localUserID,
		surface:     surface,
		canEdit:     canEdit,
		send:        send,
	}
}

// SendChange relays a local edit to peers. Calls are dropped while the
// change originated from a remote application or the session is read-only.
func (c *ContentSync) SendChange(edits []protocol.Edit, content string) {
	if c.applying.Load() || !c.canEdit() {
		return
	}
	c.send(protocol.Change{
		UserID:  c.localUserID,
		Edits:   edits,
		Content: content,
	})
}

// HandleRemote applies a peer's change to the local buffer. Granular edits
// are applied by range so the local cursor is preserved; the full-content
// fallback replaces the buffer only when it actually differs. Changes that
// originated from the local user are never applied, even if the channel
// redelivers them.
func (c *ContentSync) HandleRemote(ch protocol.Change) {
	if ch.UserID == c.localUserID {
		return
	}

	c.applying.Store(true)
	defer c.applying.Store(false)

	if len(ch.Edits) > 0 {
		c.surface.ApplyEdits(ch.Edits)
		return
	}
	if ch.Content != c.surface.Content() {
		c.surface.SetContent(ch.Content)
	}
}

// Applying reports whether a remote change is being applied right now.
func (c *ContentSync) Applying() bool {
	return c.applying.Load()
}
