package collab

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/schemahub/pkg/protocol"
)

type typingRecorder struct {
	mu    sync.Mutex
	sends []bool
}

func (r *typingRecorder) send(isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, isTyping)
}

func (r *typingRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.sends))
	copy(out, r.sends)
	return out
}

// A burst of keystrokes must produce exactly one "typing" and, after the
// idle delay, exactly one "stopped typing".
func TestKeystrokeDebounce(t *testing.T) {
	rec := &typingRecorder{}
	ti := NewTypingIndicator(rec.send, nil)
	ti.idleDelay = 30 * time.Millisecond
	defer ti.Stop()

	for i := 0; i < 8; i++ {
		ti.Keystroke()
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)

	sends := rec.snapshot()
	require.Equal(t, []bool{true, false}, sends)
}

func TestKeystrokeAfterIdleStartsNewBurst(t *testing.T) {
	rec := &typingRecorder{}
	ti := NewTypingIndicator(rec.send, nil)
	ti.idleDelay = 20 * time.Millisecond
	defer ti.Stop()

	ti.Keystroke()
	time.Sleep(100 * time.Millisecond)
	ti.Keystroke()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []bool{true, false, true, false}, rec.snapshot())
}

func TestStopSuppressesIdleEvent(t *testing.T) {
	rec := &typingRecorder{}
	ti := NewTypingIndicator(rec.send, nil)
	ti.idleDelay = 20 * time.Millisecond

	ti.Keystroke()
	ti.Stop()
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, []bool{true}, rec.snapshot(), "no events after Stop")
}

func TestHandleTracksPeers(t *testing.T) {
	var lastNames []string
	ti := NewTypingIndicator(func(bool) {}, func(names []string) { lastNames = names })
	defer ti.Stop()

	ti.Handle(protocol.Typing{UserID: "u2", Username: "bob", IsTyping: true})
	ti.Handle(protocol.Typing{UserID: "u3", Username: "ana", IsTyping: true})
	assert.Equal(t, []string{"ana", "bob"}, lastNames, "names are sorted")

	ti.Handle(protocol.Typing{UserID: "u2", Username: "bob", IsTyping: false})
	assert.Equal(t, []string{"ana"}, lastNames)
	assert.Equal(t, []string{"ana"}, ti.ActiveUsers())
}

// The indicator must self-clear when a peer's "stopped" event is lost.
func TestSweepExpiresStaleEntries(t *testing.T) {
	clock := time.Now()
	var lastNames []string
	notified := 0
	ti := NewTypingIndicator(func(bool) {}, func(names []string) {
		notified++
		lastNames = names
	})
	ti.now = func() time.Time { return clock }
	defer ti.Stop()

	ti.Handle(protocol.Typing{UserID: "u2", Username: "bob", IsTyping: true})

	// Within the expiry window nothing is pruned and nothing is re-notified.
	clock = clock.Add(2 * time.Second)
	before := notified
	ti.Sweep()
	assert.Equal(t, before, notified, "sweep without removals stays silent")

	clock = clock.Add(2 * time.Second)
	ti.Sweep()
	assert.Empty(t, lastNames)
	assert.Empty(t, ti.ActiveUsers())
}

func TestFormatTyping(t *testing.T) {
	cases := []struct {
		names []string
		want  string
	}{
		{nil, ""},
		{[]string{"ana"}, "ana is typing..."},
		{[]string{"ana", "bob"}, "ana and bob are typing..."},
		{[]string{"ana", "bob", "cy"}, "ana, bob and 1 others are typing..."},
		{[]string{"ana", "bob", "cy", "dee"}, "ana, bob and 2 others are typing..."},
	}
	for _, tc := range cases {
		if got := FormatTyping(tc.names); got != tc.want {
			t.Errorf("FormatTyping(%v) = %q, want %q", tc.names, got, tc.want)
		}
	}
}
