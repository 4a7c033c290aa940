package collab

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/schemahub/pkg/protocol"
)

const (
	// typingIdleDelay is how long after the last keystroke the client sends
	// a single "stopped typing".
	typingIdleDelay = 2 * time.Second
	// typingExpiry removes peers whose last typing event is stale, so the
	// indicator self-clears even if their "stopped" event was lost.
	typingExpiry = 3 * time.Second
	// typingSweepInterval is how often stale entries are pruned.
	typingSweepInterval = time.Second
)

type typingEntry struct {
	username string
	seen     time.Time
}

// TypingIndicator debounces the local "is typing" broadcast and tracks which
// peers are currently typing, with automatic expiry of stale entries.
type TypingIndicator struct {
	send     func(isTyping bool)
	onChange func(names []string)
	now      func() time.Time

	idleDelay     time.Duration
	expiry        time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	entries map[string]typingEntry
	active  bool
	idle    *time.Timer
	done    chan struct{}
	started bool
}

func NewTypingIndicator(send func(bool), onChange func([]string)) *TypingIndicator {
	return &TypingIndicator{
		send:          send,
		onChange:      onChange,
		now:           time.Now,
		idleDelay:     typingIdleDelay,
		expiry:        typingExpiry,
		sweepInterval: typingSweepInterval,
		entries:       make(map[string]typingEntry),
		done:          make(chan struct{}),
	}
}

// Start launches the periodic sweep. Stop must be called on teardown.
func (t *TypingIndicator) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-t.done:
				return
			}
		}
	}()
}

// Stop cancels the idle timer and the sweep. No events are sent after Stop.
func (t *TypingIndicator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	if t.started {
		t.started = false
		close(t.done)
	}
	t.active = false
}

// Keystroke notes local typing activity. The first keystroke sends
// "typing", further keystrokes only reset the idle timer, and the timer
// firing sends exactly one "stopped typing".
func (t *TypingIndicator) Keystroke() {
	t.mu.Lock()
	first := !t.active
	t.active = true
	if t.idle != nil {
		t.idle.Stop()
	}
	t.idle = time.AfterFunc(t.idleDelay, t.idleExpired)
	t.mu.Unlock()

	if first {
		t.send(true)
	}
}

func (t *TypingIndicator) idleExpired() {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	t.idle = nil
	t.mu.Unlock()
	if wasActive {
		t.send(false)
	}
}

// Handle upserts or removes a peer's typing state from a broadcast event.
func (t *TypingIndicator) Handle(ev protocol.Typing) {
	t.mu.Lock()
	if ev.IsTyping {
		t.entries[ev.UserID] = typingEntry{username: ev.Username, seen: t.now()}
	} else {
		delete(t.entries, ev.UserID)
	}
	names := t.namesLocked()
	t.mu.Unlock()
	t.notify(names)
}

// Sweep removes entries older than the expiry. Runs on a timer independent
// of inbound events so a vanished peer's indicator still clears.
func (t *TypingIndicator) Sweep() {
	t.mu.Lock()
	cutoff := t.now().Add(-t.expiry)
	removed := false
	for id, e := range t.entries {
		if e.seen.Before(cutoff) {
			delete(t.entries, id)
			removed = true
		}
	}
	var names []string
	if removed {
		names = t.namesLocked()
	}
	t.mu.Unlock()
	if removed {
		t.notify(names)
	}
}

// ActiveUsers returns the usernames currently typing, sorted.
func (t *TypingIndicator) ActiveUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.namesLocked()
}

func (t *TypingIndicator) namesLocked() []string {
	names := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		names = append(names, e.username)
	}
	sort.Strings(names)
	return names
}

func (t *TypingIndicator) notify(names []string) {
	if t.onChange != nil {
		t.onChange(names)
	}
}

// FormatTyping renders the typing set for display. Pure function of the
// current names.
func FormatTyping(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing...", names[0], names[1])
	default:
		return fmt.Sprintf("%s and %d others are typing...",
			strings.Join(names[:2], ", "), len(names)-2)
	}
}
