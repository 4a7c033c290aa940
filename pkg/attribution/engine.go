package attribution

import (
	"sync"
	"time"

	"github.com/mahaj/schemahub/pkg/model"
)

// DefaultRelocateDelay bounds how often the relocation scan runs while the
// document is being edited.
const DefaultRelocateDelay = time.Second

// Engine is the client-side attribution engine: it holds the visible
// attribution set and republishes relocated labels whenever the document
// changes, debounced so rapid typing does not thrash the scan.
//
// The debounce is keyed by a document version counter: only the most recent
// scheduled scan for a given version executes, so stale scans scheduled
// during a burst of edits are dropped instead of piling up.
type Engine struct {
	store   *Store
	lines   func() []string
	publish func([]Label)
	delay   time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	version uint64
	closed  bool

	// pubMu serializes publishing with Close so a scan that already passed
	// the closed check cannot deliver labels after Close returns.
	pubMu sync.Mutex
}

// NewEngine wires the engine to a live document reader and a label sink
// (typically the editor surface's decoration setter).
func NewEngine(lines func() []string, publish func([]Label)) *Engine {
	return &Engine{
		store:   NewStore(),
		lines:   lines,
		publish: publish,
		delay:   DefaultRelocateDelay,
	}
}

// SetDelay overrides the relocation debounce, mainly for tests.
func (e *Engine) SetDelay(d time.Duration) { e.delay = d }

// Apply upserts a broadcast attribution and schedules a rescan if it became
// visible. Older records for the same block id are ignored.
func (e *Engine) Apply(a model.BlockAttribution) {
	if e.store.Apply(a) {
		e.schedule()
	}
}

// ReplaceAll resets the attribution set from a join or resync snapshot.
func (e *Engine) ReplaceAll(list []model.BlockAttribution) {
	e.store.ReplaceAll(list)
	e.schedule()
}

// DocumentChanged notes that the live document moved and schedules a
// debounced relocation pass.
func (e *Engine) DocumentChanged() {
	e.schedule()
}

// Attributions returns the visible attribution set.
func (e *Engine) Attributions() []model.BlockAttribution {
	return e.store.All()
}

// Close cancels any pending scan and waits for an in-flight publish to
// finish. No labels are published after Close returns.
func (e *Engine) Close() {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) schedule() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.version++
	v := e.version
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.delay, func() { e.run(v) })
}

func (e *Engine) run(v uint64) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	if e.closed || v != e.version {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	labels := BuildLabels(e.store.All(), e.lines())
	e.publish(labels)
}
