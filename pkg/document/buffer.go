// Package document provides a line-oriented text buffer implementing the
// editor-surface contract: ranged edits, full-content replacement, and a
// tracked cursor that shifts around remote insertions instead of being
// clobbered by them.
package document

import (
	"strings"
	"sync"

	"github.com/mahaj/schemahub/pkg/protocol"
)

// Position is a 1-based line/column pair.
type Position struct {
	Line int
	Col  int
}

// Buffer is the live document. One Buffer per workspace per client; the
// editor surface owns it and the collaboration core reads it.
type Buffer struct {
	mu     sync.RWMutex
	lines  []string
	cursor Position
}

func NewBuffer(content string) *Buffer {
	return &Buffer{
		lines:  splitLines(content),
		cursor: Position{Line: 1, Col: 1},
	}
}

func splitLines(content string) []string {
	return strings.Split(content, "\n")
}

func (b *Buffer) Content() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Join(b.lines, "\n")
}

// Lines returns a copy of the buffer's lines.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *Buffer) LineCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// SetContent replaces the whole buffer. The cursor is clamped into the new
// content rather than reset, so a full-content fallback does not jump the
// caret to the top of the file.
func (b *Buffer) SetContent(content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = splitLines(content)
	b.cursor = b.clamp(b.cursor)
}

func (b *Buffer) Cursor() Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cursor
}

func (b *Buffer) SetCursor(p Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = b.clamp(p)
}

// ApplyEdits applies ranged edits in order with force-move-markers
// semantics: a cursor sitting at or after an insertion point is shifted by
// the inserted text, so remote edits above the caret do not disturb what the
// local user is typing.
func (b *Buffer) ApplyEdits(edits []protocol.Edit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range edits {
		b.applyEdit(e)
	}
}

func (b *Buffer) applyEdit(e protocol.Edit) {
	r := b.clampRange(e.Range)

	prefix := b.lines[r.StartLine-1][:r.StartCol-1]
	suffix := b.lines[r.EndLine-1][r.EndCol-1:]

	inserted := splitLines(e.Text)
	inserted[0] = prefix + inserted[0]
	lastIdx := len(inserted) - 1
	endCol := len(inserted[lastIdx]) + 1
	inserted[lastIdx] = inserted[lastIdx] + suffix

	replaced := make([]string, 0, len(b.lines)-(r.EndLine-r.StartLine+1)+len(inserted))
	replaced = append(replaced, b.lines[:r.StartLine-1]...)
	replaced = append(replaced, inserted...)
	replaced = append(replaced, b.lines[r.EndLine:]...)
	b.lines = replaced

	end := Position{Line: r.StartLine + lastIdx, Col: endCol}
	b.cursor = b.clamp(shiftMarker(b.cursor, r, end))
}

// shiftMarker relocates a marker after the span oldRange was replaced by
// text ending at newEnd. Markers strictly before the span stay put; markers
// inside the span collapse to the new end; markers at or past the span's end
// shift by the edit's line/column delta (force move).
func shiftMarker(m Position, oldRange protocol.Range, newEnd Position) Position {
	before := m.Line < oldRange.StartLine ||
		(m.Line == oldRange.StartLine && m.Col < oldRange.StartCol)
	if before {
		return m
	}
	inside := m.Line < oldRange.EndLine ||
		(m.Line == oldRange.EndLine && m.Col < oldRange.EndCol)
	if inside {
		return newEnd
	}
	if m.Line == oldRange.EndLine {
		// Same line as the span's end: the column shifts too.
		return Position{Line: newEnd.Line, Col: newEnd.Col + (m.Col - oldRange.EndCol)}
	}
	m.Line += newEnd.Line - oldRange.EndLine
	return m
}

func (b *Buffer) clamp(p Position) Position {
	if p.Line < 1 {
		p.Line = 1
	}
	if p.Line > len(b.lines) {
		p.Line = len(b.lines)
	}
	if p.Col < 1 {
		p.Col = 1
	}
	if max := len(b.lines[p.Line-1]) + 1; p.Col > max {
		p.Col = max
	}
	return p
}

func (b *Buffer) clampRange(r protocol.Range) protocol.Range {
	start := b.clamp(Position{Line: r.StartLine, Col: r.StartCol})
	end := b.clamp(Position{Line: r.EndLine, Col: r.EndCol})
	if end.Line < start.Line || (end.Line == start.Line && end.Col < start.Col) {
		end = start
	}
	return protocol.Range{
		StartLine: start.Line, StartCol: start.Col,
		EndLine: end.Line, EndCol: end.Col,
	}
}
