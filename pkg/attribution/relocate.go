package attribution

import (
	"fmt"
	"strings"

	"github.com/mahaj/schemahub/pkg/model"
)

// Label is an "edited by" decoration anchored at the end of a block's
// closing line. Line and Col are 1-based; Col points one past the last
// character so the label renders immediately after the closing token.
type Label struct {
	BlockID    string
	Line       int
	Col        int
	Text       string
	Color      string
	EditorName string
	UpdatedAt  int64 // snowflake stamp of the attributed edit
}

// ParseBlockID splits a semantic block id of the form "<type>:<name>".
// Anything else (including the "line:<n>" fallback keys) is not relocatable
// by content and reports ok=false.
func ParseBlockID(id string) (blockType, name string, ok bool) {
	blockType, name, found := strings.Cut(id, ":")
	if !found || blockType == "" || name == "" || blockType == "line" {
		return "", "", false
	}
	return blockType, name, true
}

// Relocate re-derives a block's current anchor line in the live document.
//
// The scan is textual, not grammar-aware: find the first line
// containing both the block type keyword and the block name, then the
// nearest subsequent line ending in "}" or ");". Renamed or removed blocks
// fall back to the last known end line, clamped into the document, so the
// anchor is never out of range.
func Relocate(a model.BlockAttribution, lines []string) (line, col int) {
	blockType, name, ok := ParseBlockID(a.BlockID)
	if !ok {
		return fallbackAnchor(a, lines)
	}

	typeLower := strings.ToLower(blockType)
	nameLower := strings.ToLower(name)
	start := 0
	for i, l := range lines {
		lower := strings.ToLower(l)
		if strings.Contains(lower, typeLower) && strings.Contains(lower, nameLower) {
			start = i + 1
			break
		}
	}
	if start == 0 {
		return fallbackAnchor(a, lines)
	}

	for i := start - 1; i < len(lines); i++ {
		trimmed := strings.TrimRight(lines[i], " \t")
		if strings.HasSuffix(trimmed, "}") || strings.HasSuffix(trimmed, ");") {
			return i + 1, len(lines[i]) + 1
		}
	}
	// Block opened but never closed; anchor at the end of the document.
	last := len(lines)
	if last == 0 {
		return 1, 1
	}
	return last, len(lines[last-1]) + 1
}

func fallbackAnchor(a model.BlockAttribution, lines []string) (line, col int) {
	line = a.EndLine
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}
	if line == 0 {
		return 1, 1
	}
	return line, len(lines[line-1]) + 1
}

// BuildLabels relocates every visible attribution against the given
// document lines. Input must already be deduplicated to the newest record
// per block id (Store.All guarantees this).
func BuildLabels(attrs []model.BlockAttribution, lines []string) []Label {
	labels := make([]Label, 0, len(attrs))
	for _, a := range attrs {
		line, col := Relocate(a, lines)
		name := a.DisplayName()
		labels = append(labels, Label{
			BlockID:    a.BlockID,
			Line:       line,
			Col:        col,
			Text:       fmt.Sprintf("edited by %s", name),
			Color:      model.ColorFor(name),
			EditorName: name,
			UpdatedAt:  a.UpdatedAt,
		})
	}
	return labels
}
