package model

import (
	"hash/fnv"
	"strings"
)

// Fixed palette for user colors. Picked for contrast on both light and dark
// editor themes.
var colorPalette = []string{
	"#e06c75",
	"#d19a66",
	"#e5c07b",
	"#98c379",
	"#56b6c2",
	"#61afef",
	"#c678dd",
	"#be5046",
	"#2aa198",
	"#6c71c4",
	"#b58900",
	"#268bd2",
}

// ColorFor assigns a display color to a username. The mapping is a pure
// function of the normalized username so the same person gets the same color
// across reconnects and across different clients.
func ColorFor(username string) string {
	normalized := strings.ToLower(strings.TrimSpace(username))
	h := fnv.New32a()
	h.Write([]byte(normalized))
	return colorPalette[h.Sum32()%uint32(len(colorPalette))]
}
