package model

// BlockAttribution records which user most recently committed a change to a
// logical block of the document. BlockID is a semantic key of the form
// "<blockType>:<blockName>" (e.g. "model:User"), falling back to a
// "line:<n>" key when no named construct was detected at commit time.
//
// UpdatedAt is a server-issued snowflake id, so comparing two stamps for the
// same block id gives the authoritative order without any client clock
// assumptions. For a given BlockID only the record with the greatest
// UpdatedAt is authoritative; older records are superseded, never displayed.
type BlockAttribution struct {
	BlockID        string `json:"block_id"`
	StartLine      int    `json:"start_line"`
	EndLine        int    `json:"end_line"`
	LastEditorID   string `json:"last_editor_id"`
	LastEditorName string `json:"last_editor_name"`
	UpdatedAt      int64  `json:"updated_at"`
}

// DisplayName resolves the name to render for an attribution label. The
// editor name is snapshotted at commit time, not a live reference; if it is
// missing the editor id is used, and "unknown" as the last resort. A label
// must never fail to render for lack of a name.
func (a BlockAttribution) DisplayName() string {
	if a.LastEditorName != "" {
		return a.LastEditorName
	}
	if a.LastEditorID != "" {
		return a.LastEditorID
	}
	return "unknown"
}

// Supersedes reports whether a should replace b as the visible record for a
// block id. Any incoming record past the stored one is accepted; ties keep
// the stored record.
func (a BlockAttribution) Supersedes(b BlockAttribution) bool {
	return a.UpdatedAt > b.UpdatedAt
}
