package db

import (
	"fmt"

	"github.com/mahaj/schemahub/pkg/model"
)

// EnsureSchema creates the schemahub tables. Schema creation belongs in
// migration tooling for production; this keeps a fresh cluster usable.
func (s *Session) EnsureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attributions (
			workspace_id text,
			block_id text,
			start_line int,
			end_line int,
			editor_id text,
			editor_name text,
			updated_at bigint,
			PRIMARY KEY (workspace_id, block_id)
		)`,
		`CREATE TABLE IF NOT EXISTS schema_versions (
			workspace_id text,
			id bigint,
			user_id text,
			username text,
			note text,
			content text,
			created_at timestamp,
			PRIMARY KEY (workspace_id, id)
		) WITH CLUSTERING ORDER BY (id DESC)`,
	}
	for _, stmt := range stmts {
		if err := s.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("db: ensure schema: %w", err)
		}
	}
	return nil
}

// SaveAttribution upserts an attribution, skipping the write when the stored
// record is already newer. Relayed events from multiple gateways can arrive
// slightly out of order; supersession by updated_at keeps the row correct.
func (s *Session) SaveAttribution(workspaceID string, a model.BlockAttribution) error {
	var stored int64
	err := s.Query(
		`SELECT updated_at FROM attributions WHERE workspace_id = ? AND block_id = ?`,
		workspaceID, a.BlockID,
	).Scan(&stored)
	if err == nil && stored >= a.UpdatedAt {
		return nil
	}

	return s.Query(
		`INSERT INTO attributions (workspace_id, block_id, start_line, end_line, editor_id, editor_name, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		workspaceID, a.BlockID, a.StartLine, a.EndLine, a.LastEditorID, a.LastEditorName, a.UpdatedAt,
	).Exec()
}

// Attributions loads the stored attribution set for a workspace.
func (s *Session) Attributions(workspaceID string) ([]model.BlockAttribution, error) {
	iter := s.Query(
		`SELECT block_id, start_line, end_line, editor_id, editor_name, updated_at
		 FROM attributions WHERE workspace_id = ?`,
		workspaceID,
	).Iter()

	var attrs []model.BlockAttribution
	var a model.BlockAttribution
	for iter.Scan(&a.BlockID, &a.StartLine, &a.EndLine, &a.LastEditorID, &a.LastEditorName, &a.UpdatedAt) {
		attrs = append(attrs, a)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// SaveVersion stores one saved document snapshot.
func (s *Session) SaveVersion(workspaceID string, v model.SchemaVersion) error {
	return s.Query(
		`INSERT INTO schema_versions (workspace_id, id, user_id, username, note, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		workspaceID, v.ID, v.UserID, v.Username, v.Note, v.Content, v.CreatedAt,
	).Exec()
}

// Versions lists saved snapshots, newest first, without the content column.
func (s *Session) Versions(workspaceID string) ([]model.SchemaVersion, error) {
	iter := s.Query(
		`SELECT id, user_id, username, note, created_at
		 FROM schema_versions WHERE workspace_id = ?`,
		workspaceID,
	).Iter()

	var versions []model.SchemaVersion
	var v model.SchemaVersion
	for iter.Scan(&v.ID, &v.UserID, &v.Username, &v.Note, &v.CreatedAt) {
		versions = append(versions, v)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return versions, nil
}
