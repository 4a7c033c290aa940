// Package attribution maintains the mapping from logical document blocks to
// "last edited by" records and relocates each block's display anchor inside
// the live document as unrelated edits move it around.
package attribution

import (
	"sort"
	"sync"

	"github.com/mahaj/schemahub/pkg/model"
)

// Store keeps the newest attribution per block id. Superseded records are
// replaced in place; they must never be visible again.
type Store struct {
	mu      sync.RWMutex
	records map[string]model.BlockAttribution
}

func NewStore() *Store {
	return &Store{records: make(map[string]model.BlockAttribution)}
}

// Apply upserts an attribution by block id, keeping whichever record has the
// greater UpdatedAt regardless of arrival order. It reports whether the
// incoming record became the visible one.
func (s *Store) Apply(a model.BlockAttribution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[a.BlockID]
	if ok && !a.Supersedes(cur) {
		return false
	}
	s.records[a.BlockID] = a
	return true
}

// ReplaceAll resets the store from an authoritative snapshot, e.g. the join
// handshake. Duplicate block ids in the snapshot collapse to the newest.
func (s *Store) ReplaceAll(list []model.BlockAttribution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]model.BlockAttribution, len(list))
	for _, a := range list {
		if cur, ok := s.records[a.BlockID]; ok && !a.Supersedes(cur) {
			continue
		}
		s.records[a.BlockID] = a
	}
}

func (s *Store) Get(blockID string) (model.BlockAttribution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.records[blockID]
	return a, ok
}

// All returns the visible attributions sorted by block id.
func (s *Store) All() []model.BlockAttribution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BlockAttribution, 0, len(s.records))
	for _, a := range s.records {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockID < out[j].BlockID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
