package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"gazetteer/internal/changeset/models"
	"gazetteer/pkg/platform/sentinel"
)

// InMemory keeps the changeset ledger in process memory. The interface is
// deliberately append-and-read only.
type InMemory struct {
	mu         sync.RWMutex
	changesets map[uuid.UUID]models.Changeset
}

func NewInMemory() *InMemory {
	return &InMemory{changesets: make(map[uuid.UUID]models.Changeset)}
}

func (s *InMemory) Append(_ context.Context, cs models.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.changesets[cs.ID]; exists {
		return sentinel.ErrConflict
	}
	s.changesets[cs.ID] = cs
	return nil
}

func (s *InMemory) Get(_ context.Context, id uuid.UUID) (*models.Changeset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.changesets[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &cs, nil
}

// Len reports the ledger size. Test helper.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.changesets)
}

// Snapshot captures the ledger state for the in-memory transaction runner.
// The contents are opaque to callers.
type Snapshot struct {
	changesets map[uuid.UUID]models.Changeset
}

func (s *InMemory) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]models.Changeset, len(s.changesets))
	for k, v := range s.changesets {
		out[k] = v
	}
	return Snapshot{changesets: out}
}

func (s *InMemory) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changesets = snap.changesets
}
