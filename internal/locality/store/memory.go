package store

import (
	"context"
	"sort"
	"sync"

	"gazetteer/internal/locality/models"
	"gazetteer/pkg/geo"
	"gazetteer/pkg/platform/sentinel"
)

// InMemory keeps localities and their EAV rows in process memory. Value
// insertion order is preserved per locality so listings stay deterministic,
// matching the Postgres store's specification-id ordering.
type InMemory struct {
	mu         sync.RWMutex
	localities map[string]models.Locality
	upstream   map[string]string
	values     map[string]map[string]string
	valueOrder map[string][]string
}

func NewInMemory() *InMemory {
	return &InMemory{
		localities: make(map[string]models.Locality),
		upstream:   make(map[string]string),
		values:     make(map[string]map[string]string),
		valueOrder: make(map[string][]string),
	}
}

func (s *InMemory) Insert(_ context.Context, loc *models.Locality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.localities[loc.UUID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.upstream[loc.UpstreamID]; exists {
		return sentinel.ErrConflict
	}
	s.localities[loc.UUID] = *loc
	s.upstream[loc.UpstreamID] = loc.UUID
	return nil
}

func (s *InMemory) Get(_ context.Context, uuid string) (*models.Locality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.localities[uuid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &loc, nil
}

// GetForUpdate matches the Postgres store's row-locking read. The in-memory
// transaction runner serializes writers, so a plain read suffices here.
func (s *InMemory) GetForUpdate(ctx context.Context, uuid string) (*models.Locality, error) {
	return s.Get(ctx, uuid)
}

func (s *InMemory) GetByUpstreamID(_ context.Context, upstreamID string) (*models.Locality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uuid, ok := s.upstream[upstreamID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	loc := s.localities[uuid]
	return &loc, nil
}

// Update persists the locality's direct fields (geometry, changeset
// reference, version). The domain reference is immutable and ignored.
func (s *InMemory) Update(_ context.Context, loc *models.Locality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.localities[loc.UUID]
	if !ok {
		return sentinel.ErrNotFound
	}
	current.Geom = loc.Geom
	current.ChangesetID = loc.ChangesetID
	current.Version = loc.Version
	s.localities[loc.UUID] = current
	return nil
}

// UpsertValue writes one EAV row and reports whether anything changed.
func (s *InMemory) UpsertValue(_ context.Context, localityUUID, key, data string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.localities[localityUUID]; !ok {
		return false, sentinel.ErrNotFound
	}
	vals, ok := s.values[localityUUID]
	if !ok {
		vals = make(map[string]string)
		s.values[localityUUID] = vals
	}
	existing, had := vals[key]
	if had && existing == data {
		return false, nil
	}
	if !had {
		s.valueOrder[localityUUID] = append(s.valueOrder[localityUUID], key)
	}
	vals[key] = data
	return true, nil
}

// ListValues returns the locality's EAV rows in insertion order, including
// rows whose specification has since been archived.
func (s *InMemory) ListValues(_ context.Context, localityUUID string) ([]models.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.localities[localityUUID]; !ok {
		return nil, sentinel.ErrNotFound
	}
	var out []models.Value
	for _, key := range s.valueOrder[localityUUID] {
		out = append(out, models.Value{Key: key, Data: s.values[localityUUID][key]})
	}
	return out, nil
}

// InBBox returns the localities whose geometry intersects the box, ordered
// by uuid for determinism.
func (s *InMemory) InBBox(_ context.Context, box geo.BBox) ([]models.Locality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Locality
	for _, loc := range s.localities {
		if box.Contains(loc.Geom) {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

// Delete removes a locality and its values. Changesets referenced by the
// locality are ledger entries and are left untouched.
func (s *InMemory) Delete(_ context.Context, localityUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.localities[localityUUID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.localities, localityUUID)
	delete(s.upstream, loc.UpstreamID)
	delete(s.values, localityUUID)
	delete(s.valueOrder, localityUUID)
	return nil
}

// Count reports the number of stored localities. Test helper.
func (s *InMemory) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.localities)
}

// Snapshot/Restore support the in-memory transaction runner. The contents
// are opaque to callers.

type Snapshot struct {
	localities map[string]models.Locality
	upstream   map[string]string
	values     map[string]map[string]string
	valueOrder map[string][]string
}

func (s *InMemory) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		localities: make(map[string]models.Locality, len(s.localities)),
		upstream:   make(map[string]string, len(s.upstream)),
		values:     make(map[string]map[string]string, len(s.values)),
		valueOrder: make(map[string][]string, len(s.valueOrder)),
	}
	for k, v := range s.localities {
		snap.localities[k] = v
	}
	for k, v := range s.upstream {
		snap.upstream[k] = v
	}
	for k, vals := range s.values {
		inner := make(map[string]string, len(vals))
		for vk, vv := range vals {
			inner[vk] = vv
		}
		snap.values[k] = inner
	}
	for k, order := range s.valueOrder {
		snap.valueOrder[k] = append([]string(nil), order...)
	}
	return snap
}

func (s *InMemory) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localities = snap.localities
	s.upstream = snap.upstream
	s.values = snap.values
	s.valueOrder = snap.valueOrder
}
