package homegraph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memEntityRecord holds every stored version of one entity id.
type memEntityRecord struct {
	versions      []Entity // insertion order; last is the latest
	pending       map[string]ChangeType
	pendingDelete bool
}

// memRelRecord holds one relationship row.
type memRelRecord struct {
	rel     EntityRelationship
	pending ChangeType // "" when synced
}

// MemoryStore is an in-memory ChangeStore. It is the reference
// implementation of the ledger contract and the substrate for engine tests.
// All operations are serialized by a single mutex.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[string]*memEntityRecord
	rels     map[string]*memRelRecord
	meta     *SyncMetadata
	closed   bool
}

// NewMemoryStore creates an empty in-memory change store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]*memEntityRecord),
		rels:     make(map[string]*memRelRecord),
	}
}

func (s *MemoryStore) upsertEntity(e Entity, action ChangeType) error {
	if s.closed {
		return storageErr("store is closed", nil)
	}
	rec, ok := s.entities[e.ID]
	if !ok {
		rec = &memEntityRecord{pending: make(map[string]ChangeType)}
		s.entities[e.ID] = rec
	}
	replaced := false
	for i := range rec.versions {
		if rec.versions[i].Version == e.Version {
			rec.versions[i] = e.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		rec.versions = append(rec.versions, e.Clone())
	}
	// A row already pending-create stays a create: the remote never saw it.
	if rec.pending[e.Version] != ChangeCreate {
		rec.pending[e.Version] = action
	}
	// Recreating a deleted id supersedes the delete; without this the new
	// version would stay hidden and be swept when the delete is cleared.
	if action == ChangeCreate {
		rec.pendingDelete = false
	}
	return nil
}

// CreateEntity implements ChangeStore.
func (s *MemoryStore) CreateEntity(_ context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertEntity(e, ChangeCreate)
}

// UpdateEntity implements ChangeStore.
func (s *MemoryStore) UpdateEntity(_ context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertEntity(e, ChangeUpdate)
}

// DeleteEntity implements ChangeStore. The row survives, hidden from reads,
// until ClearPendingChanges confirms transmission.
func (s *MemoryStore) DeleteEntity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("store is closed", nil)
	}
	rec, ok := s.entities[id]
	if !ok || len(rec.versions) == 0 {
		return nil
	}
	// The delete supersedes any not-yet-synced edits of the same id.
	rec.pending = make(map[string]ChangeType)
	rec.pendingDelete = true
	return nil
}

// GetEntity implements ChangeStore.
func (s *MemoryStore) GetEntity(_ context.Context, id string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storageErr("store is closed", nil)
	}
	rec, ok := s.entities[id]
	if !ok || rec.pendingDelete || len(rec.versions) == 0 {
		return nil, nil
	}
	latest := rec.versions[len(rec.versions)-1].Clone()
	return &latest, nil
}

// ListEntities implements ChangeStore.
func (s *MemoryStore) ListEntities(_ context.Context, typeFilter EntityType) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storageErr("store is closed", nil)
	}
	var out []Entity
	for _, rec := range s.entities {
		if rec.pendingDelete || len(rec.versions) == 0 {
			continue
		}
		latest := rec.versions[len(rec.versions)-1]
		if typeFilter != "" && latest.Type != typeFilter {
			continue
		}
		out = append(out, latest.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateRelationship implements ChangeStore.
func (s *MemoryStore) CreateRelationship(_ context.Context, r EntityRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("store is closed", nil)
	}
	s.rels[r.ID] = &memRelRecord{rel: r, pending: ChangeCreate}
	return nil
}

// DeleteRelationship implements ChangeStore.
func (s *MemoryStore) DeleteRelationship(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("store is closed", nil)
	}
	rec, ok := s.rels[id]
	if !ok {
		return nil
	}
	if rec.pending == ChangeCreate {
		// Never transmitted; nothing for the remote to forget.
		delete(s.rels, id)
		return nil
	}
	rec.pending = ChangeDelete
	return nil
}

// GetRelationshipsForEntity implements ChangeStore.
func (s *MemoryStore) GetRelationshipsForEntity(_ context.Context, entityID string) ([]EntityRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storageErr("store is closed", nil)
	}
	var out []EntityRelationship
	for _, rec := range s.rels {
		if rec.pending == ChangeDelete {
			continue
		}
		if rec.rel.Touches(entityID) {
			out = append(out, rec.rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PendingChanges implements ChangeStore.
func (s *MemoryStore) PendingChanges(_ context.Context) ([]PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storageErr("store is closed", nil)
	}

	var out []PendingChange

	entityIDs := make([]string, 0, len(s.entities))
	for id := range s.entities {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)

	for _, id := range entityIDs {
		rec := s.entities[id]
		if rec.pendingDelete {
			latest := rec.versions[len(rec.versions)-1].Clone()
			out = append(out, PendingChange{Type: ChangeDelete, Entity: &latest})
			continue
		}
		for _, v := range rec.versions {
			action, ok := rec.pending[v.Version]
			if !ok || action == "" {
				continue
			}
			e := v.Clone()
			out = append(out, PendingChange{Type: action, Entity: &e})
		}
	}

	relIDs := make([]string, 0, len(s.rels))
	for id := range s.rels {
		relIDs = append(relIDs, id)
	}
	sort.Strings(relIDs)

	for _, id := range relIDs {
		rec := s.rels[id]
		if rec.pending == "" {
			continue
		}
		out = append(out, PendingChange{
			Type:          rec.pending,
			Relationships: []EntityRelationship{rec.rel},
		})
	}
	return out, nil
}

// ClearPendingChanges implements ChangeStore. Only rows named by the drained
// set are touched, so changes recorded during an in-flight sync survive.
func (s *MemoryStore) ClearPendingChanges(_ context.Context, drained []PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("store is closed", nil)
	}
	for _, pc := range drained {
		if pc.Entity != nil {
			rec, ok := s.entities[pc.Entity.ID]
			if !ok {
				continue
			}
			if pc.Type == ChangeDelete {
				if rec.pendingDelete {
					delete(s.entities, pc.Entity.ID)
				}
				continue
			}
			delete(rec.pending, pc.Entity.Version)
		}
		for _, r := range pc.Relationships {
			rec, ok := s.rels[r.ID]
			if !ok {
				continue
			}
			if pc.Type == ChangeDelete {
				if rec.pending == ChangeDelete {
					delete(s.rels, r.ID)
				}
				continue
			}
			rec.pending = ""
		}
	}
	return nil
}

// ClearAll implements ChangeStore.
func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("store is closed", nil)
	}
	s.entities = make(map[string]*memEntityRecord)
	s.rels = make(map[string]*memRelRecord)
	return nil
}

// SyncMetadata implements ChangeStore, creating the record lazily.
func (s *MemoryStore) SyncMetadata(_ context.Context) (*SyncMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storageErr("store is closed", nil)
	}
	if s.meta == nil {
		s.meta = &SyncMetadata{
			DeviceID:    uuid.NewString(),
			VectorClock: NewVectorClock(),
		}
	}
	cp := *s.meta
	cp.VectorClock = s.meta.VectorClock.Clone()
	return &cp, nil
}

// UpdateSyncMetadata implements ChangeStore.
func (s *MemoryStore) UpdateSyncMetadata(_ context.Context, clock *VectorClock, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("store is closed", nil)
	}
	if s.meta == nil {
		s.meta = &SyncMetadata{DeviceID: uuid.NewString()}
	}
	s.meta.VectorClock = clock.Clone()
	s.meta.Cursor = cursor
	s.meta.LastSyncAt = time.Now().UTC()
	return nil
}

// Close implements ChangeStore.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
