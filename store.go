package homegraph

import (
	"context"
	"time"
)

// ChangeType identifies the kind of a pending local mutation.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

var changeTypes = map[ChangeType]bool{
	ChangeCreate: true, ChangeUpdate: true, ChangeDelete: true,
}

// ParseChangeType validates a wire-level change type string.
func ParseChangeType(s string) (ChangeType, error) {
	t := ChangeType(s)
	if !changeTypes[t] {
		return "", newSyncError(ErrorKindInvalidData, "unknown change type "+s, nil)
	}
	return t, nil
}

// PendingChange is one local mutation awaiting transmission. A change carries
// either an entity payload, relationship payloads, or both; entity and
// relationship mutations are never folded into a single record by the store.
type PendingChange struct {
	Type          ChangeType           `json:"change_type"`
	Entity        *Entity              `json:"entity,omitempty"`
	Relationships []EntityRelationship `json:"relationships,omitempty"`
}

// SyncMetadata is the per-device sync state. Exactly one record exists per
// local database; it is created lazily on first use with a fresh device id
// and an empty clock.
type SyncMetadata struct {
	DeviceID    string       `json:"device_id"`
	VectorClock *VectorClock `json:"-"`
	Cursor      string       `json:"cursor,omitempty"`
	LastSyncAt  time.Time    `json:"last_sync_at"`
}

// ChangeStore is the durable pending-change ledger the sync engine reads and
// writes through. Implementations must serialize all operations on one local
// database instance, guarantee read-after-write consistency, and clear
// pending flags atomically with respect to concurrent reads.
//
// Delete semantics: DeleteEntity and DeleteRelationship do not remove rows;
// they mark the latest version pending-delete. Reads exclude pending-delete
// rows, but the rows survive in storage for retry safety until
// ClearPendingChanges confirms transmission and physically removes them.
//
// Changes created while a sync cycle is in flight must either be part of that
// cycle's drained set or survive to the next cycle; ClearPendingChanges only
// clears the rows named by the drained set it is given.
type ChangeStore interface {
	// CreateEntity upserts by (id, version) and marks the row pending-create.
	CreateEntity(ctx context.Context, e Entity) error

	// UpdateEntity upserts by (id, version) and marks the row pending-update.
	// A row already pending-create stays pending-create: the remote has never
	// seen it, so it still transmits as a create.
	UpdateEntity(ctx context.Context, e Entity) error

	// DeleteEntity marks the latest version of id pending-delete.
	DeleteEntity(ctx context.Context, id string) error

	// GetEntity returns the most recent non-deleted version of id, or nil.
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// ListEntities returns all non-deleted entities, optionally filtered by
	// type ("" means all).
	ListEntities(ctx context.Context, typeFilter EntityType) ([]Entity, error)

	// CreateRelationship upserts a relationship and marks it pending-create.
	CreateRelationship(ctx context.Context, r EntityRelationship) error

	// DeleteRelationship marks a relationship pending-delete.
	DeleteRelationship(ctx context.Context, id string) error

	// GetRelationshipsForEntity returns non-deleted relationships touching
	// the given entity id on either end.
	GetRelationshipsForEntity(ctx context.Context, entityID string) ([]EntityRelationship, error)

	// PendingChanges returns every pending entity and relationship row, each
	// wrapped as its own PendingChange.
	PendingChanges(ctx context.Context) ([]PendingChange, error)

	// ClearPendingChanges commits the drained set: pending-delete rows in the
	// set are physically removed, other pending rows have their flag cleared.
	// Rows not named by the set are untouched. Atomic with respect to
	// concurrent reads.
	ClearPendingChanges(ctx context.Context, drained []PendingChange) error

	// ClearAll removes all entity, relationship, and pending data. Used only
	// by full resync.
	ClearAll(ctx context.Context) error

	// SyncMetadata returns the per-device sync state, creating it with a
	// fresh device id and empty clock on first use.
	SyncMetadata(ctx context.Context) (*SyncMetadata, error)

	// UpdateSyncMetadata persists the clock, cursor, and last-sync time.
	UpdateSyncMetadata(ctx context.Context, clock *VectorClock, cursor string) error

	// Close releases underlying resources.
	Close() error
}
