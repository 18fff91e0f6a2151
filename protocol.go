package homegraph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/golang/snappy"
)

// ProtocolVersion identifies the sync wire format. Both sides must speak the
// same version; a mismatch is rejected at decode time.
const ProtocolVersion = "homegraph/v1"

// SyncKind distinguishes the two sync modes on the wire.
type SyncKind string

const (
	// SyncDelta exchanges only changes since the last known cursor/clock.
	SyncDelta SyncKind = "delta"
	// SyncFull requests the complete remote state, discarding local history.
	SyncFull SyncKind = "full"
)

// SyncChange is one mutation on the wire, local-to-remote or remote-to-local.
type SyncChange struct {
	Type          ChangeType           `json:"change_type"`
	Entity        *Entity              `json:"entity,omitempty"`
	Relationships []EntityRelationship `json:"relationships,omitempty"`
}

// SyncFilters narrows what the remote sends back. Zero value means no
// filtering.
type SyncFilters struct {
	// EntityTypes limits returned entities to the listed types.
	EntityTypes []EntityType `json:"entity_types,omitempty"`
	// Owners limits returned entities to those last modified by the listed
	// owners.
	Owners []string `json:"owners,omitempty"`
	// ModifiedSince limits returned entities to those updated at or after
	// the given instant.
	ModifiedSince time.Time `json:"modified_since,omitempty"`
}

// SyncRequest is the client half of one sync exchange.
type SyncRequest struct {
	ProtocolVersion string            `json:"protocol_version"`
	DeviceID        string            `json:"device_id"`
	UserID          string            `json:"user_id"`
	Kind            SyncKind          `json:"kind"`
	VectorClock     map[string]uint64 `json:"vector_clock"`
	Changes         []SyncChange      `json:"changes,omitempty"`
	Cursor          string            `json:"cursor,omitempty"`
	Filters         *SyncFilters      `json:"filters,omitempty"`
	// Checksum is the hex sha256 of the serialized changes, letting the
	// remote detect payload corruption independent of transport.
	Checksum string `json:"checksum,omitempty"`
}

// ConflictNotice is the remote's report of one conflicting entity. RemoteEntity
// may be inlined; when nil the client fetches it by id.
type ConflictNotice struct {
	EntityID        string           `json:"entity_id"`
	LocalVersion    string           `json:"local_version"`
	RemoteVersion   string           `json:"remote_version"`
	Strategy        ConflictStrategy `json:"strategy,omitempty"`
	ResolvedVersion string           `json:"resolved_version,omitempty"`
	RemoteEntity    *Entity          `json:"remote_entity,omitempty"`
}

// SyncStats summarizes one exchange from the remote's perspective.
type SyncStats struct {
	EntitiesSynced      int   `json:"entities_synced"`
	RelationshipsSynced int   `json:"relationships_synced"`
	ConflictsResolved   int   `json:"conflicts_resolved"`
	DurationMillis      int64 `json:"duration_ms,omitempty"`
}

// SyncResponse is the server half of one sync exchange. Kind echoes the
// request's sync mode.
type SyncResponse struct {
	ProtocolVersion string            `json:"protocol_version"`
	Kind            SyncKind          `json:"kind,omitempty"`
	Changes         []SyncChange      `json:"changes,omitempty"`
	Conflicts       []ConflictNotice  `json:"conflicts,omitempty"`
	VectorClock     map[string]uint64 `json:"vector_clock"`
	Cursor          string            `json:"cursor,omitempty"`
	Stats           SyncStats         `json:"stats"`
}

// ChangesChecksum computes the hex sha256 over the serialized change list.
func ChangesChecksum(changes []SyncChange) (string, error) {
	if len(changes) == 0 {
		return "", nil
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return "", newSyncError(ErrorKindInvalidData, "checksum changes", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// EncodeSyncRequest serializes a request, snappy-compressing when asked.
func EncodeSyncRequest(req *SyncRequest, compress bool) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, newSyncError(ErrorKindInvalidData, "encode sync request", err)
	}
	if compress {
		return snappy.Encode(nil, data), nil
	}
	return data, nil
}

// DecodeSyncRequest reverses EncodeSyncRequest and validates the payload.
func DecodeSyncRequest(data []byte, compressed bool) (*SyncRequest, error) {
	if compressed {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, newSyncError(ErrorKindInvalidData, "decompress sync request", err)
		}
		data = decoded
	}
	var req SyncRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, newSyncError(ErrorKindInvalidData, "decode sync request", err)
	}
	if req.ProtocolVersion != ProtocolVersion {
		return nil, newSyncError(ErrorKindInvalidData,
			"unsupported protocol version "+req.ProtocolVersion, nil)
	}
	if req.Kind != SyncDelta && req.Kind != SyncFull {
		return nil, newSyncError(ErrorKindInvalidData, "unknown sync kind "+string(req.Kind), nil)
	}
	if err := validateChanges(req.Changes); err != nil {
		return nil, err
	}
	return &req, nil
}

// EncodeSyncResponse serializes a response, snappy-compressing when asked.
func EncodeSyncResponse(resp *SyncResponse, compress bool) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, newSyncError(ErrorKindInvalidData, "encode sync response", err)
	}
	if compress {
		return snappy.Encode(nil, data), nil
	}
	return data, nil
}

// DecodeSyncResponse reverses EncodeSyncResponse and validates every entity
// and relationship in the payload before anything is applied locally.
func DecodeSyncResponse(data []byte, compressed bool) (*SyncResponse, error) {
	if compressed {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, newSyncError(ErrorKindInvalidData, "decompress sync response", err)
		}
		data = decoded
	}
	var resp SyncResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, newSyncError(ErrorKindInvalidData, "decode sync response", err)
	}
	if resp.ProtocolVersion != ProtocolVersion {
		return nil, newSyncError(ErrorKindInvalidData,
			"unsupported protocol version "+resp.ProtocolVersion, nil)
	}
	if err := validateChanges(resp.Changes); err != nil {
		return nil, err
	}
	for i := range resp.Conflicts {
		n := &resp.Conflicts[i]
		if n.EntityID == "" {
			return nil, newSyncError(ErrorKindInvalidData, "conflict notice missing entity id", nil)
		}
		if n.Strategy != "" {
			if _, err := ParseConflictStrategy(string(n.Strategy)); err != nil {
				return nil, err
			}
		}
		if n.RemoteEntity != nil {
			if err := n.RemoteEntity.Validate(); err != nil {
				return nil, err
			}
		}
	}
	return &resp, nil
}

func validateChanges(changes []SyncChange) error {
	for i := range changes {
		c := &changes[i]
		if _, err := ParseChangeType(string(c.Type)); err != nil {
			return err
		}
		if c.Entity != nil {
			if err := c.Entity.Validate(); err != nil {
				return err
			}
		}
		for j := range c.Relationships {
			if err := c.Relationships[j].Validate(); err != nil {
				return err
			}
		}
		if c.Entity == nil && len(c.Relationships) == 0 {
			return newSyncError(ErrorKindInvalidData, "change carries no payload", nil)
		}
	}
	return nil
}
