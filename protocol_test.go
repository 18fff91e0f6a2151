package homegraph

import (
	"errors"
	"testing"
)

func testSyncRequest() *SyncRequest {
	e := testEntity("e1", "v1")
	return &SyncRequest{
		ProtocolVersion: ProtocolVersion,
		DeviceID:        "device-1",
		UserID:          "user-1",
		Kind:            SyncDelta,
		VectorClock:     map[string]uint64{"device-1": 2},
		Changes: []SyncChange{
			{Type: ChangeCreate, Entity: &e},
		},
		Cursor: "cursor-1",
	}
}

func TestSyncRequestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "snappy"
		}
		t.Run(name, func(t *testing.T) {
			req := testSyncRequest()
			data, err := EncodeSyncRequest(req, compress)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			back, err := DecodeSyncRequest(data, compress)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if back.DeviceID != req.DeviceID || back.Kind != req.Kind || back.Cursor != req.Cursor {
				t.Errorf("fields lost: %+v", back)
			}
			if len(back.Changes) != 1 || back.Changes[0].Entity.ID != "e1" {
				t.Errorf("changes lost: %+v", back.Changes)
			}
			if back.VectorClock["device-1"] != 2 {
				t.Errorf("clock lost: %v", back.VectorClock)
			}
		})
	}
}

func TestSyncRequestFiltersRoundTrip(t *testing.T) {
	req := testSyncRequest()
	req.Filters = &SyncFilters{
		EntityTypes: []EntityType{EntityDevice},
		Owners:      []string{"alice", "bob"},
	}

	data, err := EncodeSyncRequest(req, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeSyncRequest(data, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Filters == nil {
		t.Fatal("filters lost")
	}
	if len(back.Filters.Owners) != 2 || back.Filters.Owners[0] != "alice" || back.Filters.Owners[1] != "bob" {
		t.Errorf("owner allowlist lost: %+v", back.Filters.Owners)
	}
	if len(back.Filters.EntityTypes) != 1 || back.Filters.EntityTypes[0] != EntityDevice {
		t.Errorf("type filter lost: %+v", back.Filters.EntityTypes)
	}
}

func TestSyncResponseRoundTrip(t *testing.T) {
	remote := testEntity("e1", "v-remote")
	resp := &SyncResponse{
		ProtocolVersion: ProtocolVersion,
		Changes: []SyncChange{
			{Type: ChangeUpdate, Entity: &remote},
		},
		Conflicts: []ConflictNotice{
			{EntityID: "e1", LocalVersion: "v-local", RemoteVersion: "v-remote", Strategy: StrategyMerge},
		},
		VectorClock: map[string]uint64{"server": 9},
		Cursor:      "cursor-2",
		Stats:       SyncStats{EntitiesSynced: 1},
	}

	data, err := EncodeSyncResponse(resp, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeSyncResponse(data, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back.Conflicts) != 1 || back.Conflicts[0].Strategy != StrategyMerge {
		t.Errorf("conflicts lost: %+v", back.Conflicts)
	}
	if back.VectorClock["server"] != 9 || back.Cursor != "cursor-2" {
		t.Errorf("clock/cursor lost: %+v", back)
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	t.Run("wrong protocol version", func(t *testing.T) {
		req := testSyncRequest()
		req.ProtocolVersion = "homegraph/v0"
		data, err := EncodeSyncRequest(req, false)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := DecodeSyncRequest(data, false); !errors.Is(err, ErrInvalidData) {
			t.Errorf("expected ErrInvalidData, got %v", err)
		}
	})

	t.Run("unknown sync kind", func(t *testing.T) {
		req := testSyncRequest()
		req.Kind = "partial"
		data, err := EncodeSyncRequest(req, false)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := DecodeSyncRequest(data, false); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("unknown entity type fails whole decode", func(t *testing.T) {
		req := testSyncRequest()
		req.Changes[0].Entity.Type = "submarine"
		data, err := EncodeSyncRequest(req, false)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := DecodeSyncRequest(data, false); !errors.Is(err, ErrInvalidData) {
			t.Errorf("expected ErrInvalidData, got %v", err)
		}
	})

	t.Run("empty change", func(t *testing.T) {
		req := testSyncRequest()
		req.Changes = []SyncChange{{Type: ChangeCreate}}
		data, err := EncodeSyncRequest(req, false)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := DecodeSyncRequest(data, false); err == nil {
			t.Error("expected error for payload-less change")
		}
	})

	t.Run("corrupt snappy", func(t *testing.T) {
		if _, err := DecodeSyncResponse([]byte{0xff, 0x01, 0x02}, true); err == nil {
			t.Error("expected error for corrupt compressed data")
		}
	})

	t.Run("not json", func(t *testing.T) {
		if _, err := DecodeSyncResponse([]byte("<html>"), false); err == nil {
			t.Error("expected error for non-json body")
		}
	})
}

func TestChangesChecksum(t *testing.T) {
	e := testEntity("e1", "v1")
	changes := []SyncChange{{Type: ChangeCreate, Entity: &e}}

	a, err := ChangesChecksum(changes)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ChangesChecksum(changes)
	if err != nil {
		t.Fatal(err)
	}
	if a == "" || a != b {
		t.Errorf("checksum should be stable and non-empty: %q vs %q", a, b)
	}

	e2 := testEntity("e2", "v1")
	other, err := ChangesChecksum([]SyncChange{{Type: ChangeCreate, Entity: &e2}})
	if err != nil {
		t.Fatal(err)
	}
	if other == a {
		t.Error("different payloads should produce different checksums")
	}

	empty, err := ChangesChecksum(nil)
	if err != nil {
		t.Fatal(err)
	}
	if empty != "" {
		t.Errorf("empty change list has no checksum, got %q", empty)
	}
}
