package homegraph

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testEntity(id, version string) Entity {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	return Entity{
		ID:         id,
		Version:    version,
		Type:       EntityDevice,
		Name:       "Lamp",
		Content:    map[string]Value{"watts": Int(9)},
		SourceType: SourceManual,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestParseEntityType(t *testing.T) {
	if _, err := ParseEntityType("room"); err != nil {
		t.Errorf("room should parse: %v", err)
	}
	_, err := ParseEntityType("spaceship")
	if err == nil {
		t.Fatal("unknown type should fail")
	}
	if !errors.Is(err, ErrInvalidData) {
		t.Errorf("expected ErrInvalidData, got %v", err)
	}
}

func TestParseRelationshipType(t *testing.T) {
	if _, err := ParseRelationshipType("located_in"); err != nil {
		t.Errorf("located_in should parse: %v", err)
	}
	if _, err := ParseRelationshipType("friends_with"); err == nil {
		t.Error("unknown relationship type should fail")
	}
}

func TestEntityValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		e := testEntity("e1", "v1")
		if err := e.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("missing id", func(t *testing.T) {
		e := testEntity("", "v1")
		if err := e.Validate(); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("missing version", func(t *testing.T) {
		e := testEntity("e1", "")
		if err := e.Validate(); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("bad enum", func(t *testing.T) {
		e := testEntity("e1", "v1")
		e.SourceType = "telepathy"
		err := e.Validate()
		if !errors.Is(err, ErrInvalidData) {
			t.Errorf("expected ErrInvalidData, got %v", err)
		}
	})
}

func TestEntityJSONRoundTrip(t *testing.T) {
	e := testEntity("e1", "v2")
	e.ParentVersions = []string{"v1"}
	e.Owner = "alice"

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Entity
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ID != e.ID || back.Version != e.Version || back.Type != e.Type {
		t.Errorf("identity fields lost: %+v", back)
	}
	if !EqualContent(back.Content, e.Content) {
		t.Error("content lost in round trip")
	}
	if len(back.ParentVersions) != 1 || back.ParentVersions[0] != "v1" {
		t.Errorf("parent versions lost: %v", back.ParentVersions)
	}
}

func TestEntityClone(t *testing.T) {
	e := testEntity("e1", "v1")
	e.ParentVersions = []string{"v0"}
	cp := e.Clone()
	cp.Content["watts"] = Int(100)
	cp.ParentVersions[0] = "mutated"
	if e.Content["watts"].IntVal() != 9 {
		t.Error("clone shares content map")
	}
	if e.ParentVersions[0] != "v0" {
		t.Error("clone shares parent slice")
	}
}

func TestEntityHasParent(t *testing.T) {
	e := testEntity("e1", "v3")
	e.ParentVersions = []string{"v1", "v2"}
	if !e.HasParent("v2") {
		t.Error("v2 should be a parent")
	}
	if e.HasParent("v3") {
		t.Error("own version is not a parent")
	}
}

func TestRelationshipValidate(t *testing.T) {
	r := EntityRelationship{
		ID:           "r1",
		FromEntityID: "a",
		ToEntityID:   "b",
		Type:         RelControls,
	}
	if err := r.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	r.Type = "worships"
	if err := r.Validate(); err == nil {
		t.Error("unknown relationship type should fail")
	}

	r.Type = RelControls
	r.ToEntityID = ""
	if err := r.Validate(); err == nil {
		t.Error("missing endpoint should fail")
	}
}

func TestRelationshipTouches(t *testing.T) {
	r := EntityRelationship{ID: "r1", FromEntityID: "a", ToEntityID: "b", Type: RelControls}
	if !r.Touches("a") || !r.Touches("b") {
		t.Error("should touch both endpoints")
	}
	if r.Touches("c") {
		t.Error("should not touch unrelated id")
	}
}

func TestMergeParentSets(t *testing.T) {
	got := mergeParentSets([]string{"v2", "v1"}, []string{"v1", "v3", ""})
	want := []string{"v1", "v2", "v3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
