package homegraph

import (
	"fmt"
	"sort"
	"time"
)

// EntityType classifies a graph node.
type EntityType string

const (
	EntityHome       EntityType = "home"
	EntityRoom       EntityType = "room"
	EntityDevice     EntityType = "device"
	EntityZone       EntityType = "zone"
	EntityDoor       EntityType = "door"
	EntityWindow     EntityType = "window"
	EntityProcedure  EntityType = "procedure"
	EntityManual     EntityType = "manual"
	EntityNote       EntityType = "note"
	EntitySchedule   EntityType = "schedule"
	EntityAutomation EntityType = "automation"
	EntityApp        EntityType = "app"
)

var entityTypes = map[EntityType]bool{
	EntityHome: true, EntityRoom: true, EntityDevice: true, EntityZone: true,
	EntityDoor: true, EntityWindow: true, EntityProcedure: true, EntityManual: true,
	EntityNote: true, EntitySchedule: true, EntityAutomation: true, EntityApp: true,
}

// ParseEntityType validates a wire-level entity type string.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !entityTypes[t] {
		return "", newSyncError(ErrorKindInvalidData, fmt.Sprintf("unknown entity type %q", s), nil)
	}
	return t, nil
}

// SourceType records where an entity originated.
type SourceType string

const (
	SourceManual    SourceType = "manual"
	SourceHomeKit   SourceType = "homekit"
	SourceMatter    SourceType = "matter"
	SourceImported  SourceType = "imported"
	SourceGenerated SourceType = "generated"
)

var sourceTypes = map[SourceType]bool{
	SourceManual: true, SourceHomeKit: true, SourceMatter: true,
	SourceImported: true, SourceGenerated: true,
}

// ParseSourceType validates a wire-level source type string.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(s)
	if !sourceTypes[t] {
		return "", newSyncError(ErrorKindInvalidData, fmt.Sprintf("unknown source type %q", s), nil)
	}
	return t, nil
}

// RelationshipType classifies a graph edge.
type RelationshipType string

const (
	RelLocatedIn       RelationshipType = "located_in"
	RelControls        RelationshipType = "controls"
	RelConnectsTo      RelationshipType = "connects_to"
	RelPartOf          RelationshipType = "part_of"
	RelManages         RelationshipType = "manages"
	RelDocumentedBy    RelationshipType = "documented_by"
	RelProcedureFor    RelationshipType = "procedure_for"
	RelTriggeredBy     RelationshipType = "triggered_by"
	RelDependsOn       RelationshipType = "depends_on"
	RelContainedIn     RelationshipType = "contained_in"
	RelMonitors        RelationshipType = "monitors"
	RelAutomates       RelationshipType = "automates"
	RelControlledByApp RelationshipType = "controlled_by_app"
	RelHasBlob         RelationshipType = "has_blob"
)

var relationshipTypes = map[RelationshipType]bool{
	RelLocatedIn: true, RelControls: true, RelConnectsTo: true, RelPartOf: true,
	RelManages: true, RelDocumentedBy: true, RelProcedureFor: true,
	RelTriggeredBy: true, RelDependsOn: true, RelContainedIn: true,
	RelMonitors: true, RelAutomates: true, RelControlledByApp: true, RelHasBlob: true,
}

// ParseRelationshipType validates a wire-level relationship type string.
func ParseRelationshipType(s string) (RelationshipType, error) {
	t := RelationshipType(s)
	if !relationshipTypes[t] {
		return "", newSyncError(ErrorKindInvalidData, fmt.Sprintf("unknown relationship type %q", s), nil)
	}
	return t, nil
}

// Entity is a versioned node in the knowledge graph.
//
// ID is the stable identity and never changes across versions; Version is an
// opaque token that changes on every mutation. Two entities are the same
// entity iff their IDs match, and identical snapshots iff ID and Version both
// match. ParentVersions lists the version tokens this version descends from;
// after a merge it carries both sides' lineage.
type Entity struct {
	ID             string           `json:"id"`
	Version        string           `json:"version"`
	Type           EntityType       `json:"type"`
	Name           string           `json:"name"`
	Content        map[string]Value `json:"content,omitempty"`
	SourceType     SourceType       `json:"source_type"`
	Owner          string           `json:"owner,omitempty"`
	ParentVersions []string         `json:"parent_versions,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Validate checks enum fields and required identity fields.
// Decoded wire entities must pass before being applied locally.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return newSyncError(ErrorKindInvalidData, "entity missing id", nil)
	}
	if e.Version == "" {
		return newSyncError(ErrorKindInvalidData, "entity "+e.ID+" missing version", nil)
	}
	if _, err := ParseEntityType(string(e.Type)); err != nil {
		return err
	}
	if _, err := ParseSourceType(string(e.SourceType)); err != nil {
		return err
	}
	return nil
}

// HasParent reports whether version appears in the entity's parent lineage.
func (e *Entity) HasParent(version string) bool {
	for _, p := range e.ParentVersions {
		if p == version {
			return true
		}
	}
	return false
}

// Clone returns a deep-enough copy: content maps and parent slices are
// copied, Values are shared (immutable).
func (e *Entity) Clone() Entity {
	cp := *e
	cp.Content = CloneContent(e.Content)
	if e.ParentVersions != nil {
		cp.ParentVersions = append([]string(nil), e.ParentVersions...)
	}
	return cp
}

// EntityRelationship is a versioned, typed edge between two entities.
//
// Identity is ID alone. Relationships are not re-versioned in place; a
// changed relationship is deleted and recreated.
type EntityRelationship struct {
	ID                string           `json:"id"`
	FromEntityID      string           `json:"from_entity_id"`
	FromEntityVersion string           `json:"from_entity_version"`
	ToEntityID        string           `json:"to_entity_id"`
	ToEntityVersion   string           `json:"to_entity_version"`
	Type              RelationshipType `json:"relationship_type"`
	Properties        map[string]Value `json:"properties,omitempty"`
	Owner             string           `json:"owner,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Validate checks enum and identity fields of a decoded relationship.
func (r *EntityRelationship) Validate() error {
	if r.ID == "" {
		return newSyncError(ErrorKindInvalidData, "relationship missing id", nil)
	}
	if r.FromEntityID == "" || r.ToEntityID == "" {
		return newSyncError(ErrorKindInvalidData, "relationship "+r.ID+" missing endpoint", nil)
	}
	if _, err := ParseRelationshipType(string(r.Type)); err != nil {
		return err
	}
	return nil
}

// Touches reports whether the relationship references the given entity id on
// either end.
func (r *EntityRelationship) Touches(entityID string) bool {
	return r.FromEntityID == entityID || r.ToEntityID == entityID
}

// mergeParentSets unions version tokens into a deduplicated, sorted set.
// Determinism matters: merged entities on two replicas must carry identical
// lineage.
func mergeParentSets(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, v := range set {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
