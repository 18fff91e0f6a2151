package homegraph

import (
	"time"

	"github.com/google/uuid"
)

// ConflictStrategy selects how two divergent versions of an entity are
// reconciled.
type ConflictStrategy string

const (
	// StrategyLastWriteWins keeps the entity with the larger UpdatedAt.
	// Ties favor the remote side.
	StrategyLastWriteWins ConflictStrategy = "last_write_wins"
	// StrategyFirstWriteWins keeps the entity with the smaller CreatedAt.
	StrategyFirstWriteWins ConflictStrategy = "first_write_wins"
	// StrategyMerge unions content field-by-field, recency deciding
	// overlapping keys, and mints a new version descending from both sides.
	StrategyMerge ConflictStrategy = "merge"
	// StrategyManual performs no automatic merge; the conflict is surfaced
	// as unresolved for the caller to handle.
	StrategyManual ConflictStrategy = "manual"
)

var conflictStrategies = map[ConflictStrategy]bool{
	StrategyLastWriteWins: true, StrategyFirstWriteWins: true,
	StrategyMerge: true, StrategyManual: true,
}

// ParseConflictStrategy validates a wire-level strategy string.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	st := ConflictStrategy(s)
	if !conflictStrategies[st] {
		return "", newSyncError(ErrorKindInvalidData, "unknown conflict strategy "+s, nil)
	}
	return st, nil
}

// Resolution is the outcome of resolving one conflict. When Unresolved is
// true the strategy was manual: Entity carries the untouched local copy and
// the caller must surface the conflict for user input.
type Resolution struct {
	Entity     Entity
	Strategy   ConflictStrategy
	Unresolved bool
}

// ConflictRecord captures one resolved (or surfaced) conflict for
// observability.
type ConflictRecord struct {
	EntityID      string           `json:"entity_id"`
	LocalVersion  string           `json:"local_version"`
	RemoteVersion string           `json:"remote_version"`
	Strategy      ConflictStrategy `json:"strategy"`
	Unresolved    bool             `json:"unresolved,omitempty"`
	ResolvedAt    time.Time        `json:"resolved_at"`
}

// ConflictResolver decides whether two versions of an entity conflict and
// produces a single winner. Resolve is a pure function over its inputs.
type ConflictResolver struct {
	// now is injectable for deterministic tests.
	now func() time.Time
	// newVersion mints version tokens for merge results.
	newVersion func() string
}

// NewConflictResolver creates a resolver with production clock and version
// generation.
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{
		now:        time.Now,
		newVersion: uuid.NewString,
	}
}

// HasConflict reports whether local and remote are divergent concurrent edits
// of the same entity. Different ids never conflict; equal versions are the
// same snapshot; a version appearing in the other side's parent lineage means
// one side is simply stale, not conflicting.
func (cr *ConflictResolver) HasConflict(local, remote *Entity) bool {
	if local == nil || remote == nil {
		return false
	}
	if local.ID != remote.ID {
		return false
	}
	if local.Version == remote.Version {
		return false
	}
	if local.HasParent(remote.Version) || remote.HasParent(local.Version) {
		return false
	}
	return true
}

// Resolve produces a single entity from two divergent versions according to
// the strategy. It never fails: an unrecognized strategy falls through to
// last-write-wins, which keeps an unknown-but-valid notice from wedging a
// cycle (strategy strings are validated at decode time).
func (cr *ConflictResolver) Resolve(local, remote Entity, strategy ConflictStrategy) Resolution {
	switch strategy {
	case StrategyFirstWriteWins:
		if local.CreatedAt.Before(remote.CreatedAt) {
			return Resolution{Entity: local.Clone(), Strategy: strategy}
		}
		return Resolution{Entity: remote.Clone(), Strategy: strategy}

	case StrategyMerge:
		return Resolution{Entity: cr.merge(local, remote), Strategy: strategy}

	case StrategyManual:
		return Resolution{Entity: local.Clone(), Strategy: strategy, Unresolved: true}

	default: // StrategyLastWriteWins
		if local.UpdatedAt.After(remote.UpdatedAt) {
			return Resolution{Entity: local.Clone(), Strategy: StrategyLastWriteWins}
		}
		// Ties favor remote: the deterministic tiebreak both replicas agree on.
		return Resolution{Entity: remote.Clone(), Strategy: StrategyLastWriteWins}
	}
}

// merge unions content field-level: keys on one side only are kept, keys on
// both sides resolve by UpdatedAt recency (remote wins when strictly newer).
// The result is a new version descending from both inputs.
func (cr *ConflictResolver) merge(local, remote Entity) Entity {
	remoteNewer := remote.UpdatedAt.After(local.UpdatedAt)

	content := make(map[string]Value, len(local.Content)+len(remote.Content))
	for k, v := range local.Content {
		content[k] = v
	}
	for k, v := range remote.Content {
		if _, both := local.Content[k]; !both || remoteNewer {
			content[k] = v
		}
	}

	merged := local.Clone()
	merged.Version = cr.newVersion()
	merged.Content = content
	merged.ParentVersions = mergeParentSets(
		[]string{local.Version, remote.Version},
		local.ParentVersions,
		remote.ParentVersions,
	)
	if remote.CreatedAt.Before(local.CreatedAt) {
		merged.CreatedAt = remote.CreatedAt
	}
	merged.UpdatedAt = cr.now()
	if remoteNewer {
		merged.Name = remote.Name
		merged.SourceType = remote.SourceType
		if remote.Owner != "" {
			merged.Owner = remote.Owner
		}
	}
	return merged
}
