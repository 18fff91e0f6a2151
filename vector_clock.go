package homegraph

import (
	"encoding/json"
	"sync"
)

// VectorClock tracks causal knowledge as per-node logical counters.
// Counters are unsigned 64-bit and never decrease under Increment or Merge.
// All methods are safe for concurrent use.
type VectorClock struct {
	clocks map[string]uint64
	mu     sync.RWMutex
}

// NewVectorClock creates an empty vector clock.
func NewVectorClock() *VectorClock {
	return &VectorClock{clocks: make(map[string]uint64)}
}

// NewVectorClockFrom creates a vector clock seeded with the given counters.
func NewVectorClockFrom(counters map[string]uint64) *VectorClock {
	vc := NewVectorClock()
	for node, c := range counters {
		vc.clocks[node] = c
	}
	return vc
}

// Increment advances the counter for a node. Absent nodes start at zero.
func (vc *VectorClock) Increment(nodeID string) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.clocks[nodeID]++
}

// Get returns the counter for a node (zero if absent).
func (vc *VectorClock) Get(nodeID string) uint64 {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.clocks[nodeID]
}

// Merge takes the component-wise maximum of both clocks. Idempotent and
// commutative; merging an older or equal clock is a no-op.
func (vc *VectorClock) Merge(other *VectorClock) {
	if other == nil {
		return
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	for node, c := range other.clocks {
		if c > vc.clocks[node] {
			vc.clocks[node] = c
		}
	}
}

// Compare returns -1 if vc is strictly dominated by other, 1 if vc strictly
// dominates other, and 0 if the clocks are equal or concurrent.
func (vc *VectorClock) Compare(other *VectorClock) int {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	less, greater := false, false
	for node, c := range vc.clocks {
		oc := other.clocks[node]
		if c < oc {
			less = true
		} else if c > oc {
			greater = true
		}
	}
	for node, oc := range other.clocks {
		if _, ok := vc.clocks[node]; !ok && oc > 0 {
			less = true
		}
	}

	switch {
	case less && !greater:
		return -1
	case greater && !less:
		return 1
	default:
		return 0
	}
}

// HappensBefore reports whether vc is causally no later than other: every
// component of vc is <= the corresponding component of other. Equal clocks
// satisfy HappensBefore; this reflexive relaxation keeps merge logic simple
// and is paired with the inequality requirement in IsConcurrent.
func (vc *VectorClock) HappensBefore(other *VectorClock) bool {
	if other == nil {
		return false
	}
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	for node, c := range vc.clocks {
		if c > other.clocks[node] {
			return false
		}
	}
	return true
}

// Dominates reports whether vc is at least as advanced as other everywhere.
func (vc *VectorClock) Dominates(other *VectorClock) bool {
	if other == nil {
		return true
	}
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	for node, oc := range other.clocks {
		if vc.clocks[node] < oc {
			return false
		}
	}
	return true
}

// Equal reports whether both clocks carry identical non-zero counters.
func (vc *VectorClock) Equal(other *VectorClock) bool {
	if other == nil {
		return false
	}
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	for node, c := range vc.clocks {
		if c != other.clocks[node] {
			return false
		}
	}
	for node, oc := range other.clocks {
		if oc != vc.clocks[node] {
			return false
		}
	}
	return true
}

// IsConcurrent reports whether neither clock happens-before the other and the
// clocks are unequal.
func (vc *VectorClock) IsConcurrent(other *VectorClock) bool {
	if other == nil {
		return false
	}
	if vc.Equal(other) {
		return false
	}
	return !vc.HappensBefore(other) && !other.HappensBefore(vc)
}

// Clone creates a deep copy of the vector clock.
func (vc *VectorClock) Clone() *VectorClock {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	clone := NewVectorClock()
	for node, c := range vc.clocks {
		clone.clocks[node] = c
	}
	return clone
}

// Counters returns a copy of the node->counter mapping for wire encoding.
func (vc *VectorClock) Counters() map[string]uint64 {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	out := make(map[string]uint64, len(vc.clocks))
	for node, c := range vc.clocks {
		out[node] = c
	}
	return out
}

// Len returns the number of tracked nodes.
func (vc *VectorClock) Len() int {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return len(vc.clocks)
}

// Serialize encodes the clock as JSON.
func (vc *VectorClock) Serialize() ([]byte, error) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return json.Marshal(vc.clocks)
}

// DeserializeVectorClock decodes a clock serialized with Serialize.
func DeserializeVectorClock(data []byte) (*VectorClock, error) {
	vc := NewVectorClock()
	if len(data) == 0 {
		return vc, nil
	}
	if err := json.Unmarshal(data, &vc.clocks); err != nil {
		return nil, newSyncError(ErrorKindInvalidData, "decode vector clock", err)
	}
	if vc.clocks == nil {
		vc.clocks = make(map[string]uint64)
	}
	return vc, nil
}
