package homegraph

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SyncState is the engine's lifecycle state.
type SyncState int32

const (
	// StateIdle means no sync is running.
	StateIdle SyncState = iota
	// StateSyncing means one cycle is in flight.
	StateSyncing
	// StateSuccess means the last cycle completed.
	StateSuccess
	// StateFailed means the last cycle aborted; LastError holds the cause.
	StateFailed
)

// String returns the state name.
func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SyncEventType classifies engine events.
type SyncEventType string

const (
	EventSyncStarted      SyncEventType = "sync_started"
	EventSyncCompleted    SyncEventType = "sync_completed"
	EventSyncFailed       SyncEventType = "sync_failed"
	EventConflictResolved SyncEventType = "conflict_resolved"
	EventConflictSurfaced SyncEventType = "conflict_surfaced"
)

// SyncEvent is published on the engine's event channel at state transitions
// and conflict resolutions.
type SyncEvent struct {
	Type     SyncEventType
	EntityID string
	Err      error
	At       time.Time
}

// SyncResult summarizes one completed cycle.
type SyncResult struct {
	EntitiesSynced      int
	RelationshipsSynced int
	ConflictsResolved   int
	ConflictsUnresolved int
	Elapsed             time.Duration
}

// EngineStats holds cumulative engine counters.
type EngineStats struct {
	Syncs               uint64
	Failures            uint64
	EntitiesSynced      uint64
	RelationshipsSynced uint64
	ConflictsResolved   uint64
	LastSyncAt          time.Time
}

// SyncEngineConfig configures a SyncEngine.
type SyncEngineConfig struct {
	// Store is the local pending-change ledger. Required.
	Store ChangeStore

	// Transport moves payloads to and from the remote. Required for sync.
	Transport Transport

	// Resolver reconciles conflicting entity versions. Defaults to
	// NewConflictResolver().
	Resolver *ConflictResolver

	// DefaultStrategy is used when a conflict notice names no strategy.
	// Default: last_write_wins.
	DefaultStrategy ConflictStrategy

	// Filters narrows what the remote returns. Optional.
	Filters *SyncFilters

	// Logger receives cycle transition logs. Defaults to stderr.
	Logger *log.Logger

	// Metrics receives per-cycle counters. Optional.
	Metrics *Metrics

	// EventBufferSize is the event channel capacity. Default: 32.
	EventBufferSize int
}

// SyncEngine drives the sync state machine: Idle -> Syncing ->
// {Success|Failed} -> Idle. One cycle at a time; a Sync call while another is
// in flight fails fast with ErrSyncInProgress.
//
// Change application is not transactional with the metadata commit. Upserts
// are idempotent by (id, version), so a crash between applying remote changes
// and persisting the clock re-applies the same changes on the next cycle and
// converges to the same state.
type SyncEngine struct {
	store     ChangeStore
	transport Transport
	resolver  *ConflictResolver
	strategy  ConflictStrategy
	filters   *SyncFilters
	logger    *log.Logger
	metrics   *Metrics

	syncing atomic.Bool
	state   atomic.Int32
	stopped atomic.Bool

	mu      sync.Mutex
	lastErr error
	stats   EngineStats

	events chan SyncEvent
}

// NewSyncEngine creates a sync engine.
func NewSyncEngine(config SyncEngineConfig) (*SyncEngine, error) {
	if config.Store == nil {
		return nil, newSyncError(ErrorKindSyncFailed, "change store required", nil)
	}
	if config.Resolver == nil {
		config.Resolver = NewConflictResolver()
	}
	if config.DefaultStrategy == "" {
		config.DefaultStrategy = StrategyLastWriteWins
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[homegraph] ", log.LstdFlags)
	}
	if config.EventBufferSize <= 0 {
		config.EventBufferSize = 32
	}
	return &SyncEngine{
		store:     config.Store,
		transport: config.Transport,
		resolver:  config.Resolver,
		strategy:  config.DefaultStrategy,
		filters:   config.Filters,
		logger:    config.Logger,
		metrics:   config.Metrics,
		events:    make(chan SyncEvent, config.EventBufferSize),
	}, nil
}

// State returns the current engine state.
func (e *SyncEngine) State() SyncState {
	return SyncState(e.state.Load())
}

// LastError returns the error retained from the last failed cycle, or nil.
func (e *SyncEngine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Events returns the engine's event channel. Events are dropped, never
// blocked on, when no receiver keeps up.
func (e *SyncEngine) Events() <-chan SyncEvent {
	return e.events
}

// Stats returns cumulative engine counters.
func (e *SyncEngine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Stop prevents new cycles from starting. A cycle already in flight is not
// aborted; its network I/O runs to completion or timeout.
func (e *SyncEngine) Stop() {
	e.stopped.Store(true)
}

func (e *SyncEngine) publish(ev SyncEvent) {
	ev.At = time.Now().UTC()
	select {
	case e.events <- ev:
	default:
	}
}

// begin performs the cycle guards and claims the busy flag.
func (e *SyncEngine) begin() error {
	if e.stopped.Load() {
		return newSyncError(ErrorKindSyncFailed, "engine stopped", ErrStopped)
	}
	if e.transport == nil {
		return newSyncError(ErrorKindNotConnected, "no transport configured", nil)
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return newSyncError(ErrorKindSyncFailed, "sync already in progress", ErrSyncInProgress)
	}
	e.state.Store(int32(StateSyncing))
	e.publish(SyncEvent{Type: EventSyncStarted})
	return nil
}

// finish records the cycle outcome and releases the busy flag.
func (e *SyncEngine) finish(result *SyncResult, err error, elapsed time.Duration) {
	e.mu.Lock()
	e.stats.Syncs++
	if err != nil {
		e.stats.Failures++
		e.lastErr = err
	} else {
		e.lastErr = nil
		e.stats.EntitiesSynced += uint64(result.EntitiesSynced)
		e.stats.RelationshipsSynced += uint64(result.RelationshipsSynced)
		e.stats.ConflictsResolved += uint64(result.ConflictsResolved)
		e.stats.LastSyncAt = time.Now().UTC()
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SyncAttempts.Inc()
		e.metrics.SyncDuration.Observe(elapsed.Seconds())
		if err != nil {
			e.metrics.SyncFailures.Inc()
		} else {
			e.metrics.SyncSuccesses.Inc()
			e.metrics.EntitiesApplied.Add(float64(result.EntitiesSynced))
			e.metrics.RelationshipsApplied.Add(float64(result.RelationshipsSynced))
		}
	}

	if err != nil {
		e.state.Store(int32(StateFailed))
		e.publish(SyncEvent{Type: EventSyncFailed, Err: err})
		e.logger.Printf("sync failed after %s: %v", elapsed, err)
	} else {
		e.state.Store(int32(StateSuccess))
		e.publish(SyncEvent{Type: EventSyncCompleted})
		e.logger.Printf("sync completed in %s: %d entities, %d relationships, %d conflicts",
			elapsed, result.EntitiesSynced, result.RelationshipsSynced, result.ConflictsResolved)
	}
	// Success and Failed are idle-equivalent: the next Sync call moves the
	// engine straight back to Syncing.
	e.syncing.Store(false)
}

// Sync runs one delta cycle: drain pending changes, exchange with the remote,
// resolve conflicts, apply remote changes in order, then commit clock, cursor,
// and the drained set.
func (e *SyncEngine) Sync(ctx context.Context, userID string) (*SyncResult, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := e.runDelta(ctx, userID)
	elapsed := time.Since(start)
	if result == nil {
		result = &SyncResult{}
	}
	result.Elapsed = elapsed
	e.finish(result, err, elapsed)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *SyncEngine) runDelta(ctx context.Context, userID string) (*SyncResult, error) {
	meta, err := e.store.SyncMetadata(ctx)
	if err != nil {
		return nil, err
	}

	drained, err := e.store.PendingChanges(ctx)
	if err != nil {
		return nil, err
	}

	req, err := e.buildRequest(meta, userID, SyncDelta, drained)
	if err != nil {
		return nil, err
	}

	resp, err := e.transport.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}

	if err := e.resolveConflicts(ctx, resp.Conflicts, result); err != nil {
		return result, err
	}
	if err := e.applyChanges(ctx, resp.Changes, result); err != nil {
		return result, err
	}

	// Clock merge happens only after every change in the cycle applied.
	meta.VectorClock.Merge(NewVectorClockFrom(resp.VectorClock))
	cursor := meta.Cursor
	if resp.Cursor != "" {
		cursor = resp.Cursor
	}
	if err := e.store.UpdateSyncMetadata(ctx, meta.VectorClock, cursor); err != nil {
		return result, err
	}

	// Only the set drained above is cleared; changes recorded during the
	// cycle survive for the next one.
	if err := e.store.ClearPendingChanges(ctx, drained); err != nil {
		return result, err
	}
	return result, nil
}

// FullSync discards all local state and rebuilds it from the remote. No
// conflict resolution runs and no pending changes are cleared afterward;
// the wipe left nothing to conflict with or to clear.
func (e *SyncEngine) FullSync(ctx context.Context, userID string) (*SyncResult, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := e.runFull(ctx, userID)
	elapsed := time.Since(start)
	if result == nil {
		result = &SyncResult{}
	}
	result.Elapsed = elapsed
	e.finish(result, err, elapsed)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *SyncEngine) runFull(ctx context.Context, userID string) (*SyncResult, error) {
	if err := e.store.ClearAll(ctx); err != nil {
		return nil, err
	}

	meta, err := e.store.SyncMetadata(ctx)
	if err != nil {
		return nil, err
	}
	meta.VectorClock = NewVectorClock()
	meta.Cursor = ""

	req, err := e.buildRequest(meta, userID, SyncFull, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.transport.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	if err := e.applyChanges(ctx, resp.Changes, result); err != nil {
		return result, err
	}

	clock := NewVectorClockFrom(resp.VectorClock)
	if err := e.store.UpdateSyncMetadata(ctx, clock, resp.Cursor); err != nil {
		return result, err
	}
	return result, nil
}

func (e *SyncEngine) buildRequest(meta *SyncMetadata, userID string, kind SyncKind, drained []PendingChange) (*SyncRequest, error) {
	changes := make([]SyncChange, 0, len(drained))
	for _, pc := range drained {
		changes = append(changes, SyncChange{
			Type:          pc.Type,
			Entity:        pc.Entity,
			Relationships: pc.Relationships,
		})
	}
	checksum, err := ChangesChecksum(changes)
	if err != nil {
		return nil, err
	}
	return &SyncRequest{
		ProtocolVersion: ProtocolVersion,
		DeviceID:        meta.DeviceID,
		UserID:          userID,
		Kind:            kind,
		VectorClock:     meta.VectorClock.Counters(),
		Changes:         changes,
		Cursor:          meta.Cursor,
		Filters:         e.filters,
		Checksum:        checksum,
	}, nil
}

// resolveConflicts handles the response's conflict notices: fetch both sides,
// resolve with the notice's strategy, persist the winner.
func (e *SyncEngine) resolveConflicts(ctx context.Context, notices []ConflictNotice, result *SyncResult) error {
	for _, notice := range notices {
		local, err := e.store.GetEntity(ctx, notice.EntityID)
		if err != nil {
			return err
		}

		remote := notice.RemoteEntity
		if remote == nil {
			remote, err = e.transport.FetchEntity(ctx, notice.EntityID)
			if err != nil {
				return err
			}
		}

		if !e.resolver.HasConflict(local, remote) {
			// Stale notice: the descendant lineage wins whichever side it
			// is. Apply the remote only when it descends from the local
			// version (or nothing exists locally); a remote that is the
			// local version's ancestor must not regress newer local state.
			if remote != nil && (local == nil || remote.HasParent(local.Version)) {
				if err := e.store.UpdateEntity(ctx, *remote); err != nil {
					return err
				}
			}
			continue
		}

		strategy := notice.Strategy
		if strategy == "" {
			strategy = e.strategy
		}
		res := e.resolver.Resolve(*local, *remote, strategy)
		if res.Unresolved {
			result.ConflictsUnresolved++
			if e.metrics != nil {
				e.metrics.ConflictsUnresolved.Inc()
			}
			e.publish(SyncEvent{Type: EventConflictSurfaced, EntityID: notice.EntityID})
			continue
		}
		if err := e.store.UpdateEntity(ctx, res.Entity); err != nil {
			return err
		}
		result.ConflictsResolved++
		if e.metrics != nil {
			e.metrics.ConflictsResolved.Inc()
		}
		e.publish(SyncEvent{Type: EventConflictResolved, EntityID: notice.EntityID})
	}
	return nil
}

// applyChanges applies remote changes strictly in order; a relationship may
// depend on an entity created earlier in the same list.
func (e *SyncEngine) applyChanges(ctx context.Context, changes []SyncChange, result *SyncResult) error {
	for _, change := range changes {
		switch change.Type {
		case ChangeCreate:
			if change.Entity != nil {
				if err := e.store.CreateEntity(ctx, *change.Entity); err != nil {
					return err
				}
				result.EntitiesSynced++
			}
			for _, rel := range change.Relationships {
				if err := e.store.CreateRelationship(ctx, rel); err != nil {
					return err
				}
				result.RelationshipsSynced++
			}

		case ChangeUpdate:
			if change.Entity != nil {
				// Upsert semantics: an update for an id never seen locally
				// lands as a create.
				if err := e.store.UpdateEntity(ctx, *change.Entity); err != nil {
					return err
				}
				result.EntitiesSynced++
			}
			// Relationships are not versioned in place; an update is a
			// delete-then-recreate.
			for _, rel := range change.Relationships {
				if err := e.store.DeleteRelationship(ctx, rel.ID); err != nil {
					return err
				}
				if err := e.store.CreateRelationship(ctx, rel); err != nil {
					return err
				}
				result.RelationshipsSynced++
			}

		case ChangeDelete:
			if change.Entity != nil {
				if err := e.store.DeleteEntity(ctx, change.Entity.ID); err != nil {
					return err
				}
				result.EntitiesSynced++
			}
			for _, rel := range change.Relationships {
				if err := e.store.DeleteRelationship(ctx, rel.ID); err != nil {
					return err
				}
				result.RelationshipsSynced++
			}

		default:
			return newSyncError(ErrorKindInvalidData, "unknown change type "+string(change.Type), nil)
		}
	}
	return nil
}
