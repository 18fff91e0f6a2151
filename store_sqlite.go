package homegraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig configures the SQLite change ledger.
type SQLiteStoreConfig struct {
	// Path to the SQLite database file.
	Path string

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// BusyTimeout is the timeout for acquiring locks in milliseconds.
	BusyTimeout int
}

// DefaultSQLiteStoreConfig returns default configuration.
func DefaultSQLiteStoreConfig(path string) SQLiteStoreConfig {
	return SQLiteStoreConfig{
		Path:        path,
		JournalMode: "WAL",
		BusyTimeout: 5000,
	}
}

// SQLiteStore implements ChangeStore on a local SQLite database.
// Entity versions are stored as an arena keyed by (id, version); a pending
// column carries the outstanding action and pending-delete rows stay in
// storage, hidden from reads, until ClearPendingChanges removes them.
// A single mutex serializes all operations on the instance.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteStoreConfig
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (or creates) the change ledger at config.Path.
func NewSQLiteStore(config SQLiteStoreConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		return nil, storageErr("database path required", nil)
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	// One writer at a time keeps the serialization contract trivially true.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, config: config}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entities (
			id              TEXT NOT NULL,
			version         TEXT NOT NULL,
			type            TEXT NOT NULL,
			name            TEXT NOT NULL,
			content         TEXT,
			source_type     TEXT NOT NULL,
			owner           TEXT,
			parent_versions TEXT,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			pending         TEXT,
			PRIMARY KEY (id, version)
		);

		CREATE TABLE IF NOT EXISTS relationships (
			id           TEXT PRIMARY KEY,
			from_id      TEXT NOT NULL,
			from_version TEXT NOT NULL,
			to_id        TEXT NOT NULL,
			to_version   TEXT NOT NULL,
			rel_type     TEXT NOT NULL,
			properties   TEXT,
			owner        TEXT,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL,
			pending      TEXT
		);

		CREATE TABLE IF NOT EXISTS sync_metadata (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			device_id    TEXT NOT NULL,
			vector_clock TEXT NOT NULL,
			cursor       TEXT,
			last_sync_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_entities_pending ON entities(pending) WHERE pending IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
		CREATE INDEX IF NOT EXISTS idx_rels_from ON relationships(from_id);
		CREATE INDEX IF NOT EXISTS idx_rels_to ON relationships(to_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return storageErr("create schema", err)
	}
	return nil
}

func (s *SQLiteStore) guard() error {
	if s.closed {
		return storageErr("store is closed", nil)
	}
	return nil
}

func marshalContent(m map[string]Value) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalContent(data []byte) (map[string]Value, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) upsertEntity(ctx context.Context, e Entity, action ChangeType) error {
	content, err := marshalContent(e.Content)
	if err != nil {
		return storageErr("marshal content", err)
	}
	var parents []byte
	if len(e.ParentVersions) > 0 {
		parents, err = json.Marshal(e.ParentVersions)
		if err != nil {
			return storageErr("marshal parent versions", err)
		}
	}

	// Recreating a deleted id supersedes the delete; without this the new
	// version would stay hidden and be swept when the delete is cleared.
	if action == ChangeCreate {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE entities SET pending = NULL WHERE id = ? AND pending = 'delete'`, e.ID); err != nil {
			return storageErr("upsert entity", err)
		}
	}

	// A row already pending-create stays a create: the remote never saw it.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, version, type, name, content, source_type, owner,
			parent_versions, created_at, updated_at, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			content = excluded.content,
			source_type = excluded.source_type,
			owner = excluded.owner,
			parent_versions = excluded.parent_versions,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			pending = CASE WHEN entities.pending = 'create' THEN 'create' ELSE excluded.pending END
	`, e.ID, e.Version, string(e.Type), e.Name, content, string(e.SourceType),
		e.Owner, parents, e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano(), string(action))
	if err != nil {
		return storageErr("upsert entity", err)
	}
	return nil
}

// CreateEntity implements ChangeStore.
func (s *SQLiteStore) CreateEntity(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	return s.upsertEntity(ctx, e, ChangeCreate)
}

// UpdateEntity implements ChangeStore.
func (s *SQLiteStore) UpdateEntity(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	return s.upsertEntity(ctx, e, ChangeUpdate)
}

// DeleteEntity implements ChangeStore. Marks the latest version of id
// pending-delete; the row is physically removed only by ClearPendingChanges.
func (s *SQLiteStore) DeleteEntity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin delete", err)
	}
	defer tx.Rollback()

	// The delete supersedes any not-yet-synced edits of the same id.
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET pending = NULL WHERE id = ? AND pending IN ('create', 'update')`, id); err != nil {
		return storageErr("delete entity", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE entities SET pending = 'delete'
		WHERE id = ? AND rowid = (SELECT MAX(rowid) FROM entities WHERE id = ?)
	`, id, id); err != nil {
		return storageErr("delete entity", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("delete entity", err)
	}
	return nil
}

const entityColumns = `id, version, type, name, content, source_type, owner, parent_versions, created_at, updated_at`

func scanEntity(scanner interface{ Scan(...any) error }) (Entity, error) {
	var e Entity
	var typ, srcType string
	var content, parents []byte
	var owner sql.NullString
	var createdAt, updatedAt int64

	err := scanner.Scan(&e.ID, &e.Version, &typ, &e.Name, &content, &srcType,
		&owner, &parents, &createdAt, &updatedAt)
	if err != nil {
		return Entity{}, err
	}

	e.Type = EntityType(typ)
	e.SourceType = SourceType(srcType)
	e.Owner = owner.String
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if e.Content, err = unmarshalContent(content); err != nil {
		return Entity{}, err
	}
	if len(parents) > 0 {
		if err := json.Unmarshal(parents, &e.ParentVersions); err != nil {
			return Entity{}, err
		}
	}
	return e, nil
}

// GetEntity implements ChangeStore. Returns the most recent version of id,
// or nil if absent or pending-delete.
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE id = ?
		  AND NOT EXISTS (SELECT 1 FROM entities d WHERE d.id = ? AND d.pending = 'delete')
		ORDER BY rowid DESC LIMIT 1
	`, id, id)

	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get entity", err)
	}
	return &e, nil
}

// ListEntities implements ChangeStore.
func (s *SQLiteStore) ListEntities(ctx context.Context, typeFilter EntityType) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities e
		WHERE e.rowid = (SELECT MAX(rowid) FROM entities l WHERE l.id = e.id)
		  AND NOT EXISTS (SELECT 1 FROM entities d WHERE d.id = e.id AND d.pending = 'delete')
		  AND (? = '' OR e.type = ?)
		ORDER BY e.id
	`, string(typeFilter), string(typeFilter))
	if err != nil {
		return nil, storageErr("list entities", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, storageErr("scan entity", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list entities", err)
	}
	return out, nil
}

// CreateRelationship implements ChangeStore.
func (s *SQLiteStore) CreateRelationship(ctx context.Context, r EntityRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	props, err := marshalContent(r.Properties)
	if err != nil {
		return storageErr("marshal properties", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_id, from_version, to_id, to_version,
			rel_type, properties, owner, created_at, updated_at, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'create')
		ON CONFLICT(id) DO UPDATE SET
			from_id = excluded.from_id,
			from_version = excluded.from_version,
			to_id = excluded.to_id,
			to_version = excluded.to_version,
			rel_type = excluded.rel_type,
			properties = excluded.properties,
			owner = excluded.owner,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			pending = 'create'
	`, r.ID, r.FromEntityID, r.FromEntityVersion, r.ToEntityID, r.ToEntityVersion,
		string(r.Type), props, r.Owner, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano())
	if err != nil {
		return storageErr("create relationship", err)
	}
	return nil
}

// DeleteRelationship implements ChangeStore.
func (s *SQLiteStore) DeleteRelationship(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	// A never-transmitted create can be dropped outright.
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM relationships WHERE id = ? AND pending = 'create'`, id)
	if err != nil {
		return storageErr("delete relationship", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE relationships SET pending = 'delete' WHERE id = ?`, id); err != nil {
		return storageErr("delete relationship", err)
	}
	return nil
}

const relColumns = `id, from_id, from_version, to_id, to_version, rel_type, properties, owner, created_at, updated_at`

func scanRelationship(scanner interface{ Scan(...any) error }) (EntityRelationship, error) {
	var r EntityRelationship
	var relType string
	var props []byte
	var owner sql.NullString
	var createdAt, updatedAt int64

	err := scanner.Scan(&r.ID, &r.FromEntityID, &r.FromEntityVersion,
		&r.ToEntityID, &r.ToEntityVersion, &relType, &props, &owner,
		&createdAt, &updatedAt)
	if err != nil {
		return EntityRelationship{}, err
	}

	r.Type = RelationshipType(relType)
	r.Owner = owner.String
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if r.Properties, err = unmarshalContent(props); err != nil {
		return EntityRelationship{}, err
	}
	return r, nil
}

// GetRelationshipsForEntity implements ChangeStore.
func (s *SQLiteStore) GetRelationshipsForEntity(ctx context.Context, entityID string) ([]EntityRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relColumns+` FROM relationships
		WHERE (from_id = ? OR to_id = ?)
		  AND (pending IS NULL OR pending != 'delete')
		ORDER BY id
	`, entityID, entityID)
	if err != nil {
		return nil, storageErr("get relationships", err)
	}
	defer rows.Close()

	var out []EntityRelationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, storageErr("scan relationship", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get relationships", err)
	}
	return out, nil
}

// PendingChanges implements ChangeStore.
func (s *SQLiteStore) PendingChanges(ctx context.Context) ([]PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	var out []PendingChange

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+`, pending FROM entities
		WHERE pending IS NOT NULL ORDER BY rowid
	`)
	if err != nil {
		return nil, storageErr("pending entities", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entity
		var typ, srcType, pending string
		var content, parents []byte
		var owner sql.NullString
		var createdAt, updatedAt int64

		if err := rows.Scan(&e.ID, &e.Version, &typ, &e.Name, &content, &srcType,
			&owner, &parents, &createdAt, &updatedAt, &pending); err != nil {
			return nil, storageErr("scan pending entity", err)
		}
		e.Type = EntityType(typ)
		e.SourceType = SourceType(srcType)
		e.Owner = owner.String
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		e.UpdatedAt = time.Unix(0, updatedAt).UTC()
		if e.Content, err = unmarshalContent(content); err != nil {
			return nil, storageErr("scan pending entity", err)
		}
		if len(parents) > 0 {
			if err := json.Unmarshal(parents, &e.ParentVersions); err != nil {
				return nil, storageErr("scan pending entity", err)
			}
		}
		ent := e
		out = append(out, PendingChange{Type: ChangeType(pending), Entity: &ent})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("pending entities", err)
	}

	relRows, err := s.db.QueryContext(ctx, `
		SELECT `+relColumns+`, pending FROM relationships
		WHERE pending IS NOT NULL ORDER BY rowid
	`)
	if err != nil {
		return nil, storageErr("pending relationships", err)
	}
	defer relRows.Close()

	for relRows.Next() {
		var r EntityRelationship
		var relType, pending string
		var props []byte
		var owner sql.NullString
		var createdAt, updatedAt int64

		if err := relRows.Scan(&r.ID, &r.FromEntityID, &r.FromEntityVersion,
			&r.ToEntityID, &r.ToEntityVersion, &relType, &props, &owner,
			&createdAt, &updatedAt, &pending); err != nil {
			return nil, storageErr("scan pending relationship", err)
		}
		r.Type = RelationshipType(relType)
		r.Owner = owner.String
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.UpdatedAt = time.Unix(0, updatedAt).UTC()
		if r.Properties, err = unmarshalContent(props); err != nil {
			return nil, storageErr("scan pending relationship", err)
		}
		out = append(out, PendingChange{
			Type:          ChangeType(pending),
			Relationships: []EntityRelationship{r},
		})
	}
	if err := relRows.Err(); err != nil {
		return nil, storageErr("pending relationships", err)
	}
	return out, nil
}

// ClearPendingChanges implements ChangeStore. The drained set is committed in
// a single transaction: pending-delete rows are removed, other pending rows
// have their flag cleared, and untouched rows keep their pending state.
func (s *SQLiteStore) ClearPendingChanges(ctx context.Context, drained []PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin clear", err)
	}
	defer tx.Rollback()

	for _, pc := range drained {
		if pc.Entity != nil {
			if pc.Type == ChangeDelete {
				// Only sweep the id while it is still marked deleted; a
				// recreate during the sync cycle cancels the marker and the
				// new rows must survive.
				var marked int
				if err := tx.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM entities WHERE id = ? AND pending = 'delete'`,
					pc.Entity.ID).Scan(&marked); err != nil {
					return storageErr("clear pending", err)
				}
				if marked > 0 {
					if _, err := tx.ExecContext(ctx,
						`DELETE FROM entities WHERE id = ?`, pc.Entity.ID); err != nil {
						return storageErr("clear pending", err)
					}
				}
			} else {
				if _, err := tx.ExecContext(ctx, `
					UPDATE entities SET pending = NULL
					WHERE id = ? AND version = ? AND pending IN ('create', 'update')
				`, pc.Entity.ID, pc.Entity.Version); err != nil {
					return storageErr("clear pending", err)
				}
			}
		}
		for _, r := range pc.Relationships {
			if pc.Type == ChangeDelete {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM relationships WHERE id = ? AND pending = 'delete'`, r.ID); err != nil {
					return storageErr("clear pending", err)
				}
			} else {
				if _, err := tx.ExecContext(ctx, `
					UPDATE relationships SET pending = NULL
					WHERE id = ? AND pending IN ('create', 'update')
				`, r.ID); err != nil {
					return storageErr("clear pending", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit clear", err)
	}
	return nil
}

// ClearAll implements ChangeStore.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin clear all", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM entities`,
		`DELETE FROM relationships`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageErr("clear all", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("clear all", err)
	}
	return nil
}

// SyncMetadata implements ChangeStore, creating the single record lazily with
// a fresh device id and an empty clock.
func (s *SQLiteStore) SyncMetadata(ctx context.Context) (*SyncMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT device_id, vector_clock, cursor, last_sync_at FROM sync_metadata WHERE id = 1`)

	var meta SyncMetadata
	var clockJSON []byte
	var cursor sql.NullString
	var lastSync sql.NullInt64

	err := row.Scan(&meta.DeviceID, &clockJSON, &cursor, &lastSync)
	if err == sql.ErrNoRows {
		meta = SyncMetadata{DeviceID: uuid.NewString(), VectorClock: NewVectorClock()}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO sync_metadata (id, device_id, vector_clock) VALUES (1, ?, '{}')
		`, meta.DeviceID); err != nil {
			return nil, storageErr("init sync metadata", err)
		}
		return &meta, nil
	}
	if err != nil {
		return nil, storageErr("load sync metadata", err)
	}

	meta.VectorClock, err = DeserializeVectorClock(clockJSON)
	if err != nil {
		return nil, storageErr("decode vector clock", err)
	}
	meta.Cursor = cursor.String
	if lastSync.Valid {
		meta.LastSyncAt = time.Unix(0, lastSync.Int64).UTC()
	}
	return &meta, nil
}

// UpdateSyncMetadata implements ChangeStore.
func (s *SQLiteStore) UpdateSyncMetadata(ctx context.Context, clock *VectorClock, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	clockJSON, err := clock.Serialize()
	if err != nil {
		return storageErr("encode vector clock", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_metadata SET vector_clock = ?, cursor = ?, last_sync_at = ? WHERE id = 1
	`, clockJSON, cursor, time.Now().UTC().UnixNano())
	if err != nil {
		return storageErr("update sync metadata", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO sync_metadata (id, device_id, vector_clock, cursor, last_sync_at)
			VALUES (1, ?, ?, ?, ?)
		`, uuid.NewString(), clockJSON, cursor, time.Now().UTC().UnixNano()); err != nil {
			return storageErr("insert sync metadata", err)
		}
	}
	return nil
}

// Close implements ChangeStore.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
