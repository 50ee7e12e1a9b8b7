package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/memory"
)

// Store executes memory and history queries against a shared DB handle.
type Store struct {
	db  *DB
	log *slog.Logger
}

// NewStore wraps a DB handle. The handle may be shared with other components;
// its mutex serializes their queries.
func NewStore(db *DB, log *slog.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}

	return &Store{db: db, log: log}
}

// DB exposes the underlying handle for components that share the connection.
func (s *Store) DB() *DB {
	return s.db
}

// Filter narrows ListMemories results. Zero-valued fields are ignored.
// A zero Limit caps results at 100; a negative Limit removes the cap.
type Filter struct {
	UserID    string
	SessionID string
	ActorID   string
	Limit     int
}

// AddMemory inserts one mirror row. Inserting an id that already exists
// surfaces a StorageError; ids are assigned once by the primary store.
func (s *Store) AddMemory(ctx context.Context, rec memory.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	metadataJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO memory (
			id, memory_text, user_id, session_id,
			actor_id, role, role_id, metadata, original_text, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Text, rec.UserID, rec.SessionID,
		rec.ActorID, rec.Role, rec.RoleID, metadataJSON,
		nullString(rec.OriginalText), createdAt, createdAt,
	)
	if err != nil {
		return err
	}

	s.log.Debug("added memory row", "id", rec.ID)
	return nil
}

// UpdateMemory rewrites text and metadata in place. A missing id is a logged
// warning and a no-op, never an error: the primary store owns existence.
func (s *Store) UpdateMemory(ctx context.Context, id, text string, metadata map[string]any, updatedAt time.Time) error {
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	affected, err := s.db.Exec(ctx, `
		UPDATE memory
		SET memory_text = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		text, metadataJSON, updatedAt, id,
	)
	if err != nil {
		return err
	}

	if affected == 0 {
		s.log.Warn("update addressed unknown memory id, skipping", "id", id)
	}

	return nil
}

// DeleteMemory removes the row and nulls every transcript link pointing at
// it, returning how many links were cleared.
func (s *Store) DeleteMemory(ctx context.Context, id string) (int64, error) {
	unlinked, err := s.db.Exec(ctx,
		"UPDATE agent_chat_history SET memory_id = NULL WHERE memory_id = ?", id)
	if err != nil {
		return 0, err
	}

	if _, err := s.db.Exec(ctx, "DELETE FROM memory WHERE id = ?", id); err != nil {
		return unlinked, err
	}

	s.log.Debug("deleted memory row", "id", id, "unlinked", unlinked)
	return unlinked, nil
}

// GetMemory fetches one row by id. Returns memory.NotFoundError when absent.
func (s *Store) GetMemory(ctx context.Context, id string) (*memory.Record, error) {
	var rec *memory.Record

	err := s.db.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}

		r, err := scanMemory(rows)
		if err != nil {
			return err
		}

		rec = r
		return nil
	}, `
		SELECT id, memory_text, user_id, session_id, actor_id, role, role_id,
		       metadata, original_text, created_at, updated_at
		FROM memory WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		return nil, memory.NotFoundError{ID: id}
	}

	return rec, nil
}

// ListMemories returns rows matching the filter, newest first.
func (s *Store) ListMemories(ctx context.Context, f Filter) ([]*memory.Record, error) {
	query := `
		SELECT id, memory_text, user_id, session_id, actor_id, role, role_id,
		       metadata, original_text, created_at, updated_at
		FROM memory WHERE 1=1`
	var args []any

	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.ActorID != "" {
		query += " AND actor_id = ?"
		args = append(args, f.ActorID)
	}

	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit == 0 {
		limit = 100
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var records []*memory.Record
	err := s.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			r, err := scanMemory(rows)
			if err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return records, nil
}

// ListMemoriesWithRoles is ListMemories joined against the role table so
// callers see resolved role names without a second lookup.
func (s *Store) ListMemoriesWithRoles(ctx context.Context, f Filter) ([]*memory.Record, error) {
	query := `
		SELECT m.id, m.memory_text, m.user_id, m.session_id, m.actor_id, m.role,
		       m.role_id, m.metadata, m.original_text, m.created_at, m.updated_at,
		       r.name
		FROM memory m
		LEFT JOIN role r ON m.role_id = r.id
		WHERE 1=1`
	var args []any

	if f.UserID != "" {
		query += " AND m.user_id = ?"
		args = append(args, f.UserID)
	}
	if f.SessionID != "" {
		query += " AND m.session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.ActorID != "" {
		query += " AND m.actor_id = ?"
		args = append(args, f.ActorID)
	}

	query += " ORDER BY m.created_at DESC"
	limit := f.Limit
	if limit == 0 {
		limit = 100
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var records []*memory.Record
	err := s.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				rec          memory.Record
				roleID       sql.NullInt64
				metadataJSON sql.NullString
				originalText sql.NullString
				roleName     sql.NullString
				userID       sql.NullString
				sessionID    sql.NullString
				actorID      sql.NullString
				role         sql.NullString
				createdAt    sql.NullTime
				updatedAt    sql.NullTime
			)

			err := rows.Scan(&rec.ID, &rec.Text, &userID, &sessionID, &actorID,
				&role, &roleID, &metadataJSON, &originalText, &createdAt, &updatedAt, &roleName)
			if err != nil {
				return StorageError{Op: "scan memory", Err: err}
			}

			rec.UserID = userID.String
			rec.SessionID = sessionID.String
			rec.ActorID = actorID.String
			rec.Role = role.String
			rec.OriginalText = originalText.String
			rec.RoleName = roleName.String
			rec.CreatedAt = createdAt.Time
			rec.UpdatedAt = updatedAt.Time
			if roleID.Valid {
				rec.RoleID = &roleID.Int64
			}
			if err := unmarshalMetadata(metadataJSON, &rec); err != nil {
				return err
			}

			records = append(records, &rec)
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return records, nil
}

// AppendHistory writes one audit row. History is append-only; rows are never
// rewritten. Failure surfaces as a StorageError, never a silent drop.
func (s *Store) AppendHistory(ctx context.Context, entry memory.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}

	isDeleted := 0
	if entry.IsDeleted {
		isDeleted = 1
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_history (
			id, memory_id, old_memory, new_memory, event,
			created_at, updated_at, is_deleted, actor_id, role
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.MemoryID, nullString(entry.OldText), nullString(entry.NewText),
		string(entry.Event), entry.CreatedAt, entry.UpdatedAt, isDeleted,
		entry.ActorID, entry.Role,
	)
	return err
}

// GetHistory returns the complete mutation log for a memory id in the order
// the mutations were applied. The id may reference a now-deleted memory.
func (s *Store) GetHistory(ctx context.Context, memoryID string) ([]memory.HistoryEntry, error) {
	var entries []memory.HistoryEntry

	err := s.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				entry     memory.HistoryEntry
				oldText   sql.NullString
				newText   sql.NullString
				event     string
				isDeleted int
				actorID   sql.NullString
				role      sql.NullString
				createdAt sql.NullTime
				updatedAt sql.NullTime
			)

			err := rows.Scan(&entry.ID, &entry.MemoryID, &oldText, &newText, &event,
				&createdAt, &updatedAt, &isDeleted, &actorID, &role)
			if err != nil {
				return StorageError{Op: "scan history", Err: err}
			}

			entry.OldText = oldText.String
			entry.NewText = newText.String
			entry.Event = memory.Event(event)
			entry.IsDeleted = isDeleted != 0
			entry.ActorID = actorID.String
			entry.Role = role.String
			entry.CreatedAt = createdAt.Time
			entry.UpdatedAt = updatedAt.Time

			entries = append(entries, entry)
		}
		return nil
	}, `
		SELECT id, memory_id, old_memory, new_memory, event,
		       created_at, updated_at, is_deleted, actor_id, role
		FROM memory_history
		WHERE memory_id = ?
		ORDER BY created_at ASC, updated_at ASC`, memoryID)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// FindMarkedMemory returns the newest memory in the (userID, sessionID)
// scope whose metadata carries the given boolean marker, or nil when none
// exists. Role is ignored.
func (s *Store) FindMarkedMemory(ctx context.Context, userID, sessionID, marker string) (*memory.Record, error) {
	query := `
		SELECT id, memory_text, user_id, session_id, actor_id, role, role_id,
		       metadata, original_text, created_at, updated_at
		FROM memory
		WHERE user_id = ? AND session_id = ? AND ` + s.markerPredicate() + `
		ORDER BY created_at DESC LIMIT 1`
	args := []any{userID, sessionID, markerPattern(marker)}

	return s.findOne(ctx, query, args...)
}

// FindMarkedMemoryForRole is FindMarkedMemory narrowed to an exact role. A
// nil roleID matches rows with a null role only.
func (s *Store) FindMarkedMemoryForRole(ctx context.Context, userID, sessionID string, roleID *int64, marker string) (*memory.Record, error) {
	query := `
		SELECT id, memory_text, user_id, session_id, actor_id, role, role_id,
		       metadata, original_text, created_at, updated_at
		FROM memory
		WHERE user_id = ? AND session_id = ? AND ` + s.markerPredicate()
	args := []any{userID, sessionID, markerPattern(marker)}

	if roleID != nil {
		query += " AND role_id = ?"
		args = append(args, *roleID)
	} else {
		query += " AND role_id IS NULL"
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	return s.findOne(ctx, query, args...)
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (*memory.Record, error) {
	var rec *memory.Record
	err := s.db.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}

		r, err := scanMemory(rows)
		if err != nil {
			return err
		}

		rec = r
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// markerPredicate returns the marker WHERE clause for the handle's dialect.
// The postgres metadata column is jsonb, which has no LIKE operator; it must
// be cast to text first.
func (s *Store) markerPredicate() string {
	if s.db.Dialect() == DialectPostgres {
		return "metadata::text LIKE ?"
	}
	return "metadata LIKE ?"
}

func markerPattern(marker string) string {
	return fmt.Sprintf(`%%"%s":true%%`, marker)
}

func scanMemory(rows *sql.Rows) (*memory.Record, error) {
	var (
		rec          memory.Record
		roleID       sql.NullInt64
		metadataJSON sql.NullString
		originalText sql.NullString
		userID       sql.NullString
		sessionID    sql.NullString
		actorID      sql.NullString
		role         sql.NullString
		createdAt    sql.NullTime
		updatedAt    sql.NullTime
	)

	err := rows.Scan(&rec.ID, &rec.Text, &userID, &sessionID, &actorID,
		&role, &roleID, &metadataJSON, &originalText, &createdAt, &updatedAt)
	if err != nil {
		return nil, StorageError{Op: "scan memory", Err: err}
	}

	rec.UserID = userID.String
	rec.SessionID = sessionID.String
	rec.ActorID = actorID.String
	rec.Role = role.String
	rec.OriginalText = originalText.String
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time
	if roleID.Valid {
		rec.RoleID = &roleID.Int64
	}
	if err := unmarshalMetadata(metadataJSON, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

func marshalMetadata(md map[string]any) (any, error) {
	if len(md) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	return string(data), nil
}

func unmarshalMetadata(raw sql.NullString, rec *memory.Record) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}

	if err := json.Unmarshal([]byte(raw.String), &rec.Metadata); err != nil {
		return fmt.Errorf("parsing metadata for %s: %w", rec.ID, err)
	}

	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
