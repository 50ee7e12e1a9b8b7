// Package chatlink manages the association between memory records and rows
// of the externally-owned agent_chat_history transcript table. The memory_id
// column on that table is the only thing this package writes; everything
// else belongs to the surrounding application.
package chatlink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/memory"
)

// querier is the slice of the relational DB handle this package needs.
type querier interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, scan func(*sql.Rows) error, query string, args ...any) error
}

// Linker binds transcript rows to memory records over the shared relational
// connection.
type Linker struct {
	db  querier
	log *slog.Logger
}

// NewLinker wraps a shared relational handle.
func NewLinker(db querier, log *slog.Logger) *Linker {
	if log == nil {
		log = logger.Nop()
	}

	return &Linker{db: db, log: log}
}

// SessionSummary describes one (agent, session) scope that has linked
// memories, for listing and stats.
type SessionSummary struct {
	SessionID    string
	AgentID      string
	MemoryCount  int64
	ChatCount    int64
	SessionStart time.Time
	SessionEnd   time.Time
}

// LinkChatToMemory points transcript rows at a memory. With explicit chatIDs
// only those rows are linked, and only when they belong to the given scope;
// otherwise every row in the scope is linked. The scope is whichever of
// agentID and sessionID are non-empty; a missing field does not constrain the
// match. A row's link is a single nullable column, so re-linking is
// idempotent.
func (l *Linker) LinkChatToMemory(ctx context.Context, memoryID, agentID, sessionID string, chatIDs []int64) (int64, error) {
	if agentID == "" && sessionID == "" {
		return 0, memory.ValidationError{Reason: "linking requires an agent id or session id"}
	}

	conds := make([]string, 0, 3)
	args := []any{memoryID}
	if agentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, agentID)
	}
	if sessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, sessionID)
	}
	if len(chatIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chatIDs)), ", ")
		conds = append(conds, fmt.Sprintf("id IN (%s)", placeholders))
		for _, id := range chatIDs {
			args = append(args, id)
		}
	}

	query := fmt.Sprintf(`
		UPDATE agent_chat_history
		SET memory_id = ?
		WHERE %s`, strings.Join(conds, " AND "))

	linked, err := l.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	l.log.Info("linked chat records to memory",
		"memory_id", memoryID, "agent_id", agentID,
		"session_id", sessionID, "count", linked)
	return linked, nil
}

// UnlinkChatRecords nulls the link on every transcript row pointing at
// memoryID and returns how many rows were cleared. Must run before (or as
// part of) deleting the memory so no row references a dead record.
func (l *Linker) UnlinkChatRecords(ctx context.Context, memoryID string) (int64, error) {
	unlinked, err := l.db.Exec(ctx, `
		UPDATE agent_chat_history
		SET memory_id = NULL
		WHERE memory_id = ?`, memoryID)
	if err != nil {
		return 0, err
	}

	l.log.Info("unlinked chat records", "memory_id", memoryID, "count", unlinked)
	return unlinked, nil
}

// GetChatRecordsByMemory returns every transcript row linked to a memory in
// chronological order.
func (l *Linker) GetChatRecordsByMemory(ctx context.Context, memoryID string) ([]memory.ChatRecord, error) {
	var records []memory.ChatRecord

	err := l.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			rec, err := scanChatRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	}, `
		SELECT id, agent_id, session_id, chat_type, content, memory_id, created_at
		FROM agent_chat_history
		WHERE memory_id = ?
		ORDER BY created_at ASC`, memoryID)
	if err != nil {
		return nil, err
	}

	return records, nil
}

// GetMemoriesByChatSession returns the distinct memories that transcript
// rows of a scope point at, newest first.
func (l *Linker) GetMemoriesByChatSession(ctx context.Context, agentID, sessionID string) ([]*memory.Record, error) {
	var records []*memory.Record

	err := l.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				rec       memory.Record
				createdAt sql.NullTime
				updatedAt sql.NullTime
			)
			if err := rows.Scan(&rec.ID, &rec.Text, &createdAt, &updatedAt); err != nil {
				return err
			}
			rec.CreatedAt = createdAt.Time
			rec.UpdatedAt = updatedAt.Time
			records = append(records, &rec)
		}
		return nil
	}, `
		SELECT DISTINCT m.id, m.memory_text, m.created_at, m.updated_at
		FROM memory m
		JOIN agent_chat_history ch ON m.id = ch.memory_id
		WHERE ch.agent_id = ? AND ch.session_id = ?
		ORDER BY m.created_at DESC`, agentID, sessionID)
	if err != nil {
		return nil, err
	}

	return records, nil
}

// GetSessionsWithMemories lists sessions of an agent that have at least one
// linked memory, most recently active first.
func (l *Linker) GetSessionsWithMemories(ctx context.Context, agentID string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	var sessions []SessionSummary
	err := l.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				s     SessionSummary
				start sql.NullTime
				end   sql.NullTime
			)
			if err := rows.Scan(&s.SessionID, &s.AgentID, &s.MemoryCount,
				&s.ChatCount, &start, &end); err != nil {
				return err
			}
			s.SessionStart = start.Time
			s.SessionEnd = end.Time
			sessions = append(sessions, s)
		}
		return nil
	}, `
		SELECT ch.session_id, ch.agent_id,
		       COUNT(DISTINCT ch.memory_id) AS memory_count,
		       COUNT(ch.id) AS chat_count,
		       MIN(ch.created_at) AS session_start,
		       MAX(ch.created_at) AS session_end
		FROM agent_chat_history ch
		WHERE ch.agent_id = ? AND ch.memory_id IS NOT NULL
		GROUP BY ch.session_id, ch.agent_id
		ORDER BY session_end DESC
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// GetChatSessionContent concatenates a scope's transcript in chronological
// order, tagging each line by speaker, for use as summarization input.
func (l *Linker) GetChatSessionContent(ctx context.Context, agentID, sessionID string) (string, error) {
	var lines []string

	err := l.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			// The table is externally owned and may hold nulls in either
			// column. Treat them as empty rather than failing the read.
			var (
				chatType sql.NullInt64
				content  sql.NullString
			)
			if err := rows.Scan(&chatType, &content); err != nil {
				return err
			}

			switch memory.ChatType(chatType.Int64) {
			case memory.ChatTypeUser:
				lines = append(lines, "User: "+content.String)
			case memory.ChatTypeAssistant:
				lines = append(lines, "Assistant: "+content.String)
			default:
				lines = append(lines, "System: "+content.String)
			}
		}
		return nil
	}, `
		SELECT chat_type, content
		FROM agent_chat_history
		WHERE agent_id = ? AND session_id = ?
		ORDER BY created_at ASC`, agentID, sessionID)
	if err != nil {
		return "", err
	}

	return strings.Join(lines, "\n"), nil
}

func scanChatRecord(rows *sql.Rows) (memory.ChatRecord, error) {
	var (
		rec       memory.ChatRecord
		memoryID  sql.NullString
		createdAt sql.NullTime
	)

	err := rows.Scan(&rec.ID, &rec.AgentID, &rec.SessionID,
		&rec.ChatType, &rec.Content, &memoryID, &createdAt)
	if err != nil {
		return rec, err
	}

	if memoryID.Valid {
		rec.MemoryID = &memoryID.String
	}
	rec.CreatedAt = createdAt.Time

	return rec, nil
}
