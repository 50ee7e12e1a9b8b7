package relational

import (
	"context"
	"strings"
)

// sqliteSchema creates the mirror tables. The agent_chat_history table is
// owned by the surrounding application; it is created here only so that
// fresh databases (and tests) have the link column available.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY,
	memory_text TEXT NOT NULL,
	user_id TEXT,
	session_id TEXT,
	actor_id TEXT,
	role TEXT,
	role_id INTEGER,
	metadata TEXT,
	original_text TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_memory_user_id ON memory(user_id);
CREATE INDEX IF NOT EXISTS idx_memory_session_id ON memory(session_id);
CREATE INDEX IF NOT EXISTS idx_memory_actor_id ON memory(actor_id);
CREATE INDEX IF NOT EXISTS idx_memory_role_id ON memory(role_id);

CREATE TABLE IF NOT EXISTS memory_history (
	id TEXT PRIMARY KEY,
	memory_id TEXT,
	old_memory TEXT,
	new_memory TEXT,
	event TEXT,
	created_at DATETIME,
	updated_at DATETIME,
	is_deleted INTEGER DEFAULT 0,
	actor_id TEXT,
	role TEXT
);
CREATE INDEX IF NOT EXISTS idx_history_memory_id ON memory_history(memory_id);

CREATE TABLE IF NOT EXISTS role (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	voice_hash TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_role_voice_hash ON role(voice_hash);

CREATE TABLE IF NOT EXISTS agent_chat_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT,
	session_id TEXT,
	chat_type INTEGER,
	content TEXT,
	memory_id TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_agent_session ON agent_chat_history(agent_id, session_id);
CREATE INDEX IF NOT EXISTS idx_chat_memory_id ON agent_chat_history(memory_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY,
	memory_text TEXT NOT NULL,
	user_id TEXT,
	session_id TEXT,
	actor_id TEXT,
	role TEXT,
	role_id BIGINT,
	metadata JSONB,
	original_text TEXT,
	created_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_memory_user_id ON memory(user_id);
CREATE INDEX IF NOT EXISTS idx_memory_session_id ON memory(session_id);
CREATE INDEX IF NOT EXISTS idx_memory_actor_id ON memory(actor_id);
CREATE INDEX IF NOT EXISTS idx_memory_role_id ON memory(role_id);

CREATE TABLE IF NOT EXISTS memory_history (
	id TEXT PRIMARY KEY,
	memory_id TEXT,
	old_memory TEXT,
	new_memory TEXT,
	event TEXT,
	created_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ,
	is_deleted INTEGER DEFAULT 0,
	actor_id TEXT,
	role TEXT
);
CREATE INDEX IF NOT EXISTS idx_history_memory_id ON memory_history(memory_id);

CREATE TABLE IF NOT EXISTS role (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	voice_hash TEXT,
	created_at TIMESTAMPTZ DEFAULT NOW(),
	updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_role_voice_hash ON role(voice_hash);

CREATE TABLE IF NOT EXISTS agent_chat_history (
	id BIGSERIAL PRIMARY KEY,
	agent_id TEXT,
	session_id TEXT,
	chat_type INTEGER,
	content TEXT,
	memory_id TEXT,
	created_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chat_agent_session ON agent_chat_history(agent_id, session_id);
CREATE INDEX IF NOT EXISTS idx_chat_memory_id ON agent_chat_history(memory_id);
`

// Migrate creates the tables and indexes if they don't exist. Append-only
// schema changes only; there is no versioned migration history.
func (db *DB) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if db.dialect == DialectPostgres {
		schema = postgresSchema
	}

	// One statement per Exec: the pgx extended protocol rejects
	// multi-statement strings.
	for stmt := range strings.SplitSeq(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Reset drops and recreates every table. Destructive; intended for tests and
// explicit operator use.
func (db *DB) Reset(ctx context.Context) error {
	drops := []string{
		"DROP TABLE IF EXISTS agent_chat_history",
		"DROP TABLE IF EXISTS memory_history",
		"DROP TABLE IF EXISTS memory",
		"DROP TABLE IF EXISTS role",
	}

	for _, q := range drops {
		if _, err := db.Exec(ctx, q); err != nil {
			return err
		}
	}

	return db.Migrate(ctx)
}
