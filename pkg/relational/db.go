// Package relational provides the structured mirror of memory state: the
// memory, memory_history, and role tables, plus the link column on the
// externally-owned chat transcript table.
//
// The database connection is a single shared resource guarded by a mutex; at
// most one query executes at a time per handle. On a failed query the holder
// reconnects and retries the same query exactly once before surfacing a
// StorageError. SQLite (mattn/go-sqlite3) and Postgres (pgx stdlib) dialects
// are supported.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mnemohq/mnemo/pkg/logger"
)

// Dialect selects the SQL flavor for a DB handle.
type Dialect string

const (
	// DialectSQLite uses the github.com/mattn/go-sqlite3 driver.
	DialectSQLite Dialect = "sqlite3"

	// DialectPostgres uses the pgx stdlib driver.
	DialectPostgres Dialect = "pgx"
)

// DB is a mutex-guarded connection handle shared by every component that
// touches the relational mirror. Lifecycle (open/close) is owned by the
// top-level assembler, not by individual components.
type DB struct {
	mu      sync.Mutex
	sqldb   *sql.DB
	dialect Dialect
	dsn     string
	log     *slog.Logger
}

// Open connects to the database and returns a shared handle.
// For SQLite the dsn can be a file path or ":memory:".
func Open(dialect Dialect, dsn string, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = logger.Nop()
	}

	db := &DB{dialect: dialect, dsn: dsn, log: log}
	if err := db.connect(); err != nil {
		return nil, err
	}

	return db, nil
}

// connect (re)establishes the underlying connection. Callers must hold mu or
// be in single-threaded setup.
func (db *DB) connect() error {
	if db.sqldb != nil {
		db.sqldb.Close()
	}

	sqldb, err := sql.Open(string(db.dialect), db.dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// One connection total: the mutex serializes queries, and SQLite
	// ":memory:" databases are per-connection.
	sqldb.SetMaxOpenConns(1)

	if db.dialect == DialectSQLite {
		if _, err := sqldb.Exec("PRAGMA foreign_keys = ON"); err != nil {
			sqldb.Close()
			return fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	db.sqldb = sqldb
	return nil
}

// Dialect returns the SQL flavor of this handle.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Exec runs a statement under the connection lock, retrying once through a
// reconnect on failure. Returns the number of affected rows.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	query = db.rebind(query)

	res, err := db.sqldb.ExecContext(ctx, query, args...)
	if err != nil {
		db.log.Warn("query failed, reconnecting", "error", err)
		if rerr := db.connect(); rerr != nil {
			return 0, StorageError{Op: "reconnect", Err: rerr}
		}
		res, err = db.sqldb.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, StorageError{Op: "exec", Err: err}
		}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // drivers without RowsAffected support
	}

	return affected, nil
}

// ExecReturningID runs an INSERT against a table with an auto-assigned
// integer key and returns the new id. The query must be written without a
// RETURNING clause; the Postgres dialect appends one.
func (db *DB) ExecReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.dialect == DialectPostgres {
		q := db.rebind(query) + " RETURNING id"
		var id int64
		err := db.sqldb.QueryRowContext(ctx, q, args...).Scan(&id)
		if err != nil {
			if rerr := db.connect(); rerr != nil {
				return 0, StorageError{Op: "reconnect", Err: rerr}
			}
			if err = db.sqldb.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
				return 0, StorageError{Op: "insert", Err: err}
			}
		}
		return id, nil
	}

	res, err := db.sqldb.ExecContext(ctx, query, args...)
	if err != nil {
		if rerr := db.connect(); rerr != nil {
			return 0, StorageError{Op: "reconnect", Err: rerr}
		}
		res, err = db.sqldb.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, StorageError{Op: "insert", Err: err}
		}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, StorageError{Op: "last insert id", Err: err}
	}

	return id, nil
}

// Query runs a read under the connection lock and streams rows to scan. The
// lock is held until scan returns, so scan must fully consume the rows.
// Retries once through a reconnect on failure.
func (db *DB) Query(ctx context.Context, scan func(*sql.Rows) error, query string, args ...any) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	query = db.rebind(query)

	rows, err := db.sqldb.QueryContext(ctx, query, args...)
	if err != nil {
		db.log.Warn("query failed, reconnecting", "error", err)
		if rerr := db.connect(); rerr != nil {
			return StorageError{Op: "reconnect", Err: rerr}
		}
		rows, err = db.sqldb.QueryContext(ctx, query, args...)
		if err != nil {
			return StorageError{Op: "query", Err: err}
		}
	}
	defer rows.Close()

	if err := scan(rows); err != nil {
		return err
	}

	if err := rows.Err(); err != nil {
		return StorageError{Op: "scan", Err: err}
	}

	return nil
}

// rebind converts ?-style placeholders to the dialect's native form.
func (db *DB) rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.sqldb == nil {
		return nil
	}

	err := db.sqldb.Close()
	db.sqldb = nil
	return err
}
