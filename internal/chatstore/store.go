// Package chatstore implements the Chat Store (C13): a local embedded
// SQLite database recording chat exchanges, with purge and stats
// operations over the same table.
package chatstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	core "github.com/go-lcgw/lcgw/internal"
)

const maxPoolConns = 5

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the Chat Store. It wraps a single WAL-mode SQLite database
// capped at maxPoolConns connections.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (creating if absent) the SQLite database at path, applies
// pending migrations, and returns a Store. path may be ":memory:" for
// tests, in which case file-size-based operations report zero.
func New(path string) (*Store, error) {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=cache_size(10000)"

	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		dsn = "file:" + path + "?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &core.StoreError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(maxPoolConns)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, &core.StoreError{Op: "migrate", Err: err}
	}

	return &Store{db: db, path: path}, nil
}

func runMigrations(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// withConn scoped-acquires one connection from the pool for fn, per
// spec §4.11's "acquire/return via scoped-acquisition". database/sql's
// own pool (capped via SetMaxOpenConns) already blocks new acquisitions
// at cap rather than opening unbounded connections, so this is a thin
// defer-Close wrapper around db.Conn rather than hand-rolled pool
// bookkeeping — the Open-Question resolution recorded in DESIGN.md.
func (s *Store) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return &core.StoreError{Op: "acquire connection", Err: err}
	}
	defer conn.Close()
	return fn(conn)
}

// AppendEntry implements orchestrator.HistoryStore: save_chat_entry.
func (s *Store) AppendEntry(ctx context.Context, entry core.ChatEntry) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO chat_logs (chat_id, model, question, response, timestamp, input_tokens, output_tokens)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.ChatID, entry.Model, entry.Question, entry.Response, time.Now().UTC().Format(time.RFC3339),
			nullInt(entry.InputTokens), nullInt(entry.OutputTokens),
		)
		if err != nil {
			return &core.StoreError{Op: "save_chat_entry", Err: err}
		}
		return nil
	})
}

// GetChatHistory returns chatID's entries ordered by timestamp ascending.
func (s *Store) GetChatHistory(ctx context.Context, chatID string) ([]core.ChatEntry, error) {
	return s.queryEntries(ctx,
		`SELECT id, chat_id, model, question, response, timestamp, input_tokens, output_tokens
		 FROM chat_logs WHERE chat_id = ? ORDER BY timestamp ASC`, chatID)
}

// GetAllLogs returns every entry ordered by timestamp descending.
func (s *Store) GetAllLogs(ctx context.Context) ([]core.ChatEntry, error) {
	return s.queryEntries(ctx,
		`SELECT id, chat_id, model, question, response, timestamp, input_tokens, output_tokens
		 FROM chat_logs ORDER BY timestamp DESC`)
}

// GetRecentLogs returns the most recent limit entries, newest first.
func (s *Store) GetRecentLogs(ctx context.Context, limit int) ([]core.ChatEntry, error) {
	return s.queryEntries(ctx,
		`SELECT id, chat_id, model, question, response, timestamp, input_tokens, output_tokens
		 FROM chat_logs ORDER BY timestamp DESC LIMIT ?`, limit)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]core.ChatEntry, error) {
	var out []core.ChatEntry
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return &core.StoreError{Op: "query chat_logs", Err: err}
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return &core.StoreError{Op: "scan chat_logs row", Err: err}
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func scanEntry(rows *sql.Rows) (core.ChatEntry, error) {
	var (
		e         core.ChatEntry
		ts        string
		inTokens  sql.NullInt64
		outTokens sql.NullInt64
	)
	if err := rows.Scan(&e.ID, &e.ChatID, &e.Model, &e.Question, &e.Response, &ts, &inTokens, &outTokens); err != nil {
		return e, err
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		e.Timestamp = t
	}
	if inTokens.Valid {
		n := int(inTokens.Int64)
		e.InputTokens = &n
	}
	if outTokens.Valid {
		n := int(outTokens.Int64)
		e.OutputTokens = &n
	}
	return e, nil
}

// PurgeAll deletes every chat_logs row inside one explicit transaction.
func (s *Store) PurgeAll(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return &core.StoreError{Op: "purge_all", Err: err}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_logs`); err != nil {
			tx.Rollback()
			return &core.StoreError{Op: "purge_all", Err: err}
		}
		if err := tx.Commit(); err != nil {
			return &core.StoreError{Op: "purge_all", Err: err}
		}
		return nil
	})
}

// PurgeByAge deletes entries older than days and returns the count removed.
func (s *Store) PurgeByAge(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	var deleted int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM chat_logs WHERE timestamp < ?`, cutoff)
		if err != nil {
			return &core.StoreError{Op: "purge_by_age", Err: err}
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// PurgeKeepRecent keeps only the n most recent entries.
func (s *Store) PurgeKeepRecent(ctx context.Context, n int) (int64, error) {
	var deleted int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`DELETE FROM chat_logs WHERE id NOT IN (
				SELECT id FROM chat_logs ORDER BY timestamp DESC LIMIT ?
			)`, n)
		if err != nil {
			return &core.StoreError{Op: "purge_keep_recent", Err: err}
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// PurgeBySize deletes the oldest ~25% of entries and runs VACUUM when
// the database file exceeds maxMB.
func (s *Store) PurgeBySize(ctx context.Context, maxMB int64) (int64, error) {
	size, err := s.fileSizeBytes()
	if err != nil {
		return 0, err
	}
	if size <= maxMB*1024*1024 {
		return 0, nil
	}

	var deleted int64
	err = s.withConn(ctx, func(conn *sql.Conn) error {
		var total int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_logs`).Scan(&total); err != nil {
			return &core.StoreError{Op: "purge_by_size", Err: err}
		}
		toDelete := total / 4
		if toDelete == 0 {
			return nil
		}
		res, err := conn.ExecContext(ctx,
			`DELETE FROM chat_logs WHERE id IN (
				SELECT id FROM chat_logs ORDER BY timestamp ASC LIMIT ?
			)`, toDelete)
		if err != nil {
			return &core.StoreError{Op: "purge_by_size", Err: err}
		}
		deleted, _ = res.RowsAffected()
		if _, err := conn.ExecContext(ctx, `VACUUM`); err != nil {
			return &core.StoreError{Op: "purge_by_size vacuum", Err: err}
		}
		return nil
	})
	return deleted, err
}

func (s *Store) fileSizeBytes() (int64, error) {
	if s.path == ":memory:" {
		return 0, nil
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, &core.StoreError{Op: "stat db file", Err: err}
	}
	return info.Size(), nil
}

// Stats summarizes the chat_logs table, per spec §4.11's stats() operation.
type Stats struct {
	TotalEntries   int
	UniqueSessions int
	FileSizeBytes  int64
	OldestEntry    *time.Time
	NewestEntry    *time.Time
	ModelCounts    map[string]int
}

// Stats computes aggregate statistics over chat_logs.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ModelCounts: map[string]int{}}

	size, err := s.fileSizeBytes()
	if err != nil {
		return nil, err
	}
	stats.FileSizeBytes = size

	err = s.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT COUNT(*), COUNT(DISTINCT chat_id), MIN(timestamp), MAX(timestamp) FROM chat_logs`)
		var oldest, newest sql.NullString
		if err := row.Scan(&stats.TotalEntries, &stats.UniqueSessions, &oldest, &newest); err != nil {
			return &core.StoreError{Op: "stats", Err: err}
		}
		if oldest.Valid {
			if t, err := time.Parse(time.RFC3339, oldest.String); err == nil {
				stats.OldestEntry = &t
			}
		}
		if newest.Valid {
			if t, err := time.Parse(time.RFC3339, newest.String); err == nil {
				stats.NewestEntry = &t
			}
		}

		rows, err := conn.QueryContext(ctx, `SELECT model, COUNT(*) FROM chat_logs GROUP BY model`)
		if err != nil {
			return &core.StoreError{Op: "stats model counts", Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			var model string
			var count int
			if err := rows.Scan(&model, &count); err != nil {
				return &core.StoreError{Op: "stats model counts", Err: err}
			}
			stats.ModelCounts[model] = count
		}
		return rows.Err()
	})
	return stats, err
}

// GetSessionState reads one key from the session_state table.
func (s *Store) GetSessionState(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx, `SELECT value FROM session_state WHERE key = ?`, key).Scan(&value)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return &core.StoreError{Op: "get_session_state", Err: err}
		}
		found = true
		return nil
	})
	return value, found, err
}

// SetSessionState upserts one key in the session_state table.
func (s *Store) SetSessionState(ctx context.Context, key, value string) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO session_state (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return &core.StoreError{Op: "set_session_state", Err: err}
		}
		return nil
	})
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
