// Package sqlite provides a SQLite storage backend.
//
// Each AppendBatch is one transaction, which gives batch atomicity for free.
// Reads page through the entries table so a long replay never pins the
// single connection.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"iter"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/memstate/internal/storage"
)

// Backend is the name this provider registers under.
const Backend = "sqlite"

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - log_meta records the entry format
const currentSchemaVersion = 1

// readPage is the number of rows fetched per query during ReadAll.
const readPage = 512

func init() {
	storage.Register(Backend, storage.ProviderFunc(func(ctx context.Context, location string) (storage.Log, error) {
		return Open(ctx, location)
	}))
}

// Log is a SQLite-backed log.
type Log struct {
	db *sql.DB

	mu     sync.Mutex
	count  uint64
	closed bool
}

var _ storage.Log = (*Log)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode so a committed batch survives power loss
//   - 5-second busy timeout for lock contention
func Open(ctx context.Context, path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	count, err := countEntries(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Log{db: db, count: count}, nil
}

// AppendBatch implements storage.Log. The position check runs inside the
// transaction against the table itself, so another process writing the same
// file is detected.
func (l *Log) AppendBatch(ctx context.Context, expected uint64, entries [][]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}
	if len(entries) == 0 {
		if expected != l.count {
			return fmt.Errorf("%w: expected %d, log has %d", storage.ErrConflict, expected, l.count)
		}
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var next uint64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(pos) + 1, 0) FROM entries").Scan(&next); err != nil {
		return fmt.Errorf("read log end: %w", err)
	}
	if next != expected {
		return fmt.Errorf("%w: expected %d, log has %d", storage.ErrConflict, expected, next)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO entries (pos, data, written_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, int64(expected)+int64(i), e, now); err != nil {
			return fmt.Errorf("write entry %d: %w", expected+uint64(i), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	l.count = expected + uint64(len(entries))
	return nil
}

// ReadAll implements storage.Log.
func (l *Log) ReadAll(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		l.mu.Lock()
		closed, end := l.closed, l.count
		l.mu.Unlock()
		if closed {
			yield(nil, storage.ErrClosed)
			return
		}

		var pos uint64
		for pos < end {
			page, err := l.readPage(ctx, pos, end)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page) == 0 {
				yield(nil, fmt.Errorf("%w: missing entry at %d", storage.ErrCorrupt, pos))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			pos += uint64(len(page))
		}
	}
}

func (l *Log) readPage(ctx context.Context, from, end uint64) ([][]byte, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT pos, data FROM entries WHERE pos >= ? AND pos < ? ORDER BY pos LIMIT ?",
		int64(from), int64(end), readPage)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	defer rows.Close()

	var page [][]byte
	want := from
	for rows.Next() {
		var pos int64
		var data []byte
		if err := rows.Scan(&pos, &data); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if uint64(pos) != want {
			return nil, fmt.Errorf("%w: gap at position %d", storage.ErrCorrupt, want)
		}
		page = append(page, data)
		want++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return page, nil
}

// Len implements storage.Log.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close closes the database connection.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

func countEntries(ctx context.Context, db *sql.DB) (uint64, error) {
	var n, maxPlusOne uint64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(MAX(pos) + 1, 0) FROM entries").Scan(&n, &maxPlusOne)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	if n != maxPlusOne {
		return 0, fmt.Errorf("%w: %d entries but last position is %d", storage.ErrCorrupt, n, maxPlusOne)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 stamps the entry format so tools can refuse foreign files.
func migrateToV1(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO log_meta (key, value) VALUES ('entry_format', 'memstate/v1')")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// pragma returns the current value of a pragma. Used by tests.
func (l *Log) pragma(name string) (string, error) {
	var value string
	if err := l.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to query %s: %w", name, err)
	}
	return value, nil
}
