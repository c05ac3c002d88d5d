package tablestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// VersionRecord is one committed version of a table.
type VersionRecord struct {
	Path       string
	Version    int64
	ObjectPath string
	RowCount   int64
	ETag       string
	CreatedAt  time.Time
}

// catalog tracks table version history and the current-pointer ETag needed
// to drive TableStore's optimistic-concurrency commits. Adapted from the
// teacher's internal/manifest.SQLiteCatalog: the dual write/read connection
// split and WAL pragmas survive unchanged, but the partition-predicate
// pruning, index-partition, and two-phase compaction-intent logic has no
// analogue here — a table version is tracked by (path, version) only,
// never pruned by a predicate over row contents.
type catalog struct {
	db     *sql.DB
	readDB *sql.DB
	mu     sync.Mutex
}

func newCatalog(dbPath string) (*catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("tablestore: open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("tablestore: open read catalog: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	if _, err := readDB.Exec("PRAGMA read_uncommitted = true"); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("tablestore: set read_uncommitted: %w", err)
	}

	c := &catalog{db: db, readDB: readDB}
	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("tablestore: init schema: %w", err)
	}
	return c, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS table_versions (
	path        TEXT NOT NULL,
	version     INTEGER NOT NULL,
	object_path TEXT NOT NULL,
	row_count   INTEGER NOT NULL,
	etag        TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (path, version)
);

CREATE TABLE IF NOT EXISTS current_pointer (
	path       TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	object_path TEXT NOT NULL,
	row_count  INTEGER NOT NULL,
	etag       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

func (c *catalog) initSchema() error {
	_, err := c.db.Exec(schemaSQL)
	return err
}

// currentPointer returns the current version record for path, or nil if the
// table has never been committed.
func (c *catalog) currentPointer(ctx context.Context, path string) (*VersionRecord, error) {
	row := c.readDB.QueryRowContext(ctx, `
		SELECT version, object_path, row_count, etag, updated_at
		FROM current_pointer WHERE path = ?`, path)

	var rec VersionRecord
	var updatedAt int64
	rec.Path = path
	if err := row.Scan(&rec.Version, &rec.ObjectPath, &rec.RowCount, &rec.ETag, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("tablestore: read current pointer: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

// commit atomically advances path's current pointer to rec and records it in
// version history. Callers are responsible for having already reserved the
// commit with the backing ObjectStorage's ConditionalPut — this only updates
// bookkeeping once that commit has succeeded.
func (c *catalog) commit(ctx context.Context, rec VersionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tablestore: begin commit: %w", err)
	}
	defer tx.Rollback()

	now := rec.CreatedAt.UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO table_versions (path, version, object_path, row_count, etag, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Path, rec.Version, rec.ObjectPath, rec.RowCount, rec.ETag, now); err != nil {
		return fmt.Errorf("tablestore: insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO current_pointer (path, version, object_path, row_count, etag, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			version = excluded.version,
			object_path = excluded.object_path,
			row_count = excluded.row_count,
			etag = excluded.etag,
			updated_at = excluded.updated_at`,
		rec.Path, rec.Version, rec.ObjectPath, rec.RowCount, rec.ETag, now); err != nil {
		return fmt.Errorf("tablestore: update current pointer: %w", err)
	}

	return tx.Commit()
}

// listVersions returns every committed version of path, oldest first.
func (c *catalog) listVersions(ctx context.Context, path string) ([]VersionRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT path, version, object_path, row_count, etag, created_at
		FROM table_versions WHERE path = ? ORDER BY version ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("tablestore: list versions: %w", err)
	}
	defer rows.Close()

	var out []VersionRecord
	for rows.Next() {
		var rec VersionRecord
		var createdAt int64
		if err := rows.Scan(&rec.Path, &rec.Version, &rec.ObjectPath, &rec.RowCount, &rec.ETag, &createdAt); err != nil {
			return nil, fmt.Errorf("tablestore: scan version: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// deleteTable removes all catalog bookkeeping for path.
func (c *catalog) deleteTable(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tablestore: begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM table_versions WHERE path = ?`, path); err != nil {
		return fmt.Errorf("tablestore: delete versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM current_pointer WHERE path = ?`, path); err != nil {
		return fmt.Errorf("tablestore: delete pointer: %w", err)
	}
	return tx.Commit()
}

// pruneVersions deletes version records older than keep, for vacuum/compact.
func (c *catalog) pruneVersions(ctx context.Context, path string, keep int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		DELETE FROM table_versions WHERE path = ? AND version < ?`, path, keep)
	if err != nil {
		return fmt.Errorf("tablestore: prune versions: %w", err)
	}
	return nil
}

// knownPaths returns every path with a current pointer, used by ListTables.
func (c *catalog) knownPaths(ctx context.Context) ([]string, error) {
	rows, err := c.readDB.QueryContext(ctx, `SELECT path FROM current_pointer ORDER BY path ASC`)
	if err != nil {
		return nil, fmt.Errorf("tablestore: list known paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("tablestore: scan path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *catalog) close() error {
	readErr := c.readDB.Close()
	writeErr := c.db.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}
