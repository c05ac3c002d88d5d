// Package catalogue implements the Glue-like table registration spec §6
// describes under "Catalogue interaction": on create/replace, register a
// table under databaseName.<schema>_<table>, pointing at its manifest path,
// classified as columnar, with numeric type widenings applied. Grounded on
// internal/tablestore/catalog.go's SQLite-backed persistence shape (dual
// write connection, explicit schema) — the registrations here are a much
// smaller single table, not a version history.
package catalogue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arkilian/cdcflow/internal/model"
)

// nameRegex is spec §6's literal table-name validator. Kept as the spec
// states it (permits the empty string) rather than the tightened
// alternative the spec's own Open Question floats — see DESIGN.md.
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// widenings maps the spec's explicit numeric logical-type widenings.
var widenings = map[string]string{
	"long":    "bigint",
	"short":   "smallint",
	"integer": "int",
	"byte":    "tinyint",
}

// widen applies the numeric widening for logicalType, or returns it
// unchanged if no widening applies.
func widen(logicalType string) string {
	if w, ok := widenings[logicalType]; ok {
		return w
	}
	return logicalType
}

// Entry is one registered table.
type Entry struct {
	CatalogueName  string
	TablePath      string
	ManifestPath   string
	Classification string
	Columns        []model.Column
	UpdatedAt      time.Time
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS catalogue_tables (
	catalogue_name  TEXT PRIMARY KEY,
	table_path      TEXT NOT NULL,
	manifest_path   TEXT NOT NULL,
	classification  TEXT NOT NULL,
	columns_json    TEXT NOT NULL,
	updated_at      DATETIME NOT NULL
);`

// Catalogue persists table registrations in a SQLite database at the path
// named by the domain.catalog.db configuration key.
type Catalogue struct {
	db *sql.DB
}

// Open opens (or creates) the catalogue database at path.
func Open(path string) (*Catalogue, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalogue: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalogue: init schema: %w", err)
	}
	return &Catalogue{db: db}, nil
}

// Register implements create/replace: validates the table-name component,
// widens numeric column types, and upserts the registration. id.Database is
// the Glue-like database container; id.Schema and id.Table are
// underscore-joined into the table-name component that must satisfy
// nameRegex.
func (c *Catalogue) Register(ctx context.Context, id model.TableIdentifier, tablePath string, columns []model.Column, manifestPath string) error {
	tableName := fmt.Sprintf("%s_%s", id.Schema, id.Table)
	if !nameRegex.MatchString(tableName) {
		return fmt.Errorf("catalogue: table name %q does not match %s", tableName, nameRegex.String())
	}

	widened := make([]model.Column, len(columns))
	for i, col := range columns {
		widened[i] = model.Column{Name: col.Name, LogicalType: widen(col.LogicalType), Nullable: col.Nullable}
	}

	columnsJSON, err := json.Marshal(widened)
	if err != nil {
		return fmt.Errorf("catalogue: marshal columns: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO catalogue_tables (catalogue_name, table_path, manifest_path, classification, columns_json, updated_at)
		VALUES (?, ?, ?, 'columnar', ?, ?)
		ON CONFLICT(catalogue_name) DO UPDATE SET
			table_path = excluded.table_path,
			manifest_path = excluded.manifest_path,
			columns_json = excluded.columns_json,
			updated_at = excluded.updated_at`,
		id.CatalogueName(), tablePath, manifestPath, string(columnsJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalogue: register %s: %w", id.CatalogueName(), err)
	}
	return nil
}

// Resolve looks up a registered table by its catalogue name.
func (c *Catalogue) Resolve(ctx context.Context, catalogueName string) (Entry, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT table_path, manifest_path, classification, columns_json, updated_at
		FROM catalogue_tables WHERE catalogue_name = ?`, catalogueName)

	var e Entry
	var columnsJSON string
	e.CatalogueName = catalogueName
	if err := row.Scan(&e.TablePath, &e.ManifestPath, &e.Classification, &columnsJSON, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("catalogue: resolve %s: %w", catalogueName, err)
	}
	if err := json.Unmarshal([]byte(columnsJSON), &e.Columns); err != nil {
		return Entry{}, false, fmt.Errorf("catalogue: unmarshal columns for %s: %w", catalogueName, err)
	}
	return e, true, nil
}

// Deregister removes a table's registration entirely.
func (c *Catalogue) Deregister(ctx context.Context, catalogueName string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM catalogue_tables WHERE catalogue_name = ?`, catalogueName)
	if err != nil {
		return fmt.Errorf("catalogue: deregister %s: %w", catalogueName, err)
	}
	return nil
}

// Close closes the catalogue database.
func (c *Catalogue) Close() error {
	return c.db.Close()
}
