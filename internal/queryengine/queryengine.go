// Package queryengine implements the QueryEngine the spec treats as an
// opaque collaborator (§1 Non-goals: "does not evaluate SQL" — the *core*
// doesn't, but a concrete engine still has to exist for DomainRefreshEngine
// to call). Grounded on the teacher's load-bearing use of
// github.com/mattn/go-sqlite3 as an embedded relational engine: rather than
// hand-roll a SQL parser/planner (the rejected `internal/query` approach,
// see DESIGN.md), named input row sets are loaded into real tables and the
// transform's viewText is evaluated directly against them.
//
// An input name of the form "source.table" (e.g. "src.offenders") is
// materialized as table "offenders" inside an ATTACH'd in-memory schema
// "src", so a viewText can address columns the way spec §8's literal
// scenarios do: "src.offenders.last_name", not a JSON path into an opaque
// blob column. An input name with no dot is materialized as a bare table in
// the main schema.
package queryengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arkilian/cdcflow/internal/model"
)

// Engine evaluates a SELECT over a set of named input row sets.
type Engine struct {
	db *sql.DB
}

// Open creates an Engine backed by a private in-memory SQLite database.
func Open() (*Engine, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("queryengine: open: %w", err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// Evaluate loads inputs as real tables — one per map key, schema-qualified
// when the key contains a dot — and runs viewText against them, returning
// the result as a row set of column-name → value maps. Each call gets its
// own connection and tears down every table/schema it created before
// returning the connection to the pool, so repeated calls against the same
// Engine never collide over table or attachment names.
func (e *Engine) Evaluate(ctx context.Context, inputs map[string][]model.Event, viewText string) ([]map[string]interface{}, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("queryengine: conn: %w", err)
	}
	defer conn.Close()

	var attachedSchemas, createdTables []string
	defer func() {
		for i := len(createdTables) - 1; i >= 0; i-- {
			conn.ExecContext(context.Background(), fmt.Sprintf(`DROP TABLE %s`, createdTables[i]))
		}
		for i := len(attachedSchemas) - 1; i >= 0; i-- {
			conn.ExecContext(context.Background(), fmt.Sprintf(`DETACH DATABASE %s`, quoteIdent(attachedSchemas[i])))
		}
	}()

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	seenSchema := make(map[string]bool)
	for _, name := range names {
		schema, table, hasSchema := splitSourceTable(name)
		qualified := quoteIdent(table)
		if hasSchema {
			if !seenSchema[schema] {
				if _, err := conn.ExecContext(ctx, fmt.Sprintf(`ATTACH DATABASE ':memory:' AS %s`, quoteIdent(schema))); err != nil {
					return nil, fmt.Errorf("queryengine: attach %s: %w", schema, err)
				}
				seenSchema[schema] = true
				attachedSchemas = append(attachedSchemas, schema)
			}
			qualified = quoteIdent(schema) + "." + quoteIdent(table)
		}

		if err := loadInputTable(ctx, conn, qualified, inputs[name]); err != nil {
			return nil, fmt.Errorf("queryengine: load input %s: %w", name, err)
		}
		createdTables = append(createdTables, qualified)
	}

	rows, err := conn.QueryContext(ctx, viewText)
	if err != nil {
		return nil, fmt.Errorf("queryengine: evaluate view: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("queryengine: read columns: %w", err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("queryengine: scan row: %w", err)
		}
		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			record[col] = normalizeSQLiteValue(vals[i])
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queryengine: iterate rows: %w", err)
	}
	return results, nil
}

// loadInputTable creates qualified (already schema-quoted) and inserts rows
// into it, one real column per distinct key found across rows' Data. A row
// missing a key gets NULL for that column; nested values are JSON-encoded.
func loadInputTable(ctx context.Context, conn *sql.Conn, qualified string, rows []model.Event) error {
	cols := columnsFor(rows)
	colList := make([]string, len(cols))
	for i, c := range cols {
		colList[i] = quoteIdent(c)
	}
	if len(colList) == 0 {
		colList = []string{quoteIdent("__empty")}
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (%s)`, qualified, strings.Join(colList, ", "))); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if len(cols) == 0 {
		return nil
	}

	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmt, err := conn.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		qualified, strings.Join(colList, ", "), strings.Join(placeholders, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]interface{}, len(cols))
		for i, c := range cols {
			v, err := sqlValue(row.Data[c])
			if err != nil {
				return fmt.Errorf("encode column %s: %w", c, err)
			}
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return nil
}

// columnsFor returns the sorted union of top-level keys across rows' Data,
// so every row is inserted against a stable column list regardless of which
// keys any single row happens to carry.
func columnsFor(rows []model.Event) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range rows {
		for k := range r.Data {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// sqlValue passes scalars through to the driver unchanged and JSON-encodes
// nested maps/slices, since the sqlite3 driver only knows how to bind
// scalar Go types.
func sqlValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return v, nil
	}
}

// normalizeSQLiteValue converts the handful of Go types the sqlite3 driver
// can return ([]byte for TEXT, int64 for INTEGER) into the JSON-friendly
// shapes the rest of the pipeline expects.
func normalizeSQLiteValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return t
	}
}

// splitSourceTable splits an input name on its last "." into (schema,
// table, true), or returns (_, name, false) when name has no dot.
func splitSourceTable(name string) (schema, table string, hasSchema bool) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return "", name, false
	}
	return name[:idx], name[idx+1:], true
}

// quoteIdent quotes name as a SQLite identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
