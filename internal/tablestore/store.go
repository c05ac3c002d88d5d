// Package tablestore implements the TableStore (spec §4.2, C2): a versioned,
// primary-keyed table held on object storage with optimistic concurrency.
// The commit primitive is the teacher's ConditionalPut/ETag machinery
// (internal/storage.ObjectStorage) — an ETag mismatch on commit *is* the
// concurrent-modification error spec §3 requires. Table version history and
// the current-pointer lookup are tracked in a small SQLite catalog adapted
// from the teacher's internal/manifest.Catalog.
package tablestore

import (
	"context"

	"github.com/arkilian/cdcflow/internal/model"
)

// MatchedAction is what a whenMatched clause does to the target row.
type MatchedAction int

const (
	ActionUpdateAll MatchedAction = iota
	ActionDelete
)

// NotMatchedAction is what the single whenNotMatched clause does.
type NotMatchedAction int

const (
	ActionInsertAll NotMatchedAction = iota
	ActionNoInsert
)

// WhenMatchedClause pairs a predicate over the incoming CDC event with an
// action, evaluated in declaration order (spec §4.2: "the store must
// evaluate matched clauses in declaration order and stop at the first that
// matches" — this ordering is load-bearing, see spec §4.4).
type WhenMatchedClause struct {
	Predicate func(source model.Event) bool
	Action    MatchedAction
}

// WhenNotMatchedClause is the single unmatched-row clause a merge may install.
type WhenNotMatchedClause struct {
	Predicate func(source model.Event) bool
	Action    NotMatchedAction
}

// MergeSpec is the full clause-ordered merge primitive TableStore.Merge
// consumes (spec §4.2's "merge(path, sourceRows, predicate, clauses)").
type MergeSpec struct {
	PrimaryKey     []string
	WhenMatched    []WhenMatchedClause
	WhenNotMatched WhenNotMatchedClause
	// ExcludeColumns are dropped from the update/insert expression — used to
	// keep bookkeeping columns like the op code and commit timestamp out of
	// the destination (spec §4.4).
	ExcludeColumns []string
}

// TableStore is the versioned, primary-keyed table abstraction the core
// pipeline consumes. Every mutating operation is atomic: readers observe
// either the full effect of a commit or none of it (spec §3).
type TableStore interface {
	// Exists reports whether a table is present at path.
	Exists(ctx context.Context, path string) (bool, error)
	// HasRows reports whether the table at path has at least one row.
	// Answered from the row count recorded with the current version; no data
	// object is read.
	HasRows(ctx context.Context, path string) (bool, error)
	// Append adds rows without key reconciliation.
	Append(ctx context.Context, path string, rows []model.Event) error
	// Overwrite fully replaces the table's contents. replaceSchema requests an
	// explicit schema swap; RowStore keeps no schema, so it accepts any rows
	// and ignores the flag.
	Overwrite(ctx context.Context, path string, rows []model.Event, replaceSchema bool) error
	// Merge atomically applies sourceRows onto the table at path per spec.
	Merge(ctx context.Context, path string, sourceRows []model.Event, spec MergeSpec) error
	// Delete removes the table entirely.
	Delete(ctx context.Context, path string) error
	// Vacuum reclaims space from superseded versions.
	Vacuum(ctx context.Context, path string) error
	// Compact consolidates a table's versions into a single current version.
	Compact(ctx context.Context, path string) error
	// RefreshManifest regenerates the sidecar manifest external query engines consume.
	RefreshManifest(ctx context.Context, path string) error
	// ListTables recursively enumerates real tables below root, pruning
	// recursion at the first table found on a branch, honouring depthLimit >= 1.
	ListTables(ctx context.Context, root string, depthLimit int) ([]string, error)
	// Rows returns the current row set at path (used by internal merge/query logic).
	Rows(ctx context.Context, path string) ([]model.Event, error)
	// Close releases catalog resources.
	Close() error
}
