// Package merge implements the MergeEngine (spec §4.4, C6): mode selection
// (load-distinct vs. cdc) and clause construction over the TableStore
// primitive, wrapped in the RetryHarness. Grounded on
// DataStorageService.mergeStagedChanges/updateRecords/deleteRecords, which
// build the equivalent Delta Lake MERGE clause sequence before dispatching
// through its own retry loop.
package merge

import (
	"context"
	"fmt"

	"github.com/arkilian/cdcflow/internal/cdcerrors"
	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/retry"
	"github.com/arkilian/cdcflow/internal/tablestore"
)

// bookkeepingColumns are stripped from the update/insert expression so the
// op code and commit timestamp never leak into the destination table.
var bookkeepingColumns = []string{"__op", "__commit_ts"}

// Engine applies CDC batches onto a TableStore under RetryHarness.
type Engine struct {
	store   tablestore.TableStore
	harness *retry.Harness
}

// New creates an Engine backed by store, retrying transient failures per policy.
func New(store tablestore.TableStore, policy retry.Policy) *Engine {
	return &Engine{store: store, harness: retry.New(policy)}
}

// clauses is the fixed matched/unmatched clause sequence from spec §4.4,
// shared by both modes. Order is load-bearing: DELETE must be evaluated
// last so a replayed INSERT of an already-deleted key overwrites rather
// than vanishing.
func clauses(primaryKey []string) tablestore.MergeSpec {
	return tablestore.MergeSpec{
		PrimaryKey: primaryKey,
		WhenMatched: []tablestore.WhenMatchedClause{
			{Predicate: isOp(model.OperationInsert), Action: tablestore.ActionUpdateAll},
			{Predicate: isOp(model.OperationUpdate), Action: tablestore.ActionUpdateAll},
			{Predicate: isOp(model.OperationDelete), Action: tablestore.ActionDelete},
		},
		WhenNotMatched: tablestore.WhenNotMatchedClause{
			Predicate: func(s model.Event) bool { return s.Operation != model.OperationDelete },
			Action:    tablestore.ActionInsertAll,
		},
		ExcludeColumns: bookkeepingColumns,
	}
}

func isOp(op model.Operation) func(model.Event) bool {
	return func(s model.Event) bool { return s.Operation == op }
}

// LoadDistinct implements structured-zone initial load (spec §4.4): if the
// target does not yet exist, falls back to append; otherwise performs a
// merge with only the unmatched-insert clause, an idempotent load that
// tolerates re-delivery of the same batch.
func (e *Engine) LoadDistinct(ctx context.Context, path string, rows []model.Event, primaryKey []string) error {
	if len(rows) == 0 {
		return nil
	}

	exists, err := e.store.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		outcome := e.harness.Do(ctx, func(ctx context.Context) error {
			return e.store.Append(ctx, path, rows)
		})
		return outcome.Err
	}

	spec := tablestore.MergeSpec{
		PrimaryKey: primaryKey,
		WhenNotMatched: tablestore.WhenNotMatchedClause{
			Predicate: func(model.Event) bool { return true },
			Action:    tablestore.ActionInsertAll,
		},
		ExcludeColumns: bookkeepingColumns,
	}
	outcome := e.harness.Do(ctx, func(ctx context.Context) error {
		return e.store.Merge(ctx, path, rows, spec)
	})
	return outcome.Err
}

// CDC implements the full-clause merge for INSERT/UPDATE/DELETE micro-batches
// (spec §4.4 "cdc mode"): the target is created on demand with the source
// schema by the underlying TableStore.Merge/commit path, and all four
// clauses are installed.
func (e *Engine) CDC(ctx context.Context, path string, rows []model.Event, primaryKey []string) error {
	if len(rows) == 0 {
		return nil
	}
	spec := clauses(primaryKey)
	outcome := e.harness.Do(ctx, func(ctx context.Context) error {
		err := e.store.Merge(ctx, path, rows, spec)
		return classifyMergeError(err)
	})
	return outcome.Err
}

// classifyMergeError leaves concurrent-modification errors untouched so
// RetryHarness recognises them, and otherwise reports schema-drift
// conditions (source columns absent from the target) as a non-retried
// merge failure per spec §4.4's failure semantics table.
func classifyMergeError(err error) error {
	if err == nil {
		return nil
	}
	if cdcerrors.GetCategory(err) == cdcerrors.CategoryConcurrentModification {
		return err
	}
	if cdcerrors.GetCategory(err) == cdcerrors.CategoryInfrastructureFailure {
		return err
	}
	return cdcerrors.NewMergeFailure(cdcerrors.CodeMergeClauseFailed, fmt.Sprintf("merge failed: %v", err), err)
}
