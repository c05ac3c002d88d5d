package tablestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arkilian/cdcflow/internal/cdcerrors"
	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/storage"
)

func newTestStore(t *testing.T) *RowStore {
	t.Helper()
	dir := t.TempDir()
	objects, err := storage.NewLocalStorage(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	store, err := Open(objects, filepath.Join(dir, "catalog.db"), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func row(id int, op model.Operation) model.Event {
	return model.Event{
		Data:      map[string]interface{}{"id": float64(id)},
		Source:    "oms",
		Table:     "offenders",
		Operation: op,
		CommitTS:  time.Unix(int64(id), 0),
	}
}

func TestRowStore_ExistsAndHasRows_Initiallyfalse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "root/oms/offenders")
	if err != nil || exists {
		t.Fatalf("expected table not to exist, got exists=%v err=%v", exists, err)
	}
	hasRows, err := s.HasRows(ctx, "root/oms/offenders")
	if err != nil || hasRows {
		t.Fatalf("expected no rows, got hasRows=%v err=%v", hasRows, err)
	}
}

func TestRowStore_AppendThenRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Append(ctx, path, []model.Event{row(1, model.OperationLoad), row(2, model.OperationLoad)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	exists, err := s.Exists(ctx, path)
	if err != nil || !exists {
		t.Fatalf("expected table to exist, got exists=%v err=%v", exists, err)
	}

	hasRows, err := s.HasRows(ctx, path)
	if err != nil || !hasRows {
		t.Fatalf("expected rows, got hasRows=%v err=%v", hasRows, err)
	}

	rows, err := s.Rows(ctx, path)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// append again; row count should grow rather than reconcile keys
	if err := s.Append(ctx, path, []model.Event{row(3, model.OperationLoad)}); err != nil {
		t.Fatalf("second Append: %v", err)
	}
	rows, err = s.Rows(ctx, path)
	if err != nil {
		t.Fatalf("Rows after second append: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows after second append, got %d", len(rows))
	}
}

func TestRowStore_Overwrite_ReplacesContents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Append(ctx, path, []model.Event{row(1, model.OperationLoad)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Overwrite(ctx, path, []model.Event{row(9, model.OperationLoad)}, false); err != nil {
		t.Fatalf("Overwrite: %v", err)
	}
	rows, err := s.Rows(ctx, path)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 || rows[0].Data["id"] != float64(9) {
		t.Fatalf("expected overwrite to fully replace contents, got %+v", rows)
	}
}

func TestRowStore_Delete_RemovesTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Append(ctx, path, []model.Event{row(1, model.OperationLoad)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, err := s.Exists(ctx, path)
	if err != nil || exists {
		t.Fatalf("expected table deleted, got exists=%v err=%v", exists, err)
	}
}

func TestRowStore_Vacuum_RetainsOnlyCurrentVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	for i := 1; i <= 3; i++ {
		if err := s.Overwrite(ctx, path, []model.Event{row(i, model.OperationLoad)}, false); err != nil {
			t.Fatalf("Overwrite %d: %v", i, err)
		}
	}
	versionsBefore, err := s.cat.listVersions(ctx, path)
	if err != nil {
		t.Fatalf("listVersions: %v", err)
	}
	if len(versionsBefore) != 3 {
		t.Fatalf("expected 3 versions before vacuum, got %d", len(versionsBefore))
	}

	if err := s.Vacuum(ctx, path); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	versionsAfter, err := s.cat.listVersions(ctx, path)
	if err != nil {
		t.Fatalf("listVersions after vacuum: %v", err)
	}
	if len(versionsAfter) != 1 {
		t.Fatalf("expected 1 version after vacuum, got %d", len(versionsAfter))
	}
}

func TestRowStore_Commit_ConcurrentModificationOnStaleETag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Overwrite(ctx, path, []model.Event{row(1, model.OperationLoad)}, false); err != nil {
		t.Fatalf("initial Overwrite: %v", err)
	}
	rec, err := s.cat.currentPointer(ctx, path)
	if err != nil || rec == nil {
		t.Fatalf("currentPointer: %v", err)
	}

	// Simulate a racing writer having already advanced the pointer by forcing
	// a commit with a deliberately stale expected etag.
	stale := VersionRecord{Path: path, Version: rec.Version + 100, ObjectPath: rec.ObjectPath, RowCount: rec.RowCount, ETag: "not-the-real-etag"}
	if err := s.cat.commit(ctx, stale); err != nil {
		t.Fatalf("forcing stale catalog state: %v", err)
	}

	err = s.Overwrite(ctx, path, []model.Event{row(2, model.OperationLoad)}, false)
	if err == nil {
		t.Fatal("expected concurrent-modification error on stale etag")
	}
	if cdcerrors.GetCategory(err) != cdcerrors.CategoryConcurrentModification {
		t.Fatalf("expected CategoryConcurrentModification, got %v (%v)", cdcerrors.GetCategory(err), err)
	}
}

func TestRowStore_ListTables_PrunesAtFirstTableOnBranch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "root/oms/offenders", []model.Event{row(1, model.OperationLoad)}); err != nil {
		t.Fatalf("Append offenders: %v", err)
	}
	if err := s.Append(ctx, "root/oms/sentences", []model.Event{row(1, model.OperationLoad)}); err != nil {
		t.Fatalf("Append sentences: %v", err)
	}
	if err := s.Append(ctx, "root/oms/offenders/nested", []model.Event{row(1, model.OperationLoad)}); err != nil {
		t.Fatalf("Append nested: %v", err)
	}

	tables, err := s.ListTables(ctx, "root", 3)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %v", tables)
	}
}

func cdcMergeSpec(exclude ...string) MergeSpec {
	return MergeSpec{
		PrimaryKey: []string{"id"},
		WhenMatched: []WhenMatchedClause{
			{Predicate: func(s model.Event) bool { return s.Operation == model.OperationInsert }, Action: ActionUpdateAll},
			{Predicate: func(s model.Event) bool { return s.Operation == model.OperationUpdate }, Action: ActionUpdateAll},
			{Predicate: func(s model.Event) bool { return s.Operation == model.OperationDelete }, Action: ActionDelete},
		},
		WhenNotMatched: WhenNotMatchedClause{
			Predicate: func(s model.Event) bool { return s.Operation != model.OperationDelete },
			Action:    ActionInsertAll,
		},
		ExcludeColumns: exclude,
	}
}

func TestRowStore_Merge_InsertsNewRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Merge(ctx, path, []model.Event{row(1, model.OperationInsert)}, cdcMergeSpec()); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	rows, err := s.Rows(ctx, path)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 row, got %v err=%v", rows, err)
	}
}

func TestRowStore_Merge_UpdateReplacesMatchedRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Merge(ctx, path, []model.Event{row(1, model.OperationInsert)}, cdcMergeSpec()); err != nil {
		t.Fatalf("initial Merge: %v", err)
	}
	updated := row(1, model.OperationUpdate)
	updated.Data["name"] = "changed"
	if err := s.Merge(ctx, path, []model.Event{updated}, cdcMergeSpec()); err != nil {
		t.Fatalf("update Merge: %v", err)
	}
	rows, err := s.Rows(ctx, path)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 row after update, got %v err=%v", rows, err)
	}
	if rows[0].Data["name"] != "changed" {
		t.Fatalf("expected updated column, got %+v", rows[0].Data)
	}
}

func TestRowStore_Merge_DeleteRemovesMatchedRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Merge(ctx, path, []model.Event{row(1, model.OperationInsert)}, cdcMergeSpec()); err != nil {
		t.Fatalf("initial Merge: %v", err)
	}
	if err := s.Merge(ctx, path, []model.Event{row(1, model.OperationDelete)}, cdcMergeSpec()); err != nil {
		t.Fatalf("delete Merge: %v", err)
	}
	rows, err := s.Rows(ctx, path)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected 0 rows after delete, got %v err=%v", rows, err)
	}
}

func TestRowStore_Merge_DeleteOfNonexistentKeyIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Merge(ctx, path, []model.Event{row(1, model.OperationDelete)}, cdcMergeSpec()); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	rows, err := s.Rows(ctx, path)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no rows, got %v err=%v", rows, err)
	}
}

func TestRowStore_Merge_ReplayedInsertOfDeletedKeyOverwrites(t *testing.T) {
	// Ordering contract from spec §4.4: listing DELETE last in the matched
	// clauses ensures a replayed INSERT of an already-deleted key overwrites
	// rather than vanishing, because within one merge call the delete and a
	// later insert of the same key are two source rows, not one clause
	// racing another.
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Merge(ctx, path, []model.Event{row(1, model.OperationInsert)}, cdcMergeSpec()); err != nil {
		t.Fatalf("initial insert: %v", err)
	}
	if err := s.Merge(ctx, path, []model.Event{row(1, model.OperationDelete)}, cdcMergeSpec()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	replay := row(1, model.OperationInsert)
	replay.Data["replayed"] = true
	if err := s.Merge(ctx, path, []model.Event{replay}, cdcMergeSpec()); err != nil {
		t.Fatalf("replayed insert: %v", err)
	}
	rows, err := s.Rows(ctx, path)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected replayed row to reappear, got %v err=%v", rows, err)
	}
	if rows[0].Data["replayed"] != true {
		t.Fatalf("expected replayed marker, got %+v", rows[0].Data)
	}
}

func TestRowStore_RefreshManifest_WritesSidecar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "root/oms/offenders"

	if err := s.Append(ctx, path, []model.Event{row(1, model.OperationLoad)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.RefreshManifest(ctx, path); err != nil {
		t.Fatalf("RefreshManifest: %v", err)
	}
	exists, err := s.objects.Exists(ctx, s.manifestPath(path))
	if err != nil || !exists {
		t.Fatalf("expected manifest sidecar to exist, got exists=%v err=%v", exists, err)
	}
}
