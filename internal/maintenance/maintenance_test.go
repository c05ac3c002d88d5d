package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arkilian/cdcflow/internal/cdcerrors"
	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/retry"
	"github.com/arkilian/cdcflow/internal/tablestore"
)

type fakeStore struct {
	tables      []string
	failTables  map[string]error
	compactCall map[string]int
	vacuumCall  map[string]int
}

func newFakeStore(tables []string) *fakeStore {
	return &fakeStore{
		tables:      tables,
		failTables:  make(map[string]error),
		compactCall: make(map[string]int),
		vacuumCall:  make(map[string]int),
	}
}

func (f *fakeStore) Exists(ctx context.Context, path string) (bool, error)   { return false, nil }
func (f *fakeStore) HasRows(ctx context.Context, path string) (bool, error)  { return false, nil }
func (f *fakeStore) Append(ctx context.Context, path string, rows []model.Event) error {
	return nil
}
func (f *fakeStore) Overwrite(ctx context.Context, path string, rows []model.Event, replaceSchema bool) error {
	return nil
}
func (f *fakeStore) Merge(ctx context.Context, path string, sourceRows []model.Event, spec tablestore.MergeSpec) error {
	return nil
}
func (f *fakeStore) Delete(ctx context.Context, path string) error { return nil }

func (f *fakeStore) Vacuum(ctx context.Context, path string) error {
	f.vacuumCall[path]++
	return f.failTables[path]
}

func (f *fakeStore) Compact(ctx context.Context, path string) error {
	f.compactCall[path]++
	return f.failTables[path]
}

func (f *fakeStore) RefreshManifest(ctx context.Context, path string) error { return nil }

func (f *fakeStore) ListTables(ctx context.Context, root string, depthLimit int) ([]string, error) {
	return f.tables, nil
}

func (f *fakeStore) Rows(ctx context.Context, path string) ([]model.Event, error) { return nil, nil }
func (f *fakeStore) Close() error                                                 { return nil }

func testPolicy() retry.Policy {
	return retry.Policy{MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond, MaxAttempts: 2}
}

func TestCompactAll_AppliesCompactToEveryTable(t *testing.T) {
	store := newFakeStore([]string{"a/one", "a/two", "a/three"})
	e := New(store, testPolicy())

	if err := e.CompactAll(context.Background(), "a", DefaultDepthLimit); err != nil {
		t.Fatalf("CompactAll: %v", err)
	}
	for _, table := range store.tables {
		if store.compactCall[table] != 1 {
			t.Errorf("expected Compact called once for %s, got %d", table, store.compactCall[table])
		}
	}
}

func TestVacuumAll_AppliesVacuumToEveryTable(t *testing.T) {
	store := newFakeStore([]string{"a/one", "a/two"})
	e := New(store, testPolicy())

	if err := e.VacuumAll(context.Background(), "a", DefaultDepthLimit); err != nil {
		t.Fatalf("VacuumAll: %v", err)
	}
	for _, table := range store.tables {
		if store.vacuumCall[table] != 1 {
			t.Errorf("expected Vacuum called once for %s, got %d", table, store.vacuumCall[table])
		}
	}
}

func TestCompactAll_AggregatesPerTableFailuresAndContinues(t *testing.T) {
	store := newFakeStore([]string{"a/one", "a/two", "a/three"})
	store.failTables["a/two"] = errors.New("boom")
	e := New(store, testPolicy())

	err := e.CompactAll(context.Background(), "a", DefaultDepthLimit)
	if err == nil {
		t.Fatal("expected aggregated maintenance failure")
	}
	if cdcerrors.GetCategory(err) != cdcerrors.CategoryMaintenanceFailure {
		t.Fatalf("expected CategoryMaintenanceFailure, got %v", cdcerrors.GetCategory(err))
	}

	// every table is still attempted despite a/two's failure.
	for _, table := range store.tables {
		if store.compactCall[table] == 0 {
			t.Errorf("expected Compact attempted for %s despite other failures", table)
		}
	}
}

func TestVacuumAll_NoTablesSucceedsTrivially(t *testing.T) {
	store := newFakeStore(nil)
	e := New(store, testPolicy())

	if err := e.VacuumAll(context.Background(), "a", DefaultDepthLimit); err != nil {
		t.Fatalf("expected no error for empty table set, got %v", err)
	}
}

func TestCompactAll_RetriesOnConcurrentModificationUpToMaxAttempts(t *testing.T) {
	store := newFakeStore([]string{"a/one"})
	store.failTables["a/one"] = cdcerrors.NewConcurrentModification(errors.New("stale etag"))
	e := New(store, retry.Policy{MinWait: time.Millisecond, MaxWait: time.Millisecond, MaxAttempts: 3})

	err := e.CompactAll(context.Background(), "a", DefaultDepthLimit)
	if err == nil {
		t.Fatal("expected maintenance failure since the fake never clears the induced error")
	}
	if store.compactCall["a/one"] != 3 {
		t.Fatalf("expected 3 attempts (MaxAttempts) for a retryable failure, got %d", store.compactCall["a/one"])
	}
}
