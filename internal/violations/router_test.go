package violations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/storage"
	"github.com/arkilian/cdcflow/internal/tablestore"
)

func newTestRouter(t *testing.T) (*Router, tablestore.TableStore) {
	t.Helper()
	dir := t.TempDir()
	objects, err := storage.NewLocalStorage(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	store, err := tablestore.Open(objects, filepath.Join(dir, "catalog.db"), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, "violations"), store
}

func TestRouter_Route_AttachesReasonAndZone(t *testing.T) {
	r, store := newTestRouter(t)
	ctx := context.Background()

	rej := Rejection{Row: model.Event{Data: map[string]interface{}{"id": 1.0}}, Reason: "non-null field age is null"}
	if err := r.Route(ctx, "oms", "offenders", "STRUCTURED_LOAD", []Rejection{rej}); err != nil {
		t.Fatalf("Route: %v", err)
	}

	rows, err := store.Rows(ctx, r.path("oms", "offenders"))
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 violation row, got %d", len(rows))
	}
	if rows[0].Data[errorColumn] != "non-null field age is null" {
		t.Errorf("expected reason attached, got %+v", rows[0].Data)
	}
	if rows[0].Data[zoneColumn] != "STRUCTURED_LOAD" {
		t.Errorf("expected zone attached, got %+v", rows[0].Data)
	}
}

func TestRouter_Route_EmptyIsNoop(t *testing.T) {
	r, store := newTestRouter(t)
	ctx := context.Background()

	if err := r.Route(ctx, "oms", "offenders", "STRUCTURED_CDC", nil); err != nil {
		t.Fatalf("Route: %v", err)
	}
	exists, err := store.Exists(ctx, r.path("oms", "offenders"))
	if err != nil || exists {
		t.Fatalf("expected no table created for empty rejection batch, exists=%v err=%v", exists, err)
	}
}

func TestRouter_RouteReason_UniformReasonForWholeBatch(t *testing.T) {
	r, store := newTestRouter(t)
	ctx := context.Background()

	rows := []model.Event{
		{Data: map[string]interface{}{"id": 1.0}},
		{Data: map[string]interface{}{"id": 2.0}},
	}
	if err := r.RouteReason(ctx, "oms", "offenders", "STRUCTURED_LOAD", "Schema does not exist for oms/offenders", rows); err != nil {
		t.Fatalf("RouteReason: %v", err)
	}

	stored, err := store.Rows(ctx, r.path("oms", "offenders"))
	if err != nil || len(stored) != 2 {
		t.Fatalf("expected 2 violation rows, got %v err=%v", stored, err)
	}
	for _, row := range stored {
		if row.Data[errorColumn] != "Schema does not exist for oms/offenders" {
			t.Errorf("expected uniform reason, got %+v", row.Data)
		}
	}
}
