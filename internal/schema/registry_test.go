package schema

import (
	"testing"

	"github.com/arkilian/cdcflow/internal/model"
)

func offenderRef() model.SourceReference {
	return model.SourceReference{
		FullyQualifiedName: "oms.offenders",
		Source:             "oms",
		Table:              "offenders",
		PrimaryKey:         []string{"id"},
		Schema: []model.Column{
			{Name: "id", LogicalType: "long", Nullable: false},
			{Name: "last_name", LogicalType: "string", Nullable: true},
		},
	}
}

func TestStaticRegistry_RegisterAndResolve(t *testing.T) {
	r := NewStaticRegistry()
	if err := r.Register(offenderRef()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ref, ok := r.Resolve("oms", "offenders")
	if !ok {
		t.Fatal("expected to resolve oms.offenders")
	}
	if ref.FullyQualifiedName != "oms.offenders" {
		t.Errorf("got %q", ref.FullyQualifiedName)
	}
}

func TestStaticRegistry_ResolveMissing(t *testing.T) {
	r := NewStaticRegistry()
	if _, ok := r.Resolve("oms", "sentences"); ok {
		t.Error("expected miss for unregistered table")
	}
}

func TestStaticRegistry_RegisterRejectsInvalid(t *testing.T) {
	r := NewStaticRegistry()
	bad := model.SourceReference{
		Source:     "oms",
		Table:      "offenders",
		PrimaryKey: []string{"id"},
		Schema:     []model.Column{{Name: "id", Nullable: true}},
	}
	if err := r.Register(bad); err == nil {
		t.Error("expected error for nullable primary key column")
	}
}

func TestStaticRegistry_All(t *testing.T) {
	r := NewStaticRegistry()
	_ = r.Register(offenderRef())
	all := r.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 registered reference, got %d", len(all))
	}
}
