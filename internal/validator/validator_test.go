package validator

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
			{Name: "age", LogicalType: "long", Nullable: false},
			{Name: "last_name", LogicalType: "string", Nullable: true},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	v := New(IdentityFilter)
	result := v.Validate(`{"id": 1, "age": 42, "last_name": "Smith"}`, offenderRef())
	if !result.Valid {
		t.Fatalf("expected valid row, got error: %s", result.Error)
	}
}

func TestValidate_ParseFailure(t *testing.T) {
	v := New(IdentityFilter)
	result := v.Validate(`not json`, offenderRef())
	if result.Valid {
		t.Fatal("expected parse failure")
	}
	if result.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestValidate_NonNullFieldIsNull(t *testing.T) {
	v := New(IdentityFilter)
	result := v.Validate(`{"id": 1, "age": null, "last_name": "Smith"}`, offenderRef())
	if result.Valid {
		t.Fatal("expected validation failure for null non-nullable field")
	}
	want := "non-null field age is null"
	if result.Error != want {
		t.Errorf("got %q, want %q", result.Error, want)
	}
}

func TestValidate_NonNullFieldMissing(t *testing.T) {
	v := New(IdentityFilter)
	result := v.Validate(`{"id": 1, "last_name": "Smith"}`, offenderRef())
	if result.Valid {
		t.Fatal("expected validation failure for missing non-nullable field")
	}
}

func TestValidate_TypeMismatchNullifiesField(t *testing.T) {
	// age is declared "long" but the raw payload supplies a string — the
	// replicator's silent-nullification drops age from the parsed copy, so the
	// comparison against the raw payload fails.
	v := New(IdentityFilter)
	result := v.Validate(`{"id": 1, "age": "forty-two", "last_name": "Smith"}`, offenderRef())
	if result.Valid {
		t.Fatal("expected validation failure for type-mismatched non-nullable field")
	}
}

func TestNomisStyleFilter_CollapsesZeroTimeDate(t *testing.T) {
	raw := map[string]interface{}{"dob": "1990-01-01T00:00:00Z", "name": "a"}
	out := NomisStyleFilter(raw)
	if out["dob"] != "1990-01-01" {
		t.Errorf("got %v, want date-only", out["dob"])
	}
	if out["name"] != "a" {
		t.Errorf("unexpected change to non-date field: %v", out["name"])
	}
}
