package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSchemaRegistry_ParsesAndRegistersSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	contents := `
sources:
  - fullyQualifiedName: oms.offenders
    source: oms
    table: offenders
    primaryKey: [id]
    schema:
      - name: id
        logicalType: long
        nullable: false
      - name: last_name
        logicalType: string
        nullable: true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reg, err := LoadSchemaRegistry(path)
	if err != nil {
		t.Fatalf("LoadSchemaRegistry: %v", err)
	}
	ref, ok := reg.Resolve("oms", "offenders")
	if !ok {
		t.Fatal("expected oms.offenders to resolve")
	}
	if ref.PrimaryKey[0] != "id" {
		t.Errorf("expected primary key [id], got %v", ref.PrimaryKey)
	}
	if len(ref.Schema) != 2 {
		t.Errorf("expected 2 schema columns, got %d", len(ref.Schema))
	}
}

func TestLoadSchemaRegistry_RejectsInvalidPrimaryKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	contents := `
sources:
  - fullyQualifiedName: oms.offenders
    source: oms
    table: offenders
    primaryKey: [id]
    schema:
      - name: last_name
        logicalType: string
        nullable: true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadSchemaRegistry(path); err == nil {
		t.Fatal("expected rejection since primaryKey column id is absent from schema")
	}
}

func TestLoadDomainDefinitions_ParsesNestedTransform(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.yaml")
	contents := `
domains:
  - name: caseload
    tables:
      - name: incidents
        primaryKey: [id]
        violations: domain/caseload/incidents/_violations
        transform:
          sources: [oms.offenders]
          viewText: "SELECT json_extract(__row_json, '$.id') AS id FROM \"oms.offenders\""
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defs, err := LoadDomainDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDomainDefinitions: %v", err)
	}
	if len(defs) != 1 || len(defs[0].Tables) != 1 {
		t.Fatalf("unexpected shape: %#v", defs)
	}
	table := defs[0].Tables[0]
	if table.Name != "incidents" || table.Transform.Sources[0] != "oms.offenders" {
		t.Errorf("unexpected table definition: %#v", table)
	}
}
