package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/schema"
)

// sourceReferenceFile is the on-disk shape of a SchemaRegistry source file,
// loaded once per process per spec §9's "read-only for the life of a
// streaming query" design note.
type sourceReferenceFile struct {
	Sources []sourceReferenceEntry `yaml:"sources"`
}

type sourceReferenceEntry struct {
	FullyQualifiedName string        `yaml:"fullyQualifiedName"`
	Source             string        `yaml:"source"`
	Table              string        `yaml:"table"`
	PrimaryKey         []string      `yaml:"primaryKey"`
	Schema             []columnEntry `yaml:"schema"`
}

type columnEntry struct {
	Name        string `yaml:"name"`
	LogicalType string `yaml:"logicalType"`
	Nullable    bool   `yaml:"nullable"`
}

// LoadSchemaRegistry reads a YAML file of SourceReferences and populates a
// StaticRegistry, rejecting the whole file if any entry fails validation.
func LoadSchemaRegistry(path string) (*schema.StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read schema registry %s: %w", path, err)
	}
	var file sourceReferenceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse schema registry %s: %w", path, err)
	}

	reg := schema.NewStaticRegistry()
	for _, e := range file.Sources {
		ref := model.SourceReference{
			FullyQualifiedName: e.FullyQualifiedName,
			Source:             e.Source,
			Table:              e.Table,
			PrimaryKey:         e.PrimaryKey,
			Schema:             make([]model.Column, len(e.Schema)),
		}
		for i, c := range e.Schema {
			ref.Schema[i] = model.Column{Name: c.Name, LogicalType: c.LogicalType, Nullable: c.Nullable}
		}
		if err := reg.Register(ref); err != nil {
			return nil, fmt.Errorf("config: registering %s: %w", e.FullyQualifiedName, err)
		}
	}
	return reg, nil
}

// domainDefinitionFile is the on-disk shape of a DomainDefinition catalogue
// file, named by the domain.registry configuration key.
type domainDefinitionFile struct {
	Domains []domainDefinitionEntry `yaml:"domains"`
}

type domainDefinitionEntry struct {
	Name   string                 `yaml:"name"`
	Tables []tableDefinitionEntry `yaml:"tables"`
}

type tableDefinitionEntry struct {
	Name       string   `yaml:"name"`
	PrimaryKey []string `yaml:"primaryKey"`
	Violations string   `yaml:"violations"`
	Transform  struct {
		Sources  []string `yaml:"sources"`
		ViewText string   `yaml:"viewText"`
	} `yaml:"transform"`
}

// LoadDomainDefinitions reads a YAML catalogue of DomainDefinitions from the
// path named by the domain.registry configuration key.
func LoadDomainDefinitions(path string) ([]model.DomainDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read domain registry %s: %w", path, err)
	}
	var file domainDefinitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse domain registry %s: %w", path, err)
	}

	defs := make([]model.DomainDefinition, 0, len(file.Domains))
	for _, d := range file.Domains {
		def := model.DomainDefinition{Name: d.Name, Tables: make([]model.TableDefinition, len(d.Tables))}
		for i, t := range d.Tables {
			def.Tables[i] = model.TableDefinition{
				Name:       t.Name,
				PrimaryKey: t.PrimaryKey,
				Violations: t.Violations,
				Transform: model.Transform{
					Sources:  t.Transform.Sources,
					ViewText: t.Transform.ViewText,
				},
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}
