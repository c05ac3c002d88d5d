// Package domain implements the DomainRefreshEngine (spec §4.6, C8): builds
// or incrementally refreshes domain tables by evaluating a DomainDefinition's
// transform through the QueryEngine and applying the derived row set to the
// target table via MergeEngine. Grounded on DomainService.java and
// DomainSchemaService.java, which drive the same
// sources → SQL view → merge-into-target pipeline over Spark DataFrames.
package domain

import (
	"context"
	"fmt"
	"log"

	"github.com/arkilian/cdcflow/internal/merge"
	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/queryengine"
	"github.com/arkilian/cdcflow/internal/tablestore"
	"github.com/arkilian/cdcflow/internal/violations"
)

// domainRefreshZone tags rows a failed transform evaluation routes to a
// domain table's configured violations location.
const domainRefreshZone = "DOMAIN_REFRESH"

// Catalogue holds the DomainDefinitions a refresh engine consults, indexed
// for the "which domain tables derive from this source table" lookup
// Refresh needs on every CDC slice.
type Catalogue struct {
	definitions []model.DomainDefinition
	bySource    map[string][]boundTable
}

// boundTable pairs a DomainDefinition name with one of its TableDefinitions,
// so a lookup by source can report which domain+table pair to refresh.
type boundTable struct {
	domain string
	table  model.TableDefinition
}

// NewCatalogue indexes defs by each source.table their transforms reference.
// Returns an error if any transform's viewText-adjacent invariants are
// violated: empty sources, empty primary key, or empty view text.
func NewCatalogue(defs []model.DomainDefinition) (*Catalogue, error) {
	c := &Catalogue{definitions: defs, bySource: make(map[string][]boundTable)}
	for _, d := range defs {
		for _, t := range d.Tables {
			if len(t.Transform.Sources) == 0 {
				return nil, fmt.Errorf("domain: table %s/%s has no transform sources", d.Name, t.Name)
			}
			if len(t.PrimaryKey) == 0 {
				return nil, fmt.Errorf("domain: table %s/%s has no primary key", d.Name, t.Name)
			}
			if t.Transform.ViewText == "" {
				return nil, fmt.Errorf("domain: table %s/%s has no view text", d.Name, t.Name)
			}
			for _, src := range t.Transform.Sources {
				c.bySource[src] = append(c.bySource[src], boundTable{domain: d.Name, table: t})
			}
		}
	}
	return c, nil
}

// Lookup resolves a DomainDefinition + TableDefinition by (domainName, tableName).
func (c *Catalogue) Lookup(domainName, tableName string) (string, model.TableDefinition, bool) {
	for _, d := range c.definitions {
		if d.Name != domainName {
			continue
		}
		for _, t := range d.Tables {
			if t.Name == tableName {
				return d.Name, t, true
			}
		}
	}
	return "", model.TableDefinition{}, false
}

// TablesForSource returns every domain table whose transform sources include
// "source.table".
func (c *Catalogue) TablesForSource(source, table string) []boundTable {
	return c.bySource[source+"."+table]
}

// Engine evaluates domain transforms through a QueryEngine and applies the
// result via a MergeEngine.
type Engine struct {
	catalogue  *Catalogue
	query      *queryengine.Engine
	store      tablestore.TableStore
	mergeEng   *merge.Engine
	violations *violations.Router
	targetFn   func(domainName, tableName string) string
}

// Config bundles an Engine's collaborators.
type Config struct {
	Catalogue *Catalogue
	Query     *queryengine.Engine
	Store     tablestore.TableStore
	Merge     *merge.Engine
	// Violations routes rows a transform evaluation failed to derive to a
	// domain table's configured violations location (TableDefinition.Violations).
	// Optional; nil makes evaluation failures fatal to the refresh, as before.
	Violations *violations.Router
	// TargetPath maps (domainName, tableName) to its storage path.
	TargetPath func(domainName, tableName string) string
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	return &Engine{
		catalogue:  cfg.Catalogue,
		query:      cfg.Query,
		store:      cfg.Store,
		mergeEng:   cfg.Merge,
		violations: cfg.Violations,
		targetFn:   cfg.TargetPath,
	}
}

// Refresh implements spec §4.6's incremental path: for a CDC slice
// (source, tableName, rows), every domain table whose transform references
// source.tableName is refreshed from the projected INSERT/UPDATE/DELETE
// rows. A failure refreshing one domain table is logged and surfaced as a
// batch-level warning without aborting the remaining tables.
func (e *Engine) Refresh(ctx context.Context, source, tableName string, rows []model.Event) []error {
	bound := e.catalogue.TablesForSource(source, tableName)
	if len(bound) == 0 {
		return nil
	}

	deltas := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		if r.Operation.IsCDCDelta() {
			deltas = append(deltas, r)
		}
	}
	if len(deltas) == 0 {
		return nil
	}

	var warnings []error
	inputName := source + "." + tableName
	for _, bt := range bound {
		if err := e.refreshOne(ctx, bt.domain, bt.table, inputName, deltas); err != nil {
			log.Printf("domain: refresh of %s/%s failed: %v", bt.domain, bt.table.Name, err)
			warnings = append(warnings, fmt.Errorf("domain %s table %s: %w", bt.domain, bt.table.Name, err))
		}
	}
	return warnings
}

// refreshOne evaluates the transform once per source row rather than once
// for the whole batch: a view that fans one source row out into several
// derived rows (e.g. unnesting an array column with json_each) must still
// have every one of those derived rows inherit that row's own operation, so
// deleting the source row deletes all of them (spec.md:142). Evaluating
// batch-wide and pairing results back to source rows by ordinal position
// cannot make that guarantee once a view's fan-out ratio isn't 1:1.
func (e *Engine) refreshOne(ctx context.Context, domainName string, t model.TableDefinition, inputName string, rows []model.Event) error {
	var derivedRows []model.Event
	var rejected []violations.Rejection
	for _, r := range rows {
		derived, err := e.query.Evaluate(ctx, map[string][]model.Event{inputName: {r}}, t.Transform.ViewText)
		if err != nil {
			if e.violations == nil || t.Violations == "" {
				return fmt.Errorf("evaluate view: %w", err)
			}
			rejected = append(rejected, violations.Rejection{Row: r, Reason: err.Error()})
			continue
		}
		for _, rec := range derived {
			derivedRows = append(derivedRows, model.Event{
				Data:      rec,
				Operation: r.Operation,
				CommitTS:  r.CommitTS,
			})
		}
	}
	if len(rejected) > 0 {
		if err := e.violations.RouteToPath(ctx, t.Violations, domainRefreshZone, rejected); err != nil {
			return fmt.Errorf("route rejected rows: %w", err)
		}
	}
	if len(derivedRows) == 0 {
		return nil
	}

	targetPath := e.targetFn(domainName, t.Name)
	return e.mergeEng.CDC(ctx, targetPath, derivedRows, t.PrimaryKey)
}

// FullRefresh implements spec §4.6's full-refresh mode: resolves a single
// DomainDefinition by (domainName, tableName) and overwrites the target with
// the transform evaluated over every row currently in its source tables. The
// caller supplies the current rows per source, since reading them is a
// TableStore concern outside this engine's scope.
func (e *Engine) FullRefresh(ctx context.Context, domainName, tableName string, sourceRows map[string][]model.Event) error {
	_, t, ok := e.catalogue.Lookup(domainName, tableName)
	if !ok {
		return fmt.Errorf("domain: no table %s/%s in catalogue", domainName, tableName)
	}

	derived, err := e.query.Evaluate(ctx, sourceRows, t.Transform.ViewText)
	if err != nil {
		return fmt.Errorf("evaluate view: %w", err)
	}

	rows := make([]model.Event, 0, len(derived))
	for _, rec := range derived {
		rows = append(rows, model.Event{Data: rec, Operation: model.OperationLoad})
	}

	targetPath := e.targetFn(domainName, t.Name)
	return e.store.Overwrite(ctx, targetPath, rows, false)
}

// DeleteTarget implements spec §4.6's delete mode: removes a domain table's
// target entirely.
func (e *Engine) DeleteTarget(ctx context.Context, domainName, tableName string) error {
	_, t, ok := e.catalogue.Lookup(domainName, tableName)
	if !ok {
		return fmt.Errorf("domain: no table %s/%s in catalogue", domainName, tableName)
	}
	return e.store.Delete(ctx, e.targetFn(domainName, t.Name))
}
