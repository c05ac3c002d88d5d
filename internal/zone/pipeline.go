// Package zone implements the ZonePipeline (spec §4.5, C7): the raw,
// structured-load, and structured-cdc stages that together take a decoded
// micro-batch from landing through validation to a merged, manifest-fresh
// table. Grounded on StructuredZone.java / StructuredZoneCDC.java, which
// implement the same three-stage pattern
// (validate? → write valid → route invalid → refresh manifest) against
// Spark DataFrames.
package zone

import (
	"context"
	"fmt"
	"log"

	"github.com/arkilian/cdcflow/internal/merge"
	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/observability"
	"github.com/arkilian/cdcflow/internal/schema"
	"github.com/arkilian/cdcflow/internal/tablestore"
	"github.com/arkilian/cdcflow/internal/validator"
	"github.com/arkilian/cdcflow/internal/violations"
)

// zoneStructuredLoad and zoneStructuredCDC are the violation-routing tags
// spec §4.5 names explicitly.
const (
	zoneStructuredLoad = "STRUCTURED_LOAD"
	zoneStructuredCDC  = "STRUCTURED_CDC"
)

// Pipeline wires the three zones together over one TableStore.
type Pipeline struct {
	store      tablestore.TableStore
	registry   schema.Registry
	validate   *validator.Validator
	mergeEng   *merge.Engine
	routes     *violations.Router
	rawRoot    string
	structRoot string
	stats      *observability.OutcomeStats
}

// Config bundles the roots and collaborators a Pipeline needs.
type Config struct {
	Store          tablestore.TableStore
	Registry       schema.Registry
	Validator      *validator.Validator
	Merge          *merge.Engine
	Violations     *violations.Router
	RawRoot        string
	StructuredRoot string
	Stats          *observability.OutcomeStats // optional; nil disables outcome tracking
}

// New constructs a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		store:      cfg.Store,
		registry:   cfg.Registry,
		validate:   cfg.Validator,
		mergeEng:   cfg.Merge,
		routes:     cfg.Violations,
		rawRoot:    cfg.RawRoot,
		structRoot: cfg.StructuredRoot,
		stats:      cfg.Stats,
	}
}

// record tracks outcome for (source, table) if a stats tracker is configured.
func (p *Pipeline) record(source, table string, outcome observability.Outcome) {
	if p.stats != nil {
		p.stats.Record(source, table, outcome)
	}
}

// rawPath implements spec §4.5's raw-zone path convention root/source/table/op.
func (p *Pipeline) rawPath(source, table string, op model.Operation) string {
	return fmt.Sprintf("%s/%s/%s/%s", p.rawRoot, source, table, op.String())
}

func (p *Pipeline) structuredPath(source, table string) string {
	return fmt.Sprintf("%s/%s/%s", p.structRoot, source, table)
}

// RawWrite archives rows under their (source, table, op) prefix without any
// schema enforcement. Used as an immutable landing archive.
func (p *Pipeline) RawWrite(ctx context.Context, source, table string, op model.Operation, rows []model.Event) error {
	if len(rows) == 0 {
		return nil
	}
	return p.store.Append(ctx, p.rawPath(source, table, op), rows)
}

// RawRecord is one undecoded landing row: a raw JSON payload plus the
// metadata the decoder needs to resolve a schema and build a model.Event.
type RawRecord struct {
	Data      string
	Source    string
	Table     string
	Operation model.Operation
}

// StructuredLoad implements spec §4.5's structured-load stage: resolves the
// SourceReference for (source, table); if absent, diverts the whole
// sub-batch to violations. Otherwise validates each row, merges the valid
// ones via MergeEngine.load-distinct, and routes invalid ones to violations
// with their per-row reason.
func (p *Pipeline) StructuredLoad(ctx context.Context, source, table string, rows []RawRecord) error {
	if len(rows) == 0 {
		return nil
	}
	ref, ok := p.registry.Resolve(source, table)
	if !ok {
		events := make([]model.Event, 0, len(rows))
		for _, r := range rows {
			events = append(events, model.Event{Source: source, Table: table, Operation: r.Operation})
		}
		return p.routes.RouteReason(ctx, source, table, zoneStructuredLoad,
			fmt.Sprintf("Schema does not exist for %s/%s", source, table), events)
	}

	var valid []model.Event
	var rejections []violations.Rejection
	for _, r := range rows {
		result := p.validate.Validate(r.Data, ref)
		event, decodeErr := decode(r.Data, ref, source, table, r.Operation)
		if result.Valid && decodeErr == nil {
			valid = append(valid, event)
			continue
		}
		reason := result.Error
		if reason == "" && decodeErr != nil {
			reason = decodeErr.Error()
		}
		rejections = append(rejections, violations.Rejection{Row: event, Reason: reason})
	}

	if len(rejections) > 0 {
		if err := p.routes.Route(ctx, source, table, zoneStructuredLoad, rejections); err != nil {
			return err
		}
	}
	if len(valid) == 0 {
		return nil
	}
	if err := p.mergeEng.LoadDistinct(ctx, p.structuredPath(source, table), valid, ref.PrimaryKey); err != nil {
		return err
	}
	return p.store.RefreshManifest(ctx, p.structuredPath(source, table))
}

// StructuredCDC implements spec §4.5's structured-cdc stage: applies
// MergeEngine.cdc; on retries-exhausted, diverts the failing batch to
// violations (zone tag STRUCTURED_CDC) and continues rather than aborting
// the stream; otherwise refreshes the manifest.
func (p *Pipeline) StructuredCDC(ctx context.Context, source, table string, rows []model.Event) error {
	if len(rows) == 0 {
		return nil
	}
	ref, ok := p.registry.Resolve(source, table)
	if !ok {
		return p.routes.RouteReason(ctx, source, table, zoneStructuredCDC,
			fmt.Sprintf("Schema does not exist for %s/%s", source, table), rows)
	}

	err := p.mergeEng.CDC(ctx, p.structuredPath(source, table), rows, ref.PrimaryKey)
	if err == nil {
		p.record(source, table, observability.OutcomeSuccess)
		return p.store.RefreshManifest(ctx, p.structuredPath(source, table))
	}

	if retriesExhaustedCategory(err) {
		p.record(source, table, observability.OutcomeRetriesExhausted)
		log.Printf("zone: structured-cdc merge for %s/%s exhausted retries, diverting batch: %v", source, table, err)
		return p.routes.RouteReason(ctx, source, table, zoneStructuredCDC, err.Error(), rows)
	}

	// SchemaDrift/MergeFailure: logged only, the stream continues. Tracked by
	// OutcomeStats so operators can see the split without changing behavior.
	if schemaDriftCategory(err) {
		p.record(source, table, observability.OutcomeSchemaDrift)
	} else {
		p.record(source, table, observability.OutcomeMergeFailure)
	}
	log.Printf("zone: structured-cdc merge for %s/%s failed, continuing: %v", source, table, err)
	return nil
}
