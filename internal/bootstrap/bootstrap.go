// Package bootstrap assembles the shared resources every cmd/ entry point
// needs — object storage, TableStore, SchemaRegistry, RecordValidator,
// MergeEngine, ViolationRouter, ZonePipeline, QueryEngine — from one
// ConfigView. Grounded on internal/app/app.go's initSharedResources, which
// does the same job for the teacher's ingest/query/compact services against
// its own manifest catalog.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arkilian/cdcflow/internal/config"
	"github.com/arkilian/cdcflow/internal/merge"
	"github.com/arkilian/cdcflow/internal/observability"
	"github.com/arkilian/cdcflow/internal/queryengine"
	"github.com/arkilian/cdcflow/internal/retry"
	"github.com/arkilian/cdcflow/internal/schema"
	"github.com/arkilian/cdcflow/internal/storage"
	"github.com/arkilian/cdcflow/internal/tablestore"
	"github.com/arkilian/cdcflow/internal/validator"
	"github.com/arkilian/cdcflow/internal/violations"
	"github.com/arkilian/cdcflow/internal/zone"
)

// Resources bundles the shared, process-lifetime collaborators.
type Resources struct {
	Objects    storage.ObjectStorage
	Store      tablestore.TableStore
	Registry   *schema.StaticRegistry
	Validator  *validator.Validator
	MergeEng   *merge.Engine
	Violations *violations.Router
	Pipeline   *zone.Pipeline
	Query      *queryengine.Engine
	Stats      *observability.OutcomeStats
}

// ObjectStorage chooses S3 when aws.region and aws.s3.bucket are both
// present, otherwise falls back to local-disk storage rooted at
// dataStorage.localRoot (default ".") — bootstrap-only wiring keys, not part
// of the recognized configuration table in spec §6. Exported so every
// cmd/ entry point that opens a TableStore picks storage the same way,
// including cmd/cdc-maintenance, which has no other use for bootstrap.Open's
// full Resources bundle.
func ObjectStorage(ctx context.Context, v *config.View) (storage.ObjectStorage, error) {
	region, hasRegion := v.Get("aws.region")
	bucket, hasBucket := v.Get("aws.s3.bucket")
	if hasRegion && hasBucket {
		endpoint, _ := v.Get("aws.kinesis.endpointUrl")
		return storage.NewS3Storage(ctx, bucket, storage.S3Config{
			Region:   region,
			Endpoint: endpoint,
		})
	}

	root, ok := v.Get("dataStorage.localRoot")
	if !ok {
		root = "."
	}
	return storage.NewLocalStorage(root)
}

// Open assembles Resources from v. schemaPath points at a YAML file of
// SourceReferences, or is empty for an empty registry (not a recognized
// config key itself; cmd/cdc-streamer passes the optional domain.registry
// value, cmd/cdc-domain passes none).
func Open(ctx context.Context, v *config.View, zones config.ZoneRoots, schemaPath string, retryPolicy retry.Policy) (*Resources, error) {
	objects, err := ObjectStorage(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: object storage: %w", err)
	}

	catalogDir, ok := v.Get("dataStorage.catalogDir")
	if !ok {
		catalogDir = filepath.Join(os.TempDir(), "cdcflow-catalog")
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return nil, fmt.Errorf("bootstrap: create catalog dir: %w", err)
	}
	tmpDir, ok := v.Get("dataStorage.tmpDir")
	if !ok {
		tmpDir = filepath.Join(os.TempDir(), "cdcflow-tmp")
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("bootstrap: create tmp dir: %w", err)
	}

	store, err := tablestore.Open(objects, filepath.Join(catalogDir, "catalog.db"), tmpDir)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open table store: %w", err)
	}

	registry := schema.NewStaticRegistry()
	if schemaPath != "" {
		loaded, err := config.LoadSchemaRegistry(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load schema registry: %w", err)
		}
		registry = loaded
	}

	validate := validator.New(validator.IdentityFilter)
	mergeEng := merge.New(store, retryPolicy)
	routes := violations.New(store, zones.Violations)
	stats := observability.NewOutcomeStats(24 * time.Hour)

	pipeline := zone.New(zone.Config{
		Store:          store,
		Registry:       registry,
		Validator:      validate,
		Merge:          mergeEng,
		Violations:     routes,
		RawRoot:        zones.Raw,
		StructuredRoot: zones.Structured,
		Stats:          stats,
	})

	query, err := queryengine.Open()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open query engine: %w", err)
	}

	return &Resources{
		Objects:    objects,
		Store:      store,
		Registry:   registry,
		Validator:  validate,
		MergeEng:   mergeEng,
		Violations: routes,
		Pipeline:   pipeline,
		Query:      query,
		Stats:      stats,
	}, nil
}

// Close releases the query engine and table store.
func (r *Resources) Close() error {
	var firstErr error
	if r.Query != nil {
		if err := r.Query.Close(); err != nil {
			firstErr = err
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
