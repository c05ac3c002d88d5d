package config

import (
	"fmt"
	"time"

	"github.com/arkilian/cdcflow/internal/retry"
)

// LoadRetryPolicy reads dataStorage.retry.{minWaitMillis,maxWaitMillis,
// jitterFactor,maxAttempts}, falling back to retry.DefaultPolicy's values
// for any absent key.
func LoadRetryPolicy(v *View) (retry.Policy, error) {
	policy := retry.DefaultPolicy()

	if n, ok, err := v.GetInt("dataStorage.retry.minWaitMillis"); err != nil {
		return retry.Policy{}, err
	} else if ok {
		policy.MinWait = time.Duration(n) * time.Millisecond
	}
	if n, ok, err := v.GetInt("dataStorage.retry.maxWaitMillis"); err != nil {
		return retry.Policy{}, err
	} else if ok {
		policy.MaxWait = time.Duration(n) * time.Millisecond
	}
	if f, ok, err := v.GetFloat("dataStorage.retry.jitterFactor"); err != nil {
		return retry.Policy{}, err
	} else if ok {
		policy.JitterFactor = f
	}
	if n, ok, err := v.GetInt("dataStorage.retry.maxAttempts"); err != nil {
		return retry.Policy{}, err
	} else if ok {
		policy.MaxAttempts = n
	}
	return policy, nil
}

// ZoneRoots is the raw.s3.path/structured.s3.path/violations.s3.path/
// curated.s3.path key group.
type ZoneRoots struct {
	Raw        string
	Structured string
	Violations string
	Curated    string
}

// LoadZoneRoots reads the four zone-root keys. Raw, Structured, and
// Violations are mandatory; Curated is optional (domain tables are only
// materialized when a domain job runs).
func LoadZoneRoots(v *View) (ZoneRoots, error) {
	var roots ZoneRoots
	var err error
	if roots.Raw, err = v.MustGet("raw.s3.path"); err != nil {
		return ZoneRoots{}, err
	}
	if roots.Structured, err = v.MustGet("structured.s3.path"); err != nil {
		return ZoneRoots{}, err
	}
	if roots.Violations, err = v.MustGet("violations.s3.path"); err != nil {
		return ZoneRoots{}, err
	}
	roots.Curated, _ = v.Get("curated.s3.path")
	return roots, nil
}

// StreamerConfig binds the keys a TableStreamingSupervisor entry point
// (cmd/cdc-streamer) needs.
type StreamerConfig struct {
	AWSRegion            string
	KinesisEndpointURL   string
	KinesisStreamName    string
	BatchDurationSeconds int
	CheckpointLocation   string
	Zones                ZoneRoots
	Retry                retry.Policy
}

// LoadStreamerConfig reads the streamer job's mandatory and optional keys.
func LoadStreamerConfig(v *View) (StreamerConfig, error) {
	var cfg StreamerConfig
	var err error

	cfg.AWSRegion, _ = v.Get("aws.region")
	cfg.KinesisEndpointURL, _ = v.Get("aws.kinesis.endpointUrl")

	if cfg.KinesisStreamName, err = v.MustGet("kinesis.reader.streamName"); err != nil {
		return StreamerConfig{}, err
	}
	if cfg.BatchDurationSeconds, err = v.MustGetInt("kinesis.reader.batchDurationSeconds"); err != nil {
		return StreamerConfig{}, err
	}
	if cfg.CheckpointLocation, err = v.MustGet("checkpoint.location"); err != nil {
		return StreamerConfig{}, err
	}
	if cfg.Zones, err = LoadZoneRoots(v); err != nil {
		return StreamerConfig{}, err
	}
	if cfg.Retry, err = LoadRetryPolicy(v); err != nil {
		return StreamerConfig{}, err
	}
	return cfg, nil
}

// DomainConfig binds domain.* keys for the domain refresh entry point
// (cmd/cdc-domain). Operation selects insert/update/delete mode (spec §6's
// "CLI surface").
type DomainConfig struct {
	TargetPath string
	Name       string
	TableName  string
	Registry   string
	Operation  string
	CatalogDB  string
	Retry      retry.Policy
}

// validDomainOperations is the closed set spec §6 names.
var validDomainOperations = map[string]bool{"insert": true, "update": true, "delete": true}

// LoadDomainConfig reads the domain job's key group, all mandatory except
// domain.catalog.db, and rejects an operation outside {insert, update, delete}.
func LoadDomainConfig(v *View) (DomainConfig, error) {
	var cfg DomainConfig
	var err error

	if cfg.TargetPath, err = v.MustGet("domain.target.path"); err != nil {
		return DomainConfig{}, err
	}
	if cfg.Name, err = v.MustGet("domain.name"); err != nil {
		return DomainConfig{}, err
	}
	if cfg.TableName, err = v.MustGet("domain.table.name"); err != nil {
		return DomainConfig{}, err
	}
	if cfg.Registry, err = v.MustGet("domain.registry"); err != nil {
		return DomainConfig{}, err
	}
	if cfg.Operation, err = v.MustGet("domain.operation"); err != nil {
		return DomainConfig{}, err
	}
	if !validDomainOperations[cfg.Operation] {
		return DomainConfig{}, fmt.Errorf("config: domain.operation %q must be one of insert, update, delete", cfg.Operation)
	}
	cfg.CatalogDB, _ = v.Get("domain.catalog.db")
	if cfg.Retry, err = LoadRetryPolicy(v); err != nil {
		return DomainConfig{}, err
	}
	return cfg, nil
}

// MaintenanceConfig binds the keys the maintenance entry point
// (cmd/cdc-maintenance) needs: a zone root to walk and the retry policy its
// RetryHarness applies per table.
type MaintenanceConfig struct {
	Root  string
	Retry retry.Policy
}

// LoadMaintenanceConfig reads the maintenance job's key group.
func LoadMaintenanceConfig(v *View, rootKey string) (MaintenanceConfig, error) {
	var cfg MaintenanceConfig
	var err error
	if cfg.Root, err = v.MustGet(rootKey); err != nil {
		return MaintenanceConfig{}, err
	}
	if cfg.Retry, err = LoadRetryPolicy(v); err != nil {
		return MaintenanceConfig{}, err
	}
	return cfg, nil
}
