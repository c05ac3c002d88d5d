// Command cdc-maintenance runs one MaintenanceEngine pass (spec §4.8):
// Compact or Vacuum every table under a zone root, continuing past
// per-table failures and reporting an aggregated MaintenanceFailure at the
// end. Grounded on cmd/arkilian-compact's flag-parse-then-run shape,
// narrowed from a long-running daemon to a single finite pass per invocation
// (a cron or k8s CronJob supplies the schedule).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/arkilian/cdcflow/internal/bootstrap"
	"github.com/arkilian/cdcflow/internal/config"
	"github.com/arkilian/cdcflow/internal/maintenance"
	"github.com/arkilian/cdcflow/internal/tablestore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	yamlPath := flag.String("config", "", "path to a YAML config file")
	rootKey := flag.String("root-key", "structured.s3.path", "config key naming the zone root to maintain")
	op := flag.String("op", "compact", "maintenance primitive to run: compact or vacuum")
	flag.Parse()

	v, err := config.Load(*yamlPath, flag.Args())
	if err != nil {
		return err
	}

	cfg, err := config.LoadMaintenanceConfig(v, *rootKey)
	if err != nil {
		return err
	}

	catalogDir, ok := v.Get("dataStorage.catalogDir")
	if !ok {
		catalogDir = os.TempDir()
	}
	tmpDir, ok := v.Get("dataStorage.tmpDir")
	if !ok {
		tmpDir = os.TempDir()
	}

	ctx := context.Background()
	objects, err := bootstrap.ObjectStorage(ctx, v)
	if err != nil {
		return err
	}
	store, err := tablestore.Open(objects, catalogDir+"/catalog.db", tmpDir)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := maintenance.New(store, cfg.Retry)

	switch *op {
	case "compact":
		return engine.CompactAll(ctx, cfg.Root, maintenance.DefaultDepthLimit)
	case "vacuum":
		return engine.VacuumAll(ctx, cfg.Root, maintenance.DefaultDepthLimit)
	default:
		return fmt.Errorf("cdc-maintenance: unrecognized -op %q, want compact or vacuum", *op)
	}
}
