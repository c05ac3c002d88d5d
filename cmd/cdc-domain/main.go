// Command cdc-domain runs one domain-refresh job for a single domain table,
// selecting a mode from domain.operation (spec §6's CLI surface): insert and
// update both evaluate the table's DomainDefinition transform over the
// current structured-zone rows of its source table and overwrite the target
// domain table; delete removes the target. When domain.catalog.db is set it
// also registers the resulting table in the Catalogue. Grounded on
// cmd/arkilian-query's flag-parse-then-run shape, narrowed to a single
// table operation instead of a long-running query server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/arkilian/cdcflow/internal/bootstrap"
	"github.com/arkilian/cdcflow/internal/catalogue"
	"github.com/arkilian/cdcflow/internal/config"
	"github.com/arkilian/cdcflow/internal/domain"
	"github.com/arkilian/cdcflow/internal/model"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	yamlPath := flag.String("config", "", "path to a YAML config file")
	source := flag.String("source", "", "CDC source for the tables feeding this refresh")
	flag.Parse()

	v, err := config.Load(*yamlPath, flag.Args())
	if err != nil {
		return err
	}

	cfg, err := config.LoadDomainConfig(v)
	if err != nil {
		return err
	}
	zones, err := config.LoadZoneRoots(v)
	if err != nil {
		return err
	}

	ctx := context.Background()
	res, err := bootstrap.Open(ctx, v, zones, "", cfg.Retry)
	if err != nil {
		return err
	}
	defer res.Close()

	defs, err := config.LoadDomainDefinitions(cfg.Registry)
	if err != nil {
		return err
	}
	cat, err := domain.NewCatalogue(defs)
	if err != nil {
		return err
	}
	engine := domain.New(domain.Config{
		Catalogue:  cat,
		Query:      res.Query,
		Store:      res.Store,
		Merge:      res.MergeEng,
		Violations: res.Violations,
		TargetPath: func(domainName, tableName string) string {
			return cfg.TargetPath
		},
	})

	switch cfg.Operation {
	case "delete":
		err = engine.DeleteTarget(ctx, cfg.Name, cfg.TableName)
	case "insert", "update":
		if *source == "" {
			return fmt.Errorf("cdc-domain: -source is required for insert/update operations")
		}
		snapshot, loadErr := res.Store.Rows(ctx, fmt.Sprintf("%s/%s/%s", zones.Structured, *source, cfg.TableName))
		if loadErr != nil {
			return loadErr
		}
		err = engine.FullRefresh(ctx, cfg.Name, cfg.TableName, map[string][]model.Event{
			fmt.Sprintf("%s.%s", *source, cfg.TableName): snapshot,
		})
	default:
		return fmt.Errorf("cdc-domain: unrecognized operation %q", cfg.Operation)
	}
	if err != nil {
		return err
	}

	if cfg.CatalogDB == "" {
		return nil
	}
	cat2, err := catalogue.Open(cfg.CatalogDB)
	if err != nil {
		return err
	}
	defer cat2.Close()

	if _, _, ok := cat.Lookup(cfg.Name, cfg.TableName); !ok {
		return fmt.Errorf("cdc-domain: domain table %s.%s not found in registry", cfg.Name, cfg.TableName)
	}
	id := model.TableIdentifier{Database: cfg.Name, Schema: cfg.Name, Table: cfg.TableName}
	return cat2.Register(ctx, id, cfg.TargetPath, nil, cfg.TargetPath+"/_symlink_format_manifest")
}
