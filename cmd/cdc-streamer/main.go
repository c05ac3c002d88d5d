// Command cdc-streamer runs one TableStreamingSupervisor: polling an
// EventSource on a fixed tick, landing raw rows, merging structured
// load/cdc batches, refreshing any bound domain tables, and committing a
// checkpoint. Grounded on cmd/arkilian's flag-parse-then-App.Start shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/arkilian/cdcflow/internal/bootstrap"
	"github.com/arkilian/cdcflow/internal/config"
	"github.com/arkilian/cdcflow/internal/domain"
	"github.com/arkilian/cdcflow/internal/eventsource"
	"github.com/arkilian/cdcflow/internal/eventsource/checkpoint"
	"github.com/arkilian/cdcflow/internal/server"
	"github.com/arkilian/cdcflow/internal/streaming"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	yamlPath := flag.String("config", "", "path to a YAML config file")
	healthAddr := flag.String("health-addr", ":9090", "gRPC health listen address")
	flag.Parse()

	v, err := config.Load(*yamlPath, flag.Args())
	if err != nil {
		return err
	}

	cfg, err := config.LoadStreamerConfig(v)
	if err != nil {
		return err
	}

	jobTag, err := v.MustGet("jobTag")
	if err != nil {
		return err
	}
	source, err := v.MustGet("kinesis.reader.source")
	if err != nil {
		return err
	}
	table, err := v.MustGet("kinesis.reader.table")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schemaPath, _ := v.Get("domain.registry")
	res, err := bootstrap.Open(ctx, v, cfg.Zones, schemaPath, cfg.Retry)
	if err != nil {
		return err
	}
	defer res.Close()

	var domainEngine *domain.Engine
	if schemaPath != "" {
		defs, err := config.LoadDomainDefinitions(schemaPath)
		if err != nil {
			return err
		}
		catalogue, err := domain.NewCatalogue(defs)
		if err != nil {
			return err
		}
		domainEngine = domain.New(domain.Config{
			Catalogue:  catalogue,
			Query:      res.Query,
			Store:      res.Store,
			Merge:      res.MergeEng,
			Violations: res.Violations,
			TargetPath: func(domainName, tableName string) string {
				return fmt.Sprintf("%s/%s/%s", cfg.Zones.Curated, domainName, tableName)
			},
		})
	}

	checkpoints, err := checkpoint.Open(cfg.CheckpointLocation, 4)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	kinesisSource, err := eventsource.NewKinesisSource(ctx, eventsource.KinesisConfig{
		Region:      cfg.AWSRegion,
		EndpointURL: cfg.KinesisEndpointURL,
		StreamName:  cfg.KinesisStreamName,
	})
	if err != nil {
		return err
	}
	defer kinesisSource.Close()

	supervisor := streaming.New(streaming.Config{
		JobTag:         jobTag,
		Source:         source,
		Table:          table,
		CheckpointRoot: cfg.CheckpointLocation,
		TickInterval:   time.Duration(cfg.BatchDurationSeconds) * time.Second,
		EventSource:    kinesisSource,
		Checkpoints:    checkpoints,
		Pipeline:       res.Pipeline,
		Domain:         domainEngine,
	})

	health, err := server.NewHealthServer(*healthAddr)
	if err != nil {
		return err
	}
	go func() {
		if err := health.Serve(); err != nil {
			log.Printf("cdc-streamer: health server stopped: %v", err)
		}
	}()

	shutdown := server.NewShutdownManager(server.DefaultShutdownConfig())
	shutdown.RegisterCloser(server.CloserFunc(supervisor.Stop))
	shutdown.RegisterCloser(health)

	if err := supervisor.Start(ctx); err != nil {
		return err
	}
	health.SetServing(true)
	log.Printf("cdc-streamer: supervisor %s started", supervisor.QueryName())

	return shutdown.ListenForSignals(context.Background())
}
