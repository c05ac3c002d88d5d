// Package streaming implements TableStreamingSupervisor (spec §4.7): one
// supervisor per source table, driving EventSource → decode → RawWrite →
// structured-load/structured-cdc → DomainRefreshEngine → checkpoint commit
// on a fixed micro-batch tick. Grounded on internal/compaction/daemon.go's
// Start/Stop/ticker-loop shape (mutex-guarded running flag, cancel func,
// done channel, immediate run-once-then-tick loop) — its compaction-specific
// body (candidate finding, SQLite partition merge, garbage collection) has
// no analogue here and is not reused, only the lifecycle skeleton.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/arkilian/cdcflow/internal/domain"
	"github.com/arkilian/cdcflow/internal/eventsource"
	"github.com/arkilian/cdcflow/internal/eventsource/checkpoint"
	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/zone"
)

// registry enforces "exactly one supervisor instance per (jobTag, source,
// table) per process" (spec §4.7 contract) across the whole program.
var (
	registryMu sync.Mutex
	registry   = make(map[string]bool)
)

// Config bundles one supervisor's identity and collaborators.
type Config struct {
	JobTag string
	Source string
	Table  string

	CheckpointRoot string
	TickInterval   time.Duration

	EventSource eventsource.Source
	Checkpoints *checkpoint.Store
	Pipeline    *zone.Pipeline
	Domain      *domain.Engine // nil if no domain tables derive from this source table
}

// Supervisor owns one source table's streaming ingestion loop.
type Supervisor struct {
	cfg              Config
	queryName        string
	checkpointPrefix string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Supervisor. It does not start the loop; call Start.
func New(cfg Config) *Supervisor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	queryName := fmt.Sprintf("%s %s.%s", cfg.JobTag, cfg.Source, cfg.Table)
	return &Supervisor{
		cfg:              cfg,
		queryName:        queryName,
		checkpointPrefix: fmt.Sprintf("%s/%s/%s", cfg.CheckpointRoot, cfg.JobTag, queryName),
	}
}

// QueryName returns the supervisor's stable query identity.
func (s *Supervisor) QueryName() string { return s.queryName }

// CheckpointPrefix returns the supervisor's stable checkpoint path. Moving
// it resets delivery (spec §4.7).
func (s *Supervisor) CheckpointPrefix() string { return s.checkpointPrefix }

// Start begins the micro-batch loop. Restarting against the same checkpoint
// prefix resumes from the last committed offset (spec §4.7's idempotent
// restart contract): Start always Resumes from Checkpoints.Load before
// polling.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("streaming: supervisor %s is already running", s.queryName)
	}
	if !claim(s.queryName) {
		s.mu.Unlock()
		return fmt.Errorf("streaming: another supervisor instance for %s is already running in this process", s.queryName)
	}

	positions, err := s.cfg.Checkpoints.Load(ctx, s.queryName)
	if err != nil {
		release(s.queryName)
		s.mu.Unlock()
		return fmt.Errorf("streaming: load checkpoint for %s: %w", s.queryName, err)
	}
	if len(positions) > 0 {
		if err := s.cfg.EventSource.Resume(ctx, positions); err != nil {
			release(s.queryName)
			s.mu.Unlock()
			return fmt.Errorf("streaming: resume %s from checkpoint: %w", s.queryName, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Stop is cooperative: it requests the loop to cease and waits for the
// in-flight batch to settle (spec §4.7).
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.cancel()
	<-s.done
	s.running = false
	release(s.queryName)
	return nil
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick polls the source once, applies the full micro-batch (decode → raw
// write → structured-load/structured-cdc → domain refresh), and commits the
// checkpoint. An infrastructure failure from the source is logged and the
// batch is skipped; the loop retries on the next tick rather than aborting,
// since GetRecords-class failures are typically transient throttling.
func (s *Supervisor) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	records, err := s.cfg.EventSource.Poll(ctx, 500)
	if err != nil {
		log.Printf("streaming: %s: poll failed: %v", s.queryName, err)
		return
	}
	if len(records) == 0 {
		return
	}

	var loadRows []zone.RawRecord
	var cdcRows []model.Event
	var warnings []error

	for _, rec := range records {
		env, err := parseEnvelope(rec.Data)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("decode record from shard %s: %w", rec.ShardID, err))
			continue
		}
		op, err := parseOperationName(env.Op)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("decode record from shard %s: %w", rec.ShardID, err))
			continue
		}

		rawEvent, err := envelopeEvent(env, s.cfg.Source, s.cfg.Table, op, rec.ApproxArrivalTime)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("decode record from shard %s: %w", rec.ShardID, err))
			continue
		}
		if err := s.cfg.Pipeline.RawWrite(ctx, s.cfg.Source, s.cfg.Table, op, []model.Event{rawEvent}); err != nil {
			log.Printf("streaming: %s: raw write failed: %v", s.queryName, err)
			return // infrastructure failure: abort the batch, retry next tick
		}

		if op == model.OperationLoad {
			loadRows = append(loadRows, zone.RawRecord{
				Data:      string(env.Data),
				Source:    s.cfg.Source,
				Table:     s.cfg.Table,
				Operation: op,
			})
			continue
		}
		cdcRows = append(cdcRows, rawEvent)
	}

	if len(loadRows) > 0 {
		if err := s.cfg.Pipeline.StructuredLoad(ctx, s.cfg.Source, s.cfg.Table, loadRows); err != nil {
			log.Printf("streaming: %s: structured-load failed: %v", s.queryName, err)
			return
		}
	}
	if len(cdcRows) > 0 {
		if err := s.cfg.Pipeline.StructuredCDC(ctx, s.cfg.Source, s.cfg.Table, cdcRows); err != nil {
			log.Printf("streaming: %s: structured-cdc failed: %v", s.queryName, err)
			return
		}
		if s.cfg.Domain != nil {
			warnings = append(warnings, s.cfg.Domain.Refresh(ctx, s.cfg.Source, s.cfg.Table, cdcRows)...)
		}
	}

	for _, w := range warnings {
		log.Printf("streaming: %s: batch warning: %v", s.queryName, w)
	}

	if err := s.cfg.Checkpoints.Commit(ctx, s.queryName, s.cfg.EventSource.Positions()); err != nil {
		log.Printf("streaming: %s: checkpoint commit failed: %v", s.queryName, err)
	}
}

// envelope is the wire shape the supervisor expects from its EventSource:
// an operation tag, and the row's data as a JSON object.
type envelope struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("streaming: invalid envelope: %w", err)
	}
	return env, nil
}

func parseOperationName(name string) (model.Operation, error) {
	switch strings.ToUpper(name) {
	case "LOAD":
		return model.OperationLoad, nil
	case "INSERT":
		return model.OperationInsert, nil
	case "UPDATE":
		return model.OperationUpdate, nil
	case "DELETE":
		return model.OperationDelete, nil
	default:
		return model.OperationUnknown, fmt.Errorf("streaming: unrecognised operation %q", name)
	}
}

func envelopeEvent(env envelope, source, table string, op model.Operation, arrivalTime time.Time) (model.Event, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return model.Event{}, fmt.Errorf("streaming: invalid row payload: %w", err)
	}
	return model.Event{
		Data:      payload,
		Source:    source,
		Table:     table,
		Operation: op,
		CommitTS:  arrivalTime,
	}, nil
}

func claim(queryName string) bool {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry[queryName] {
		return false
	}
	registry[queryName] = true
	return true
}

func release(queryName string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, queryName)
}
