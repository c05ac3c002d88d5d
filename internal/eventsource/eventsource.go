// Package eventsource implements the streaming input side of
// TableStreamingSupervisor (spec §4.7): a poll-based EventSource abstraction
// plus a Kinesis adapter and a murmur3-sharded checkpoint store. Grounded on
// the redb-open stream service's Kinesis adapter
// (internal/adapter/kinesis/{adapter,consumer,admin}.go), adapted from its
// goroutine-per-shard continuous Consume loop to a single-poll-per-tick
// shape that fits a micro-batch supervisor driven by
// kinesis.reader.batchDurationSeconds rather than a free-running consumer.
package eventsource

import (
	"context"
	"time"

	"github.com/arkilian/cdcflow/internal/eventsource/checkpoint"
)

// Record is one undecoded event read from a source shard, with enough
// positional metadata to checkpoint past it.
type Record struct {
	Data              []byte
	ShardID           string
	SequenceNumber    string
	ApproxArrivalTime time.Time
}

// Source is the interface TableStreamingSupervisor polls once per
// micro-batch tick.
type Source interface {
	// Poll fetches up to limit records per shard since the last Poll or
	// Resume call.
	Poll(ctx context.Context, limit int32) ([]Record, error)
	// Positions reports the latest sequence number consumed per shard, for
	// the supervisor to pass to the checkpoint store after a batch commits.
	Positions() []checkpoint.Position
	// Resume re-seeds shard iterators from previously committed positions.
	// Shards with no prior position start from the source's default
	// (earliest/latest) policy.
	Resume(ctx context.Context, positions []checkpoint.Position) error
	Close() error
}
