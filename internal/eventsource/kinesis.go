package eventsource

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/arkilian/cdcflow/internal/eventsource/checkpoint"
)

// KinesisConfig binds the aws.region/aws.kinesis.endpointUrl/
// kinesis.reader.streamName config keys (spec §6) to a concrete source.
type KinesisConfig struct {
	Region          string
	EndpointURL     string // optional, for local/test endpoints
	StreamName      string
	AutoOffsetReset string // "earliest" or "latest" (default)
}

// KinesisSource polls a Kinesis stream's shards once per call, tracking a
// per-shard iterator across calls the way the supervisor's micro-batch tick
// expects rather than the teacher's continuous per-shard goroutine loop.
type KinesisSource struct {
	client     *kinesis.Client
	streamName string
	cfg        KinesisConfig

	shardIterators map[string]string
	lastSequence   map[string]string
}

// NewKinesisSource loads AWS config and opens a client, then seeds shard
// iterators according to cfg.AutoOffsetReset.
func NewKinesisSource(ctx context.Context, cfg KinesisConfig) (*KinesisSource, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventsource: load aws config: %w", err)
	}

	var clientOpts []func(*kinesis.Options)
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *kinesis.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	k := &KinesisSource{
		client:         kinesis.NewFromConfig(awsCfg, clientOpts...),
		streamName:     cfg.StreamName,
		cfg:            cfg,
		shardIterators: make(map[string]string),
		lastSequence:   make(map[string]string),
	}

	if err := k.seedIterators(ctx, nil); err != nil {
		return nil, err
	}
	return k, nil
}

// seedIterators describes the stream and requests an iterator for every
// shard. If positions is non-nil, shards with a committed position resume
// AFTER_SEQUENCE_NUMBER; others fall back to cfg.AutoOffsetReset.
func (k *KinesisSource) seedIterators(ctx context.Context, positions map[string]string) error {
	describeOutput, err := k.client.DescribeStream(ctx, &kinesis.DescribeStreamInput{
		StreamName: aws.String(k.streamName),
	})
	if err != nil {
		return fmt.Errorf("eventsource: describe stream %s: %w", k.streamName, err)
	}

	for _, shardDesc := range describeOutput.StreamDescription.Shards {
		shardID := aws.ToString(shardDesc.ShardId)

		input := &kinesis.GetShardIteratorInput{
			StreamName: aws.String(k.streamName),
			ShardId:    shardDesc.ShardId,
		}
		if seq, ok := positions[shardID]; ok {
			input.ShardIteratorType = types.ShardIteratorTypeAfterSequenceNumber
			input.StartingSequenceNumber = aws.String(seq)
		} else if k.cfg.AutoOffsetReset == "earliest" {
			input.ShardIteratorType = types.ShardIteratorTypeTrimHorizon
		} else {
			input.ShardIteratorType = types.ShardIteratorTypeLatest
		}

		iterOutput, err := k.client.GetShardIterator(ctx, input)
		if err != nil {
			return fmt.Errorf("eventsource: get shard iterator for %s: %w", shardID, err)
		}
		k.shardIterators[shardID] = aws.ToString(iterOutput.ShardIterator)
	}
	return nil
}

// Resume re-seeds iterators from committed checkpoint positions.
func (k *KinesisSource) Resume(ctx context.Context, positions []checkpoint.Position) error {
	byShard := make(map[string]string, len(positions))
	for _, p := range positions {
		byShard[p.ShardID] = p.SequenceNumber
	}
	k.shardIterators = make(map[string]string)
	return k.seedIterators(ctx, byShard)
}

// Poll fetches up to limit records from each known shard once. A closed
// shard (NextShardIterator nil) is dropped from future polls.
func (k *KinesisSource) Poll(ctx context.Context, limit int32) ([]Record, error) {
	var out []Record
	for shardID, iterator := range k.shardIterators {
		output, err := k.client.GetRecords(ctx, &kinesis.GetRecordsInput{
			ShardIterator: aws.String(iterator),
			Limit:         aws.Int32(limit),
		})
		if err != nil {
			return nil, fmt.Errorf("eventsource: get records from shard %s: %w", shardID, err)
		}

		for _, rec := range output.Records {
			out = append(out, Record{
				Data:              rec.Data,
				ShardID:           shardID,
				SequenceNumber:    aws.ToString(rec.SequenceNumber),
				ApproxArrivalTime: aws.ToTime(rec.ApproximateArrivalTimestamp),
			})
			k.lastSequence[shardID] = aws.ToString(rec.SequenceNumber)
		}

		if output.NextShardIterator == nil {
			delete(k.shardIterators, shardID)
			continue
		}
		k.shardIterators[shardID] = aws.ToString(output.NextShardIterator)
	}
	return out, nil
}

// Positions reports the latest sequence number this source has consumed per
// shard; Resume does not clear it.
func (k *KinesisSource) Positions() []checkpoint.Position {
	out := make([]checkpoint.Position, 0, len(k.lastSequence))
	for shardID, seq := range k.lastSequence {
		out = append(out, checkpoint.Position{ShardID: shardID, SequenceNumber: seq})
	}
	return out
}

// Close is a no-op; the AWS SDK v2 client needs no explicit teardown.
func (k *KinesisSource) Close() error {
	return nil
}
