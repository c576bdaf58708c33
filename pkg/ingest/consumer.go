package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// UploadEvent is the wire shape of one upload notification. Content is
// base64 in JSON.
type UploadEvent struct {
	TenantID    string   `json:"tenant_id"`
	OwnerID     string   `json:"owner_id"`
	URI         string   `json:"uri"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MimeType    string   `json:"mime_type"`
	Content     []byte   `json:"content"`
	Tags        []string `json:"tags,omitempty"`
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string

	// ConsumeFromStart begins at the earliest offset; useful for tests
	// and rebuilds.
	ConsumeFromStart bool

	Logger hclog.Logger
}

// Consumer consumes upload events and feeds them through the pipeline.
// Offsets are committed only after successful processing.
type Consumer struct {
	client   *kgo.Client
	pipeline *Pipeline
	log      hclog.Logger
	stopCh   chan struct{}
}

// NewConsumer creates a consumer bound to the pipeline.
func NewConsumer(pipeline *Pipeline, cfg ConsumerConfig) (*Consumer, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "quarry-ingest-workers"
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	offset := kgo.NewOffset().AtEnd()
	if cfg.ConsumeFromStart {
		offset = kgo.NewOffset().AtStart()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(offset),
		kgo.SessionTimeout(10*time.Second),
		kgo.RebalanceTimeout(30*time.Second),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxBytes(20<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Consumer{
		client:   client,
		pipeline: pipeline,
		log:      cfg.Logger.Named("ingest-consumer"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start runs the polling loop until Stop or context cancellation.
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("starting ingest consumer")

	for {
		select {
		case <-ctx.Done():
			c.log.Info("ingest consumer stopped by context")
			return ctx.Err()
		case <-c.stopCh:
			c.log.Info("ingest consumer stopped")
			return nil
		default:
			fetches := c.client.PollFetches(ctx)
			if errs := fetches.Errors(); len(errs) > 0 {
				for _, err := range errs {
					c.log.Error("kafka fetch error", "error", err.Err)
				}
				continue
			}

			fetches.EachPartition(func(p kgo.FetchTopicPartition) {
				if conflicted := c.handleRecords(ctx, p.Records, c.commitRecord); conflicted != nil {
					// The consume position has already moved past the
					// polled batch; rewind so the conflicted record and
					// everything after it is fetched again.
					c.rewindTo(conflicted)
				}
			})
		}
	}
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
		c.client.Close()
	}
}

// handleRecords processes one partition's records in order, committing
// each after it is handled. A lease conflict stops the batch and returns
// the conflicted record uncommitted so the caller can rewind to it; other
// failures are logged and committed to avoid poison-pill loops.
func (c *Consumer) handleRecords(ctx context.Context, records []*kgo.Record, commit func(context.Context, *kgo.Record) error) *kgo.Record {
	for _, record := range records {
		if err := c.processRecord(ctx, record); err != nil {
			if errors.Is(err, ErrConflict) {
				c.log.Debug("ingestion lease busy, rewinding partition",
					"partition", record.Partition,
					"offset", record.Offset)
				return record
			}
			c.log.Error("failed to process upload event",
				"partition", record.Partition,
				"offset", record.Offset,
				"error", err,
			)
		}

		if err := commit(ctx, record); err != nil {
			c.log.Warn("failed to commit kafka offset",
				"partition", record.Partition,
				"offset", record.Offset,
				"error", err)
		}
	}
	return nil
}

func (c *Consumer) commitRecord(ctx context.Context, record *kgo.Record) error {
	return c.client.CommitRecords(ctx, record)
}

// rewindTo moves the in-session consume position back to the given record
// so the next poll fetches it again.
func (c *Consumer) rewindTo(record *kgo.Record) {
	c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		record.Topic: {
			record.Partition: {
				Epoch:  record.LeaderEpoch,
				Offset: record.Offset,
			},
		},
	})
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	var event UploadEvent
	if err := json.Unmarshal(record.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal upload event: %w", err)
	}

	_, err := c.pipeline.Ingest(ctx, Request{
		TenantID:    event.TenantID,
		OwnerID:     event.OwnerID,
		URI:         event.URI,
		Name:        event.Name,
		Description: event.Description,
		MimeType:    event.MimeType,
		Bytes:       event.Content,
		Tags:        event.Tags,
	})
	return err
}
