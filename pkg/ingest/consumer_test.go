package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/quarrylabs/quarry/pkg/llm"
)

func newTestConsumer(p *Pipeline) *Consumer {
	return &Consumer{
		pipeline: p,
		log:      hclog.NewNullLogger(),
		stopCh:   make(chan struct{}),
	}
}

func uploadRecord(t *testing.T, offset int64, event UploadEvent) *kgo.Record {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return &kgo.Record{
		Topic:  "uploads",
		Value:  value,
		Offset: offset,
	}
}

func TestHandleRecords_ProcessesAndCommitsInOrder(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, nil, &llm.MockGenerator{})
	c := newTestConsumer(p)
	ctx := context.Background()

	records := []*kgo.Record{
		uploadRecord(t, 0, UploadEvent{
			TenantID: "tenant-a", OwnerID: "user-1",
			URI: "s3://docs/a.txt", Name: "a.txt",
			MimeType: "text/plain", Content: []byte("alpha"),
		}),
		uploadRecord(t, 1, UploadEvent{
			TenantID: "tenant-a", OwnerID: "user-1",
			URI: "s3://docs/b.txt", Name: "b.txt",
			MimeType: "text/plain", Content: []byte("beta"),
		}),
	}

	var committed []int64
	conflicted := c.handleRecords(ctx, records, func(_ context.Context, r *kgo.Record) error {
		committed = append(committed, r.Offset)
		return nil
	})

	assert.Nil(t, conflicted)
	assert.Equal(t, []int64{0, 1}, committed)

	for _, uri := range []string{"s3://docs/a.txt", "s3://docs/b.txt"} {
		_, err := st.GetByURI(ctx, "tenant-a", uri)
		assert.NoError(t, err, uri)
	}
}

func TestHandleRecords_CommitsMalformedEvents(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, nil, &llm.MockGenerator{})
	c := newTestConsumer(p)

	records := []*kgo.Record{
		{Topic: "uploads", Offset: 7, Value: []byte("{not json")},
	}

	var committed []int64
	conflicted := c.handleRecords(context.Background(), records, func(_ context.Context, r *kgo.Record) error {
		committed = append(committed, r.Offset)
		return nil
	})

	// Poison pills are committed, never retried.
	assert.Nil(t, conflicted)
	assert.Equal(t, []int64{7}, committed)
}

func TestHandleRecords_ConflictStopsBatchUncommitted(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, nil, &llm.MockGenerator{})
	c := newTestConsumer(p)
	ctx := context.Background()

	require.True(t, p.acquireLease("tenant-a", "s3://docs/busy.txt"))
	defer p.releaseLease("tenant-a", "s3://docs/busy.txt")

	records := []*kgo.Record{
		uploadRecord(t, 4, UploadEvent{
			TenantID: "tenant-a", OwnerID: "user-1",
			URI: "s3://docs/busy.txt", Name: "busy.txt",
			MimeType: "text/plain", Content: []byte("held"),
		}),
		uploadRecord(t, 5, UploadEvent{
			TenantID: "tenant-a", OwnerID: "user-1",
			URI: "s3://docs/after.txt", Name: "after.txt",
			MimeType: "text/plain", Content: []byte("after"),
		}),
	}

	var committed []int64
	conflicted := c.handleRecords(ctx, records, func(_ context.Context, r *kgo.Record) error {
		committed = append(committed, r.Offset)
		return nil
	})

	// The conflicted record is handed back for a rewind; neither it nor
	// anything after it in the batch is committed or processed.
	require.NotNil(t, conflicted)
	assert.Equal(t, int64(4), conflicted.Offset)
	assert.Empty(t, committed)

	_, err := st.GetByURI(ctx, "tenant-a", "s3://docs/after.txt")
	assert.Error(t, err)
}
