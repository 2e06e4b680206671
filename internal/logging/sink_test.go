package logging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
)

type fakeRecordStore struct {
	mu      sync.Mutex
	batches [][]Record
}

func (f *fakeRecordStore) InsertLogRecords(ctx context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]Record, len(records))
	copy(batch, records)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeRecordStore) all() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func TestSinkNormalizeDefaults(t *testing.T) {
	s := NewSink(&fakeRecordStore{}, metrics.Get(), "development", 30)

	rec := s.normalize(Record{Message: "hello", Service: "api"})

	assert.Equal(t, "info", rec.Level)
	assert.Equal(t, "info", rec.Severity)
	assert.Equal(t, "development", rec.Environment)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, rec.Timestamp.AddDate(0, 0, 30), rec.RetentionDeadline)
}

func TestSinkSlowOperationHook(t *testing.T) {
	s := NewSink(&fakeRecordStore{}, metrics.Get(), "development", 30)

	rec := s.normalize(Record{
		Message:    "projects list",
		Level:      "info",
		DurationMs: 1500,
	})

	assert.Equal(t, "warn", rec.Level)
	assert.Equal(t, "medium", rec.Severity)
	assert.Equal(t, "performance", rec.Category)
}

func TestSinkFastOperationKeepsLevel(t *testing.T) {
	s := NewSink(&fakeRecordStore{}, metrics.Get(), "development", 30)

	rec := s.normalize(Record{Message: "ok", Level: "info", DurationMs: 900})

	assert.Equal(t, "info", rec.Level)
	assert.NotEqual(t, "performance", rec.Category)
}

func TestSinkDrainsOnShutdown(t *testing.T) {
	store := &fakeRecordStore{}
	s := NewSink(store, metrics.Get(), "development", 30)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	for i := 0; i < 10; i++ {
		s.Record(Record{Message: "entry", Service: "api"})
	}

	cancel()
	s.Wait()

	require.Len(t, store.all(), 10)
}

func TestSinkDropsWhenQueueFull(t *testing.T) {
	store := &fakeRecordStore{}
	s := NewSink(store, metrics.Get(), "development", 30)
	// Fill the queue without a consumer running.
	for i := 0; i < DefaultQueueCapacity; i++ {
		s.queue <- Record{}
	}

	// Must not block even though the queue is full.
	done := make(chan struct{})
	go func() {
		s.Record(Record{Message: "overflow"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}
