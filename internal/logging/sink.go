package logging

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
)

const (
	// DefaultQueueCapacity bounds the in-memory sink queue. Records beyond
	// this are dropped, never blocking the originating request.
	DefaultQueueCapacity = 10000

	flushInterval = 2 * time.Second
	maxBatchSize  = 200

	// slowOperationMs is the threshold above which an operation is tagged as
	// a performance concern.
	slowOperationMs = 1000
)

// Record is one structured application log entry bound for persistent storage.
type Record struct {
	Timestamp         time.Time
	Level             string // error | warn | info | debug
	Service           string
	Category          string
	Severity          string // critical | high | medium | low | info
	Message           string
	Details           string
	TraceID           string
	RequestID         string
	UserID            string
	Endpoint          string
	Method            string
	StatusCode        int
	DurationMs        int64
	ErrorCode         string
	StackTrace        string
	Context           map[string]interface{}
	Environment       string
	Host              string
	RetentionDeadline time.Time
}

// RecordStore persists batches of log records.
type RecordStore interface {
	InsertLogRecords(ctx context.Context, records []Record) error
}

// Sink queues log records and writes them to storage asynchronously.
// Writes are best-effort: a full queue drops the record and increments the
// drop counter, a storage failure is logged and the batch discarded.
type Sink struct {
	queue       chan Record
	store       RecordStore
	registry    *metrics.Registry
	environment string
	host        string
	defaultDays int

	closeOnce sync.Once
	done      chan struct{}
}

// NewSink creates a sink writing to store. retentionDays is the default
// retention applied to records at enqueue time.
func NewSink(store RecordStore, registry *metrics.Registry, environment string, retentionDays int) *Sink {
	host, _ := os.Hostname()
	return &Sink{
		queue:       make(chan Record, DefaultQueueCapacity),
		store:       store,
		registry:    registry,
		environment: environment,
		host:        host,
		defaultDays: retentionDays,
		done:        make(chan struct{}),
	}
}

// Record enqueues a log record. Never blocks and never fails the caller.
func (s *Sink) Record(rec Record) {
	rec = s.normalize(rec)

	select {
	case s.queue <- rec:
	default:
		s.registry.RecordSinkDrop()
	}
}

// normalize fills defaults and applies the slow-operation hook.
func (s *Sink) normalize(rec Record) Record {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Level == "" {
		rec.Level = "info"
	}
	if rec.Severity == "" {
		rec.Severity = "info"
	}
	if rec.Environment == "" {
		rec.Environment = s.environment
	}
	if rec.Host == "" {
		rec.Host = s.host
	}
	if rec.RetentionDeadline.IsZero() {
		rec.RetentionDeadline = rec.Timestamp.AddDate(0, 0, s.defaultDays)
	}

	// Slow operations are surfaced as performance warnings regardless of the
	// level the caller chose.
	if rec.DurationMs > slowOperationMs {
		rec.Level = "warn"
		rec.Severity = "medium"
		rec.Category = "performance"
	}

	rec.Level = strings.ToLower(rec.Level)
	return rec
}

// Run consumes the queue until ctx is cancelled, then drains what is left.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, maxBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.store.InsertLogRecords(writeCtx, batch); err != nil {
			log.Error().Err(err).Int("records", len(batch)).Msg("Log sink write failed, dropping batch")
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= maxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// Drain whatever is already queued, then stop.
			for {
				select {
				case rec := <-s.queue:
					batch = append(batch, rec)
					if len(batch) >= maxBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Wait blocks until the run loop has exited.
func (s *Sink) Wait() {
	<-s.done
}

// QueueDepth reports the current number of queued records.
func (s *Sink) QueueDepth() int {
	return len(s.queue)
}
