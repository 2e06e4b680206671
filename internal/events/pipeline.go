package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

// MirrorStore persists mirrored events and dead letters.
type MirrorStore interface {
	InsertMirror(ctx context.Context, topic string, payload map[string]interface{}, receivedAt time.Time) error
	InsertDLQ(ctx context.Context, event models.DLQEvent) error
	ListMirror(ctx context.Context, filter MirrorFilter) ([]models.EventMirror, error)
	ListDLQ(ctx context.Context, limit, offset int) ([]models.DLQEvent, error)
}

// Publisher sends messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
}

// Pipeline consumes bus messages and mirrors them durably.
type Pipeline struct {
	store    MirrorStore
	pub      Publisher
	registry *metrics.Registry
	dedupe   *Deduper
	source   string
	now      func() time.Time
}

// NewPipeline wires the ingest pipeline. source identifies this service in
// published envelopes.
func NewPipeline(store MirrorStore, pub Publisher, registry *metrics.Registry, source string) *Pipeline {
	return &Pipeline{
		store:    store,
		pub:      pub,
		registry: registry,
		dedupe:   NewDeduper(),
		source:   source,
		now:      time.Now,
	}
}

// Handle processes one delivered message. A nil return acks; an error leaves
// the message unacked for broker redelivery.
func (p *Pipeline) Handle(ctx context.Context, topic string, raw []byte) error {
	start := p.now()
	receivedAt := start.UTC()

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.deadLetter(ctx, topic, "unparseable payload", raw, receivedAt)
		p.registry.RecordDLQ(topic, "parse_error")
		log.Warn().Str("topic", topic).Err(err).Msg("Unparseable event payload dead-lettered")
		return nil
	}

	traceID, _ := payload["trace_id"].(string)
	if traceID == "" {
		traceID = uuid.NewString()
		payload["trace_id"] = traceID
	}

	kind := extractKind(payload)

	messageID, _ := payload["message_id"].(string)
	if messageID != "" && p.dedupe.Seen(topic, messageID) {
		log.Debug().Str("topic", topic).Str("message_id", messageID).Msg("Duplicate event acked without re-insert")
		return nil
	}

	if err := p.store.InsertMirror(ctx, topic, payload, receivedAt); err != nil {
		p.deadLetter(ctx, topic, err.Error(), raw, receivedAt)
		p.registry.RecordDLQ(topic, "db_error")
		log.Error().Str("topic", topic).Str("trace_id", traceID).Err(err).
			Msg("Event mirror insert failed, message left for redelivery")
		return err
	}

	// Only a mirrored event suppresses its duplicates; a nacked message must
	// still insert on redelivery.
	if messageID != "" {
		p.dedupe.Mark(topic, messageID)
	}

	p.registry.RecordIngest(topic, kind)
	p.registry.ObserveEventLatency(time.Since(start))
	log.Debug().Str("topic", topic).Str("kind", kind).Str("trace_id", traceID).Msg("Event mirrored")
	return nil
}

func (p *Pipeline) deadLetter(ctx context.Context, topic, reason string, raw []byte, receivedAt time.Time) {
	event := models.DLQEvent{
		ID:            uuid.NewString(),
		OriginalTopic: topic,
		FailureReason: reason,
		Payload:       raw,
		ReceivedAt:    receivedAt,
	}
	if err := p.store.InsertDLQ(ctx, event); err != nil {
		log.Error().Str("topic", topic).Err(err).Msg("DLQ insert failed, event lost to durable capture")
	}
}

func extractKind(payload map[string]interface{}) string {
	if kind, ok := payload["kind"].(string); ok && kind != "" {
		return kind
	}
	if kind, ok := payload["event_type"].(string); ok && kind != "" {
		return kind
	}
	return "unknown"
}

// envelopeVersion is stamped on every published payload.
const envelopeVersion = "1.0.0"

// Publish wraps data in the standard envelope and publishes at qos 1. The
// pipeline re-ingests its own messages through the broker.
func (p *Pipeline) Publish(ctx context.Context, topic, kind string, data map[string]interface{}) (string, error) {
	traceID := uuid.NewString()

	envelope := map[string]interface{}{
		"trace_id":   traceID,
		"event_type": kind,
		"kind":       kind,
		"timestamp":  p.now().UTC().Format(time.RFC3339Nano),
		"source":     p.source,
		"version":    envelopeVersion,
		"message_id": uuid.NewString(),
	}
	if data != nil {
		envelope["data"] = data
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}

	if err := p.pub.Publish(ctx, topic, raw, 1); err != nil {
		return "", err
	}
	return traceID, nil
}

// MirrorFilter selects mirrored events for inspection.
type MirrorFilter struct {
	Topic  string
	Kind   string
	Limit  int
	Offset int
}

// normalize clamps pagination to the 50-default, 1000-max contract.
func (f MirrorFilter) normalize() MirrorFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ListMirror returns mirrored events, newest sequence first.
func (p *Pipeline) ListMirror(ctx context.Context, filter MirrorFilter) ([]models.EventMirror, error) {
	return p.store.ListMirror(ctx, filter.normalize())
}

// ListDLQ returns dead-lettered events, newest first.
func (p *Pipeline) ListDLQ(ctx context.Context, limit, offset int) ([]models.DLQEvent, error) {
	f := MirrorFilter{Limit: limit, Offset: offset}.normalize()
	return p.store.ListDLQ(ctx, f.Limit, f.Offset)
}
