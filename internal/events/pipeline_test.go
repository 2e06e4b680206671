package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

type fakeMirrorStore struct {
	mirrored  []models.EventMirror
	dlq       []models.DLQEvent
	mirrorErr error
	dlqErr    error
}

func (f *fakeMirrorStore) InsertMirror(_ context.Context, topic string, payload map[string]interface{}, receivedAt time.Time) error {
	if f.mirrorErr != nil {
		return f.mirrorErr
	}
	f.mirrored = append(f.mirrored, models.EventMirror{
		Sequence:   int64(len(f.mirrored) + 1),
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: receivedAt,
	})
	return nil
}

func (f *fakeMirrorStore) InsertDLQ(_ context.Context, event models.DLQEvent) error {
	if f.dlqErr != nil {
		return f.dlqErr
	}
	f.dlq = append(f.dlq, event)
	return nil
}

func (f *fakeMirrorStore) ListMirror(_ context.Context, filter MirrorFilter) ([]models.EventMirror, error) {
	return f.mirrored, nil
}

func (f *fakeMirrorStore) ListDLQ(_ context.Context, limit, offset int) ([]models.DLQEvent, error) {
	return f.dlq, nil
}

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte, qos byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

func newTestPipeline(store *fakeMirrorStore, pub *fakePublisher) *Pipeline {
	return NewPipeline(store, pub, metrics.Get(), "taylordash-test")
}

func TestHandleMirrorsValidEvent(t *testing.T) {
	store := &fakeMirrorStore{}
	p := newTestPipeline(store, &fakePublisher{})

	payload := []byte(`{"kind":"test.hello","trace_id":"abc-123","data":{"x":1}}`)
	err := p.Handle(context.Background(), "tracker/events/test/hello", payload)
	require.NoError(t, err)

	require.Len(t, store.mirrored, 1)
	assert.Equal(t, "tracker/events/test/hello", store.mirrored[0].Topic)
	assert.Equal(t, "abc-123", store.mirrored[0].Payload["trace_id"])
	assert.Empty(t, store.dlq)
}

func TestHandleGeneratesTraceID(t *testing.T) {
	store := &fakeMirrorStore{}
	p := newTestPipeline(store, &fakePublisher{})

	err := p.Handle(context.Background(), "tracker/events/test", []byte(`{"kind":"test"}`))
	require.NoError(t, err)

	require.Len(t, store.mirrored, 1)
	traceID, _ := store.mirrored[0].Payload["trace_id"].(string)
	assert.NotEmpty(t, traceID)
}

func TestHandleUnparseablePayloadGoesToDLQAndAcks(t *testing.T) {
	store := &fakeMirrorStore{}
	p := newTestPipeline(store, &fakePublisher{})

	err := p.Handle(context.Background(), "tracker/events/bad", []byte(`{not json`))
	assert.NoError(t, err, "parse failures must ack")

	assert.Empty(t, store.mirrored)
	require.Len(t, store.dlq, 1)
	assert.Equal(t, "unparseable payload", store.dlq[0].FailureReason)
	assert.Equal(t, []byte(`{not json`), store.dlq[0].Payload)
}

func TestHandleDBFailureGoesToDLQAndNacks(t *testing.T) {
	store := &fakeMirrorStore{mirrorErr: errors.New("connection refused")}
	p := newTestPipeline(store, &fakePublisher{})

	err := p.Handle(context.Background(), "tracker/events/test", []byte(`{"kind":"test"}`))
	assert.Error(t, err, "db failures must leave the message for redelivery")

	require.Len(t, store.dlq, 1)
	assert.Equal(t, "connection refused", store.dlq[0].FailureReason)
}

func TestHandleDeduplicatesByMessageID(t *testing.T) {
	store := &fakeMirrorStore{}
	p := newTestPipeline(store, &fakePublisher{})

	payload := []byte(`{"kind":"test","message_id":"m-1"}`)
	require.NoError(t, p.Handle(context.Background(), "tracker/events/test", payload))
	require.NoError(t, p.Handle(context.Background(), "tracker/events/test", payload))

	assert.Len(t, store.mirrored, 1, "duplicate must be acked without re-insert")
	assert.Empty(t, store.dlq)
}

func TestHandleRedeliveryAfterDBFailureStillMirrors(t *testing.T) {
	store := &fakeMirrorStore{mirrorErr: errors.New("connection refused")}
	p := newTestPipeline(store, &fakePublisher{})

	payload := []byte(`{"kind":"test","message_id":"m-1"}`)
	err := p.Handle(context.Background(), "tracker/events/test", payload)
	require.Error(t, err, "insert failure must nack")
	assert.Empty(t, store.mirrored)

	// broker redelivers once the store recovers
	store.mirrorErr = nil
	require.NoError(t, p.Handle(context.Background(), "tracker/events/test", payload))
	assert.Len(t, store.mirrored, 1, "redelivered message must not be suppressed by its failed attempt")

	// and the successful insert now suppresses further duplicates
	require.NoError(t, p.Handle(context.Background(), "tracker/events/test", payload))
	assert.Len(t, store.mirrored, 1)
}

func TestHandleNoMessageIDNeverDeduplicates(t *testing.T) {
	store := &fakeMirrorStore{}
	p := newTestPipeline(store, &fakePublisher{})

	payload := []byte(`{"kind":"test"}`)
	require.NoError(t, p.Handle(context.Background(), "tracker/events/test", payload))
	require.NoError(t, p.Handle(context.Background(), "tracker/events/test", payload))

	assert.Len(t, store.mirrored, 2)
}

func TestPublishWrapsEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(&fakeMirrorStore{}, pub)

	traceID, err := p.Publish(context.Background(), "tracker/events/test/hello", "test.hello",
		map[string]interface{}{"x": float64(1)})
	require.NoError(t, err)
	assert.NotEmpty(t, traceID)

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "tracker/events/test/hello", pub.topics[0])

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.payloads[0], &envelope))
	assert.Equal(t, traceID, envelope["trace_id"])
	assert.Equal(t, "test.hello", envelope["event_type"])
	assert.Equal(t, "test.hello", envelope["kind"])
	assert.Equal(t, "taylordash-test", envelope["source"])
	assert.Equal(t, envelopeVersion, envelope["version"])
	assert.NotEmpty(t, envelope["message_id"])
	assert.NotEmpty(t, envelope["timestamp"])
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, envelope["data"])
}

func TestPublishPropagatesBrokerError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	p := newTestPipeline(&fakeMirrorStore{}, pub)

	_, err := p.Publish(context.Background(), "t", "k", nil)
	assert.Error(t, err)
}

func TestMirrorFilterNormalize(t *testing.T) {
	assert.Equal(t, MirrorFilter{Limit: 50}, MirrorFilter{}.normalize())
	assert.Equal(t, MirrorFilter{Limit: 1000}, MirrorFilter{Limit: 5000}.normalize())
	assert.Equal(t, MirrorFilter{Limit: 50}, MirrorFilter{Offset: -1}.normalize())
	assert.Equal(t, MirrorFilter{Limit: 10, Offset: 20}, MirrorFilter{Limit: 10, Offset: 20}.normalize())
}
