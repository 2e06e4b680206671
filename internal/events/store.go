package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/storage"
)

// PGStore implements MirrorStore on PostgreSQL.
type PGStore struct {
	db *storage.Store
}

// NewPGStore wires the events_mirror and dlq_events tables.
func NewPGStore(db *storage.Store) *PGStore {
	return &PGStore{db: db}
}

// InsertMirror appends one mirrored event. The sequence is DB-assigned and
// trace_id is a generated projection of the payload, so only topic, payload,
// and received_at are written.
func (s *PGStore) InsertMirror(ctx context.Context, topic string, payload map[string]interface{}, receivedAt time.Time) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO events_mirror (topic, payload, received_at)
			VALUES ($1, $2, $3)`, topic, payload, receivedAt)
		if err != nil {
			return platformerrors.Internal("events.store.mirror", err)
		}
		return nil
	})
}

// InsertDLQ appends one dead letter.
func (s *PGStore) InsertDLQ(ctx context.Context, event models.DLQEvent) error {
	_, err := s.db.Execute(ctx, `
		INSERT INTO dlq_events (id, original_topic, failure_reason, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.OriginalTopic, event.FailureReason, event.Payload, event.ReceivedAt)
	return err
}

// ListMirror returns mirrored events by descending sequence with optional
// topic and kind filters.
func (s *PGStore) ListMirror(ctx context.Context, filter MirrorFilter) ([]models.EventMirror, error) {
	query := `SELECT sequence, topic, payload, received_at, COALESCE(trace_id, '')
		FROM events_mirror WHERE 1=1`
	args := []interface{}{}

	if filter.Topic != "" {
		args = append(args, filter.Topic)
		query += fmt.Sprintf(" AND topic = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND payload->>'kind' = $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.FetchRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.EventMirror{}
	for rows.Next() {
		var e models.EventMirror
		if err := rows.Scan(&e.Sequence, &e.Topic, &e.Payload, &e.ReceivedAt, &e.TraceID); err != nil {
			return nil, platformerrors.Internal("events.store.list", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListDLQ returns dead letters, newest first.
func (s *PGStore) ListDLQ(ctx context.Context, limit, offset int) ([]models.DLQEvent, error) {
	rows, err := s.db.FetchRows(ctx, `
		SELECT id, original_topic, failure_reason, payload, received_at
		FROM dlq_events ORDER BY received_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.DLQEvent{}
	for rows.Next() {
		var e models.DLQEvent
		if err := rows.Scan(&e.ID, &e.OriginalTopic, &e.FailureReason, &e.Payload, &e.ReceivedAt); err != nil {
			return nil, platformerrors.Internal("events.store.dlq", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
