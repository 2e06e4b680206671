package logging

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/storage"
)

// PGStore implements RecordStore and PolicyStore on PostgreSQL, plus the
// query surface behind the logs API.
type PGStore struct {
	db *storage.Store
}

// NewPGStore wires the application_logs tables.
func NewPGStore(db *storage.Store) *PGStore {
	return &PGStore{db: db}
}

// InsertLogRecords writes one batch inside a transaction.
func (s *PGStore) InsertLogRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, r := range records {
			_, err := tx.Exec(ctx, `
				INSERT INTO application_logs (timestamp, level, service, category, severity,
					message, details, trace_id, request_id, user_id, endpoint, method,
					status_code, duration_ms, error_code, stack_trace, context,
					environment, host, retention_deadline)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
				r.Timestamp, r.Level, r.Service, r.Category, r.Severity,
				r.Message, r.Details, r.TraceID, r.RequestID, r.UserID, r.Endpoint, r.Method,
				nullableInt(r.StatusCode), nullableInt64(r.DurationMs), r.ErrorCode, r.StackTrace,
				contextOrEmpty(r.Context), r.Environment, r.Host, r.RetentionDeadline)
			if err != nil {
				return platformerrors.Internal("logging.store.insert", err)
			}
		}
		return nil
	})
}

// ListRetentionPolicies returns every configured policy.
func (s *PGStore) ListRetentionPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := s.db.FetchRows(ctx,
		`SELECT service, level, retention_days FROM log_retention_policies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policies := []Policy{}
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.Service, &p.Level, &p.RetentionDays); err != nil {
			return nil, platformerrors.Internal("logging.store.policies", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// DeleteLogsBefore removes rows matching the selector older than cutoff.
func (s *PGStore) DeleteLogsBefore(ctx context.Context, service, level string, cutoff time.Time) (int64, error) {
	query := `DELETE FROM application_logs WHERE timestamp < $1`
	args := []interface{}{cutoff}

	if service != "" {
		args = append(args, service)
		query += fmt.Sprintf(" AND service = $%d", len(args))
	}
	if level != "" {
		args = append(args, level)
		query += fmt.Sprintf(" AND level = $%d", len(args))
	}

	return s.db.Execute(ctx, query, args...)
}

// DeleteUnpoliciedLogsBefore removes old rows not covered by any retention
// policy. Policied rows keep their own windows.
func (s *PGStore) DeleteUnpoliciedLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.db.Execute(ctx, `
		DELETE FROM application_logs l
		WHERE l.timestamp < $1
		  AND NOT EXISTS (
			SELECT 1 FROM log_retention_policies p
			WHERE (p.service = l.service OR p.service = 'ALL')
			  AND (p.level = l.level OR p.level = 'ALL')
		  )`, cutoff)
}

// LogEntry is one persisted application log row.
type LogEntry struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Level       string                 `json:"level"`
	Service     string                 `json:"service"`
	Category    string                 `json:"category,omitempty"`
	Severity    string                 `json:"severity"`
	Message     string                 `json:"message"`
	Details     string                 `json:"details,omitempty"`
	TraceID     string                 `json:"trace_id,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Endpoint    string                 `json:"endpoint,omitempty"`
	Method      string                 `json:"method,omitempty"`
	StatusCode  *int                   `json:"status_code,omitempty"`
	DurationMs  *int64                 `json:"duration_ms,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Environment string                 `json:"environment"`
	Host        string                 `json:"host,omitempty"`
}

// QueryFilter selects a page of log entries.
type QueryFilter struct {
	Level    string
	Service  string
	Category string
	Search   string
	Start    *time.Time
	End      *time.Time
	Limit    int
	Offset   int
}

func (f QueryFilter) normalize() QueryFilter {
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

// Query returns matching entries newest first plus the filtered total.
func (s *PGStore) Query(ctx context.Context, filter QueryFilter) ([]LogEntry, int, error) {
	filter = filter.normalize()

	where := " WHERE 1=1"
	args := []interface{}{}
	and := func(clause string, value interface{}) {
		args = append(args, value)
		where += fmt.Sprintf(" AND "+clause, len(args))
	}

	if filter.Level != "" {
		and("level = $%d", filter.Level)
	}
	if filter.Service != "" {
		and("service = $%d", filter.Service)
	}
	if filter.Category != "" {
		and("category = $%d", filter.Category)
	}
	if filter.Search != "" {
		and("message ILIKE $%d", "%"+filter.Search+"%")
	}
	if filter.Start != nil {
		and("timestamp >= $%d", *filter.Start)
	}
	if filter.End != nil {
		and("timestamp <= $%d", *filter.End)
	}

	var total int
	if err := s.db.FetchRow(ctx, `SELECT COUNT(*) FROM application_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, platformerrors.Internal("logging.store.query", err)
	}

	args = append(args, filter.Limit)
	limitPos := len(args)
	args = append(args, filter.Offset)

	rows, err := s.db.FetchRows(ctx, fmt.Sprintf(`
		SELECT id, timestamp, level, service, COALESCE(category, ''), severity, message,
			COALESCE(details, ''), COALESCE(trace_id, ''), COALESCE(request_id, ''),
			COALESCE(user_id, ''), COALESCE(endpoint, ''), COALESCE(method, ''),
			status_code, duration_ms, COALESCE(error_code, ''), context, environment,
			COALESCE(host, '')
		FROM application_logs%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		where, limitPos, limitPos+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Service, &e.Category,
			&e.Severity, &e.Message, &e.Details, &e.TraceID, &e.RequestID, &e.UserID,
			&e.Endpoint, &e.Method, &e.StatusCode, &e.DurationMs, &e.ErrorCode,
			&e.Context, &e.Environment, &e.Host); err != nil {
			return nil, 0, platformerrors.Internal("logging.store.query", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Stats summarizes log volume over a trailing window.
type Stats struct {
	WindowHours int            `json:"window_hours"`
	Total       int            `json:"total"`
	ByLevel     map[string]int `json:"by_level"`
	ByService   map[string]int `json:"by_service"`
	ErrorCount  int            `json:"error_count"`
}

// QueryStats aggregates the trailing hours of logs.
func (s *PGStore) QueryStats(ctx context.Context, hours int) (*Stats, error) {
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	stats := &Stats{
		WindowHours: hours,
		ByLevel:     map[string]int{},
		ByService:   map[string]int{},
	}

	rows, err := s.db.FetchRows(ctx, `
		SELECT level, service, COUNT(*)
		FROM application_logs WHERE timestamp >= $1
		GROUP BY level, service`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var level, service string
		var count int
		if err := rows.Scan(&level, &service, &count); err != nil {
			return nil, platformerrors.Internal("logging.store.stats", err)
		}
		stats.Total += count
		stats.ByLevel[level] += count
		stats.ByService[service] += count
		if level == "error" {
			stats.ErrorCount += count
		}
	}
	return stats, rows.Err()
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullableInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func contextOrEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
