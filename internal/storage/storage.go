// Package storage provides the PostgreSQL connection pool and transaction
// helpers used by every service.
package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
)

const (
	openRetries = 10

	// acquireTimeout caps how long a caller waits for a pooled connection
	// before the request is failed as resource-busy.
	acquireTimeout = 10 * time.Second
)

// Store wraps the connection pool.
type Store struct {
	pool     *pgxpool.Pool
	registry *metrics.Registry
}

// Open connects to the database, retrying with linear backoff before giving
// up. Retry n waits n seconds, capped at 10.
func Open(ctx context.Context, url string, minConns, maxConns int32, registry *metrics.Registry) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MinConns = minConns
	cfg.MaxConns = maxConns

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= openRetries; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}

		if attempt == openRetries {
			return nil, fmt.Errorf("connect to database after %d attempts: %w", openRetries, err)
		}

		backoff := time.Duration(attempt) * time.Second
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
			Msg("Database connection failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &Store{pool: pool, registry: registry}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for repository constructors.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Execute runs a statement and returns the affected row count.
func (s *Store) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, args...)
	s.observeQuery(query, start)
	if err != nil {
		return 0, translateError("storage.execute", err)
	}
	return tag.RowsAffected(), nil
}

// FetchRow runs a query expected to return at most one row. pgx defers
// execution to Scan, so the duration is observed there.
func (s *Store) FetchRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	start := time.Now()
	return timedRow{
		row:     s.pool.QueryRow(ctx, query, args...),
		observe: func() { s.observeQuery(query, start) },
	}
}

// FetchRows runs a query returning any number of rows.
func (s *Store) FetchRows(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	s.observeQuery(query, start)
	if err != nil {
		return nil, translateError("storage.fetch", err)
	}
	return rows, nil
}

type timedRow struct {
	row     pgx.Row
	observe func()
}

func (r timedRow) Scan(dest ...interface{}) error {
	defer r.observe()
	return r.row.Scan(dest...)
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	tx, err := s.pool.Begin(acquireCtx)
	cancel()
	if err != nil {
		return translateError("storage.begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !stderrors.Is(rbErr, pgx.ErrTxClosed) {
			log.Error().Err(rbErr).Msg("Transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return translateError("storage.commit", err)
	}
	return nil
}

// HealthStatus reports the outcome of a storage probe.
type HealthStatus struct {
	Healthy        bool   `json:"healthy"`
	Error          string `json:"error,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	TotalConns     int32  `json:"total_conns"`
	IdleConns      int32  `json:"idle_conns"`
	AcquiredConns  int32  `json:"acquired_conns"`
}

// Health issues SELECT 1 and reports pool utilization.
func (s *Store) Health(ctx context.Context) HealthStatus {
	start := time.Now()

	var one int
	err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one)

	stat := s.pool.Stat()
	status := HealthStatus{
		Healthy:        err == nil,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		TotalConns:     stat.TotalConns(),
		IdleConns:      stat.IdleConns(),
		AcquiredConns:  stat.AcquiredConns(),
	}
	if err != nil {
		status.Error = err.Error()
	}

	s.registry.SetDBConnectionsActive(stat.AcquiredConns())
	return status
}

func (s *Store) observeQuery(query string, start time.Time) {
	operation, table := classifyQuery(query)
	s.registry.ObserveDBQuery(operation, table, time.Since(start))
	s.registry.SetDBConnectionsActive(s.pool.Stat().AcquiredConns())
}

var tablePattern = regexp.MustCompile(`(?i)\b(?:from|into|update)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// classifyQuery derives bounded metric labels from a static SQL statement:
// the leading verb and the first referenced table.
func classifyQuery(query string) (operation, table string) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "other", "unknown"
	}
	operation = strings.ToLower(fields[0])

	if m := tablePattern.FindStringSubmatch(query); m != nil {
		return operation, strings.ToLower(m[1])
	}
	return operation, "unknown"
}

// translateError maps driver errors onto the platform taxonomy.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return platformerrors.New(platformerrors.KindResourceBusy, op, err)
	}
	if IsUniqueViolation(err) {
		return platformerrors.Conflict(op, err)
	}
	return platformerrors.Internal(op, err)
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsNoRows reports whether err is pgx's no-rows sentinel.
func IsNoRows(err error) bool {
	return stderrors.Is(err, pgx.ErrNoRows)
}
