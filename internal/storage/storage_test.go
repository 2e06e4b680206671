package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
)

func TestClassifyQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		operation string
		table     string
	}{
		{
			name:      "select",
			query:     "SELECT id, username FROM users WHERE id = $1",
			operation: "select",
			table:     "users",
		},
		{
			name:      "insert",
			query:     "INSERT INTO events_mirror (topic, payload) VALUES ($1, $2)",
			operation: "insert",
			table:     "events_mirror",
		},
		{
			name:      "update",
			query:     "UPDATE plugins SET security_score = $2 WHERE id = $1",
			operation: "update",
			table:     "plugins",
		},
		{
			name:      "delete",
			query:     "DELETE FROM application_logs WHERE timestamp < $1",
			operation: "delete",
			table:     "application_logs",
		},
		{
			name: "multiline",
			query: `
				SELECT count(*)
				FROM sessions
				WHERE is_active AND expires_at > $1`,
			operation: "select",
			table:     "sessions",
		},
		{
			name:      "no table",
			query:     "SELECT 1",
			operation: "select",
			table:     "unknown",
		},
		{
			name:      "empty",
			query:     "",
			operation: "other",
			table:     "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			operation, table := classifyQuery(tt.query)
			assert.Equal(t, tt.operation, operation)
			assert.Equal(t, tt.table, table)
		})
	}
}

type fakeRow struct {
	err error
}

func (r fakeRow) Scan(dest ...interface{}) error { return r.err }

func TestTimedRowObservesOnScan(t *testing.T) {
	observed := false
	row := timedRow{
		row:     fakeRow{err: pgx.ErrNoRows},
		observe: func() { observed = true },
	}

	err := row.Scan()
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	assert.True(t, observed, "duration must be recorded even when the scan fails")
}

func TestTranslateError(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline becomes resource busy", context.DeadlineExceeded, platformerrors.ErrResourceBusy},
		{"unique violation becomes conflict", unique, platformerrors.ErrConflict},
		{"anything else is internal", errors.New("connection refused"), platformerrors.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateError("storage.test", tt.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}
