package recorder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
)

const completedSessionsSchema = `
CREATE TABLE IF NOT EXISTS completed_sessions (
	session_id       UUID PRIMARY KEY,
	client_id        TEXT NOT NULL,
	interpreter_id   TEXT NOT NULL,
	language         TEXT NOT NULL,
	session_type     TEXT NOT NULL,
	duration_seconds BIGINT NOT NULL,
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ NOT NULL,
	recorded_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresRecorder implements domain.SessionRecorder backed by PostgreSQL.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder connects to the database and ensures the schema exists.
func NewPostgresRecorder(ctx context.Context, databaseURL string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, completedSessionsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresRecorder{pool: pool}, nil
}

// RecordCompletedSession writes one finalize row. ON CONFLICT DO NOTHING
// keeps a redelivered event from failing - the primary key carries the
// exactly-once guarantee through to the table.
func (r *PostgresRecorder) RecordCompletedSession(ctx context.Context, rec domain.CompletedSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO completed_sessions
			(session_id, client_id, interpreter_id, language, session_type, duration_seconds, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.ClientID, rec.InterpreterID, rec.Language,
		string(rec.SessionType), rec.DurationSeconds, rec.StartTime, rec.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert completed session: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}
