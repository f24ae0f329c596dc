package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the journal table when it does not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS conference_signal_events (
    id            UUID PRIMARY KEY,
    session_id    UUID NOT NULL,
    type          TEXT NOT NULL,
    conference_id TEXT,
    payload       JSONB NOT NULL,
    received_at   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS conference_signal_events_session_idx
    ON conference_signal_events (session_id, received_at);
`

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the journal table and its index.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}
