package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — caller profiles and call sessions
// ─────────────────────────────────────────────────────────────────────────────

const ddlCallerProfiles = `
CREATE TABLE IF NOT EXISTS caller_profiles (
    id            BIGSERIAL    PRIMARY KEY,
    phone_hash    TEXT         NOT NULL UNIQUE,
    first_seen_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_seen_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlCallSessions = `
CREATE TABLE IF NOT EXISTS call_sessions (
    id         BIGSERIAL    PRIMARY KEY,
    call_uuid  TEXT         NOT NULL,
    caller_id  BIGINT       NOT NULL REFERENCES caller_profiles (id),
    started_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_call_sessions_call_uuid
    ON call_sessions (call_uuid);

CREATE INDEX IF NOT EXISTS idx_call_sessions_caller_id
    ON call_sessions (caller_id);

CREATE INDEX IF NOT EXISTS idx_call_sessions_started_at
    ON call_sessions (started_at);
`

// Migrate creates the caller profile and call session tables if they do not
// exist. It is idempotent and safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlCallerProfiles, ddlCallSessions} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("callstore: apply schema: %w", err)
		}
	}
	return nil
}
