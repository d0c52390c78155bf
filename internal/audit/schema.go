package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the audit_events table when it does not exist yet.
// Safe to run on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const q = `
CREATE TABLE IF NOT EXISTS audit_events (
  id text PRIMARY KEY,
  event_type text NOT NULL,
  payload jsonb,
  prev_hash text NOT NULL DEFAULT '',
  hash text NOT NULL,
  signature text NOT NULL,
  signer_id text NOT NULL,
  ts timestamptz NOT NULL,
  metadata jsonb,
  stream_status text NOT NULL DEFAULT 'pending',
  attempts integer NOT NULL DEFAULT 0,
  s3_object_key text,
  stream_error text,
  streamed_at timestamptz
);
CREATE INDEX IF NOT EXISTS idx_audit_events_ts ON audit_events (ts);
CREATE INDEX IF NOT EXISTS idx_audit_events_stream_status ON audit_events (stream_status, ts);
`
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}
