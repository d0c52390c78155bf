package store

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the escrow tables when they do not exist yet. Safe to
// run on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const q = `
CREATE TABLE IF NOT EXISTS allocations (
  id bigint PRIMARY KEY,
  provider text NOT NULL,
  beneficiary text NOT NULL,
  amount bigint NOT NULL,
  state text NOT NULL,
  genesis_block bigint NOT NULL,
  conclusion_block bigint NOT NULL,
  phases jsonb NOT NULL,
  phases_released bigint NOT NULL DEFAULT 0,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_allocations_provider ON allocations (provider);
CREATE INDEX IF NOT EXISTS idx_allocations_beneficiary ON allocations (beneficiary);

CREATE TABLE IF NOT EXISTS branched_allocations (
  id bigint PRIMARY KEY,
  provider text NOT NULL,
  branches jsonb NOT NULL,
  amount bigint NOT NULL,
  formation_block bigint NOT NULL,
  status text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS phase_progress (
  allocation_id bigint NOT NULL,
  phase_index bigint NOT NULL,
  pct bigint NOT NULL,
  narrative text NOT NULL DEFAULT '',
  attestation_block bigint NOT NULL,
  evidence bytea,
  created_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (allocation_id, phase_index)
);

CREATE TABLE IF NOT EXISTS delegations (
  allocation_id bigint PRIMARY KEY,
  delegate text NOT NULL,
  termination boolean NOT NULL DEFAULT false,
  extension boolean NOT NULL DEFAULT false,
  supplement boolean NOT NULL DEFAULT false,
  expiration_block bigint NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS protocol_flags (
  name text PRIMARY KEY,
  value boolean NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS verified_entities (
  entity text PRIMARY KEY,
  verified boolean NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);
`
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure escrow schema: %w", err)
	}
	return nil
}
