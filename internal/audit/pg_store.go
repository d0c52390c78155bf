package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phaselock/escrowd/internal/signer"
)

// PGStore persists audit events in Postgres. New rows start with
// stream_status = 'pending' so the Streamer can drain them to Kafka and S3.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// lastHash returns the latest chain head or empty string when the trail is empty.
func (p *PGStore) lastHash(ctx context.Context) (string, error) {
	var h sql.NullString
	q := `SELECT hash FROM audit_events ORDER BY ts DESC LIMIT 1`
	if err := p.db.QueryRowContext(ctx, q).Scan(&h); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	if !h.Valid {
		return "", nil
	}
	return h.String, nil
}

func (p *PGStore) Append(ctx context.Context, ev *Event, s signer.Signer) error {
	prev, err := p.lastHash(ctx)
	if err != nil {
		return fmt.Errorf("fetch last hash: %w", err)
	}
	if err := seal(ev, prev, s); err != nil {
		return err
	}

	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	metadataJSON := []byte("null")
	if ev.Metadata != nil {
		metadataJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	q := `
		INSERT INTO audit_events
		  (id, event_type, payload, prev_hash, hash, signature, signer_id, ts, metadata, stream_status, attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending',0)
	`
	if _, err := p.db.ExecContext(ctx, q,
		ev.ID, ev.EventType, payloadJSON, ev.PrevHash, ev.Hash, ev.Signature, ev.SignerID, ev.Ts, metadataJSON,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (p *PGStore) Get(ctx context.Context, id string) (*Event, error) {
	q := `SELECT id, event_type, payload, prev_hash, hash, signature, signer_id, ts, metadata FROM audit_events WHERE id = $1`
	return scanEvent(p.db.QueryRowContext(ctx, q, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		id, eventType, prevHash, hash, signature, signerID string
		payloadBytes, metaBytes                            []byte
		ts                                                 time.Time
	)
	if err := row.Scan(&id, &eventType, &payloadBytes, &prevHash, &hash, &signature, &signerID, &ts, &metaBytes); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan audit event: %w", err)
	}

	var payload interface{}
	if len(payloadBytes) > 0 {
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			payload = string(payloadBytes)
		}
	}
	var metadata interface{}
	if len(metaBytes) > 0 && string(metaBytes) != "null" {
		if err := json.Unmarshal(metaBytes, &metadata); err != nil {
			metadata = string(metaBytes)
		}
	}

	return &Event{
		ID:        id,
		EventType: eventType,
		Payload:   payload,
		PrevHash:  prevHash,
		Hash:      hash,
		Signature: signature,
		SignerID:  signerID,
		Ts:        ts,
		Metadata:  metadata,
	}, nil
}

// FetchPendingEvents claims up to limit pending rows for streaming, flipping
// them to in_progress and counting the attempt. SKIP LOCKED keeps concurrent
// streamers from claiming the same rows.
func (p *PGStore) FetchPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	q := `
		UPDATE audit_events
		SET stream_status = 'in_progress', attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM audit_events
			WHERE stream_status = 'pending'
			ORDER BY ts ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, payload, prev_hash, hash, signature, signer_id, ts, metadata
	`
	rows, err := p.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkStreamResult records the outcome of streaming one claimed event.
func (p *PGStore) MarkStreamResult(ctx context.Context, id string, archivedKey sql.NullString, ok bool, streamErr sql.NullString) error {
	status := "streamed"
	if !ok {
		status = "pending"
	}
	q := `
		UPDATE audit_events
		SET stream_status = $1, s3_object_key = COALESCE($2, s3_object_key), stream_error = $3, streamed_at = CASE WHEN $1 = 'streamed' THEN now() ELSE streamed_at END
		WHERE id = $4
	`
	_, err := p.db.ExecContext(ctx, q, status, archivedKey, streamErr, id)
	if err != nil {
		return fmt.Errorf("mark stream result: %w", err)
	}
	return nil
}
