package audit

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// VerifyChain walks audit_events in chronological order and checks, for each
// event, that hash == sha256(canonical(payload) || prevHashBytes) and that
// the Ed25519 signature over the hash verifies against the given public key.
// Returns nil on success or the first problem found.
func VerifyChain(ctx context.Context, db *sql.DB, publicKey ed25519.PublicKey) error {
	if db == nil {
		return errors.New("db is nil")
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return errors.New("invalid public key size")
	}

	q := `SELECT id, event_type, payload, prev_hash, hash, signature FROM audit_events ORDER BY ts ASC`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("query audit_events: %w", err)
	}
	defer rows.Close()

	index := 0
	for rows.Next() {
		index++
		var (
			id, eventType, hashHex, sigB64 string
			prevHash                       sql.NullString
			payloadB                       []byte
		)
		if err := rows.Scan(&id, &eventType, &payloadB, &prevHash, &hashHex, &sigB64); err != nil {
			return fmt.Errorf("scan row %d: %w", index, err)
		}

		// Decode with UseNumber so integers re-canonicalize to the exact
		// textual form they were hashed with.
		dec := json.NewDecoder(bytes.NewReader(payloadB))
		dec.UseNumber()
		var payload interface{}
		if err := dec.Decode(&payload); err != nil {
			return fmt.Errorf("unmarshal payload for event %s: %w", id, err)
		}

		prev := ""
		if prevHash.Valid {
			prev = prevHash.String
		}
		computed, err := chainHash(payload, prev)
		if err != nil {
			return fmt.Errorf("recompute hash for event %s: %w", id, err)
		}
		computedHex := hex.EncodeToString(computed)
		if computedHex != hashHex {
			return fmt.Errorf("hash mismatch for event %s (type=%s): computed=%s stored=%s", id, eventType, computedHex, hashHex)
		}

		sig, err := base64.StdEncoding.DecodeString(sigB64)
		if err != nil {
			return fmt.Errorf("invalid signature encoding for event %s: %w", id, err)
		}
		if !ed25519.Verify(publicKey, computed, sig) {
			return fmt.Errorf("signature verification failed for event %s", id)
		}
	}
	return rows.Err()
}
