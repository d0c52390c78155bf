package audit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/phaselock/escrowd/internal/canonical"
	"github.com/phaselock/escrowd/internal/signer"
)

// Store is the persistence abstraction for the audit trail.
type Store interface {
	// Append canonicalizes the payload, chains and signs the event, and
	// persists it.
	Append(ctx context.Context, ev *Event, s signer.Signer) error

	// Get retrieves an event by id.
	Get(ctx context.Context, id string) (*Event, error)

	// Ping validates the store is reachable.
	Ping(ctx context.Context) error
}

// HashBytes computes the SHA-256 digest bytes for input data.
func HashBytes(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// HashHex returns the hex-encoded SHA-256 of the input bytes.
func HashHex(b []byte) string {
	return hex.EncodeToString(HashBytes(b))
}

// chainHash computes the event hash: sha256(canonical(payload) || prevHashBytes).
func chainHash(payload interface{}, prevHash string) ([]byte, error) {
	canon, err := canonical.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	concat := append([]byte(nil), canon...)
	if prevHash != "" {
		prevBytes, err := hex.DecodeString(prevHash)
		if err != nil {
			return nil, fmt.Errorf("decode prev hash: %w", err)
		}
		concat = append(concat, prevBytes...)
	}
	return HashBytes(concat), nil
}

// seal fills the chained-and-signed fields of ev given the previous head hash.
// Both backends share this so the chain shape cannot drift between them.
func seal(ev *Event, prevHash string, s signer.Signer) error {
	hash, err := chainHash(ev.Payload, prevHash)
	if err != nil {
		return err
	}
	sig, signerID, err := s.Sign(hash)
	if err != nil {
		return fmt.Errorf("sign hash: %w", err)
	}
	if ev.ID == "" {
		ev.ID = NewID()
	}
	ev.PrevHash = prevHash
	ev.Hash = hex.EncodeToString(hash)
	ev.Signature = base64.StdEncoding.EncodeToString(sig)
	ev.SignerID = signerID
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	return nil
}
