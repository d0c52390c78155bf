// package audit maintains the signed, hash-chained trail of escrow protocol
// events.
package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event is the canonical audit record. Hash covers the canonicalized payload
// concatenated with the previous event's hash bytes; Signature is the
// Ed25519 signature over the hash.
type Event struct {
	ID        string      `json:"id,omitempty"`
	EventType string      `json:"eventType"`
	Payload   interface{} `json:"payload"`
	PrevHash  string      `json:"prevHash,omitempty"`
	Hash      string      `json:"hash,omitempty"`
	Signature string      `json:"signature,omitempty"`
	SignerID  string      `json:"signerId,omitempty"`
	Ts        time.Time   `json:"ts"`
	Metadata  interface{} `json:"metadata,omitempty"`
}

// ErrNotFound is returned when a requested audit record cannot be located.
var ErrNotFound = errors.New("not found")

// NewID returns a freshly-generated event id.
func NewID() string {
	return uuid.New().String()
}
