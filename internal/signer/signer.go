// package signer provides the Ed25519 signing abstraction used by the audit
// trail.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Signer signs audit hashes.
type Signer interface {
	// Sign signs hash bytes and returns (signature, signerID, error).
	Sign(hash []byte) (sig []byte, signerID string, err error)

	// PublicKey returns the public key bytes for verification.
	PublicKey() []byte
}

// Local is an in-process Ed25519 signer. Suitable for development and tests;
// production deployments should load a provisioned key via NewLocalFromB64.
type Local struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	signerID string
}

// NewLocal generates a fresh Ed25519 keypair.
func NewLocal(signerID string) *Local {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		// Key generation failing means the process has no working entropy;
		// surface immediately.
		panic(err)
	}
	return &Local{priv: priv, pub: pub, signerID: signerID}
}

// NewLocalFromB64 builds a signer from a base64-encoded Ed25519 private key.
func NewLocalFromB64(keyB64, signerID string) (*Local, error) {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("signer: decode key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
	case ed25519.SeedSize:
		raw = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("signer: key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	return &Local{
		priv:     priv,
		pub:      priv.Public().(ed25519.PublicKey),
		signerID: signerID,
	}, nil
}

func (l *Local) Sign(hash []byte) ([]byte, string, error) {
	if l.priv == nil {
		return nil, "", errors.New("signer: private key not initialized")
	}
	return ed25519.Sign(l.priv, hash), l.signerID, nil
}

func (l *Local) PublicKey() []byte {
	return l.pub
}
