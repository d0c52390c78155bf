package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func writeKeysFile(t *testing.T, pub ed25519.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func signToken(t *testing.T, priv ed25519.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	raw, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return raw
}

func TestResolveBearerToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	v, err := NewVerifier(VerifierConfig{
		PublicKeysFile: writeKeysFile(t, pub),
		Issuer:         "escrow-idp",
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	raw := signToken(t, priv, jwt.MapClaims{"sub": "provider-1", "iss": "escrow-idp"})
	r := httptest.NewRequest(http.MethodGet, "/escrow/allocations/1", nil)
	r.Header.Set("Authorization", "Bearer "+raw)

	p, err := v.Resolve(r)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	assert.Equal(t, "provider-1", p.Subject)
	assert.Equal(t, "escrow-idp", p.Issuer)
}

func TestResolveRejectsBadTokens(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	v, err := NewVerifier(VerifierConfig{
		PublicKeysFile: writeKeysFile(t, pub),
		Issuer:         "escrow-idp",
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	// Missing authorization header.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = v.Resolve(r)
	assert.Error(t, err)

	// Missing sub claim.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, priv, jwt.MapClaims{"iss": "escrow-idp"}))
	_, err = v.Resolve(r)
	assert.Error(t, err)

	// Wrong issuer.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, priv, jwt.MapClaims{"sub": "provider-1", "iss": "someone-else"}))
	_, err = v.Resolve(r)
	assert.Error(t, err)

	// Signed by an untrusted key.
	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, otherPriv, jwt.MapClaims{"sub": "provider-1", "iss": "escrow-idp"}))
	_, err = v.Resolve(r)
	assert.Error(t, err)
}

func TestResolveDevPrincipal(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{AllowDevPrincipal: true})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(DevPrincipalHeader, "provider-1")

	p, err := v.Resolve(r)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	assert.Equal(t, "provider-1", p.Subject)
}

func TestNewVerifierRequiresKeysOrDevMode(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{AllowDevPrincipal: true})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	var seen *Principal
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(DevPrincipalHeader, "beneficiary-1")
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	if assert.NotNil(t, seen) {
		assert.Equal(t, "beneficiary-1", seen.Subject)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
