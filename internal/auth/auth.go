// package auth resolves the calling identity for escrow operations from a
// bearer token (or a dev header when explicitly enabled).
package auth

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "escrowd.principal"

// DevPrincipalHeader carries the caller identity in dev deployments that
// allow it. Never enabled in production.
const DevPrincipalHeader = "X-Escrow-Principal"

// Principal is the resolved calling identity. Subject is the account string
// compared against stored provider/beneficiary/governance identities.
type Principal struct {
	Subject string
	Issuer  string
}

// FromContext returns the Principal stored in the request context, or nil.
func FromContext(ctx context.Context) *Principal {
	v := ctx.Value(ctxKeyPrincipal)
	if v == nil {
		return nil
	}
	if p, ok := v.(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal stores a principal on a context. Exported for handler tests.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// VerifierConfig configures identity resolution.
type VerifierConfig struct {
	// PublicKeysFile is a PEM file of public keys trusted to sign bearer
	// tokens (PKIX public keys or certificates).
	PublicKeysFile string

	// Issuer, when set, must match the token iss claim.
	Issuer string

	// AllowDevPrincipal trusts the DevPrincipalHeader instead of a token.
	AllowDevPrincipal bool
}

// Verifier validates bearer tokens and extracts the caller identity.
type Verifier struct {
	cfg  VerifierConfig
	keys []interface{}
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{cfg: cfg}
	if cfg.PublicKeysFile != "" {
		if err := v.loadKeys(cfg.PublicKeysFile); err != nil {
			return nil, fmt.Errorf("load token keys: %w", err)
		}
	}
	if len(v.keys) == 0 && !cfg.AllowDevPrincipal {
		return nil, fmt.Errorf("auth: no token keys loaded and dev principal disabled")
	}
	return v, nil
}

func (v *Verifier) loadKeys(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			cert, certErr := x509.ParseCertificate(block.Bytes)
			if certErr != nil {
				continue
			}
			key = cert.PublicKey
		}
		v.keys = append(v.keys, key)
	}
	if len(v.keys) == 0 {
		return fmt.Errorf("no valid public keys found in %s", path)
	}
	return nil
}

// Resolve extracts the caller principal from a request.
func (v *Verifier) Resolve(r *http.Request) (*Principal, error) {
	if v.cfg.AllowDevPrincipal {
		if subject := r.Header.Get(DevPrincipalHeader); subject != "" {
			return &Principal{Subject: subject}, nil
		}
	}

	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return nil, fmt.Errorf("bearer token required")
	}
	raw := strings.TrimSpace(authz[7:])

	var lastErr error
	for _, key := range v.keys {
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{"EdDSA", "RS256", "ES256"}))
		if err != nil {
			lastErr = err
			continue
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			lastErr = fmt.Errorf("unexpected claims type")
			continue
		}
		subject, _ := claims["sub"].(string)
		if subject == "" {
			return nil, fmt.Errorf("token missing sub claim")
		}
		issuer, _ := claims["iss"].(string)
		if v.cfg.Issuer != "" && issuer != v.cfg.Issuer {
			return nil, fmt.Errorf("issuer mismatch: expected %s got %s", v.cfg.Issuer, issuer)
		}
		return &Principal{Subject: subject, Issuer: issuer}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no keys configured")
	}
	return nil, fmt.Errorf("token validation failed: %w", lastErr)
}

// Middleware resolves the caller identity and stores it in the request
// context; requests without a resolvable identity get 401.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := v.Resolve(r)
		if err != nil {
			http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
