package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// b64u is base64url no padding
func b64u(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func main() {
	issuer := flag.String("issuer", "escrow-idp", "token issuer (iss)")
	subject := flag.String("sub", "governance", "token subject (sub)")
	keysOut := flag.String("keys-out", "devops/certs/token_keys.pem", "trusted public keys output path")
	signerOut := flag.String("signer-out", "devops/certs/signer_key.b64", "audit signer key output path")
	tokenOut := flag.String("token-out", "devops/certs/test_jwt.txt", "JWT output path")
	expSecs := flag.Int("exp-secs", 3600, "token expiry in seconds")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	must(err)

	pubASN1, err := x509.MarshalPKIXPublicKey(pub)
	must(err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubASN1})

	must(os.MkdirAll(filepath.Dir(*keysOut), 0o755))
	must(os.WriteFile(*keysOut, pemBytes, 0o644))
	fmt.Printf("wrote token keys -> %s\n", *keysOut)

	// The same keypair doubles as the audit signer in dev.
	must(os.WriteFile(*signerOut, []byte(base64.StdEncoding.EncodeToString(priv.Seed())), 0o600))
	fmt.Printf("wrote signer key -> %s\n", *signerOut)

	// Build JWT header + payload and sign with EdDSA
	header := map[string]interface{}{"alg": "EdDSA", "typ": "JWT"}
	now := time.Now().Unix()
	payload := map[string]interface{}{
		"iss": *issuer,
		"sub": *subject,
		"iat": now,
		"exp": now + int64(*expSecs),
	}

	hb, err := json.Marshal(header)
	must(err)
	pb, err := json.Marshal(payload)
	must(err)
	signingInput := b64u(hb) + "." + b64u(pb)
	sig := ed25519.Sign(priv, []byte(signingInput))
	jwt := signingInput + "." + b64u(sig)

	must(os.WriteFile(*tokenOut, []byte(jwt), 0o644))
	fmt.Printf("wrote test jwt -> %s (sub=%s exp=%ds)\n", *tokenOut, *subject, *expSecs)
}
