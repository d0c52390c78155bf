package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/phaselock/escrowd/internal/audit"
)

// audit-verify walks the audit_events table and recomputes every chained
// hash and signature against the signer's public key.
func main() {
	dbURL := flag.String("db", os.Getenv("ESCROWD_DATABASE_URL"), "postgres connection string")
	pubB64 := flag.String("pub", os.Getenv("ESCROWD_AUDIT_PUBLIC_KEY_B64"), "base64 Ed25519 public key of the audit signer")
	flag.Parse()

	if *dbURL == "" {
		log.Fatalf("database url required (-db or ESCROWD_DATABASE_URL)")
	}
	if *pubB64 == "" {
		log.Fatalf("audit public key required (-pub or ESCROWD_AUDIT_PUBLIC_KEY_B64)")
	}

	pub, err := base64.StdEncoding.DecodeString(*pubB64)
	if err != nil {
		log.Fatalf("decode public key: %v", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		log.Fatalf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()

	if err := audit.VerifyChain(context.Background(), db, ed25519.PublicKey(pub)); err != nil {
		log.Fatalf("audit chain verification failed: %v", err)
	}
	log.Printf("audit chain verified")
}
