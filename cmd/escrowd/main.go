package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/phaselock/escrowd/internal/audit"
	"github.com/phaselock/escrowd/internal/auth"
	"github.com/phaselock/escrowd/internal/chain"
	"github.com/phaselock/escrowd/internal/config"
	"github.com/phaselock/escrowd/internal/custody"
	"github.com/phaselock/escrowd/internal/escrow"
	"github.com/phaselock/escrowd/internal/httpserver"
	"github.com/phaselock/escrowd/internal/signer"
	"github.com/phaselock/escrowd/internal/store"
)

func main() {
	runStreamer := flag.Bool("run-streamer", false, "start the audit event streamer")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	var (
		db      *sql.DB
		st      store.Store
		auditSt audit.Store
		auditPG *audit.PGStore
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			log.Fatalf("db ping: %v", err)
		}
		if err := store.EnsureSchema(context.Background(), db); err != nil {
			log.Fatalf("escrow schema: %v", err)
		}
		if err := audit.EnsureSchema(context.Background(), db); err != nil {
			log.Fatalf("audit schema: %v", err)
		}
		st = store.NewPGStore(db)
		auditPG = audit.NewPGStore(db)
		auditSt = auditPG
	} else {
		log.Printf("[startup] no database configured, using in-memory store")
		st = store.NewMemoryStore()
		auditSt = audit.NewFileStore(cfg.AuditDir)
	}

	var mover custody.Mover
	if cfg.SettlementURL != "" {
		httpMover, err := custody.NewHTTPClient(custody.HTTPClientConfig{
			BaseURL: cfg.SettlementURL,
			Timeout: 5 * time.Second,
			Retries: 2,
		})
		if err != nil {
			log.Fatalf("settlement client init: %v", err)
		}
		mover = httpMover
	} else {
		log.Printf("[startup] no settlement service configured, using in-process ledger")
		mover = custody.NewBook()
	}

	clock, err := chain.NewTicking(cfg.ChainGenesis, cfg.BlockInterval)
	if err != nil {
		log.Fatalf("chain clock init: %v", err)
	}

	var sig signer.Signer
	if cfg.SignerKeyB64 != "" {
		sig, err = signer.NewLocalFromB64(cfg.SignerKeyB64, cfg.SignerID)
		if err != nil {
			log.Fatalf("signer init: %v", err)
		}
	} else {
		log.Printf("[startup] no signer key configured, generating ephemeral key")
		sig = signer.NewLocal(cfg.SignerID)
	}

	svc, err := escrow.New(st, mover, clock, audit.NewRecorder(auditSt, sig), escrow.Config{
		GovernanceID:   cfg.GovernanceID,
		CustodyAccount: cfg.CustodyAccount,
	})
	if err != nil {
		log.Fatalf("service init: %v", err)
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		PublicKeysFile:    cfg.TokenKeysFile,
		Issuer:            cfg.TokenIssuer,
		AllowDevPrincipal: cfg.AllowDevPrincipal,
	})
	if err != nil {
		log.Fatalf("verifier init: %v", err)
	}

	server := httpserver.New(cfg, svc, st, verifier)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if shouldRunStreamer(*runStreamer) {
		if auditPG == nil {
			log.Fatalf("[startup] audit streamer requires a database")
		}
		if len(cfg.KafkaBrokers) == 0 {
			log.Fatalf("[startup] audit streamer requires ESCROWD_KAFKA_BROKERS")
		}
		producer, err := audit.NewKafkaProducer(audit.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka producer init: %v", err)
		}
		var archiver audit.Archiver
		if cfg.AuditBucket != "" {
			s3Arch, err := audit.NewS3Archiver(ctx, cfg.AuditBucket, cfg.AuditPrefix)
			if err != nil {
				log.Fatalf("s3 archiver init: %v", err)
			}
			archiver = s3Arch
		}
		streamer := audit.NewStreamer(auditPG, producer, archiver, audit.StreamerConfig{})
		go func() {
			if err := streamer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("audit streamer exited: %v", err)
			}
		}()
	}

	go func() {
		log.Printf("escrowd listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func shouldRunStreamer(flagValue bool) bool {
	if flagValue {
		return true
	}
	if v := os.Getenv("ESCROWD_RUN_STREAMER"); v != "" {
		enabled, err := strconv.ParseBool(v)
		return err == nil && enabled
	}
	return false
}
