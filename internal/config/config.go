package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr           string
	DatabaseURL    string
	GovernanceID   string
	CustodyAccount string
	SettlementURL  string

	ChainGenesis  time.Time
	BlockInterval time.Duration

	SignerKeyB64 string
	SignerID     string

	TokenKeysFile     string
	TokenIssuer       string
	AllowDevPrincipal bool

	AuditDir     string
	KafkaBrokers []string
	KafkaTopic   string
	AuditBucket  string
	AuditPrefix  string
}

const (
	defaultAddr           = ":8071"
	defaultCustodyAccount = "escrow.custody"
	defaultSignerID       = "escrowd-dev"
	defaultAuditDir       = "./data/audit"
	defaultKafkaTopic     = "escrow.audit"
	defaultBlockInterval  = 10 * time.Minute
)

func Load() (Config, error) {
	cfg := Config{
		Addr:              getEnv("ESCROWD_ADDR", defaultAddr),
		DatabaseURL:       firstNonEmpty(os.Getenv("ESCROWD_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		GovernanceID:      os.Getenv("ESCROWD_GOVERNANCE_ID"),
		CustodyAccount:    getEnv("ESCROWD_CUSTODY_ACCOUNT", defaultCustodyAccount),
		SettlementURL:     os.Getenv("ESCROWD_SETTLEMENT_URL"),
		BlockInterval:     getDuration("ESCROWD_BLOCK_INTERVAL", defaultBlockInterval),
		SignerKeyB64:      os.Getenv("ESCROWD_SIGNER_KEY_B64"),
		SignerID:          getEnv("ESCROWD_SIGNER_ID", defaultSignerID),
		TokenKeysFile:     os.Getenv("ESCROWD_TOKEN_KEYS_FILE"),
		TokenIssuer:       os.Getenv("ESCROWD_TOKEN_ISSUER"),
		AllowDevPrincipal: getBool("ESCROWD_ALLOW_DEV_PRINCIPAL", false),
		AuditDir:          getEnv("ESCROWD_AUDIT_DIR", defaultAuditDir),
		KafkaBrokers:      splitList(os.Getenv("ESCROWD_KAFKA_BROKERS")),
		KafkaTopic:        getEnv("ESCROWD_KAFKA_TOPIC", defaultKafkaTopic),
		AuditBucket:       os.Getenv("ESCROWD_AUDIT_BUCKET"),
		AuditPrefix:       os.Getenv("ESCROWD_AUDIT_PREFIX"),
	}

	if cfg.GovernanceID == "" {
		return Config{}, fmt.Errorf("ESCROWD_GOVERNANCE_ID required")
	}
	if cfg.TokenKeysFile == "" && !cfg.AllowDevPrincipal {
		return Config{}, fmt.Errorf("ESCROWD_TOKEN_KEYS_FILE required when ESCROWD_ALLOW_DEV_PRINCIPAL unset")
	}

	genesis := os.Getenv("ESCROWD_CHAIN_GENESIS")
	if genesis == "" {
		cfg.ChainGenesis = time.Now().UTC()
	} else {
		t, err := time.Parse(time.RFC3339, genesis)
		if err != nil {
			return Config{}, fmt.Errorf("parse ESCROWD_CHAIN_GENESIS: %w", err)
		}
		cfg.ChainGenesis = t.UTC()
	}

	nodeEnv := os.Getenv("NODE_ENV")
	if nodeEnv == "production" && cfg.AllowDevPrincipal {
		return Config{}, fmt.Errorf("ESCROWD_ALLOW_DEV_PRINCIPAL=true is forbidden in production")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
