package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultConnectionString = "Host=localhost;Port=5432;Database=settlement_core_db;Username=postgres;Password=postgres;Timeout=30;CommandTimeout=30"
const defaultHTTPAddr = ":8080"
const defaultChannelID = "ClaimsCapital"

// bcrypt hash of the development-only channel key "settlement-dev-key".
const defaultChannelKeyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

const defaultRemoteLedgerURL = "http://localhost:9090"
const defaultProducerName = "settlement-core"
const defaultPoolID = "pool_general_reserve"

type Config struct {
	HTTPAddr                      string
	DatabaseDSN                   string
	MigrationsDir                 string
	ChannelID                     string
	ChannelKeyHash                string
	RemoteLedgerURL               string
	ProducerName                  string
	DefaultPoolID                 string
	SettlementPollInterval        time.Duration
	LockSweepInterval             time.Duration
	FundLockTTL                   time.Duration
	PayoutApprovalThresholdMicros int64
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		DatabaseDSN:     normalizeConnectionString(envOrDefault("DATABASE_DSN", defaultConnectionString)),
		MigrationsDir:   envOrDefault("MIGRATIONS_DIR", "migrations"),
		ChannelID:       envOrDefault("CHANNEL_ID", defaultChannelID),
		ChannelKeyHash:  envOrDefault("CHANNEL_KEY_HASH", defaultChannelKeyHash),
		RemoteLedgerURL: envOrDefault("REMOTE_LEDGER_URL", defaultRemoteLedgerURL),
		ProducerName:    envOrDefault("PRODUCER_NAME", defaultProducerName),
		DefaultPoolID:   envOrDefault("DEFAULT_POOL_ID", defaultPoolID),
	}

	var err error
	if cfg.SettlementPollInterval, err = envDuration("SETTLEMENT_POLL_INTERVAL", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.LockSweepInterval, err = envDuration("LOCK_SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.FundLockTTL, err = envDuration("FUND_LOCK_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PayoutApprovalThresholdMicros, err = envInt64("PAYOUT_APPROVAL_THRESHOLD_MICROS", 10_000_000_000); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return value, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func normalizeConnectionString(raw string) string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	hasSSLMode := false

	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}

		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])

		switch key {
		case "host":
			out = append(out, "host="+val)
		case "port":
			out = append(out, "port="+val)
		case "database":
			out = append(out, "dbname="+val)
		case "username":
			out = append(out, "user="+val)
		case "password":
			out = append(out, "password="+val)
		case "timeout", "connect timeout":
			out = append(out, "connect_timeout="+val)
		case "commandtimeout", "command timeout":
			out = append(out, "statement_timeout="+val+"s")
		case "sslmode":
			hasSSLMode = true
			out = append(out, "sslmode="+val)
		default:
			out = append(out, key+"="+val)
		}
	}

	if len(out) == 0 {
		return raw
	}

	if !hasSSLMode {
		out = append(out, "sslmode=disable")
	}

	return strings.Join(out, " ")
}
