package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LedgerBackend selects the storage behind the ledger abstraction.
type LedgerBackend string

const (
	BackendPostgres LedgerBackend = "postgres"
	BackendRaft     LedgerBackend = "raft"
	BackendMemory   LedgerBackend = "memory"
)

// Config holds service configuration.
type Config struct {
	ServerAddr string

	LedgerBackend LedgerBackend
	DatabaseURL   string

	RaftNodeID    string
	RaftBindAddr  string
	RaftDataDir   string
	RaftBootstrap bool

	RulesPath string

	JWTSecret string

	ConfirmWindow        time.Duration
	ScanInterval         time.Duration
	WarnFraction         float64
	AutoConfirmThreshold float64
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "handoff_hub")
		pass := getenv("POSTGRES_PASSWORD", "handoff_hub_pass")
		db := getenv("POSTGRES_DB", "handoff_hub")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	backend := LedgerBackend(getenv("LEDGER_BACKEND", string(BackendPostgres)))
	switch backend {
	case BackendPostgres, BackendRaft, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", backend)
	}

	return &Config{
		ServerAddr: getenv("SERVER_ADDR", "0.0.0.0:8080"),

		LedgerBackend: backend,
		DatabaseURL:   dsn,

		RaftNodeID:    getenv("RAFT_NODE_ID", "node-1"),
		RaftBindAddr:  getenv("RAFT_BIND_ADDR", "127.0.0.1:7000"),
		RaftDataDir:   getenv("RAFT_DATA_DIR", "./raft-data"),
		RaftBootstrap: parseBool(getenv("RAFT_BOOTSTRAP", "true"), true),

		RulesPath: getenv("RULES_PATH", "rules.toml"),

		JWTSecret: os.Getenv("AUTH_JWT_SECRET"),

		ConfirmWindow:        parseDuration(getenv("CONFIRM_WINDOW", "48h"), 48*time.Hour),
		ScanInterval:         parseDuration(getenv("SCAN_INTERVAL", "30s"), 30*time.Second),
		WarnFraction:         parseFloat(getenv("WARN_FRACTION", "0.8"), 0.8),
		AutoConfirmThreshold: parseFloat(getenv("AUTO_CONFIRM_THRESHOLD", "0.9"), 0.9),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseFloat(val string, def float64) float64 {
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}
