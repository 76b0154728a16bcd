package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Port        string
	Store       string
	SQLitePath  string
	MongoURI    string
	MongoDB     string
	LogLevel    string
	CORSOrigins []string

	// AuditInterval is how often the integrity audit runs. "0" disables it.
	AuditInterval string
}

// Load reads .env (if present) and then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getenv("PORT", "8080"),
		Store:       getenv("BILLING_STORE", StoreSQLite),
		SQLitePath:  getenv("SQLITE_PATH", "billing.db"),
		MongoURI:    getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     getenv("MONGO_DB", "billing"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		CORSOrigins: splitList(getenv("CORS_ORIGINS", "*")),

		AuditInterval: getenv("AUDIT_INTERVAL", "1h"),
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreSQLite, StoreMongo, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want sqlite, mongo or memory)", c.Store))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is empty"))
	}
	if c.Store == StoreSQLite && c.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite path is empty"))
	}
	if c.Store == StoreMongo && (c.MongoURI == "" || c.MongoDB == "") {
		errs = append(errs, errors.New("mongo uri and database are required"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.AuditInterval != "" {
		if d, err := time.ParseDuration(c.AuditInterval); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("invalid audit interval %q", c.AuditInterval))
		}
	}

	return errors.Join(errs...)
}

// SlogLevel returns the configured level, info when it cannot be parsed.
func (c *Config) SlogLevel() slog.Level {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// AuditEvery returns the audit interval, 0 when disabled or unparsable.
func (c *Config) AuditEvery() time.Duration {
	d, err := time.ParseDuration(c.AuditInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
