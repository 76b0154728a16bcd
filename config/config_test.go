package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "BILLING_STORE", "SQLITE_PATH", "MONGO_URI", "MONGO_DB", "LOG_LEVEL", "CORS_ORIGINS", "AUDIT_INTERVAL"} {
		t.Setenv(k, "")
	}

	c := Load()
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, StoreSQLite, c.Store)
	assert.Equal(t, "billing.db", c.SQLitePath)
	assert.Equal(t, []string{"*"}, c.CORSOrigins)
	require.NoError(t, c.Validate())
	assert.Equal(t, slog.LevelInfo, c.SlogLevel())
	assert.Equal(t, time.Hour, c.AuditEvery())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BILLING_STORE", "mongo")
	t.Setenv("MONGO_DB", "school")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("AUDIT_INTERVAL", "0")

	c := Load()
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, StoreMongo, c.Store)
	assert.Equal(t, "school", c.MongoDB)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.CORSOrigins)
	assert.Equal(t, slog.LevelDebug, c.SlogLevel())
	assert.Zero(t, c.AuditEvery())
	require.NoError(t, c.Validate())
}

func TestValidate_Rejects(t *testing.T) {
	c := &Config{Port: "8080", Store: "postgres", LogLevel: "info"}
	assert.ErrorContains(t, c.Validate(), "unknown store")

	c = &Config{Port: "8080", Store: StoreMemory, LogLevel: "loud"}
	assert.ErrorContains(t, c.Validate(), "invalid log level")

	c = &Config{Port: "8080", Store: StoreMongo, LogLevel: "info"}
	assert.ErrorContains(t, c.Validate(), "mongo uri")

	c = &Config{Port: "8080", Store: StoreMemory, LogLevel: "info", AuditInterval: "often"}
	assert.ErrorContains(t, c.Validate(), "invalid audit interval")
}
