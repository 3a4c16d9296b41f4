package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "./data/finance.db", cfg.Database.DSN)
	assert.Equal(t, uint32(5), cfg.Orders.BreakerFailures)
	assert.Equal(t, 30*time.Second, cfg.Orders.BreakerTimeout)
	assert.Equal(t, 60*time.Second, cfg.Orders.RequestTimeout)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: an env file and an environment override
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DB_DRIVER=mysql\nDB_DSN=u:p@tcp(db:3306)/finance\nORDERS_URL=http://file\n"), 0o600))
	t.Setenv("ORDERS_URL", "http://env")
	t.Setenv("ORDERS_BREAKER_TIMEOUT", "5s")

	// WHEN: loading
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: the environment wins over the file
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "http://env", cfg.Orders.URL)
	assert.Equal(t, 5*time.Second, cfg.Orders.BreakerTimeout)
	assert.Equal(t, "mysql://u:p@tcp(db:3306)/finance", cfg.MigrationURL())
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")

	_, err := Load("")

	assert.Error(t, err)
}
