package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
}

func TestLoadConfigFromEnv_MissingPassword(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfigFromEnv()
	assert.Error(t, err)
}

func TestLoadConfigFromEnv_DatabaseURLSkipsPassword(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("DATABASE_URL", "postgres://mnemos:pw@db:5432/mnemos")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://mnemos:pw@db:5432/mnemos", cfg.DSN())
}

func TestConfigValidate_PoolBounds(t *testing.T) {
	cfg := Config{Password: "pw", MaxOpenConns: 5, MaxIdleConns: 10}
	assert.Error(t, cfg.Validate())

	cfg = Config{Password: "pw", MaxOpenConns: 0, MaxIdleConns: 0}
	assert.Error(t, cfg.Validate())

	cfg = Config{Password: "pw", MaxOpenConns: 10, MaxIdleConns: 5}
	assert.NoError(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
