package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  url: "postgres://localhost:5432/cointrader"
redis:
  addr: "localhost:6379"
trading:
  fee_rate: "0.001"
  quote_currency: "USDT"
  scan_interval_seconds: 5
auth:
  jwt_secret: "s3cret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres://localhost:5432/cointrader", cfg.Database.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "USDT", cfg.Trading.QuoteCurrency)
	assert.Equal(t, 5*time.Second, cfg.ScanInterval())
	assert.True(t, decimal.RequireFromString("0.001").Equal(cfg.FeeRate()))
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://localhost:5432/cointrader"
auth:
  jwt_secret: "s3cret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "KRW", cfg.Trading.QuoteCurrency)
	assert.Equal(t, 2*time.Second, cfg.ScanInterval())
	assert.True(t, decimal.RequireFromString("0.0005").Equal(cfg.FeeRate()))
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://localhost:5432/cointrader"
auth:
  jwt_secret: "file-secret"
`)

	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("SERVER_ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("MissingDatabaseURL", func(t *testing.T) {
		path := writeConfig(t, `
auth:
  jwt_secret: "s3cret"
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("MissingJWTSecret", func(t *testing.T) {
		path := writeConfig(t, `
database:
  url: "postgres://localhost:5432/cointrader"
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("BadFeeRate", func(t *testing.T) {
		path := writeConfig(t, `
database:
  url: "postgres://localhost:5432/cointrader"
trading:
  fee_rate: "not-a-number"
auth:
  jwt_secret: "s3cret"
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load("/does/not/exist.yaml")
		assert.Error(t, err)
	})
}
