package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  name: order-service
  port: 50052
storage:
  driver: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "order-service", cfg.Server.Name)
	require.Equal(t, 0.20, cfg.Order.DefaultTaxRate)
	require.Equal(t, 10, cfg.Order.DefaultPageSize)
	require.Equal(t, 100, cfg.Order.MaxPageSize)
	require.Equal(t, 30*time.Second, cfg.Actor.RequestTimeout)
	require.Equal(t, "none", cfg.Events.Driver)
	require.Equal(t, 5*time.Second, cfg.Events.PublishTimeout)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, "0.0.0.0:50052", cfg.Server.Addr())
}

func TestLoadReadsDurationsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
order:
  default_tax_rate: 0.1
  conflict_retries: 5
actor:
  request_timeout: 2s
cache:
  order_ttl: 90s
`)
	t.Setenv("ORDERSHOP_MYSQL_HOST", "db.internal")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.1, cfg.Order.DefaultTaxRate)
	require.Equal(t, 5, cfg.Order.ConflictRetries)
	require.Equal(t, 2*time.Second, cfg.Actor.RequestTimeout)
	require.Equal(t, 90*time.Second, cfg.Cache.OrderTTL)
	require.Equal(t, "db.internal", cfg.MySQL.Host)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"negative tax":    "order:\n  default_tax_rate: -0.5\n",
		"unknown storage": "storage:\n  driver: sqlite\n",
		"unknown events":  "events:\n  driver: nats\n",
		"page sizes":      "order:\n  default_page_size: 50\n  max_page_size: 10\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")
}

func TestMySQLDSN(t *testing.T) {
	c := MySQLConfig{Host: "localhost", Port: 3306, Username: "shop", Password: "secret", Database: "orders"}
	require.Equal(t, "shop:secret@tcp(localhost:3306)/orders?charset=utf8mb4&parseTime=True&loc=UTC", c.DSN())
}
