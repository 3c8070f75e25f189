package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
env: prod
mysql:
  dsns:
    - "u:p@tcp(db1:3306)/orders"
    - "u:p@tcp(db2:3306)/orders"
phonepe:
  merchant_id: PGTESTPAYUAT
  salt_key: salt
  environment: production
urls:
  frontend: https://shop.example.com
reconcile:
  pending_expiry: 45m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Len(t, cfg.MySQL.DSNs, 2)
	assert.Equal(t, "PGTESTPAYUAT", cfg.PhonePe.MerchantID)
	assert.Equal(t, "production", cfg.PhonePe.Environment)
	assert.Equal(t, 15*time.Second, cfg.PhonePe.Timeout)
	assert.Equal(t, 1, cfg.PhonePe.SaltIndex)
	assert.Equal(t, "https://shop.example.com", cfg.URLs.Frontend)
	assert.Equal(t, 45*time.Minute, cfg.Reconcile.PendingExpiry)
}

func TestLoad_RejectsUnknownEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phonepe:\n  environment: staging\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "sandbox or production")
}

func TestLoad_EnvFallback(t *testing.T) {
	t.Setenv("PHONEPE_MERCHANT_ID", "MID")
	t.Setenv("MYSQL_DSNS", "a/db,b/db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "MID", cfg.PhonePe.MerchantID)
	assert.Equal(t, []string{"a/db", "b/db"}, cfg.MySQL.DSNs)
	assert.Equal(t, "sandbox", cfg.PhonePe.Environment)
}

func TestNewLogger_Level(t *testing.T) {
	logger := NewLogger(&Config{Env: "prod", LogLevel: "warn"})
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger = NewLogger(&Config{Env: "prod", LogLevel: "bogus"})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter(Kafka{Brokers: []string{"b1:9092", "b2:9092"}, Topic: "order-topic"})
	assert.Equal(t, "order-topic", w.Topic)
	assert.Contains(t, w.Addr.String(), "b1:9092")
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
