package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)

	assert.Equal(t, "ingest/+", cfg.Ingest.Topic)
	assert.Equal(t, byte(1), cfg.Ingest.QoS)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, 256, cfg.Ingest.QueueSize)
	assert.Equal(t, 7*24*time.Hour, cfg.Ingest.DedupTTL)

	assert.Equal(t, 24*time.Hour, cfg.Auth.RotationGrace)
	assert.Equal(t, 60*time.Second, cfg.Escalation.SweepInterval)
	assert.Equal(t, 3, cfg.Escalation.MaxAttempts)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "15432")
	t.Setenv("INGEST_TOPIC", "devices/+/panic")
	t.Setenv("INGEST_WORKERS", "16")
	t.Setenv("INGEST_DEDUP_TTL", "240h")
	t.Setenv("ESCALATION_SWEEP_INTERVAL", "30s")
	t.Setenv("ESCALATION_SMS_GATEWAY_URL", "https://sms.example.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 15432, cfg.Database.Port)
	assert.Equal(t, "devices/+/panic", cfg.Ingest.Topic)
	assert.Equal(t, 16, cfg.Ingest.Workers)
	assert.Equal(t, 240*time.Hour, cfg.Ingest.DedupTTL)
	assert.Equal(t, 30*time.Second, cfg.Escalation.SweepInterval)
	assert.Equal(t, "https://sms.example.test", cfg.Escalation.SMSGatewayURL)
}

func TestLoad_DedupTTLBelowPolicyFloor(t *testing.T) {
	t.Setenv("INGEST_DEDUP_TTL", "24h")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_DEDUP_TTL")
}

func TestLoad_InvalidWorkerCount(t *testing.T) {
	t.Setenv("INGEST_WORKERS", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_WORKERS")
}

func TestLoad_MalformedDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("ESCALATION_RETRY_BACKOFF", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Escalation.RetryBackoff)
}
