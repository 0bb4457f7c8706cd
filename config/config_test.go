package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INGEST_MODE", "")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, IngestSync, cfg.Server.IngestMode)
	assert.Equal(t, "primary", cfg.Calendar.CalendarID)
	assert.Equal(t, time.Hour, cfg.Calendar.EventDuration)
	assert.Equal(t, 3, cfg.Business.ListWindowDays)
	assert.Equal(t, "chat-inbound", cfg.Kafka.TopicInbound)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INGEST_MODE", "QUEUE")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LIST_WINDOW_DAYS", "5")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("TELEGRAM_RATE_PER_SECOND", "2.5")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, IngestQueue, cfg.Server.IngestMode)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Business.ListWindowDays)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.InDelta(t, 2.5, cfg.Telegram.RatePerSecond, 1e-9)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	t.Setenv("INGEST_MODE", "carrier-pigeon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("INGEST_MODE", "sync")
	t.Setenv("BUSINESS_TIMEZONE", "Mars/Olympus")
	_, err = Load()
	assert.Error(t, err)
}
