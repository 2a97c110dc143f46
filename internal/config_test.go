package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("EVENTS_KIND", "")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, uint16(3000), cfg.Port)
	assert.Equal(t, "log", cfg.Events.Kind)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 72*time.Hour, cfg.Reaper.SLA)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.True(t, cfg.Relay.Enabled)
}

func TestNewConfig_FromEnvironment(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_URL", "postgres://localhost/franchise")
	t.Setenv("EVENTS_KIND", "Kafka")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("APPROVAL_SLA", "48h")
	t.Setenv("CORS_ORIGINS", "https://portal.example.com")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, uint16(8080), cfg.Port)
	assert.Equal(t, "kafka", cfg.Events.Kind)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 48*time.Hour, cfg.Reaper.SLA)
	assert.Equal(t, []string{"https://portal.example.com"}, cfg.CORSOrigins)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown broker", map[string]string{"EVENTS_KIND": "rabbit"}},
		{"kafka without brokers", map[string]string{"EVENTS_KIND": "kafka", "KAFKA_BROKERS": ""}},
		{"zero attempts", map[string]string{"RETRY_ATTEMPTS": "0"}},
		{"sample ratio", map[string]string{"OTEL_SAMPLE_RATIO": "1.5"}},
		{"prod without database", map[string]string{"ENV": "prod", "DATABASE_URL": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", "dev")
			t.Setenv("DATABASE_URL", "")
			t.Setenv("EVENTS_KIND", "log")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,,b "))
}
