package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env              string
	LogLevel         string
	Port             uint16
	DatabaseUrl      string // empty runs on the in-memory store
	RedisUrl         string // empty keeps idempotency keys in memory and disables the order cache
	MetricsNamespace string
	MaxBodyBytes     int64
	CORSOrigins      []string
	Events           EventsConfig
	Retry            RetryConfig
	Reaper           ReaperConfig
	Relay            RelayConfig
	Idempotency      IdempotencyConfig
	Cache            CacheConfig
	RateLimit        RateLimitConfig
	Tracing          TracingConfig
}

// EventsConfig selects where outbox events are dispatched.
type EventsConfig struct {
	Kind          string // "log", "kafka" or "nats"
	KafkaBrokers  []string
	KafkaTopic    string
	NATSUrl       string
	SubjectPrefix string
}

// RetryConfig bounds the optimistic write loops of the ledger and approvals.
type RetryConfig struct {
	Attempts      int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

type ReaperConfig struct {
	Enabled     bool
	SLA         time.Duration
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

type RelayConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	Lease     time.Duration
}

type IdempotencyConfig struct {
	TTL time.Duration
}

type CacheConfig struct {
	TTL time.Duration
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

type TracingConfig struct {
	Endpoint    string // OTLP/HTTP collector host:port; empty disables export
	Insecure    bool
	SampleRatio float64
}

var eventKinds = []string{"log", "kafka", "nats"}

func NewConfig() (*Config, error) {
	// Try to load .env from current directory, then walk up to find it (max 2 levels)
	err := godotenv.Load()
	if err != nil {
		dir, _ := os.Getwd()
		found := false
		for range 2 {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				found = true
				break
			}
		}
		if !found {
			slog.Default().Warn("Warning: .env file not found, using environment variables and defaults")
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Env:              v.GetString("ENV"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		Port:             v.GetUint16("PORT"),
		DatabaseUrl:      v.GetString("DATABASE_URL"),
		RedisUrl:         v.GetString("REDIS_URL"),
		MetricsNamespace: v.GetString("METRICS_NAMESPACE"),
		MaxBodyBytes:     v.GetInt64("MAX_BODY_BYTES"),
		CORSOrigins:      splitList(v.GetString("CORS_ORIGINS")),
		Events: EventsConfig{
			Kind:          strings.ToLower(v.GetString("EVENTS_KIND")),
			KafkaBrokers:  splitList(v.GetString("KAFKA_BROKERS")),
			KafkaTopic:    v.GetString("KAFKA_TOPIC"),
			NATSUrl:       v.GetString("NATS_URL"),
			SubjectPrefix: v.GetString("NATS_SUBJECT_PREFIX"),
		},
		Retry: RetryConfig{
			Attempts:      v.GetInt("RETRY_ATTEMPTS"),
			BaseDelay:     v.GetDuration("RETRY_BASE_DELAY"),
			MaxDelay:      v.GetDuration("RETRY_MAX_DELAY"),
			JitterPercent: v.GetUint64("RETRY_JITTER_PERCENT"),
		},
		Reaper: ReaperConfig{
			Enabled:     v.GetBool("REAPER_ENABLED"),
			SLA:         v.GetDuration("APPROVAL_SLA"),
			Interval:    v.GetDuration("REAPER_INTERVAL"),
			BatchSize:   v.GetInt("REAPER_BATCH_SIZE"),
			Concurrency: v.GetInt("REAPER_CONCURRENCY"),
		},
		Relay: RelayConfig{
			Enabled:   v.GetBool("RELAY_ENABLED"),
			Interval:  v.GetDuration("RELAY_INTERVAL"),
			BatchSize: v.GetInt("RELAY_BATCH_SIZE"),
			Lease:     v.GetDuration("RELAY_LEASE"),
		},
		Idempotency: IdempotencyConfig{TTL: v.GetDuration("IDEMPOTENCY_TTL")},
		Cache:       CacheConfig{TTL: v.GetDuration("ORDER_CACHE_TTL")},
		RateLimit: RateLimitConfig{
			Enabled:           v.GetBool("RATE_LIMIT_ENABLED"),
			RequestsPerSecond: v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:             v.GetInt("RATE_LIMIT_BURST"),
		},
		Tracing: TracingConfig{
			Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
			SampleRatio: v.GetFloat64("OTEL_SAMPLE_RATIO"),
		},
	}

	// Validate env
	validEnv := cfg.Env == "dev" || cfg.Env == "prod"
	if !validEnv {
		slog.Default().Warn("Invalid environment. Using default: prod", slog.String("env", cfg.Env))
		cfg.Env = "prod"
	}

	// Validate log level
	validLevel := cfg.LogLevel == "info" || cfg.LogLevel == "debug" || cfg.LogLevel == "warn" || cfg.LogLevel == "error"
	if !validLevel {
		slog.Default().Warn("Invalid log level. Using default: info", slog.String("value", cfg.LogLevel))
		cfg.LogLevel = "info"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", 3000)
	v.SetDefault("METRICS_NAMESPACE", "franchise")
	v.SetDefault("MAX_BODY_BYTES", 1<<20)

	v.SetDefault("EVENTS_KIND", "log")
	v.SetDefault("KAFKA_TOPIC", "franchise.order-events")
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_SUBJECT_PREFIX", "franchise")

	v.SetDefault("RETRY_ATTEMPTS", 5)
	v.SetDefault("RETRY_BASE_DELAY", "10ms")
	v.SetDefault("RETRY_MAX_DELAY", "200ms")
	v.SetDefault("RETRY_JITTER_PERCENT", 30)

	v.SetDefault("REAPER_ENABLED", true)
	v.SetDefault("APPROVAL_SLA", "72h")
	v.SetDefault("REAPER_INTERVAL", "1m")
	v.SetDefault("REAPER_BATCH_SIZE", 100)
	v.SetDefault("REAPER_CONCURRENCY", 5)

	v.SetDefault("RELAY_ENABLED", true)
	v.SetDefault("RELAY_INTERVAL", "500ms")
	v.SetDefault("RELAY_BATCH_SIZE", 100)
	v.SetDefault("RELAY_LEASE", "30s")

	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("ORDER_CACHE_TTL", "10m")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
}

func (c *Config) validate() error {
	if !slices.Contains(eventKinds, c.Events.Kind) {
		return fmt.Errorf("EVENTS_KIND must be one of %s, got %q", strings.Join(eventKinds, ", "), c.Events.Kind)
	}
	if c.Events.Kind == "kafka" && len(c.Events.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS required when EVENTS_KIND=kafka")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Reaper.Enabled && c.Reaper.SLA <= 0 {
		return fmt.Errorf("APPROVAL_SLA must be positive")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}

	// The in-memory store loses orders and stock on restart
	if c.Env == "prod" && c.DatabaseUrl == "" {
		return fmt.Errorf("DATABASE_URL must be set in production environment")
	}
	return nil
}

// splitList splits a comma-separated value and drops empty entries.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
