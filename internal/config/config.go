package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the binaries need. All values come from the
// environment; anything unset falls back to a development default. An empty
// DBSource selects the in-memory store, empty KafkaBrokers selects the
// in-process event bus, and an empty RedisAddr disables the balance cache.
type Config struct {
	HTTPAddr string
	BasePath string
	Env      string

	DBSource string

	KafkaBrokers      []string
	TopicOrderCreated string
	ConsumerGroupID   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	RedisAddr string
	CacheTTL  time.Duration

	RequestTimeout time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr: ":" + getEnv("SERVER_PORT", "8080"),
		BasePath: getEnv("BASE_PATH", "/api/v1"),
		Env:      getEnv("ENVIRONMENT", "development"),

		DBSource: os.Getenv("DB_SOURCE"),

		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		TopicOrderCreated: getEnv("KAFKA_TOPIC_ORDER_CREATED", "orders.order_created.v1"),
		ConsumerGroupID:   getEnv("KAFKA_GROUP_ID", "order-index"),

		OutboxPollInterval: getDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
		OutboxBatchSize:    getInt("OUTBOX_BATCH_SIZE", 50),

		RedisAddr: os.Getenv("REDIS_ADDR"),
		CacheTTL:  getDuration("CACHE_TTL", 30*time.Second),

		RequestTimeout: getDuration("REQUEST_TIMEOUT", 5*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
