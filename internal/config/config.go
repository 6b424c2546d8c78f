package config

import (
	"log"
	"os"
	"strconv"
)

// Config carries every runtime knob. Values come from the environment
// with sensible defaults, so the binary runs with zero configuration.
type Config struct {
	Environment string
	Addr        string
	LogLevel    string

	// ProducerToken guards the ingest endpoints. Empty disables the check.
	ProducerToken string

	// Retention bounds, counted in entries rather than wall time.
	BucketCapacity   int
	EventLogCapacity int

	// SendBuffer is the per-subscriber outbound queue depth.
	SendBuffer int

	// FeedsPath points at the optional upstream feeds file.
	FeedsPath string

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

func Load() Config {
	return Config{
		Environment:        GetString("ENVIRONMENT", "development"),
		Addr:               GetString("ADDR", ":8080"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		ProducerToken:      GetString("PRODUCER_TOKEN", ""),
		BucketCapacity:     GetInt("RETENTION_BUCKETS", 120),
		EventLogCapacity:   GetInt("RETENTION_EVENTS", 360),
		SendBuffer:         GetInt("WS_SEND_BUFFER", 256),
		FeedsPath:          GetString("FEEDS_FILE", ""),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASS", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}
