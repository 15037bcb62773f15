// Package config builds runtime configuration from the environment so main
// stays lean. Every collaborator degrades gracefully when unconfigured, so
// all fields except the listen address are optional.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	MaxLoops      int
}

// RedisConfig configures the optional redis live-feed sink.
type RedisConfig struct {
	URL          string
	FeedChannel  string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional kafka live-feed sink.
type KafkaConfig struct {
	Brokers   []string
	FeedTopic string
}

// Collaborator holds the endpoint settings for one external service.
type Collaborator struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Config is the full process configuration.
type Config struct {
	Server         Server
	Redis          RedisConfig
	Kafka          KafkaConfig
	Reasoning      Collaborator
	ReasoningModel string
	Emissions      Collaborator
	EntityRegistry Collaborator
	Intelligence   Collaborator
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envOr("VERITY_ADDR", ":8080"),
			JWTSigningKey: os.Getenv("VERITY_JWT_SIGNING_KEY"),
			MaxLoops:      envInt("VERITY_MAX_LOOPS", 3),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("VERITY_REDIS_URL"),
			FeedChannel:  envOr("VERITY_REDIS_FEED_CHANNEL", "verity.agent_log"),
			PoolSize:     envInt("VERITY_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("VERITY_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:   splitList(os.Getenv("VERITY_KAFKA_BROKERS")),
			FeedTopic: envOr("VERITY_KAFKA_FEED_TOPIC", "verity.agent-log"),
		},
		Reasoning: Collaborator{
			BaseURL: envOr("VERITY_REASONING_URL", "https://api.anthropic.com/v1"),
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			Timeout: 60 * time.Second,
		},
		ReasoningModel: envOr("VERITY_REASONING_MODEL", "claude-sonnet-4-20250514"),
		Emissions: Collaborator{
			BaseURL: envOr("VERITY_EMISSIONS_URL", "https://api.climatiq.io/data/v1"),
			APIKey:  os.Getenv("CLIMATIQ_API_KEY"),
			Timeout: 15 * time.Second,
		},
		EntityRegistry: Collaborator{
			BaseURL: envOr("VERITY_REGISTRY_URL", "https://api.gleif.org/api/v1"),
			Timeout: 15 * time.Second,
		},
		Intelligence: Collaborator{
			BaseURL: envOr("VERITY_INTEL_URL", "https://api.ydc-index.io"),
			APIKey:  os.Getenv("YOU_API_KEY"),
			Timeout: 15 * time.Second,
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
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
