package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the meshforge server.
type Config struct {
	Server     ServerConfig
	Generation GenerationConfig
	Redis      RedisConfig
	Session    SessionConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// GenerationConfig describes how the server talks to the Generation Service.
type GenerationConfig struct {
	ServiceURL     string
	PollInterval   time.Duration
	HTTPTimeout    time.Duration // 0 leaves requests bounded by the transport only
	ArtStyle       string
	NegativePrompt string
}

// RedisConfig is optional. Without a URL, rate limiting is disabled.
type RedisConfig struct {
	URL                string
	RateLimitPerMinute int
}

type SessionConfig struct {
	IdleTTL     time.Duration
	MaxSessions int
}

var validArtStyles = map[string]bool{
	"":          true,
	"realistic": true,
	"sculpture": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("MESHFORGE_PORT", 8080),
			Env:  envString("MESHFORGE_ENV", "development"),
		},
		Generation: GenerationConfig{
			ServiceURL:     strings.TrimRight(envString("GENERATION_SERVICE_URL", "http://127.0.0.1:5000"), "/"),
			PollInterval:   envDuration("GENERATION_POLL_INTERVAL", 5*time.Second),
			HTTPTimeout:    envDuration("GENERATION_HTTP_TIMEOUT", 0),
			ArtStyle:       os.Getenv("GENERATION_ART_STYLE"),
			NegativePrompt: os.Getenv("GENERATION_NEGATIVE_PROMPT"),
		},
		Redis: RedisConfig{
			URL:                os.Getenv("REDIS_URL"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 10),
		},
		Session: SessionConfig{
			IdleTTL:     envDuration("SESSION_IDLE_TTL", 30*time.Minute),
			MaxSessions: envInt("SESSION_MAX", 1000),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("MESHFORGE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !strings.HasPrefix(c.Generation.ServiceURL, "http://") && !strings.HasPrefix(c.Generation.ServiceURL, "https://") {
		return fmt.Errorf("GENERATION_SERVICE_URL must start with http:// or https://, got %q", c.Generation.ServiceURL)
	}
	if c.Generation.PollInterval <= 0 {
		return fmt.Errorf("GENERATION_POLL_INTERVAL must be positive, got %s", c.Generation.PollInterval)
	}
	if c.Generation.HTTPTimeout < 0 {
		return fmt.Errorf("GENERATION_HTTP_TIMEOUT must not be negative, got %s", c.Generation.HTTPTimeout)
	}
	if !validArtStyles[c.Generation.ArtStyle] {
		return fmt.Errorf("GENERATION_ART_STYLE must be realistic or sculpture; got %q", c.Generation.ArtStyle)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}
	if c.Redis.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.Redis.RateLimitPerMinute)
	}

	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive, got %s", c.Session.IdleTTL)
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("SESSION_MAX must be positive, got %d", c.Session.MaxSessions)
	}

	return nil
}

// RateLimitEnabled reports whether a Redis URL was configured.
func (c *Config) RateLimitEnabled() bool {
	return c.Redis.URL != ""
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
