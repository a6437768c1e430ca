package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	LogLevel string
	// LogFormat is "console" or "json".
	LogFormat string
	LogOutput string

	UpstreamURL     string
	AppID           string
	TokenTTL        time.Duration
	RateInterval    time.Duration
	UpstreamTimeout time.Duration

	FeedTitle string

	CacheEnabled bool
	CacheTTL     time.Duration
	// CacheBackend is "memory" or "redis".
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	CORSOrigins []string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      getEnv("PORT", "4444"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogOutput: getEnv("LOG_OUTPUT", "stdout"),

		UpstreamURL:     getEnv("UPSTREAM_URL", "https://torrentapi.org/pubapi_v2.php"),
		AppID:           getEnv("APP_ID", "rarbg-rss"),
		TokenTTL:        getEnvDuration("TOKEN_TTL", 15*time.Minute),
		RateInterval:    getEnvDuration("RATE_INTERVAL", 2*time.Second),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),

		FeedTitle: getEnv("FEED_TITLE", "rarbg"),

		CacheEnabled:  getEnvBool("CACHE_ENABLED", true),
		CacheTTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheBackend:  strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "rarbg:feed"),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}

	u, err := url.Parse(c.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("UPSTREAM_URL is not an absolute URL: %q", c.UpstreamURL)
	}

	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be > 0")
	}
	if c.RateInterval <= 0 {
		return errors.New("RATE_INTERVAL must be > 0")
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be > 0")
	}

	for _, origin := range c.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("CORS_ORIGINS entries must be * or start with http(s)://, got %q", origin)
		}
	}

	if c.CacheEnabled {
		if c.CacheTTL <= 0 {
			return errors.New("CACHE_TTL must be > 0 when caching is enabled")
		}
		switch c.CacheBackend {
		case "memory":
		case "redis":
			if strings.TrimSpace(c.RedisAddr) == "" {
				return errors.New("REDIS_ADDR is required when CACHE_BACKEND=redis")
			}
		default:
			return fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.CacheBackend)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
