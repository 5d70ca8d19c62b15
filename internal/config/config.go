// Package config provides centralized configuration loading for mediagate.
// All settings come from environment variables and are validated once at
// startup; core packages receive the values they need at construction and
// never read the environment themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EvictionPolicy selects how the device registry handles a login that would
// exceed the device cap.
type EvictionPolicy string

const (
	// EvictAutomatic silently rotates out the least-recently-seen device.
	EvictAutomatic EvictionPolicy = "automatic"

	// EvictInteractive blocks the login and parks it as a pending request
	// until the account owner picks a device to evict.
	EvictInteractive EvictionPolicy = "interactive"
)

// Config holds all mediagate service configuration.
type Config struct {
	// Core
	Port    string
	BaseURL string

	// Media delivery
	StorageRoot string        // local root all media paths resolve under
	LinkTTL     time.Duration // protected link lifetime
	SecretKey   string        // master secret; signing keys are derived from it

	// Feature toggles
	ProtectionEnabled bool
	BindClientIP      bool
	DeviceLimit       int // 0 disables device limiting
	EvictionPolicy    EvictionPolicy
	SingleSession     bool

	// Abuse controls
	BlockedAgents []string // user-agent substrings denied on the media endpoint

	// Database / Redis
	PostgresURL string // empty: in-memory device store
	RedisURL    string // empty: rate limiting disabled

	// Auth sessions
	SessionSecret string
	SessionTTL    time.Duration

	// Observability
	SentryDSN string
	LogLevel  string
	LogFormat string
}

// defaultBlockedAgents covers the download-manager tools the media endpoint
// refuses outright. Matching is case-insensitive substring.
var defaultBlockedAgents = []string{
	"idm", "internet download manager", "jdownloader",
	"wget", "curl", "aria2", "flashget", "fdm",
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	ttlSecs, err := strconv.Atoi(getenv("MEDIAGATE_LINK_TTL_SECS", "3600"))
	if err != nil || ttlSecs <= 0 {
		return nil, fmt.Errorf("MEDIAGATE_LINK_TTL_SECS must be a positive integer")
	}

	deviceLimit, err := strconv.Atoi(getenv("MEDIAGATE_DEVICE_LIMIT", "5"))
	if err != nil || deviceLimit < 0 {
		return nil, fmt.Errorf("MEDIAGATE_DEVICE_LIMIT must be a non-negative integer")
	}

	sessionTTL := 24 * time.Hour
	if v := os.Getenv("MEDIAGATE_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("MEDIAGATE_SESSION_TTL: %w", err)
		}
		sessionTTL = d
	}

	c := &Config{
		Port:    getenv("PORT", "8080"),
		BaseURL: getenv("MEDIAGATE_BASE_URL", "http://localhost:8080"),

		StorageRoot: getenv("MEDIAGATE_STORAGE_ROOT", "/var/mediagate/media"),
		LinkTTL:     time.Duration(ttlSecs) * time.Second,
		SecretKey:   os.Getenv("MEDIAGATE_SECRET_KEY"),

		ProtectionEnabled: getenvBool("MEDIAGATE_PROTECTION_ENABLED", true),
		BindClientIP:      getenvBool("MEDIAGATE_BIND_CLIENT_IP", false),
		DeviceLimit:       deviceLimit,
		EvictionPolicy:    parseEvictionPolicy(getenv("MEDIAGATE_EVICTION_POLICY", "automatic")),
		SingleSession:     getenvBool("MEDIAGATE_SINGLE_SESSION", false),

		BlockedAgents: parseAgentList(os.Getenv("MEDIAGATE_BLOCKED_AGENTS")),

		PostgresURL: os.Getenv("POSTGRES_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		SessionSecret: os.Getenv("MEDIAGATE_SESSION_SECRET"),
		SessionTTL:    sessionTTL,

		SentryDSN: os.Getenv("SENTRY_DSN"),
		LogLevel:  getenv("MEDIAGATE_LOG_LEVEL", "info"),
		LogFormat: getenv("MEDIAGATE_LOG_FORMAT", "json"),
	}

	if c.SecretKey == "" {
		return nil, fmt.Errorf("MEDIAGATE_SECRET_KEY is required")
	}
	if len(c.SecretKey) < 32 {
		return nil, fmt.Errorf("MEDIAGATE_SECRET_KEY must be at least 32 characters")
	}
	if c.SessionSecret == "" {
		c.SessionSecret = c.SecretKey
	}
	if c.StorageRoot == "" {
		return nil, fmt.Errorf("MEDIAGATE_STORAGE_ROOT must not be empty")
	}

	return c, nil
}

// DeviceLimitEnabled reports whether per-account device limiting is active.
func (c *Config) DeviceLimitEnabled() bool {
	return c.DeviceLimit > 0
}

func parseEvictionPolicy(s string) EvictionPolicy {
	switch strings.ToLower(s) {
	case "interactive":
		return EvictInteractive
	default:
		return EvictAutomatic
	}
}

// parseAgentList splits a comma-separated denylist from the environment,
// falling back to the built-in download-manager list.
func parseAgentList(s string) []string {
	if strings.TrimSpace(s) == "" {
		out := make([]string, len(defaultBlockedAgents))
		copy(out, defaultBlockedAgents)
		return out
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
