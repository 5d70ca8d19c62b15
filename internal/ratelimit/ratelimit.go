// Package ratelimit provides Redis-backed rate limiting for the gate's
// endpoints. When Redis is unavailable (nil store), all rate limits are
// disabled — requests pass. This ensures the service degrades gracefully in
// dev/test environments without Redis. Device fingerprints are SHA-256
// hashed before use as Redis keys so raw fingerprints never land in Redis.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Store is the minimal interface required for rate limiting.
// In production this is implemented by go-redis; in tests by an in-memory map.
type Store interface {
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL on a key (only if TTL not already set by the incr).
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live on a key. Returns 0 or negative if expired/missing.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) error
}

// Limiter performs rate limit checks against a Store.
type Limiter struct {
	store Store
	cfg   Config
}

// Config holds the per-endpoint rate limit settings.
type Config struct {
	// Login endpoint, keyed by client IP.
	LoginRate   int
	LoginWindow time.Duration

	// Media stream endpoint, keyed by device fingerprint hash (falls back
	// to client IP when no fingerprint is present).
	StreamRate   int
	StreamWindow time.Duration

	// Device management endpoints, keyed by account ID.
	DeviceRate   int
	DeviceWindow time.Duration
}

// DefaultConfig returns the production rate limit configuration.
//
//	Login:  20 requests per 15 minutes
//	Stream: 300 requests per minute
//	Device: 30 requests per minute
func DefaultConfig() Config {
	return Config{
		LoginRate:    20,
		LoginWindow:  15 * time.Minute,
		StreamRate:   300,
		StreamWindow: time.Minute,
		DeviceRate:   30,
		DeviceWindow: time.Minute,
	}
}

// New creates a Limiter backed by the given Store.
// If store is nil, the Limiter is a no-op that always allows requests.
func New(store Store, cfg Config) *Limiter {
	return &Limiter{store: store, cfg: cfg}
}

// CheckLogin enforces the login rate limit for a client IP.
// Returns (allowed bool, retryAfterSecs int).
func (l *Limiter) CheckLogin(ctx context.Context, ip string) (bool, int) {
	return l.check(ctx, fmt.Sprintf("rate:login:ip:%s", ip), l.cfg.LoginRate, l.cfg.LoginWindow)
}

// ResetLogin clears the login counter for an IP on successful login.
func (l *Limiter) ResetLogin(ctx context.Context, ip string) {
	if l.store == nil {
		return
	}
	l.store.Del(ctx, fmt.Sprintf("rate:login:ip:%s", ip))
}

// CheckStream enforces the stream rate limit. fingerprint may be empty, in
// which case the client IP is the key.
func (l *Limiter) CheckStream(ctx context.Context, fingerprint, ip string) (bool, int) {
	key := fmt.Sprintf("rate:stream:ip:%s", ip)
	if fingerprint != "" {
		key = fmt.Sprintf("rate:stream:fp:%s", hashKey(fingerprint))
	}
	return l.check(ctx, key, l.cfg.StreamRate, l.cfg.StreamWindow)
}

// CheckDevice enforces the device-management rate limit for an account.
func (l *Limiter) CheckDevice(ctx context.Context, accountID string) (bool, int) {
	return l.check(ctx, fmt.Sprintf("rate:device:%s", accountID), l.cfg.DeviceRate, l.cfg.DeviceWindow)
}

// ClientIP extracts the real client IP from a request, handling reverse proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}

// check is the generic increment-and-check against a Redis key.
// Returns (allowed, retryAfterSecs). If store is nil, always returns (true, 0).
func (l *Limiter) check(ctx context.Context, key string, max int, window time.Duration) (bool, int) {
	if l.store == nil || max <= 0 {
		return true, 0
	}

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		// Redis error — fail open (allow request, don't block on infra issues)
		return true, 0
	}

	if count == 1 {
		l.store.Expire(ctx, key, window)
	}

	if count > int64(max) {
		ttl, _ := l.store.TTL(ctx, key)
		retry := int(ttl.Seconds())
		if retry < 1 {
			retry = int(window.Seconds())
		}
		return false, retry
	}

	return true, 0
}

// hashKey produces a 16-hex-char hash of a value for use as a Redis key
// suffix. Avoids storing raw fingerprints in Redis; good enough for key
// uniqueness.
func hashKey(v string) string {
	sum := sha256.Sum256([]byte(v))
	return fmt.Sprintf("%x", sum[:8])
}
