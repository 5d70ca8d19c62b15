// Package auth provides account sessions for mediagate. The wider user system
// (registration, passwords, profile data) lives in the host platform; this
// package only turns a completed login into a signed session token and
// answers "who is calling?" for the media gate and device endpoints.
//
// Sessions are HS256 JWTs carrying the account id, the device fingerprint the
// session was opened from, and a unique session id (jti). Every issued jti is
// tracked in an ActiveStore so sessions can be destroyed remotely — the
// single-session policy destroys all of an account's other sessions on login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrSessionInvalid is returned when a session token cannot be validated or
// has been revoked.
var ErrSessionInvalid = errors.New("invalid or revoked session")

// Session is the validated identity attached to a request.
type Session struct {
	AccountID   uuid.UUID
	Fingerprint string
	SessionID   string
}

// Claims is the JWT payload for mediagate sessions.
type Claims struct {
	jwt.RegisteredClaims
	Fingerprint string `json:"fpt,omitempty"`
}

// ActiveStore tracks which session ids are currently live per account.
// Implementations: MemoryActiveStore and RedisActiveStore.
type ActiveStore interface {
	Add(ctx context.Context, accountID uuid.UUID, sessionID string, ttl time.Duration) error
	IsActive(ctx context.Context, accountID uuid.UUID, sessionID string) (bool, error)
	Remove(ctx context.Context, accountID uuid.UUID, sessionID string) error
	// RemoveOthers revokes every session of the account except keep.
	RemoveOthers(ctx context.Context, accountID uuid.UUID, keep string) error
}

// Manager issues and validates session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	store  ActiveStore
	now    func() time.Time
}

// NewManager creates a session manager. store may be nil, in which case
// revocation checks are skipped and DestroyOtherSessions is a no-op (tokens
// remain valid until expiry).
func NewManager(secret string, ttl time.Duration, store ActiveStore) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl, store: store, now: time.Now}
}

// Issue creates a session token for an account logged in from fingerprint.
func (m *Manager) Issue(ctx context.Context, accountID uuid.UUID, fingerprint string) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(), // jti, unique per session for revocation
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Issuer:    "mediagate",
		},
		Fingerprint: fingerprint,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign session: %w", err)
	}

	if m.store != nil {
		if err := m.store.Add(ctx, accountID, claims.ID, m.ttl); err != nil {
			return "", fmt.Errorf("auth: record session: %w", err)
		}
	}
	return signed, nil
}

// Validate parses a session token and checks it against the active store.
func (m *Manager) Validate(ctx context.Context, tokenStr string) (*Session, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, ErrSessionInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrSessionInvalid
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	if m.store != nil {
		active, err := m.store.IsActive(ctx, accountID, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("auth: session lookup: %w", err)
		}
		if !active {
			return nil, ErrSessionInvalid
		}
	}

	return &Session{
		AccountID:   accountID,
		Fingerprint: claims.Fingerprint,
		SessionID:   claims.ID,
	}, nil
}

// Destroy revokes a single session.
func (m *Manager) Destroy(ctx context.Context, accountID uuid.UUID, sessionID string) error {
	if m.store == nil {
		return nil
	}
	return m.store.Remove(ctx, accountID, sessionID)
}

// DestroyOtherSessions revokes every session of the account except keep.
// This is the single-session policy hook: it acts on sessions, not devices.
func (m *Manager) DestroyOtherSessions(ctx context.Context, accountID uuid.UUID, keep string) error {
	if m.store == nil {
		return nil
	}
	return m.store.RemoveOthers(ctx, accountID, keep)
}
