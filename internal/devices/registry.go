// Package devices tracks the active devices of each account and enforces the
// per-account device cap at login time. The registry is the only writer of
// the device set; login and logout events from the auth layer feed it, and
// the media gate consults it on every protected request.
//
// Concurrency: every read-check-evict-insert sequence for one account runs
// under that account's mutex, so two racing logins can never both observe
// room under the cap and both insert. Different accounts never contend.
package devices

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDeviceLimitReached is returned under the interactive eviction policy
	// when a new device would exceed the cap. The login is parked as a
	// PendingLogin until ResolvePending picks a device to evict.
	ErrDeviceLimitReached = errors.New("device limit reached")

	// ErrNoPendingLogin is returned by ResolvePending when the account has no
	// parked login to complete.
	ErrNoPendingLogin = errors.New("no pending login for account")

	// ErrUnknownDevice is returned when an eviction names a fingerprint that
	// is not in the account's set.
	ErrUnknownDevice = errors.New("device not found")
)

// Policy selects the over-cap behavior of RecordLogin.
type Policy int

const (
	// EvictOldest rotates out the least-recently-seen device automatically.
	EvictOldest Policy = iota
	// RequireChoice parks the login and waits for ResolvePending.
	RequireChoice
)

// PendingLogin is a login blocked by the interactive policy, keyed by account.
type PendingLogin struct {
	Device    Device
	CreatedAt time.Time
}

// Registry enforces the device cap over a Store.
type Registry struct {
	store  Store
	limit  int
	policy Policy
	fpKey  []byte // keyed-hash salt for fingerprints

	mu      sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
	pending map[uuid.UUID]PendingLogin
}

// NewRegistry creates a Registry. limit must be >= 1; fpKey is the derived
// fingerprint-hashing key (see internal/token).
func NewRegistry(store Store, limit int, policy Policy, fpKey []byte) *Registry {
	if limit < 1 {
		limit = 1
	}
	k := make([]byte, len(fpKey))
	copy(k, fpKey)
	return &Registry{
		store:   store,
		limit:   limit,
		policy:  policy,
		fpKey:   k,
		locks:   make(map[uuid.UUID]*sync.Mutex),
		pending: make(map[uuid.UUID]PendingLogin),
	}
}

// RecordLogin admits a device on login. A known fingerprint refreshes
// last-seen metadata in place. A new fingerprint within the cap is inserted.
// Over the cap: EvictOldest removes the least-recently-seen device and
// inserts; RequireChoice parks the login and returns ErrDeviceLimitReached.
func (r *Registry) RecordLogin(ctx context.Context, accountID uuid.UUID, fingerprint, ip, userAgent string, now time.Time) error {
	lock := r.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	d := Device{
		Fingerprint: r.hashFingerprint(fingerprint),
		LastSeen:    now,
		IP:          ip,
		UserAgent:   userAgent,
	}

	current, err := r.store.List(ctx, accountID)
	if err != nil {
		return err
	}

	for _, existing := range current {
		if existing.Fingerprint == d.Fingerprint {
			// Idempotent refresh.
			return r.store.Upsert(ctx, accountID, d)
		}
	}

	if len(current) < r.limit {
		return r.store.Upsert(ctx, accountID, d)
	}

	if r.policy == RequireChoice {
		r.mu.Lock()
		r.pending[accountID] = PendingLogin{Device: d, CreatedAt: now}
		r.mu.Unlock()
		return ErrDeviceLimitReached
	}

	// Automatic rotation: List is newest-first, so the victim is the tail.
	victim := current[len(current)-1]
	if _, err := r.store.Delete(ctx, accountID, victim.Fingerprint); err != nil {
		return err
	}
	return r.store.Upsert(ctx, accountID, d)
}

// ResolvePending completes a login parked by RequireChoice. evictFingerprint
// is the hashed fingerprint of the device to remove, as returned by List; an
// empty string accepts automatic eviction of the oldest device.
func (r *Registry) ResolvePending(ctx context.Context, accountID uuid.UUID, evictFingerprint string) error {
	lock := r.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	p, ok := r.pending[accountID]
	r.mu.Unlock()
	if !ok {
		return ErrNoPendingLogin
	}

	current, err := r.store.List(ctx, accountID)
	if err != nil {
		return err
	}

	// The set may have shrunk since the login was parked.
	if len(current) >= r.limit {
		victim := evictFingerprint
		if victim == "" {
			victim = current[len(current)-1].Fingerprint
		}
		removed, err := r.store.Delete(ctx, accountID, victim)
		if err != nil {
			return err
		}
		if !removed {
			return ErrUnknownDevice
		}
	}

	if err := r.store.Upsert(ctx, accountID, p.Device); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.pending, accountID)
	r.mu.Unlock()
	return nil
}

// Pending returns the parked login for an account, if any.
func (r *Registry) Pending(accountID uuid.UUID) (PendingLogin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[accountID]
	return p, ok
}

// RecordLogout removes the device for a logged-out fingerprint. Absence is
// not an error: the device may already have been rotated out remotely.
func (r *Registry) RecordLogout(ctx context.Context, accountID uuid.UUID, fingerprint string) error {
	lock := r.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	_, err := r.store.Delete(ctx, accountID, r.hashFingerprint(fingerprint))
	return err
}

// Revoke removes a device by its hashed fingerprint (as shown by List).
// Used by the device-management endpoints.
func (r *Registry) Revoke(ctx context.Context, accountID uuid.UUID, hashedFingerprint string) error {
	lock := r.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	removed, err := r.store.Delete(ctx, accountID, hashedFingerprint)
	if err != nil {
		return err
	}
	if !removed {
		return ErrUnknownDevice
	}
	return nil
}

// IsMember reports whether the fingerprint is an active device on the
// account. Consulted on every protected media request and on page loads to
// terminate sessions whose device was evicted from elsewhere.
func (r *Registry) IsMember(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error) {
	hashed := r.hashFingerprint(fingerprint)
	current, err := r.store.List(ctx, accountID)
	if err != nil {
		return false, err
	}
	for _, d := range current {
		if d.Fingerprint == hashed {
			return true, nil
		}
	}
	return false, nil
}

// List returns the account's devices, newest last-seen first.
func (r *Registry) List(ctx context.Context, accountID uuid.UUID) ([]Device, error) {
	return r.store.List(ctx, accountID)
}

// Count returns the total number of registered devices across all accounts.
// Feeds the active-devices gauge.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Reap runs one stale-device sweep and returns the number removed.
func (r *Registry) Reap(ctx context.Context, staleAfter time.Duration) (int, error) {
	return r.store.DeleteStale(ctx, time.Now().Add(-staleAfter))
}

// ReapLoop periodically drops devices not seen within staleAfter.
// Run in a goroutine; returns when ctx is canceled.
func (r *Registry) ReapLoop(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Reap(ctx, staleAfter)
		}
	}
}

// accountLock returns the mutex for one account, creating it on first use.
func (r *Registry) accountLock(accountID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[accountID] = lock
	}
	return lock
}

// hashFingerprint computes HMAC-SHA256(fpKey, fingerprint) as lowercase hex.
// The raw client fingerprint never reaches storage or logs.
func (r *Registry) hashFingerprint(fingerprint string) string {
	mac := hmac.New(sha256.New, r.fpKey)
	mac.Write([]byte(fingerprint))
	return hex.EncodeToString(mac.Sum(nil))
}
