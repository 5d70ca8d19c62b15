// store.go — storage backends for the device registry.
// The registry owns all locking and policy; a Store is plain CRUD over one
// account's device set and never interprets the device limit.
package devices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Device is one active device on an account. Fingerprint is the keyed hash of
// the client-supplied opaque fingerprint — raw fingerprints are never stored.
type Device struct {
	Fingerprint string    `json:"fingerprint"`
	LastSeen    time.Time `json:"last_seen"`
	IP          string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
}

// Store persists per-account device sets.
// Implementations: MemoryStore (tests, single-node) and PostgresStore.
type Store interface {
	// List returns the account's devices ordered newest LastSeen first.
	List(ctx context.Context, accountID uuid.UUID) ([]Device, error)
	// Upsert inserts the device or refreshes LastSeen/IP/UserAgent in place.
	Upsert(ctx context.Context, accountID uuid.UUID, d Device) error
	// Delete removes the device if present and reports whether it existed.
	Delete(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error)
	// DeleteStale drops devices with LastSeen before cutoff across all
	// accounts and returns the number removed.
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)
	// Count returns the number of devices across all accounts.
	Count(ctx context.Context) (int, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]map[string]Device
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[uuid.UUID]map[string]Device)}
}

func (s *MemoryStore) List(_ context.Context, accountID uuid.UUID) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.accounts[accountID]
	out := make([]Device, 0, len(set))
	for _, d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, accountID uuid.UUID, d Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.accounts[accountID]
	if set == nil {
		set = make(map[string]Device)
		s.accounts[accountID] = set
	}
	set[d.Fingerprint] = d
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, accountID uuid.UUID, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.accounts[accountID]
	if _, ok := set[fingerprint]; !ok {
		return false, nil
	}
	delete(set, fingerprint)
	if len(set) == 0 {
		delete(s.accounts, accountID)
	}
	return true, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, set := range s.accounts {
		n += len(set)
	}
	return n, nil
}

func (s *MemoryStore) DeleteStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for acct, set := range s.accounts {
		for fp, d := range set {
			if d.LastSeen.Before(cutoff) {
				delete(set, fp)
				removed++
			}
		}
		if len(set) == 0 {
			delete(s.accounts, acct)
		}
	}
	return removed, nil
}
