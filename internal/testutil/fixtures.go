// fixtures.go — Test data seed helpers for device rows.
package testutil

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// DeviceRow represents a minimal seeded device.
type DeviceRow struct {
	AccountID   uuid.UUID
	Fingerprint string
}

// SeedDevice inserts a device row for the given account and returns it.
// The fingerprint is unique per call so tests do not collide.
func SeedDevice(t *testing.T, db *sql.DB, accountID uuid.UUID) *DeviceRow {
	t.Helper()
	row := &DeviceRow{
		AccountID:   accountID,
		Fingerprint: fmt.Sprintf("fp-test-%d", time.Now().UnixNano()),
	}
	_, err := db.Exec(`
		INSERT INTO media_devices (account_id, fingerprint, last_seen, ip_address, user_agent)
		VALUES ($1, $2, NOW(), '203.0.113.9', 'testutil')
	`, row.AccountID, row.Fingerprint)
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
	return row
}

// CleanupAccountDevices removes all device rows for an account.
func CleanupAccountDevices(db *sql.DB, accountID uuid.UUID) {
	_, _ = db.Exec(`DELETE FROM media_devices WHERE account_id = $1`, accountID)
}
