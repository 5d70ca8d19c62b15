// postgres.go — lib/pq-backed Store for multi-node deployments.
//
// Schema (applied by deploy migrations):
//
//	CREATE TABLE media_devices (
//	    account_id  UUID        NOT NULL,
//	    fingerprint TEXT        NOT NULL,
//	    last_seen   TIMESTAMPTZ NOT NULL,
//	    ip_address  TEXT        NOT NULL DEFAULT '',
//	    user_agent  TEXT        NOT NULL DEFAULT '',
//	    PRIMARY KEY (account_id, fingerprint)
//	);
package devices

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists device sets in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(ctx context.Context, accountID uuid.UUID) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, last_seen, ip_address, user_agent
		FROM media_devices
		WHERE account_id = $1
		ORDER BY last_seen DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("devices: list: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.Fingerprint, &d.LastSeen, &d.IP, &d.UserAgent); err != nil {
			return nil, fmt.Errorf("devices: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Upsert(ctx context.Context, accountID uuid.UUID, d Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_devices (account_id, fingerprint, last_seen, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, fingerprint) DO UPDATE SET
			last_seen  = EXCLUDED.last_seen,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent`,
		accountID, d.Fingerprint, d.LastSeen, d.IP, d.UserAgent)
	if err != nil {
		return fmt.Errorf("devices: upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM media_devices WHERE account_id = $1 AND fingerprint = $2`,
		accountID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("devices: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_devices`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("devices: count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM media_devices WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("devices: delete stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
