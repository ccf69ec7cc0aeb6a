package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AcquireLease takes the named lease for holder if it is free or expired at
// now. The insert-or-steal is one statement, so concurrent callers across
// processes sharing the database see exactly one winner.
func (s *Store) AcquireLease(ctx context.Context, lease Lease, now time.Time) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO leases (name, holder, lease_id, acquired_at, expires_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET
             holder = excluded.holder,
             lease_id = excluded.lease_id,
             acquired_at = excluded.acquired_at,
             expires_at = excluded.expires_at
         WHERE leases.expires_at <= ?`,
		lease.Name,
		lease.Holder,
		lease.ID,
		lease.AcquiredAt.UnixMilli(),
		lease.ExpiresAt.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		return false, unavailable("acquire lease", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("acquire lease", err)
	}
	return affected > 0, nil
}

// ReleaseLease drops the named lease only if leaseID still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, leaseID string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM leases WHERE name = ? AND lease_id = ?`, name, leaseID)
	if err != nil {
		return false, unavailable("release lease", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("release lease", err)
	}
	return affected > 0, nil
}

// CurrentLease returns the lease row for name, or nil when none is held.
func (s *Store) CurrentLease(ctx context.Context, name string) (*Lease, error) {
	ctx = ensureContext(ctx)
	var lease *Lease
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT name, holder, lease_id, acquired_at, expires_at FROM leases WHERE name = ?`, name)
		var scanErr error
		lease, scanErr = scanLease(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("current lease", err)
	}
	return lease, nil
}

// ExpireLeases deletes every lease past its expiry at now and returns the
// ones this call removed. Each delete is conditional on the lease id, so when
// several reapers race only one of them reports a given expiry.
func (s *Store) ExpireLeases(ctx context.Context, now time.Time) ([]Lease, error) {
	ctx = ensureContext(ctx)
	var candidates []Lease
	err := retryOnBusy(ctx, func() error {
		candidates = candidates[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT name, holder, lease_id, acquired_at, expires_at FROM leases WHERE expires_at <= ?`,
			now.UnixMilli(),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			lease, err := scanLease(rows)
			if err != nil {
				return err
			}
			candidates = append(candidates, *lease)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, unavailable("expire leases", err)
	}

	var expired []Lease
	for _, lease := range candidates {
		res, err := s.execWithRetry(ctx,
			`DELETE FROM leases WHERE name = ? AND lease_id = ? AND expires_at <= ?`,
			lease.Name, lease.ID, now.UnixMilli(),
		)
		if err != nil {
			return expired, unavailable("expire leases", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected > 0 {
			expired = append(expired, lease)
		}
	}
	return expired, nil
}

func scanLease(row scanner) (*Lease, error) {
	var (
		lease      Lease
		acquiredMS int64
		expiresMS  int64
	)
	if err := row.Scan(&lease.Name, &lease.Holder, &lease.ID, &acquiredMS, &expiresMS); err != nil {
		return nil, err
	}
	lease.AcquiredAt = time.UnixMilli(acquiredMS).UTC()
	lease.ExpiresAt = time.UnixMilli(expiresMS).UTC()
	return &lease, nil
}
