package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/jvledger/internal/accounting/periods"
)

type periodRepository struct {
	s *Store
}

// Periods returns the period-lock repository.
func (s *Store) Periods() periods.Repository {
	return &periodRepository{s: s}
}

func (r *periodRepository) IsLocked(ctx context.Context, year int, month time.Month) (bool, error) {
	var locked bool
	err := r.s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM period_locks WHERE year=? AND month=?)`, year, int(month)).Scan(&locked)
	return locked, err
}

func (r *periodRepository) Lock(ctx context.Context, in periods.PeriodLock) (periods.PeriodLock, error) {
	out := in
	var month int
	var lockedAt string
	err := r.s.db.QueryRowContext(ctx, `INSERT INTO period_locks (year, month, locked_by, locked_at, note) VALUES (?,?,?,?,?)
ON CONFLICT (year, month) DO UPDATE SET note=COALESCE(NULLIF(excluded.note, ''), period_locks.note)
RETURNING id, month, locked_by, locked_at`, in.Year, int(in.Month), in.LockedBy, r.s.stamp(), in.Note).
		Scan(&out.ID, &month, &out.LockedBy, &lockedAt)
	if err != nil {
		return periods.PeriodLock{}, fmt.Errorf("sqlite: lock %s: %w", in.Key(), err)
	}
	out.Month = time.Month(month)
	out.LockedAt = parseTime(lockedAt)
	return out, nil
}

func (r *periodRepository) List(ctx context.Context) ([]periods.PeriodLock, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT id, year, month, locked_by, locked_at, COALESCE(note, '') FROM period_locks ORDER BY year DESC, month DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []periods.PeriodLock
	for rows.Next() {
		var p periods.PeriodLock
		var month int
		var lockedAt string
		if err := rows.Scan(&p.ID, &p.Year, &month, &p.LockedBy, &lockedAt, &p.Note); err != nil {
			return nil, err
		}
		p.Month = time.Month(month)
		p.LockedAt = parseTime(lockedAt)
		locks = append(locks, p)
	}
	return locks, rows.Err()
}
