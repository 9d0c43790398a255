package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	IsLocked(ctx context.Context, year int, month time.Month) (bool, error)
	Lock(ctx context.Context, in PeriodLock) (PeriodLock, error)
	List(ctx context.Context) ([]PeriodLock, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) IsLocked(ctx context.Context, year int, month time.Month) (bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM period_locks WHERE year=$1 AND month=$2`, year, int(month)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Lock inserts the lock, keeping the existing row when the period is
// already closed.
func (r *repository) Lock(ctx context.Context, in PeriodLock) (PeriodLock, error) {
	out := in
	var month int
	err := r.db.QueryRow(ctx, `INSERT INTO period_locks (year, month, locked_by, note) VALUES ($1,$2,$3,$4)
ON CONFLICT (year, month) DO UPDATE SET note=COALESCE(NULLIF(EXCLUDED.note, ''), period_locks.note)
RETURNING id, month, locked_by, locked_at`, in.Year, int(in.Month), in.LockedBy, in.Note).
		Scan(&out.ID, &month, &out.LockedBy, &out.LockedAt)
	if err != nil {
		return PeriodLock{}, fmt.Errorf("periods: lock %s: %w", in.Key(), err)
	}
	out.Month = time.Month(month)
	return out, nil
}

func (r *repository) List(ctx context.Context) ([]PeriodLock, error) {
	rows, err := r.db.Query(ctx, `SELECT id, year, month, locked_by, locked_at, COALESCE(note, '') FROM period_locks ORDER BY year DESC, month DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []PeriodLock
	for rows.Next() {
		var p PeriodLock
		var month int
		if err := rows.Scan(&p.ID, &p.Year, &month, &p.LockedBy, &p.LockedAt, &p.Note); err != nil {
			return nil, err
		}
		p.Month = time.Month(month)
		locks = append(locks, p)
	}
	return locks, rows.Err()
}
