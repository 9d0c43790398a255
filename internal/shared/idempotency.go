package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore maintains idempotency_keys. Keys are claimed inside the
// writing transaction by the owning repository; this store only expires them.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// PurgeIdempotencyKeys removes keys claimed before cutoff and reports how
// many were deleted.
func (s *IdempotencyStore) PurgeIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, errors.New("idempotency store not initialised")
	}
	cmd, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
