package sqlite

import (
	"context"
	"time"

	"github.com/odyssey-erp/jvledger/internal/shared"
)

// Record appends an audit entry.
func (s *Store) Record(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	meta, err := log.MetaJSON()
	if err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = s.now()
	}
	var metaText any
	if meta != nil {
		metaText = string(meta)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES (?,?,?,?,?,?)`,
		nullInt(log.ActorID), log.Action, log.Entity, log.EntityID, metaText, at.UTC().Format(timeLayout))
	return err
}

// AuditTrail lists the entries of one entity, oldest first.
func (s *Store) AuditTrail(ctx context.Context, entity, entityID string) ([]shared.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT COALESCE(actor_id, 0), action, entity, entity_id, occurred_at FROM audit_logs WHERE entity=? AND entity_id=? ORDER BY id`, entity, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []shared.AuditLog
	for rows.Next() {
		var l shared.AuditLog
		var at string
		if err := rows.Scan(&l.ActorID, &l.Action, &l.Entity, &l.EntityID, &at); err != nil {
			return nil, err
		}
		l.At = parseTime(at)
		out = append(out, l)
	}
	return out, rows.Err()
}

// PurgeIdempotencyKeys removes keys claimed before cutoff.
func (s *Store) PurgeIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
