package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/odyssey-erp/jvledger/internal/accounting/accounts"
	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
)

type accountRepository struct {
	s *Store
}

// Accounts returns the chart-of-accounts repository.
func (s *Store) Accounts() accounts.Repository {
	return &accountRepository{s: s}
}

const accountColumns = `id, code, name, type, active, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (accounts.Account, error) {
	var a accounts.Account
	var created, updated string
	if err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Active, &created, &updated); err != nil {
		return accounts.Account{}, err
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

func (r *accountRepository) List(ctx context.Context) ([]accounts.Account, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []accounts.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *accountRepository) FindByID(ctx context.Context, id int64) (accounts.Account, error) {
	a, err := scanAccount(r.s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return accounts.Account{}, shared.ErrAccountNotFound
		}
		return accounts.Account{}, err
	}
	return a, nil
}

func (r *accountRepository) Upsert(ctx context.Context, in accounts.Account) (accounts.Account, error) {
	now := r.s.stamp()
	a, err := scanAccount(r.s.db.QueryRowContext(ctx, `INSERT INTO accounts (code, name, type, active, created_at, updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT (code) DO UPDATE SET name=excluded.name, type=excluded.type, active=excluded.active, updated_at=excluded.updated_at
RETURNING `+accountColumns, in.Code, in.Name, in.Type, in.Active, now, now))
	if err != nil {
		return accounts.Account{}, err
	}
	return a, nil
}
