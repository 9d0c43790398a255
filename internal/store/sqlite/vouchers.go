package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
	"github.com/odyssey-erp/jvledger/internal/accounting/vouchers"
)

type voucherRepository struct {
	s *Store
}

// Vouchers returns the voucher repository.
func (s *Store) Vouchers() vouchers.Repository {
	return &voucherRepository{s: s}
}

func (r *voucherRepository) WithTx(ctx context.Context, fn func(context.Context, vouchers.TxRepository) error) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &voucherTx{s: r.s, tx: tx})
	})
}

func (r *voucherRepository) Get(ctx context.Context, id int64) (vouchers.Voucher, error) {
	return loadVoucher(ctx, r.s.db, id)
}

func (r *voucherRepository) AllocationDetails(ctx context.Context, entryID int64) ([]vouchers.AllocationDetail, error) {
	var exists bool
	if err := r.s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM voucher_entries WHERE id=?)`, entryID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, shared.ErrEntryNotFound
	}
	rows, err := r.s.db.QueryContext(ctx, `SELECT a.id, a.journal_voucher_id, a.debit_entry_id, a.credit_entry_id, a.amount,
da.id, da.code, da.name, ca.id, ca.code, ca.name
FROM voucher_entry_allocations a
JOIN voucher_entries de ON de.id = a.debit_entry_id
JOIN accounts da ON da.id = de.account_id
JOIN voucher_entries ce ON ce.id = a.credit_entry_id
JOIN accounts ca ON ca.id = ce.account_id
WHERE a.debit_entry_id=? OR a.credit_entry_id=?
ORDER BY a.id`, entryID, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []vouchers.AllocationDetail
	for rows.Next() {
		var d vouchers.AllocationDetail
		if err := rows.Scan(&d.ID, &d.VoucherID, &d.DebitLineID, &d.CreditLineID, &d.Amount,
			&d.DebitAccount.ID, &d.DebitAccount.Code, &d.DebitAccount.Name,
			&d.CreditAccount.ID, &d.CreditAccount.Code, &d.CreditAccount.Name); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *voucherRepository) ListAfter(ctx context.Context, afterID int64, limit int) ([]vouchers.Voucher, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+headerColumns+` FROM journal_vouchers WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	var list []vouchers.Voucher
	for rows.Next() {
		v, err := scanHeader(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		if err := loadChildren(ctx, r.s.db, &list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

type voucherTx struct {
	s  *Store
	tx *sql.Tx
}

// NextSequence reads and bumps the year's counter. The transaction already
// holds the database write lock, so no other creator can see the old value.
func (t *voucherTx) NextSequence(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `INSERT INTO jv_counters (year, last_number, updated_at) VALUES (?, 1, ?)
ON CONFLICT (year) DO UPDATE SET last_number = jv_counters.last_number + 1, updated_at = excluded.updated_at
RETURNING last_number`, year, t.s.stamp()).Scan(&seq)
	return seq, err
}

func (t *voucherTx) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES (?, ?, ?)`, key, module, t.s.stamp())
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrDuplicateRequest
		}
		return err
	}
	return nil
}

func (t *voucherTx) InsertVoucher(ctx context.Context, v vouchers.Voucher) (vouchers.Voucher, error) {
	stamp := t.s.stamp()
	res, err := t.tx.ExecContext(ctx, `INSERT INTO journal_vouchers (jv_number, transaction_date, status, narration, prepared_by, created_by, created_at, updated_at)
VALUES (?,?,?,NULLIF(?,''),?,?,?,?)`,
		v.Number, v.TransactionDate.Format(dateLayout), v.Status, v.Narration, nullInt(v.PreparedBy), nullInt(v.PreparedBy), stamp, stamp)
	if err != nil {
		return vouchers.Voucher{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return vouchers.Voucher{}, err
	}
	out := v
	out.ID = id
	out.CreatedAt = parseTime(stamp)
	out.UpdatedAt = out.CreatedAt
	return out, nil
}

func (t *voucherTx) InsertLines(ctx context.Context, voucherID int64, lines []vouchers.LineInput) ([]vouchers.Line, error) {
	out := make([]vouchers.Line, 0, len(lines))
	for _, in := range lines {
		line := vouchers.Line{VoucherID: voucherID, AccountID: in.AccountID, Debit: decimal.Zero, Credit: decimal.Zero}
		if in.Side == vouchers.SideDebit {
			line.Debit = in.Amount
		} else {
			line.Credit = in.Amount
		}
		res, err := t.tx.ExecContext(ctx, `INSERT INTO voucher_entries (journal_voucher_id, account_id, debit, credit) VALUES (?,?,?,?)`,
			voucherID, line.AccountID, line.Debit.StringFixed(2), line.Credit.StringFixed(2))
		if err != nil {
			return nil, err
		}
		if line.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (t *voucherTx) InsertAllocations(ctx context.Context, voucherID int64, number string, allocs []vouchers.Allocation) ([]vouchers.Allocation, error) {
	out := make([]vouchers.Allocation, 0, len(allocs))
	for _, a := range allocs {
		a.VoucherID = voucherID
		res, err := t.tx.ExecContext(ctx, `INSERT INTO voucher_entry_allocations (journal_voucher_id, jv_number, debit_entry_id, credit_entry_id, amount) VALUES (?,?,?,?,?)`,
			voucherID, number, a.DebitLineID, a.CreditLineID, a.Amount.StringFixed(2))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("sqlite: duplicate allocation pair %d/%d: %w", a.DebitLineID, a.CreditLineID, err)
			}
			return nil, err
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// GetVoucherForUpdate needs no row lock: the transaction holds the
// database write lock from its first statement.
func (t *voucherTx) GetVoucherForUpdate(ctx context.Context, id int64) (vouchers.Voucher, error) {
	v, err := scanHeader(t.tx.QueryRowContext(ctx, `SELECT `+headerColumns+` FROM journal_vouchers WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vouchers.Voucher{}, shared.ErrVoucherNotFound
		}
		return vouchers.Voucher{}, err
	}
	return v, nil
}

func (t *voucherTx) ResubmitVoucher(ctx context.Context, id int64, narration string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE journal_vouchers SET narration=NULLIF(?,''), status='submitted', reject_reason=NULL, approved_by=NULL, updated_at=? WHERE id=?`,
		narration, t.s.stamp(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return shared.ErrVoucherNotFound
	}
	return nil
}

func (t *voucherTx) DeleteLines(ctx context.Context, voucherID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM voucher_entries WHERE journal_voucher_id=?`, voucherID)
	return err
}

func (t *voucherTx) DecideVoucher(ctx context.Context, id int64, status vouchers.Status, approverID int64, reason *string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE journal_vouchers SET status=?, approved_by=?, reject_reason=?, updated_at=? WHERE id=? AND status='submitted'`,
		status, nullInt(approverID), reason, t.s.stamp(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *voucherTx) GetVoucher(ctx context.Context, id int64) (vouchers.Voucher, error) {
	return loadVoucher(ctx, t.tx, id)
}

const headerColumns = `id, jv_number, transaction_date, status, COALESCE(narration, ''), COALESCE(prepared_by, 0), approved_by, reject_reason, created_at, updated_at`

func scanHeader(row interface{ Scan(...any) error }) (vouchers.Voucher, error) {
	var v vouchers.Voucher
	var date, created, updated string
	if err := row.Scan(&v.ID, &v.Number, &date, &v.Status, &v.Narration, &v.PreparedBy, &v.ApprovedBy, &v.RejectReason, &created, &updated); err != nil {
		return vouchers.Voucher{}, err
	}
	v.TransactionDate = parseDate(date)
	v.CreatedAt = parseTime(created)
	v.UpdatedAt = parseTime(updated)
	return v, nil
}

func loadVoucher(ctx context.Context, q querier, id int64) (vouchers.Voucher, error) {
	v, err := scanHeader(q.QueryRowContext(ctx, `SELECT `+headerColumns+` FROM journal_vouchers WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vouchers.Voucher{}, shared.ErrVoucherNotFound
		}
		return vouchers.Voucher{}, err
	}
	if err := loadChildren(ctx, q, &v); err != nil {
		return vouchers.Voucher{}, err
	}
	return v, nil
}

func loadChildren(ctx context.Context, q querier, v *vouchers.Voucher) error {
	rows, err := q.QueryContext(ctx, `SELECT id, journal_voucher_id, account_id, debit, credit FROM voucher_entries WHERE journal_voucher_id=? ORDER BY id`, v.ID)
	if err != nil {
		return err
	}
	v.Lines = nil
	for rows.Next() {
		var line vouchers.Line
		if err := rows.Scan(&line.ID, &line.VoucherID, &line.AccountID, &line.Debit, &line.Credit); err != nil {
			rows.Close()
			return err
		}
		v.Lines = append(v.Lines, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	rows, err = q.QueryContext(ctx, `SELECT id, journal_voucher_id, debit_entry_id, credit_entry_id, amount FROM voucher_entry_allocations WHERE journal_voucher_id=? ORDER BY id`, v.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	v.Allocations = nil
	for rows.Next() {
		var a vouchers.Allocation
		if err := rows.Scan(&a.ID, &a.VoucherID, &a.DebitLineID, &a.CreditLineID, &a.Amount); err != nil {
			return err
		}
		v.Allocations = append(v.Allocations, a)
	}
	return rows.Err()
}
