package vouchers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
	"github.com/odyssey-erp/jvledger/internal/platform/db"
)

const pgUniqueViolation = "23505"

// Repository encapsulates voucher persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Voucher, error)
	// AllocationDetails returns every allocation touching the line, or
	// shared.ErrEntryNotFound when the line does not exist.
	AllocationDetails(ctx context.Context, entryID int64) ([]AllocationDetail, error)
	// ListAfter pages through vouchers by ascending id, lines included.
	ListAfter(ctx context.Context, afterID int64, limit int) ([]Voucher, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	SequenceStore
	ClaimIdempotencyKey(ctx context.Context, key, module string) error
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	InsertLines(ctx context.Context, voucherID int64, lines []LineInput) ([]Line, error)
	InsertAllocations(ctx context.Context, voucherID int64, number string, allocs []Allocation) ([]Allocation, error)
	// GetVoucherForUpdate reads the header and holds a row lock on it.
	GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error)
	ResubmitVoucher(ctx context.Context, id int64, narration string) error
	// DeleteLines removes every line; allocations go with them.
	DeleteLines(ctx context.Context, voucherID int64) error
	// DecideVoucher moves a submitted voucher to status. It reports false,
	// and changes nothing, when the voucher is not submitted.
	DecideVoucher(ctx context.Context, id int64, status Status, approverID int64, reason *string) (bool, error)
	GetVoucher(ctx context.Context, id int64) (Voucher, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// WithTx runs fn at READ COMMITTED. The counter upsert and the status
// compare-and-swap then wait on concurrent writers and re-read the committed
// row instead of failing with a serialization error.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) Get(ctx context.Context, id int64) (Voucher, error) {
	return loadVoucher(ctx, r.db, id)
}

func (r *repository) AllocationDetails(ctx context.Context, entryID int64) ([]AllocationDetail, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM voucher_entries WHERE id=$1)`, entryID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, shared.ErrEntryNotFound
	}
	rows, err := r.db.Query(ctx, `SELECT a.id, a.journal_voucher_id, a.debit_entry_id, a.credit_entry_id, a.amount,
da.id, da.code, da.name, ca.id, ca.code, ca.name
FROM voucher_entry_allocations a
JOIN voucher_entries de ON de.id = a.debit_entry_id
JOIN accounts da ON da.id = de.account_id
JOIN voucher_entries ce ON ce.id = a.credit_entry_id
JOIN accounts ca ON ca.id = ce.account_id
WHERE a.debit_entry_id=$1 OR a.credit_entry_id=$1
ORDER BY a.id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AllocationDetail
	for rows.Next() {
		var d AllocationDetail
		if err := rows.Scan(&d.ID, &d.VoucherID, &d.DebitLineID, &d.CreditLineID, &d.Amount,
			&d.DebitAccount.ID, &d.DebitAccount.Code, &d.DebitAccount.Name,
			&d.CreditAccount.ID, &d.CreditAccount.Code, &d.CreditAccount.Name); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repository) ListAfter(ctx context.Context, afterID int64, limit int) ([]Voucher, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+headerColumns+` FROM journal_vouchers WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	var list []Voucher
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
		if err := loadChildren(ctx, r.db, &list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

type txRepository struct {
	tx pgx.Tx
}

// NextSequence creates the year's counter on first use and otherwise bumps
// it. The upsert keeps the row locked until the transaction ends.
func (r *txRepository) NextSequence(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO jv_counters (year, last_number, updated_at) VALUES ($1, 1, NOW())
ON CONFLICT (year) DO UPDATE SET last_number = jv_counters.last_number + 1, updated_at = NOW()
RETURNING last_number`, year).Scan(&seq)
	return seq, err
}

func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, NOW())`, key, module)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return shared.ErrDuplicateRequest
		}
		return err
	}
	return nil
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	out := v
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_vouchers (jv_number, transaction_date, status, narration, prepared_by, created_by)
VALUES ($1,$2,$3,NULLIF($4,''),$5,$5) RETURNING id, created_at, updated_at`,
		v.Number, v.TransactionDate, v.Status, v.Narration, nullInt(v.PreparedBy)).
		Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return Voucher{}, err
	}
	return out, nil
}

func (r *txRepository) InsertLines(ctx context.Context, voucherID int64, lines []LineInput) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for _, in := range lines {
		line := lineFromInput(voucherID, in)
		if err := r.tx.QueryRow(ctx, `INSERT INTO voucher_entries (journal_voucher_id, account_id, debit, credit)
VALUES ($1,$2,$3,$4) RETURNING id`, voucherID, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit)).Scan(&line.ID); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) InsertAllocations(ctx context.Context, voucherID int64, number string, allocs []Allocation) ([]Allocation, error) {
	out := make([]Allocation, 0, len(allocs))
	for _, a := range allocs {
		a.VoucherID = voucherID
		err := r.tx.QueryRow(ctx, `INSERT INTO voucher_entry_allocations (journal_voucher_id, jv_number, debit_entry_id, credit_entry_id, amount)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, voucherID, number, a.DebitLineID, a.CreditLineID, toNumeric(a.Amount)).Scan(&a.ID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return nil, fmt.Errorf("vouchers: duplicate allocation pair %d/%d: %w", a.DebitLineID, a.CreditLineID, err)
			}
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error) {
	v, err := scanHeader(r.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM journal_vouchers WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, shared.ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	return v, nil
}

func (r *txRepository) ResubmitVoucher(ctx context.Context, id int64, narration string) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_vouchers SET narration=NULLIF($2,''), status='submitted', reject_reason=NULL, approved_by=NULL, updated_at=NOW() WHERE id=$1`, id, narration)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrVoucherNotFound
	}
	return nil
}

func (r *txRepository) DeleteLines(ctx context.Context, voucherID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM voucher_entries WHERE journal_voucher_id=$1`, voucherID)
	return err
}

func (r *txRepository) DecideVoucher(ctx context.Context, id int64, status Status, approverID int64, reason *string) (bool, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_vouchers SET status=$2, approved_by=$3, reject_reason=$4, updated_at=NOW()
WHERE id=$1 AND status='submitted'`, id, status, nullInt(approverID), reason)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *txRepository) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	return loadVoucher(ctx, r.tx, id)
}

const headerColumns = `id, jv_number, transaction_date, status, COALESCE(narration, ''), COALESCE(prepared_by, 0), approved_by, reject_reason, created_at, updated_at`

func scanHeader(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.Number, &v.TransactionDate, &v.Status, &v.Narration, &v.PreparedBy, &v.ApprovedBy, &v.RejectReason, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func loadVoucher(ctx context.Context, q querier, id int64) (Voucher, error) {
	v, err := scanHeader(q.QueryRow(ctx, `SELECT `+headerColumns+` FROM journal_vouchers WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, shared.ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	if err := loadChildren(ctx, q, &v); err != nil {
		return Voucher{}, err
	}
	return v, nil
}

func loadChildren(ctx context.Context, q querier, v *Voucher) error {
	rows, err := q.Query(ctx, `SELECT id, journal_voucher_id, account_id, debit, credit FROM voucher_entries WHERE journal_voucher_id=$1 ORDER BY id`, v.ID)
	if err != nil {
		return err
	}
	v.Lines = v.Lines[:0]
	for rows.Next() {
		var line Line
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
	rows, err = q.Query(ctx, `SELECT id, journal_voucher_id, debit_entry_id, credit_entry_id, amount FROM voucher_entry_allocations WHERE journal_voucher_id=$1 ORDER BY id`, v.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	v.Allocations = v.Allocations[:0]
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.VoucherID, &a.DebitLineID, &a.CreditLineID, &a.Amount); err != nil {
			return err
		}
		v.Allocations = append(v.Allocations, a)
	}
	return rows.Err()
}

func lineFromInput(voucherID int64, in LineInput) Line {
	line := Line{VoucherID: voucherID, AccountID: in.AccountID, Debit: decimal.Zero, Credit: decimal.Zero}
	if in.Side == SideDebit {
		line.Debit = in.Amount
	} else {
		line.Credit = in.Amount
	}
	return line
}

// Helpers
func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func toNumeric(v decimal.Decimal) any {
	return v.StringFixed(2)
}
