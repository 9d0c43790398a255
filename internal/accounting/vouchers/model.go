package vouchers

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates voucher lifecycle values.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// CanEdit reports whether lines may be replaced and the voucher resubmitted.
func (s Status) CanEdit() bool {
	return s == StatusDraft || s == StatusRejected
}

// CanDecide reports whether a supervisor may approve or reject.
func (s Status) CanDecide() bool {
	return s == StatusSubmitted
}

// Side tags a line as debit or credit.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

func (s Side) Valid() bool {
	return s == SideDebit || s == SideCredit
}

// Voucher is the persisted header together with its lines and allocations.
type Voucher struct {
	ID              int64
	Number          string
	TransactionDate time.Time
	Status          Status
	Narration       string
	PreparedBy      int64
	ApprovedBy      *int64
	RejectReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []Line
	Allocations     []Allocation
}

// Line stores a debit or credit amount for an account. Exactly one of Debit
// and Credit is nonzero.
type Line struct {
	ID        int64
	VoucherID int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

func (l Line) Side() Side {
	if l.Debit.IsPositive() {
		return SideDebit
	}
	return SideCredit
}

func (l Line) Amount() decimal.Decimal {
	if l.Debit.IsPositive() {
		return l.Debit
	}
	return l.Credit
}

// Allocation links part of a debit line to part of a credit line.
type Allocation struct {
	ID           int64
	VoucherID    int64
	DebitLineID  int64
	CreditLineID int64
	Amount       decimal.Decimal
}

// Capabilities is the externally computed permission set of the caller.
type Capabilities struct {
	Update  bool
	Submit  bool
	Approve bool
	Reject  bool
}
