package shared

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrPeriodLocked is matched by *PeriodLockedError.
	ErrPeriodLocked = errors.New("accounting: period locked")
	// ErrAlreadyProcessed is matched by *AlreadyProcessedError.
	ErrAlreadyProcessed = errors.New("accounting: voucher already processed")
	// ErrForbidden is matched by *AuthorizationError.
	ErrForbidden = errors.New("accounting: action not permitted")
	// ErrVoucherNotFound indicates missing voucher.
	ErrVoucherNotFound = errors.New("accounting: voucher not found")
	// ErrEntryNotFound indicates missing voucher line.
	ErrEntryNotFound = errors.New("accounting: voucher entry not found")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrNotEditable indicates the voucher status does not allow edits.
	ErrNotEditable = errors.New("accounting: voucher cannot be edited in its current status")
	// ErrDuplicateRequest indicates the idempotency key was already claimed.
	ErrDuplicateRequest = errors.New("accounting: request already processed")
)

// Validation rules reported in ValidationError.Rule.
const (
	RuleRequired       = "required"
	RuleMinLines       = "min_lines"
	RuleAccountExists  = "account_exists"
	RuleSide           = "side"
	RuleAmount         = "amount"
	RuleBalance        = "balance"
	RuleDebitUnique    = "debit_unique"
	RuleAllocRequired  = "allocation_required"
	RuleIndexBounds    = "index_bounds"
	RuleSelfAllocation = "self_allocation"
	RuleDebitSide      = "debit_side"
	RuleCreditSide     = "credit_side"
	RuleDuplicatePair  = "duplicate_pair"
	RuleOverAllocated  = "over_allocated"
	RuleFullyAllocated = "fully_allocated"
	RuleFutureDate     = "future_date"
	RuleMaxLength      = "max_length"
)

// ValidationError carries enough context to render a precise, user-facing
// message. Row is the 1-based position within Field and zero when the
// failure is not row-specific. Line is the 1-based candidate line an
// allocation total failed on; Row stays zero in that case.
type ValidationError struct {
	Field    string
	Rule     string
	Row      int
	Line     int
	Expected *decimal.Decimal
	Got      *decimal.Decimal
	Message  string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError without amounts.
func NewValidationError(field, rule string, row int, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Rule: rule, Row: row, Message: fmt.Sprintf(format, args...)}
}

// WithLine records the candidate line the failure belongs to.
func (e *ValidationError) WithLine(line int) *ValidationError {
	e.Line = line
	return e
}

// WithAmounts attaches the expected and actual amounts at 2dp.
func (e *ValidationError) WithAmounts(expected, got decimal.Decimal) *ValidationError {
	exp := expected.Round(2)
	act := got.Round(2)
	e.Expected = &exp
	e.Got = &act
	return e
}

// PeriodLockedError reports a posting date inside a closed (year, month).
type PeriodLockedError struct {
	Year  int
	Month time.Month
}

func (e *PeriodLockedError) Error() string {
	return "This accounting period is locked. Choose another date."
}

func (e *PeriodLockedError) Is(target error) bool {
	return target == ErrPeriodLocked
}

// AlreadyProcessedError reports a decision on a voucher that left submitted.
type AlreadyProcessedError struct {
	VoucherID int64
	Status    string
}

func (e *AlreadyProcessedError) Error() string {
	return "This voucher is already processed."
}

func (e *AlreadyProcessedError) Is(target error) bool {
	return target == ErrAlreadyProcessed
}

// AuthorizationError reports a missing capability for the named action.
type AuthorizationError struct {
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("accounting: not permitted to %s voucher", e.Action)
}

func (e *AuthorizationError) Is(target error) bool {
	return target == ErrForbidden
}
