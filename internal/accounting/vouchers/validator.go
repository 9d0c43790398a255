package vouchers

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jvledger/internal/accounting/accounts"
	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
)

// Mode selects the allocation policy.
type Mode int

const (
	// ModeCreate permits partial allocation but never over-allocation.
	ModeCreate Mode = iota
	// ModeUpdate requires every line to be allocated in full.
	ModeUpdate
)

const (
	fieldLines       = "lines"
	fieldAllocations = "allocations"
)

// Posting is a candidate that passed validation. Amounts are rounded to 2dp
// and blank allocation rows are gone.
type Posting struct {
	Lines       []LineInput
	Allocations []AllocationInput
}

// Totals returns the debit and credit sums.
func (p Posting) Totals() (debit, credit decimal.Decimal) {
	for _, line := range p.Lines {
		if line.Side == SideDebit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

// ValidatePosting runs the ordered checks on a candidate voucher and stops at
// the first failure. known holds the accounts that exist, keyed by id.
func ValidatePosting(mode Mode, lines []LineInput, allocs []AllocationInput, known map[int64]accounts.Account) (Posting, error) {
	normalized, err := checkShape(lines, known)
	if err != nil {
		return Posting{}, err
	}
	if err := checkBalance(normalized); err != nil {
		return Posting{}, err
	}
	if err := checkDebitUnique(normalized); err != nil {
		return Posting{}, err
	}
	rows, err := normalizeAllocations(mode, allocs)
	if err != nil {
		return Posting{}, err
	}
	if err := checkAllocationStructure(normalized, rows); err != nil {
		return Posting{}, err
	}
	if err := checkAllocationMagnitude(mode, normalized, rows); err != nil {
		return Posting{}, err
	}
	out := Posting{Lines: normalized, Allocations: make([]AllocationInput, 0, len(rows))}
	for _, row := range rows {
		out.Allocations = append(out.Allocations, row.AllocationInput)
	}
	return out, nil
}

func checkShape(lines []LineInput, known map[int64]accounts.Account) ([]LineInput, error) {
	if len(lines) < 2 {
		return nil, shared.NewValidationError(fieldLines, shared.RuleMinLines, 0, "Add at least two lines.")
	}
	out := make([]LineInput, 0, len(lines))
	for i, line := range lines {
		row := i + 1
		if line.AccountID <= 0 {
			return nil, shared.NewValidationError(fieldLines, shared.RuleRequired, row, "Line #%d: please select an account header.", row)
		}
		if _, ok := known[line.AccountID]; !ok {
			return nil, shared.NewValidationError(fieldLines, shared.RuleAccountExists, row, "Line #%d: the selected account header does not exist.", row)
		}
		if !line.Side.Valid() {
			return nil, shared.NewValidationError(fieldLines, shared.RuleSide, row, "Line #%d: side must be Debit or Credit.", row)
		}
		amount := line.Amount.Round(2)
		if !amount.IsPositive() {
			return nil, shared.NewValidationError(fieldLines, shared.RuleAmount, row, "Line #%d: amount must be greater than zero.", row)
		}
		line.Amount = amount
		out = append(out, line)
	}
	return out, nil
}

func checkBalance(lines []LineInput) error {
	debit, credit := Posting{Lines: lines}.Totals()
	if !debit.Round(2).Equal(credit.Round(2)) {
		return shared.NewValidationError(fieldLines, shared.RuleBalance, 0, "Debit total must equal Credit total.").
			WithAmounts(debit, credit)
	}
	return nil
}

func checkDebitUnique(lines []LineInput) error {
	seen := make(map[int64]struct{}, len(lines))
	for i, line := range lines {
		if line.Side != SideDebit {
			continue
		}
		if _, dup := seen[line.AccountID]; dup {
			return shared.NewValidationError(fieldLines, shared.RuleDebitUnique, i+1,
				"You cannot select the same account header on the Debit side more than once.")
		}
		seen[line.AccountID] = struct{}{}
	}
	return nil
}

// allocationRow keeps the caller's 1-based position for error reporting.
type allocationRow struct {
	AllocationInput
	row int
}

// normalizeAllocations rounds amounts to 2dp. On create, rows with a zero
// amount are blank form rows and are dropped; on update at least one row is
// mandatory and every row must carry a positive amount.
func normalizeAllocations(mode Mode, allocs []AllocationInput) ([]allocationRow, error) {
	rows := make([]allocationRow, 0, len(allocs))
	for i, a := range allocs {
		row := i + 1
		if mode == ModeCreate && a.Amount.IsZero() {
			continue
		}
		amount := a.Amount.Round(2)
		if !amount.IsPositive() {
			return nil, shared.NewValidationError(fieldAllocations, shared.RuleAmount, row, "Allocation row #%d: amount must be greater than zero.", row)
		}
		a.Amount = amount
		rows = append(rows, allocationRow{AllocationInput: a, row: row})
	}
	if mode == ModeUpdate && len(rows) == 0 {
		return nil, shared.NewValidationError(fieldAllocations, shared.RuleAllocRequired, 0,
			"Please allocate each debit against one or more credit lines.")
	}
	return rows, nil
}

func checkAllocationStructure(lines []LineInput, rows []allocationRow) error {
	n := len(lines)
	type pair struct{ debit, credit int }
	seen := make(map[pair]struct{}, len(rows))
	for _, a := range rows {
		di, ci := a.DebitIndex, a.CreditIndex
		if di < 0 || di >= n || ci < 0 || ci >= n {
			return shared.NewValidationError(fieldAllocations, shared.RuleIndexBounds, a.row, "Allocation row #%d: invalid line index.", a.row)
		}
		// Checked before the sides: a line paired with itself always fails one
		// side check, and self-allocation is the more useful message.
		if di == ci {
			return shared.NewValidationError(fieldAllocations, shared.RuleSelfAllocation, a.row, "Allocation row #%d: cannot allocate a line to itself.", a.row)
		}
		if lines[di].Side != SideDebit {
			return shared.NewValidationError(fieldAllocations, shared.RuleDebitSide, a.row, "Allocation row #%d: debit_index is not a Debit line.", a.row)
		}
		if lines[ci].Side != SideCredit {
			return shared.NewValidationError(fieldAllocations, shared.RuleCreditSide, a.row, "Allocation row #%d: credit_index is not a Credit line.", a.row)
		}
		key := pair{debit: di, credit: ci}
		if _, dup := seen[key]; dup {
			return shared.NewValidationError(fieldAllocations, shared.RuleDuplicatePair, a.row, "Allocation row #%d: duplicate pair of the same debit & credit lines.", a.row)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func checkAllocationMagnitude(mode Mode, lines []LineInput, rows []allocationRow) error {
	allocated := make([]decimal.Decimal, len(lines))
	for _, a := range rows {
		allocated[a.DebitIndex] = allocated[a.DebitIndex].Add(a.Amount)
		allocated[a.CreditIndex] = allocated[a.CreditIndex].Add(a.Amount)
	}
	for idx, line := range lines {
		want := line.Amount.Round(2)
		got := allocated[idx].Round(2)
		label := "Debit"
		if line.Side == SideCredit {
			label = "Credit"
		}
		line := idx + 1
		switch mode {
		case ModeCreate:
			if got.GreaterThan(want) {
				return shared.NewValidationError(fieldAllocations, shared.RuleOverAllocated, 0,
					"%s line #%d is over-allocated (max %s, got %s).", label, line, want.StringFixed(2), got.StringFixed(2)).
					WithLine(line).WithAmounts(want, got)
			}
		case ModeUpdate:
			if !got.Equal(want) {
				return shared.NewValidationError(fieldAllocations, shared.RuleFullyAllocated, 0,
					"%s line #%d must be fully allocated (expected %s, got %s).", label, line, want.StringFixed(2), got.StringFixed(2)).
					WithLine(line).WithAmounts(want, got)
			}
		}
	}
	return nil
}
