package vouchers

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
)

// Finding describes a persisted voucher that breaks a posting rule.
type Finding struct {
	VoucherID int64
	Number    string
	Rule      string
	Detail    string
}

// RuleNumberFormat flags a stored number that does not parse as JV-YYYY-NNNNNN.
const RuleNumberFormat = "number_format"

// CheckIntegrity re-applies the posting rules to a stored voucher. Partial
// allocation is accepted because creation allows it.
func CheckIntegrity(v Voucher) []Finding {
	var out []Finding
	add := func(rule, format string, args ...any) {
		out = append(out, Finding{VoucherID: v.ID, Number: v.Number, Rule: rule, Detail: fmt.Sprintf(format, args...)})
	}

	if _, _, err := ParseNumber(v.Number); err != nil {
		add(RuleNumberFormat, "malformed number %q", v.Number)
	}
	if len(v.Lines) < 2 {
		add(shared.RuleMinLines, "%d line(s) stored", len(v.Lines))
	}

	lines := make(map[int64]Line, len(v.Lines))
	debitAccounts := make(map[int64]int64, len(v.Lines))
	var debit, credit decimal.Decimal
	for _, line := range v.Lines {
		lines[line.ID] = line
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			add(shared.RuleSide, "line %d carries debit %s and credit %s", line.ID, line.Debit.StringFixed(2), line.Credit.StringFixed(2))
			continue
		}
		if line.Side() == SideDebit {
			debit = debit.Add(line.Debit)
			if first, dup := debitAccounts[line.AccountID]; dup {
				add(shared.RuleDebitUnique, "account %d debited on lines %d and %d", line.AccountID, first, line.ID)
			} else {
				debitAccounts[line.AccountID] = line.ID
			}
		} else {
			credit = credit.Add(line.Credit)
		}
	}
	if !debit.Round(2).Equal(credit.Round(2)) {
		add(shared.RuleBalance, "debit %s credit %s", debit.StringFixed(2), credit.StringFixed(2))
	}

	allocated := make(map[int64]decimal.Decimal, len(v.Lines))
	for _, a := range v.Allocations {
		d, okD := lines[a.DebitLineID]
		c, okC := lines[a.CreditLineID]
		switch {
		case !okD || !okC:
			add(shared.RuleIndexBounds, "allocation %d references lines outside the voucher", a.ID)
			continue
		case a.DebitLineID == a.CreditLineID:
			add(shared.RuleSelfAllocation, "allocation %d links line %d to itself", a.ID, a.DebitLineID)
			continue
		case d.Side() != SideDebit:
			add(shared.RuleDebitSide, "allocation %d debit line %d is a credit", a.ID, a.DebitLineID)
			continue
		case c.Side() != SideCredit:
			add(shared.RuleCreditSide, "allocation %d credit line %d is a debit", a.ID, a.CreditLineID)
			continue
		case !a.Amount.IsPositive():
			add(shared.RuleAmount, "allocation %d amount %s", a.ID, a.Amount.StringFixed(2))
			continue
		}
		allocated[a.DebitLineID] = allocated[a.DebitLineID].Add(a.Amount)
		allocated[a.CreditLineID] = allocated[a.CreditLineID].Add(a.Amount)
	}
	for _, line := range v.Lines {
		got, ok := allocated[line.ID]
		if !ok {
			continue
		}
		if got.Round(2).GreaterThan(line.Amount().Round(2)) {
			add(shared.RuleOverAllocated, "line %d allocated %s of %s", line.ID, got.StringFixed(2), line.Amount().StringFixed(2))
		}
	}
	return out
}
