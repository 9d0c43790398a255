package vouchers

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ResolveAllocations translates candidate line indices into the ids of the
// lines just persisted in the same order.
func ResolveAllocations(voucherID int64, persisted []Line, allocs []AllocationInput) ([]Allocation, error) {
	out := make([]Allocation, 0, len(allocs))
	for i, a := range allocs {
		if a.DebitIndex < 0 || a.DebitIndex >= len(persisted) || a.CreditIndex < 0 || a.CreditIndex >= len(persisted) {
			return nil, fmt.Errorf("vouchers: allocation %d refers to a line that was not persisted", i+1)
		}
		out = append(out, Allocation{
			VoucherID:    voucherID,
			DebitLineID:  persisted[a.DebitIndex].ID,
			CreditLineID: persisted[a.CreditIndex].ID,
			Amount:       a.Amount,
		})
	}
	return out, nil
}

// EntryAccount is the account snapshot joined onto an allocated line.
type EntryAccount struct {
	ID   int64
	Code string
	Name string
}

func (a EntryAccount) Label() string {
	return a.Name + " (" + a.Code + ")"
}

// AllocationDetail is an allocation with both of its lines' accounts.
type AllocationDetail struct {
	Allocation
	DebitAccount  EntryAccount
	CreditAccount EntryAccount
}

// Associate is one opposite-side entry linked to a given entry.
type Associate struct {
	EntryID         int64
	OppositeEntryID int64
	Side            Side
	Amount          decimal.Decimal
	Account         EntryAccount
}

// AccountLabel renders "Name (Code)" for the opposite entry's account.
func (a Associate) AccountLabel() string {
	return a.Account.Label()
}

// AssociatesFor lists, for entryID, every opposite-side entry it is allocated
// to or from. Side is the side of the opposite entry.
func AssociatesFor(entryID int64, details []AllocationDetail) []Associate {
	out := make([]Associate, 0, len(details))
	for _, d := range details {
		switch entryID {
		case d.DebitLineID:
			out = append(out, Associate{
				EntryID:         entryID,
				OppositeEntryID: d.CreditLineID,
				Side:            SideCredit,
				Amount:          d.Amount,
				Account:         d.CreditAccount,
			})
		case d.CreditLineID:
			out = append(out, Associate{
				EntryID:         entryID,
				OppositeEntryID: d.DebitLineID,
				Side:            SideDebit,
				Amount:          d.Amount,
				Account:         d.DebitAccount,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OppositeEntryID < out[j].OppositeEntryID })
	return out
}

// EditDraft is a stored voucher expressed as candidate input, so that an
// unchanged resubmission passes update validation.
type EditDraft struct {
	VoucherID       int64
	Number          string
	TransactionDate time.Time
	Status          Status
	Narration       string
	Lines           []LineInput
	Allocations     []AllocationInput
}

// BuildEditDraft rebuilds candidate lines in persisted id order and maps each
// allocation back to line positions.
func BuildEditDraft(v Voucher) (EditDraft, error) {
	lines := append([]Line(nil), v.Lines...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })

	draft := EditDraft{
		VoucherID:       v.ID,
		Number:          v.Number,
		TransactionDate: v.TransactionDate,
		Status:          v.Status,
		Narration:       v.Narration,
		Lines:           make([]LineInput, 0, len(lines)),
		Allocations:     make([]AllocationInput, 0, len(v.Allocations)),
	}
	position := make(map[int64]int, len(lines))
	for i, line := range lines {
		position[line.ID] = i
		draft.Lines = append(draft.Lines, LineInput{AccountID: line.AccountID, Side: line.Side(), Amount: line.Amount()})
	}
	allocs := append([]Allocation(nil), v.Allocations...)
	sort.SliceStable(allocs, func(i, j int) bool { return allocs[i].ID < allocs[j].ID })
	for _, a := range allocs {
		di, okD := position[a.DebitLineID]
		ci, okC := position[a.CreditLineID]
		if !okD || !okC {
			return EditDraft{}, fmt.Errorf("vouchers: allocation %d of voucher %d refers to a foreign line", a.ID, v.ID)
		}
		draft.Allocations = append(draft.Allocations, AllocationInput{DebitIndex: di, CreditIndex: ci, Amount: a.Amount})
	}
	return draft, nil
}
