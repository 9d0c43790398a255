package vouchers

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/odyssey-erp/jvledger/internal/accounting/accounts"
	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
)

// memState is the committed data of memRepo. Transactions work on a clone
// and swap it in on success.
type memState struct {
	vouchers map[int64]Voucher
	lines    map[int64]Line
	allocs   map[int64]Allocation
	counters map[int]int64
	keys     map[string]bool
	nextID   int64
}

func newMemState() memState {
	return memState{
		vouchers: map[int64]Voucher{},
		lines:    map[int64]Line{},
		allocs:   map[int64]Allocation{},
		counters: map[int]int64{},
		keys:     map[string]bool{},
	}
}

func (s memState) clone() memState {
	out := newMemState()
	for k, v := range s.vouchers {
		out.vouchers[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = v
	}
	for k, v := range s.allocs {
		out.allocs[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	for k, v := range s.keys {
		out.keys[k] = v
	}
	out.nextID = s.nextID
	return out
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memState) assemble(id int64) (Voucher, error) {
	v, ok := s.vouchers[id]
	if !ok {
		return Voucher{}, shared.ErrVoucherNotFound
	}
	v.Lines = nil
	v.Allocations = nil
	for _, line := range s.lines {
		if line.VoucherID == id {
			v.Lines = append(v.Lines, line)
		}
	}
	sort.Slice(v.Lines, func(i, j int) bool { return v.Lines[i].ID < v.Lines[j].ID })
	for _, a := range s.allocs {
		if a.VoucherID == id {
			v.Allocations = append(v.Allocations, a)
		}
	}
	sort.Slice(v.Allocations, func(i, j int) bool { return v.Allocations[i].ID < v.Allocations[j].ID })
	return v, nil
}

type memRepo struct {
	mu              sync.Mutex
	state           memState
	accounts        map[int64]accounts.Account
	failAllocations error
}

func newMemRepo() *memRepo {
	return &memRepo{state: newMemState(), accounts: knownAccounts()}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, &memTx{repo: r, st: &work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memRepo) Get(ctx context.Context, id int64) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.assemble(id)
}

func (r *memRepo) AllocationDetails(ctx context.Context, entryID int64) ([]AllocationDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.lines[entryID]; !ok {
		return nil, shared.ErrEntryNotFound
	}
	var out []AllocationDetail
	for _, a := range r.state.allocs {
		if a.DebitLineID != entryID && a.CreditLineID != entryID {
			continue
		}
		out = append(out, AllocationDetail{
			Allocation:    a,
			DebitAccount:  r.entryAccount(a.DebitLineID),
			CreditAccount: r.entryAccount(a.CreditLineID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) entryAccount(lineID int64) EntryAccount {
	acc := r.accounts[r.state.lines[lineID].AccountID]
	return EntryAccount{ID: acc.ID, Code: acc.Code, Name: acc.Name}
}

func (r *memRepo) ListAfter(ctx context.Context, afterID int64, limit int) ([]Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.state.vouchers))
	for id := range r.state.vouchers {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Voucher, 0, len(ids))
	for _, id := range ids {
		v, err := r.state.assemble(id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *memRepo) counter(year int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.counters[year]
}

func (r *memRepo) voucherCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.vouchers)
}

type memTx struct {
	repo *memRepo
	st   *memState
}

func (t *memTx) NextSequence(ctx context.Context, year int) (int64, error) {
	t.st.counters[year]++
	return t.st.counters[year], nil
}

func (t *memTx) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	k := module + "|" + key
	if t.st.keys[k] {
		return shared.ErrDuplicateRequest
	}
	t.st.keys[k] = true
	return nil
}

func (t *memTx) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	for _, existing := range t.st.vouchers {
		if existing.Number == v.Number {
			return Voucher{}, errors.New("duplicate voucher number")
		}
	}
	v.ID = t.st.id()
	t.st.vouchers[v.ID] = v
	return v, nil
}

func (t *memTx) InsertLines(ctx context.Context, voucherID int64, lines []LineInput) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for _, in := range lines {
		line := lineFromInput(voucherID, in)
		line.ID = t.st.id()
		t.st.lines[line.ID] = line
		out = append(out, line)
	}
	return out, nil
}

func (t *memTx) InsertAllocations(ctx context.Context, voucherID int64, number string, allocs []Allocation) ([]Allocation, error) {
	if t.repo.failAllocations != nil {
		return nil, t.repo.failAllocations
	}
	out := make([]Allocation, 0, len(allocs))
	for _, a := range allocs {
		a.ID = t.st.id()
		a.VoucherID = voucherID
		t.st.allocs[a.ID] = a
		out = append(out, a)
	}
	return out, nil
}

func (t *memTx) GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error) {
	v, ok := t.st.vouchers[id]
	if !ok {
		return Voucher{}, shared.ErrVoucherNotFound
	}
	return v, nil
}

func (t *memTx) ResubmitVoucher(ctx context.Context, id int64, narration string) error {
	v, ok := t.st.vouchers[id]
	if !ok {
		return shared.ErrVoucherNotFound
	}
	v.Narration = narration
	v.Status = StatusSubmitted
	v.RejectReason = nil
	v.ApprovedBy = nil
	t.st.vouchers[id] = v
	return nil
}

func (t *memTx) DeleteLines(ctx context.Context, voucherID int64) error {
	for id, line := range t.st.lines {
		if line.VoucherID != voucherID {
			continue
		}
		delete(t.st.lines, id)
		for aid, a := range t.st.allocs {
			if a.DebitLineID == id || a.CreditLineID == id {
				delete(t.st.allocs, aid)
			}
		}
	}
	return nil
}

func (t *memTx) DecideVoucher(ctx context.Context, id int64, status Status, approverID int64, reason *string) (bool, error) {
	v, ok := t.st.vouchers[id]
	if !ok || v.Status != StatusSubmitted {
		return false, nil
	}
	v.Status = status
	approver := approverID
	v.ApprovedBy = &approver
	v.RejectReason = reason
	t.st.vouchers[id] = v
	return true, nil
}

func (t *memTx) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	return t.st.assemble(id)
}
