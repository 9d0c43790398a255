package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/jvledger/internal/accounting/accounts"
	"github.com/odyssey-erp/jvledger/internal/accounting/periods"
	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
	"github.com/odyssey-erp/jvledger/internal/accounting/vouchers"
)

var clock = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

type harness struct {
	store    *Store
	svc      *vouchers.Service
	periods  *periods.Service
	accounts []accounts.Account
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "jv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	accountSvc := accounts.NewService(store.Accounts(), nil, logger)
	seeded, err := accountSvc.Upsert(context.Background(), []accounts.Account{
		{Code: "4", Name: "Cash", Type: accounts.AccountTypeAsset, Active: true},
		{Code: "210", Name: "Provident Fund (PF) Payable", Type: accounts.AccountTypeLiability, Active: true},
		{Code: "211", Name: "CIT Payable", Type: accounts.AccountTypeLiability, Active: true},
	})
	require.NoError(t, err)

	periodSvc := periods.NewService(store.Periods())
	svc := vouchers.NewService(store.Vouchers(), accountSvc, periodSvc, store)
	svc.WithNow(func() time.Time { return clock })
	svc.WithLogger(logger)
	return &harness{store: store, svc: svc, periods: periodSvc, accounts: seeded}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *harness) splitInput() vouchers.CreateInput {
	return vouchers.CreateInput{
		TransactionDate: time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC),
		Narration:       "June payroll deductions",
		Lines: []vouchers.LineInput{
			{AccountID: h.accounts[0].ID, Side: vouchers.SideDebit, Amount: dec("100")},
			{AccountID: h.accounts[1].ID, Side: vouchers.SideCredit, Amount: dec("60")},
			{AccountID: h.accounts[2].ID, Side: vouchers.SideCredit, Amount: dec("40")},
		},
		Allocations: []vouchers.AllocationInput{
			{DebitIndex: 0, CreditIndex: 1, Amount: dec("60")},
			{DebitIndex: 0, CreditIndex: 2, Amount: dec("40")},
		},
		ActorID: 7,
		Caps:    vouchers.Capabilities{Submit: true},
	}
}

func allCaps() vouchers.Capabilities {
	return vouchers.Capabilities{Update: true, Submit: true, Approve: true, Reject: true}
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jv.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Ping(context.Background()))
}

func TestAccountsUpsertByCode(t *testing.T) {
	h := newHarness(t)
	repo := h.store.Accounts()
	ctx := context.Background()

	renamed, err := repo.Upsert(ctx, accounts.Account{Code: "4", Name: "Cash in Hand", Type: accounts.AccountTypeAsset, Active: false})
	require.NoError(t, err)
	assert.Equal(t, h.accounts[0].ID, renamed.ID)

	found, err := repo.FindByID(ctx, renamed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cash in Hand", found.Name)
	assert.False(t, found.Active)
	assert.Equal(t, accounts.AccountTypeAsset, found.Type)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, "210", list[0].Code)

	_, err = repo.FindByID(ctx, 999)
	require.ErrorIs(t, err, shared.ErrAccountNotFound)
}

func TestPeriodLocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := int64(3)

	lock, err := h.periods.Lock(ctx, periods.PeriodLock{Year: 2025, Month: time.May, LockedBy: &actor, Note: "closed"})
	require.NoError(t, err)
	assert.NotZero(t, lock.ID)

	again, err := h.periods.Lock(ctx, periods.PeriodLock{Year: 2025, Month: time.May})
	require.NoError(t, err)
	assert.Equal(t, lock.ID, again.ID)

	locks, err := h.periods.List(ctx)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "closed", locks[0].Note)
	require.NotNil(t, locks[0].LockedBy)
	assert.Equal(t, actor, *locks[0].LockedBy)

	require.ErrorIs(t, h.periods.AssertNotLocked(ctx, time.Date(2025, time.May, 31, 0, 0, 0, 0, time.UTC)), shared.ErrPeriodLocked)
	require.NoError(t, h.periods.AssertNotLocked(ctx, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)))
}

func TestVoucherLifecycleRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.Create(ctx, h.splitInput())
	require.NoError(t, err)
	assert.Equal(t, "JV-2025-000001", created.Number)

	stored, err := h.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, vouchers.StatusSubmitted, stored.Status)
	assert.Equal(t, time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC), stored.TransactionDate)
	require.Len(t, stored.Lines, 3)
	assert.Equal(t, "100.00", stored.Lines[0].Debit.StringFixed(2))
	assert.True(t, stored.Lines[0].Credit.IsZero())
	require.Len(t, stored.Allocations, 2)
	assert.Equal(t, "40.00", stored.Allocations[1].Amount.StringFixed(2))

	associates, err := h.svc.AllocationsForEntry(ctx, stored.Lines[0].ID)
	require.NoError(t, err)
	require.Len(t, associates, 2)
	assert.Equal(t, "Provident Fund (PF) Payable (210)", associates[0].AccountLabel())
	assert.Equal(t, vouchers.SideCredit, associates[0].Side)

	_, err = h.svc.AllocationsForEntry(ctx, 99999)
	require.ErrorIs(t, err, shared.ErrEntryNotFound)

	rejected, err := h.svc.Reject(ctx, vouchers.DecisionInput{VoucherID: created.ID, ActorID: 9, Caps: allCaps(), Reason: "split differently"})
	require.NoError(t, err)
	assert.Equal(t, vouchers.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)

	_, err = h.svc.Approve(ctx, vouchers.DecisionInput{VoucherID: created.ID, ActorID: 9, Caps: allCaps()})
	require.ErrorIs(t, err, shared.ErrAlreadyProcessed)

	updated, err := h.svc.Update(ctx, vouchers.UpdateInput{
		VoucherID: created.ID,
		Narration: "second attempt",
		Lines: []vouchers.LineInput{
			{AccountID: h.accounts[0].ID, Side: vouchers.SideDebit, Amount: dec("80")},
			{AccountID: h.accounts[1].ID, Side: vouchers.SideCredit, Amount: dec("80")},
		},
		Allocations: []vouchers.AllocationInput{{DebitIndex: 0, CreditIndex: 1, Amount: dec("80")}},
		ActorID:     7,
		Caps:        allCaps(),
	})
	require.NoError(t, err)
	assert.Equal(t, vouchers.StatusSubmitted, updated.Status)
	assert.Nil(t, updated.RejectReason)
	assert.Nil(t, updated.ApprovedBy)
	assert.Equal(t, created.Number, updated.Number)
	require.Len(t, updated.Lines, 2)
	require.Len(t, updated.Allocations, 1)

	_, err = h.svc.AllocationsForEntry(ctx, stored.Lines[2].ID)
	require.ErrorIs(t, err, shared.ErrEntryNotFound)

	approved, err := h.svc.Approve(ctx, vouchers.DecisionInput{VoucherID: created.ID, ActorID: 9, Caps: allCaps()})
	require.NoError(t, err)
	assert.Equal(t, vouchers.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, int64(9), *approved.ApprovedBy)

	trail, err := h.store.AuditTrail(ctx, "journal_voucher", fmt.Sprintf("%d", created.ID))
	require.NoError(t, err)
	actions := make([]string, 0, len(trail))
	for _, entry := range trail {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []string{"voucher.create", "voucher.reject", "voucher.resubmit", "voucher.approve"}, actions)
}

func TestCreateRejectedCandidateLeavesNoRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := h.splitInput()
	in.Lines[2].Amount = dec("30")
	_, err := h.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	list, err := h.store.Vouchers().ListAfter(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	created, err := h.svc.Create(ctx, h.splitInput())
	require.NoError(t, err)
	assert.Equal(t, "JV-2025-000001", created.Number)
}

func TestRolledBackTransactionReleasesNumber(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	repo := h.store.Vouchers()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(ctx context.Context, tx vouchers.TxRepository) error {
		seq, err := tx.NextSequence(ctx, 2025)
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)
		return boom
	})
	require.ErrorIs(t, err, boom)

	created, err := h.svc.Create(ctx, h.splitInput())
	require.NoError(t, err)
	assert.Equal(t, "JV-2025-000001", created.Number)
}

func TestIdempotencyKeyClaimedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.splitInput()
	in.IdempotencyKey = "req-42"

	_, err := h.svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrDuplicateRequest)

	next, err := h.svc.Create(ctx, h.splitInput())
	require.NoError(t, err)
	assert.Equal(t, "JV-2025-000002", next.Number)

	purged, err := h.store.PurgeIdempotencyKeys(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = h.svc.Create(ctx, in)
	require.NoError(t, err)
}

func TestConcurrentCreatesProduceGaplessNumbers(t *testing.T) {
	h := newHarness(t)
	const n = 40

	var mu sync.Mutex
	var seqs []int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			v, err := h.svc.Create(ctx, h.splitInput())
			if err != nil {
				return err
			}
			_, seq, err := vouchers.ParseNumber(v.Number)
			if err != nil {
				return err
			}
			mu.Lock()
			seqs = append(seqs, seq)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	require.Len(t, seqs, n)
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestConcurrentDecisionsOnlyOneWins(t *testing.T) {
	h := newHarness(t)
	created, err := h.svc.Create(context.Background(), h.splitInput())
	require.NoError(t, err)

	var mu sync.Mutex
	wins := 0
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			in := vouchers.DecisionInput{VoucherID: created.ID, ActorID: int64(i + 1), Caps: allCaps(), Reason: "no"}
			var err error
			if i%2 == 0 {
				_, err = h.svc.Approve(context.Background(), in)
			} else {
				_, err = h.svc.Reject(context.Background(), in)
			}
			if err != nil && !errors.Is(err, shared.ErrAlreadyProcessed) {
				return err
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, wins)
}

func TestListAfterPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := h.svc.Create(ctx, h.splitInput())
		require.NoError(t, err)
	}
	repo := h.store.Vouchers()

	page, err := repo.ListAfter(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Len(t, page[0].Lines, 3)

	page, err = repo.ListAfter(ctx, page[1].ID, 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.Equal(t, "JV-2025-000005", page[2].Number)
}
