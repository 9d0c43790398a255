//go:build integration

package vouchers

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/jvledger/internal/accounting/accounts"
	"github.com/odyssey-erp/jvledger/internal/accounting/periods"
	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
	"github.com/odyssey-erp/jvledger/internal/testing/pgtest"
)

func newPostgresService(t *testing.T) (*Service, []accounts.Account, Repository) {
	t.Helper()
	pool := pgtest.Start(t)
	accountSvc := accounts.NewService(accounts.NewRepository(pool), nil, slog.Default())
	seeded, err := accountSvc.Upsert(context.Background(), []accounts.Account{
		{Code: "4", Name: "Cash", Type: accounts.AccountTypeAsset, Active: true},
		{Code: "210", Name: "Provident Fund (PF) Payable", Type: accounts.AccountTypeLiability, Active: true},
		{Code: "211", Name: "CIT Payable", Type: accounts.AccountTypeLiability, Active: true},
	})
	require.NoError(t, err)
	repo := NewRepository(pool)
	svc := NewService(repo, accountSvc, periods.NewService(periods.NewRepository(pool)), nil)
	svc.WithNow(func() time.Time { return testNow })
	return svc, seeded, repo
}

func pgSplitInput(accs []accounts.Account) CreateInput {
	return CreateInput{
		TransactionDate: time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC),
		Narration:       "June payroll deductions",
		Lines:           []LineInput{dr(accs[0].ID, "100"), cr(accs[1].ID, "60"), cr(accs[2].ID, "40")},
		Allocations:     []AllocationInput{alloc(0, 1, "60"), alloc(0, 2, "40")},
		ActorID:         7,
		Caps:            Capabilities{Submit: true},
	}
}

func TestPostgresConcurrentCreatesAreGapless(t *testing.T) {
	svc, accs, _ := newPostgresService(t)
	const n = 30

	var mu sync.Mutex
	var seqs []int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			v, err := svc.Create(ctx, pgSplitInput(accs))
			if err != nil {
				return err
			}
			_, seq, err := ParseNumber(v.Number)
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

func TestPostgresRollbackLeavesNoGap(t *testing.T) {
	svc, accs, repo := newPostgresService(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.NextSequence(ctx, 2025); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err := svc.Create(ctx, pgSplitInput(accs))
	require.NoError(t, err)
	assert.Equal(t, "JV-2025-000001", v.Number)
}

func TestPostgresLifecycle(t *testing.T) {
	svc, accs, _ := newPostgresService(t)
	ctx := context.Background()

	in := pgSplitInput(accs)
	in.IdempotencyKey = "req-1"
	created, err := svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrDuplicateRequest)

	stored, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 3)
	assert.Equal(t, "100.00", stored.Lines[0].Debit.StringFixed(2))
	require.Len(t, stored.Allocations, 2)

	associates, err := svc.AllocationsForEntry(ctx, stored.Lines[0].ID)
	require.NoError(t, err)
	require.Len(t, associates, 2)
	assert.Equal(t, "CIT Payable (211)", associates[1].AccountLabel())

	var wins int
	var mu sync.Mutex
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		i := i
		g.Go(func() error {
			in := DecisionInput{VoucherID: created.ID, ActorID: int64(i + 1), Caps: allCaps(), Reason: "no"}
			var err error
			if i%2 == 0 {
				_, err = svc.Approve(ctx, in)
			} else {
				_, err = svc.Reject(ctx, in)
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
