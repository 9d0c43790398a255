package vouchers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/jvledger/internal/accounting/accounts"
	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/jvledger/internal/shared"
)

const idempotencyModule = "vouchers.create"

// idempotencyNamespace scopes derived idempotency ids to voucher creation.
var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("jvledger:vouchers.create"))

// IdempotencyFingerprint derives the stored key from the caller's key. Two
// actors reusing the same client key do not collide.
func IdempotencyFingerprint(actorID int64, key string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(fmt.Sprintf("%d:%s", actorID, key))).String()
}

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

type PeriodGuard interface {
	AssertNotLocked(ctx context.Context, date time.Time) error
}

type AccountLookup interface {
	Lookup(ctx context.Context, ids []int64) (map[int64]accounts.Account, error)
}

// MetricsPort receives one observation per finished operation.
type MetricsPort interface {
	ObserveVoucherOp(op, outcome string)
}

type Service struct {
	repo     Repository
	accounts AccountLookup
	guard    PeriodGuard
	audit    AuditPort
	metrics  MetricsPort
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, accounts AccountLookup, guard PeriodGuard, audit AuditPort) *Service {
	return &Service{repo: repo, accounts: accounts, guard: guard, audit: audit, logger: slog.Default(), now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

func (s *Service) WithLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Create validates the candidate and writes header, lines, allocations and
// the year's next number in one transaction. New vouchers start submitted.
func (s *Service) Create(ctx context.Context, input CreateInput) (voucher Voucher, err error) {
	defer func() { s.observe("create", err) }()

	// Creation submits the voucher straight away.
	if err := requireCaps(input.Caps, ActionSubmit); err != nil {
		return Voucher{}, err
	}
	if err := checkTransactionDate(input.TransactionDate, s.now()); err != nil {
		return Voucher{}, err
	}
	if err := checkNarration(input.Narration, maxNarrationCreate); err != nil {
		return Voucher{}, err
	}
	date := dateOnly(input.TransactionDate)
	if err := s.assertOpen(ctx, date); err != nil {
		return Voucher{}, err
	}
	posting, err := s.validate(ctx, ModeCreate, input.Lines, input.Allocations)
	if err != nil {
		return Voucher{}, err
	}

	year := s.now().Year()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, IdempotencyFingerprint(input.ActorID, input.IdempotencyKey), idempotencyModule); err != nil {
				return err
			}
		}
		number, err := NextNumber(ctx, tx, year)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertVoucher(ctx, Voucher{
			Number:          number,
			TransactionDate: date,
			Status:          StatusSubmitted,
			Narration:       input.Narration,
			PreparedBy:      input.ActorID,
		})
		if err != nil {
			return err
		}
		lines, err := tx.InsertLines(ctx, inserted.ID, posting.Lines)
		if err != nil {
			return err
		}
		resolved, err := ResolveAllocations(inserted.ID, lines, posting.Allocations)
		if err != nil {
			return err
		}
		allocs, err := tx.InsertAllocations(ctx, inserted.ID, number, resolved)
		if err != nil {
			return err
		}
		inserted.Lines = lines
		inserted.Allocations = allocs
		voucher = inserted
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	debit, _ := posting.Totals()
	s.record(ctx, input.ActorID, "voucher.create", voucher.ID, map[string]any{
		"number":      voucher.Number,
		"total":       debit.StringFixed(2),
		"lines":       len(voucher.Lines),
		"allocations": len(voucher.Allocations),
	})
	return voucher, nil
}

// Update replaces the lines and allocations of a draft or rejected voucher
// and resubmits it. Full allocation is mandatory.
func (s *Service) Update(ctx context.Context, input UpdateInput) (voucher Voucher, err error) {
	defer func() { s.observe("update", err) }()

	if err := requireCaps(input.Caps, ActionUpdate, ActionSubmit); err != nil {
		return Voucher{}, err
	}
	if err := checkNarration(input.Narration, maxNarrationUpdate); err != nil {
		return Voucher{}, err
	}
	current, err := s.repo.Get(ctx, input.VoucherID)
	if err != nil {
		return Voucher{}, err
	}
	if !current.Status.CanEdit() {
		return Voucher{}, shared.ErrNotEditable
	}
	if err := s.assertOpen(ctx, current.TransactionDate); err != nil {
		return Voucher{}, err
	}
	posting, err := s.validate(ctx, ModeUpdate, input.Lines, input.Allocations)
	if err != nil {
		return Voucher{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetVoucherForUpdate(ctx, input.VoucherID)
		if err != nil {
			return err
		}
		if !locked.Status.CanEdit() {
			return shared.ErrNotEditable
		}
		if err := tx.ResubmitVoucher(ctx, locked.ID, input.Narration); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, locked.ID); err != nil {
			return err
		}
		lines, err := tx.InsertLines(ctx, locked.ID, posting.Lines)
		if err != nil {
			return err
		}
		resolved, err := ResolveAllocations(locked.ID, lines, posting.Allocations)
		if err != nil {
			return err
		}
		if _, err := tx.InsertAllocations(ctx, locked.ID, locked.Number, resolved); err != nil {
			return err
		}
		voucher, err = tx.GetVoucher(ctx, locked.ID)
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	s.record(ctx, input.ActorID, "voucher.resubmit", voucher.ID, map[string]any{
		"number":          voucher.Number,
		"previous_status": string(current.Status),
	})
	return voucher, nil
}

// Approve moves a submitted voucher to approved.
func (s *Service) Approve(ctx context.Context, input DecisionInput) (voucher Voucher, err error) {
	defer func() { s.observe("approve", err) }()

	if err := requireCaps(input.Caps, ActionApprove); err != nil {
		return Voucher{}, err
	}
	voucher, err = s.decide(ctx, input.VoucherID, StatusApproved, input.ActorID, nil)
	if err != nil {
		return Voucher{}, err
	}
	s.record(ctx, input.ActorID, "voucher.approve", voucher.ID, map[string]any{"number": voucher.Number})
	return voucher, nil
}

// Reject moves a submitted voucher to rejected with a reason.
func (s *Service) Reject(ctx context.Context, input DecisionInput) (voucher Voucher, err error) {
	defer func() { s.observe("reject", err) }()

	if err := requireCaps(input.Caps, ActionReject); err != nil {
		return Voucher{}, err
	}
	reason, err := normalizeReason(input.Reason)
	if err != nil {
		return Voucher{}, err
	}
	voucher, err = s.decide(ctx, input.VoucherID, StatusRejected, input.ActorID, &reason)
	if err != nil {
		return Voucher{}, err
	}
	s.record(ctx, input.ActorID, "voucher.reject", voucher.ID, map[string]any{"number": voucher.Number, "reason": reason})
	return voucher, nil
}

// decide applies the transition only while the voucher is still submitted.
// A lost race or a repeated call leaves the stored decision untouched.
func (s *Service) decide(ctx context.Context, id int64, to Status, approverID int64, reason *string) (Voucher, error) {
	var voucher Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		applied, err := tx.DecideVoucher(ctx, id, to, approverID, reason)
		if err != nil {
			return err
		}
		current, err := tx.GetVoucher(ctx, id)
		if err != nil {
			return err
		}
		if !applied {
			return &shared.AlreadyProcessedError{VoucherID: id, Status: string(current.Status)}
		}
		voucher = current
		return nil
	})
	return voucher, err
}

func (s *Service) Get(ctx context.Context, id int64) (Voucher, error) {
	return s.repo.Get(ctx, id)
}

// EditDraft returns the stored voucher as candidate input for the edit form.
func (s *Service) EditDraft(ctx context.Context, id int64, caps Capabilities) (EditDraft, error) {
	if err := requireCaps(caps, ActionUpdate); err != nil {
		return EditDraft{}, err
	}
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return EditDraft{}, err
	}
	return BuildEditDraft(v)
}

// AllocationsForEntry lists the opposite-side entries linked to a line.
func (s *Service) AllocationsForEntry(ctx context.Context, entryID int64) ([]Associate, error) {
	details, err := s.repo.AllocationDetails(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return AssociatesFor(entryID, details), nil
}

func (s *Service) assertOpen(ctx context.Context, date time.Time) error {
	if s.guard == nil {
		return nil
	}
	return s.guard.AssertNotLocked(ctx, date)
}

func (s *Service) validate(ctx context.Context, mode Mode, lines []LineInput, allocs []AllocationInput) (Posting, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if line.AccountID > 0 {
			ids = append(ids, line.AccountID)
		}
	}
	known := map[int64]accounts.Account{}
	if len(ids) > 0 && s.accounts != nil {
		found, err := s.accounts.Lookup(ctx, ids)
		if err != nil {
			return Posting{}, fmt.Errorf("vouchers: resolve accounts: %w", err)
		}
		known = found
	}
	return ValidatePosting(mode, lines, allocs, known)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, voucherID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_voucher",
		EntityID: fmt.Sprintf("%d", voucherID),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("voucher audit", slog.String("action", action), slog.Int64("voucher_id", voucherID), slog.Any("error", err))
	}
}

func (s *Service) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveVoucherOp(op, Outcome(err))
}

// Outcome classifies an operation result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrPeriodLocked):
		return "period_locked"
	case errors.Is(err, shared.ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, shared.ErrForbidden):
		return "forbidden"
	case errors.Is(err, shared.ErrNotEditable):
		return "not_editable"
	case errors.Is(err, shared.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, shared.ErrVoucherNotFound), errors.Is(err, shared.ErrEntryNotFound):
		return "not_found"
	default:
		return "error"
	}
}
