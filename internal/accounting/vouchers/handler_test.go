package vouchers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
	"github.com/odyssey-erp/jvledger/internal/platform/httpx"
)

type stubVoucherService struct {
	createFn      func(ctx context.Context, in CreateInput) (Voucher, error)
	updateFn      func(ctx context.Context, in UpdateInput) (Voucher, error)
	approveFn     func(ctx context.Context, in DecisionInput) (Voucher, error)
	rejectFn      func(ctx context.Context, in DecisionInput) (Voucher, error)
	getFn         func(ctx context.Context, id int64) (Voucher, error)
	editDraftFn   func(ctx context.Context, id int64, caps Capabilities) (EditDraft, error)
	allocationsFn func(ctx context.Context, entryID int64) ([]Associate, error)
}

func (s *stubVoucherService) Create(ctx context.Context, in CreateInput) (Voucher, error) {
	return s.createFn(ctx, in)
}

func (s *stubVoucherService) Update(ctx context.Context, in UpdateInput) (Voucher, error) {
	return s.updateFn(ctx, in)
}

func (s *stubVoucherService) Approve(ctx context.Context, in DecisionInput) (Voucher, error) {
	return s.approveFn(ctx, in)
}

func (s *stubVoucherService) Reject(ctx context.Context, in DecisionInput) (Voucher, error) {
	return s.rejectFn(ctx, in)
}

func (s *stubVoucherService) Get(ctx context.Context, id int64) (Voucher, error) {
	return s.getFn(ctx, id)
}

func (s *stubVoucherService) EditDraft(ctx context.Context, id int64, caps Capabilities) (EditDraft, error) {
	return s.editDraftFn(ctx, id, caps)
}

func (s *stubVoucherService) AllocationsForEntry(ctx context.Context, entryID int64) ([]Associate, error) {
	return s.allocationsFn(ctx, entryID)
}

func newTestRouter(svc voucherService) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Route("/api/vouchers", h.MountRoutes)
	return r
}

func sampleVoucher() Voucher {
	return Voucher{
		ID:              12,
		Number:          "JV-2025-000001",
		TransactionDate: time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC),
		Status:          StatusSubmitted,
		Narration:       "June payroll deductions",
		PreparedBy:      7,
		Lines: []Line{
			{ID: 1, VoucherID: 12, AccountID: acctA, Debit: dec("100")},
			{ID: 2, VoucherID: 12, AccountID: acctB, Credit: dec("60")},
			{ID: 3, VoucherID: 12, AccountID: acctC, Credit: dec("40")},
		},
		Allocations: []Allocation{
			{ID: 1, VoucherID: 12, DebitLineID: 1, CreditLineID: 2, Amount: dec("60")},
			{ID: 2, VoucherID: 12, DebitLineID: 1, CreditLineID: 3, Amount: dec("40")},
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestCreateHandlerMapsBodyToInput(t *testing.T) {
	var captured CreateInput
	svc := &stubVoucherService{createFn: func(ctx context.Context, in CreateInput) (Voucher, error) {
		captured = in
		return sampleVoucher(), nil
	}}
	body := `{
		"transaction_date": "2025-06-10",
		"narration": "June payroll deductions",
		"lines": [
			{"account_id": 1, "side": "Debit", "amount": "100"},
			{"account_id": 2, "side": "credit", "amount": 60},
			{"account_id": 3, "side": "credit", "amount": "40.00"}
		],
		"allocations": [
			{"debit_index": 0, "credit_index": 1, "amount": "60"},
			{"debit_index": 0, "credit_index": 2, "amount": "40"}
		]
	}`
	rr := do(t, newTestRouter(svc), http.MethodPost, "/api/vouchers/", body, map[string]string{
		HeaderActorID:        "7",
		HeaderCapabilities:   "submit",
		HeaderIdempotencyKey: "req-1",
	})

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/api/vouchers/12", rr.Header().Get("Location"))
	assert.Equal(t, int64(7), captured.ActorID)
	assert.Equal(t, Capabilities{Submit: true}, captured.Caps)
	assert.Equal(t, "req-1", captured.IdempotencyKey)
	assert.Equal(t, time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC), captured.TransactionDate)
	require.Len(t, captured.Lines, 3)
	assert.Equal(t, SideDebit, captured.Lines[0].Side)
	assert.Equal(t, "60.00", captured.Lines[1].Amount.StringFixed(2))
	require.Len(t, captured.Allocations, 2)
	assert.Equal(t, 2, captured.Allocations[1].CreditIndex)

	var resp VoucherResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "JV-2025-000001", resp.Number)
	assert.Equal(t, "2025-06-10", resp.TransactionDate)
	assert.Equal(t, "100.00", resp.TotalDebit)
	assert.Equal(t, "100.00", resp.TotalCredit)
	assert.Equal(t, SideCredit, resp.Lines[2].Side)
	assert.Equal(t, int64(3), resp.Allocations[1].CreditEntryID)
}

func TestCreateHandlerRequiresActor(t *testing.T) {
	svc := &stubVoucherService{createFn: func(ctx context.Context, in CreateInput) (Voucher, error) {
		t.Fatalf("service must not be called")
		return Voucher{}, nil
	}}
	rr := do(t, newTestRouter(svc), http.MethodPost, "/api/vouchers/", `{"transaction_date":"2025-06-10"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateHandlerRejectsMalformedBodies(t *testing.T) {
	svc := &stubVoucherService{createFn: func(ctx context.Context, in CreateInput) (Voucher, error) {
		t.Fatalf("service must not be called")
		return Voucher{}, nil
	}}
	router := newTestRouter(svc)
	actor := map[string]string{HeaderActorID: "7"}

	rr := do(t, router, http.MethodPost, "/api/vouchers/", `{"transaction_date":`, actor)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/vouchers/", `{"transaction_date":"2025-06-10","unknown":true}`, actor)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/vouchers/", `{"transaction_date":"10/06/2025"}`, actor)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	p := decodeProblem(t, rr)
	assert.Equal(t, "transaction_date", p.Field)
	assert.Equal(t, "datetime", p.Rule)
}

func TestCreateHandlerSurfacesCoreValidation(t *testing.T) {
	svc := &stubVoucherService{createFn: func(ctx context.Context, in CreateInput) (Voucher, error) {
		_, err := ValidatePosting(ModeCreate, in.Lines, in.Allocations, knownAccounts())
		return Voucher{}, err
	}}
	body := `{"transaction_date":"2025-06-10","lines":[{"account_id":1,"side":"debit","amount":"100"},{"account_id":2,"side":"credit","amount":"90"}]}`
	rr := do(t, newTestRouter(svc), http.MethodPost, "/api/vouchers/", body, map[string]string{HeaderActorID: "7", HeaderCapabilities: "submit"})

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	p := decodeProblem(t, rr)
	assert.Equal(t, shared.RuleBalance, p.Rule)
	assert.Equal(t, "100.00", p.Expected)
	assert.Equal(t, "90.00", p.Got)
}

func TestUpdateHandlerPassesCapabilities(t *testing.T) {
	var captured UpdateInput
	svc := &stubVoucherService{updateFn: func(ctx context.Context, in UpdateInput) (Voucher, error) {
		captured = in
		return sampleVoucher(), nil
	}}
	body := `{"narration":"again","lines":[{"account_id":1,"side":"debit","amount":"80"},{"account_id":2,"side":"credit","amount":"80"}],"allocations":[{"debit_index":0,"credit_index":1,"amount":"80"}]}`
	rr := do(t, newTestRouter(svc), http.MethodPut, "/api/vouchers/12", body, map[string]string{
		HeaderActorID:      "7",
		HeaderCapabilities: "update, Submit ,unknown",
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int64(12), captured.VoucherID)
	assert.Equal(t, Capabilities{Update: true, Submit: true}, captured.Caps)
	assert.Equal(t, "again", captured.Narration)
}

func TestDecisionHandlersMapConflicts(t *testing.T) {
	svc := &stubVoucherService{
		approveFn: func(ctx context.Context, in DecisionInput) (Voucher, error) {
			return Voucher{}, &shared.AlreadyProcessedError{VoucherID: in.VoucherID, Status: "approved"}
		},
		rejectFn: func(ctx context.Context, in DecisionInput) (Voucher, error) {
			if !in.Caps.Reject {
				return Voucher{}, &shared.AuthorizationError{Action: ActionReject}
			}
			assert.Equal(t, "wrong account", in.Reason)
			v := sampleVoucher()
			v.Status = StatusRejected
			v.RejectReason = &in.Reason
			return v, nil
		},
	}
	router := newTestRouter(svc)

	rr := do(t, router, http.MethodPost, "/api/vouchers/12/approve", "", map[string]string{HeaderActorID: "9", HeaderCapabilities: "approve"})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "This voucher is already processed.", decodeProblem(t, rr).Detail)

	rr = do(t, router, http.MethodPost, "/api/vouchers/12/reject", `{"reason":"wrong account"}`, map[string]string{HeaderActorID: "9", HeaderCapabilities: "approve"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/vouchers/12/reject", `{"reason":""}`, map[string]string{HeaderActorID: "9", HeaderCapabilities: "reject"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/vouchers/12/reject", `{"reason":"wrong account"}`, map[string]string{HeaderActorID: "9", HeaderCapabilities: "reject"})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp VoucherResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusRejected, resp.Status)
	require.NotNil(t, resp.RejectReason)
	assert.Equal(t, "wrong account", *resp.RejectReason)
}

func TestShowHandlerNotFoundAndBadID(t *testing.T) {
	svc := &stubVoucherService{getFn: func(ctx context.Context, id int64) (Voucher, error) {
		return Voucher{}, shared.ErrVoucherNotFound
	}}
	router := newTestRouter(svc)

	rr := do(t, router, http.MethodGet, "/api/vouchers/99", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/vouchers/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEditHandlerReturnsPostableDraft(t *testing.T) {
	var captured Capabilities
	svc := &stubVoucherService{editDraftFn: func(ctx context.Context, id int64, caps Capabilities) (EditDraft, error) {
		captured = caps
		return BuildEditDraft(sampleVoucher())
	}}
	rr := do(t, newTestRouter(svc), http.MethodGet, "/api/vouchers/12/edit", "", map[string]string{HeaderActorID: "7", HeaderCapabilities: "update"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, Capabilities{Update: true}, captured)

	var draft EditDraftResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &draft))
	assert.Equal(t, "JV-2025-000001", draft.Number)
	require.Len(t, draft.Lines, 3)
	assert.Equal(t, "debit", draft.Lines[0].Side)
	require.Len(t, draft.Allocations, 2)
	assert.Equal(t, 2, draft.Allocations[1].CreditIndex)
}

func TestEntryAllocationsHandler(t *testing.T) {
	svc := &stubVoucherService{allocationsFn: func(ctx context.Context, entryID int64) ([]Associate, error) {
		if entryID != 1 {
			return nil, shared.ErrEntryNotFound
		}
		return []Associate{{
			EntryID:         1,
			OppositeEntryID: 2,
			Side:            SideCredit,
			Amount:          dec("60"),
			Account:         EntryAccount{ID: acctB, Code: "210", Name: "Provident Fund (PF) Payable"},
		}}, nil
	}}
	router := newTestRouter(svc)

	rr := do(t, router, http.MethodGet, "/api/vouchers/entries/1/allocations", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		EntryID     int64               `json:"entry_id"`
		Allocations []AssociateResponse `json:"allocations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Allocations, 1)
	assert.Equal(t, "Provident Fund (PF) Payable (210)", body.Allocations[0].AccountLabel)
	assert.Equal(t, "60.00", body.Allocations[0].Amount)

	rr = do(t, router, http.MethodGet, "/api/vouchers/entries/5/allocations", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestParseCapabilities(t *testing.T) {
	assert.Equal(t, Capabilities{}, ParseCapabilities(""))
	assert.Equal(t, Capabilities{Update: true, Submit: true, Approve: true, Reject: true}, ParseCapabilities("update,submit,approve,reject"))
	assert.Equal(t, Capabilities{Approve: true}, ParseCapabilities(" APPROVE , delete"))
}

func TestCreateAndEditHandlersRefuseMissingCapabilities(t *testing.T) {
	svc := &stubVoucherService{
		createFn: func(ctx context.Context, in CreateInput) (Voucher, error) {
			if err := requireCaps(in.Caps, ActionSubmit); err != nil {
				return Voucher{}, err
			}
			return sampleVoucher(), nil
		},
		editDraftFn: func(ctx context.Context, id int64, caps Capabilities) (EditDraft, error) {
			if err := requireCaps(caps, ActionUpdate); err != nil {
				return EditDraft{}, err
			}
			return BuildEditDraft(sampleVoucher())
		},
	}
	router := newTestRouter(svc)

	rr := do(t, router, http.MethodPost, "/api/vouchers/", `{"transaction_date":"2025-06-10"}`, map[string]string{HeaderActorID: "7"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/vouchers/12/edit", "", map[string]string{HeaderActorID: "7", HeaderCapabilities: "submit"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/vouchers/12/edit", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
