package vouchers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
	"github.com/odyssey-erp/jvledger/internal/platform/httpx"
)

// Headers set by the upstream gateway after authentication.
const (
	HeaderActorID        = "X-Actor-ID"
	HeaderCapabilities   = "X-Capabilities"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type voucherService interface {
	Create(ctx context.Context, input CreateInput) (Voucher, error)
	Update(ctx context.Context, input UpdateInput) (Voucher, error)
	Approve(ctx context.Context, input DecisionInput) (Voucher, error)
	Reject(ctx context.Context, input DecisionInput) (Voucher, error)
	Get(ctx context.Context, id int64) (Voucher, error)
	EditDraft(ctx context.Context, id int64, caps Capabilities) (EditDraft, error)
	AllocationsForEntry(ctx context.Context, entryID int64) ([]Associate, error)
}

type Handler struct {
	service   voucherService
	logger    *slog.Logger
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service voucherService) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Handler{service: service, logger: logger, validator: v}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, caps, err := actorFromRequest(r)
	if err != nil {
		h.fail(w, "create voucher", err)
		return
	}
	var req CreateRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "create voucher", err)
		return
	}
	date, _ := time.Parse(dateLayout, req.TransactionDate)
	voucher, err := h.service.Create(r.Context(), CreateInput{
		TransactionDate: date,
		Narration:       req.Narration,
		Lines:           toLineInputs(req.Lines),
		Allocations:     toAllocationInputs(req.Allocations),
		ActorID:         actorID,
		Caps:            caps,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
	})
	if err != nil {
		h.fail(w, "create voucher", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/vouchers/%d", voucher.ID))
	httpx.JSON(w, http.StatusCreated, NewVoucherResponse(voucher))
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "show voucher", err)
		return
	}
	voucher, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "show voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewVoucherResponse(voucher))
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	_, caps, err := actorFromRequest(r)
	if err != nil {
		h.fail(w, "edit voucher", err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "edit voucher", err)
		return
	}
	draft, err := h.service.EditDraft(r.Context(), id, caps)
	if err != nil {
		h.fail(w, "edit voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewEditDraftResponse(draft))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actorID, caps, err := actorFromRequest(r)
	if err != nil {
		h.fail(w, "update voucher", err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "update voucher", err)
		return
	}
	var req UpdateRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "update voucher", err)
		return
	}
	voucher, err := h.service.Update(r.Context(), UpdateInput{
		VoucherID:   id,
		Narration:   req.Narration,
		Lines:       toLineInputs(req.Lines),
		Allocations: toAllocationInputs(req.Allocations),
		ActorID:     actorID,
		Caps:        caps,
	})
	if err != nil {
		h.fail(w, "update voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewVoucherResponse(voucher))
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	actorID, caps, err := actorFromRequest(r)
	if err != nil {
		h.fail(w, "approve voucher", err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "approve voucher", err)
		return
	}
	voucher, err := h.service.Approve(r.Context(), DecisionInput{VoucherID: id, ActorID: actorID, Caps: caps})
	if err != nil {
		h.fail(w, "approve voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewVoucherResponse(voucher))
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, caps, err := actorFromRequest(r)
	if err != nil {
		h.fail(w, "reject voucher", err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "reject voucher", err)
		return
	}
	var req RejectRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "reject voucher", err)
		return
	}
	voucher, err := h.service.Reject(r.Context(), DecisionInput{VoucherID: id, ActorID: actorID, Caps: caps, Reason: req.Reason})
	if err != nil {
		h.fail(w, "reject voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewVoucherResponse(voucher))
}

func (h *Handler) EntryAllocations(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathID(r, "entryID")
	if err != nil {
		h.fail(w, "entry allocations", err)
		return
	}
	associates, err := h.service.AllocationsForEntry(r.Context(), entryID)
	if err != nil {
		h.fail(w, "entry allocations", err)
		return
	}
	out := make([]AssociateResponse, 0, len(associates))
	for _, a := range associates {
		out = append(out, AssociateResponse{
			EntryID:         a.EntryID,
			OppositeEntryID: a.OppositeEntryID,
			Side:            a.Side,
			Amount:          a.Amount.StringFixed(2),
			AccountID:       a.Account.ID,
			AccountLabel:    a.AccountLabel(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entry_id": entryID, "allocations": out})
}

// decode reads the body and applies the struct tags. Tag failures become
// validation errors so they share the problem format of the core checks.
func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return shared.NewValidationError(fe.Field(), fe.Tag(), 0, "The %s field is invalid (%s).", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if Outcome(err) == "error" && !errors.Is(err, httpx.ErrBadRequest) && !errors.Is(err, httpx.ErrUnauthorized) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", httpx.ErrBadRequest, key)
	}
	return id, nil
}

// actorFromRequest reads the gateway headers. Unknown capability names are
// ignored.
func actorFromRequest(r *http.Request) (int64, Capabilities, error) {
	actorID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderActorID)), 10, 64)
	if err != nil || actorID <= 0 {
		return 0, Capabilities{}, fmt.Errorf("%w: missing %s", httpx.ErrUnauthorized, HeaderActorID)
	}
	return actorID, ParseCapabilities(r.Header.Get(HeaderCapabilities)), nil
}

// ParseCapabilities reads a comma separated capability list.
func ParseCapabilities(raw string) Capabilities {
	var caps Capabilities
	for _, part := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case ActionUpdate:
			caps.Update = true
		case ActionSubmit:
			caps.Submit = true
		case ActionApprove:
			caps.Approve = true
		case ActionReject:
			caps.Reject = true
		}
	}
	return caps
}
