package vouchers

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LineInput is a candidate line as supplied by the caller.
type LineInput struct {
	AccountID int64
	Side      Side
	Amount    decimal.Decimal
}

// AllocationInput refers to candidate lines by 0-based position.
type AllocationInput struct {
	DebitIndex  int
	CreditIndex int
	Amount      decimal.Decimal
}

// CreateInput groups fields required to create a voucher.
type CreateInput struct {
	TransactionDate time.Time
	Narration       string
	Lines           []LineInput
	Allocations     []AllocationInput
	ActorID         int64
	Caps            Capabilities
	IdempotencyKey  string
}

// UpdateInput replaces the lines of an editable voucher and resubmits it.
type UpdateInput struct {
	VoucherID   int64
	Narration   string
	Lines       []LineInput
	Allocations []AllocationInput
	ActorID     int64
	Caps        Capabilities
}

// DecisionInput wraps parameters for approve and reject.
type DecisionInput struct {
	VoucherID int64
	ActorID   int64
	Caps      Capabilities
	Reason    string
}

const dateLayout = "2006-01-02"

// CreateRequest is the JSON body of POST /vouchers. Field-level rules that
// carry row positions are left to ValidatePosting.
type CreateRequest struct {
	TransactionDate string              `json:"transaction_date" validate:"required,datetime=2006-01-02"`
	Narration       string              `json:"narration" validate:"max=2000"`
	Lines           []LineRequest       `json:"lines" validate:"max=500"`
	Allocations     []AllocationRequest `json:"allocations" validate:"max=2000"`
}

// UpdateRequest is the JSON body of PUT /vouchers/{id}.
type UpdateRequest struct {
	Narration   string              `json:"narration" validate:"max=1000"`
	Lines       []LineRequest       `json:"lines" validate:"max=500"`
	Allocations []AllocationRequest `json:"allocations" validate:"max=2000"`
}

type LineRequest struct {
	AccountID int64           `json:"account_id"`
	Side      string          `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
}

type AllocationRequest struct {
	DebitIndex  int             `json:"debit_index"`
	CreditIndex int             `json:"credit_index"`
	Amount      decimal.Decimal `json:"amount"`
}

// RejectRequest carries the mandatory reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

func toLineInputs(in []LineRequest) []LineInput {
	out := make([]LineInput, 0, len(in))
	for _, l := range in {
		out = append(out, LineInput{
			AccountID: l.AccountID,
			Side:      Side(strings.ToLower(strings.TrimSpace(l.Side))),
			Amount:    l.Amount,
		})
	}
	return out
}

func toAllocationInputs(in []AllocationRequest) []AllocationInput {
	out := make([]AllocationInput, 0, len(in))
	for _, a := range in {
		out = append(out, AllocationInput(a))
	}
	return out
}

// VoucherResponse is the JSON view of a voucher.
type VoucherResponse struct {
	ID              int64                `json:"id"`
	Number          string               `json:"jv_number"`
	TransactionDate string               `json:"transaction_date"`
	Status          Status               `json:"status"`
	Narration       string               `json:"narration"`
	PreparedBy      int64                `json:"prepared_by"`
	ApprovedBy      *int64               `json:"approved_by"`
	RejectReason    *string              `json:"reject_reason"`
	TotalDebit      string               `json:"total_debit"`
	TotalCredit     string               `json:"total_credit"`
	Lines           []LineResponse       `json:"lines"`
	Allocations     []AllocationResponse `json:"allocations"`
}

type LineResponse struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	Side      Side   `json:"side"`
	Amount    string `json:"amount"`
}

type AllocationResponse struct {
	ID            int64  `json:"id"`
	DebitEntryID  int64  `json:"debit_entry_id"`
	CreditEntryID int64  `json:"credit_entry_id"`
	Amount        string `json:"amount"`
}

func NewVoucherResponse(v Voucher) VoucherResponse {
	resp := VoucherResponse{
		ID:              v.ID,
		Number:          v.Number,
		TransactionDate: v.TransactionDate.Format(dateLayout),
		Status:          v.Status,
		Narration:       v.Narration,
		PreparedBy:      v.PreparedBy,
		ApprovedBy:      v.ApprovedBy,
		RejectReason:    v.RejectReason,
		Lines:           make([]LineResponse, 0, len(v.Lines)),
		Allocations:     make([]AllocationResponse, 0, len(v.Allocations)),
	}
	var debit, credit decimal.Decimal
	for _, l := range v.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
		resp.Lines = append(resp.Lines, LineResponse{ID: l.ID, AccountID: l.AccountID, Side: l.Side(), Amount: l.Amount().StringFixed(2)})
	}
	for _, a := range v.Allocations {
		resp.Allocations = append(resp.Allocations, AllocationResponse{
			ID:            a.ID,
			DebitEntryID:  a.DebitLineID,
			CreditEntryID: a.CreditLineID,
			Amount:        a.Amount.StringFixed(2),
		})
	}
	resp.TotalDebit = debit.StringFixed(2)
	resp.TotalCredit = credit.StringFixed(2)
	return resp
}

// AssociateResponse is one row of the entry allocation view.
type AssociateResponse struct {
	EntryID         int64  `json:"entry_id"`
	OppositeEntryID int64  `json:"opposite_entry_id"`
	Side            Side   `json:"side"`
	Amount          string `json:"amount"`
	AccountID       int64  `json:"account_id"`
	AccountLabel    string `json:"account"`
}

// EditDraftResponse mirrors the update body so clients can post it back.
type EditDraftResponse struct {
	VoucherID       int64               `json:"voucher_id"`
	Number          string              `json:"jv_number"`
	TransactionDate string              `json:"transaction_date"`
	Status          Status              `json:"status"`
	Narration       string              `json:"narration"`
	Lines           []LineRequest       `json:"lines"`
	Allocations     []AllocationRequest `json:"allocations"`
}

func NewEditDraftResponse(d EditDraft) EditDraftResponse {
	resp := EditDraftResponse{
		VoucherID:       d.VoucherID,
		Number:          d.Number,
		TransactionDate: d.TransactionDate.Format(dateLayout),
		Status:          d.Status,
		Narration:       d.Narration,
		Lines:           make([]LineRequest, 0, len(d.Lines)),
		Allocations:     make([]AllocationRequest, 0, len(d.Allocations)),
	}
	for _, l := range d.Lines {
		resp.Lines = append(resp.Lines, LineRequest{AccountID: l.AccountID, Side: string(l.Side), Amount: l.Amount})
	}
	for _, a := range d.Allocations {
		resp.Allocations = append(resp.Allocations, AllocationRequest(a))
	}
	return resp
}
