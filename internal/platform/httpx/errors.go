// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
)

// Sentinel errors for transport-level failures.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrBadRequest   = errors.New("malformed request")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var verr *shared.ValidationError
	switch {
	case errors.As(err, &verr):
		p := newProblem(http.StatusUnprocessableEntity, "Validation Failed", verr.Message)
		p.Field = verr.Field
		p.Rule = verr.Rule
		p.Row = verr.Row
		p.Line = verr.Line
		if verr.Expected != nil {
			p.Expected = verr.Expected.StringFixed(2)
		}
		if verr.Got != nil {
			p.Got = verr.Got.StringFixed(2)
		}
		JSON(w, p.Status, p)
	case errors.Is(err, shared.ErrPeriodLocked):
		Problem(w, http.StatusUnprocessableEntity, "Period Locked", err.Error())
	case errors.Is(err, shared.ErrAlreadyProcessed):
		Problem(w, http.StatusConflict, "Already Processed", err.Error())
	case errors.Is(err, shared.ErrNotEditable):
		Problem(w, http.StatusConflict, "Not Editable", err.Error())
	case errors.Is(err, shared.ErrDuplicateRequest):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrVoucherNotFound), errors.Is(err, shared.ErrEntryNotFound),
		errors.Is(err, shared.ErrAccountNotFound), errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
