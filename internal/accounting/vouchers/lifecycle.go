package vouchers

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
)

const (
	maxNarrationCreate = 2000
	maxNarrationUpdate = 1000
	maxRejectReason    = 500
)

// Actions named in authorization errors.
const (
	ActionUpdate  = "update"
	ActionSubmit  = "submit"
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Allows reports whether caps grant action.
func (c Capabilities) Allows(action string) bool {
	switch action {
	case ActionUpdate:
		return c.Update
	case ActionSubmit:
		return c.Submit
	case ActionApprove:
		return c.Approve
	case ActionReject:
		return c.Reject
	}
	return false
}

func requireCaps(caps Capabilities, actions ...string) error {
	for _, action := range actions {
		if !caps.Allows(action) {
			return &shared.AuthorizationError{Action: action}
		}
	}
	return nil
}

// checkTransactionDate refuses missing and future dates. Comparison is by
// calendar day in the clock's location.
func checkTransactionDate(date, now time.Time) error {
	if date.IsZero() {
		return shared.NewValidationError("transaction_date", shared.RuleRequired, 0, "The transaction date is required.")
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	dy, dm, dd := date.Date()
	if time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).After(today) {
		return shared.NewValidationError("transaction_date", shared.RuleFutureDate, 0, "The transaction date cannot be in the future.")
	}
	return nil
}

func checkNarration(narration string, limit int) error {
	if utf8.RuneCountInString(narration) > limit {
		return shared.NewValidationError("narration", shared.RuleMaxLength, 0, "The narration may not be greater than %d characters.", limit)
	}
	return nil
}

func normalizeReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", shared.NewValidationError("reason", shared.RuleRequired, 0, "A rejection reason is required.")
	}
	if utf8.RuneCountInString(reason) > maxRejectReason {
		return "", shared.NewValidationError("reason", shared.RuleMaxLength, 0, "The rejection reason may not be greater than %d characters.", maxRejectReason)
	}
	return reason, nil
}

// dateOnly drops the clock part so DATE columns round-trip unchanged.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
